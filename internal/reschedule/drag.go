// Package reschedule turns drag gestures into snapped, optimistically
// applied event moves and commits them through a provider.
package reschedule

import (
	"math"
	"time"

	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
)

// State of one drag gesture: Idle → Dragging → {Committing → Idle | Cancelled → Idle}.
type State int

const (
	Idle State = iota
	Dragging
	Committing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Mode string

const (
	ModeDay   Mode = "day"
	ModeWeek  Mode = "week"
	ModeMonth Mode = "month"
)

// View is the geometry the gesture happens in. ColumnWidth is the width of
// one day column and RowHeight the height of one week row (month mode), in
// pixels.
type View struct {
	Mode        Mode      `json:"mode"`
	RangeStart  time.Time `json:"rangeStart"`
	ColumnWidth float64   `json:"columnWidth"`
	RowHeight   float64   `json:"rowHeight"`
}

// DragOperation is the value a gesture works on. Source is the event as it
// was when the drag began; Candidate is the event as currently dragged.
type DragOperation struct {
	Source    model.DomainEvent `json:"source"`
	Candidate model.DomainEvent `json:"candidate"`
	Committed bool              `json:"committed"`
	State     State             `json:"state"`
	View      View              `json:"view"`
	// DayDelta and MinuteDelta are the snapped displacement of Candidate.
	DayDelta    int            `json:"dayDelta"`
	MinuteDelta int            `json:"minuteDelta"`
	Scope       provider.Scope `json:"scope,omitempty"`
}

// Moved reports whether the candidate differs from the source.
func (op DragOperation) Moved() bool {
	return op.DayDelta != 0 || op.MinuteDelta != 0
}

// Snap rounds minutes to the nearest multiple of step, halves rounding up.
func Snap(minutes float64, step int) int {
	if step <= 0 {
		return int(math.Floor(minutes + 0.5))
	}
	s := float64(step)
	return int(math.Floor(minutes/s+0.5)) * step
}

// deltas converts a pointer displacement into a snapped day and minute
// delta for the view. dayIndex is where the source starts within the view.
func deltas(view View, dx, dy float64, allDay bool, dayIndex int, opts Options) (days, minutes int) {
	columns := func(px, width float64) int {
		if width <= 0 {
			return 0
		}
		return int(math.Floor(px/width + 0.5))
	}

	switch view.Mode {
	case ModeMonth:
		days = columns(dx, view.ColumnWidth) + 7*columns(dy, view.RowHeight)
	case ModeWeek:
		days = columns(dx, view.ColumnWidth)
		if !allDay {
			minutes = Snap(dy/opts.PixelsPerMinute, opts.SnapMinutes)
		}
	default:
		if !allDay {
			minutes = Snap(dy/opts.PixelsPerMinute, opts.SnapMinutes)
		}
	}

	// Never before the first visible day. An event already starting before
	// the range may not move further back.
	floor := -dayIndex
	if floor > 0 {
		floor = 0
	}
	if days < floor {
		days = floor
	}
	return days, minutes
}

// shift moves ev by days and minutes, carrying muster and KSU along.
func shift(ev model.DomainEvent, days, minutes int) model.DomainEvent {
	move := func(t time.Time) time.Time {
		return t.AddDate(0, 0, days).Add(time.Duration(minutes) * time.Minute)
	}
	out := ev
	out.Start = move(ev.Start)
	out.End = move(ev.End)
	if ev.Muster != nil {
		m := move(*ev.Muster)
		out.Muster = &m
	}
	if ev.KSU != nil {
		k := move(*ev.KSU)
		out.KSU = &k
	}
	return normalize.Rederive(out)
}
