// Package layout computes render geometry for calendar events: columns for
// timed events within one day, and stable rows for all-day and multi-day
// bars across a range of days.
package layout

import (
	"sort"
	"strings"
	"time"

	"clubcal/internal/model"
)

const (
	minutesPerDay = 24 * 60

	DefaultMinDuration = 15 * time.Minute
	DefaultDayMargin   = 0.02
)

// Slot is the geometry of one event. Timed events use Top/Height as
// fractions of the day; span events use Row/Day/DaySpan. Left and Width
// are fractions of the containing column (day view) or of the range (span
// view).
type Slot struct {
	EventID string  `json:"eventId"`
	Top     float64 `json:"top,omitempty"`
	Height  float64 `json:"height,omitempty"`
	Row     int     `json:"row"`
	Day     int     `json:"day,omitempty"`
	DaySpan int     `json:"daySpan,omitempty"`
	Left    float64 `json:"left"`
	Width   float64 `json:"width"`
	Z       int     `json:"z"`
}

type DayOptions struct {
	// Margin is subtracted from each slot's width, as a fraction of the
	// column. It never takes more than half a slot.
	Margin float64
	// MinDuration is the shortest interval an event occupies, both for
	// collision detection and height. Zero means DefaultMinDuration.
	MinDuration time.Duration
}

func DefaultDayOptions() DayOptions {
	return DayOptions{Margin: DefaultDayMargin, MinDuration: DefaultMinDuration}
}

type dayItem struct {
	ev    model.DomainEvent
	start time.Time
	end   time.Time
	col   int
	span  int
}

func (a *dayItem) overlaps(b *dayItem) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// Day lays out the timed, single-day events that start on day. All-day and
// multi-day events are ignored; they belong to Span. Slots come back in
// layout order.
func Day(day time.Time, events []model.DomainEvent, opts DayOptions) []Slot {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	}

	dayStart := model.StartOfDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	items := make([]*dayItem, 0, len(events))
	for _, ev := range events {
		if ev.IsAllDay || ev.IsMultiDay {
			continue
		}
		start := ev.Start.In(dayStart.Location())
		if start.Before(dayStart) || !start.Before(dayEnd) {
			continue
		}
		end := ev.End.In(dayStart.Location())
		if floor := start.Add(opts.MinDuration); end.Before(floor) {
			end = floor
		}
		items = append(items, &dayItem{ev: ev, start: start, end: end})
	}
	if len(items) == 0 {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if !a.end.Equal(b.end) {
			return a.end.Before(b.end)
		}
		if c := strings.Compare(a.ev.Title, b.ev.Title); c != 0 {
			return c < 0
		}
		return a.ev.ID < b.ev.ID
	})

	slots := make([]Slot, 0, len(items))
	for _, cluster := range clusters(items) {
		cols := assignColumns(cluster)
		for _, it := range cluster {
			slots = append(slots, daySlot(it, cols, dayStart, dayEnd, opts))
		}
	}
	return slots
}

// Days runs Day for every day of a range. The result is aligned with days.
func Days(days []time.Time, events []model.DomainEvent, opts DayOptions) [][]Slot {
	out := make([][]Slot, len(days))
	for i, day := range days {
		out[i] = Day(day, events, opts)
	}
	return out
}

// clusters splits sorted items into maximal runs where each item starts
// before the running maximum end of the run.
func clusters(items []*dayItem) [][]*dayItem {
	var out [][]*dayItem
	var cur []*dayItem
	var maxEnd time.Time
	for _, it := range items {
		if len(cur) > 0 && !it.start.Before(maxEnd) {
			out = append(out, cur)
			cur = nil
		}
		if len(cur) == 0 || it.end.After(maxEnd) {
			maxEnd = it.end
		}
		cur = append(cur, it)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// assignColumns colors a cluster first-fit and widens every item over the
// columns to its right that hold nothing overlapping it. It returns the
// cluster's column count.
func assignColumns(cluster []*dayItem) int {
	var columns [][]*dayItem
	for _, it := range cluster {
		placed := false
		for c := range columns {
			if !anyOverlap(columns[c], it) {
				it.col = c
				columns[c] = append(columns[c], it)
				placed = true
				break
			}
		}
		if !placed {
			it.col = len(columns)
			columns = append(columns, []*dayItem{it})
		}
	}

	for _, it := range cluster {
		it.span = 1
		for c := it.col + 1; c < len(columns); c++ {
			if anyOverlap(columns[c], it) {
				break
			}
			it.span++
		}
	}
	return len(columns)
}

func anyOverlap(col []*dayItem, it *dayItem) bool {
	for _, other := range col {
		if other != it && other.overlaps(it) {
			return true
		}
	}
	return false
}

func daySlot(it *dayItem, cols int, dayStart, dayEnd time.Time, opts DayOptions) Slot {
	colWidth := 1 / float64(cols)
	width := colWidth * float64(it.span)
	margin := opts.Margin
	if margin > width/2 {
		margin = width / 2
	}

	top := minuteOfDay(it.start, dayStart, dayEnd)
	bottom := minuteOfDay(it.end, dayStart, dayEnd)
	if bottom < top {
		bottom = top
	}

	return Slot{
		EventID: it.ev.ID,
		Top:     top / minutesPerDay,
		Height:  (bottom - top) / minutesPerDay,
		Row:     it.col,
		Left:    float64(it.col) * colWidth,
		Width:   width - margin,
		Z:       it.col,
	}
}

// minuteOfDay is the wall-clock minute of t, clipped to the day.
func minuteOfDay(t, dayStart, dayEnd time.Time) float64 {
	if !t.After(dayStart) {
		return 0
	}
	if !t.Before(dayEnd) {
		return minutesPerDay
	}
	h, m, s := t.Clock()
	return float64(h*60+m) + float64(s)/60
}
