// Package normalize maps provider wire events to the domain events the
// layout engines work on, and back.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"clubcal/internal/model"
	"clubcal/internal/recurrence"
)

// KSUOffset is how long after the start a new ride's KSU time defaults to.
const KSUOffset = 15 * time.Minute

var ErrMalformedEvent = errors.New("malformed event")

// MalformedEventError reports a wire event that cannot be represented,
// e.g. one with neither a start nor an end.
type MalformedEventError struct {
	ID     string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.ID == "" {
		return "malformed event: " + e.Reason
	}
	return fmt.Sprintf("malformed event %s: %s", e.ID, e.Reason)
}

func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

// Normalizer converts events into one display location.
type Normalizer struct {
	Location *time.Location
	Palette  Palette
}

func New(loc *time.Location, palette Palette) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if palette == nil {
		palette = DefaultPalette()
	}
	return &Normalizer{Location: loc, Palette: palette}
}

// FromWire builds a DomainEvent. It performs no I/O and evaluates IsPast
// against the supplied now only.
func (n *Normalizer) FromWire(w model.WireEvent, now time.Time) (model.DomainEvent, error) {
	if w.Start.IsZero() && w.End.IsZero() {
		return model.DomainEvent{}, &MalformedEventError{ID: w.ID, Reason: "missing start and end"}
	}

	d := model.DomainEvent{
		ID:               w.ID,
		Title:            sanitize(w.Summary),
		Description:      strings.TrimSpace(w.Description),
		Location:         strings.TrimSpace(w.Location),
		Type:             model.ParseEventType(w.SharedProp(model.PropEventType)),
		IsAllDay:         w.IsAllDay(),
		Recurrence:       cloneStrings(w.Recurrence),
		RecurringEventID: w.RecurringEventID,
	}

	var err error
	if d.IsAllDay {
		d.Start, d.End, err = n.allDayBounds(w.Start, w.End)
	} else {
		d.Start, d.End, err = n.timedBounds(w.Start, w.End)
	}
	if err != nil {
		return model.DomainEvent{}, &MalformedEventError{ID: w.ID, Reason: err.Error()}
	}

	if !w.OriginalStartTime.IsZero() {
		if orig, err := n.parseBoundary(w.OriginalStartTime); err == nil {
			d.OriginalStart = &orig
		}
	}

	d.Muster = n.parseInstant(w.SharedProp(model.PropMuster))
	d.KSU = n.parseInstant(w.SharedProp(model.PropKSU))
	d.Miles = parseMiles(w.SharedProp(model.PropMiles))

	n.derive(&d, now)
	return d, nil
}

// FromWireAll normalizes a batch, skipping and collecting malformed events.
func (n *Normalizer) FromWireAll(ws []model.WireEvent, now time.Time) ([]model.DomainEvent, []error) {
	out := make([]model.DomainEvent, 0, len(ws))
	var errs []error
	for _, w := range ws {
		d, err := n.FromWire(w, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

// NewEvent synthesizes a locally created, not yet persisted event. Rides
// get muster at the start and KSU fifteen minutes later.
func (n *Normalizer) NewEvent(kind model.EventType, title string, start, end time.Time, allDay bool, now time.Time) model.DomainEvent {
	d := model.DomainEvent{
		ID:       "new-" + uuid.NewString(),
		Title:    sanitize(title),
		Type:     model.ParseEventType(string(kind)),
		IsAllDay: allDay,
		IsNew:    true,
	}

	start = start.In(n.Location)
	end = end.In(n.Location)
	if allDay {
		d.Start = model.StartOfDay(start)
		d.End = model.StartOfDay(end)
	} else {
		d.Start = start
		d.End = end
	}
	if d.End.Before(d.Start) {
		d.End = d.Start
	}

	if d.Type == model.TypeRide {
		muster := d.Start
		ksu := d.Start.Add(KSUOffset)
		d.Muster = &muster
		d.KSU = &ksu
	}

	n.derive(&d, now)
	return d
}

// Rederive recomputes the span-dependent fields after a time shift. IsPast
// is left as it was.
func Rederive(d model.DomainEvent) model.DomainEvent {
	past := d.IsPast
	deriveSpan(&d)
	d.IsPast = past
	return d
}

func (n *Normalizer) derive(d *model.DomainEvent, now time.Time) {
	deriveSpan(d)
	d.IsPast = !d.ExclusiveEnd().After(now)
	d.Color = n.Palette.Color(d.Type)
	d.TextColor = ContrastText(d.Color)
}

func deriveSpan(d *model.DomainEvent) {
	d.DayTotal = model.DaysBetween(d.Start, d.LastDay()) + 1
	if d.DayTotal < 1 {
		d.DayTotal = 1
	}
	d.IsMultiDay = d.DayTotal > 1
}

// allDayBounds converts the provider's exclusive end date into the
// inclusive last day. This is the only place the correction is applied.
func (n *Normalizer) allDayBounds(startB, endB *model.EventDateTime) (time.Time, time.Time, error) {
	var start, lastDay time.Time
	if !startB.IsZero() {
		s, err := n.boundaryDate(startB)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = s
	}
	if !endB.IsZero() {
		e, err := n.boundaryDate(endB)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		lastDay = e.AddDate(0, 0, -1)
	}

	switch {
	case startB.IsZero():
		start = lastDay
	case endB.IsZero():
		lastDay = start
	}
	if lastDay.Before(start) {
		lastDay = start
	}
	return start, lastDay, nil
}

func (n *Normalizer) timedBounds(startB, endB *model.EventDateTime) (time.Time, time.Time, error) {
	var start, end time.Time
	if !startB.IsZero() {
		s, err := n.parseBoundary(startB)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = s
	}
	if !endB.IsZero() {
		e, err := n.parseBoundary(endB)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = e
	}

	switch {
	case startB.IsZero():
		start = end
	case endB.IsZero():
		end = start
	}
	if end.Before(start) {
		end = start
	}
	return start, end, nil
}

// boundaryDate returns midnight of the boundary's calendar day.
func (n *Normalizer) boundaryDate(b *model.EventDateTime) (time.Time, error) {
	t, err := n.parseBoundary(b)
	if err != nil {
		return time.Time{}, err
	}
	return model.StartOfDay(t), nil
}

func (n *Normalizer) parseBoundary(b *model.EventDateTime) (time.Time, error) {
	t, err := b.Resolve(n.Location)
	if err != nil {
		return time.Time{}, err
	}
	if b.Date != "" {
		// Dates are calendar days; keep the day, drop the zone.
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, n.Location), nil
	}
	return t.In(n.Location), nil
}

func (n *Normalizer) parseInstant(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	t = t.In(n.Location)
	return &t
}

// parseMiles reads the staged mileage string, e.g. "42", "42.5" or "42 mi".
func parseMiles(value string) *float64 {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}
	m, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "mi"), 64)
	if err != nil || m < 0 {
		return nil
	}
	return &m
}

// RecurrenceText describes the event's authoritative rule, anchored at the
// original start for an expanded occurrence.
func RecurrenceText(d model.DomainEvent) string {
	if len(d.Recurrence) == 0 {
		return ""
	}
	r, err := recurrence.First(d.Recurrence)
	if err != nil {
		return ""
	}
	return recurrence.DescribeRule(d.RecurrenceAnchor(), r)
}

func sanitize(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
