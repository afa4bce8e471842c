package model

import (
	"fmt"
	"strings"
	"time"
)

// Shared extended-property keys used by the club calendar.
const (
	PropEventType = "eventType"
	PropMuster    = "musterTime"
	PropKSU       = "ksuTime"
	PropMiles     = "miles"
)

// DateLayout is the wire format of all-day boundaries.
const DateLayout = "2006-01-02"

// EventDateTime is one boundary of a WireEvent. Exactly one of Date
// (all-day, YYYY-MM-DD) or DateTime (RFC3339) is set on a valid boundary.
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsZero reports whether neither a date nor a date-time is present.
func (d *EventDateTime) IsZero() bool {
	return d == nil || (d.Date == "" && d.DateTime == "")
}

// Resolve parses the boundary. A date is midnight in its TimeZone (or loc);
// a date-time is returned in its TimeZone when that loads, otherwise in loc.
// Date-times without an offset are read as wall time in that same zone.
func (d *EventDateTime) Resolve(loc *time.Location) (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, fmt.Errorf("empty boundary")
	}
	if loc == nil {
		loc = time.Local
	}
	if d.TimeZone != "" {
		if tz, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = tz
		}
	}

	if d.Date != "" {
		t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(d.Date), loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", d.Date, err)
		}
		return t, nil
	}

	value := strings.TrimSpace(d.DateTime)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date-time %q: %w", d.DateTime, err)
	}
	return t, nil
}

// DateBoundary is the all-day boundary for t's calendar day.
func DateBoundary(t time.Time) *EventDateTime {
	return &EventDateTime{Date: t.Format(DateLayout)}
}

// DateTimeBoundary is a timed boundary in t's location. The zone name is
// omitted for time.Local, which has no portable name.
func DateTimeBoundary(t time.Time) *EventDateTime {
	out := &EventDateTime{DateTime: t.Format(time.RFC3339Nano)}
	if name := t.Location().String(); name != "Local" {
		out.TimeZone = name
	}
	return out
}

type ExtendedProperties struct {
	Shared  map[string]string `json:"shared,omitempty"`
	Private map[string]string `json:"private,omitempty"`
}

type Person struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ProviderMetadata is carried through untouched when an existing event is
// written back to the provider.
type ProviderMetadata struct {
	Etag      string    `json:"etag,omitempty"`
	ICalUID   string    `json:"iCalUID,omitempty"`
	HTMLLink  string    `json:"htmlLink,omitempty"`
	Status    string    `json:"status,omitempty"`
	Sequence  int       `json:"sequence,omitempty"`
	Organizer *Person   `json:"organizer,omitempty"`
	Created   time.Time `json:"created,omitempty"`
	Updated   time.Time `json:"updated,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// WireEvent is the representation owned by the remote calendar provider.
type WireEvent struct {
	ID          string `json:"id"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start *EventDateTime `json:"start,omitempty"`
	End   *EventDateTime `json:"end,omitempty"`

	// Recurrence holds RRULE lines of a series master.
	Recurrence []string `json:"recurrence,omitempty"`
	// RecurringEventID and OriginalStartTime are set on a single instance
	// of a recurring series.
	RecurringEventID  string         `json:"recurringEventId,omitempty"`
	OriginalStartTime *EventDateTime `json:"originalStartTime,omitempty"`

	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
	Provider           *ProviderMetadata   `json:"provider,omitempty"`
}

// SharedProp returns a shared extended property, or "" when absent.
func (w WireEvent) SharedProp(key string) string {
	if w.ExtendedProperties == nil {
		return ""
	}
	return w.ExtendedProperties.Shared[key]
}

// IsAllDay reports whether the start boundary is date-only.
func (w WireEvent) IsAllDay() bool {
	if !w.Start.IsZero() {
		return w.Start.Date != ""
	}
	return !w.End.IsZero() && w.End.Date != ""
}

type EventType string

const (
	TypeRide    EventType = "ride"
	TypeMeeting EventType = "meeting"
	TypeEvent   EventType = "event"
	TypeOther   EventType = "other"
)

// ParseEventType maps free text to a known type, defaulting to TypeOther.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case TypeRide, TypeMeeting, TypeEvent:
		return EventType(s)
	default:
		return TypeOther
	}
}

// DomainEvent is the working representation consumed by the layout
// engines. It is a value: every mutation produces a new copy.
//
// For all-day events End is midnight of the last covered day (inclusive);
// for timed events End is the exclusive end instant.
type DomainEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Type        EventType `json:"type"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	IsAllDay   bool `json:"isAllDay"`
	IsMultiDay bool `json:"isMultiDay"`
	DayTotal   int  `json:"dayTotal"`
	// IsPast is evaluated once at normalization time.
	IsPast bool `json:"isPast"`

	Color     string `json:"color"`
	TextColor string `json:"textColor"`

	Recurrence       []string   `json:"recurrence,omitempty"`
	RecurringEventID string     `json:"recurringEventId,omitempty"`
	OriginalStart    *time.Time `json:"originalStart,omitempty"`

	Muster *time.Time `json:"muster,omitempty"`
	KSU    *time.Time `json:"ksu,omitempty"`
	Miles  *float64   `json:"miles,omitempty"`

	IsNew bool `json:"isNew,omitempty"`
}

// ExclusiveEnd returns the instant right after the event, normalizing the
// inclusive all-day end.
func (e DomainEvent) ExclusiveEnd() time.Time {
	if e.IsAllDay {
		return e.End.AddDate(0, 0, 1)
	}
	return e.End
}

// IsRecurring reports whether the event is a series master or one of its
// expanded instances.
func (e DomainEvent) IsRecurring() bool {
	return len(e.Recurrence) > 0 || e.RecurringEventID != ""
}

// RecurrenceAnchor is the date a recurrence description is anchored to.
func (e DomainEvent) RecurrenceAnchor() time.Time {
	if e.OriginalStart != nil {
		return *e.OriginalStart
	}
	return e.Start
}

// SpansSameDays reports whether both events cover the same calendar days.
func (e DomainEvent) SpansSameDays(other DomainEvent) bool {
	return StartOfDay(e.Start).Equal(StartOfDay(other.Start)) &&
		StartOfDay(e.LastDay()).Equal(StartOfDay(other.LastDay())) &&
		e.IsAllDay == other.IsAllDay
}

// LastDay returns midnight of the last calendar day the event touches.
// A timed event ending exactly at midnight does not touch that day.
func (e DomainEvent) LastDay() time.Time {
	if e.IsAllDay {
		return StartOfDay(e.End)
	}
	end := e.End
	if end.After(e.Start) && end.Equal(StartOfDay(end)) {
		end = end.Add(-time.Nanosecond)
	}
	if end.Before(e.Start) {
		end = e.Start
	}
	return StartOfDay(end)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from a to b in a's location, ignoring
// DST-shortened or -lengthened days.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
