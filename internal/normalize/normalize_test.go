package normalize

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"clubcal/internal/model"
)

var testNow = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(time.UTC, nil)
}

func TestFromWire_AllDayExclusiveEndCorrection(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	w := model.WireEvent{
		ID:      "evt-1",
		Summary: "Rally weekend",
		Start:   &model.EventDateTime{Date: "2024-06-01"},
		End:     &model.EventDateTime{Date: "2024-06-03"},
	}

	d, err := n.FromWire(w, testNow)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if !d.IsAllDay || d.DayTotal != 2 || !d.IsMultiDay {
		t.Fatalf("unexpected span: allDay=%v total=%d multi=%v", d.IsAllDay, d.DayTotal, d.IsMultiDay)
	}
	if !d.End.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("inclusive end = %v", d.End)
	}

	back := n.ToWire(d, &w)
	if back.Start.Date != "2024-06-01" || back.End.Date != "2024-06-03" {
		t.Fatalf("to wire = %+v / %+v", back.Start, back.End)
	}
	if back.Start.DateTime != "" || back.End.DateTime != "" || back.Start.TimeZone != "" {
		t.Fatalf("all-day boundaries must stay date-only: %+v %+v", back.Start, back.End)
	}
}

func TestFromWire_SingleAllDay(t *testing.T) {
	t.Parallel()

	d, err := newTestNormalizer().FromWire(model.WireEvent{
		ID:    "evt-2",
		Start: &model.EventDateTime{Date: "2024-06-05"},
		End:   &model.EventDateTime{Date: "2024-06-06"},
	}, testNow)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if d.DayTotal != 1 || d.IsMultiDay {
		t.Fatalf("expected single day, got total=%d multi=%v", d.DayTotal, d.IsMultiDay)
	}
	if d.IsPast {
		t.Fatalf("future event marked past")
	}
}

func TestFromWire_TimedMidnightEndIsNotMultiDay(t *testing.T) {
	t.Parallel()

	d, err := newTestNormalizer().FromWire(model.WireEvent{
		ID:    "evt-3",
		Start: &model.EventDateTime{DateTime: "2024-06-01T22:00:00Z"},
		End:   &model.EventDateTime{DateTime: "2024-06-02T00:00:00Z"},
	}, testNow)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if d.IsMultiDay || d.DayTotal != 1 {
		t.Fatalf("expected one-day event, got total=%d", d.DayTotal)
	}
	if !d.IsPast {
		t.Fatalf("expected past event")
	}
}

func TestFromWire_TimedMultiDayInLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CDT", -5*3600)
	n := New(loc, nil)
	d, err := n.FromWire(model.WireEvent{
		ID:    "evt-4",
		Start: &model.EventDateTime{DateTime: "2024-06-07T20:00:00Z"},
		End:   &model.EventDateTime{DateTime: "2024-06-09T18:00:00Z"},
	}, testNow)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if d.Start.Location() != loc {
		t.Fatalf("start not converted to display location")
	}
	if d.DayTotal != 3 || !d.IsMultiDay {
		t.Fatalf("expected 3-day event, got %d", d.DayTotal)
	}
}

func TestFromWire_MissingBoundaries(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	_, err := n.FromWire(model.WireEvent{ID: "evt-5", Summary: "nothing"}, testNow)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("err = %v, want ErrMalformedEvent", err)
	}
	var malformed *MalformedEventError
	if !errors.As(err, &malformed) || malformed.ID != "evt-5" {
		t.Fatalf("expected MalformedEventError for evt-5, got %v", err)
	}

	d, err := n.FromWire(model.WireEvent{
		ID:  "evt-6",
		End: &model.EventDateTime{DateTime: "2024-06-10T10:00:00Z"},
	}, testNow)
	if err != nil {
		t.Fatalf("end-only event should normalize: %v", err)
	}
	if !d.Start.Equal(d.End) {
		t.Fatalf("end-only event should collapse to an instant")
	}
	if d.Description != "" || d.Location != "" || d.Recurrence != nil {
		t.Fatalf("optional fields should stay empty: %+v", d)
	}
}

func TestFromWire_ExtendedProperties(t *testing.T) {
	t.Parallel()

	w := model.WireEvent{
		ID:      "ride-1",
		Summary: "  Sunday   breakfast ride ",
		Start:   &model.EventDateTime{DateTime: "2024-06-09T09:00:00Z"},
		End:     &model.EventDateTime{DateTime: "2024-06-09T13:00:00Z"},
		ExtendedProperties: &model.ExtendedProperties{Shared: map[string]string{
			model.PropEventType: "ride",
			model.PropMuster:    "2024-06-09T08:30:00Z",
			model.PropMiles:     "142.5 mi",
		}},
	}
	d, err := newTestNormalizer().FromWire(w, testNow)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if d.Title != "Sunday breakfast ride" {
		t.Fatalf("title = %q", d.Title)
	}
	if d.Type != model.TypeRide || d.Color != DefaultPalette()[model.TypeRide] || d.TextColor != "#ffffff" {
		t.Fatalf("unexpected type/color: %s %s %s", d.Type, d.Color, d.TextColor)
	}
	if d.Muster == nil || !d.Muster.Equal(time.Date(2024, 6, 9, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("muster = %v", d.Muster)
	}
	if d.KSU != nil {
		t.Fatalf("existing ride without KSU must stay unset, got %v", d.KSU)
	}
	if d.Miles == nil || *d.Miles != 142.5 {
		t.Fatalf("miles = %v", d.Miles)
	}
}

func TestFromWire_Idempotent(t *testing.T) {
	t.Parallel()

	n := New(time.FixedZone("EST", -5*3600), nil)
	wires := []model.WireEvent{
		{
			ID: "a", Summary: "Chapter meeting", Location: "Clubhouse",
			Start: &model.EventDateTime{DateTime: "2024-06-04T19:00:00-04:00", TimeZone: "America/New_York"},
			End:   &model.EventDateTime{DateTime: "2024-06-04T21:00:00-04:00"},
			ExtendedProperties: &model.ExtendedProperties{Shared: map[string]string{
				model.PropEventType: "meeting",
			}},
			Provider: &model.ProviderMetadata{Etag: `"7"`, Organizer: &model.Person{Email: "sec@club.example"}},
		},
		{
			ID: "b", Summary: "Rally", Description: "Bring tents",
			Start: &model.EventDateTime{Date: "2024-06-14"},
			End:   &model.EventDateTime{Date: "2024-06-17"},
		},
		{
			ID: "c_20240610T230000Z", Summary: "Weekly ride",
			Start:             &model.EventDateTime{DateTime: "2024-06-10T23:00:00Z"},
			End:               &model.EventDateTime{DateTime: "2024-06-11T01:30:00.5Z"},
			RecurringEventID:  "c",
			OriginalStartTime: &model.EventDateTime{DateTime: "2024-06-10T23:00:00Z"},
			Recurrence:        []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"},
			ExtendedProperties: &model.ExtendedProperties{Shared: map[string]string{
				model.PropEventType: "ride",
				model.PropMuster:    "2024-06-10T22:30:00Z",
				model.PropKSU:       "2024-06-10T22:45:00Z",
				model.PropMiles:     "60",
				"custom":            "kept",
			}},
		},
	}

	for _, w := range wires {
		first, err := n.FromWire(w, testNow)
		if err != nil {
			t.Fatalf("first pass %s: %v", w.ID, err)
		}
		back := n.ToWire(first, &w)
		second, err := n.FromWire(back, testNow)
		if err != nil {
			t.Fatalf("second pass %s: %v", w.ID, err)
		}
		assertSameDomain(t, first, second)

		if w.Provider != nil && !reflect.DeepEqual(back.Provider, w.Provider) {
			t.Fatalf("provider metadata not carried over: %+v", back.Provider)
		}
	}
}

func TestToWire_NewEventHasNoID(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	start := time.Date(2024, 6, 20, 18, 0, 0, 0, time.UTC)
	d := n.NewEvent(model.TypeRide, "Evening ride", start, start.Add(2*time.Hour), false, testNow)
	if !d.IsNew || !strings.HasPrefix(d.ID, "new-") {
		t.Fatalf("expected local id, got %q", d.ID)
	}
	if d.Muster == nil || !d.Muster.Equal(start) {
		t.Fatalf("muster default = %v", d.Muster)
	}
	if d.KSU == nil || !d.KSU.Equal(start.Add(KSUOffset)) {
		t.Fatalf("ksu default = %v", d.KSU)
	}

	w := n.ToWire(d, nil)
	if w.ID != "" {
		t.Fatalf("new event should leave id to the provider, got %q", w.ID)
	}
	if w.SharedProp(model.PropKSU) != "2024-06-20T18:15:00Z" {
		t.Fatalf("ksu prop = %q", w.SharedProp(model.PropKSU))
	}
}

func TestNewEvent_MeetingHasNoRideDefaults(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 20, 18, 0, 0, 0, time.UTC)
	d := newTestNormalizer().NewEvent(model.TypeMeeting, "Board", start, start.Add(time.Hour), false, testNow)
	if d.Muster != nil || d.KSU != nil {
		t.Fatalf("meeting should not get muster/ksu")
	}
}

func TestRecurrenceText_UsesOriginalStart(t *testing.T) {
	t.Parallel()

	orig := time.Date(2024, 6, 10, 19, 0, 0, 0, time.UTC)
	d := model.DomainEvent{
		Start:         time.Date(2024, 6, 12, 19, 0, 0, 0, time.UTC),
		OriginalStart: &orig,
		Recurrence:    []string{"RRULE:FREQ=WEEKLY"},
	}
	if got := RecurrenceText(d); got != "Weekly on Monday" {
		t.Fatalf("RecurrenceText = %q", got)
	}
}

func TestContrastText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"#ffffff": "#000000",
		"#000":    "#ffffff",
		"#f9a825": "#000000",
		"#1565c0": "#ffffff",
		"nope":    "#000000",
	}
	for in, want := range tests {
		if got := ContrastText(in); got != want {
			t.Fatalf("ContrastText(%q) = %q, want %q", in, got, want)
		}
	}
}

func assertSameDomain(t *testing.T, a, b model.DomainEvent) {
	t.Helper()

	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		t.Fatalf("%s bounds differ: %v-%v vs %v-%v", a.ID, a.Start, a.End, b.Start, b.End)
	}
	if !equalTimePtr(a.OriginalStart, b.OriginalStart) || !equalTimePtr(a.Muster, b.Muster) || !equalTimePtr(a.KSU, b.KSU) {
		t.Fatalf("%s optional instants differ", a.ID)
	}
	if (a.Miles == nil) != (b.Miles == nil) || (a.Miles != nil && *a.Miles != *b.Miles) {
		t.Fatalf("%s miles differ", a.ID)
	}

	a.Start, a.End, b.Start, b.End = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	a.OriginalStart, a.Muster, a.KSU, a.Miles = nil, nil, nil, nil
	b.OriginalStart, b.Muster, b.KSU, b.Miles = nil, nil, nil, nil
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("domain events differ:\n%+v\n%+v", a, b)
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
