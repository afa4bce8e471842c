package model

import (
	"testing"
	"time"
)

func TestLastDay_TimedEventEndingAtMidnight(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	ev := DomainEvent{Start: start, End: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)}
	if got := ev.LastDay(); !got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("LastDay = %v, want June 1", got)
	}

	ev.End = time.Date(2024, 6, 2, 0, 30, 0, 0, time.UTC)
	if got := ev.LastDay(); !got.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("LastDay = %v, want June 2", got)
	}
}

func TestExclusiveEnd_AllDay(t *testing.T) {
	t.Parallel()

	ev := DomainEvent{
		IsAllDay: true,
		Start:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	if got := ev.ExclusiveEnd(); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ExclusiveEnd = %v", got)
	}
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	a := time.Date(2024, 3, 9, 0, 0, 0, 0, loc)
	b := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)
	if got := DaysBetween(a, b); got != 2 {
		t.Fatalf("DaysBetween = %d, want 2", got)
	}
}

func TestWireEvent_IsAllDay(t *testing.T) {
	t.Parallel()

	w := WireEvent{Start: &EventDateTime{Date: "2024-06-01"}}
	if !w.IsAllDay() {
		t.Fatalf("expected all-day")
	}
	w = WireEvent{End: &EventDateTime{DateTime: "2024-06-01T10:00:00Z"}}
	if w.IsAllDay() {
		t.Fatalf("expected timed")
	}
}
