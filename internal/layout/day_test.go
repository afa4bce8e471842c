package layout

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"clubcal/internal/model"
)

const eps = 1e-9

var testDay = time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)

func timed(id string, startH, startM, durMin int) model.DomainEvent {
	start := testDay.Add(time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute)
	return model.DomainEvent{
		ID:       id,
		Title:    id,
		Start:    start,
		End:      start.Add(time.Duration(durMin) * time.Minute),
		DayTotal: 1,
	}
}

func slotsByID(slots []Slot) map[string]Slot {
	out := make(map[string]Slot, len(slots))
	for _, s := range slots {
		out[s.EventID] = s
	}
	return out
}

func TestDay_SingleEventFillsColumn(t *testing.T) {
	t.Parallel()

	slots := Day(testDay, []model.DomainEvent{timed("a", 10, 0, 60)}, DayOptions{})
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	s := slots[0]
	if s.Left != 0 || s.Width != 1 {
		t.Fatalf("unexpected horizontal geometry: %+v", s)
	}
	if d := s.Top - 600.0/1440; d > eps || d < -eps {
		t.Fatalf("top = %v", s.Top)
	}
	if d := s.Height - 60.0/1440; d > eps || d < -eps {
		t.Fatalf("height = %v", s.Height)
	}
}

func TestDay_OverlapSplitsColumns(t *testing.T) {
	t.Parallel()

	events := []model.DomainEvent{
		timed("a", 9, 0, 120),
		timed("b", 10, 0, 60),
		timed("c", 12, 0, 30),
	}
	got := slotsByID(Day(testDay, events, DayOptions{}))

	if got["a"].Left != 0 || got["a"].Width != 0.5 {
		t.Fatalf("a = %+v", got["a"])
	}
	if got["b"].Left != 0.5 || got["b"].Width != 0.5 {
		t.Fatalf("b = %+v", got["b"])
	}
	// c starts after a ends, so it opens a new cluster.
	if got["c"].Left != 0 || got["c"].Width != 1 {
		t.Fatalf("c = %+v", got["c"])
	}
}

func TestDay_ExtendsIntoFreeColumns(t *testing.T) {
	t.Parallel()

	// c overlaps both a and b and lands in column 2. d reuses column 0
	// once a has ended, with b still busy in column 1.
	events := []model.DomainEvent{
		timed("a", 9, 0, 60),
		timed("b", 9, 0, 180),
		timed("c", 9, 30, 30),
		timed("d", 10, 0, 60),
	}
	got := slotsByID(Day(testDay, events, DayOptions{}))

	if got["a"].Z != 0 || got["b"].Z != 1 || got["c"].Z != 2 || got["d"].Z != 0 {
		t.Fatalf("columns a=%d b=%d c=%d d=%d", got["a"].Z, got["b"].Z, got["c"].Z, got["d"].Z)
	}
	third := 1.0 / 3
	if d := got["d"].Width - third; d > eps || d < -eps {
		t.Fatalf("d must not extend over b: %+v", got["d"])
	}
	if d := got["c"].Left - 2*third; d > eps || d < -eps {
		t.Fatalf("c left = %v", got["c"].Left)
	}

	// e runs alongside b only. Column 2 is free but not adjacent to e's
	// own column, so e stays one column wide.
	events = append(events, timed("e", 11, 0, 30))
	got = slotsByID(Day(testDay, events, DayOptions{}))
	if got["e"].Z != 0 || got["e"].Width > third+eps {
		t.Fatalf("e = %+v", got["e"])
	}
}

func TestDay_TrailingColumnExtension(t *testing.T) {
	t.Parallel()

	events := []model.DomainEvent{
		timed("a", 8, 0, 240),
		timed("b", 8, 0, 60),
		timed("c", 8, 0, 60),
		timed("d", 10, 0, 60),
	}
	got := slotsByID(Day(testDay, events, DayOptions{}))

	// b and c end first and take columns 0 and 1, a lands in column 2.
	// d reuses column 0 and widens over column 1, free after 9:00.
	if got["a"].Z != 2 || got["d"].Z != 0 {
		t.Fatalf("d column = %d", got["d"].Z)
	}
	if d := got["d"].Width - 2.0/3; d > eps || d < -eps {
		t.Fatalf("d width = %v", got["d"].Width)
	}
}

func TestDay_DeterministicTieBreak(t *testing.T) {
	t.Parallel()

	a := timed("x", 9, 0, 60)
	a.Title = "Alpha"
	b := timed("y", 9, 0, 60)
	b.Title = "Bravo"
	c := timed("z", 9, 0, 30)
	c.Title = "Zulu"

	first := Day(testDay, []model.DomainEvent{b, a, c}, DayOptions{})
	second := Day(testDay, []model.DomainEvent{c, a, b}, DayOptions{})
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("layout depends on input order:\n%+v\n%+v", first, second)
		}
	}
	// Earlier end first, then title.
	if first[0].EventID != "z" || first[1].EventID != "x" || first[2].EventID != "y" {
		t.Fatalf("order = %s %s %s", first[0].EventID, first[1].EventID, first[2].EventID)
	}
}

func TestDay_ClipsAtMidnight(t *testing.T) {
	t.Parallel()

	ev := timed("late", 23, 55, 2)
	slots := Day(testDay, []model.DomainEvent{ev}, DayOptions{MinDuration: 15 * time.Minute})
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if end := slots[0].Top + slots[0].Height; end > 1+eps {
		t.Fatalf("slot runs past the day: %+v", slots[0])
	}
	if slots[0].Height <= 0 {
		t.Fatalf("short event should keep a visible height")
	}
}

func TestDay_SkipsAllDayAndOtherDays(t *testing.T) {
	t.Parallel()

	allDay := model.DomainEvent{ID: "ad", Start: testDay, End: testDay, IsAllDay: true, DayTotal: 1}
	multi := timed("multi", 20, 0, 10*60)
	multi.IsMultiDay = true
	tomorrow := timed("tomorrow", 9, 0, 60)
	tomorrow.Start = tomorrow.Start.AddDate(0, 0, 1)
	tomorrow.End = tomorrow.End.AddDate(0, 0, 1)

	slots := Day(testDay, []model.DomainEvent{allDay, multi, tomorrow, timed("ok", 9, 0, 60)}, DayOptions{})
	if len(slots) != 1 || slots[0].EventID != "ok" {
		t.Fatalf("unexpected slots: %+v", slots)
	}
}

func TestDay_MarginLeavesGap(t *testing.T) {
	t.Parallel()

	got := slotsByID(Day(testDay, []model.DomainEvent{timed("a", 9, 0, 60), timed("b", 9, 0, 60)}, DefaultDayOptions()))
	if got["a"].Left+got["a"].Width >= got["b"].Left {
		t.Fatalf("expected a visible gap: %+v %+v", got["a"], got["b"])
	}
}

func TestDay_RandomNoOverlap(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(20240604))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(14)
		events := make([]model.DomainEvent, 0, n)
		for i := 0; i < n; i++ {
			startMin := rng.Intn(24*60 - 1)
			dur := rng.Intn(240)
			events = append(events, timed(fmt.Sprintf("e%d", i), 0, startMin, dur))
		}

		opts := DayOptions{Margin: []float64{0, 0.02, 0.1}[round%3]}
		slots := Day(testDay, events, opts)
		if len(slots) != n {
			t.Fatalf("round %d: expected %d slots, got %d", round, n, len(slots))
		}
		for i := range slots {
			a := slots[i]
			if a.Top < -eps || a.Top+a.Height > 1+eps || a.Left < -eps || a.Left+a.Width > 1+eps {
				t.Fatalf("round %d: slot outside the column: %+v", round, a)
			}
			for j := i + 1; j < len(slots); j++ {
				b := slots[j]
				timeOverlap := a.Top+eps < b.Top+b.Height && b.Top+eps < a.Top+a.Height
				colOverlap := a.Left+eps < b.Left+b.Width && b.Left+eps < a.Left+a.Width
				if timeOverlap && colOverlap {
					t.Fatalf("round %d: slots overlap:\n%+v\n%+v", round, a, b)
				}
			}
		}
	}
}

func TestDays_AlignedWithRange(t *testing.T) {
	t.Parallel()

	next := timed("next", 9, 0, 60)
	next.Start = next.Start.AddDate(0, 0, 1)
	next.End = next.End.AddDate(0, 0, 1)

	days := []time.Time{testDay, testDay.AddDate(0, 0, 1), testDay.AddDate(0, 0, 2)}
	out := Days(days, []model.DomainEvent{timed("today", 9, 0, 60), next}, DayOptions{})
	if len(out) != 3 || len(out[0]) != 1 || len(out[1]) != 1 || out[2] != nil {
		t.Fatalf("unexpected per-day slots: %+v", out)
	}
	if out[1][0].EventID != "next" {
		t.Fatalf("day 1 = %+v", out[1])
	}
}
