package reschedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clubcal/internal/layout"
	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
)

type updateCall struct {
	id     string
	ev     model.WireEvent
	change provider.Change
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  []updateCall
	update func(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error)
}

func (f *fakeProvider) FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error) {
	return nil, nil
}

func (f *fakeProvider) CreateEvent(ctx context.Context, ev model.WireEvent) (model.WireEvent, error) {
	return ev, nil
}

func (f *fakeProvider) UpdateEvent(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, updateCall{id: id, ev: ev, change: change})
	update := f.update
	f.mu.Unlock()
	if update == nil {
		return ev, nil
	}
	return update(ctx, id, ev, change)
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, id string, change provider.Change) error {
	return nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type resetRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *resetRecorder) Reset(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

var june5 = time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)

func timed(id, start, end string) model.WireEvent {
	return model.WireEvent{
		ID:      id,
		Summary: "Ride " + id,
		Start:   &model.EventDateTime{DateTime: start},
		End:     &model.EventDateTime{DateTime: end},
	}
}

func setup(t *testing.T, p provider.Provider, rows RowResetter, notify Notifier, wires ...model.WireEvent) *Coordinator {
	t.Helper()
	c := New(p, normalize.New(time.UTC, normalize.DefaultPalette()), nil, rows, notify, DefaultOptions())
	c.now = func() time.Time { return june5 }
	if errs := c.Load(wires); len(errs) > 0 {
		t.Fatalf("load: %v", errs)
	}
	return c
}

func dayView() View {
	return View{Mode: ModeDay, RangeStart: june5}
}

func TestSnap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minutes float64
		want    int
	}{
		{0, 0},
		{7.4, 0},
		{7.5, 15},
		{22, 15},
		{23, 30},
		{37, 30},
		{-7.5, 0},
		{-8, -15},
		{-37, -30},
	}
	for _, tt := range tests {
		if got := Snap(tt.minutes, 15); got != tt.want {
			t.Fatalf("Snap(%v) = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestDrop_RollsBackOnRejection(t *testing.T) {
	t.Parallel()

	rejected := errors.New("provider said no")
	p := &fakeProvider{update: func(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
		return model.WireEvent{}, &provider.PersistenceError{Op: "update", ID: id, Err: rejected}
	}}
	var notes []Notification
	c := setup(t, p, nil, NotifierFunc(func(n Notification) { notes = append(notes, n) }),
		timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))

	if _, err := c.Start("e1", dayView()); err != nil {
		t.Fatalf("start: %v", err)
	}
	op, err := c.Move("e1", 0, 37)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	wantStart := time.Date(2024, 6, 5, 10, 30, 0, 0, time.UTC)
	if !op.Candidate.Start.Equal(wantStart) || !op.Candidate.End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("candidate = %v-%v, want 10:30-11:30", op.Candidate.Start, op.Candidate.End)
	}
	if ev, _, _ := c.WorkingSet().Get("e1"); !ev.Start.Equal(wantStart) {
		t.Fatalf("candidate should be applied optimistically, got %v", ev.Start)
	}

	_, err = c.Drop(context.Background(), "e1", "")
	if !errors.Is(err, rejected) {
		t.Fatalf("drop err = %v", err)
	}

	ev, _, ok := c.WorkingSet().Get("e1")
	if !ok {
		t.Fatalf("event vanished")
	}
	if !ev.Start.Equal(time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)) || !ev.End.Equal(time.Date(2024, 6, 5, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("after rollback = %v-%v, want 10:00-11:00", ev.Start, ev.End)
	}
	if len(notes) != 1 || notes[0].EventID != "e1" {
		t.Fatalf("notifications = %+v", notes)
	}
	if _, ok := c.Operation("e1"); ok {
		t.Fatalf("operation should be gone after rollback")
	}
	if got := p.calls[0].change.Scope; got != provider.ScopeSingle {
		t.Fatalf("plain event should commit with single scope, got %q", got)
	}
}

func TestDrop_ConfirmedEventReplacesCandidate(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{update: func(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
		ev.Summary = "Ride (server copy)"
		ev.Provider = &model.ProviderMetadata{Etag: `"2"`}
		return ev, nil
	}}
	c := setup(t, p, nil, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))

	c.Start("e1", dayView())
	c.Move("e1", 0, 61)
	got, err := c.Drop(context.Background(), "e1", "")
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got.Title != "Ride (server copy)" || !got.Start.Equal(time.Date(2024, 6, 5, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("confirmed = %+v", got)
	}
	_, wire, _ := c.WorkingSet().Get("e1")
	if wire.Provider == nil || wire.Provider.Etag != `"2"` {
		t.Fatalf("saved wire should become the new prior: %+v", wire.Provider)
	}
	sent := p.calls[0].ev
	if sent.Start.DateTime != "2024-06-05T11:00:00Z" {
		t.Fatalf("sent start = %+v", sent.Start)
	}
}

func TestDrop_UnmovedMakesNoCall(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	c := setup(t, p, nil, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))
	c.Start("e1", dayView())
	c.Move("e1", 0, 5)
	if _, err := c.Drop(context.Background(), "e1", ""); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if p.callCount() != 0 {
		t.Fatalf("unmoved drop should not reach the provider")
	}
}

func TestCommitInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	p := &fakeProvider{update: func(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
		close(entered)
		<-release
		return ev, nil
	}}
	c := setup(t, p, nil, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))

	c.Start("e1", dayView())
	c.Move("e1", 0, 30)

	done := make(chan error, 1)
	go func() {
		_, err := c.Drop(context.Background(), "e1", "")
		done <- err
	}()
	<-entered

	if op, ok := c.Operation("e1"); !ok || op.State != Committing {
		t.Fatalf("operation = %+v, %v", op, ok)
	}
	if _, err := c.Start("e1", dayView()); !errors.Is(err, ErrCommitInFlight) {
		t.Fatalf("second drag err = %v", err)
	}
	if _, err := c.Move("e1", 0, 15); !errors.Is(err, ErrCommitInFlight) {
		t.Fatalf("move err = %v", err)
	}
	if _, err := c.Cancel("e1"); !errors.Is(err, ErrCommitInFlight) {
		t.Fatalf("cancel err = %v", err)
	}

	// A refresh while committing keeps the optimistic candidate.
	c.Load([]model.WireEvent{timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z")})
	if ev, _, _ := c.WorkingSet().Get("e1"); ev.Start.Hour() != 10 || ev.Start.Minute() != 30 {
		t.Fatalf("reload clobbered the candidate: %v", ev.Start)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := c.Start("e1", dayView()); err != nil {
		t.Fatalf("drag after commit: %v", err)
	}
}

func TestCancel_RestoresAndResetsRow(t *testing.T) {
	t.Parallel()

	wire := model.WireEvent{
		ID:      "camp",
		Summary: "Campout",
		Start:   &model.EventDateTime{Date: "2024-06-05"},
		End:     &model.EventDateTime{Date: "2024-06-08"},
	}
	table := layout.NewRowTable()
	p := &fakeProvider{}
	c := setup(t, p, table, nil, wire)

	days := make([]time.Time, 7)
	for i := range days {
		days[i] = june5.AddDate(0, 0, i-2)
	}
	layout.Span(c.WorkingSet().Events(), days, table, layout.SpanOptions{})
	if table.Row("camp") == layout.Unassigned {
		t.Fatalf("span pass should assign a row")
	}

	view := View{Mode: ModeWeek, RangeStart: days[0], ColumnWidth: 100}
	if _, err := c.Start("camp", view); err != nil {
		t.Fatalf("start: %v", err)
	}
	op, err := c.Move("camp", 110, 40)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if op.DayDelta != 1 || op.MinuteDelta != 0 {
		t.Fatalf("all-day move = %d days %d minutes", op.DayDelta, op.MinuteDelta)
	}

	src, err := c.Cancel("camp")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !src.Start.Equal(june5) {
		t.Fatalf("cancel returned %v", src.Start)
	}
	if ev, _, _ := c.WorkingSet().Get("camp"); !ev.Start.Equal(june5) {
		t.Fatalf("working set not restored: %v", ev.Start)
	}
	if table.Row("camp") != layout.Unassigned {
		t.Fatalf("cancel must reset the span row")
	}
	if p.callCount() != 0 {
		t.Fatalf("cancel must not call the provider")
	}
	if _, err := c.Cancel("camp"); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestMove_DayClampAndMonthRows(t *testing.T) {
	t.Parallel()

	rows := &resetRecorder{}
	c := setup(t, &fakeProvider{}, rows, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))

	// June 5 is day 1 of a week starting June 4.
	week := View{Mode: ModeWeek, RangeStart: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), ColumnWidth: 120}
	c.Start("e1", week)
	op, _ := c.Move("e1", -360, 0)
	if op.DayDelta != -1 || !op.Candidate.Start.Equal(time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("clamped move = %d days, start %v", op.DayDelta, op.Candidate.Start)
	}
	if len(rows.ids) == 0 {
		t.Fatalf("changing days should reset the row")
	}
	c.Cancel("e1")

	month := View{Mode: ModeMonth, RangeStart: time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC), ColumnWidth: 100, RowHeight: 80}
	c.Start("e1", month)
	op, _ = c.Move("e1", 90, 85)
	if op.DayDelta != 8 || op.MinuteDelta != 0 {
		t.Fatalf("month move = %d days %d minutes", op.DayDelta, op.MinuteDelta)
	}
	if !op.Candidate.Start.Equal(time.Date(2024, 6, 13, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("month candidate = %v", op.Candidate.Start)
	}
}

func TestDrop_RecurringScope(t *testing.T) {
	t.Parallel()

	instance := timed("ride_20240605T100000Z", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z")
	instance.RecurringEventID = "ride"
	instance.Recurrence = []string{"RRULE:FREQ=WEEKLY;BYDAY=WE"}
	instance.OriginalStartTime = &model.EventDateTime{DateTime: "2024-06-05T10:00:00Z"}

	p := &fakeProvider{}
	c := setup(t, p, nil, nil, instance)

	c.Start(instance.ID, dayView())
	c.Move(instance.ID, 0, 60)
	if _, err := c.Drop(context.Background(), instance.ID, ""); !errors.Is(err, ErrScopeRequired) {
		t.Fatalf("drop without scope err = %v", err)
	}
	if op, ok := c.Operation(instance.ID); !ok || op.State != Dragging {
		t.Fatalf("missing scope should leave the drag open")
	}

	if _, err := c.Drop(context.Background(), instance.ID, provider.ScopeThisAndFuture); err != nil {
		t.Fatalf("drop: %v", err)
	}
	call := p.calls[0]
	if call.change.Scope != provider.ScopeThisAndFuture {
		t.Fatalf("scope = %q", call.change.Scope)
	}
	wantCutoff := time.Date(2024, 6, 5, 9, 59, 59, 0, time.UTC)
	if !call.change.Cutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", call.change.Cutoff, wantCutoff)
	}
	if call.ev.RecurringEventID != "ride" || call.ev.OriginalStartTime == nil {
		t.Fatalf("instance identity lost: %+v", call.ev)
	}
}

func TestStart_Errors(t *testing.T) {
	t.Parallel()

	c := setup(t, &fakeProvider{}, nil, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))
	if _, err := c.Start("nope", dayView()); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("unknown err = %v", err)
	}
	c.Start("e1", dayView())
	if _, err := c.Start("e1", dayView()); !errors.Is(err, ErrAlreadyDragging) {
		t.Fatalf("double start err = %v", err)
	}
	if _, err := c.Drop(context.Background(), "nope", ""); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("drop without drag err = %v", err)
	}
}

func TestLoadRange_PrunesMissingButKeepsDragged(t *testing.T) {
	t.Parallel()

	c := setup(t, &fakeProvider{}, nil, nil,
		timed("a", "2024-06-05T09:00:00Z", "2024-06-05T10:00:00Z"),
		timed("b", "2024-06-05T11:00:00Z", "2024-06-05T12:00:00Z"),
		timed("c", "2024-06-05T13:00:00Z", "2024-06-05T14:00:00Z"),
		timed("later", "2024-06-20T09:00:00Z", "2024-06-20T10:00:00Z"),
	)
	if _, err := c.Start("b", dayView()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Only "a" comes back for June 5; "b" is being dragged.
	errs := c.LoadRange([]model.WireEvent{timed("a", "2024-06-05T09:00:00Z", "2024-06-05T10:00:00Z")},
		june5, june5.AddDate(0, 0, 1))
	if len(errs) > 0 {
		t.Fatalf("load: %v", errs)
	}

	set := c.WorkingSet()
	for id, want := range map[string]bool{"a": true, "b": true, "c": false, "later": true} {
		if _, _, ok := set.Get(id); ok != want {
			t.Fatalf("%s present = %v, want %v", id, ok, want)
		}
	}
}

func TestDrop_LateFailureSkipsRemovedEvent(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	rejected := errors.New("provider unavailable")
	p := &fakeProvider{update: func(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
		close(entered)
		<-release
		return model.WireEvent{}, &provider.PersistenceError{Op: "update", ID: id, Err: rejected}
	}}
	var notes []Notification
	c := setup(t, p, nil, NotifierFunc(func(n Notification) { notes = append(notes, n) }),
		timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))

	c.Start("e1", dayView())
	c.Move("e1", 0, 60)

	done := make(chan error, 1)
	go func() {
		_, err := c.Drop(context.Background(), "e1", "")
		done <- err
	}()
	<-entered

	// The event goes away (deleted elsewhere, or pruned by a refresh)
	// while the commit is still pending.
	c.WorkingSet().Remove("e1")
	close(release)

	if err := <-done; !errors.Is(err, rejected) {
		t.Fatalf("drop err = %v", err)
	}
	if _, _, ok := c.WorkingSet().Get("e1"); ok {
		t.Fatalf("rollback must not resurrect a removed event")
	}
	if len(notes) != 1 || notes[0].EventID != "e1" {
		t.Fatalf("notifications = %+v", notes)
	}
	if _, ok := c.Operation("e1"); ok {
		t.Fatalf("operation should be finished")
	}
}

func TestMove_RacingCancelLeavesSource(t *testing.T) {
	t.Parallel()

	c := setup(t, &fakeProvider{}, nil, nil, timed("e1", "2024-06-05T10:00:00Z", "2024-06-05T11:00:00Z"))
	source := time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		if _, err := c.Start("e1", dayView()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Move("e1", 0, 90)
		}()
		go func() {
			defer wg.Done()
			c.Cancel("e1")
		}()
		wg.Wait()

		if _, ok := c.Operation("e1"); ok {
			t.Fatalf("iteration %d: operation left open", i)
		}
		if ev, _, _ := c.WorkingSet().Get("e1"); !ev.Start.Equal(source) {
			t.Fatalf("iteration %d: start = %v after cancel, want %v", i, ev.Start, source)
		}
	}
}
