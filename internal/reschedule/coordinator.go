package reschedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
)

var (
	ErrUnknownEvent    = errors.New("event is not in the working set")
	ErrNotDragging     = errors.New("event is not being dragged")
	ErrAlreadyDragging = errors.New("event is already being dragged")
	ErrCommitInFlight  = errors.New("a commit for this event is still in flight")
	ErrScopeRequired   = errors.New("recurring event needs an edit scope")
)

const (
	DefaultSnapMinutes     = 15
	DefaultPixelsPerMinute = 1.0
)

type Options struct {
	SnapMinutes     int
	PixelsPerMinute float64
}

func DefaultOptions() Options {
	return Options{SnapMinutes: DefaultSnapMinutes, PixelsPerMinute: DefaultPixelsPerMinute}
}

// Notification is a user-visible failure.
type Notification struct {
	EventID string
	Message string
	Err     error
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// RowResetter forgets the span row of an event so the next layout pass
// places it from scratch. *layout.RowTable satisfies it.
type RowResetter interface {
	Reset(id string)
}

type operation struct {
	DragOperation
	prior    model.WireEvent
	dayIndex int
}

// Coordinator runs drag gestures over a WorkingSet. At most one gesture
// per event exists at a time, which also serializes commits per event.
type Coordinator struct {
	provider provider.Provider
	norm     *normalize.Normalizer
	set      *WorkingSet
	rows     RowResetter
	notify   Notifier
	opts     Options
	now      func() time.Time

	mu  sync.Mutex
	ops map[string]*operation
}

// New builds a coordinator. rows and notify may be nil.
func New(p provider.Provider, n *normalize.Normalizer, set *WorkingSet, rows RowResetter, notify Notifier, opts Options) *Coordinator {
	if opts.SnapMinutes <= 0 {
		opts.SnapMinutes = DefaultSnapMinutes
	}
	if opts.PixelsPerMinute <= 0 {
		opts.PixelsPerMinute = DefaultPixelsPerMinute
	}
	if set == nil {
		set = NewWorkingSet()
	}
	return &Coordinator{
		provider: p,
		norm:     n,
		set:      set,
		rows:     rows,
		notify:   notify,
		opts:     opts,
		now:      time.Now,
		ops:      make(map[string]*operation),
	}
}

func (c *Coordinator) WorkingSet() *WorkingSet { return c.set }

// Load refreshes the working set from fetched wire events. Events with a
// gesture in progress keep their optimistic state.
func (c *Coordinator) Load(wires []model.WireEvent) []error {
	return c.set.Load(c.norm, wires, c.now(), c.busy)
}

// LoadRange is Load for a complete fetch of [start, end): events of that
// range missing from wires are dropped as well.
func (c *Coordinator) LoadRange(wires []model.WireEvent, start, end time.Time) []error {
	present := make(map[string]bool, len(wires))
	for _, w := range wires {
		present[w.ID] = true
	}
	errs := c.set.Load(c.norm, wires, c.now(), c.busy)
	if n := c.set.Prune(start, end, present, c.busy); n > 0 {
		appLog.Debug("reschedule: pruned working set", "removed", n)
	}
	return errs
}

func (c *Coordinator) busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[id]
	return ok
}

// Operation returns the gesture in progress for id.
func (c *Coordinator) Operation(id string) (DragOperation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[id]
	if !ok {
		return DragOperation{}, false
	}
	return op.DragOperation, true
}

// Start snapshots the event and enters Dragging.
func (c *Coordinator) Start(id string, view View) (DragOperation, error) {
	ev, wire, ok := c.set.Get(id)
	if !ok {
		return DragOperation{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.ops[id]; ok {
		if op.State == Committing {
			return DragOperation{}, ErrCommitInFlight
		}
		return DragOperation{}, ErrAlreadyDragging
	}

	op := &operation{
		DragOperation: DragOperation{
			Source:    ev,
			Candidate: ev,
			State:     Dragging,
			View:      view,
		},
		prior: wire,
	}
	if !view.RangeStart.IsZero() {
		op.dayIndex = model.DaysBetween(model.StartOfDay(view.RangeStart), ev.Start)
	}
	c.ops[id] = op
	appLog.Debug("reschedule: drag started", "id", id, "mode", view.Mode)
	return op.DragOperation, nil
}

// Move applies the pointer displacement (dx, dy), measured from where the
// drag started, as an uncommitted candidate.
func (c *Coordinator) Move(id string, dx, dy float64) (DragOperation, error) {
	var (
		out   DragOperation
		prev  model.DomainEvent
		state = Idle
	)
	// The candidate is stored under the set lock so a concurrent Cancel
	// cannot restore the source in between.
	c.set.apply(id, func() (model.DomainEvent, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		op, ok := c.ops[id]
		if !ok {
			return model.DomainEvent{}, false
		}
		state = op.State
		if state != Dragging {
			return model.DomainEvent{}, false
		}
		days, minutes := deltas(op.View, dx, dy, op.Source.IsAllDay, op.dayIndex, c.opts)
		prev = op.Candidate
		op.DayDelta, op.MinuteDelta = days, minutes
		op.Candidate = shift(op.Source, days, minutes)
		out = op.DragOperation
		return out.Candidate, true
	})
	switch state {
	case Dragging:
	case Committing:
		return DragOperation{}, ErrCommitInFlight
	default:
		return DragOperation{}, ErrNotDragging
	}

	if !prev.SpansSameDays(out.Candidate) {
		c.resetRow(id)
	}
	return out, nil
}

// Cancel rolls the event back to its source without a provider call.
func (c *Coordinator) Cancel(id string) (model.DomainEvent, error) {
	c.mu.Lock()
	op, ok := c.ops[id]
	if !ok {
		c.mu.Unlock()
		return model.DomainEvent{}, ErrNotDragging
	}
	if op.State == Committing {
		c.mu.Unlock()
		return model.DomainEvent{}, ErrCommitInFlight
	}
	op.State = Cancelled
	delete(c.ops, id)
	c.mu.Unlock()

	c.set.setEvent(op.Source)
	c.resetRow(id)
	appLog.Debug("reschedule: drag cancelled", "id", id)
	return op.Source, nil
}

// Drop commits the candidate. scope is required for an occurrence of a
// recurring series and ignored otherwise. On success the provider's
// version replaces the candidate; on failure the source is restored, the
// notifier is told, and the provider error is returned.
func (c *Coordinator) Drop(ctx context.Context, id string, scope provider.Scope) (model.DomainEvent, error) {
	c.mu.Lock()
	op, ok := c.ops[id]
	if !ok || op.State != Dragging {
		committing := ok && op.State == Committing
		c.mu.Unlock()
		if committing {
			return model.DomainEvent{}, ErrCommitInFlight
		}
		return model.DomainEvent{}, ErrNotDragging
	}

	if !op.Moved() || op.Candidate.IsNew {
		// Nothing to persist: an unmoved drop, or an event not saved yet.
		delete(c.ops, id)
		c.mu.Unlock()
		c.set.setEvent(op.Candidate)
		return op.Candidate, nil
	}

	change := provider.Change{Scope: provider.ScopeSingle}
	if op.Source.IsRecurring() {
		if scope == "" {
			c.mu.Unlock()
			return model.DomainEvent{}, ErrScopeRequired
		}
		change.Scope = scope
		if scope == provider.ScopeThisAndFuture {
			change.Cutoff = provider.CutoffFor(op.Source.RecurrenceAnchor())
		}
	}
	op.Scope = change.Scope
	op.State = Committing
	candidate, prior := op.Candidate, op.prior
	c.mu.Unlock()

	wire := c.norm.ToWire(candidate, &prior)
	appLog.Info("reschedule: committing", "id", id, "scope", change.Scope, "days", op.DayDelta, "minutes", op.MinuteDelta)
	saved, err := c.provider.UpdateEvent(ctx, id, wire, change)
	if err == nil {
		var confirmed model.DomainEvent
		confirmed, err = c.norm.FromWire(saved, c.now())
		if err == nil {
			c.finish(id, true)
			if confirmed.ID != id {
				c.set.Remove(id)
			}
			c.set.Put(confirmed, saved)
			if !op.Source.SpansSameDays(confirmed) || confirmed.ID != id {
				c.resetRow(id)
			}
			appLog.Info("reschedule: committed", "id", id, "result", confirmed.ID)
			return confirmed, nil
		}
		err = fmt.Errorf("normalize saved event: %w", err)
	}

	c.rollback(id, op.Source, err)
	return model.DomainEvent{}, err
}

func (c *Coordinator) finish(id string, committed bool) {
	c.mu.Lock()
	if op, ok := c.ops[id]; ok {
		op.Committed = committed
		op.State = Idle
		delete(c.ops, id)
	}
	c.mu.Unlock()
}

// rollback restores source if the event is still in the working set.
func (c *Coordinator) rollback(id string, source model.DomainEvent, cause error) {
	c.finish(id, false)
	restored := c.set.setEvent(source)
	c.resetRow(id)

	msg := "Could not move event; it was put back."
	var conflict *provider.ConflictError
	if errors.As(cause, &conflict) {
		msg = "The event changed elsewhere; reload to see the latest version."
	}
	appLog.Error("reschedule: commit failed, rolled back", cause, "id", id, "restored", restored)
	if c.notify != nil {
		c.notify.Notify(Notification{EventID: id, Message: msg, Err: cause})
	}
}

func (c *Coordinator) resetRow(id string) {
	if c.rows != nil {
		c.rows.Reset(id)
	}
}
