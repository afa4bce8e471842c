package provider

import (
	"context"
	"time"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
)

// Subscription is a read-only source merged into the calendar, such as a
// remote ICS feed.
type Subscription interface {
	Name() string
	FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error)
	// Owns reports whether id was issued by this subscription.
	Owns(id string) bool
}

// Multi merges a writable primary provider with read-only subscriptions.
type Multi struct {
	Primary       Provider
	Subscriptions []Subscription
}

func NewMulti(primary Provider, subs ...Subscription) *Multi {
	return &Multi{Primary: primary, Subscriptions: subs}
}

// FetchEvents fails only when the primary does; a failing subscription is
// logged and left out.
func (m *Multi) FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error) {
	events, err := m.Primary.FetchEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := append([]model.WireEvent(nil), events...)
	for _, sub := range m.Subscriptions {
		evs, err := sub.FetchEvents(ctx, start, end)
		if err != nil {
			appLog.Error("multi: subscription fetch failed", err, "subscription", sub.Name())
			continue
		}
		out = append(out, evs...)
	}
	sortByStart(out, start.Location())
	return out, nil
}

func (m *Multi) CreateEvent(ctx context.Context, ev model.WireEvent) (model.WireEvent, error) {
	if ev.ID != "" && m.readOnly(ev.ID) {
		return model.WireEvent{}, &PersistenceError{Op: "create", ID: ev.ID, Err: ErrReadOnly}
	}
	return m.Primary.CreateEvent(ctx, ev)
}

func (m *Multi) UpdateEvent(ctx context.Context, id string, ev model.WireEvent, change Change) (model.WireEvent, error) {
	if m.readOnly(id) {
		return model.WireEvent{}, &PersistenceError{Op: "update", ID: id, Err: ErrReadOnly}
	}
	return m.Primary.UpdateEvent(ctx, id, ev, change)
}

func (m *Multi) DeleteEvent(ctx context.Context, id string, change Change) error {
	if m.readOnly(id) {
		return &PersistenceError{Op: "delete", ID: id, Err: ErrReadOnly}
	}
	return m.Primary.DeleteEvent(ctx, id, change)
}

func (m *Multi) readOnly(id string) bool {
	for _, sub := range m.Subscriptions {
		if sub.Owns(id) {
			return true
		}
	}
	return false
}
