package reschedule

import (
	"sort"
	"sync"
	"time"

	"clubcal/internal/model"
	"clubcal/internal/normalize"
)

type entry struct {
	event model.DomainEvent
	wire  model.WireEvent
}

// WorkingSet holds the events currently on screen together with the wire
// form each was loaded from. It is the optimistic state drags mutate.
type WorkingSet struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewWorkingSet() *WorkingSet {
	return &WorkingSet{entries: make(map[string]entry)}
}

// Load normalizes wires into the set. Ids in keep are left untouched so
// an in-flight drag keeps showing its candidate. Events that fail to
// normalize are skipped and their errors returned.
func (s *WorkingSet) Load(n *normalize.Normalizer, wires []model.WireEvent, now time.Time, keep func(id string) bool) []error {
	var errs []error
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range wires {
		if keep != nil && keep(w.ID) {
			continue
		}
		ev, err := n.FromWire(w, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.entries[ev.ID] = entry{event: ev, wire: w}
	}
	return errs
}

// Prune drops events touching [start, end) whose ids are not in present
// and not kept. It is used after a full fetch of that range so deleted
// events leave the set.
func (s *WorkingSet) Prune(start, end time.Time, present map[string]bool, keep func(id string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if present[id] || (keep != nil && keep(id)) {
			continue
		}
		ev := e.event
		if ev.Start.Before(end) && (ev.ExclusiveEnd().After(start) || ev.Start.Equal(start)) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *WorkingSet) Put(ev model.DomainEvent, w model.WireEvent) {
	s.mu.Lock()
	s.entries[ev.ID] = entry{event: ev, wire: w}
	s.mu.Unlock()
}

// setEvent replaces the domain event of an existing entry, keeping its wire.
func (s *WorkingSet) setEvent(ev model.DomainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ev.ID]
	if !ok {
		return false
	}
	e.event = ev
	s.entries[ev.ID] = e
	return true
}

// apply stores the event fn returns for id when fn reports ok. fn runs
// with the set locked, so nothing else writes id between its decision and
// the store.
func (s *WorkingSet) apply(id string, fn func() (model.DomainEvent, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := fn()
	if !ok {
		return false
	}
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.event = ev
	s.entries[id] = e
	return true
}

func (s *WorkingSet) Get(id string) (model.DomainEvent, model.WireEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e.event, e.wire, ok
}

func (s *WorkingSet) Remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *WorkingSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Events returns copies of all events ordered by start, then id.
func (s *WorkingSet) Events() []model.DomainEvent {
	s.mu.RLock()
	out := make([]model.DomainEvent, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.event)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Between returns the events touching [start, end).
func (s *WorkingSet) Between(start, end time.Time) []model.DomainEvent {
	var out []model.DomainEvent
	for _, ev := range s.Events() {
		if ev.Start.Before(end) && (ev.ExclusiveEnd().After(start) || ev.Start.Equal(start)) {
			out = append(out, ev)
		}
	}
	return out
}
