package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
)

// Snapshot is one cached range.
type Snapshot struct {
	Start     time.Time
	End       time.Time
	Events    []model.WireEvent
	FetchedAt time.Time
	// Stale is set when the range was invalidated or expired and the last
	// attempt to refetch it failed.
	Stale bool
}

type rangeKey struct {
	start, end int64
}

type cacheEntry struct {
	snap    Snapshot
	invalid bool
}

// RangeCache is the shared cache of already-fetched ranges in front of a
// Provider. A failed refetch keeps serving the previous copy. Writes go
// through to the provider and invalidate every range.
type RangeCache struct {
	p   Provider
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[rangeKey]*cacheEntry
}

// NewRangeCache wraps p. A zero ttl keeps ranges until a write or Refresh.
func NewRangeCache(p Provider, ttl time.Duration) *RangeCache {
	return &RangeCache{
		p:       p,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[rangeKey]*cacheEntry),
	}
}

func keyOf(start, end time.Time) rangeKey {
	return rangeKey{start: start.UnixNano(), end: end.UnixNano()}
}

// Lookup returns the events of [start, end]. A fresh range, or a fresh
// range covering it, is served from memory. Otherwise the provider is
// asked; if that fails and an older copy exists, the copy is returned
// marked Stale together with the error.
func (c *RangeCache) Lookup(ctx context.Context, start, end time.Time) (Snapshot, error) {
	if snap, ok := c.cached(start, end); ok {
		return snap, nil
	}

	events, err := c.p.FetchEvents(ctx, start, end)
	if err != nil {
		c.mu.RLock()
		e, ok := c.entries[keyOf(start, end)]
		c.mu.RUnlock()
		if ok {
			snap := e.snap
			snap.Stale = true
			appLog.Warn("cache: serving stale range", "start", start, "end", end, "err", err)
			return snap, err
		}
		return Snapshot{Start: start, End: end}, err
	}

	snap := Snapshot{Start: start, End: end, Events: events, FetchedAt: c.now()}
	c.mu.Lock()
	c.entries[keyOf(start, end)] = &cacheEntry{snap: snap}
	c.mu.Unlock()
	return snap, nil
}

func (c *RangeCache) cached(start, end time.Time) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[keyOf(start, end)]; ok && c.fresh(e) {
		return e.snap, true
	}
	for _, e := range c.entries {
		if !c.fresh(e) || e.snap.Start.After(start) || e.snap.End.Before(end) {
			continue
		}
		snap := Snapshot{Start: start, End: end, FetchedAt: e.snap.FetchedAt}
		for _, ev := range e.snap.Events {
			if overlaps(ev, start, end, start.Location()) {
				snap.Events = append(snap.Events, ev)
			}
		}
		return snap, true
	}
	return Snapshot{}, false
}

func (c *RangeCache) fresh(e *cacheEntry) bool {
	if e.invalid {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(e.snap.FetchedAt) < c.ttl
}

// Invalidate marks every range for refetch but keeps its copy.
func (c *RangeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.invalid = true
	}
}

// Ranges lists the cached ranges in start order.
func (c *RangeCache) Ranges() [][2]time.Time {
	c.mu.RLock()
	out := make([][2]time.Time, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, [2]time.Time{e.snap.Start, e.snap.End})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i][0].Equal(out[j][0]) {
			return out[i][0].Before(out[j][0])
		}
		return out[i][1].Before(out[j][1])
	})
	return out
}

// Refresh refetches every known range. Ranges that fail keep their copy.
func (c *RangeCache) Refresh(ctx context.Context) error {
	c.Invalidate()
	var errs []error
	for _, r := range c.Ranges() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Lookup(ctx, r[0], r[1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Warm fetches a range ahead of the first request for it.
func (c *RangeCache) Warm(ctx context.Context, start, end time.Time) error {
	_, err := c.Lookup(ctx, start, end)
	return err
}

func (c *RangeCache) FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error) {
	snap, err := c.Lookup(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return snap.Events, nil
}

func (c *RangeCache) CreateEvent(ctx context.Context, ev model.WireEvent) (model.WireEvent, error) {
	out, err := c.p.CreateEvent(ctx, ev)
	if err == nil {
		c.Invalidate()
	}
	return out, err
}

func (c *RangeCache) UpdateEvent(ctx context.Context, id string, ev model.WireEvent, change Change) (model.WireEvent, error) {
	out, err := c.p.UpdateEvent(ctx, id, ev, change)
	if err == nil {
		c.Invalidate()
	}
	return out, err
}

func (c *RangeCache) DeleteEvent(ctx context.Context, id string, change Change) error {
	err := c.p.DeleteEvent(ctx, id, change)
	if err == nil {
		c.Invalidate()
	}
	return err
}
