package ics

import (
	"context"
	"strings"
	"sync"
	"time"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/provider"
)

// DefaultMinInterval bounds how often one feed is re-downloaded.
const DefaultMinInterval = 5 * time.Minute

// Feed is a read-only provider.Subscription over one ICS source.
type Feed struct {
	src     Source
	fetcher *Fetcher
	loc     *time.Location

	// MinInterval is how long a parsed body is reused before the feed is
	// asked again.
	MinInterval time.Duration

	mu        sync.Mutex
	stored    []model.WireEvent
	fetchedAt time.Time
	now       func() time.Time
}

var _ provider.Subscription = (*Feed)(nil)

func NewFeed(src Source, fetcher *Fetcher, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{
		src:         src,
		fetcher:     fetcher,
		loc:         loc,
		MinInterval: DefaultMinInterval,
		now:         time.Now,
	}
}

func (f *Feed) Name() string {
	if f.src.Name != "" {
		return f.src.Name
	}
	return f.src.ID
}

func (f *Feed) Owns(id string) bool {
	return strings.HasPrefix(id, IDPrefix(f.src.ID))
}

// FetchEvents expands the feed's series into instances inside [start, end).
func (f *Feed) FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error) {
	stored, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	res, err := provider.Expand(stored, start, end, f.loc)
	if err != nil {
		return nil, err
	}
	if len(res.TruncatedSeries) > 0 {
		appLog.Warn("ics: series expansion capped", "feed", f.src.ID, "series", res.TruncatedSeries)
	}
	return res.Events, nil
}

// Invalidate forces the next fetch to go to the network.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	f.fetchedAt = time.Time{}
	f.mu.Unlock()
}

func (f *Feed) load(ctx context.Context) ([]model.WireEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stored != nil && f.now().Sub(f.fetchedAt) < f.MinInterval {
		return f.stored, nil
	}

	res, err := f.fetcher.Fetch(ctx, f.src)
	if err != nil {
		return nil, err
	}
	stored, err := Parse(f.src, res.Body, f.loc)
	if err != nil {
		return nil, err
	}
	f.stored = stored
	f.fetchedAt = f.now()
	return stored, nil
}
