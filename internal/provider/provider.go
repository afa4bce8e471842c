// Package provider is the persistence boundary of the calendar: the
// contract every event store implements, the errors it reports, recurring
// instance expansion and the shared cache of fetched ranges.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clubcal/internal/model"
)

// Scope selects which occurrences of a recurring series a write affects.
type Scope string

const (
	ScopeSingle        Scope = "single"
	ScopeThisAndFuture Scope = "thisAndFuture"
	ScopeAll           Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single", "this":
		return ScopeSingle, nil
	case "thisandfuture", "this_and_future", "following":
		return ScopeThisAndFuture, nil
	case "all":
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// Change carries the scope of an update or delete. Cutoff is the instant
// right before the edited occurrence and is required for
// ScopeThisAndFuture.
type Change struct {
	Scope  Scope
	Cutoff time.Time
}

func (c Change) Validate() error {
	switch c.Scope {
	case ScopeSingle, ScopeAll:
		return nil
	case ScopeThisAndFuture:
		if c.Cutoff.IsZero() {
			return ErrCutoffRequired
		}
		return nil
	default:
		return fmt.Errorf("unknown scope %q", c.Scope)
	}
}

// CutoffFor returns the cutoff for a this-and-future change of the
// occurrence that originally started at originalStart.
func CutoffFor(originalStart time.Time) time.Time {
	return originalStart.Add(-time.Second)
}

// Provider is the remote source of truth for events. Implementations never
// retry on behalf of the caller.
type Provider interface {
	// FetchEvents returns every event overlapping [start, end], with
	// recurring series expanded into instances.
	FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error)
	// CreateEvent stores a new event and returns it with the provider's id
	// and canonical fields.
	CreateEvent(ctx context.Context, ev model.WireEvent) (model.WireEvent, error)
	UpdateEvent(ctx context.Context, id string, ev model.WireEvent, change Change) (model.WireEvent, error)
	DeleteEvent(ctx context.Context, id string, change Change) error
}

// InstanceID names one occurrence of a series. All-day occurrences use the
// date, timed ones the UTC start.
func InstanceID(masterID string, originalStart time.Time, allDay bool) string {
	if allDay {
		return masterID + "_" + originalStart.Format("20060102")
	}
	return masterID + "_" + originalStart.UTC().Format("20060102T150405Z")
}

// SplitInstanceID reverses InstanceID. Dates come back as midnight in loc.
func SplitInstanceID(id string, loc *time.Location) (masterID string, originalStart time.Time, allDay bool, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", time.Time{}, false, false
	}
	master, key := id[:i], id[i+1:]
	if t, err := time.Parse("20060102T150405Z", key); err == nil {
		return master, t, false, true
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation("20060102", key, loc); err == nil {
		return master, t, true, true
	}
	return "", time.Time{}, false, false
}

// IsCancelled reports whether ev is a cancelled occurrence marker.
func IsCancelled(ev model.WireEvent) bool {
	return ev.Provider != nil && ev.Provider.Status == StatusCancelled
}

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var (
	ErrNotFound       = errors.New("event not found")
	ErrReadOnly       = errors.New("calendar is read-only")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrCutoffRequired = errors.New("this-and-future change requires a cutoff")
)

// PersistenceError wraps a transport or provider failure of one operation.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError reports that the stored event changed since the caller
// fetched it.
type ConflictError struct {
	ID   string
	Want string
	Got  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event %s changed since it was fetched (etag %s, now %s)", e.ID, e.Want, e.Got)
}
