// Package sqlite is the club's own calendar store: a provider.Provider
// backed by an embedded SQLite database in WAL mode.
//
// Recurring series are stored as one master row. Edits and cancellations
// of single occurrences are override rows pointing at their master; range
// fetches expand both into instances.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/provider"
	"clubcal/internal/recurrence"

	_ "modernc.org/sqlite"
)

// tsLayout sorts lexically in UTC.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const source = "clubcal"

type Store struct {
	db    *sql.DB
	loc   *time.Location
	now   func() time.Time
	retry retryConfig
	// commit ends a write transaction; tests swap it to inject lock errors.
	commit func(*sql.Tx) error
}

var _ provider.Provider = (*Store)(nil)

// Open opens (or creates) the database at path. loc resolves all-day dates
// and boundaries without a zone.
func Open(path string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, loc: loc, now: time.Now, retry: defaultRetryConfig, commit: (*sql.Tx).Commit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id             TEXT PRIMARY KEY,
		master_id      TEXT NOT NULL DEFAULT '',
		original_start TEXT NOT NULL DEFAULT '',
		start_utc      TEXT NOT NULL,
		end_utc        TEXT NOT NULL,
		recurring      INTEGER NOT NULL DEFAULT 0,
		cancelled      INTEGER NOT NULL DEFAULT 0,
		etag           TEXT NOT NULL,
		payload        TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_range ON events(start_utc, end_utc);
	CREATE INDEX IF NOT EXISTS idx_events_master ON events(master_id, original_start);
	`
	_, err := s.db.Exec(schema)
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, retrying the whole transaction on lock
// contention. fn may run more than once and must not mutate captured state.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOp(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return s.commit(tx)
	})
}

func (s *Store) FetchEvents(ctx context.Context, start, end time.Time) ([]model.WireEvent, error) {
	var stored []model.WireEvent
	err := retryOp(ctx, defaultRetryConfig, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT payload FROM events
			 WHERE recurring = 1 OR master_id <> '' OR (start_utc <= ? AND end_utc >= ?)`,
			end.UTC().Format(tsLayout), start.UTC().Format(tsLayout),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		stored = stored[:0]
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return err
			}
			var ev model.WireEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				return fmt.Errorf("decode stored event: %w", err)
			}
			stored = append(stored, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &provider.PersistenceError{Op: "fetch", Err: err}
	}

	res, err := provider.Expand(stored, start, end, s.loc)
	if err != nil {
		return nil, &provider.PersistenceError{Op: "fetch", Err: err}
	}
	appLog.Debug("sqlite: fetched range", "start", start, "end", end, "stored", len(stored), "events", len(res.Events))
	return res.Events, nil
}

// Get returns one stored row by id, master or override.
func (s *Store) Get(ctx context.Context, id string) (model.WireEvent, error) {
	ev, ok, err := s.get(ctx, s.db, id)
	if err != nil {
		return model.WireEvent{}, &provider.PersistenceError{Op: "get", ID: id, Err: err}
	}
	if !ok {
		return model.WireEvent{}, &provider.PersistenceError{Op: "get", ID: id, Err: provider.ErrNotFound}
	}
	return ev, nil
}

func (s *Store) CreateEvent(ctx context.Context, ev model.WireEvent) (model.WireEvent, error) {
	if err := s.validate(ev); err != nil {
		return model.WireEvent{}, &provider.PersistenceError{Op: "create", ID: ev.ID, Err: err}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.RecurringEventID = ""
	ev.OriginalStartTime = nil

	var out model.WireEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, exists, err := s.get(ctx, tx, ev.ID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: id %s already exists", provider.ErrInvalidEvent, ev.ID)
		}
		cur := ev
		s.stamp(&cur, nil)
		out = cur
		return s.put(ctx, tx, cur)
	})
	if err != nil {
		return model.WireEvent{}, &provider.PersistenceError{Op: "create", ID: ev.ID, Err: err}
	}
	appLog.Info("sqlite: event created", "id", out.ID, "recurring", len(out.Recurrence) > 0)
	return out, nil
}

// UpdateEvent writes ev over the event named by id. id may be a single
// event, a series master, an override or a generated instance id. When ev
// carries an etag it must match the stored one.
func (s *Store) UpdateEvent(ctx context.Context, id string, ev model.WireEvent, change provider.Change) (model.WireEvent, error) {
	if err := change.Validate(); err != nil {
		return model.WireEvent{}, &provider.PersistenceError{Op: "update", ID: id, Err: err}
	}
	if err := s.validate(ev); err != nil {
		return model.WireEvent{}, &provider.PersistenceError{Op: "update", ID: id, Err: err}
	}

	var out model.WireEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		tg, err := s.resolve(ctx, tx, id)
		if err != nil {
			return err
		}
		scope := change.Scope

		switch {
		case tg.master == nil:
			if err := checkEtag(id, ev, *tg.stored); err != nil {
				return err
			}
			cur := ev
			cur.ID = tg.stored.ID
			cur.Recurrence = append([]string(nil), ev.Recurrence...)
			s.stamp(&cur, tg.stored.Provider)
			out = cur
			return s.put(ctx, tx, cur)

		case tg.orig.IsZero():
			// The series itself: its first occurrence stands in.
			tg.orig = tg.masterStart
			if scope == provider.ScopeSingle {
				scope = provider.ScopeAll
			}
		}

		switch scope {
		case provider.ScopeSingle:
			out, err = s.writeOverride(ctx, tx, tg, ev, false)
		case provider.ScopeAll:
			out, err = s.shiftSeries(ctx, tx, tg, ev)
		case provider.ScopeThisAndFuture:
			out, err = s.splitSeries(ctx, tx, tg, ev, change.Cutoff)
		}
		return err
	})
	if err != nil {
		var conflict *provider.ConflictError
		if errors.As(err, &conflict) {
			return model.WireEvent{}, conflict
		}
		return model.WireEvent{}, &provider.PersistenceError{Op: "update", ID: id, Err: err}
	}
	appLog.Info("sqlite: event updated", "id", id, "scope", change.Scope, "result", out.ID)
	return out, nil
}

// DeleteEvent removes the event named by id within the change's scope.
func (s *Store) DeleteEvent(ctx context.Context, id string, change provider.Change) error {
	if err := change.Validate(); err != nil {
		return &provider.PersistenceError{Op: "delete", ID: id, Err: err}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		tg, err := s.resolve(ctx, tx, id)
		if err != nil {
			return err
		}
		if tg.master == nil {
			_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, tg.stored.ID)
			return err
		}
		scope := change.Scope
		if tg.orig.IsZero() {
			tg.orig = tg.masterStart
			if scope == provider.ScopeSingle {
				scope = provider.ScopeAll
			}
		}

		switch scope {
		case provider.ScopeSingle:
			_, err = s.writeOverride(ctx, tx, tg, tg.occurrence(), true)
			return err
		case provider.ScopeAll:
			return s.deleteSeries(ctx, tx, tg.master.ID)
		default:
			if !change.Cutoff.After(tg.masterStart) {
				return s.deleteSeries(ctx, tx, tg.master.ID)
			}
			return s.truncateSeries(ctx, tx, tg, change.Cutoff)
		}
	})
	if err != nil {
		return &provider.PersistenceError{Op: "delete", ID: id, Err: err}
	}
	appLog.Info("sqlite: event deleted", "id", id, "scope", change.Scope)
	return nil
}

// target is what an id names: a single event, or an occurrence (orig set)
// or the whole of a series.
type target struct {
	id          string
	stored      *model.WireEvent
	master      *model.WireEvent
	masterStart time.Time
	masterEnd   time.Time
	orig        time.Time
	allDay      bool
}

// occurrence rebuilds the unedited instance of the target's occurrence.
func (tg target) occurrence() model.WireEvent {
	if tg.stored != nil && tg.stored.RecurringEventID != "" {
		return *tg.stored
	}
	inst := *tg.master
	inst.ID = provider.InstanceID(tg.master.ID, tg.orig, tg.allDay)
	if tg.allDay {
		days := model.DaysBetween(tg.masterStart, tg.masterEnd)
		inst.Start = model.DateBoundary(tg.orig)
		inst.End = model.DateBoundary(tg.orig.AddDate(0, 0, days))
	} else {
		inst.Start = model.DateTimeBoundary(tg.orig)
		inst.End = model.DateTimeBoundary(tg.orig.Add(tg.masterEnd.Sub(tg.masterStart)))
	}
	return inst
}

func (s *Store) resolve(ctx context.Context, q querier, id string) (target, error) {
	tg := target{id: id}
	stored, ok, err := s.get(ctx, q, id)
	if err != nil {
		return tg, err
	}

	var masterID string
	switch {
	case ok && stored.RecurringEventID != "":
		tg.stored = &stored
		masterID = stored.RecurringEventID
		if tg.orig, err = stored.OriginalStartTime.Resolve(s.loc); err != nil {
			return tg, fmt.Errorf("override %s: %w", id, err)
		}
	case ok && len(stored.Recurrence) > 0:
		tg.stored = &stored
		tg.master = &stored
	case ok:
		tg.stored = &stored
		return tg, nil
	default:
		mid, orig, _, split := provider.SplitInstanceID(id, s.loc)
		if !split {
			return tg, provider.ErrNotFound
		}
		masterID, tg.orig = mid, orig
	}

	if tg.master == nil {
		master, found, err := s.get(ctx, q, masterID)
		if err != nil {
			return tg, err
		}
		if !found || len(master.Recurrence) == 0 {
			if tg.stored != nil {
				// An override that outlived its series acts as a plain event.
				return tg, nil
			}
			return tg, provider.ErrNotFound
		}
		tg.master = &master
	}

	start, end, ok := provider.Bounds(*tg.master, s.loc)
	if !ok {
		return tg, fmt.Errorf("series %s has no usable start", tg.master.ID)
	}
	tg.masterStart, tg.masterEnd = start, end
	tg.allDay = tg.master.IsAllDay()
	if tg.allDay && !tg.orig.IsZero() {
		tg.orig = model.StartOfDay(tg.orig.In(start.Location()))
	}
	return tg, nil
}

// writeOverride stores ev as the replacement, or the cancellation, of the
// target occurrence.
func (s *Store) writeOverride(ctx context.Context, tx *sql.Tx, tg target, ev model.WireEvent, cancel bool) (model.WireEvent, error) {
	prior := tg.master
	if tg.stored != nil && tg.stored.RecurringEventID != "" {
		prior = tg.stored
	}
	if !cancel {
		if err := checkEtag(tg.id, ev, *prior); err != nil {
			return model.WireEvent{}, err
		}
	}

	ov := ev
	ov.ID = provider.InstanceID(tg.master.ID, tg.orig, tg.allDay)
	ov.RecurringEventID = tg.master.ID
	ov.Recurrence = nil
	if tg.allDay {
		ov.OriginalStartTime = model.DateBoundary(tg.orig)
	} else {
		ov.OriginalStartTime = model.DateTimeBoundary(tg.orig)
	}

	var priorMeta *model.ProviderMetadata
	if tg.stored != nil && tg.stored.RecurringEventID != "" {
		priorMeta = tg.stored.Provider
	}
	s.stamp(&ov, priorMeta)
	if ov.Provider.ICalUID == "" || priorMeta == nil {
		ov.Provider.ICalUID = icalUID(tg.master)
	}
	if cancel {
		ov.Provider.Status = provider.StatusCancelled
	}
	if err := s.put(ctx, tx, ov); err != nil {
		return model.WireEvent{}, err
	}
	return provider.Decorate(*tg.master, ov), nil
}

// shiftSeries applies ev to the whole series, moving every occurrence by
// the distance the edited occurrence moved.
func (s *Store) shiftSeries(ctx context.Context, tx *sql.Tx, tg target, ev model.WireEvent) (model.WireEvent, error) {
	if err := checkEtag(tg.id, ev, *tg.master); err != nil {
		return model.WireEvent{}, err
	}
	newStart, newEnd, ok := provider.Bounds(ev, s.loc)
	if !ok {
		return model.WireEvent{}, provider.ErrInvalidEvent
	}

	days := model.DaysBetween(tg.orig, newStart)
	clock := timeOfDay(newStart) - timeOfDay(tg.orig)
	if tg.allDay {
		clock = 0
	}
	moved := days != 0 || clock != 0 || newEnd.Sub(newStart) != tg.occurrenceLength()

	rules, err := carryRules(ev.Recurrence, tg.master.Recurrence, days, 0, !moved)
	if err != nil {
		return model.WireEvent{}, err
	}

	master := *tg.master
	applyFields(&master, ev)
	master.Recurrence = rules
	seriesStart := tg.masterStart.AddDate(0, 0, days).Add(clock)
	seriesEnd := seriesStart.Add(newEnd.Sub(newStart))
	if tg.allDay {
		seriesEnd = seriesStart.AddDate(0, 0, model.DaysBetween(newStart, newEnd))
	}
	setBounds(&master, seriesStart, seriesEnd, tg.allDay, ev.Start)
	s.stamp(&master, tg.master.Provider)
	if err := s.put(ctx, tx, master); err != nil {
		return model.WireEvent{}, err
	}
	if moved {
		// Exceptions are keyed by the old occurrence starts.
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE master_id = ?`, master.ID); err != nil {
			return model.WireEvent{}, err
		}
	}

	occ := tg.orig.AddDate(0, 0, days).Add(clock)
	return seriesInstance(master, occ, newStart, newEnd, tg.allDay), nil
}

// splitSeries ends the series before cutoff and starts a new one from the
// edited occurrence.
func (s *Store) splitSeries(ctx context.Context, tx *sql.Tx, tg target, ev model.WireEvent, cutoff time.Time) (model.WireEvent, error) {
	if !cutoff.After(tg.masterStart) {
		return s.shiftSeries(ctx, tx, tg, ev)
	}
	if err := checkEtag(tg.id, ev, *tg.master); err != nil {
		return model.WireEvent{}, err
	}
	newStart, newEnd, ok := provider.Bounds(ev, s.loc)
	if !ok {
		return model.WireEvent{}, provider.ErrInvalidEvent
	}

	remaining := 0
	if r, err := recurrence.First(tg.master.Recurrence); err == nil && r.Count > 0 {
		before, _, err := recurrence.Occurrences(tg.master.Recurrence, tg.masterStart, nil, tg.masterStart, cutoff)
		if err != nil {
			return model.WireEvent{}, err
		}
		remaining = r.Count - len(before)
		if remaining < 1 {
			remaining = 1
		}
	}

	if err := s.truncateSeries(ctx, tx, tg, cutoff); err != nil {
		return model.WireEvent{}, err
	}

	rules, err := carryRules(ev.Recurrence, tg.master.Recurrence, model.DaysBetween(tg.orig, newStart), remaining, newStart.Equal(tg.orig))
	if err != nil {
		return model.WireEvent{}, err
	}
	next := ev
	next.ID = uuid.NewString()
	next.RecurringEventID = ""
	next.OriginalStartTime = nil
	next.Recurrence = rules
	next.Provider = nil
	setBounds(&next, newStart, newEnd, tg.allDay, ev.Start)
	s.stamp(&next, nil)
	if err := s.put(ctx, tx, next); err != nil {
		return model.WireEvent{}, err
	}
	appLog.Debug("sqlite: series split", "from", tg.master.ID, "to", next.ID, "cutoff", cutoff)
	return seriesInstance(next, newStart, newStart, newEnd, tg.allDay), nil
}

// truncateSeries ends the series at cutoff and drops exceptions after it.
func (s *Store) truncateSeries(ctx context.Context, tx *sql.Tx, tg target, cutoff time.Time) error {
	master := *tg.master
	rules := make([]string, 0, len(master.Recurrence))
	for _, line := range master.Recurrence {
		if _, err := recurrence.Parse(line); err != nil {
			rules = append(rules, line)
			continue
		}
		cut, err := recurrence.Truncate(line, cutoff.In(tg.masterStart.Location()))
		if err != nil {
			return err
		}
		rules = append(rules, cut)
	}
	master.Recurrence = rules
	s.stamp(&master, tg.master.Provider)
	if err := s.put(ctx, tx, master); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE master_id = ? AND original_start > ?`,
		master.ID, cutoff.UTC().Format(tsLayout),
	)
	return err
}

func (s *Store) deleteSeries(ctx context.Context, tx *sql.Tx, masterID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ? OR master_id = ?`, masterID, masterID)
	return err
}

func (tg target) occurrenceLength() time.Duration {
	return tg.masterEnd.Sub(tg.masterStart)
}

// carryRules picks the recurrence of a rewritten series. Rules sent back
// unchanged follow the moved weekday and the remaining count; rules the
// caller edited are taken as they are. EXDATE lines pin occurrence starts
// and are kept only while those starts stay put.
func carryRules(sent, current []string, days, remaining int, keepExdates bool) ([]string, error) {
	if len(sent) > 0 && !sameStrings(sent, current) {
		return append([]string(nil), sent...), nil
	}
	out := make([]string, 0, len(current))
	for _, line := range current {
		if _, err := recurrence.Parse(line); err != nil {
			if keepExdates {
				out = append(out, line)
			}
			continue
		}
		shifted, err := recurrence.ShiftWeekdays(line, days)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			if shifted, err = recurrence.WithCount(shifted, remaining); err != nil {
				return nil, err
			}
		}
		out = append(out, shifted)
	}
	return out, nil
}

func seriesInstance(master model.WireEvent, orig, start, end time.Time, allDay bool) model.WireEvent {
	inst := master
	inst.ID = provider.InstanceID(master.ID, orig, allDay)
	inst.RecurringEventID = master.ID
	setBounds(&inst, start, end, allDay, master.Start)
	if allDay {
		inst.OriginalStartTime = model.DateBoundary(orig)
	} else {
		inst.OriginalStartTime = model.DateTimeBoundary(orig)
	}
	return inst
}

// applyFields copies the editable fields of ev onto dst.
func applyFields(dst *model.WireEvent, ev model.WireEvent) {
	dst.Summary = ev.Summary
	dst.Description = ev.Description
	dst.Location = ev.Location
	dst.ExtendedProperties = ev.ExtendedProperties
}

// setBounds writes start and the exclusive end; all-day bounds keep the
// date only.
func setBounds(ev *model.WireEvent, start, end time.Time, allDay bool, like *model.EventDateTime) {
	if allDay {
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		ev.Start = model.DateBoundary(start)
		ev.End = model.DateBoundary(end)
		return
	}
	ev.Start = model.DateTimeBoundary(start)
	ev.End = model.DateTimeBoundary(end)
	if like != nil && like.TimeZone != "" {
		ev.Start.TimeZone = like.TimeZone
		ev.End.TimeZone = like.TimeZone
	}
}

func timeOfDay(t time.Time) time.Duration {
	return t.Sub(model.StartOfDay(t))
}

func checkEtag(id string, sent, stored model.WireEvent) error {
	if sent.Provider == nil || sent.Provider.Etag == "" {
		return nil
	}
	var have string
	if stored.Provider != nil {
		have = stored.Provider.Etag
	}
	if sent.Provider.Etag != have {
		return &provider.ConflictError{ID: id, Want: sent.Provider.Etag, Got: have}
	}
	return nil
}

// stamp refreshes provider metadata for a write. prior is the stored
// metadata of the row being replaced, if any.
func (s *Store) stamp(ev *model.WireEvent, prior *model.ProviderMetadata) {
	now := s.now().UTC()
	meta := model.ProviderMetadata{}
	if ev.Provider != nil {
		meta = *ev.Provider
	}
	if prior != nil {
		meta.Created = prior.Created
		meta.ICalUID = prior.ICalUID
		meta.Sequence = prior.Sequence + 1
		if meta.Organizer == nil {
			meta.Organizer = prior.Organizer
		}
	} else {
		meta.Created = now
		meta.Sequence = 0
		meta.ICalUID = ev.ID + "@" + source
	}
	meta.Status = provider.StatusConfirmed
	meta.Updated = now
	meta.Source = source
	meta.Etag = `"` + strconv.Itoa(meta.Sequence) + "-" + strconv.FormatInt(now.UnixNano(), 36) + `"`
	ev.Provider = &meta
}

func icalUID(master *model.WireEvent) string {
	if master.Provider != nil && master.Provider.ICalUID != "" {
		return master.Provider.ICalUID
	}
	return master.ID + "@" + source
}

func (s *Store) validate(ev model.WireEvent) error {
	if ev.Start.IsZero() {
		return fmt.Errorf("%w: missing start", provider.ErrInvalidEvent)
	}
	start, err := ev.Start.Resolve(s.loc)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
	}
	if !ev.End.IsZero() {
		end, err := ev.End.Resolve(s.loc)
		if err != nil {
			return fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
		}
		if end.Before(start) {
			return fmt.Errorf("%w: end before start", provider.ErrInvalidEvent)
		}
	}
	for _, line := range ev.Recurrence {
		if len(recurrence.ExDates(line, s.loc)) > 0 {
			continue
		}
		if _, err := recurrence.Parse(line); err != nil {
			return fmt.Errorf("%w: %v", provider.ErrInvalidEvent, err)
		}
	}
	return nil
}

func (s *Store) get(ctx context.Context, q querier, id string) (model.WireEvent, bool, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WireEvent{}, false, nil
	}
	if err != nil {
		return model.WireEvent{}, false, err
	}
	var ev model.WireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return model.WireEvent{}, false, fmt.Errorf("decode event %s: %w", id, err)
	}
	return ev, true, nil
}

func (s *Store) put(ctx context.Context, q querier, ev model.WireEvent) error {
	start, end, ok := provider.Bounds(ev, s.loc)
	if !ok {
		return provider.ErrInvalidEvent
	}
	var orig string
	if !ev.OriginalStartTime.IsZero() {
		t, err := ev.OriginalStartTime.Resolve(s.loc)
		if err != nil {
			return fmt.Errorf("original start: %w", err)
		}
		orig = t.UTC().Format(tsLayout)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	recurring := 0
	if len(ev.Recurrence) > 0 && ev.RecurringEventID == "" {
		recurring = 1
	}
	cancelled := 0
	if provider.IsCancelled(ev) {
		cancelled = 1
	}
	var etag string
	if ev.Provider != nil {
		etag = ev.Provider.Etag
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO events (id, master_id, original_start, start_utc, end_utc, recurring, cancelled, etag, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			master_id = excluded.master_id,
			original_start = excluded.original_start,
			start_utc = excluded.start_utc,
			end_utc = excluded.end_utc,
			recurring = excluded.recurring,
			cancelled = excluded.cancelled,
			etag = excluded.etag,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		ev.ID, ev.RecurringEventID, orig,
		start.UTC().Format(tsLayout), end.UTC().Format(tsLayout),
		recurring, cancelled, etag, string(payload),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
