package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"clubcal/internal/ics"
	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/normalize"
	"clubcal/internal/provider"
	"clubcal/internal/recurrence"
)

// eventDTO is a normalized event as the UI sees it.
type eventDTO struct {
	model.DomainEvent
	RecurrenceText string `json:"recurrenceText,omitempty"`
	ReadOnly       bool   `json:"readOnly,omitempty"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Timezone  string     `json:"timezone"`
	WeekStart string     `json:"weekStart"`
	Stale     bool       `json:"stale,omitempty"`
	FetchedAt time.Time  `json:"fetchedAt"`
	Events    []eventDTO `json:"events"`
}

// rangeEvents is one loaded range: its days, the working-set events that
// touch it and the cache snapshot they came from.
type rangeEvents struct {
	days   []time.Time
	start  time.Time
	end    time.Time
	events []model.DomainEvent
	snap   provider.Snapshot
}

// loadRange fetches [days[0], last day] through the cache and merges it
// into the drag working set. A failed fetch with an older copy still
// succeeds, with snap.Stale set.
func (s *Server) loadRange(ctx context.Context, days []time.Time) (rangeEvents, error) {
	start := days[0]
	end := days[len(days)-1].AddDate(0, 0, 1)

	snap, err := s.cache.Lookup(ctx, start, end)
	if err != nil && !snap.Stale {
		return rangeEvents{}, err
	}
	if errs := s.coord.LoadRange(snap.Events, start, end); len(errs) > 0 {
		appLog.Warn("api: skipped malformed events", "count", len(errs), "first", errs[0])
	}
	return rangeEvents{
		days:   days,
		start:  start,
		end:    end,
		events: s.coord.WorkingSet().Between(start, end),
		snap:   snap,
	}, nil
}

func (s *Server) toDTO(ev model.DomainEvent) eventDTO {
	dto := eventDTO{DomainEvent: ev, RecurrenceText: normalize.RecurrenceText(ev)}
	if _, wire, ok := s.coord.WorkingSet().Get(ev.ID); ok && wire.Provider != nil {
		dto.ReadOnly = strings.HasPrefix(wire.Provider.Source, "ics:")
	}
	return dto
}

// handleEvents returns normalized events of a range of days.
//
// GET /api/events?start=2024-06-10&days=7
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	days, err := dayRange(r, s.loc, s.now(), defaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := s.loadRange(r.Context(), days)
	if err != nil {
		writeFailure(w, err)
		return
	}

	dtos := make([]eventDTO, 0, len(rng.events))
	for _, ev := range rng.events {
		dtos = append(dtos, s.toDTO(ev))
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Start:     rng.start,
		End:       rng.end,
		Timezone:  s.loc.String(),
		WeekStart: s.cfg.WeekStart,
		Stale:     rng.snap.Stale,
		FetchedAt: rng.snap.FetchedAt,
		Events:    dtos,
	})
}

// createRequest is the body of POST /api/events. Start and End are RFC3339
// instants, or YYYY-MM-DD dates when AllDay is set (End inclusive).
type createRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	AllDay      bool     `json:"allDay"`
	Recurrence  string   `json:"recurrence"`
	Miles       *float64 `json:"miles"`
}

func (s *Server) parseBoundary(v string, allDay bool) (time.Time, error) {
	if allDay {
		if t, err := time.ParseInLocation(model.DateLayout, v, s.loc); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(s.loc), nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	start, err := s.parseBoundary(req.Start, req.AllDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end := start
	if req.End != "" {
		if end, err = s.parseBoundary(req.End, req.AllDay); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
	}

	now := s.now()
	ev := s.norm.NewEvent(model.EventType(req.Type), req.Title, start, end, req.AllDay, now)
	ev.Description = req.Description
	ev.Location = req.Location
	ev.Miles = req.Miles
	if rule := strings.TrimSpace(req.Recurrence); rule != "" {
		if !strings.HasPrefix(strings.ToUpper(rule), recurrence.Prefix) {
			rule = recurrence.Prefix + rule
		}
		if _, err := recurrence.Parse(rule); err != nil {
			writeFailure(w, err)
			return
		}
		ev.Recurrence = []string{rule}
	}

	saved, err := s.cache.CreateEvent(r.Context(), s.norm.ToWire(ev, nil))
	if err != nil {
		writeFailure(w, err)
		return
	}
	created, err := s.norm.FromWire(saved, now)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.coord.WorkingSet().Put(created, saved)
	appLog.Info("api: event created", "id", created.ID, "type", created.Type, "recurring", created.IsRecurring())
	writeJSON(w, http.StatusCreated, s.toDTO(created))
}

// handleDelete removes an event. For an occurrence of a series, scope is
// single (default), thisAndFuture or all.
//
// DELETE /api/events/{id}?scope=thisAndFuture
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	scope, err := provider.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	change := provider.Change{Scope: scope}
	if scope == provider.ScopeThisAndFuture {
		orig, ok := s.originalStart(id)
		if !ok {
			writeError(w, http.StatusBadRequest, "thisAndFuture needs an occurrence id")
			return
		}
		change.Cutoff = provider.CutoffFor(orig)
	}

	if err := s.cache.DeleteEvent(r.Context(), id, change); err != nil {
		writeFailure(w, err)
		return
	}
	s.coord.WorkingSet().Remove(id)
	s.rows.Reset(id)
	appLog.Info("api: event deleted", "id", id, "scope", scope)
	w.WriteHeader(http.StatusNoContent)
}

// originalStart is the start the occurrence id had in its series.
func (s *Server) originalStart(id string) (time.Time, bool) {
	if ev, _, ok := s.coord.WorkingSet().Get(id); ok && ev.IsRecurring() {
		return ev.RecurrenceAnchor(), true
	}
	_, orig, _, ok := provider.SplitInstanceID(id, s.loc)
	return orig, ok
}

// handleExport writes a range as an iCalendar file.
//
// GET /api/export.ics?start=2024-06-01&days=30
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	days, err := dayRange(r, s.loc, s.now(), defaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := days[0]
	end := days[len(days)-1].AddDate(0, 0, 1)
	snap, err := s.cache.Lookup(r.Context(), start, end)
	if err != nil && !snap.Stale {
		writeFailure(w, err)
		return
	}

	body := ics.Encode("Club calendar", snap.Events, s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="clubcal.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("failed to write ICS export", err)
	}
}
