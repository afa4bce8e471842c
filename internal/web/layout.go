package web

import (
	"net/http"
	"sync"
	"time"

	"clubcal/internal/layout"
	"clubcal/internal/model"
)

// maxRowTables bounds the ranges remembered at once; the least recently
// used range loses its rows first.
const maxRowTables = 32

// rowTables keeps one span RowTable per displayed range so a range keeps
// its rows across requests. Reset forgets an event in every range.
type rowTables struct {
	mu     sync.Mutex
	max    int
	clock  uint64
	tables map[rowKey]*rowEntry
}

type rowKey struct {
	start int64
	days  int
}

type rowEntry struct {
	table    *layout.RowTable
	lastUsed uint64
}

func newRowTables() *rowTables {
	return &rowTables{max: maxRowTables, tables: make(map[rowKey]*rowEntry)}
}

func (t *rowTables) For(days []time.Time) *layout.RowTable {
	key := rowKey{start: days[0].Unix(), days: len(days)}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock++
	e, ok := t.tables[key]
	if !ok {
		if len(t.tables) >= t.max {
			t.evictOldest()
		}
		e = &rowEntry{table: layout.NewRowTable()}
		t.tables[key] = e
	}
	e.lastUsed = t.clock
	return e.table
}

func (t *rowTables) evictOldest() {
	var (
		oldest rowKey
		found  bool
		used   uint64
	)
	for k, e := range t.tables {
		if !found || e.lastUsed < used {
			oldest, used, found = k, e.lastUsed, true
		}
	}
	if found {
		delete(t.tables, oldest)
	}
}

func (t *rowTables) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tables)
}

func (t *rowTables) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.tables {
		e.table.Reset(id)
	}
}

func (s *Server) dayOptions() layout.DayOptions {
	return layout.DayOptions{
		Margin:      s.cfg.Layout.DayMargin,
		MinDuration: time.Duration(s.cfg.Layout.MinEventMinutes) * time.Minute,
	}
}

type dayLayoutResponse struct {
	Date   string        `json:"date"`
	Stale  bool          `json:"stale,omitempty"`
	Events []eventDTO    `json:"events"`
	Slots  []layout.Slot `json:"slots"`
}

// handleDayLayout positions the timed events of one day.
//
// GET /api/layout/day?date=2024-06-10
func (s *Server) handleDayLayout(w http.ResponseWriter, r *http.Request) {
	day := model.StartOfDay(s.now().In(s.loc))
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.ParseInLocation(model.DateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}
	rng, err := s.loadRange(r.Context(), []time.Time{day})
	if err != nil {
		writeFailure(w, err)
		return
	}

	slots := layout.Day(day, rng.events, s.dayOptions())
	if slots == nil {
		slots = []layout.Slot{}
	}
	resp := dayLayoutResponse{
		Date:   day.Format(model.DateLayout),
		Stale:  rng.snap.Stale,
		Events: make([]eventDTO, 0, len(slots)),
		Slots:  slots,
	}
	for _, ev := range rng.events {
		if !ev.IsAllDay && !ev.IsMultiDay {
			resp.Events = append(resp.Events, s.toDTO(ev))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type spanLayoutResponse struct {
	Stale  bool       `json:"stale,omitempty"`
	RowCap int        `json:"rowCap"`
	Events []eventDTO `json:"events"`
	layout.SpanResult
}

// handleSpanLayout stacks all-day and multi-day events over a range.
//
// GET /api/layout/span?start=2024-06-10&days=7&cap=3
func (s *Server) handleSpanLayout(w http.ResponseWriter, r *http.Request) {
	days, err := dayRange(r, s.loc, s.now(), defaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rowCap := parseIntDefault(r.URL.Query().Get("cap"), s.cfg.Layout.RowCap)
	if rowCap < 0 {
		writeError(w, http.StatusBadRequest, "cap must not be negative")
		return
	}
	rng, err := s.loadRange(r.Context(), days)
	if err != nil {
		writeFailure(w, err)
		return
	}

	res := layout.Span(rng.events, days, s.rows.For(days), layout.SpanOptions{RowCap: rowCap})
	resp := spanLayoutResponse{Stale: rng.snap.Stale, RowCap: rowCap, SpanResult: res}
	for _, ev := range rng.events {
		if ev.IsAllDay || ev.IsMultiDay {
			resp.Events = append(resp.Events, s.toDTO(ev))
		}
	}
	if resp.Events == nil {
		resp.Events = []eventDTO{}
	}
	writeJSON(w, http.StatusOK, resp)
}
