package layout

import (
	"sort"
	"strings"
	"sync"
	"time"

	"clubcal/internal/model"
)

// Unassigned is the row of an event that has no usable assignment.
const Unassigned = -1

type CellKind int

const (
	CellEmpty CellKind = iota
	CellEvent
	// CellPlaceholder marks a free cell next to a multi-day bar in the same
	// row. Only other multi-day events may take it.
	CellPlaceholder
)

func (k CellKind) String() string {
	switch k {
	case CellEvent:
		return "event"
	case CellPlaceholder:
		return "placeholder"
	default:
		return "empty"
	}
}

func (k CellKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Cell struct {
	Kind    CellKind `json:"kind"`
	EventID string   `json:"eventId,omitempty"`
	// ContinuesBefore/After are set when the event also covers the
	// previous/next calendar day.
	ContinuesBefore bool `json:"continuesBefore,omitempty"`
	ContinuesAfter  bool `json:"continuesAfter,omitempty"`
}

type assignment struct {
	row   int
	start time.Time
	end   time.Time
}

// RowTable remembers the row each span event was given, keyed by event id.
// An entry is only honored while the event keeps the span it was assigned
// with. A table belongs to one contiguous range of days.
type RowTable struct {
	mu   sync.Mutex
	rows map[string]assignment
}

func NewRowTable() *RowTable {
	return &RowTable{rows: make(map[string]assignment)}
}

// Row returns the remembered row for id, or Unassigned.
func (t *RowTable) Row(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.rows[id]; ok {
		return a.row
	}
	return Unassigned
}

// Reset forgets the row of id so the next pass places it from scratch.
func (t *RowTable) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, id)
}

func (t *RowTable) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[string]assignment)
}

func (t *RowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Snapshot returns a copy of the id to row mapping.
func (t *RowTable) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.rows))
	for id, a := range t.rows {
		out[id] = a.row
	}
	return out
}

func (t *RowTable) lookup(ev model.DomainEvent) int {
	a, ok := t.rows[ev.ID]
	if !ok {
		return Unassigned
	}
	if !a.start.Equal(ev.Start) || !a.end.Equal(ev.End) {
		return Unassigned
	}
	return a.row
}

type SpanOptions struct {
	// RowCap is the number of rows shown per day before collapsing the rest
	// into an overflow count. Zero disables the cap.
	RowCap int
}

type SpanResult struct {
	Days []time.Time `json:"days"`
	// Rows holds one row list per day; every day has the same number of rows.
	Rows [][]Cell `json:"rows"`
	// Overflow counts, per day, the events in rows at or beyond the cap.
	Overflow []int  `json:"overflow"`
	Slots    []Slot `json:"slots"`

	Table *RowTable `json:"-"`
}

// RowCount is the number of rows of the layout.
func (r SpanResult) RowCount() int {
	if len(r.Rows) == 0 {
		return 0
	}
	return len(r.Rows[0])
}

// Visible returns the cells of day i that fit under the cap.
func (r SpanResult) Visible(i, rowCap int) []Cell {
	cells := r.Rows[i]
	if rowCap > 0 && len(cells) > rowCap {
		return cells[:rowCap]
	}
	return cells
}

type spanItem struct {
	ev     model.DomainEvent
	d0, d1 int
	multi  bool
	before bool
	after  bool
}

// Span stacks all-day and multi-day events over the ordered days so that an
// event keeps one row on every day it covers. Rows remembered in table are
// reused when still free; the table is updated with this pass's rows. A nil
// table starts empty. Events entirely outside days are dropped.
func Span(events []model.DomainEvent, days []time.Time, table *RowTable, opts SpanOptions) SpanResult {
	if table == nil {
		table = NewRowTable()
	}
	res := SpanResult{Days: days, Table: table, Overflow: make([]int, len(days))}
	if len(days) == 0 {
		return res
	}

	keys := make([]int, len(days))
	for i, d := range days {
		keys[i] = dateKey(d)
	}
	loc := days[0].Location()

	items := make([]*spanItem, 0, len(events))
	for _, ev := range events {
		if !ev.IsAllDay && !ev.IsMultiDay {
			continue
		}
		first, last := coveredKeys(ev, loc)
		it := &spanItem{ev: ev, d0: -1, d1: -1}
		for i, k := range keys {
			if k < first || k > last {
				continue
			}
			if it.d0 < 0 {
				it.d0 = i
			}
			it.d1 = i
		}
		if it.d0 < 0 {
			continue
		}
		it.before = first < keys[it.d0]
		it.after = last > keys[it.d1]
		it.multi = it.d1 > it.d0 || it.before || it.after
		items = append(items, it)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ev, items[j].ev
		if a.IsNew != b.IsNew {
			return a.IsNew
		}
		if a.IsAllDay != b.IsAllDay {
			return a.IsAllDay
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.After(b.End)
		}
		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	table.mu.Lock()
	defer table.mu.Unlock()

	g := &grid{cells: make([][]Cell, len(days))}
	for _, it := range items {
		row := table.lookup(it.ev)
		if row == Unassigned || !g.free(row, it) {
			row = g.firstFree(it)
		}
		g.place(row, it)
		table.rows[it.ev.ID] = assignment{row: row, start: it.ev.Start, end: it.ev.End}

		res.Slots = append(res.Slots, Slot{
			EventID: it.ev.ID,
			Row:     row,
			Day:     it.d0,
			DaySpan: it.d1 - it.d0 + 1,
			Left:    float64(it.d0) / float64(len(days)),
			Width:   float64(it.d1-it.d0+1) / float64(len(days)),
			Z:       row,
		})
	}

	g.pad()
	res.Rows = g.cells
	if opts.RowCap > 0 {
		for d, cells := range g.cells {
			for r := opts.RowCap; r < len(cells); r++ {
				if cells[r].Kind == CellEvent {
					res.Overflow[d]++
				}
			}
		}
	}
	return res
}

type grid struct {
	cells [][]Cell
	rows  int
}

func (g *grid) at(day, row int) Cell {
	if row >= len(g.cells[day]) {
		return Cell{}
	}
	return g.cells[day][row]
}

func (g *grid) free(row int, it *spanItem) bool {
	if row < 0 {
		return false
	}
	for d := it.d0; d <= it.d1; d++ {
		switch g.at(d, row).Kind {
		case CellEvent:
			return false
		case CellPlaceholder:
			if !it.multi {
				return false
			}
		}
	}
	return true
}

func (g *grid) firstFree(it *spanItem) int {
	for r := 0; r < g.rows; r++ {
		if g.free(r, it) {
			return r
		}
	}
	return g.rows
}

func (g *grid) set(day, row int, c Cell) {
	for len(g.cells[day]) <= row {
		g.cells[day] = append(g.cells[day], Cell{})
	}
	g.cells[day][row] = c
	if row >= g.rows {
		g.rows = row + 1
	}
}

func (g *grid) place(row int, it *spanItem) {
	for d := it.d0; d <= it.d1; d++ {
		g.set(d, row, Cell{
			Kind:            CellEvent,
			EventID:         it.ev.ID,
			ContinuesBefore: d > it.d0 || it.before,
			ContinuesAfter:  d < it.d1 || it.after,
		})
	}
	if !it.multi {
		return
	}
	for _, d := range []int{it.d0 - 1, it.d1 + 1} {
		if d >= 0 && d < len(g.cells) && g.at(d, row).Kind == CellEmpty {
			g.set(d, row, Cell{Kind: CellPlaceholder})
		}
	}
}

// pad gives every day the same number of rows.
func (g *grid) pad() {
	for d := range g.cells {
		for len(g.cells[d]) < g.rows {
			g.cells[d] = append(g.cells[d], Cell{})
		}
	}
}

// coveredKeys returns the first and last calendar day an event covers.
// All-day events keep their own dates; timed events are read in loc.
func coveredKeys(ev model.DomainEvent, loc *time.Location) (int, int) {
	if ev.IsAllDay {
		last := ev.End
		if last.Before(ev.Start) {
			last = ev.Start
		}
		return dateKey(ev.Start), dateKey(last)
	}
	local := ev
	local.Start = ev.Start.In(loc)
	local.End = ev.End.In(loc)
	return dateKey(local.Start), dateKey(local.LastDay())
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
