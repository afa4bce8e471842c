package web

import (
	"bytes"
	"embed"
	"html/template"
	"math"
	"net/http"
	"time"

	"clubcal/internal/layout"
	appLog "clubcal/internal/log"
	"clubcal/internal/model"
)

//go:embed templates/calendar.html
var templateFS embed.FS

var calendarTmpl = template.Must(template.ParseFS(templateFS, "templates/calendar.html"))

// The timed area of the page shows at least these hours, widened to fit
// the earliest and latest event of the range.
const (
	pageFirstHour = 7
	pageLastHour  = 21
)

type calendarPage struct {
	Title    string
	Range    string
	Timezone string
	Width    int
	Height   int
	Stale    bool
	Days     []calendarDay
}

type calendarDay struct {
	Label  string
	Today  bool
	Bars   []calendarBar
	More   int
	Blocks []calendarBlock
}

type calendarBar struct {
	Empty     bool
	Before    bool
	After     bool
	Title     string
	Color     string
	TextColor string
}

type calendarBlock struct {
	Title     string
	Time      string
	Color     string
	TextColor string
	Past      bool
	Top       float64
	Height    float64
	Left      float64
	Width     float64
	Z         int
}

// handleCalendar renders the notice-board page. The root element carries
// data-ready="true" once the markup is complete, which the snapshot
// capture waits for.
//
// GET /calendar?start=2024-06-10&days=7
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	days, err := dayRange(r, s.loc, s.now(), s.cfg.Snapshot.Days)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := s.loadRange(r.Context(), days)
	if err != nil {
		writeFailure(w, err)
		return
	}

	page := s.buildPage(rng)
	var buf bytes.Buffer
	if err := calendarTmpl.Execute(&buf, page); err != nil {
		appLog.Error("render calendar page failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) buildPage(rng rangeEvents) calendarPage {
	days := rng.days
	byID := make(map[string]model.DomainEvent, len(rng.events))
	for _, ev := range rng.events {
		byID[ev.ID] = ev
	}

	last := days[len(days)-1]
	page := calendarPage{
		Title:    "Club calendar",
		Range:    days[0].Format("Jan 2") + " to " + last.Format("Jan 2, 2006"),
		Timezone: s.loc.String(),
		Width:    s.cfg.Snapshot.Width,
		Height:   s.cfg.Snapshot.Height,
		Stale:    rng.snap.Stale,
		Days:     make([]calendarDay, len(days)),
	}

	rowCap := s.cfg.Layout.RowCap
	span := layout.Span(rng.events, days, s.rows.For(days), layout.SpanOptions{RowCap: rowCap})
	firstHour, lastHour := visibleHours(days, rng.events)
	today := model.StartOfDay(s.now().In(s.loc))

	for i, day := range days {
		cd := calendarDay{
			Label: day.Format("Mon 2"),
			Today: day.Equal(today),
			More:  span.Overflow[i],
		}
		for _, cell := range span.Visible(i, rowCap) {
			ev, ok := byID[cell.EventID]
			if cell.Kind != layout.CellEvent || !ok {
				cd.Bars = append(cd.Bars, calendarBar{Empty: true})
				continue
			}
			cd.Bars = append(cd.Bars, calendarBar{
				Before:    cell.ContinuesBefore || i > 0 && !model.StartOfDay(ev.Start).Equal(day),
				After:     cell.ContinuesAfter || i < len(days)-1 && !ev.LastDay().Equal(day),
				Title:     ev.Title,
				Color:     ev.Color,
				TextColor: ev.TextColor,
			})
		}

		for _, slot := range layout.Day(day, rng.events, s.dayOptions()) {
			ev := byID[slot.EventID]
			top, height := rescale(slot.Top, slot.Height, firstHour, lastHour)
			cd.Blocks = append(cd.Blocks, calendarBlock{
				Title:     ev.Title,
				Time:      ev.Start.In(s.loc).Format("15:04"),
				Color:     ev.Color,
				TextColor: ev.TextColor,
				Past:      ev.IsPast,
				Top:       top,
				Height:    height,
				Left:      round2(slot.Left * 100),
				Width:     round2(slot.Width * 100),
				Z:         slot.Z,
			})
		}
		page.Days[i] = cd
	}
	return page
}

// visibleHours widens the default hour window to the timed events of days.
func visibleHours(days []time.Time, events []model.DomainEvent) (int, int) {
	first, last := pageFirstHour, pageLastHour
	from := days[0]
	to := days[len(days)-1].AddDate(0, 0, 1)
	for _, ev := range events {
		if ev.IsAllDay || ev.IsMultiDay || ev.Start.Before(from) || !ev.Start.Before(to) {
			continue
		}
		if h := ev.Start.Hour(); h < first {
			first = h
		}
		end := ev.End
		h := end.Hour()
		if end.Minute() > 0 {
			h++
		}
		if !model.StartOfDay(end).Equal(model.StartOfDay(ev.Start)) {
			h = 24
		}
		if h > last {
			last = h
		}
	}
	return first, last
}

// rescale maps a slot's day fractions onto the [first, last) hour window,
// in percent.
func rescale(top, height float64, first, last int) (float64, float64) {
	span := float64(last-first) / 24
	offset := float64(first) / 24
	t := (top - offset) / span
	b := (top + height - offset) / span
	t = math.Max(0, math.Min(1, t))
	b = math.Max(t, math.Min(1, b))
	return round2(t * 100), round2((b - t) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
