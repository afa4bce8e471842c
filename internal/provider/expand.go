package provider

import (
	"errors"
	"sort"
	"time"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/recurrence"
)

// ExpandResult wraps the expanded instances and the series that hit the
// occurrence cap.
type ExpandResult struct {
	Events          []model.WireEvent
	TruncatedSeries []string
}

// Expand turns stored events into what a range fetch returns:
//
//   - single events overlapping [from, to]
//   - one instance per occurrence of each recurring master, carrying the
//     master's recurrence, RecurringEventID and OriginalStartTime
//   - overrides in place of the occurrence they replace
//   - cancelled overrides removing their occurrence
//
// Instance ids come from InstanceID. loc resolves boundaries without a
// zone of their own.
func Expand(stored []model.WireEvent, from, to time.Time, loc *time.Location) (ExpandResult, error) {
	var result ExpandResult
	if to.Before(from) {
		return result, errors.New("expand: range end is before range start")
	}
	if loc == nil {
		loc = time.Local
	}

	masters := make(map[string]model.WireEvent)
	overrides := make(map[string][]model.WireEvent)
	var singles []model.WireEvent
	for _, ev := range stored {
		switch {
		case ev.RecurringEventID != "":
			overrides[ev.RecurringEventID] = append(overrides[ev.RecurringEventID], ev)
		case len(ev.Recurrence) > 0:
			masters[ev.ID] = ev
		default:
			singles = append(singles, ev)
		}
	}

	out := make([]model.WireEvent, 0, len(stored))
	for _, ev := range singles {
		if IsCancelled(ev) {
			continue
		}
		if overlaps(ev, from, to, loc) {
			out = append(out, ev)
		}
	}

	for id, master := range masters {
		instances, truncated, err := expandMaster(master, overrides[id], from, to, loc)
		if err != nil {
			appLog.Warn("expand: skipping series with unusable recurrence", "id", id, "err", err)
			continue
		}
		if truncated {
			result.TruncatedSeries = append(result.TruncatedSeries, id)
			appLog.Warn("expand: truncated occurrences for series", "id", id, "cap", recurrence.MaxOccurrences)
		}
		out = append(out, instances...)
	}

	// Overrides whose master is gone are shown as they are.
	for masterID, ovs := range overrides {
		if _, ok := masters[masterID]; ok {
			continue
		}
		for _, ov := range ovs {
			if !IsCancelled(ov) && overlaps(ov, from, to, loc) {
				out = append(out, ov)
			}
		}
	}

	sortByStart(out, loc)
	result.Events = out
	return result, nil
}

func expandMaster(master model.WireEvent, ovs []model.WireEvent, from, to time.Time, loc *time.Location) ([]model.WireEvent, bool, error) {
	start, err := master.Start.Resolve(loc)
	if err != nil {
		return nil, false, err
	}
	end := start
	if !master.End.IsZero() {
		if end, err = master.End.Resolve(loc); err != nil {
			return nil, false, err
		}
	}
	allDay := master.IsAllDay()
	days := model.DaysBetween(start, end)
	dur := end.Sub(start)

	// Occurrences that started before the window may still overlap it.
	lookback := dur
	if allDay {
		lookback = time.Duration(days) * 24 * time.Hour
	}
	starts, truncated, err := recurrence.Occurrences(master.Recurrence, start, exdates(master, loc), from.Add(-lookback), to)
	if err != nil {
		return nil, false, err
	}

	replaced := make(map[int64]model.WireEvent, len(ovs))
	for _, ov := range ovs {
		orig, err := ov.OriginalStartTime.Resolve(loc)
		if err != nil {
			continue
		}
		replaced[orig.Unix()] = ov
	}

	var out []model.WireEvent
	for _, occ := range starts {
		if ov, ok := replaced[occ.Unix()]; ok {
			delete(replaced, occ.Unix())
			if !IsCancelled(ov) && overlaps(ov, from, to, loc) {
				out = append(out, Decorate(master, ov))
			}
			continue
		}
		inst := instance(master, occ, allDay, days, dur)
		if overlaps(inst, from, to, loc) {
			out = append(out, inst)
		}
	}

	// Overrides moved into the window from an occurrence outside it.
	for _, ov := range replaced {
		if !IsCancelled(ov) && overlaps(ov, from, to, loc) {
			out = append(out, Decorate(master, ov))
		}
	}
	return out, truncated, nil
}

func instance(master model.WireEvent, occ time.Time, allDay bool, days int, dur time.Duration) model.WireEvent {
	inst := master
	inst.ID = InstanceID(master.ID, occ, allDay)
	inst.RecurringEventID = master.ID
	inst.Recurrence = append([]string(nil), master.Recurrence...)
	if allDay {
		inst.Start = model.DateBoundary(occ)
		inst.End = model.DateBoundary(occ.AddDate(0, 0, days))
		inst.OriginalStartTime = model.DateBoundary(occ)
	} else {
		inst.Start = withZone(model.DateTimeBoundary(occ), master.Start)
		inst.End = withZone(model.DateTimeBoundary(occ.Add(dur)), master.Start)
		inst.OriginalStartTime = withZone(model.DateTimeBoundary(occ), master.Start)
	}
	return inst
}

// Decorate gives an override the series' recurrence so it can be described
// and rescheduled like any generated instance.
func Decorate(master, ov model.WireEvent) model.WireEvent {
	ov.RecurringEventID = master.ID
	if len(ov.Recurrence) == 0 {
		ov.Recurrence = append([]string(nil), master.Recurrence...)
	}
	return ov
}

func withZone(b, like *model.EventDateTime) *model.EventDateTime {
	if like != nil && like.TimeZone != "" {
		b.TimeZone = like.TimeZone
	}
	return b
}

// exdates reads EXDATE lines from the recurrence list.
func exdates(master model.WireEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, line := range master.Recurrence {
		out = append(out, recurrence.ExDates(line, loc)...)
	}
	return out
}

// Bounds resolves an event's instants; all-day ends are exclusive.
func Bounds(ev model.WireEvent, loc *time.Location) (time.Time, time.Time, bool) {
	var start, end time.Time
	var err error
	if !ev.Start.IsZero() {
		if start, err = ev.Start.Resolve(loc); err != nil {
			return time.Time{}, time.Time{}, false
		}
	}
	if !ev.End.IsZero() {
		if end, err = ev.End.Resolve(loc); err != nil {
			return time.Time{}, time.Time{}, false
		}
	}
	switch {
	case ev.Start.IsZero() && ev.End.IsZero():
		return time.Time{}, time.Time{}, false
	case ev.Start.IsZero():
		start = end
	case ev.End.IsZero():
		end = start
		if ev.IsAllDay() {
			end = start.AddDate(0, 0, 1)
		}
	}
	if end.Before(start) {
		end = start
	}
	return start, end, true
}

// overlaps reports whether ev touches [from, to]. Zero-length events count
// when their instant lies inside the range.
func overlaps(ev model.WireEvent, from, to time.Time, loc *time.Location) bool {
	start, end, ok := Bounds(ev, loc)
	if !ok {
		return false
	}
	if start.Equal(end) {
		return !start.Before(from) && !start.After(to)
	}
	return start.Before(to) && end.After(from)
}

func sortByStart(events []model.WireEvent, loc *time.Location) {
	sort.SliceStable(events, func(i, j int) bool {
		si, _, _ := Bounds(events[i], loc)
		sj, _, _ := Bounds(events[j], loc)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return events[i].ID < events[j].ID
	})
}
