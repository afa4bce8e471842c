// Package ics subscribes the calendar to remote ICS feeds and exports
// ranges of the calendar as ICS.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "clubcal/internal/log"
	"clubcal/internal/model"
	"clubcal/internal/provider"
	"clubcal/internal/recurrence"
)

// IDPrefix is the id namespace of one feed's events.
func IDPrefix(feedID string) string {
	return "feed:" + feedID + ":"
}

// Parse turns a feed body into stored-form events: singles, series masters
// carrying their RRULE and EXDATE lines, and overrides pointing at their
// master through RecurringEventID. Broken VEVENTs are logged and skipped.
func Parse(src Source, body []byte, loc *time.Location) ([]model.WireEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}

	events := make([]model.WireEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Warn("ics: vevent skipped", "feed", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	appLog.Debug("ics: parsed", "feed", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (model.WireEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return model.WireEvent{}, errors.New("missing UID")
	}
	uid := strings.TrimSpace(uidProp.Value)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return model.WireEvent{}, fmt.Errorf("%s: missing DTSTART", uid)
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		return model.WireEvent{}, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}

	end := start
	if allDay {
		end = start.AddDate(0, 0, 1)
	}
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if t, _, err := propTime(dtEnd, loc); err == nil && !t.Before(start) {
			end = t
		}
	}

	ev := model.WireEvent{
		ID:          IDPrefix(src.ID) + uid,
		Summary:     textProp(ve, ical.ComponentPropertySummary),
		Description: textProp(ve, ical.ComponentPropertyDescription),
		Location:    textProp(ve, ical.ComponentPropertyLocation),
		Start:       boundary(start, allDay),
		End:         boundary(end, allDay),
		Provider: &model.ProviderMetadata{
			ICalUID: uid,
			Status:  provider.StatusConfirmed,
			Source:  "ics:" + src.ID,
		},
	}
	if n, err := strconv.Atoi(textProp(ve, ical.ComponentPropertySequence)); err == nil {
		ev.Provider.Sequence = n
	}
	if strings.EqualFold(textProp(ve, ical.ComponentPropertyStatus), "CANCELLED") {
		ev.Provider.Status = provider.StatusCancelled
	}
	if t, ok := stampProp(ve, ical.ComponentPropertyCreated); ok {
		ev.Provider.Created = t
	}
	if t, ok := stampProp(ve, ical.ComponentPropertyLastModified); ok {
		ev.Provider.Updated = t
	}
	if kind := categoryType(textProp(ve, ical.ComponentPropertyCategories)); kind != "" {
		ev.ExtendedProperties = &model.ExtendedProperties{
			Shared: map[string]string{model.PropEventType: string(kind)},
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		orig, _, err := propTime(rid, loc)
		if err != nil {
			return model.WireEvent{}, fmt.Errorf("%s: RECURRENCE-ID: %w", uid, err)
		}
		master := IDPrefix(src.ID) + uid
		ev.ID = provider.InstanceID(master, orig, allDay)
		ev.RecurringEventID = master
		ev.OriginalStartTime = boundary(orig, allDay)
		return ev, nil
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyRrule) {
		line := recurrence.Prefix + strings.TrimSpace(p.Value)
		if _, err := recurrence.Parse(line); err != nil {
			appLog.Warn("ics: recurrence ignored", "feed", src.ID, "uid", uid, "err", err)
			continue
		}
		ev.Recurrence = append(ev.Recurrence, line)
	}
	if len(ev.Recurrence) > 0 {
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			ev.Recurrence = append(ev.Recurrence, exdateLine(p))
		}
	}
	return ev, nil
}

func textProp(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func stampProp(ve *ical.VEvent, name ical.ComponentProperty) (time.Time, bool) {
	p := ve.GetProperty(name)
	if p == nil {
		return time.Time{}, false
	}
	t, _, err := propTime(p, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// propTime reads a DATE or DATE-TIME property, honoring TZID. Floating
// values are wall time in loc.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if tz := param(p, "TZID"); tz != "" {
		if zone, err := time.LoadLocation(tz); err == nil {
			loc = zone
		}
	}

	allDay := strings.EqualFold(param(p, "VALUE"), "DATE") || !strings.Contains(v, "T")
	var (
		t   time.Time
		err error
	)
	switch {
	case allDay:
		t, err = time.ParseInLocation("20060102", v, loc)
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse("20060102T150405Z", v)
	default:
		t, err = time.ParseInLocation("20060102T150405", v, loc)
	}
	return t, allDay, err
}

func param(p *ical.IANAProperty, key string) string {
	for k, vs := range p.ICalParameters {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// exdateLine rebuilds the content line so the zone travels with the dates.
func exdateLine(p *ical.IANAProperty) string {
	var b strings.Builder
	b.WriteString("EXDATE")
	if tz := param(p, "TZID"); tz != "" {
		b.WriteString(";TZID=" + tz)
	}
	if v := param(p, "VALUE"); v != "" {
		b.WriteString(";VALUE=" + strings.ToUpper(v))
	}
	b.WriteString(":" + strings.TrimSpace(p.Value))
	return b.String()
}

func boundary(t time.Time, allDay bool) *model.EventDateTime {
	if allDay {
		return model.DateBoundary(t)
	}
	return model.DateTimeBoundary(t)
}

// categoryType maps the first CATEGORIES entry naming a club event type.
func categoryType(categories string) model.EventType {
	for _, c := range strings.Split(categories, ",") {
		switch kind := model.EventType(strings.ToLower(strings.TrimSpace(c))); kind {
		case model.TypeRide, model.TypeMeeting, model.TypeEvent:
			return kind
		}
	}
	return ""
}
