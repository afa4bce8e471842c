package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"clubcal/internal/model"
	"clubcal/internal/provider"
)

const productID = "-//clubcal//calendar export//EN"

// Encode renders expanded events as a PUBLISH calendar. Each instance is
// written as its own VEVENT; cancelled instances are skipped.
func Encode(name string, events []model.WireEvent, loc *time.Location, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		if provider.IsCancelled(ev) {
			continue
		}
		start, end, ok := provider.Bounds(ev, loc)
		if !ok {
			continue
		}

		vev := cal.AddEvent(exportUID(ev))
		vev.SetDtStampTime(now.UTC())
		vev.SetSummary(ev.Summary)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if ev.IsAllDay() {
			vev.SetAllDayStartAt(start)
			vev.SetAllDayEndAt(end)
		} else {
			vev.SetStartAt(start)
			vev.SetEndAt(end)
		}
		if kind := ev.SharedProp(model.PropEventType); kind != "" {
			vev.SetProperty(ical.ComponentPropertyCategories, kind)
		}
		if ev.Provider != nil && ev.Provider.Sequence > 0 {
			vev.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(ev.Provider.Sequence))
		}
	}
	return cal.Serialize()
}

// exportUID keeps instance ids unique across a series.
func exportUID(ev model.WireEvent) string {
	return ev.ID + "@clubcal"
}
