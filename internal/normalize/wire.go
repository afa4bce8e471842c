package normalize

import (
	"strconv"
	"time"

	"clubcal/internal/model"
)

// ToWire maps a domain event back to the provider representation. When
// prior is given, provider-only metadata and unknown extended properties
// are carried over unchanged.
func (n *Normalizer) ToWire(d model.DomainEvent, prior *model.WireEvent) model.WireEvent {
	var w model.WireEvent
	if prior != nil {
		w = cloneWire(*prior)
	}

	if !d.IsNew {
		w.ID = d.ID
	} else {
		w.ID = ""
	}
	w.Summary = d.Title
	w.Description = d.Description
	w.Location = d.Location
	w.Recurrence = cloneStrings(d.Recurrence)
	w.RecurringEventID = d.RecurringEventID

	if d.IsAllDay {
		w.Start = model.DateBoundary(d.Start)
		// Back to the provider's exclusive end date.
		w.End = model.DateBoundary(d.End.AddDate(0, 0, 1))
	} else {
		w.Start = model.DateTimeBoundary(d.Start.In(n.Location))
		w.End = model.DateTimeBoundary(d.End.In(n.Location))
	}

	if d.OriginalStart != nil {
		if d.IsAllDay {
			w.OriginalStartTime = model.DateBoundary(*d.OriginalStart)
		} else {
			w.OriginalStartTime = model.DateTimeBoundary(d.OriginalStart.In(n.Location))
		}
	}

	if w.ExtendedProperties == nil {
		w.ExtendedProperties = &model.ExtendedProperties{}
	}
	if w.ExtendedProperties.Shared == nil {
		w.ExtendedProperties.Shared = make(map[string]string)
	}
	shared := w.ExtendedProperties.Shared
	shared[model.PropEventType] = string(d.Type)
	setInstant(shared, model.PropMuster, d.Muster)
	setInstant(shared, model.PropKSU, d.KSU)
	if d.Miles != nil {
		shared[model.PropMiles] = strconv.FormatFloat(*d.Miles, 'f', -1, 64)
	} else {
		delete(shared, model.PropMiles)
	}

	return w
}

func setInstant(shared map[string]string, key string, t *time.Time) {
	if t == nil {
		delete(shared, key)
		return
	}
	shared[key] = t.Format(time.RFC3339Nano)
}

func cloneWire(w model.WireEvent) model.WireEvent {
	out := w
	out.Recurrence = cloneStrings(w.Recurrence)
	if w.Start != nil {
		s := *w.Start
		out.Start = &s
	}
	if w.End != nil {
		e := *w.End
		out.End = &e
	}
	if w.OriginalStartTime != nil {
		o := *w.OriginalStartTime
		out.OriginalStartTime = &o
	}
	if w.ExtendedProperties != nil {
		out.ExtendedProperties = &model.ExtendedProperties{
			Shared:  cloneMap(w.ExtendedProperties.Shared),
			Private: cloneMap(w.ExtendedProperties.Private),
		}
	}
	if w.Provider != nil {
		p := *w.Provider
		if w.Provider.Organizer != nil {
			org := *w.Provider.Organizer
			p.Organizer = &org
		}
		out.Provider = &p
	}
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
