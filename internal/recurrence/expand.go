package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps a single expansion so an unterminated rule over a
// wide window cannot grow without bound.
const MaxOccurrences = 5000

var frequencies = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var rruleWeekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

// ROption converts a rule into rrule-go options starting at dtstart.
// UNTIL covers its whole calendar day in dtstart's location.
func ROption(r Rule, dtstart time.Time) (rrule.ROption, error) {
	freq, ok := frequencies[r.Freq]
	if !ok {
		return rrule.ROption{}, fmt.Errorf("%w: unsupported FREQ %q", ErrMalformedRecurrence, r.Freq)
	}

	opt := rrule.ROption{
		Freq:     freq,
		Dtstart:  dtstart,
		Interval: r.EffectiveInterval(),
		Count:    r.Count,
	}
	if !r.Until.IsZero() {
		y, m, d := r.Until.Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, dtstart.Location())
	}
	for _, entry := range r.ByDay {
		n, code, ok := parseByDay(entry)
		if !ok {
			continue
		}
		wd := rruleWeekdays[code]
		if n != 0 {
			wd = wd.Nth(n)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	// Feeds may carry keys the club never writes; the common ones still
	// constrain expansion.
	for _, p := range r.Extra {
		switch p.Key {
		case "BYMONTHDAY":
			opt.Bymonthday = intList(p.Value)
		case "BYMONTH":
			opt.Bymonth = intList(p.Value)
		case "BYSETPOS":
			opt.Bysetpos = intList(p.Value)
		}
	}
	return opt, nil
}

func intList(value string) []int {
	var out []int
	for _, part := range strings.Split(value, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Occurrences returns the starts of a series inside [from, to], with
// exdates removed. Non-RRULE entries of the recurrence list are skipped.
// The second result reports whether the MaxOccurrences cap was hit.
func Occurrences(rules []string, dtstart time.Time, exdates []time.Time, from, to time.Time) ([]time.Time, bool, error) {
	set := &rrule.Set{}
	added := 0
	for _, raw := range rules {
		if !isRRule(raw) {
			continue
		}
		r, err := Parse(raw)
		if err != nil {
			return nil, false, err
		}
		opt, err := ROption(r, dtstart)
		if err != nil {
			return nil, false, err
		}
		rule, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedRecurrence, err)
		}
		set.RRule(rule)
		added++
	}
	if added == 0 {
		return nil, false, fmt.Errorf("%w: no RRULE entry", ErrMalformedRecurrence)
	}

	for _, ex := range exdates {
		set.ExDate(ex.In(dtstart.Location()))
	}

	starts := set.Between(from.In(dtstart.Location()), to.In(dtstart.Location()), true)
	sort.Slice(starts, func(i, j int) bool {
		return starts[i].Before(starts[j])
	})

	truncated := false
	if len(starts) > MaxOccurrences {
		starts = starts[:MaxOccurrences]
		truncated = true
	}
	return starts, truncated, nil
}

// ExDates reads the instants of an EXDATE line such as
// "EXDATE;TZID=Europe/Berlin:20240628T190000,20240705T190000" or
// "EXDATE;VALUE=DATE:20240628". Other lines and bad values yield nothing.
func ExDates(line string, loc *time.Location) []time.Time {
	head, values, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return nil
	}
	params := strings.Split(head, ";")
	if !strings.EqualFold(params[0], "EXDATE") {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, p := range params[1:] {
		key, value, _ := strings.Cut(p, "=")
		if strings.EqualFold(key, "TZID") {
			if tz, err := time.LoadLocation(value); err == nil {
				loc = tz
			}
		}
	}

	var out []time.Time
	for _, v := range strings.Split(values, ",") {
		v = strings.TrimSpace(v)
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(v, "Z"):
			t, err = time.Parse("20060102T150405Z", v)
		case strings.Contains(v, "T"):
			t, err = time.ParseInLocation("20060102T150405", v, loc)
		default:
			t, err = time.ParseInLocation("20060102", v, loc)
		}
		if err == nil {
			out = append(out, t)
		}
	}
	return out
}

// ExDateLine formats an EXDATE line for the given instants.
func ExDateLine(allDay bool, instants ...time.Time) string {
	values := make([]string, 0, len(instants))
	for _, t := range instants {
		if allDay {
			values = append(values, t.Format("20060102"))
		} else {
			values = append(values, t.UTC().Format("20060102T150405Z"))
		}
	}
	if allDay {
		return "EXDATE;VALUE=DATE:" + strings.Join(values, ",")
	}
	return "EXDATE:" + strings.Join(values, ",")
}
