// Package recurrence parses, builds and describes RRULE strings in the
// subset the club calendar writes: FREQ, INTERVAL, COUNT, UNTIL and BYDAY.
package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Prefix is the optional literal in front of a rule string.
const Prefix = "RRULE:"

const untilLayout = "20060102"

var ErrMalformedRecurrence = errors.New("malformed recurrence rule")

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Param is an unrecognized KEY=VALUE pair kept for round-tripping.
type Param struct {
	Key   string
	Value string
}

// Rule is a parsed recurrence rule. Zero values mean "absent": Interval 0
// is an implicit interval of 1, Count 0 and a zero Until mean the rule
// never ends.
type Rule struct {
	Freq     Frequency
	Interval int
	Count    int
	Until    time.Time
	ByDay    []string
	Extra    []Param
}

type Termination int

const (
	Never Termination = iota
	OnDate
	AfterCount
)

func (r Rule) Termination() Termination {
	switch {
	case r.Count > 0:
		return AfterCount
	case !r.Until.IsZero():
		return OnDate
	default:
		return Never
	}
}

// EffectiveInterval returns the interval, defaulting to 1.
func (r Rule) EffectiveInterval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

var byDayPattern = regexp.MustCompile(`^([+-]?[1-5])?(MO|TU|WE|TH|FR|SA|SU)$`)

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// codeOrder is the canonical Monday-first order of weekday codes.
var codeOrder = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// WeekdayCode returns the two-letter code of a weekday.
func WeekdayCode(wd time.Weekday) string {
	for code, w := range weekdayCodes {
		if w == wd {
			return code
		}
	}
	return ""
}

// parseByDay splits an entry like "-1FR" into its ordinal and weekday.
func parseByDay(entry string) (n int, code string, ok bool) {
	m := byDayPattern.FindStringSubmatch(entry)
	if m == nil {
		return 0, "", false
	}
	if m[1] != "" {
		n, _ = strconv.Atoi(m[1])
	}
	return n, m[2], true
}

// Parse reads a rule string. Unknown keys are preserved in Extra; a bad
// INTERVAL, COUNT or UNTIL value is dropped rather than failing the rule.
// A missing or unsupported FREQ, or both COUNT and UNTIL, is an error
// wrapping ErrMalformedRecurrence.
func Parse(s string) (Rule, error) {
	body := strings.TrimSpace(s)
	if len(body) >= len(Prefix) && strings.EqualFold(body[:len(Prefix)], Prefix) {
		body = body[len(Prefix):]
	}

	var r Rule
	for _, segment := range strings.Split(body, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			r.Freq = Frequency(strings.ToUpper(value))
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 {
				r.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 {
				r.Count = n
			}
		case "UNTIL":
			if until, ok := parseUntil(value); ok {
				r.Until = until
			}
		case "BYDAY":
			r.ByDay = parseByDayList(value)
		default:
			r.Extra = append(r.Extra, Param{Key: key, Value: value})
		}
	}

	switch r.Freq {
	case Daily, Weekly, Monthly, Yearly:
	case "":
		return Rule{}, fmt.Errorf("%w: missing FREQ", ErrMalformedRecurrence)
	default:
		return Rule{}, fmt.Errorf("%w: unsupported FREQ %q", ErrMalformedRecurrence, r.Freq)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return Rule{}, fmt.Errorf("%w: both COUNT and UNTIL set", ErrMalformedRecurrence)
	}
	return r, nil
}

func parseByDayList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.ToUpper(strings.TrimSpace(entry))
		if _, _, ok := parseByDay(entry); !ok {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// parseUntil accepts YYYYMMDD and the date part of YYYYMMDDTHHMMSS[Z].
func parseUntil(value string) (time.Time, bool) {
	if len(value) > len(untilLayout) && value[len(untilLayout)] == 'T' {
		value = value[:len(untilLayout)]
	}
	if len(value) != len(untilLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(untilLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Build renders a rule with the prefix. Keys appear only when set.
func Build(r Rule) string {
	parts := make([]string, 0, 5+len(r.Extra))
	if r.Freq != "" {
		parts = append(parts, "FREQ="+string(r.Freq))
	}
	if r.Interval > 0 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.Format(untilLayout))
	}
	if len(r.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(r.ByDay, ","))
	}
	for _, p := range r.Extra {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return Prefix + strings.Join(parts, ";")
}

// First returns the first parseable rule of a recurrence list. The first
// entry is authoritative; later entries are only consulted when it fails.
func First(rules []string) (Rule, error) {
	var firstErr error
	for _, raw := range rules {
		if !isRRule(raw) {
			continue
		}
		r, err := Parse(raw)
		if err == nil {
			return r, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: no RRULE entry", ErrMalformedRecurrence)
	}
	return Rule{}, firstErr
}

// isRRule filters out EXDATE/RDATE lines that share the recurrence list.
func isRRule(raw string) bool {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	return strings.HasPrefix(upper, Prefix) || strings.HasPrefix(upper, "FREQ=")
}
