package recurrence

import (
	"strconv"
	"time"
)

// Option is one entry of the recurrence picker shown when editing an event.
type Option struct {
	Label string `json:"label"`
	Rule  string `json:"rule"`
}

// Options lists the common rules for an event starting at anchor. The
// first entry is the non-recurring choice with an empty rule.
func Options(anchor time.Time) []Option {
	code := WeekdayCode(anchor.Weekday())

	rules := []Rule{
		{Freq: Daily},
		{Freq: Weekly, ByDay: []string{code}},
		{Freq: Monthly, ByDay: []string{strconv.Itoa(monthlyOrdinal(anchor)) + code}},
		{Freq: Yearly},
		{Freq: Weekly, ByDay: []string{"MO", "TU", "WE", "TH", "FR"}},
	}

	out := make([]Option, 0, len(rules)+1)
	out = append(out, Option{Label: "Does not repeat"})
	for _, r := range rules {
		out = append(out, Option{Label: DescribeRule(anchor, r), Rule: Build(r)})
	}
	return out
}

// monthlyOrdinal is the BYDAY ordinal that selects anchor's own date each
// month: -1 when no later same weekday falls in its month, else the week
// number counted from the 1st.
func monthlyOrdinal(anchor time.Time) int {
	if anchor.AddDate(0, 0, 7).Month() != anchor.Month() {
		return -1
	}
	return (anchor.Day()-1)/7 + 1
}

// Truncate ends a rule so that no occurrence starts after cutoff. COUNT
// is cleared and UNTIL becomes the last calendar day ending by cutoff.
func Truncate(rule string, cutoff time.Time) (string, error) {
	r, err := Parse(rule)
	if err != nil {
		return "", err
	}

	y, m, d := cutoff.Date()
	lastDay := time.Date(y, m, d, 0, 0, 0, 0, cutoff.Location())
	if !cutoff.Add(time.Second).Equal(lastDay.AddDate(0, 0, 1)) {
		lastDay = lastDay.AddDate(0, 0, -1)
	}

	r.Count = 0
	r.Until = time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 0, 0, 0, 0, time.UTC)
	return Build(r), nil
}

// WithCount returns the rule ending after n occurrences. Zero clears
// COUNT. Any UNTIL is dropped when a count is set.
func WithCount(rule string, n int) (string, error) {
	r, err := Parse(rule)
	if err != nil {
		return "", err
	}
	r.Count = n
	if n > 0 {
		r.Until = time.Time{}
	}
	return Build(r), nil
}

// ShiftWeekdays moves every BYDAY weekday by days, keeping any ordinal.
// A series moved from Monday to Tuesday keeps repeating on its new day.
func ShiftWeekdays(rule string, days int) (string, error) {
	r, err := Parse(rule)
	if err != nil {
		return "", err
	}
	shift := ((days % 7) + 7) % 7
	if shift == 0 || len(r.ByDay) == 0 {
		return Build(r), nil
	}
	for i, entry := range r.ByDay {
		n, code, ok := parseByDay(entry)
		if !ok {
			continue
		}
		wd := (weekdayCodes[code] + time.Weekday(shift)) % 7
		prefix := ""
		if n != 0 {
			prefix = strconv.Itoa(n)
		}
		r.ByDay[i] = prefix + WeekdayCode(wd)
	}
	return Build(r), nil
}
