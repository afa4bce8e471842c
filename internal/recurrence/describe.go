package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Describe renders a rule as an English sentence anchored at the series
// start (or an occurrence's original start). A malformed rule describes as
// the empty string.
func Describe(anchor time.Time, rule string) string {
	r, err := Parse(rule)
	if err != nil {
		return ""
	}
	return DescribeRule(anchor, r)
}

func DescribeRule(anchor time.Time, r Rule) string {
	n := r.EffectiveInterval()

	var text string
	switch r.Freq {
	case Yearly:
		date := anchor.Format("January 2")
		if n == 1 {
			text = "Annually on " + date
		} else {
			text = fmt.Sprintf("Every %d years on %s", n, date)
		}
	case Monthly:
		text = "Monthly"
		if n > 1 {
			text = fmt.Sprintf("Every %d months", n)
		}
		if len(r.ByDay) == 0 {
			text += " on the " + Ordinal(anchor.Day())
		} else {
			text += " on the " + weekOrdinalLabel(WeekOfMonth(anchor)) + " " + anchor.Weekday().String()
		}
	case Weekly:
		text = "Weekly"
		if n > 1 {
			text = fmt.Sprintf("Every %d weeks", n)
		}
		if len(r.ByDay) == 0 {
			text += " on " + anchor.Weekday().String()
		} else {
			text += " on " + describeDays(r.ByDay)
		}
	case Daily:
		text = "Daily"
		if n > 1 {
			text = fmt.Sprintf("Every %d days", n)
		}
	default:
		return ""
	}

	switch r.Termination() {
	case AfterCount:
		text += fmt.Sprintf(", %d times", r.Count)
	case OnDate:
		text += ", until " + r.Until.Format("Jan 2, 2006")
	}
	return text
}

// WeekOfMonth is the ordinal occurrence of t's weekday within its month,
// where 4 and above mean "last".
func WeekOfMonth(t time.Time) int {
	n := (t.Day()-1)/7 + 1
	if n >= 4 {
		return -1
	}
	return n
}

func weekOrdinalLabel(n int) string {
	if n < 0 {
		return "last"
	}
	return Ordinal(n)
}

// Ordinal renders 1 as "1st", 22 as "22nd" and so on.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func describeDays(byDay []string) string {
	set := make(map[string]bool, len(byDay))
	for _, entry := range byDay {
		if _, code, ok := parseByDay(entry); ok {
			set[code] = true
		}
	}

	if sameSet(set, "MO", "TU", "WE", "TH", "FR") {
		return "the weekdays"
	}
	if sameSet(set, "SA", "SU") {
		return "the weekends"
	}

	names := make([]string, 0, len(set))
	for _, code := range codeOrder {
		if set[code] {
			names = append(names, weekdayCodes[code].String())
		}
	}
	return strings.Join(names, ", ")
}

func sameSet(set map[string]bool, codes ...string) bool {
	if len(set) != len(codes) {
		return false
	}
	for _, code := range codes {
		if !set[code] {
			return false
		}
	}
	return true
}
