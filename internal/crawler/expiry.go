package crawler

import (
	"regexp"
	"strconv"
	"time"
)

const datePattern = `(\d{1,2})[/\-](\d{1,2})[/\-](\d{4})`

var expiryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bexpires?\b:?\s*` + datePattern),
	regexp.MustCompile(`(?i)\bends?\b:?\s*` + datePattern),
	regexp.MustCompile(`(?i)\bavailable\s+until\b:?\s*` + datePattern),
}

// ExtractExpiry finds a day/month/year expiry date in page text. Each pattern
// is tried in order against its first occurrence; the first one that names a
// real calendar date wins. Dates are midnight UTC.
func ExtractExpiry(text string) *time.Time {
	for _, re := range expiryPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := calendarDate(m[1], m[2], m[3]); ok {
			return &t
		}
	}
	return nil
}

func calendarDate(day, month, year string) (time.Time, bool) {
	d, err1 := strconv.Atoi(day)
	m, err2 := strconv.Atoi(month)
	y, err3 := strconv.Atoi(year)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31/02 into March; reject anything it had to move.
	if t.Day() != d || int(t.Month()) != m || t.Year() != y {
		return time.Time{}, false
	}
	return t, true
}
