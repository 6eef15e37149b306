package cache

import (
	"strings"
	"time"

	"github.com/colthorp/convcache-go/internal/core"
)

// DateInput is a date supplied in one of the accepted shapes.
// Implementations are CalendarDate (a native date value) and DateString
// (a pre-formatted YYYY-MM-DD or date-time string).
type DateInput interface {
	normalizeDate() string
}

// CalendarDate is a time.Time treated as a calendar date; the time-of-day
// portion is ignored.
type CalendarDate time.Time

func (d CalendarDate) normalizeDate() string {
	return time.Time(d).Format(core.APIDateFmt)
}

// DateString is a date supplied as a string, either already in YYYY-MM-DD
// form or carrying a time component ("2024-03-05T10:00:00Z",
// "2024-03-05 10:00:00"). Any time-of-day or timezone suffix is truncated,
// not converted.
type DateString string

func (d DateString) normalizeDate() string {
	s := strings.TrimSpace(string(d))
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	return s
}

// Key derives the canonical cache key for an (owner, date) pair.
// The owner is trimmed; an empty owner still yields a well-formed
// (if degenerate) key. Two logically equal inputs always produce the
// identical key.
func Key(ownerID string, date DateInput) string {
	owner := strings.TrimSpace(ownerID)
	day := ""
	if date != nil {
		day = date.normalizeDate()
	}
	return owner + "_" + day
}
