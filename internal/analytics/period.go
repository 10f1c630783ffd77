package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period tokens accepted by the dashboard.
const (
	PeriodDay     = "1d"
	PeriodWeek    = "7d"
	PeriodMonth   = "30d"
	PeriodQuarter = "90d"
	PeriodCustom  = "custom"
)

// ErrInvalidRange is returned for unknown periods, unreadable dates and
// ranges that end before they start.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange is inclusive on both ends.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside r.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDate reads s in loc. A bare date means the start of that day, or its
// last second when endOfDay is set.
func parseDate(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" && endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Second)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: unreadable date %q", ErrInvalidRange, s)
}

func trailing(end time.Time, days int) DateRange {
	return DateRange{Start: end.AddDate(0, 0, -days), End: end}
}

// ParseRangeStrict resolves a period token and optional bounds relative to
// now. endDate defaults to now; a custom period without startDate covers the
// seven days before endDate.
func ParseRangeStrict(period, startDate, endDate string, now time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	end := now.In(loc)
	if endDate != "" {
		t, err := parseDate(endDate, loc, true)
		if err != nil {
			return DateRange{}, err
		}
		end = t
	}

	var r DateRange
	switch period {
	case PeriodDay:
		r = trailing(end, 1)
	case "", PeriodWeek:
		r = trailing(end, 7)
	case PeriodMonth:
		r = trailing(end, 30)
	case PeriodQuarter:
		r = trailing(end, 90)
	case PeriodCustom:
		r = trailing(end, 7)
		if startDate != "" {
			t, err := parseDate(startDate, loc, false)
			if err != nil {
				return DateRange{}, err
			}
			r.Start = t
		}
	default:
		return DateRange{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRange, period)
	}

	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return r, nil
}

// ParsePeriod is ParseRangeStrict for dashboards: anything it cannot resolve
// becomes the trailing seven days.
func ParsePeriod(period, startDate, endDate string, now time.Time, loc *time.Location) DateRange {
	r, err := ParseRangeStrict(period, startDate, endDate, now, loc)
	if err != nil {
		if loc == nil {
			loc = time.UTC
		}
		return trailing(now.In(loc), 7)
	}
	return r
}
