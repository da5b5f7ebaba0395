package search

import (
	"fmt"
	"time"
)

// FHIR dates are partial: a bare year, month or day is an interval, not an
// instant. Both the indexer and the filter compiler widen values to their
// implied precision range [start, end) so date search is interval algebra
// on both sides.

// IndexTimeLayout is the canonical encoding of datetimes inside index
// documents: UTC, second precision. Values in this layout compare
// correctly as strings.
const IndexTimeLayout = "2006-01-02T15:04:05Z"

// FormatIndexTime renders a time in the canonical index encoding.
func FormatIndexTime(t time.Time) string {
	return t.UTC().Format(IndexTimeLayout)
}

type datePrecision int

const (
	precYear datePrecision = iota
	precMonth
	precDay
	precMinute
	precSecond
)

var dateLayouts = []struct {
	layout string
	prec   datePrecision
	zoned  bool
}{
	{time.RFC3339, precSecond, true},
	{"2006-01-02T15:04:05", precSecond, false},
	{"2006-01-02T15:04Z07:00", precMinute, true},
	{"2006-01-02T15:04", precMinute, false},
	{"2006-01-02", precDay, false},
	{"2006-01", precMonth, false},
	{"2006", precYear, false},
}

// DateInterval parses a FHIR date/dateTime/instant literal and widens it
// to its implied precision range [start, end).
func DateInterval(value string) (start, end time.Time, err error) {
	for _, l := range dateLayouts {
		t, perr := time.Parse(l.layout, value)
		if perr != nil {
			continue
		}
		t = t.UTC()
		switch l.prec {
		case precYear:
			return t, t.AddDate(1, 0, 0), nil
		case precMonth:
			return t, t.AddDate(0, 1, 0), nil
		case precDay:
			return t, t.AddDate(0, 0, 1), nil
		case precMinute:
			return t, t.Add(time.Minute), nil
		default:
			return t, t.Add(time.Second), nil
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unable to parse date %q", value)
}
