package search

import (
	"testing"
	"time"
)

func TestDateInterval(t *testing.T) {
	tests := []struct {
		value     string
		wantStart string
		wantEnd   string
	}{
		{"2013", "2013-01-01T00:00:00Z", "2014-01-01T00:00:00Z"},
		{"2013-03", "2013-03-01T00:00:00Z", "2013-04-01T00:00:00Z"},
		{"2013-03-14", "2013-03-14T00:00:00Z", "2013-03-15T00:00:00Z"},
		{"2013-03-14T10:30", "2013-03-14T10:30:00Z", "2013-03-14T10:31:00Z"},
		{"2013-03-14T10:30:45Z", "2013-03-14T10:30:45Z", "2013-03-14T10:30:46Z"},
		{"2013-03-14T10:30:45+02:00", "2013-03-14T08:30:45Z", "2013-03-14T08:30:46Z"},
		{"2012", "2012-01-01T00:00:00Z", "2013-01-01T00:00:00Z"}, // leap year widens correctly
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			start, end, err := DateInterval(tt.value)
			if err != nil {
				t.Fatalf("DateInterval(%q) returned error: %v", tt.value, err)
			}
			if got := FormatIndexTime(start); got != tt.wantStart {
				t.Errorf("start = %q, want %q", got, tt.wantStart)
			}
			if got := FormatIndexTime(end); got != tt.wantEnd {
				t.Errorf("end = %q, want %q", got, tt.wantEnd)
			}
		})
	}
}

func TestDateIntervalInvalid(t *testing.T) {
	for _, v := range []string{"", "notadate", "13-2013", "2013-13"} {
		if _, _, err := DateInterval(v); err == nil {
			t.Errorf("DateInterval(%q) should have failed", v)
		}
	}
}

func TestFormatIndexTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	local := time.Date(2020, 6, 1, 12, 0, 0, 0, loc)
	if got := FormatIndexTime(local); got != "2020-06-01T11:00:00Z" {
		t.Errorf("FormatIndexTime = %q", got)
	}
}

func TestIndexTimeOrderingAsStrings(t *testing.T) {
	// The canonical layout must sort chronologically as plain strings;
	// both stores rely on it.
	a := FormatIndexTime(time.Date(2019, 12, 31, 23, 59, 59, 0, time.UTC))
	b := FormatIndexTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if !(a < b) {
		t.Errorf("expected %q < %q", a, b)
	}
}
