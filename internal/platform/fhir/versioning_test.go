package fhir

import "testing"

func TestParseETag(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{`W/"3"`, 3, false},
		{`"5"`, 5, false},
		{`W/"1"`, 1, false},
		{`"abc"`, 0, true},
		{`W/""`, 0, true},
		{`42`, 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseETag(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ParseETag(%q) should have returned error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParseETag(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseETag(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatETag(t *testing.T) {
	tests := []struct {
		version int
		want    string
	}{
		{1, `W/"1"`},
		{42, `W/"42"`},
		{0, `W/"0"`},
	}

	for _, tt := range tests {
		got := FormatETag(tt.version)
		if got != tt.want {
			t.Errorf("FormatETag(%d) = %q, want %q", tt.version, got, tt.want)
		}
	}
}

func TestParseETagRoundTrip(t *testing.T) {
	for _, v := range []int{1, 5, 42, 100} {
		etag := FormatETag(v)
		parsed, err := ParseETag(etag)
		if err != nil {
			t.Errorf("round-trip failed for %d: %v", v, err)
		}
		if parsed != v {
			t.Errorf("round-trip for %d: got %d", v, parsed)
		}
	}
}
