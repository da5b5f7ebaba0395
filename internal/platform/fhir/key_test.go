package fhir

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		path    string
		want    Key
		wantErr bool
	}{
		{"Patient/8", Key{TypeName: "Patient", ResourceID: "8"}, false},
		{"/Patient/8/", Key{TypeName: "Patient", ResourceID: "8"}, false},
		{"Patient/8/_history/3", Key{TypeName: "Patient", ResourceID: "8", VersionID: 3}, false},
		{"Patient", Key{}, true},
		{"Patient/8/history/3", Key{}, true},
		{"Patient/8/_history/abc", Key{}, true},
		{"Patient/8/_history/0", Key{}, true},
		{"Patient//", Key{}, true},
		{"", Key{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseKey(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) should have returned error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) returned error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{NewKey("Patient", "8"), "Patient/8"},
		{NewVersionedKey("Patient", "8", 3), "Patient/8/_history/3"},
		{NewKey("Observation", "o1"), "Observation/o1"},
	}

	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestKeyVersionHandling(t *testing.T) {
	k := NewVersionedKey("Patient", "8", 3)
	if !k.HasVersion() {
		t.Error("expected HasVersion true for versioned key")
	}

	unversioned := k.WithoutVersion()
	if unversioned.HasVersion() {
		t.Error("WithoutVersion should drop the version")
	}
	if unversioned.Identity() != "Patient/8" {
		t.Errorf("Identity() = %q, want Patient/8", unversioned.Identity())
	}

	repinned := unversioned.WithVersion(7)
	if repinned.VersionID != 7 {
		t.Errorf("WithVersion(7).VersionID = %d", repinned.VersionID)
	}

	// The original is unchanged; keys are values.
	if k.VersionID != 3 {
		t.Errorf("original key mutated: VersionID = %d", k.VersionID)
	}
}

func TestKeySameIdentity(t *testing.T) {
	a := NewKey("Patient", "8")
	b := NewVersionedKey("Patient", "8", 5)
	c := NewKey("Patient", "9")

	if !a.SameIdentity(b) {
		t.Error("versions of the same resource should share identity")
	}
	if a.SameIdentity(c) {
		t.Error("different ids must not share identity")
	}
}

func TestKeyIsEmpty(t *testing.T) {
	if !(Key{}).IsEmpty() {
		t.Error("zero key should be empty")
	}
	if NewKey("Patient", "8").IsEmpty() {
		t.Error("populated key should not be empty")
	}
	if (Key{TypeName: "Patient"}).IsEmpty() {
		t.Error("type-only key still names a scope")
	}
}
