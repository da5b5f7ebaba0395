package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewBundle(t *testing.T) {
	b := NewBundle("searchset")
	if b.ResourceType != "Bundle" {
		t.Errorf("resourceType = %q", b.ResourceType)
	}
	if b.Type != "searchset" {
		t.Errorf("type = %q", b.Type)
	}
	if b.Timestamp == nil {
		t.Error("expected timestamp")
	}
}

func TestBundleSetTotal(t *testing.T) {
	b := NewBundle("searchset")
	b.SetTotal(0)

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// An explicit zero total must survive serialization.
	total, ok := decoded["total"]
	if !ok {
		t.Fatal("total missing from JSON")
	}
	if total != float64(0) {
		t.Errorf("total = %v, want 0", total)
	}
}

func TestBundleMatchAndIncludeEntries(t *testing.T) {
	b := NewBundle("searchset")
	match := NewPresentEntry(NewVersionedKey("Patient", "8", 1), MethodCreate,
		map[string]interface{}{"resourceType": "Patient", "id": "8"})
	include := NewPresentEntry(NewVersionedKey("Organization", "org1", 2), MethodUpdate,
		map[string]interface{}{"resourceType": "Organization", "id": "org1"})

	b.MatchEntry("http://localhost:8000/fhir", match)
	b.IncludeEntry("http://localhost:8000/fhir", include)

	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entry))
	}
	if b.Entry[0].FullURL != "http://localhost:8000/fhir/Patient/8" {
		t.Errorf("match fullUrl = %q", b.Entry[0].FullURL)
	}
	if b.Entry[0].Search == nil || b.Entry[0].Search.Mode != "match" {
		t.Errorf("match mode = %+v", b.Entry[0].Search)
	}
	if b.Entry[1].Search == nil || b.Entry[1].Search.Mode != "include" {
		t.Errorf("include mode = %+v", b.Entry[1].Search)
	}
}

func TestBundleHistoryEntry(t *testing.T) {
	tests := []struct {
		name       string
		entry      *Entry
		wantMethod string
		wantStatus string
	}{
		{
			"create",
			NewPresentEntry(NewVersionedKey("Patient", "8", 1), MethodCreate,
				map[string]interface{}{"resourceType": "Patient"}),
			"POST", "201 Created",
		},
		{
			"update",
			NewPresentEntry(NewVersionedKey("Patient", "8", 2), MethodUpdate,
				map[string]interface{}{"resourceType": "Patient"}),
			"PUT", "200 OK",
		},
		{
			"delete",
			NewDeletedEntry(NewVersionedKey("Patient", "8", 3)),
			"DELETE", "204 No Content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBundle("history")
			b.HistoryEntry("http://localhost:8000/fhir", tt.entry)

			if len(b.Entry) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(b.Entry))
			}
			be := b.Entry[0]
			if be.Request.Method != tt.wantMethod {
				t.Errorf("request method = %q, want %q", be.Request.Method, tt.wantMethod)
			}
			if be.Response.Status != tt.wantStatus {
				t.Errorf("response status = %q, want %q", be.Response.Status, tt.wantStatus)
			}
			wantETag := FormatETag(tt.entry.Key.VersionID)
			if be.Response.ETag != wantETag {
				t.Errorf("response etag = %q, want %q", be.Response.ETag, wantETag)
			}
		})
	}
}

func TestHistoryEntryTombstoneHasNoBody(t *testing.T) {
	b := NewBundle("history")
	b.HistoryEntry("", NewDeletedEntry(NewVersionedKey("Patient", "8", 3)))
	if b.Entry[0].Resource != nil {
		t.Error("tombstone entry should carry no resource body")
	}
}
