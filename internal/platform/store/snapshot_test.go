package store

import (
	"context"
	"testing"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

func TestSnapshotPage(t *testing.T) {
	keys := []fhir.Key{
		fhir.NewVersionedKey("Patient", "a", 1),
		fhir.NewVersionedKey("Patient", "b", 1),
		fhir.NewVersionedKey("Patient", "c", 1),
		fhir.NewVersionedKey("Patient", "d", 1),
		fhir.NewVersionedKey("Patient", "e", 1),
	}
	snap := NewSnapshot("Patient", nil, keys, nil, 2)

	tests := []struct {
		name   string
		offset int
		want   []string
	}{
		{"first page", 0, []string{"a", "b"}},
		{"middle page", 2, []string{"c", "d"}},
		{"short last page", 4, []string{"e"}},
		{"past the end", 5, nil},
		{"negative offset", -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := snap.Page(tt.offset)
			if len(page) != len(tt.want) {
				t.Fatalf("page = %v, want ids %v", page, tt.want)
			}
			for i, id := range tt.want {
				if page[i].ResourceID != id {
					t.Errorf("page[%d] = %s, want %s", i, page[i].ResourceID, id)
				}
			}
		})
	}
}

func TestSnapshotPageWithoutSizeReturnsAll(t *testing.T) {
	keys := []fhir.Key{
		fhir.NewVersionedKey("Patient", "a", 1),
		fhir.NewVersionedKey("Patient", "b", 1),
	}
	snap := NewSnapshot("Patient", nil, keys, nil, 0)
	if page := snap.Page(0); len(page) != 2 {
		t.Errorf("page = %v, want all keys", page)
	}
}

func TestMemorySnapshotsRoundTrip(t *testing.T) {
	m := NewMemorySnapshots()
	ctx := context.Background()

	snap := NewSnapshot("Patient", []string{"gender=female"}, nil, nil, 10)
	if snap.ID == "" {
		t.Fatal("snapshot id must be assigned")
	}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := m.Load(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ResourceType != "Patient" || len(loaded.Criteria) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}

	if _, err := m.Load(ctx, "nope"); fhir.KindOf(err) != fhir.KindBadRequest {
		t.Errorf("unknown id: err = %v, want bad-request", err)
	}
}
