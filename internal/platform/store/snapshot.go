package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// Snapshot freezes the key set of one search so paging stays stable while
// the data changes underneath. Pages slice into Keys; Includes ride along
// with every page.
type Snapshot struct {
	ID           string     `json:"id"`
	ResourceType string     `json:"resourceType"`
	Criteria     []string   `json:"criteria,omitempty"`
	Keys         []fhir.Key `json:"keys"`
	Includes     []fhir.Key `json:"includes,omitempty"`
	PageSize     int        `json:"pageSize"`
	Created      time.Time  `json:"created"`
}

func NewSnapshot(resourceType string, criteria []string, keys, includes []fhir.Key, pageSize int) *Snapshot {
	return &Snapshot{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		Criteria:     criteria,
		Keys:         keys,
		Includes:     includes,
		PageSize:     pageSize,
		Created:      time.Now().UTC(),
	}
}

// Page returns the keys of the page starting at offset.
func (s *Snapshot) Page(offset int) []fhir.Key {
	if offset < 0 || offset >= len(s.Keys) {
		return nil
	}
	end := offset + s.PageSize
	if s.PageSize <= 0 || end > len(s.Keys) {
		end = len(s.Keys)
	}
	return s.Keys[offset:end]
}

// SnapshotStore keeps snapshots addressable by id.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
}

// MemorySnapshots is the in-process snapshot store.
type MemorySnapshots struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{snapshots: make(map[string]*Snapshot)}
}

func (m *MemorySnapshots) Save(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.ID] = snapshot
	return nil
}

func (m *MemorySnapshots) Load(_ context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.snapshots[id]; ok {
		return s, nil
	}
	return nil, fhir.BadRequestf("unknown or expired page snapshot %q", id)
}
