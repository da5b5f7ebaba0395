package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// MemoryStore keeps the full version history in process memory, ordered
// oldest to newest per identity.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]fhir.Entry // identity -> versions ascending
	order   []string                // identities in first-seen order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]fhir.Entry)}
}

func (s *MemoryStore) Add(_ context.Context, entry fhir.Entry) error {
	if !entry.Key.HasVersion() {
		return fhir.BadRequestf("cannot store %s without a version", entry.Key.Identity())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := entry.Key.Identity()
	versions := s.entries[identity]
	if len(versions) > 0 {
		last := versions[len(versions)-1]
		if entry.Key.VersionID <= last.Key.VersionID {
			return fhir.ConflictError(last.Key.VersionID+1, entry.Key.VersionID)
		}
	} else {
		s.order = append(s.order, identity)
	}
	s.entries[identity] = append(versions, entry)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key fhir.Key) (fhir.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.entries[key.Identity()]
	if len(versions) == 0 {
		return fhir.Entry{}, fhir.NotFoundError(key)
	}
	if !key.HasVersion() {
		return versions[len(versions)-1], nil
	}
	for _, e := range versions {
		if e.Key.VersionID == key.VersionID {
			return e, nil
		}
	}
	return fhir.Entry{}, fhir.NotFoundError(key)
}

func (s *MemoryStore) GetMany(ctx context.Context, keys []fhir.Key) ([]fhir.Entry, error) {
	out := make([]fhir.Entry, 0, len(keys))
	for _, key := range keys {
		entry, err := s.Get(ctx, key)
		if err != nil {
			if fhir.KindOf(err) == fhir.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, key fhir.Key) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.entries[key.Identity()]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Key.VersionID, nil
}

func (s *MemoryStore) History(_ context.Context, key fhir.Key, since time.Time, limit int) ([]fhir.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fhir.Entry
	for _, identity := range s.order {
		versions := s.entries[identity]
		head := versions[0].Key
		if key.TypeName != "" && head.TypeName != key.TypeName {
			continue
		}
		if key.ResourceID != "" && head.ResourceID != key.ResourceID {
			continue
		}
		for _, e := range versions {
			if since.IsZero() || e.When.After(since) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].When.Equal(out[j].When) {
			return out[i].Key.VersionID > out[j].Key.VersionID
		}
		return out[i].When.After(out[j].When)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CurrentKeys(_ context.Context, offset, limit int) ([]fhir.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current []fhir.Key
	for _, identity := range s.order {
		versions := s.entries[identity]
		last := versions[len(versions)-1]
		if last.IsDeleted() {
			continue
		}
		current = append(current, last.Key)
	}
	if offset >= len(current) {
		return nil, nil
	}
	current = current[offset:]
	if limit > 0 && len(current) > limit {
		current = current[:limit]
	}
	return current, nil
}

// Checkpoint captures the current state and returns a function restoring
// it. Transaction bundles use it to undo partial applies.
func (s *MemoryStore) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string][]fhir.Entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v[:len(v):len(v)]
	}
	order := s.order[:len(s.order):len(s.order)]

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = entries
		s.order = order
	}
}

// MemoryGenerator issues ids and versions from in-process counters.
type MemoryGenerator struct {
	mu       sync.Mutex
	ids      map[string]int64
	versions map[string]int
}

func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{ids: make(map[string]int64), versions: make(map[string]int)}
}

func (g *MemoryGenerator) NextResourceID(_ context.Context, resourceType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids[resourceType]++
	return strconv.FormatInt(g.ids[resourceType], 10), nil
}

func (g *MemoryGenerator) NextVersionID(_ context.Context, resourceType, resourceID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := resourceType + "/" + resourceID
	g.versions[k]++
	return g.versions[k], nil
}

// Checkpoint captures the counters and returns a function restoring them.
func (g *MemoryGenerator) Checkpoint() func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make(map[string]int64, len(g.ids))
	for k, v := range g.ids {
		ids[k] = v
	}
	versions := make(map[string]int, len(g.versions))
	for k, v := range g.versions {
		versions[k] = v
	}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.ids = ids
		g.versions = versions
	}
}
