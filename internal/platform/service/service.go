// Package service ties the resource store, the id generator, the indexing
// engine and the search executor into the FHIR interactions the REST layer
// exposes. All storage-touching paths check the maintenance lock first.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/store"
)

const (
	// DefaultPageSize applies when a search carries no _count.
	DefaultPageSize = 50
	// MaxPageSize caps _count.
	MaxPageSize = 500
)

// Service implements the per-resource FHIR interactions.
type Service struct {
	resources store.Store
	generator store.Generator
	indexes   index.Store
	engine    *index.Engine
	executor  *search.Executor
	snapshots store.SnapshotStore
	lock      *store.MaintenanceLock
	gate      *WriteGate
	base      string
	pageSize  int
	log       zerolog.Logger
}

func New(resources store.Store, generator store.Generator, indexes index.Store,
	engine *index.Engine, executor *search.Executor, snapshots store.SnapshotStore,
	lock *store.MaintenanceLock, base string, log zerolog.Logger) *Service {
	return &Service{
		resources: resources,
		generator: generator,
		indexes:   indexes,
		engine:    engine,
		executor:  executor,
		snapshots: snapshots,
		lock:      lock,
		base:      base,
		pageSize:  DefaultPageSize,
		log:       log,
	}
}

// SetWriteGate installs the gate memory deployments share with their
// MemoryTx runner so that transactions and independent writes serialize.
func (s *Service) SetWriteGate(g *WriteGate) { s.gate = g }

// writeGuard takes a shared hold on the write gate and returns the
// release. Writes running inside a transaction skip it; the transaction
// holds the gate exclusively already.
func (s *Service) writeGuard(ctx context.Context) func() {
	if s.gate == nil || inTransaction(ctx) {
		return func() {}
	}
	s.gate.mu.RLock()
	return s.gate.mu.RUnlock
}

// SetPageSize overrides the page size used when a search carries no
// _count. Values outside (0, MaxPageSize] are ignored.
func (s *Service) SetPageSize(n int) {
	if n > 0 && n <= MaxPageSize {
		s.pageSize = n
	}
}

func (s *Service) Base() string                 { return s.base }
func (s *Service) Lock() *store.MaintenanceLock { return s.lock }
func (s *Service) Resources() store.Store       { return s.resources }
func (s *Service) Indexes() index.Store         { return s.indexes }
func (s *Service) Engine() *index.Engine        { return s.engine }
func (s *Service) Generator() store.Generator   { return s.generator }

// Create stores a new resource under a server-assigned id.
func (s *Service) Create(ctx context.Context, resourceType string, resource map[string]interface{}) (*fhir.Entry, error) {
	if err := s.lock.Check(true); err != nil {
		return nil, err
	}
	if err := checkBodyType(resourceType, resource); err != nil {
		return nil, err
	}
	defer s.writeGuard(ctx)()

	id, err := s.generator.NextResourceID(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, fhir.NewKey(resourceType, id), fhir.MethodCreate, resource)
}

// Update stores a new version under a client-chosen id, creating the
// resource when it does not exist yet. A non-nil expected version enforces
// optimistic concurrency against the current version.
func (s *Service) Update(ctx context.Context, key fhir.Key, resource map[string]interface{}, expected *int) (*fhir.Entry, bool, error) {
	if err := s.lock.Check(true); err != nil {
		return nil, false, err
	}
	if err := checkBodyType(key.TypeName, resource); err != nil {
		return nil, false, err
	}
	defer s.writeGuard(ctx)()

	current, err := s.resources.CurrentVersion(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if expected != nil && *expected != current {
		return nil, false, fhir.ConflictError(*expected, current)
	}

	method := fhir.MethodUpdate
	if current == 0 {
		method = fhir.MethodCreate
	}
	entry, err := s.store(ctx, key.WithoutVersion(), method, resource)
	return entry, current == 0, err
}

// store assigns the next version, stamps the body and writes entry plus
// index documents.
func (s *Service) store(ctx context.Context, key fhir.Key, method string, resource map[string]interface{}) (*fhir.Entry, error) {
	version, err := s.generator.NextVersionID(ctx, key.TypeName, key.ResourceID)
	if err != nil {
		return nil, err
	}
	versioned := key.WithVersion(version)

	entry := fhir.NewPresentEntry(versioned, method, resource)
	fhir.StampResource(resource, versioned, entry.When)

	if err := s.resources.Add(ctx, *entry); err != nil {
		return nil, err
	}
	if err := s.index(ctx, *entry); err != nil {
		return nil, err
	}

	s.log.Info().Str("key", versioned.String()).Str("method", method).Msg("resource stored")
	return entry, nil
}

func (s *Service) index(ctx context.Context, entry fhir.Entry) error {
	docs := s.engine.Extract(entry)
	return s.indexes.Replace(ctx, entry.Key.Identity(), docs)
}

// Delete appends a tombstone version and drops the index documents.
// Deleting what is already gone is a no-op; deleting what never existed
// is not found.
func (s *Service) Delete(ctx context.Context, key fhir.Key, expected *int) error {
	if err := s.lock.Check(true); err != nil {
		return err
	}
	defer s.writeGuard(ctx)()

	current, err := s.resources.Get(ctx, key.WithoutVersion())
	if err != nil {
		return err
	}
	if current.IsDeleted() {
		return nil
	}
	if expected != nil && *expected != current.Key.VersionID {
		return fhir.ConflictError(*expected, current.Key.VersionID)
	}

	version, err := s.generator.NextVersionID(ctx, key.TypeName, key.ResourceID)
	if err != nil {
		return err
	}
	tombstone := fhir.NewDeletedEntry(key.WithoutVersion().WithVersion(version))
	if err := s.resources.Add(ctx, *tombstone); err != nil {
		return err
	}
	if err := s.indexes.Delete(ctx, key); err != nil {
		return err
	}
	s.log.Info().Str("key", tombstone.Key.String()).Msg("resource deleted")
	return nil
}

// Read resolves the current version. Deleted resources answer gone, which
// the REST layer turns into 410.
func (s *Service) Read(ctx context.Context, key fhir.Key) (*fhir.Entry, error) {
	if err := s.lock.Check(false); err != nil {
		return nil, err
	}
	entry, err := s.resources.Get(ctx, key.WithoutVersion())
	if err != nil {
		return nil, err
	}
	if entry.IsDeleted() {
		return nil, fhir.GoneError(entry.Key)
	}
	return &entry, nil
}

// VRead resolves one specific historical version.
func (s *Service) VRead(ctx context.Context, key fhir.Key) (*fhir.Entry, error) {
	if err := s.lock.Check(false); err != nil {
		return nil, err
	}
	if !key.HasVersion() {
		return nil, fhir.BadRequestf("version read requires a version id")
	}
	entry, err := s.resources.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.IsDeleted() {
		return nil, fhir.GoneError(entry.Key)
	}
	return &entry, nil
}

// History builds a history bundle for a resource, a type or the whole
// system depending on how much of the key is filled in.
func (s *Service) History(ctx context.Context, key fhir.Key, since time.Time, count int) (*fhir.Bundle, error) {
	if err := s.lock.Check(false); err != nil {
		return nil, err
	}
	if key.ResourceID != "" {
		// A history read of an unknown resource is an error; of a deleted
		// one it is the tombstone trail.
		if _, err := s.resources.Get(ctx, key.WithoutVersion()); err != nil {
			return nil, err
		}
	}
	if count <= 0 || count > MaxPageSize {
		count = s.pageSize
	}

	entries, err := s.resources.History(ctx, key, since, count)
	if err != nil {
		return nil, err
	}

	bundle := fhir.NewBundle("history")
	bundle.SetTotal(len(entries))
	for i := range entries {
		bundle.HistoryEntry(s.base, &entries[i])
	}
	return bundle, nil
}

func checkBodyType(resourceType string, resource map[string]interface{}) error {
	actual := fhir.ResourceType(resource)
	if actual == "" {
		return fhir.BadRequestf("request body carries no resourceType")
	}
	if actual != resourceType {
		return fhir.BadRequestf("request body is a %s, endpoint expects %s", actual, resourceType)
	}
	return nil
}
