// Package store persists versioned resource entries. Every create, update
// and delete appends a new version; reads resolve either the current
// version or a named historical one. Implementations exist for process
// memory and Postgres.
package store

import (
	"context"
	"time"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// Store is the versioned resource repository. Add never overwrites: a key
// with a version that already exists is a conflict.
type Store interface {
	// Add appends one entry. The entry's key must carry a version.
	Add(ctx context.Context, entry fhir.Entry) error

	// Get resolves a key. An unversioned key yields the current version,
	// deleted entries included; a versioned key yields exactly that
	// version. Unknown keys return a not-found error.
	Get(ctx context.Context, key fhir.Key) (fhir.Entry, error)

	// GetMany resolves keys in order, silently skipping unknown ones.
	GetMany(ctx context.Context, keys []fhir.Key) ([]fhir.Entry, error)

	// CurrentVersion reports the current version of an identity, 0 when
	// the identity has never existed.
	CurrentVersion(ctx context.Context, key fhir.Key) (int, error)

	// History lists versions newest first. Key scopes to one resource;
	// an empty ResourceID scopes to the type; an empty TypeName to the
	// whole system. A zero since means no lower bound.
	History(ctx context.Context, key fhir.Key, since time.Time, limit int) ([]fhir.Entry, error)

	// CurrentKeys streams the keys of all current, non-deleted versions
	// in batches. The reindex job is its only consumer.
	CurrentKeys(ctx context.Context, offset, limit int) ([]fhir.Key, error)
}

// Generator hands out resource ids and version numbers. Version numbers
// are strictly increasing per resource with no gaps under concurrency.
type Generator interface {
	NextResourceID(ctx context.Context, resourceType string) (string, error)
	NextVersionID(ctx context.Context, resourceType, resourceID string) (int, error)
}
