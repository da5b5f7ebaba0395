package index

import (
	"context"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/search"
)

// Store persists index documents and answers filter queries over them.
// The index holds current versions only: Replace swaps the full document
// set of one resource, Delete removes it.
type Store interface {
	search.IndexQuerier

	// Replace removes every document under the identity and writes the
	// given set in its place. An empty set is a plain removal.
	Replace(ctx context.Context, identity string, docs []*Document) error

	// Delete removes all documents of the resource.
	Delete(ctx context.Context, key fhir.Key) error

	// Clean drops the whole index. A rebuild follows it.
	Clean(ctx context.Context) error
}
