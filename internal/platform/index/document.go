// Package index extracts search values from resource bodies and maintains
// the searchable document set. One resource version yields one document
// per containment level; documents are replaced wholesale on update and
// removed on delete, so the index always reflects current versions only.
package index

import (
	"time"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// Document is the searchable projection of one resource (or one contained
// resource inside it). Fields maps parameter names to value arrays; every
// parameter is an array even when the source element is scalar, so
// presence checks have a single shape.
//
// Value entries are one of:
//
//	string                   string, uri and reference parameters
//	decimal.Decimal          number parameters
//	map[string]interface{}   token {system, code, text}, date {start, end},
//	                         quantity {value, unit, code, system,
//	                         canonicalValue, canonicalUnit} and composite
//	                         sub-documents
type Document struct {
	ResourceType string
	Identity     string // "Type/id" of the root resource
	SelfLink     string // version-specific link of the root resource
	Level        int    // 0 for the root, 1+ for contained resources
	LastUpdated  time.Time
	Fields       map[string][]interface{}
}

// NewDocument starts a document for the given entry at a containment
// level. Identity and self link always point at the root resource, so a
// hit on a contained document surfaces its container.
func NewDocument(entry fhir.Entry, level int) *Document {
	return &Document{
		ResourceType: entry.Key.TypeName,
		Identity:     entry.Key.Identity(),
		SelfLink:     entry.SelfLink(),
		Level:        level,
		LastUpdated:  entry.When,
		Fields:       make(map[string][]interface{}),
	}
}

// Add appends values under a parameter name. Empty value sets leave the
// field absent rather than writing an empty array.
func (d *Document) Add(param string, values ...interface{}) {
	if len(values) == 0 {
		return
	}
	d.Fields[param] = append(d.Fields[param], values...)
}

// Key reconstructs the versioned key from the self link.
func (d *Document) Key() fhir.Key {
	k, err := fhir.ParseKey(d.SelfLink)
	if err != nil {
		k, _ = fhir.ParseKey(d.Identity)
	}
	return k
}
