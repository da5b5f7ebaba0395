package index

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/search"
)

// MemoryStore keeps index documents in process memory. It interprets
// filter trees directly and backs the tests and small deployments; the
// Postgres store is the durable counterpart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]*Document // identity -> document set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]*Document)}
}

func (s *MemoryStore) Replace(_ context.Context, identity string, docs []*Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(docs) == 0 {
		delete(s.docs, identity)
		return nil
	}
	s.docs[identity] = docs
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key fhir.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key.Identity())
	return nil
}

func (s *MemoryStore) Clean(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string][]*Document)
	return nil
}

// Checkpoint captures the document set and returns a function restoring
// it. Transaction bundles use it to undo partial index writes.
func (s *MemoryStore) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make(map[string][]*Document, len(s.docs))
	for k, v := range s.docs {
		docs[k] = v
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.docs = docs
	}
}

// Query evaluates the filter against every root-level document of the
// type. Contained documents are indexed but do not surface as matches
// themselves.
func (s *MemoryStore) Query(_ context.Context, resourceType string, filter search.Filter, sortKeys []search.SortKey) ([]fhir.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*Document
	for _, set := range s.docs {
		for _, doc := range set {
			if doc.Level != 0 || doc.ResourceType != resourceType {
				continue
			}
			if evalFilter(doc, filter) {
				hits = append(hits, doc)
			}
		}
	}

	sortDocuments(hits, sortKeys)

	keys := make([]fhir.Key, 0, len(hits))
	for _, doc := range hits {
		keys = append(keys, doc.Key())
	}
	return keys, nil
}

func (s *MemoryStore) ReferencesFrom(_ context.Context, keys []fhir.Key, param string) ([]fhir.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []fhir.Key
	for _, key := range keys {
		for _, doc := range s.docs[key.Identity()] {
			if doc.Level != 0 {
				continue
			}
			for _, v := range doc.Fields[param] {
				ref, ok := v.(string)
				if !ok || seen[ref] {
					continue
				}
				seen[ref] = true
				target, err := fhir.ParseKey(ref)
				if err != nil {
					continue // external reference, nothing to include
				}
				out = append(out, target)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ReferencesTo(_ context.Context, resourceType, param string, targets []fhir.Key) ([]fhir.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[t.Identity()] = true
	}

	var out []fhir.Key
	for _, set := range s.docs {
		for _, doc := range set {
			if doc.Level != 0 || doc.ResourceType != resourceType {
				continue
			}
			for _, v := range doc.Fields[param] {
				if ref, ok := v.(string); ok && wanted[ref] {
					out = append(out, doc.Key())
					break
				}
			}
		}
	}
	return out, nil
}

// sortDocuments orders hits by the sort keys with the resource identity as
// final tie-break, so result order is deterministic even without _sort.
func sortDocuments(docs []*Document, keys []search.SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, b := sortValue(docs[i], k.Param), sortValue(docs[j], k.Param)
			if a == b {
				continue
			}
			if k.Descending {
				return a > b
			}
			return a < b
		}
		return docs[i].Identity < docs[j].Identity
	})
}

// sortValue picks a comparable string for a document under a parameter:
// the first indexed value, reduced to its primary facet.
func sortValue(doc *Document, param string) string {
	switch param {
	case "_id":
		if i := strings.IndexByte(doc.Identity, '/'); i >= 0 {
			return doc.Identity[i+1:]
		}
		return doc.Identity
	case "_lastUpdated":
		return search.FormatIndexTime(doc.LastUpdated.UTC())
	}
	values := doc.Fields[param]
	if len(values) == 0 {
		return ""
	}
	switch v := values[0].(type) {
	case string:
		return strings.ToLower(v)
	case decimal.Decimal:
		return v.String()
	case map[string]interface{}:
		for _, facet := range []string{"code", "start", "value", "full", "text"} {
			if s, ok := v[facet].(string); ok {
				return strings.ToLower(s)
			}
			if n, ok := v[facet].(decimal.Decimal); ok {
				return n.String()
			}
		}
	}
	return ""
}
