package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// IndexQuerier is the slice of the index store the executor depends on.
// Implementations evaluate the filter tree against their own document
// representation and apply the sort keys with a resource-id tie-break.
type IndexQuerier interface {
	Query(ctx context.Context, resourceType string, filter Filter, sort []SortKey) ([]fhir.Key, error)

	// ReferencesFrom resolves the references held under param in the
	// index documents of the given keys (_include).
	ReferencesFrom(ctx context.Context, keys []fhir.Key, param string) ([]fhir.Key, error)

	// ReferencesTo finds documents of resourceType whose param references
	// any of the target keys (_revinclude).
	ReferencesTo(ctx context.Context, resourceType, param string, targets []fhir.Key) ([]fhir.Key, error)
}

// Result is the outcome of a search: the matched keys in order, the
// included keys, and the criteria that were actually applied (for the
// bundle self link).
type Result struct {
	Matches  []fhir.Key
	Includes []fhir.Key
	Used     []string
	Options  *Options
}

// Executor runs searches against an index store.
type Executor struct {
	Index   IndexQuerier
	Catalog *Catalog
	Log     zerolog.Logger
}

func NewExecutor(index IndexQuerier, catalog *Catalog, log zerolog.Logger) *Executor {
	return &Executor{Index: index, Catalog: catalog, Log: log}
}

// Search parses and executes a query for one resource type. Unknown
// parameters reject the whole search rather than silently widening it.
func (e *Executor) Search(ctx context.Context, resourceType string, values url.Values) (*Result, error) {
	if !e.Catalog.KnownResource(resourceType) {
		return nil, fhir.NotFoundError(fhir.Key{TypeName: resourceType})
	}

	criteria, opts, err := ParseQuery(resourceType, values, e.Catalog)
	if err != nil {
		return nil, err
	}
	if err := e.validateSort(resourceType, opts.Sort); err != nil {
		return nil, err
	}

	filter := make(And, 0, len(criteria))
	used := make([]string, 0, len(criteria))
	for _, cr := range criteria {
		f, err := cr.ToFilter()
		if err != nil {
			return nil, err
		}
		filter = append(filter, f)
		used = append(used, cr.Raw())
	}

	matches, err := e.Index.Query(ctx, resourceType, filter, opts.Sort)
	if err != nil {
		return nil, err
	}

	includes, err := e.resolveIncludes(ctx, resourceType, matches, opts)
	if err != nil {
		return nil, err
	}

	e.Log.Debug().
		Str("resource", resourceType).
		Int("matches", len(matches)).
		Int("includes", len(includes)).
		Msg("search executed")

	return &Result{Matches: matches, Includes: includes, Used: used, Options: opts}, nil
}

func (e *Executor) validateSort(resourceType string, sort []SortKey) error {
	for _, s := range sort {
		if s.Param == "_id" || s.Param == "_lastUpdated" {
			continue
		}
		if _, ok := e.Catalog.Lookup(resourceType, s.Param); !ok {
			return fhir.BadRequestf("cannot sort %s by unknown parameter %q", resourceType, s.Param)
		}
	}
	return nil
}

// resolveIncludes collects _include and _revinclude entries, deduplicated
// against the match set and each other.
func (e *Executor) resolveIncludes(ctx context.Context, resourceType string, matches []fhir.Key, opts *Options) ([]fhir.Key, error) {
	if len(matches) == 0 || (len(opts.Includes) == 0 && len(opts.RevIncludes) == 0) {
		return nil, nil
	}

	seen := make(map[string]bool, len(matches))
	for _, k := range matches {
		seen[k.Identity()] = true
	}

	var includes []fhir.Key
	add := func(keys []fhir.Key) {
		for _, k := range keys {
			if id := k.Identity(); !seen[id] {
				seen[id] = true
				includes = append(includes, k)
			}
		}
	}

	for _, inc := range opts.Includes {
		source, param, err := parseIncludeValue(inc)
		if err != nil {
			return nil, err
		}
		if source != resourceType {
			continue
		}
		if def, ok := e.Catalog.Lookup(source, param); !ok || def.Type != TypeReference {
			return nil, fhir.BadRequestf("_include %q does not name a reference parameter", inc)
		}
		keys, err := e.Index.ReferencesFrom(ctx, matches, param)
		if err != nil {
			return nil, err
		}
		add(keys)
	}

	for _, inc := range opts.RevIncludes {
		source, param, err := parseIncludeValue(inc)
		if err != nil {
			return nil, err
		}
		if def, ok := e.Catalog.Lookup(source, param); !ok || def.Type != TypeReference {
			return nil, fhir.BadRequestf("_revinclude %q does not name a reference parameter", inc)
		}
		keys, err := e.Index.ReferencesTo(ctx, source, param, matches)
		if err != nil {
			return nil, err
		}
		add(keys)
	}

	return includes, nil
}

// parseIncludeValue splits "Source:param" or "Source:param:Target"; the
// target type suffix is accepted and ignored since reference values carry
// their type already.
func parseIncludeValue(raw string) (source, param string, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fhir.BadRequestf("malformed include value %q, want Resource:parameter", raw)
	}
	return parts[0], parts[1], nil
}
