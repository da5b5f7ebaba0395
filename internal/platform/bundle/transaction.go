// Package bundle processes transaction and batch bundles. Transactions
// apply atomically: placeholder ids resolve up front, entries execute in
// method order, and any failure rolls the whole set back. Batches apply
// entry by entry, recording per-entry outcomes.
package bundle

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/service"
)

// entry is one parsed bundle entry, tagged with its original position so
// responses come back in submission order.
type entry struct {
	pos      int
	fullURL  string
	resource map[string]interface{}
	request  fhir.BundleRequest
	existing *fhir.Key // conditional create resolved to one match
}

// methodOrder is the FHIR processing order: deletes first, then creates,
// then updates, reads last.
var methodOrder = map[string]int{
	"DELETE": 0,
	"POST":   1,
	"PUT":    2,
	"PATCH":  2,
	"GET":    3,
	"HEAD":   3,
}

// Processor executes bundles against the resource service.
type Processor struct {
	svc *service.Service
	tx  service.TxRunner
	log zerolog.Logger
}

func NewProcessor(svc *service.Service, tx service.TxRunner, log zerolog.Logger) *Processor {
	return &Processor{svc: svc, tx: tx, log: log}
}

// Process dispatches on the bundle type.
func (p *Processor) Process(ctx context.Context, raw map[string]interface{}) (*fhir.Bundle, error) {
	if rt, _ := raw["resourceType"].(string); rt != "Bundle" {
		return nil, fhir.BadRequestf("request body is not a Bundle")
	}
	entries, err := parseEntries(raw)
	if err != nil {
		return nil, err
	}
	switch bundleType, _ := raw["type"].(string); bundleType {
	case "transaction":
		return p.Transaction(ctx, entries)
	case "batch":
		return p.Batch(ctx, entries), nil
	default:
		return nil, fhir.BadRequestf("bundle type must be transaction or batch, got %q", bundleType)
	}
}

func parseEntries(raw map[string]interface{}) ([]entry, error) {
	rawEntries, _ := raw["entry"].([]interface{})
	entries := make([]entry, 0, len(rawEntries))
	for i, re := range rawEntries {
		m, ok := re.(map[string]interface{})
		if !ok {
			return nil, fhir.TransactionError(i, "entry is not an object")
		}
		e := entry{pos: i}
		e.fullURL, _ = m["fullUrl"].(string)
		e.resource, _ = m["resource"].(map[string]interface{})
		req, ok := m["request"].(map[string]interface{})
		if !ok {
			return nil, fhir.TransactionError(i, "entry carries no request")
		}
		e.request.Method, _ = req["method"].(string)
		e.request.URL, _ = req["url"].(string)
		e.request.IfMatch, _ = req["ifMatch"].(string)
		e.request.IfNoneExist, _ = req["ifNoneExist"].(string)
		if _, ok := methodOrder[e.request.Method]; !ok {
			return nil, fhir.TransactionError(i, fmt.Sprintf("unsupported method %q", e.request.Method))
		}
		if e.request.URL == "" {
			return nil, fhir.TransactionError(i, "entry request carries no url")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Transaction runs all entries atomically and answers a
// transaction-response bundle with entries in submission order.
func (p *Processor) Transaction(ctx context.Context, entries []entry) (*fhir.Bundle, error) {
	if err := detectReferenceCycles(entries); err != nil {
		return nil, err
	}

	responses := make([]fhir.BundleEntry, len(entries))
	err := p.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		idMap, err := p.assignIdentities(ctx, entries)
		if err != nil {
			return err
		}
		resolveLocalReferences(entries, idMap)
		if err := verifyReferencesResolved(entries); err != nil {
			return err
		}

		for _, e := range sortByMethod(entries) {
			resp, err := p.apply(ctx, e)
			if err != nil {
				if fhir.KindOf(err) == fhir.KindInternal {
					return err
				}
				return fhir.TransactionError(e.pos, err.Error())
			}
			responses[e.pos] = resp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().Int("entries", len(entries)).Msg("transaction applied")

	out := fhir.NewBundle("transaction-response")
	out.Entry = responses
	return out, nil
}

// Batch runs entries independently; a failing entry becomes an outcome in
// its response slot and the rest still apply.
func (p *Processor) Batch(ctx context.Context, entries []entry) *fhir.Bundle {
	out := fhir.NewBundle("batch-response")
	out.Entry = make([]fhir.BundleEntry, len(entries))
	for _, e := range entries {
		resp, err := p.apply(ctx, e)
		if err != nil {
			out.Entry[e.pos] = fhir.BundleEntry{
				Response: &fhir.BundleResponse{
					Status:  fmt.Sprintf("%d", fhir.StatusFor(err)),
					Outcome: fhir.OutcomeFor(err),
				},
			}
			continue
		}
		out.Entry[e.pos] = resp
	}
	return out
}

// assignIdentities draws ids for creates and maps every placeholder
// fullUrl onto its final "Type/id" identity. Conditional creates resolve
// here too, so sibling entries referencing their placeholder rewrite to
// the matched identity.
func (p *Processor) assignIdentities(ctx context.Context, entries []entry) (map[string]string, error) {
	idMap := make(map[string]string)
	for i := range entries {
		e := &entries[i]
		switch e.request.Method {
		case "POST":
			resourceType, _, query := splitEntryURL(e.request.URL)
			if query != "" || resourceType == "" {
				return nil, fhir.TransactionError(e.pos, fmt.Sprintf("cannot create against %q", e.request.URL))
			}
			if e.request.IfNoneExist != "" {
				match, err := p.resolveConditionalCreate(ctx, e, resourceType)
				if err != nil {
					return nil, err
				}
				if match {
					if e.fullURL != "" {
						idMap[e.fullURL] = e.existing.Identity()
					}
					continue
				}
			}
			id, err := p.svc.Generator().NextResourceID(ctx, resourceType)
			if err != nil {
				return nil, err
			}
			identity := resourceType + "/" + id
			e.request.URL = identity
			if e.fullURL != "" {
				idMap[e.fullURL] = identity
			}
		default:
			if e.fullURL == "" {
				continue
			}
			if _, _, q := splitEntryURL(e.request.URL); q == "" && strings.Contains(e.request.URL, "/") {
				idMap[e.fullURL] = e.request.URL
			}
		}
	}
	return idMap, nil
}

// resolveConditionalCreate evaluates If-None-Exist before any entry
// applies: no match falls through to a plain create, one match pins the
// entry to the existing resource, several abort the transaction.
func (p *Processor) resolveConditionalCreate(ctx context.Context, e *entry, resourceType string) (bool, error) {
	values, err := url.ParseQuery(e.request.IfNoneExist)
	if err != nil {
		return false, fhir.TransactionError(e.pos, fmt.Sprintf("malformed If-None-Exist %q", e.request.IfNoneExist))
	}
	keys, err := p.svc.FindKeys(ctx, resourceType, values)
	if err != nil {
		return false, err
	}
	switch len(keys) {
	case 0:
		e.request.IfNoneExist = ""
		return false, nil
	case 1:
		e.request.IfNoneExist = ""
		e.existing = &keys[0]
		return true, nil
	default:
		return false, fhir.TransactionError(e.pos,
			fmt.Sprintf("If-None-Exist %q matches %d resources", e.request.IfNoneExist, len(keys)))
	}
}

// apply executes one entry against the service.
func (p *Processor) apply(ctx context.Context, e entry) (fhir.BundleEntry, error) {
	resourceType, id, query := splitEntryURL(e.request.URL)

	switch e.request.Method {
	case "POST":
		if e.existing != nil {
			found, err := p.svc.Read(ctx, *e.existing)
			if err != nil {
				return fhir.BundleEntry{}, err
			}
			return responseEntry(p.svc.Base(), found, "200 OK"), nil
		}
		if e.request.IfNoneExist != "" {
			// Batch entries resolve their condition here; transaction
			// entries already did while identities were assigned.
			return p.conditionalCreate(ctx, e, resourceType)
		}
		// The id was pre-assigned while resolving placeholders; an entry
		// arriving without one (batch mode) creates normally.
		if id == "" {
			created, err := p.svc.Create(ctx, resourceType, e.resource)
			if err != nil {
				return fhir.BundleEntry{}, err
			}
			return responseEntry(p.svc.Base(), created, "201 Created"), nil
		}
		stored, _, err := p.svc.Update(ctx, fhir.NewKey(resourceType, id), e.resource, nil)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return responseEntry(p.svc.Base(), stored, "201 Created"), nil

	case "PUT", "PATCH":
		if id == "" {
			return fhir.BundleEntry{}, fhir.BadRequestf("update requires Type/id, got %q", e.request.URL)
		}
		expected, err := expectedVersion(e.request.IfMatch)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		stored, created, err := p.svc.Update(ctx, fhir.NewKey(resourceType, id), e.resource, expected)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		status := "200 OK"
		if created {
			status = "201 Created"
		}
		return responseEntry(p.svc.Base(), stored, status), nil

	case "DELETE":
		if id == "" {
			return fhir.BundleEntry{}, fhir.BadRequestf("delete requires Type/id, got %q", e.request.URL)
		}
		if err := p.svc.Delete(ctx, fhir.NewKey(resourceType, id), nil); err != nil {
			if fhir.KindOf(err) == fhir.KindNotFound {
				// Deleting the nonexistent is a no-op inside a bundle.
				return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: "204 No Content"}}, nil
			}
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: "204 No Content"}}, nil

	case "GET", "HEAD":
		if query != "" || id == "" {
			return fhir.BundleEntry{}, fhir.BadRequestf("read requires Type/id, got %q", e.request.URL)
		}
		read, err := p.svc.Read(ctx, fhir.NewKey(resourceType, id))
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return responseEntry(p.svc.Base(), read, "200 OK"), nil

	default:
		return fhir.BundleEntry{}, fhir.BadRequestf("unsupported method %q", e.request.Method)
	}
}

// conditionalCreate applies If-None-Exist: no match creates, one match
// answers the existing resource, several reject.
func (p *Processor) conditionalCreate(ctx context.Context, e entry, resourceType string) (fhir.BundleEntry, error) {
	values, err := url.ParseQuery(e.request.IfNoneExist)
	if err != nil {
		return fhir.BundleEntry{}, fhir.BadRequestf("malformed If-None-Exist %q", e.request.IfNoneExist)
	}
	keys, err := p.svc.FindKeys(ctx, resourceType, values)
	if err != nil {
		return fhir.BundleEntry{}, err
	}
	switch len(keys) {
	case 0:
		created, err := p.svc.Create(ctx, resourceType, e.resource)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return responseEntry(p.svc.Base(), created, "201 Created"), nil
	case 1:
		existing, err := p.svc.Read(ctx, keys[0])
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return responseEntry(p.svc.Base(), existing, "200 OK"), nil
	default:
		return fhir.BundleEntry{}, fhir.BadRequestf("If-None-Exist %q matches %d resources", e.request.IfNoneExist, len(keys))
	}
}

func responseEntry(base string, stored *fhir.Entry, status string) fhir.BundleEntry {
	when := stored.When
	full := stored.Key.Identity()
	if base != "" {
		full = base + "/" + full
	}
	return fhir.BundleEntry{
		FullURL:  full,
		Resource: stored.Resource,
		Response: &fhir.BundleResponse{
			Status:       status,
			Location:     stored.Key.String(),
			ETag:         fhir.FormatETag(stored.Key.VersionID),
			LastModified: &when,
		},
	}
}

func expectedVersion(ifMatch string) (*int, error) {
	if ifMatch == "" {
		return nil, nil
	}
	v, err := fhir.ParseETag(ifMatch)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// sortByMethod orders entries deletes first, creates next, updates after,
// reads last; entries sharing a method keep submission order.
func sortByMethod(entries []entry) []entry {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return methodOrder[sorted[i].request.Method] < methodOrder[sorted[j].request.Method]
	})
	return sorted
}

// splitEntryURL parses the relative entry url forms "Type", "Type/id" and
// "Type?query".
func splitEntryURL(raw string) (resourceType, id, query string) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i], "", raw[i+1:]
	}
	parts := strings.SplitN(raw, "/", 3)
	resourceType = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	return resourceType, id, ""
}

// resolveLocalReferences rewrites every placeholder reference to its
// assigned identity, in bodies and request urls alike.
func resolveLocalReferences(entries []entry, idMap map[string]string) {
	if len(idMap) == 0 {
		return
	}
	for i := range entries {
		if entries[i].resource != nil {
			rewriteReferences(entries[i].resource, idMap)
		}
		if mapped, ok := idMap[entries[i].request.URL]; ok {
			entries[i].request.URL = mapped
		}
	}
}

func rewriteReferences(node interface{}, idMap map[string]string) {
	switch val := node.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if k == "reference" {
				if ref, ok := child.(string); ok {
					if mapped, ok := idMap[ref]; ok {
						val[k] = mapped
						continue
					}
				}
			}
			rewriteReferences(child, idMap)
		}
	case []interface{}:
		for _, item := range val {
			rewriteReferences(item, idMap)
		}
	}
}

// verifyReferencesResolved rejects entries still carrying placeholder
// references after rewriting. A placeholder no entry claims can never be
// satisfied, so persisting it would leak an unresolvable reference.
func verifyReferencesResolved(entries []entry) error {
	for _, e := range entries {
		if isPlaceholder(e.request.URL) {
			return fhir.TransactionError(e.pos,
				fmt.Sprintf("request url %q does not resolve to a bundle entry", e.request.URL))
		}
		if e.resource == nil {
			continue
		}
		for _, ref := range collectReferences(e.resource) {
			if isPlaceholder(ref) {
				return fhir.TransactionError(e.pos,
					fmt.Sprintf("reference %q does not resolve to a bundle entry", ref))
			}
		}
	}
	return nil
}

func isPlaceholder(ref string) bool {
	return strings.HasPrefix(ref, "urn:uuid:") || strings.HasPrefix(ref, "urn:oid:")
}

// detectReferenceCycles walks placeholder references between entries with
// depth-first coloring and rejects bundles whose placeholders form a
// cycle, naming the entries involved.
func detectReferenceCycles(entries []entry) error {
	positions := make(map[string]int)
	for _, e := range entries {
		if e.fullURL != "" {
			positions[e.fullURL] = e.pos
		}
	}

	adj := make(map[string][]string)
	for _, e := range entries {
		if e.fullURL == "" || e.resource == nil {
			continue
		}
		for _, ref := range collectReferences(e.resource) {
			if _, ok := positions[ref]; ok && ref != e.fullURL {
				adj[e.fullURL] = append(adj[e.fullURL], ref)
			}
		}
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)

	var cycleErr error
	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		for _, next := range adj[node] {
			if color[next] == gray {
				cycleErr = fhir.TransactionError(positions[node],
					fmt.Sprintf("circular reference between entry %d and entry %d", positions[node], positions[next]))
				return true
			}
			if color[next] == white && visit(next) {
				return true
			}
		}
		color[node] = black
		return false
	}

	for node := range adj {
		if color[node] == white && visit(node) {
			return cycleErr
		}
	}
	return nil
}

func collectReferences(resource map[string]interface{}) []string {
	var refs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			if ref, ok := val["reference"].(string); ok {
				refs = append(refs, ref)
			}
			for _, child := range val {
				walk(child)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(resource)
	return refs
}
