package index

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/search"
)

// Engine harvests search values from resource bodies. It walks every
// parameter definition for the resource type, visits the definition's
// paths and folds the reached elements into index documents. Contained
// resources index recursively one level deeper under the container's
// identity.
type Engine struct {
	visitor *model.Visitor
	catalog *search.Catalog
	base    string
	log     zerolog.Logger
}

func NewEngine(visitor *model.Visitor, catalog *search.Catalog, base string, log zerolog.Logger) *Engine {
	return &Engine{visitor: visitor, catalog: catalog, base: base, log: log}
}

// Extract builds the full document set for one entry: the root document
// plus one per contained resource. Deleted entries yield nothing.
func (e *Engine) Extract(entry fhir.Entry) []*Document {
	if entry.IsDeleted() || entry.Resource == nil {
		return nil
	}
	return e.extract(entry, entry.Resource, 0)
}

func (e *Engine) extract(entry fhir.Entry, resource map[string]interface{}, level int) []*Document {
	doc := NewDocument(entry, level)
	doc.ResourceType = fhir.ResourceType(resource)

	e.harvest(doc, resource)

	docs := []*Document{doc}
	for _, contained := range fhir.ContainedResources(resource) {
		docs = append(docs, e.extract(entry, contained, level+1)...)
	}
	return docs
}

// harvest runs every applicable definition against the resource. A
// definition that panics on odd data is logged and skipped; one bad
// parameter never loses the rest of the document.
func (e *Engine) harvest(doc *Document, resource map[string]interface{}) {
	resourceType := fhir.ResourceType(resource)

	if id := fhir.ResourceID(resource); id != "" {
		doc.Add("_id", map[string]interface{}{"code": id})
	}

	for _, def := range e.catalog.ForResource(resourceType) {
		def := def
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Warn().
						Str("resource", doc.Identity).
						Str("parameter", def.Name).
						Str("panic", fmt.Sprint(r)).
						Msg("skipping search parameter during indexing")
				}
			}()
			e.harvestDefinition(doc, resource, def)
		}()
	}
}

func (e *Engine) harvestDefinition(doc *Document, resource map[string]interface{}, def *search.Definition) {
	if def.Name == "_id" {
		return
	}
	if def.Type == search.TypeComposite {
		e.harvestComposite(doc, resource, def)
		return
	}
	for _, path := range def.Paths {
		e.visitor.VisitByPath(resource, path, func(el model.Element) {
			doc.Add(def.Name, ElementValues(def.Type, el, e.base)...)
		})
	}
}

// harvestComposite builds one sub-document per root element, with each
// component's values keyed by the component path. Keeping the components
// of one root element together is what lets a composite query demand that
// its parts hit the same value.
func (e *Engine) harvestComposite(doc *Document, resource map[string]interface{}, def *search.Definition) {
	roots := e.compositeRoots(resource, def)
	for _, root := range roots {
		sub := map[string]interface{}{}
		for _, comp := range def.Components {
			var values []interface{}
			e.visitor.VisitFrom(root, comp.Path, func(el model.Element) {
				values = append(values, ElementValues(comp.Type, el, e.base)...)
			})
			if len(values) > 0 {
				sub[comp.Path] = values
			}
		}
		if len(sub) > 0 {
			doc.Add(def.Name, sub)
		}
	}
}

func (e *Engine) compositeRoots(resource map[string]interface{}, def *search.Definition) []model.Element {
	resourceType := fhir.ResourceType(resource)
	var roots []model.Element
	for _, path := range def.Paths {
		if path == "" {
			roots = append(roots, model.Element{TypeName: resourceType, Value: resource})
			continue
		}
		e.visitor.VisitByPath(resource, path, func(el model.Element) {
			roots = append(roots, el)
		})
	}
	return roots
}
