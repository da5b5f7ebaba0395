// Package model holds the load-time constructed resource model tables: a
// string-keyed lookup from (type name, element name) to element metadata,
// and a path visitor that walks raw resource bodies along dotted paths.
// No reflection is involved; the tables are built once at startup and are
// safe for unsynchronized concurrent reads.
package model

import "strings"

// PropertyMapping describes one element of a resource or complex type.
type PropertyMapping struct {
	Name         string   // element name as it appears in paths, e.g. "name"
	TypeName     string   // FHIR datatype, e.g. "HumanName", "string", "dateTime"
	IsCollection bool     // true when the element repeats
	ChoiceTypes  []string // concrete types for a choice element ("onset[x]"); nil otherwise
}

// IsChoice reports whether the element is a polymorphic choice element.
func (p *PropertyMapping) IsChoice() bool { return len(p.ChoiceTypes) > 0 }

// TypeDefinition lists the elements of one resource or complex type that
// participate in search indexing.
type TypeDefinition struct {
	Name     string
	Elements []PropertyMapping
}

// PropertyIndex is the immutable (typeName, elementName) -> mapping table.
type PropertyIndex struct {
	types map[string]map[string]*PropertyMapping
}

// NewPropertyIndex builds the lookup table from type definitions. Choice
// elements are registered both under their bare name ("onset") and under
// each concrete expansion ("onsetDateTime", "onsetPeriod", ...).
func NewPropertyIndex(defs []TypeDefinition) *PropertyIndex {
	idx := &PropertyIndex{types: make(map[string]map[string]*PropertyMapping, len(defs))}
	for i := range defs {
		def := &defs[i]
		byName := make(map[string]*PropertyMapping, len(def.Elements))
		for j := range def.Elements {
			el := &def.Elements[j]
			byName[el.Name] = el
			for _, ct := range el.ChoiceTypes {
				expanded := el.Name + titleize(ct)
				byName[expanded] = &PropertyMapping{
					Name:         expanded,
					TypeName:     ct,
					IsCollection: el.IsCollection,
				}
			}
		}
		idx.types[def.Name] = byName
	}
	return idx
}

// FindPropertyMapping resolves one element of a type. Returns nil for
// unknown type/property pairs; callers treat nil as "no such path".
func (idx *PropertyIndex) FindPropertyMapping(typeName, propertyName string) *PropertyMapping {
	byName, ok := idx.types[typeName]
	if !ok {
		return nil
	}
	// "onset[x]" and "onset" address the same choice element.
	propertyName = strings.TrimSuffix(propertyName, "[x]")
	return byName[propertyName]
}

// KnownType reports whether the index has a definition for the type.
func (idx *PropertyIndex) KnownType(typeName string) bool {
	_, ok := idx.types[typeName]
	return ok
}

// titleize upper-cases the first rune, matching FHIR's choice element
// expansion rule (dateTime -> DateTime).
func titleize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
