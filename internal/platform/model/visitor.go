package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Element is one value reached by a path walk, tagged with its declared
// FHIR datatype so the indexer can dispatch without introspection.
type Element struct {
	TypeName string
	Value    interface{}
}

// Visitor walks raw resource bodies along dotted paths, using the property
// index to type each step. Walking a missing or empty path invokes the
// action zero times; it is never an error.
type Visitor struct {
	index *PropertyIndex
}

// NewVisitor creates a visitor over the given property index.
func NewVisitor(index *PropertyIndex) *Visitor {
	return &Visitor{index: index}
}

// segment is one parsed path step: a name, an optional (prop=value)
// predicate and an optional [x] choice suffix.
type segment struct {
	name      string
	predName  string
	predValue string
	anyChoice bool
}

// parsePath splits a dotted path into segments, honoring parentheses so a
// predicate value may itself contain dots.
func parsePath(path string) []segment {
	var segs []segment
	depth := 0
	start := 0
	flush := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			segs = append(segs, parseSegment(raw))
		}
	}
	for i, r := range path {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '.':
			if depth == 0 {
				flush(path[start:i])
				start = i + 1
			}
		}
	}
	flush(path[start:])
	return segs
}

func parseSegment(raw string) segment {
	var seg segment
	if strings.HasSuffix(raw, "[x]") {
		seg.anyChoice = true
		raw = strings.TrimSuffix(raw, "[x]")
	}
	if open := strings.IndexByte(raw, '('); open >= 0 {
		end := strings.LastIndexByte(raw, ')')
		if end > open {
			pred := raw[open+1 : end]
			if eq := strings.IndexByte(pred, '='); eq >= 0 {
				seg.predName = strings.TrimSpace(pred[:eq])
				seg.predValue = strings.Trim(strings.TrimSpace(pred[eq+1:]), `'"`)
			}
			raw = raw[:open]
		}
	}
	seg.name = strings.TrimSpace(raw)
	return seg
}

// VisitByPath walks the resource along the path and invokes action for
// every element reached. Fan-out over collections means action may run
// 0..N times per call. Paths may carry the canonical "Type.element" form;
// a leading segment naming the resource type is skipped.
func (v *Visitor) VisitByPath(resource map[string]interface{}, path string, action func(Element)) {
	resourceType, _ := resource["resourceType"].(string)
	if resourceType == "" || path == "" {
		return
	}
	path = strings.TrimPrefix(path, resourceType+".")
	v.VisitFrom(Element{TypeName: resourceType, Value: resource}, path, action)
}

// VisitFrom walks from an already-typed element instead of a resource
// root. Composite parameter components resolve their sub-paths this way.
func (v *Visitor) VisitFrom(root Element, path string, action func(Element)) {
	if path == "" {
		action(root)
		return
	}
	nodes := []Element{root}
	for _, seg := range parsePath(path) {
		if len(nodes) == 0 {
			return
		}
		var next []Element
		for _, node := range nodes {
			next = append(next, v.step(node, seg)...)
		}
		nodes = next
	}
	for _, node := range nodes {
		action(node)
	}
}

// step resolves one segment against one node, fanning out over collections
// and choice expansions.
func (v *Visitor) step(node Element, seg segment) []Element {
	m, ok := node.Value.(map[string]interface{})
	if !ok {
		return nil
	}
	mapping := v.index.FindPropertyMapping(node.TypeName, seg.name)
	if mapping == nil {
		return nil
	}

	var out []Element
	if mapping.IsChoice() {
		// A choice element serializes under its concrete key; [x] (or the
		// bare name) matches whichever concrete type is present.
		for _, ct := range mapping.ChoiceTypes {
			key := seg.name + titleize(ct)
			if val, ok := m[key]; ok {
				out = append(out, fanOut(ct, val)...)
			}
		}
	} else {
		val, ok := m[seg.name]
		if !ok {
			return nil
		}
		out = fanOut(mapping.TypeName, val)
	}

	if seg.predName != "" {
		filtered := out[:0]
		for _, el := range out {
			if predicateMatches(el, seg.predName, seg.predValue) {
				filtered = append(filtered, el)
			}
		}
		out = filtered
	}
	return out
}

func fanOut(typeName string, val interface{}) []Element {
	if arr, ok := val.([]interface{}); ok {
		out := make([]Element, 0, len(arr))
		for _, item := range arr {
			if item != nil {
				out = append(out, Element{TypeName: typeName, Value: item})
			}
		}
		return out
	}
	if val == nil {
		return nil
	}
	return []Element{{TypeName: typeName, Value: val}}
}

// predicateMatches reports whether the element's named sub-property
// stringifies to the literal. Collections match when any item matches.
func predicateMatches(el Element, name, literal string) bool {
	m, ok := el.Value.(map[string]interface{})
	if !ok {
		return false
	}
	sub, ok := m[name]
	if !ok {
		return false
	}
	if arr, ok := sub.([]interface{}); ok {
		for _, item := range arr {
			if stringify(item) == literal {
				return true
			}
		}
		return false
	}
	return stringify(sub) == literal
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
