package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// Prefix is a FHIR search prefix for ordered values.
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixGt Prefix = "gt"
	PrefixLt Prefix = "lt"
	PrefixGe Prefix = "ge"
	PrefixLe Prefix = "le"
	PrefixSa Prefix = "sa" // starts after
	PrefixEb Prefix = "eb" // ends before
	PrefixAp Prefix = "ap" // approximately
)

// Modifier is a FHIR search modifier. A modifier may also be a resource
// type name restricting a reference parameter's target.
type Modifier string

const (
	ModifierNone     Modifier = ""
	ModifierExact    Modifier = "exact"
	ModifierContains Modifier = "contains"
	ModifierText     Modifier = "text"
	ModifierMissing  Modifier = "missing"
	ModifierNot      Modifier = "not"
)

// Operand is one OR-alternative of a criterium: a prefix and a raw value.
type Operand struct {
	Prefix Prefix
	Value  string
}

// Criterium is one parsed query term. A single raw query parameter
// resolves to exactly one criterium; comma-separated values become
// OR-combined operands within it.
type Criterium struct {
	Param      string
	Modifier   Modifier
	TargetType string // set when the modifier names a resource type
	Operands   []Operand
	Def        *Definition
	raw        string // original name=value for the self link
}

// Raw returns the original name=value pair the criterium was parsed from.
func (cr *Criterium) Raw() string { return cr.raw }

// SortKey is one _sort component.
type SortKey struct {
	Param      string
	Descending bool
}

// Options carries the reserved (underscore) parameters of a search call.
type Options struct {
	Count       int
	Sort        []SortKey
	Includes    []string
	RevIncludes []string
	Since       string
	Summary     string
}

// reserved parameter names never treated as search criteria.
var reservedParams = map[string]bool{
	"_count":      true,
	"_sort":       true,
	"_include":    true,
	"_revinclude": true,
	"_summary":    true,
	"_since":      true,
	"_format":     true,
	"_total":      true,
}

// knownPrefixes guards prefix extraction: only strip two leading letters
// when they form a real prefix followed by a value.
var knownPrefixes = map[Prefix]bool{
	PrefixEq: true, PrefixNe: true, PrefixGt: true, PrefixLt: true,
	PrefixGe: true, PrefixLe: true, PrefixSa: true, PrefixEb: true, PrefixAp: true,
}

// ParseOperand extracts the prefix from a raw search value.
// "ge2010-01-01" -> (ge, "2010-01-01"); "100" -> (eq, "100").
func ParseOperand(raw string) Operand {
	if len(raw) > 2 {
		p := Prefix(strings.ToLower(raw[:2]))
		if knownPrefixes[p] {
			rest := raw[2:]
			// A prefix is only a prefix when what follows is not more
			// letters ("eb" in "ebola" is a value, not a prefix).
			if rest[0] >= '0' && rest[0] <= '9' || rest[0] == '-' || rest[0] == '.' {
				return Operand{Prefix: p, Value: rest}
			}
		}
	}
	return Operand{Prefix: PrefixEq, Value: raw}
}

// ParseParamName splits a raw parameter name into base name and modifier.
// "name:exact" -> ("name", exact). A modifier starting with an upper-case
// letter is a target resource type restriction for reference parameters.
func ParseParamName(raw string) (name string, mod Modifier, targetType string) {
	parts := strings.SplitN(raw, ":", 2)
	name = parts[0]
	if len(parts) == 1 {
		return name, ModifierNone, ""
	}
	m := parts[1]
	if m != "" && m[0] >= 'A' && m[0] <= 'Z' {
		return name, ModifierNone, m
	}
	return name, Modifier(m), ""
}

// ParseQuery resolves a raw query string into an AND-combined criteria
// list plus the reserved options, against the catalog's definitions for
// the resource type. Unknown parameter names are a client error.
func ParseQuery(resourceType string, values url.Values, catalog *Catalog) ([]*Criterium, *Options, error) {
	opts := &Options{}
	var criteria []*Criterium

	// Deterministic order regardless of map iteration.
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, rawName := range names {
		if reservedParams[rawName] {
			applyReserved(opts, rawName, values[rawName])
			continue
		}
		name, mod, target := ParseParamName(rawName)
		def, ok := catalog.Lookup(resourceType, name)
		if !ok {
			return nil, nil, fhir.UnknownParameterError(resourceType, name)
		}
		for _, rawValue := range values[rawName] {
			cr := &Criterium{
				Param:      name,
				Modifier:   mod,
				TargetType: target,
				Def:        def,
				raw:        rawName + "=" + rawValue,
			}
			for _, alt := range strings.Split(rawValue, ",") {
				cr.Operands = append(cr.Operands, ParseOperand(alt))
			}
			criteria = append(criteria, cr)
		}
	}
	return criteria, opts, nil
}

func applyReserved(opts *Options, name string, vals []string) {
	if len(vals) == 0 {
		return
	}
	v := vals[0]
	switch name {
	case "_count":
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Count = n
		}
	case "_sort":
		for _, field := range strings.Split(v, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			desc := strings.HasPrefix(field, "-")
			opts.Sort = append(opts.Sort, SortKey{
				Param:      strings.TrimPrefix(field, "-"),
				Descending: desc,
			})
		}
	case "_include":
		opts.Includes = append(opts.Includes, vals...)
	case "_revinclude":
		opts.RevIncludes = append(opts.RevIncludes, vals...)
	case "_since":
		opts.Since = v
	case "_summary":
		opts.Summary = v
	}
}
