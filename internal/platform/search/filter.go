// Package search turns raw FHIR search queries into typed criteria and
// compiles each criterium into a backend-neutral filter over the index
// document shape. Index stores interpret the filter tree themselves: the
// in-memory store evaluates it directly, the Postgres store compiles it to
// parameterized JSONB SQL.
package search

import "github.com/shopspring/decimal"

// Filter is a boolean expression over one index document.
type Filter interface {
	isFilter()
}

// And matches when every sub-filter matches. An empty And matches all.
type And []Filter

// Or matches when any sub-filter matches.
type Or []Filter

// Not negates its sub-filter.
type Not struct {
	Inner Filter
}

// Exists matches when the named parameter field is present with at least
// one value (Yes=true), or absent/empty (Yes=false). Index documents store
// every parameter as an array, so this is a single shape test.
type Exists struct {
	Param string
	Yes   bool
}

// Match matches when ANY element of the parameter's value array satisfies
// the condition.
type Match struct {
	Param string
	Cond  Condition
}

// TypeIs restricts the document's administrative resource type. Used when
// a filter set runs against an index that holds several types.
type TypeIs struct {
	Name string
}

func (And) isFilter()    {}
func (Or) isFilter()     {}
func (Not) isFilter()    {}
func (Exists) isFilter() {}
func (Match) isFilter()  {}
func (TypeIs) isFilter() {}

// Condition is a predicate over a single element of a value array.
type Condition interface {
	isCondition()
}

// AllOf requires every condition to hold on the same element. Composite
// search parameters compile to this, keeping sub-criteria scoped to one
// composite value.
type AllOf []Condition

// AnyOf requires at least one condition to hold on the element.
type AnyOf []Condition

// CmpOp is a scalar comparison operator.
type CmpOp int

const (
	OpEq           CmpOp = iota // exact, case-sensitive
	OpEqFold                    // case-insensitive equality
	OpPrefixFold                // case-insensitive prefix match
	OpContainsFold              // case-insensitive substring match
	OpGt
	OpGe
	OpLt
	OpLe
)

func (op CmpOp) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpEqFold:
		return "eq-fold"
	case OpPrefixFold:
		return "prefix"
	case OpContainsFold:
		return "contains"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	default:
		return "?"
	}
}

// Cmp compares a sub-field of the element (dotted Path, "" meaning the
// element itself) against a literal. Exactly one of Str/Num is set.
type Cmp struct {
	Path string
	Op   CmpOp
	Str  string
	Num  *decimal.Decimal
}

// HasField requires the element (a sub-document) to carry the named field.
type HasField struct {
	Path string
}

func (AllOf) isCondition()    {}
func (AnyOf) isCondition()    {}
func (Cmp) isCondition()      {}
func (HasField) isCondition() {}

// StrCmp builds a string comparison condition.
func StrCmp(path string, op CmpOp, v string) Cmp {
	return Cmp{Path: path, Op: op, Str: v}
}

// NumCmp builds a numeric comparison condition.
func NumCmp(path string, op CmpOp, v decimal.Decimal) Cmp {
	return Cmp{Path: path, Op: op, Num: &v}
}
