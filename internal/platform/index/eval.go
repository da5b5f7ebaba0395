package index

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caretide/fhir-server/internal/platform/search"
)

// evalFilter interprets a filter tree against one document. The Postgres
// store compiles the same tree to SQL instead; the two must agree, and the
// shared tests in the search package pin the semantics.
func evalFilter(doc *Document, f search.Filter) bool {
	switch ft := f.(type) {
	case search.And:
		for _, sub := range ft {
			if !evalFilter(doc, sub) {
				return false
			}
		}
		return true
	case search.Or:
		for _, sub := range ft {
			if evalFilter(doc, sub) {
				return true
			}
		}
		return false
	case search.Not:
		return !evalFilter(doc, ft.Inner)
	case search.Exists:
		return (len(doc.Fields[ft.Param]) > 0) == ft.Yes
	case search.Match:
		for _, v := range doc.Fields[ft.Param] {
			if evalCondition(v, ft.Cond) {
				return true
			}
		}
		return false
	case search.TypeIs:
		return doc.ResourceType == ft.Name
	default:
		return false
	}
}

func evalCondition(v interface{}, c search.Condition) bool {
	switch ct := c.(type) {
	case search.AllOf:
		for _, sub := range ct {
			if !evalCondition(v, sub) {
				return false
			}
		}
		return true
	case search.AnyOf:
		for _, sub := range ct {
			if evalCondition(v, sub) {
				return true
			}
		}
		return false
	case search.HasField:
		return len(resolvePath(v, ct.Path)) > 0
	case search.Cmp:
		for _, leaf := range resolvePath(v, ct.Path) {
			if compareLeaf(leaf, ct) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// resolvePath walks a dotted path into a value, fanning out over arrays at
// every step. An empty path yields the value itself.
func resolvePath(v interface{}, path string) []interface{} {
	nodes := []interface{}{v}
	if path == "" {
		return nodes
	}
	for _, part := range strings.Split(path, ".") {
		var next []interface{}
		for _, node := range nodes {
			if arr, ok := node.([]interface{}); ok {
				for _, item := range arr {
					if m, ok := item.(map[string]interface{}); ok {
						if sub, ok := m[part]; ok {
							next = append(next, flatten(sub)...)
						}
					}
				}
				continue
			}
			if m, ok := node.(map[string]interface{}); ok {
				if sub, ok := m[part]; ok {
					next = append(next, flatten(sub)...)
				}
			}
		}
		nodes = next
		if len(nodes) == 0 {
			return nil
		}
	}
	return nodes
}

func flatten(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

func compareLeaf(leaf interface{}, c search.Cmp) bool {
	if c.Num != nil {
		n, ok := leafDecimal(leaf)
		if !ok {
			return false
		}
		switch c.Op {
		case search.OpEq:
			return n.Equal(*c.Num)
		case search.OpGt:
			return n.GreaterThan(*c.Num)
		case search.OpGe:
			return n.GreaterThanOrEqual(*c.Num)
		case search.OpLt:
			return n.LessThan(*c.Num)
		case search.OpLe:
			return n.LessThanOrEqual(*c.Num)
		default:
			return false
		}
	}

	s, ok := leafString(leaf)
	if !ok {
		return false
	}
	switch c.Op {
	case search.OpEq:
		return s == c.Str
	case search.OpEqFold:
		return strings.EqualFold(s, c.Str)
	case search.OpPrefixFold:
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(c.Str))
	case search.OpContainsFold:
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Str))
	case search.OpGt:
		return s > c.Str
	case search.OpGe:
		return s >= c.Str
	case search.OpLt:
		return s < c.Str
	case search.OpLe:
		return s <= c.Str
	default:
		return false
	}
}

func leafDecimal(leaf interface{}) (decimal.Decimal, bool) {
	if n, ok := leaf.(decimal.Decimal); ok {
		return n, true
	}
	return toDecimal(leaf)
}

func leafString(leaf interface{}) (string, bool) {
	switch v := leaf.(type) {
	case string:
		return v, true
	case decimal.Decimal:
		return v.String(), true
	default:
		if s := scalarString(leaf); s != "" {
			return s, true
		}
		return "", false
	}
}
