package index

import (
	"fmt"
	"strings"

	"github.com/caretide/fhir-server/internal/platform/search"
)

// sqlCompiler turns a filter tree into a parameterized predicate over the
// search_index.document JSONB column. Placeholders continue from the
// offset the caller already consumed.
type sqlCompiler struct {
	args  []interface{}
	alias int
}

func (c *sqlCompiler) arg(v interface{}) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *sqlCompiler) nextAlias() string {
	c.alias++
	return fmt.Sprintf("e%d", c.alias)
}

func (c *sqlCompiler) filterSQL(f search.Filter) string {
	switch ft := f.(type) {
	case search.And:
		if len(ft) == 0 {
			return "TRUE"
		}
		parts := make([]string, 0, len(ft))
		for _, sub := range ft {
			parts = append(parts, c.filterSQL(sub))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case search.Or:
		if len(ft) == 0 {
			return "FALSE"
		}
		parts := make([]string, 0, len(ft))
		for _, sub := range ft {
			parts = append(parts, c.filterSQL(sub))
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	case search.Not:
		return "NOT " + c.filterSQL(ft.Inner)
	case search.Exists:
		present := fmt.Sprintf("jsonb_array_length(COALESCE(document->%s, '[]'::jsonb)) > 0", c.arg(ft.Param))
		if ft.Yes {
			return present
		}
		return "NOT " + present
	case search.Match:
		alias := c.nextAlias()
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements(COALESCE(document->%s, '[]'::jsonb)) AS %s(v) WHERE %s)",
			c.arg(ft.Param), alias, c.condSQL(alias+".v", ft.Cond))
	case search.TypeIs:
		return fmt.Sprintf("resource_type = %s", c.arg(ft.Name))
	default:
		return "FALSE"
	}
}

func (c *sqlCompiler) condSQL(expr string, cond search.Condition) string {
	switch ct := cond.(type) {
	case search.AllOf:
		if len(ct) == 0 {
			return "TRUE"
		}
		parts := make([]string, 0, len(ct))
		for _, sub := range ct {
			parts = append(parts, c.condSQL(expr, sub))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case search.AnyOf:
		if len(ct) == 0 {
			return "FALSE"
		}
		parts := make([]string, 0, len(ct))
		for _, sub := range ct {
			parts = append(parts, c.condSQL(expr, sub))
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	case search.HasField:
		return c.walkPath(expr, splitPath(ct.Path), func(leaf string) string {
			return fmt.Sprintf("%s IS NOT NULL", leaf)
		})
	case search.Cmp:
		return c.walkPath(expr, splitPath(ct.Path), func(leaf string) string {
			return c.cmpSQL(leaf, ct)
		})
	default:
		return "FALSE"
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// walkPath descends the JSONB value along the path, wrapping each step
// that may hold an array (composite components do) in an EXISTS fan-out.
func (c *sqlCompiler) walkPath(expr string, parts []string, pred func(leaf string) string) string {
	if len(parts) == 0 {
		return pred(expr)
	}
	sub := fmt.Sprintf("%s->%s", expr, c.arg(parts[0]))
	alias := c.nextAlias()
	rest := func(e string) string { return c.walkPath(e, parts[1:], pred) }
	return fmt.Sprintf(
		"(CASE WHEN jsonb_typeof(%s) = 'array' THEN EXISTS (SELECT 1 FROM jsonb_array_elements(%s) AS %s(v) WHERE %s) ELSE %s END)",
		sub, sub, alias, rest(alias+".v"), rest(sub))
}

// cmpSQL renders a scalar comparison. Numeric comparisons cast both sides
// to numeric; string folds go through lower() with LIKE escaping.
func (c *sqlCompiler) cmpSQL(leaf string, cmp search.Cmp) string {
	text := fmt.Sprintf("(%s #>> '{}')", leaf)

	if cmp.Num != nil {
		var op string
		switch cmp.Op {
		case search.OpEq:
			op = "="
		case search.OpGt:
			op = ">"
		case search.OpGe:
			op = ">="
		case search.OpLt:
			op = "<"
		case search.OpLe:
			op = "<="
		default:
			return "FALSE"
		}
		return fmt.Sprintf("%s ~ '^-?[0-9.]+$' AND %s::numeric %s %s::numeric",
			text, text, op, c.arg(cmp.Num.String()))
	}

	switch cmp.Op {
	case search.OpEq:
		return fmt.Sprintf("%s = %s", text, c.arg(cmp.Str))
	case search.OpEqFold:
		return fmt.Sprintf("lower(%s) = lower(%s)", text, c.arg(cmp.Str))
	case search.OpPrefixFold:
		return fmt.Sprintf(`lower(%s) LIKE lower(%s) || '%%' ESCAPE '\'`, text, c.arg(escapeLike(cmp.Str)))
	case search.OpContainsFold:
		return fmt.Sprintf(`lower(%s) LIKE '%%' || lower(%s) || '%%' ESCAPE '\'`, text, c.arg(escapeLike(cmp.Str)))
	case search.OpGt:
		return fmt.Sprintf("%s > %s", text, c.arg(cmp.Str))
	case search.OpGe:
		return fmt.Sprintf("%s >= %s", text, c.arg(cmp.Str))
	case search.OpLt:
		return fmt.Sprintf("%s < %s", text, c.arg(cmp.Str))
	case search.OpLe:
		return fmt.Sprintf("%s <= %s", text, c.arg(cmp.Str))
	default:
		return "FALSE"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
