package search

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caretide/fhir-server/internal/platform/fhir"
)

// ToFilter compiles the criterium into a filter over the index document
// shape. The resource type is the one the criterium was resolved against;
// it scopes bare reference ids to the definition's target types.
func (cr *Criterium) ToFilter() (Filter, error) {
	if cr.Modifier == ModifierMissing {
		return cr.missingFilter()
	}
	if err := cr.checkModifier(); err != nil {
		return nil, err
	}

	filters := make([]Filter, 0, len(cr.Operands))
	for _, op := range cr.Operands {
		f, err := cr.operandFilter(op)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	var combined Filter
	if len(filters) == 1 {
		combined = filters[0]
	} else {
		combined = Or(filters)
	}
	if cr.Modifier == ModifierNot {
		combined = Not{Inner: combined}
	}
	return combined, nil
}

// checkModifier rejects modifier and parameter-type combinations the type
// cannot carry. :missing is handled before compilation and is valid on
// every type; a type-restricting modifier only fits reference parameters.
func (cr *Criterium) checkModifier() error {
	if cr.TargetType != "" && cr.Def.Type != TypeReference {
		return fhir.BadRequestf("modifier %q is not valid for %s parameter %q",
			cr.TargetType, cr.Def.Type, cr.Param)
	}
	ok := cr.Modifier == ModifierNone
	switch cr.Def.Type {
	case TypeString:
		ok = ok || cr.Modifier == ModifierExact || cr.Modifier == ModifierContains || cr.Modifier == ModifierText
	case TypeToken:
		ok = ok || cr.Modifier == ModifierText || cr.Modifier == ModifierNot
	}
	if !ok {
		return fhir.BadRequestf("modifier %q is not valid for %s parameter %q",
			cr.Modifier, cr.Def.Type, cr.Param)
	}
	return nil
}

// missingFilter compiles param:missing=true|false. Index documents write
// every parameter as an array, so presence is a single test: absent and
// explicitly-empty fields are the same shape.
func (cr *Criterium) missingFilter() (Filter, error) {
	if len(cr.Operands) != 1 {
		return nil, fhir.BadRequestf("%s:missing takes exactly one value", cr.Param)
	}
	switch cr.Operands[0].Value {
	case "true":
		return Exists{Param: cr.Param, Yes: false}, nil
	case "false":
		return Exists{Param: cr.Param, Yes: true}, nil
	default:
		return nil, fhir.BadRequestf("%s:missing requires true or false, got %q", cr.Param, cr.Operands[0].Value)
	}
}

func (cr *Criterium) operandFilter(op Operand) (Filter, error) {
	switch cr.Def.Type {
	case TypeToken:
		return cr.tokenFilter(op)
	case TypeString:
		return cr.stringFilter(op)
	case TypeNumber:
		return cr.numberFilter(op)
	case TypeDate:
		return cr.dateFilter(op)
	case TypeReference:
		return cr.referenceFilter(op)
	case TypeURI:
		return cr.uriFilter(op)
	case TypeQuantity:
		return cr.quantityFilter(op)
	case TypeComposite:
		return cr.compositeFilter(op)
	default:
		return nil, fhir.BadRequestf("unsupported search parameter type %q", cr.Def.Type)
	}
}

// ---------------------------------------------------------------------------
// token
// ---------------------------------------------------------------------------

// tokenFilter matches the {system, code, text} element shape. Values take
// the forms "code", "system|code", "system|" and "|code"; an empty side is
// a wildcard.
func (cr *Criterium) tokenFilter(op Operand) (Filter, error) {
	if cr.Modifier == ModifierText {
		return Match{Param: cr.Param, Cond: StrCmp("text", OpContainsFold, op.Value)}, nil
	}

	system, code, hasPipe := splitToken(op.Value)
	var conds []Condition
	if hasPipe && system != "" {
		conds = append(conds, StrCmp("system", OpEq, system))
	}
	if code != "" {
		conds = append(conds, StrCmp("code", OpEq, code))
	}
	if len(conds) == 0 {
		return nil, fhir.BadRequestf("empty token value for parameter %q", cr.Param)
	}
	if len(conds) == 1 {
		return Match{Param: cr.Param, Cond: conds[0]}, nil
	}
	return Match{Param: cr.Param, Cond: AllOf(conds)}, nil
}

func splitToken(value string) (system, code string, hasPipe bool) {
	if i := strings.Index(value, "|"); i >= 0 {
		return value[:i], value[i+1:], true
	}
	return "", value, false
}

// ---------------------------------------------------------------------------
// string
// ---------------------------------------------------------------------------

// stringFilter: default is case-insensitive prefix, :contains substring,
// :exact case-sensitive equality. Prefix and substring matching reach the
// "part" values of complex types; :exact compares the "full" value only,
// so an individual name part never satisfies an exact match.
func (cr *Criterium) stringFilter(op Operand) (Filter, error) {
	var cond Condition
	switch cr.Modifier {
	case ModifierExact:
		cond = StrCmp("full", OpEq, op.Value)
	case ModifierContains:
		cond = AnyOf{
			StrCmp("full", OpContainsFold, op.Value),
			StrCmp("part", OpContainsFold, op.Value),
		}
	case ModifierNone, ModifierText:
		cond = AnyOf{
			StrCmp("full", OpPrefixFold, op.Value),
			StrCmp("part", OpPrefixFold, op.Value),
		}
	default:
		return nil, fhir.BadRequestf("modifier %q is not valid for string parameter %q", cr.Modifier, cr.Param)
	}
	return Match{Param: cr.Param, Cond: cond}, nil
}

// ---------------------------------------------------------------------------
// number
// ---------------------------------------------------------------------------

func (cr *Criterium) numberFilter(op Operand) (Filter, error) {
	n, err := decimal.NewFromString(op.Value)
	if err != nil {
		return nil, fhir.BadRequestf("invalid number %q for parameter %q", op.Value, cr.Param)
	}
	return comparisonFilter(cr.Param, "", op.Prefix, n)
}

// comparisonFilter maps a FHIR prefix onto a numeric comparison at the
// given sub-path. ne is the negation of eq over the whole value array.
func comparisonFilter(param, path string, prefix Prefix, n decimal.Decimal) (Filter, error) {
	var op CmpOp
	switch prefix {
	case PrefixEq, PrefixAp:
		op = OpEq
	case PrefixNe:
		return Not{Inner: Match{Param: param, Cond: NumCmp(path, OpEq, n)}}, nil
	case PrefixGt, PrefixSa:
		op = OpGt
	case PrefixGe:
		op = OpGe
	case PrefixLt, PrefixEb:
		op = OpLt
	case PrefixLe:
		op = OpLe
	default:
		return nil, fhir.BadRequestf("prefix %q is not valid for numeric comparison", prefix)
	}
	return Match{Param: param, Cond: NumCmp(path, op, n)}, nil
}

// ---------------------------------------------------------------------------
// date
// ---------------------------------------------------------------------------

// dateFilter compares the query interval [qs, qe) against the indexed
// {start, end} interval:
//
//	eq: start >= qs AND end <= qe   (indexed interval inside query interval)
//	ne: negation of eq
//	gt: end > qe      lt: start < qs
//	ge: start >= qs   le: end <= qe
//	sa: start >= qe   eb: end <= qs
func (cr *Criterium) dateFilter(op Operand) (Filter, error) {
	qs, qe, err := DateInterval(op.Value)
	if err != nil {
		return nil, fhir.BadRequestf("invalid date %q for parameter %q", op.Value, cr.Param)
	}
	s, e := FormatIndexTime(qs), FormatIndexTime(qe)

	switch op.Prefix {
	case PrefixEq, PrefixAp:
		return Match{Param: cr.Param, Cond: AllOf{
			StrCmp("start", OpGe, s),
			StrCmp("end", OpLe, e),
		}}, nil
	case PrefixNe:
		return Not{Inner: Match{Param: cr.Param, Cond: AllOf{
			StrCmp("start", OpGe, s),
			StrCmp("end", OpLe, e),
		}}}, nil
	case PrefixGt:
		return Match{Param: cr.Param, Cond: StrCmp("end", OpGt, e)}, nil
	case PrefixLt:
		return Match{Param: cr.Param, Cond: StrCmp("start", OpLt, s)}, nil
	case PrefixGe:
		return Match{Param: cr.Param, Cond: StrCmp("start", OpGe, s)}, nil
	case PrefixLe:
		return Match{Param: cr.Param, Cond: StrCmp("end", OpLe, e)}, nil
	case PrefixSa:
		return Match{Param: cr.Param, Cond: StrCmp("start", OpGe, e)}, nil
	case PrefixEb:
		return Match{Param: cr.Param, Cond: StrCmp("end", OpLe, s)}, nil
	default:
		return nil, fhir.BadRequestf("prefix %q is not valid for date parameter %q", op.Prefix, cr.Param)
	}
}

// ---------------------------------------------------------------------------
// reference
// ---------------------------------------------------------------------------

// referenceFilter matches the indexed reference string: a local "Type/id"
// key or an external URI. A bare id expands over the definition's target
// types; a type modifier (subject:Patient=...) restricts to one.
func (cr *Criterium) referenceFilter(op Operand) (Filter, error) {
	v := op.Value
	if v == "" {
		return nil, fhir.BadRequestf("empty reference value for parameter %q", cr.Param)
	}
	if strings.Contains(v, "://") || strings.Contains(v, "/") {
		if cr.TargetType != "" && !strings.HasPrefix(v, cr.TargetType+"/") {
			return nil, fhir.BadRequestf("reference %q does not match target type %s", v, cr.TargetType)
		}
		return Match{Param: cr.Param, Cond: StrCmp("", OpEq, v)}, nil
	}

	if cr.TargetType != "" {
		return Match{Param: cr.Param, Cond: StrCmp("", OpEq, cr.TargetType+"/"+v)}, nil
	}

	targets := cr.Def.Targets
	if len(targets) == 0 {
		return Match{Param: cr.Param, Cond: StrCmp("", OpEq, v)}, nil
	}
	conds := make([]Condition, 0, len(targets))
	for _, t := range targets {
		conds = append(conds, StrCmp("", OpEq, t+"/"+v))
	}
	return Match{Param: cr.Param, Cond: AnyOf(conds)}, nil
}

// ---------------------------------------------------------------------------
// uri
// ---------------------------------------------------------------------------

// uriFilter matches after lowercasing scheme and host; path and query
// case is preserved.
func (cr *Criterium) uriFilter(op Operand) (Filter, error) {
	return Match{Param: cr.Param, Cond: StrCmp("", OpEq, NormalizeURI(op.Value))}, nil
}

// NormalizeURI lowercases the scheme and host of an absolute URI, leaving
// everything else intact. Relative values pass through unchanged.
func NormalizeURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// ---------------------------------------------------------------------------
// quantity
// ---------------------------------------------------------------------------

// quantityFilter parses "value|system|code" forms. UCUM quantities are
// canonicalized on both sides so 1.2 kg matches 1200 g; anything else
// compares the raw value and unit.
func (cr *Criterium) quantityFilter(op Operand) (Filter, error) {
	parts := strings.Split(op.Value, "|")
	n, err := decimal.NewFromString(parts[0])
	if err != nil {
		return nil, fhir.BadRequestf("invalid quantity %q for parameter %q", op.Value, cr.Param)
	}
	var system, unit string
	if len(parts) > 1 {
		system = parts[1]
	}
	if len(parts) > 2 {
		unit = parts[2]
	}

	if system == UCUMSystem {
		if canon, ok := CanonicalizeUCUM(n, unit); ok {
			vf, err := comparisonFilter(cr.Param, "canonicalValue", op.Prefix, canon.Value)
			if err != nil {
				return nil, err
			}
			return And{
				vf,
				Match{Param: cr.Param, Cond: StrCmp("canonicalUnit", OpEq, canon.Unit)},
			}, nil
		}
	}

	vf, err := comparisonFilter(cr.Param, "value", op.Prefix, n)
	if err != nil {
		return nil, err
	}
	filters := And{vf}
	if system != "" {
		filters = append(filters, Match{Param: cr.Param, Cond: StrCmp("system", OpEq, system)})
	}
	if unit != "" {
		filters = append(filters, Match{Param: cr.Param, Cond: AnyOf{
			StrCmp("code", OpEq, unit),
			StrCmp("unit", OpEq, unit),
		}})
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return filters, nil
}

// ---------------------------------------------------------------------------
// composite
// ---------------------------------------------------------------------------

// compositeFilter splits the operand on '$' and compiles each component
// against its sub-path, AND-combined within a single Match so all
// sub-criteria apply to the same composite value.
func (cr *Criterium) compositeFilter(op Operand) (Filter, error) {
	parts := strings.Split(op.Value, "$")
	if len(parts) != len(cr.Def.Components) {
		return nil, fhir.BadRequestf("composite parameter %q expects %d components, got %d",
			cr.Param, len(cr.Def.Components), len(parts))
	}
	var all AllOf
	for i, comp := range cr.Def.Components {
		cond, err := componentCondition(comp, parts[i])
		if err != nil {
			return nil, err
		}
		all = append(all, cond)
	}
	return Match{Param: cr.Param, Cond: all}, nil
}

func componentCondition(comp Component, rawValue string) (Condition, error) {
	op := ParseOperand(rawValue)
	prefixed := func(path string, n decimal.Decimal) (Condition, error) {
		var cmpOp CmpOp
		switch op.Prefix {
		case PrefixEq, PrefixAp:
			cmpOp = OpEq
		case PrefixGt, PrefixSa:
			cmpOp = OpGt
		case PrefixGe:
			cmpOp = OpGe
		case PrefixLt, PrefixEb:
			cmpOp = OpLt
		case PrefixLe:
			cmpOp = OpLe
		default:
			return nil, fhir.BadRequestf("prefix %q is not supported inside composite values", op.Prefix)
		}
		return NumCmp(path, cmpOp, n), nil
	}

	switch comp.Type {
	case TypeToken:
		system, code, hasPipe := splitToken(op.Value)
		var conds AllOf
		if hasPipe && system != "" {
			conds = append(conds, StrCmp(comp.Path+".system", OpEq, system))
		}
		if code != "" {
			conds = append(conds, StrCmp(comp.Path+".code", OpEq, code))
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return conds, nil
	case TypeString:
		return AnyOf{
			StrCmp(comp.Path+".full", OpPrefixFold, op.Value),
			StrCmp(comp.Path+".part", OpPrefixFold, op.Value),
		}, nil
	case TypeNumber, TypeQuantity:
		value := op.Value
		if i := strings.Index(value, "|"); i >= 0 {
			value = value[:i]
		}
		n, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fhir.BadRequestf("invalid numeric component %q", rawValue)
		}
		path := comp.Path
		if comp.Type == TypeQuantity {
			path += ".value"
		}
		return prefixed(path, n)
	case TypeDate:
		qs, qe, err := DateInterval(op.Value)
		if err != nil {
			return nil, fhir.BadRequestf("invalid date component %q", rawValue)
		}
		return AllOf{
			StrCmp(comp.Path+".start", OpGe, FormatIndexTime(qs)),
			StrCmp(comp.Path+".end", OpLe, FormatIndexTime(qe)),
		}, nil
	default:
		return nil, fhir.BadRequestf("component type %q is not supported in composite parameters", comp.Type)
	}
}
