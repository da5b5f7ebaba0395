package index

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/search"
)

// distant bounds stand in for open Period ends so interval comparisons
// stay total.
const (
	distantPast   = "0001-01-01T00:00:00Z"
	distantFuture = "9999-12-31T23:59:59Z"
)

// ElementValues converts one visited element into index values for a
// parameter of the given type. Elements the parameter type cannot use
// yield nothing; indexing never fails on odd data, it just skips it.
func ElementValues(ptype search.ParamType, el model.Element, base string) []interface{} {
	switch ptype {
	case search.TypeToken:
		return tokenValues(el)
	case search.TypeString:
		return stringValues(el)
	case search.TypeDate:
		return dateValues(el)
	case search.TypeNumber:
		return numberValues(el)
	case search.TypeQuantity:
		return quantityValues(el)
	case search.TypeReference:
		return referenceValues(el, base)
	case search.TypeURI:
		return uriValues(el)
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// token
// ---------------------------------------------------------------------------

func tokenValues(el model.Element) []interface{} {
	switch el.TypeName {
	case "Coding":
		if v := codingValue(el.Value); v != nil {
			return []interface{}{v}
		}
		return nil
	case "CodeableConcept":
		m, ok := el.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		var out []interface{}
		if codings, ok := m["coding"].([]interface{}); ok {
			for _, c := range codings {
				if v := codingValue(c); v != nil {
					out = append(out, v)
				}
			}
		}
		if text, ok := m["text"].(string); ok && text != "" {
			out = append(out, map[string]interface{}{"text": text})
		}
		return out
	case "Identifier":
		m, ok := el.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		v := map[string]interface{}{}
		if s, ok := m["system"].(string); ok && s != "" {
			v["system"] = s
		}
		if s, ok := m["value"].(string); ok && s != "" {
			v["code"] = s
		}
		if len(v) == 0 {
			return nil
		}
		return []interface{}{v}
	case "ContactPoint":
		m, ok := el.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		v := map[string]interface{}{}
		if s, ok := m["system"].(string); ok && s != "" {
			v["system"] = s
		}
		if s, ok := m["value"].(string); ok && s != "" {
			v["code"] = s
		}
		if len(v) == 0 {
			return nil
		}
		return []interface{}{v}
	default:
		// code, string, boolean, id and friends index as a bare code.
		if s := scalarString(el.Value); s != "" {
			return []interface{}{map[string]interface{}{"code": s}}
		}
		return nil
	}
}

func codingValue(raw interface{}) map[string]interface{} {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	v := map[string]interface{}{}
	if s, ok := m["system"].(string); ok && s != "" {
		v["system"] = s
	}
	if s, ok := m["code"].(string); ok && s != "" {
		v["code"] = s
	}
	if s, ok := m["display"].(string); ok && s != "" {
		v["text"] = s
	}
	if len(v) == 0 {
		return nil
	}
	return v
}

// ---------------------------------------------------------------------------
// string
// ---------------------------------------------------------------------------

func stringValues(el model.Element) []interface{} {
	switch el.TypeName {
	case "HumanName":
		return complexStringValues(el.Value, "prefix", "given", "family", "suffix")
	case "Address":
		return complexStringValues(el.Value, "line", "city", "district", "state", "postalCode", "country")
	default:
		if s, ok := el.Value.(string); ok && s != "" {
			return []interface{}{map[string]interface{}{"full": s}}
		}
		return nil
	}
}

// complexStringValues projects a complex type into one whole-value entry
// under "full" plus one "part" entry per sub-property. Exact matching
// compares whole values only; prefix and substring matching reach the
// parts too, so name=Eve finds a given name while name:exact=Eve does not.
func complexStringValues(raw interface{}, names ...string) []interface{} {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	var parts []string
	for _, name := range names {
		switch v := m[name].(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	full, _ := m["text"].(string)
	if full == "" {
		full = strings.Join(parts, " ")
	}
	if full == "" {
		return nil
	}
	out := []interface{}{map[string]interface{}{"full": full}}
	for _, p := range parts {
		out = append(out, map[string]interface{}{"part": p})
	}
	return out
}

// ---------------------------------------------------------------------------
// date
// ---------------------------------------------------------------------------

// dateValues widens every temporal element to a {start, end} interval in
// the canonical index layout. Open period ends clamp to distant bounds.
func dateValues(el model.Element) []interface{} {
	switch el.TypeName {
	case "Period":
		m, ok := el.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		start, end := distantPast, distantFuture
		if s, ok := m["start"].(string); ok && s != "" {
			if qs, _, err := search.DateInterval(s); err == nil {
				start = search.FormatIndexTime(qs)
			}
		}
		if s, ok := m["end"].(string); ok && s != "" {
			if _, qe, err := search.DateInterval(s); err == nil {
				end = search.FormatIndexTime(qe)
			}
		}
		if start == distantPast && end == distantFuture {
			return nil
		}
		return []interface{}{map[string]interface{}{"start": start, "end": end}}
	default:
		s, ok := el.Value.(string)
		if !ok || s == "" {
			return nil
		}
		qs, qe, err := search.DateInterval(s)
		if err != nil {
			return nil
		}
		return []interface{}{map[string]interface{}{
			"start": search.FormatIndexTime(qs),
			"end":   search.FormatIndexTime(qe),
		}}
	}
}

// ---------------------------------------------------------------------------
// number
// ---------------------------------------------------------------------------

func numberValues(el model.Element) []interface{} {
	if n, ok := toDecimal(el.Value); ok {
		return []interface{}{n}
	}
	return nil
}

// ---------------------------------------------------------------------------
// quantity
// ---------------------------------------------------------------------------

// quantityValues keeps the raw value alongside a UCUM-canonical form when
// one exists, so 1.2 kg and 1200 g land on the same canonical pair.
func quantityValues(el model.Element) []interface{} {
	m, ok := el.Value.(map[string]interface{})
	if !ok {
		return nil
	}
	n, ok := toDecimal(m["value"])
	if !ok {
		return nil
	}
	v := map[string]interface{}{"value": n}
	system, _ := m["system"].(string)
	code, _ := m["code"].(string)
	if system != "" {
		v["system"] = system
	}
	if code != "" {
		v["code"] = code
	}
	if unit, ok := m["unit"].(string); ok && unit != "" {
		v["unit"] = unit
	}
	if system == search.UCUMSystem {
		if canon, ok := search.CanonicalizeUCUM(n, code); ok {
			v["canonicalValue"] = canon.Value
			v["canonicalUnit"] = canon.Unit
		}
	}
	return []interface{}{v}
}

// ---------------------------------------------------------------------------
// reference
// ---------------------------------------------------------------------------

// referenceValues indexes the reference target as "Type/id" for local
// references. Absolute URLs under our own base collapse to the relative
// form; foreign URLs stay verbatim.
func referenceValues(el model.Element, base string) []interface{} {
	var ref string
	switch el.TypeName {
	case "Reference":
		m, ok := el.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		ref, _ = m["reference"].(string)
	default:
		ref, _ = el.Value.(string)
	}
	if ref == "" {
		return nil
	}
	return []interface{}{localizeReference(ref, base)}
}

func localizeReference(ref, base string) string {
	if base == "" || !strings.HasPrefix(ref, base) {
		return ref
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(ref, base), "/")
	if _, err := fhir.ParseKey(trimmed); err == nil {
		return trimmed
	}
	return ref
}

// ---------------------------------------------------------------------------
// uri
// ---------------------------------------------------------------------------

func uriValues(el model.Element) []interface{} {
	if s, ok := el.Value.(string); ok && s != "" {
		return []interface{}{search.NormalizeURI(s)}
	}
	return nil
}

// ---------------------------------------------------------------------------
// scalar coercion
// ---------------------------------------------------------------------------

func scalarString(v interface{}) string {
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
		return ""
	}
}

// toDecimal converts JSON numbers (decoded as float64 or json.Number
// strings) into decimals without accumulating float formatting noise.
func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		n, err := decimal.NewFromString(strconv.FormatFloat(val, 'f', -1, 64))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return n, true
	case string:
		n, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return n, true
	default:
		return decimal.Decimal{}, false
	}
}
