package search

import (
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
)

// compileOne parses a single query parameter and compiles it.
func compileOne(t *testing.T, resourceType, name, value string) Filter {
	t.Helper()
	criteria, _, err := ParseQuery(resourceType, url.Values{name: []string{value}}, DefaultCatalog())
	if err != nil {
		t.Fatalf("ParseQuery(%s=%s) returned error: %v", name, value, err)
	}
	if len(criteria) != 1 {
		t.Fatalf("expected one criterium, got %d", len(criteria))
	}
	f, err := criteria[0].ToFilter()
	if err != nil {
		t.Fatalf("ToFilter(%s=%s) returned error: %v", name, value, err)
	}
	return f
}

func compileErr(t *testing.T, resourceType, name, value string) error {
	t.Helper()
	criteria, _, err := ParseQuery(resourceType, url.Values{name: []string{value}}, DefaultCatalog())
	if err != nil {
		return err
	}
	_, err = criteria[0].ToFilter()
	if err == nil {
		t.Fatalf("ToFilter(%s=%s) should have failed", name, value)
	}
	return err
}

func asMatch(t *testing.T, f Filter) Match {
	t.Helper()
	m, ok := f.(Match)
	if !ok {
		t.Fatalf("expected Match, got %T", f)
	}
	return m
}

func TestTokenFilterForms(t *testing.T) {
	t.Run("bare code", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Patient", "gender", "male"))
		cmp, ok := m.Cond.(Cmp)
		if !ok {
			t.Fatalf("cond = %T", m.Cond)
		}
		if cmp.Path != "code" || cmp.Op != OpEq || cmp.Str != "male" {
			t.Errorf("cond = %+v", cmp)
		}
	})

	t.Run("system and code", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Observation", "code", "http://loinc.org|15074-8"))
		all, ok := m.Cond.(AllOf)
		if !ok || len(all) != 2 {
			t.Fatalf("cond = %#v", m.Cond)
		}
	})

	t.Run("system wildcard", func(t *testing.T) {
		// "|code" matches any system, so only the code condition remains.
		m := asMatch(t, compileOne(t, "Observation", "code", "|15074-8"))
		cmp, ok := m.Cond.(Cmp)
		if !ok || cmp.Path != "code" {
			t.Fatalf("cond = %#v", m.Cond)
		}
	})

	t.Run("code wildcard", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Observation", "code", "http://loinc.org|"))
		cmp, ok := m.Cond.(Cmp)
		if !ok || cmp.Path != "system" || cmp.Str != "http://loinc.org" {
			t.Fatalf("cond = %#v", m.Cond)
		}
	})

	t.Run("text modifier", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Observation", "code:text", "headache"))
		cmp := m.Cond.(Cmp)
		if cmp.Path != "text" || cmp.Op != OpContainsFold {
			t.Errorf("cond = %+v", cmp)
		}
	})
}

func TestStringFilterModifiers(t *testing.T) {
	t.Run("default prefix reaches parts", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Patient", "family", "Chalmers"))
		any, ok := m.Cond.(AnyOf)
		if !ok || len(any) != 2 {
			t.Fatalf("cond = %#v", m.Cond)
		}
		full, part := any[0].(Cmp), any[1].(Cmp)
		if full.Path != "full" || full.Op != OpPrefixFold {
			t.Errorf("full cond = %+v", full)
		}
		if part.Path != "part" || part.Op != OpPrefixFold {
			t.Errorf("part cond = %+v", part)
		}
	})

	t.Run("contains reaches parts", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Patient", "family:contains", "alm"))
		any, ok := m.Cond.(AnyOf)
		if !ok || len(any) != 2 || any[0].(Cmp).Op != OpContainsFold {
			t.Fatalf("cond = %#v", m.Cond)
		}
	})

	t.Run("exact compares whole value only", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Patient", "family:exact", "Chalmers"))
		cmp, ok := m.Cond.(Cmp)
		if !ok {
			t.Fatalf("cond = %#v", m.Cond)
		}
		if cmp.Path != "full" || cmp.Op != OpEq {
			t.Errorf("cond = %+v", cmp)
		}
	})
}

func TestMissingModifier(t *testing.T) {
	f := compileOne(t, "Patient", "birthdate:missing", "true")
	ex, ok := f.(Exists)
	if !ok {
		t.Fatalf("expected Exists, got %T", f)
	}
	if ex.Param != "birthdate" || ex.Yes {
		t.Errorf("filter = %+v, want absent birthdate", ex)
	}

	f = compileOne(t, "Patient", "birthdate:missing", "false")
	ex = f.(Exists)
	if !ex.Yes {
		t.Errorf("missing=false should require presence")
	}

	compileErr(t, "Patient", "birthdate:missing", "perhaps")
}

func TestInvalidModifiersRejected(t *testing.T) {
	tests := []struct {
		name  string
		param string
	}{
		{"exact on token", "gender:exact"},
		{"contains on token", "gender:contains"},
		{"exact on date", "birthdate:exact"},
		{"not on string", "family:not"},
		{"type modifier on token", "gender:Patient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compileErr(t, "Patient", tt.param, "x")
		})
	}
}

func TestNotModifierWraps(t *testing.T) {
	f := compileOne(t, "Patient", "gender:not", "male")
	if _, ok := f.(Not); !ok {
		t.Fatalf("expected Not, got %T", f)
	}
}

func TestCommaOperandsCompileToOr(t *testing.T) {
	f := compileOne(t, "Patient", "gender", "male,female")
	or, ok := f.(Or)
	if !ok {
		t.Fatalf("expected Or, got %T", f)
	}
	if len(or) != 2 {
		t.Errorf("len(or) = %d", len(or))
	}
}

func TestDateFilterAlgebra(t *testing.T) {
	// Query value 2013 widens to [2013-01-01, 2014-01-01).
	qs, qe := "2013-01-01T00:00:00Z", "2014-01-01T00:00:00Z"

	tests := []struct {
		value string
		check func(t *testing.T, f Filter)
	}{
		{"2013", func(t *testing.T, f Filter) {
			all := asMatch(t, f).Cond.(AllOf)
			s, e := all[0].(Cmp), all[1].(Cmp)
			if s.Path != "start" || s.Op != OpGe || s.Str != qs {
				t.Errorf("start cond = %+v", s)
			}
			if e.Path != "end" || e.Op != OpLe || e.Str != qe {
				t.Errorf("end cond = %+v", e)
			}
		}},
		{"ne2013", func(t *testing.T, f Filter) {
			if _, ok := f.(Not); !ok {
				t.Errorf("ne should negate eq, got %T", f)
			}
		}},
		{"gt2013", func(t *testing.T, f Filter) {
			cmp := asMatch(t, f).Cond.(Cmp)
			if cmp.Path != "end" || cmp.Op != OpGt || cmp.Str != qe {
				t.Errorf("cond = %+v", cmp)
			}
		}},
		{"lt2013", func(t *testing.T, f Filter) {
			cmp := asMatch(t, f).Cond.(Cmp)
			if cmp.Path != "start" || cmp.Op != OpLt || cmp.Str != qs {
				t.Errorf("cond = %+v", cmp)
			}
		}},
		{"sa2013", func(t *testing.T, f Filter) {
			cmp := asMatch(t, f).Cond.(Cmp)
			if cmp.Path != "start" || cmp.Op != OpGe || cmp.Str != qe {
				t.Errorf("cond = %+v", cmp)
			}
		}},
		{"eb2013", func(t *testing.T, f Filter) {
			cmp := asMatch(t, f).Cond.(Cmp)
			if cmp.Path != "end" || cmp.Op != OpLe || cmp.Str != qs {
				t.Errorf("cond = %+v", cmp)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			tt.check(t, compileOne(t, "Patient", "birthdate", tt.value))
		})
	}
}

func TestReferenceFilterForms(t *testing.T) {
	t.Run("typed reference", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Observation", "subject", "Patient/8"))
		cmp := m.Cond.(Cmp)
		if cmp.Str != "Patient/8" || cmp.Op != OpEq {
			t.Errorf("cond = %+v", cmp)
		}
	})

	t.Run("bare id expands over targets", func(t *testing.T) {
		// performer targets Practitioner and Organization.
		m := asMatch(t, compileOne(t, "Observation", "performer", "7"))
		any, ok := m.Cond.(AnyOf)
		if !ok || len(any) != 2 {
			t.Fatalf("cond = %#v", m.Cond)
		}
		got := map[string]bool{}
		for _, c := range any {
			got[c.(Cmp).Str] = true
		}
		if !got["Practitioner/7"] || !got["Organization/7"] {
			t.Errorf("expanded refs = %v", got)
		}
	})

	t.Run("type modifier restricts", func(t *testing.T) {
		m := asMatch(t, compileOne(t, "Patient", "general-practitioner:Practitioner", "7"))
		cmp := m.Cond.(Cmp)
		if cmp.Str != "Practitioner/7" {
			t.Errorf("cond = %+v", cmp)
		}
	})

	t.Run("type modifier conflict", func(t *testing.T) {
		compileErr(t, "Patient", "general-practitioner:Practitioner", "Organization/7")
	})
}

func TestQuantityFilterUCUMCanonicalization(t *testing.T) {
	// 1.2 kg canonicalizes to 1200 g; the filter compares canonical fields.
	f := compileOne(t, "Encounter", "length", "1.2|http://unitsofmeasure.org|kg")
	and, ok := f.(And)
	if !ok || len(and) != 2 {
		t.Fatalf("filter = %#v", f)
	}
	vc := asMatch(t, and[0]).Cond.(Cmp)
	if vc.Path != "canonicalValue" {
		t.Errorf("value path = %q", vc.Path)
	}
	if vc.Num == nil || !vc.Num.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("canonical value = %v, want 1200", vc.Num)
	}
	uc := asMatch(t, and[1]).Cond.(Cmp)
	if uc.Path != "canonicalUnit" || uc.Str != "g" {
		t.Errorf("unit cond = %+v", uc)
	}
}

func TestQuantityFilterNonUCUM(t *testing.T) {
	f := compileOne(t, "Encounter", "length", "5.4|http://example.org|widgets")
	and, ok := f.(And)
	if !ok || len(and) != 3 {
		t.Fatalf("filter = %#v", f)
	}
	vc := asMatch(t, and[0]).Cond.(Cmp)
	if vc.Path != "value" {
		t.Errorf("value path = %q", vc.Path)
	}
}

func TestQuantityFilterValueOnly(t *testing.T) {
	f := compileOne(t, "Encounter", "length", "gt100")
	m := asMatch(t, f)
	cmp := m.Cond.(Cmp)
	if cmp.Path != "value" || cmp.Op != OpGt {
		t.Errorf("cond = %+v", cmp)
	}
}

func TestCompositeFilterScopesToOneValue(t *testing.T) {
	f := compileOne(t, "Observation", "code-value-quantity",
		"http://loinc.org|15074-8$gt6")
	m := asMatch(t, f)
	all, ok := m.Cond.(AllOf)
	if !ok || len(all) != 2 {
		t.Fatalf("cond = %#v", m.Cond)
	}

	codeConds, ok := all[0].(AllOf)
	if !ok || len(codeConds) != 2 {
		t.Fatalf("code component = %#v", all[0])
	}
	sys := codeConds[0].(Cmp)
	if sys.Path != "code.system" || sys.Str != "http://loinc.org" {
		t.Errorf("system cond = %+v", sys)
	}

	value := all[1].(Cmp)
	if value.Path != "valueQuantity.value" || value.Op != OpGt {
		t.Errorf("value cond = %+v", value)
	}
}

func TestCompositeFilterComponentCountMismatch(t *testing.T) {
	compileErr(t, "Observation", "code-value-quantity", "justone")
}

func TestNumberPrefixNe(t *testing.T) {
	criteria, _, err := ParseQuery("Observation", url.Values{
		"value-quantity": []string{"ne6.3"},
	}, DefaultCatalog())
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	f, err := criteria[0].ToFilter()
	if err != nil {
		t.Fatalf("ToFilter: %v", err)
	}
	if _, ok := f.(Not); !ok {
		t.Errorf("ne should compile to a negation, got %T", f)
	}
}

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"HTTP://Example.ORG/ValueSet/A", "http://example.org/ValueSet/A"},
		{"http://example.org/path", "http://example.org/path"},
		{"urn:oid:1.2.3", "urn:oid:1.2.3"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		if got := NormalizeURI(tt.raw); got != tt.want {
			t.Errorf("NormalizeURI(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCanonicalizeUCUM(t *testing.T) {
	tests := []struct {
		value    string
		unit     string
		wantVal  string
		wantUnit string
		ok       bool
	}{
		{"1.2", "kg", "1200", "g", true},
		{"2500", "mg", "2.5", "g", true},
		{"1", "wk", "604800", "s", true},
		{"3", "furlong", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			v, _ := decimal.NewFromString(tt.value)
			canon, ok := CanonicalizeUCUM(v, tt.unit)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			want, _ := decimal.NewFromString(tt.wantVal)
			if !canon.Value.Equal(want) || canon.Unit != tt.wantUnit {
				t.Errorf("canon = {%s %s}, want {%s %s}", canon.Value, canon.Unit, tt.wantVal, tt.wantUnit)
			}
		})
	}
}
