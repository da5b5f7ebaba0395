package search

import "github.com/shopspring/decimal"

// UCUMSystem is the canonical system URI for UCUM units.
const UCUMSystem = "http://unitsofmeasure.org"

// CanonicalQuantity is a quantity rescaled to its UCUM base unit, so that
// equivalent units (mg vs g) compare in one range query.
type CanonicalQuantity struct {
	Value decimal.Decimal
	Unit  string
}

// ucumFactors maps a UCUM unit code to its base unit and scale factor.
// The table covers the units common in clinical quantities; anything else
// indexes as the raw value/unit pair.
var ucumFactors = map[string]struct {
	base   string
	factor string
}{
	"ug": {"g", "0.000001"},
	"mg": {"g", "0.001"},
	"g":  {"g", "1"},
	"kg": {"g", "1000"},

	"mm": {"m", "0.001"},
	"cm": {"m", "0.01"},
	"m":  {"m", "1"},
	"km": {"m", "1000"},

	"ms":  {"s", "0.001"},
	"s":   {"s", "1"},
	"min": {"s", "60"},
	"h":   {"s", "3600"},
	"d":   {"s", "86400"},
	"wk":  {"s", "604800"},

	"mL": {"L", "0.001"},
	"dL": {"L", "0.1"},
	"L":  {"L", "1"},

	"Cel": {"Cel", "1"},
}

// CanonicalizeUCUM rescales a UCUM quantity to its base unit. Returns
// false when the unit is not in the table.
func CanonicalizeUCUM(value decimal.Decimal, unit string) (CanonicalQuantity, bool) {
	f, ok := ucumFactors[unit]
	if !ok {
		return CanonicalQuantity{}, false
	}
	factor, err := decimal.NewFromString(f.factor)
	if err != nil {
		return CanonicalQuantity{}, false
	}
	return CanonicalQuantity{Value: value.Mul(factor), Unit: f.base}, true
}
