package translator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// fields reads a raw payload through alias tables and records every field
// that fell back to a placeholder
type fields struct {
	values    map[string]any
	defaulted []string
}

func newFields(raw map[string]any) *fields {
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		values[normalizeKey(k)] = v
	}
	return &fields{values: values}
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "_", " ", "_").Replace(k)
}

func (f *fields) lookup(aliases ...string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := f.values[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// text returns the first non-empty alias as a string, or Unspecified
func (f *fields) text(name string, aliases ...string) string {
	return f.textOr(name, Unspecified, aliases...)
}

func (f *fields) textOr(name, fallback string, aliases ...string) string {
	if v, ok := f.lookup(aliases...); ok {
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	f.defaulted = append(f.defaulted, name)
	return fallback
}

// optional returns the first non-empty alias without recording a default
func (f *fields) optional(aliases ...string) string {
	if v, ok := f.lookup(aliases...); ok {
		return strings.TrimSpace(stringify(v))
	}
	return ""
}

// quantity parses the first alias that holds a usable amount. A missing or
// unparseable amount becomes zero in defaultUnit.
func (f *fields) quantity(name, defaultUnit string, aliases ...string) Quantity {
	for _, alias := range aliases {
		v, ok := f.values[alias]
		if !ok || v == nil {
			continue
		}
		q, ok := parseQuantity(v)
		if !ok {
			continue
		}
		if q.Unit == "" {
			q.Unit = f.unitFor(alias, defaultUnit)
		}
		return q
	}

	f.defaulted = append(f.defaulted, name)
	return Quantity{Value: 0, Unit: defaultUnit}
}

// unitFor looks for a separate unit field next to a bare number, such as
// {"quantity": 20, "unit": "kg"} or {"volume": 300, "volume_unit": "l"}
func (f *fields) unitFor(alias, defaultUnit string) string {
	for _, key := range []string{alias + "_unit", "unit", "units"} {
		if v, ok := f.values[key]; ok {
			if u := normalizeUnit(stringify(v)); u != "" {
				return u
			}
		}
	}
	return defaultUnit
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func parseQuantity(v any) (Quantity, bool) {
	switch val := v.(type) {
	case float64:
		return validQuantity(val, "")
	case float32:
		return validQuantity(float64(val), "")
	case int:
		return validQuantity(float64(val), "")
	case int64:
		return validQuantity(float64(val), "")
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return Quantity{}, false
		}
		return validQuantity(n, "")
	case string:
		return parseQuantityString(val)
	case map[string]any:
		inner, ok := parseQuantity(val["value"])
		if !ok {
			return Quantity{}, false
		}
		if unit, ok := val["unit"].(string); ok {
			inner.Unit = normalizeUnit(unit)
		}
		return inner, true
	default:
		return Quantity{}, false
	}
}

// parseQuantityString accepts "20", "20kg", "20 kg", decimal commas ("2,5 L")
// and grouped thousands ("1,200 L", "1.200,5 L", "1,234.5 L")
func parseQuantityString(s string) (Quantity, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' || (i == 0 && (r == '-' || r == '+')) {
			end = i + 1
			continue
		}
		break
	}
	if end == 0 {
		return Quantity{}, false
	}

	n, ok := parseNumber(s[:end])
	if !ok {
		return Quantity{}, false
	}
	return validQuantity(n, normalizeUnit(s[end:]))
}

// parseNumber reads a number written with either '.' or ',' as the decimal
// separator. When both appear, the last one is the decimal separator and the
// other must group thousands. A lone separator followed by exactly three
// digits groups thousands unless the integer part is 0. Anything else that
// does not fit those shapes is rejected.
func parseNumber(s string) (float64, bool) {
	sign := ""
	if s != "" && (s[0] == '-' || s[0] == '+') {
		sign, s = s[:1], s[1:]
	}

	var intPart, frac string
	lastDot, lastComma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')

	switch {
	case lastDot < 0 && lastComma < 0:
		intPart = s

	case lastDot >= 0 && lastComma >= 0:
		decimal, group := lastDot, ","
		if lastComma > lastDot {
			decimal, group = lastComma, "."
		}
		groups := strings.Split(s[:decimal], group)
		if !thousandGroups(groups) {
			return 0, false
		}
		intPart, frac = strings.Join(groups, ""), s[decimal+1:]

	default:
		sep := "."
		if lastComma >= 0 {
			sep = ","
		}
		parts := strings.Split(s, sep)
		switch {
		case len(parts) > 2:
			if !thousandGroups(parts) {
				return 0, false
			}
			intPart = strings.Join(parts, "")
		case thousandGroups(parts) && parts[0][0] != '0':
			intPart = parts[0] + parts[1]
		default:
			intPart, frac = parts[0], parts[1]
		}
	}

	if intPart == "" && frac == "" || !allDigits(intPart) || !allDigits(frac) {
		return 0, false
	}
	if intPart == "" {
		intPart = "0"
	}
	number := sign + intPart
	if frac != "" {
		number += "." + frac
	}

	n, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// thousandGroups reports whether parts form 1-3 leading digits followed by
// groups of exactly three
func thousandGroups(parts []string) bool {
	if len(parts) < 2 || len(parts[0]) < 1 || len(parts[0]) > 3 || !allDigits(parts[0]) {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 || !allDigits(p) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validQuantity(n float64, unit string) (Quantity, bool) {
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Quantity{}, false
	}
	return Quantity{Value: n, Unit: unit}, true
}

var unitAliases = map[string]string{
	"kg": "kg", "kgs": "kg", "kilo": "kg", "kilos": "kg", "kilogram": "kg", "kilograms": "kg",
	"g": "g", "gr": "g", "gram": "g", "grams": "g",
	"t": "t", "ton": "t", "tons": "t", "tonne": "t", "tonnes": "t",
	"l": "L", "lt": "L", "ltr": "L", "liter": "L", "liters": "L", "litre": "L", "litres": "L",
	"ml": "mL", "milliliter": "mL", "milliliters": "mL",
	"m3": "m3", "m³": "m3", "cubic_meters": "m3",
	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
	"min": "min", "mins": "min", "minute": "min", "minutes": "min",
	"plant": "plants", "plants": "plants", "tree": "plants", "trees": "plants",
}

func normalizeUnit(u string) string {
	key := normalizeKey(u)
	if key == "" {
		return ""
	}
	if canonical, ok := unitAliases[key]; ok {
		return canonical
	}
	return key
}
