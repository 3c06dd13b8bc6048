package reports

import (
	"math"
	"strconv"
	"strings"
)

// Severity categories accepted on the report form, with their approximate
// water depth in centimetres.
var severityCategories = []struct {
	Label string
	Depth int
}{
	{"Rendah (10-30 cm)", 20},
	{"Sedang (31-70 cm)", 50},
	{"Tinggi (71-150 cm)", 100},
	{"Sangat Tinggi (>150 cm)", 200},
	{"Setinggi mata kaki", 10},
	{"Setinggi betis", 30},
	{"Setinggi lutut", 50},
	{"Setinggi paha", 70},
	{"Setinggi pinggang", 100},
	{"Setinggi dada", 130},
	{"Lebih dari dada", 160},
}

// SeverityLabels lists the recognized categories in form order.
func SeverityLabels() []string {
	out := make([]string, len(severityCategories))
	for i, c := range severityCategories {
		out[i] = c.Label
	}
	return out
}

// NormalizeSeverity returns the canonical form of a severity value: the
// category label for a recognized category, or the trimmed number for a
// positive depth in centimetres. ok is false for anything else.
func NormalizeSeverity(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, c := range severityCategories {
		if strings.EqualFold(s, c.Label) {
			return c.Label, true
		}
	}

	num := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "cm"))
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

// SeverityDepth estimates the depth in centimetres for a stored severity.
func SeverityDepth(severity string) (float64, bool) {
	for _, c := range severityCategories {
		if c.Label == severity {
			return float64(c.Depth), true
		}
	}
	v, err := strconv.ParseFloat(severity, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
