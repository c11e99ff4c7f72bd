package matching

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/normalizers"
)

// DefaultPremiumTolerance is the accepted premium difference as a fraction of the broker premium
var DefaultPremiumTolerance = decimal.NewFromFloat(0.02)

// DefaultLabelThreshold is the minimum product label ratio on a 0..1 scale
const DefaultLabelThreshold = 0.75

// ScorerConfig holds the thresholds of the attribute comparators
type ScorerConfig struct {
	PremiumTolerance float64 `json:"premium_tolerance" validate:"gt=0,lt=1"`
	LabelThreshold   float64 `json:"label_threshold" validate:"gt=0,lte=1"`
}

// DefaultScorerConfig returns the thresholds used by the reconciliation passes
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		PremiumTolerance: 0.02,
		LabelThreshold:   DefaultLabelThreshold,
	}
}

// Scorer provides the pairwise attribute comparators
type Scorer struct {
	tolerance      decimal.Decimal
	labelThreshold float64
}

// NewScorer creates a new Scorer
func NewScorer(cfg ScorerConfig) *Scorer {
	tolerance := DefaultPremiumTolerance
	if cfg.PremiumTolerance > 0 {
		tolerance = decimal.NewFromFloat(cfg.PremiumTolerance)
	}
	threshold := cfg.LabelThreshold
	if threshold <= 0 {
		threshold = DefaultLabelThreshold
	}
	return &Scorer{tolerance: tolerance, labelThreshold: threshold}
}

// WithinTolerance reports whether b lies within the configured fraction of a
func (s *Scorer) WithinTolerance(a, b decimal.Decimal) bool {
	return WithinBand(a, b, s.tolerance)
}

// PremiumsAgree parses both premium cells and compares them with the broker premium first.
// A blank or unparsable premium never agrees.
func (s *Scorer) PremiumsAgree(brokerPremium, insurerPremium string) bool {
	a, ok := ParseAmount(brokerPremium)
	if !ok {
		return false
	}
	b, ok := ParseAmount(insurerPremium)
	if !ok {
		return false
	}
	return s.WithinTolerance(a, b)
}

// LabelsSimilar compares two product labels
func (s *Scorer) LabelsSimilar(a, b string) bool {
	return LabelsSimilar(a, b, s.labelThreshold)
}

// WithinTolerance reports whether |a-b| <= 0.02*a.
// The band is relative to a only: WithinTolerance(100, 102.01) is false
// while WithinTolerance(102.01, 100) is true.
func WithinTolerance(a, b decimal.Decimal) bool {
	return WithinBand(a, b, DefaultPremiumTolerance)
}

// WithinBand reports whether |a-b| <= fraction*a
func WithinBand(a, b, fraction decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(a.Mul(fraction))
}

// ParseAmount parses a premium cell. Thousands separators, currency markers and
// spaces are ignored.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	for _, marker := range []string{"₹", "INR", "Rs.", "Rs", ",", " "} {
		s = strings.ReplaceAll(s, marker, "")
	}
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// indelRatio returns (len(a)+len(b)-d)/(len(a)+len(b)) where d is the edit distance
// with substitutions costing 2
func indelRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	distance := levenshtein.DistanceForStrings(a, b, levenshtein.DefaultOptions)
	return float64(total-distance) / float64(total)
}

// Ratio scores two strings on a 0..100 scale, rounding half to even.
// Either string being empty scores 0.
func Ratio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	return int(math.RoundToEven(100 * indelRatio([]rune(a), []rune(b))))
}

// LabelRatio scores two cleaned labels on a 0..1 scale. Two empty labels are identical.
func LabelRatio(a, b string) float64 {
	return indelRatio([]rune(a), []rune(b))
}

// Acronym returns the upper-case letters of a label, so "Motor Private Car" yields "MPC"
func Acronym(label string) string {
	var result strings.Builder
	for _, r := range label {
		if unicode.IsUpper(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CleanLabel keeps only letters and digits and lower-cases the result
func CleanLabel(label string) string {
	return normalizers.ApplyChain(label, "alphanumeric", "lowercase")
}

// LabelsSimilar matches two labels on equal non-empty acronyms, or on a cleaned label
// ratio of at least threshold
func LabelsSimilar(a, b string, threshold float64) bool {
	if acr := Acronym(a); acr != "" && acr == Acronym(b) {
		return true
	}
	return LabelRatio(CleanLabel(a), CleanLabel(b)) >= threshold
}

// dateLayouts are tried in order. Slashed and dashed numeric dates are day-first only,
// so 04/13/2024 does not parse and 01/04/2024 is always the first of April.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"2/1/2006",
	"2/1/06",
}

// excelEpoch is day zero of the 1900 date system as used by spreadsheet serial dates
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a date cell using the known layouts or a spreadsheet serial number
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 && serial < 2958466 {
		days := math.Floor(serial)
		seconds := math.Round((serial - days) * 86400)
		return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(seconds) * time.Second), true
	}
	return time.Time{}, false
}

// SameDate reports whether two date cells denote the same instant.
// Cells that cannot be parsed are compared literally. Blank cells never match.
func SameDate(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	ta, okA := ParseDate(a)
	tb, okB := ParseDate(b)
	if okA && okB {
		return ta.Equal(tb)
	}
	return a == b
}

// SameTenure requires both the start and the end dates to be equal
func SameTenure(startA, endA, startB, endB string) bool {
	return SameDate(startA, startB) && SameDate(endA, endB)
}
