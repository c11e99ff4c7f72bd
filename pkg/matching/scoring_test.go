package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "two percent above", a: "100", b: "102", want: true},
		{name: "three percent above", a: "100", b: "103", want: false},
		{name: "two percent below", a: "100", b: "98", want: true},
		{name: "equal", a: "5000", b: "5000", want: true},
		{name: "band is relative to the first operand", a: "102", b: "100", want: true},
		{name: "just outside the band of the smaller first operand", a: "100", b: "102.01", want: false},
		{name: "same pair reversed falls inside the larger band", a: "102.01", b: "100", want: true},
		{name: "zero first operand only matches zero", a: "0", b: "0.01", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinTolerance(dec(tt.a), dec(tt.b)))
		})
	}
}

func TestWithinTolerance_NotSymmetric(t *testing.T) {
	a, b := dec("100"), dec("102.01")
	assert.NotEqual(t, WithinTolerance(a, b), WithinTolerance(b, a))
}

func TestScorer_PremiumsAgree(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	assert.True(t, s.PremiumsAgree("1,000.00", "1010"))
	assert.True(t, s.PremiumsAgree("₹ 1,000", "Rs. 990"))
	assert.False(t, s.PremiumsAgree("", "1000"))
	assert.False(t, s.PremiumsAgree("1000", "n/a"))
	assert.False(t, s.PremiumsAgree("1000", "1100"))

	wide := NewScorer(ScorerConfig{PremiumTolerance: 0.1, LabelThreshold: 0.75})
	assert.True(t, wide.PremiumsAgree("1000", "1100"))
}

func TestParseAmount(t *testing.T) {
	d, ok := ParseAmount(" 12,345.50 ")
	require.True(t, ok)
	assert.True(t, d.Equal(dec("12345.5")))

	_, ok = ParseAmount("   ")
	assert.False(t, ok)

	_, ok = ParseAmount("twelve")
	assert.False(t, ok)
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "identical", a: "acme", b: "acme", want: 100},
		{name: "one insertion", a: "rajeshkumar", b: "rajeshkumarr", want: 96},
		{name: "one substitution costs two", a: "abcd", b: "abce", want: 75},
		{name: "half rounds up to even", a: "abcdefgh", b: "abcdefgx", want: 88},
		{name: "half rounds down to even", a: "abcdefgh", b: "abcdexyz", want: 62},
		{name: "nothing in common", a: "ab", b: "cd", want: 0},
		{name: "empty side", a: "acme", b: "", want: 0},
		{name: "both empty", a: "", b: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Ratio(tt.a, tt.b))
		})
	}
}

func TestAcronym(t *testing.T) {
	assert.Equal(t, "MPC", Acronym("Motor Private Car"))
	assert.Equal(t, "MPC", Acronym("MPC"))
	assert.Equal(t, "", Acronym("private car"))
}

func TestLabelsSimilar(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "acronym shortcut", a: "Motor Private Car", b: "MPC", want: true},
		{name: "case and punctuation", a: "Private Car - Package", b: "PRIVATE CAR PACKAGE", want: true},
		{name: "extra word above threshold", a: "Private Car Package Policy", b: "private car package", want: true},
		{name: "different products", a: "two wheeler package", b: "private car package", want: false},
		{name: "empty acronyms do not match", a: "health", b: "motor", want: false},
		{name: "both blank", a: "", b: "", want: true},
		{name: "one blank", a: "Motor", b: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelsSimilar(tt.a, tt.b, DefaultLabelThreshold))
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-04-01", "01/04/2024", "01-04-2024", "01-Apr-2024", "45383"} {
		t.Run(raw, func(t *testing.T) {
			got, ok := ParseDate(raw)
			require.True(t, ok)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}

	_, ok := ParseDate("sometime")
	assert.False(t, ok)
}

func TestSameTenure(t *testing.T) {
	assert.True(t, SameTenure("2024-04-01", "2025-03-31", "01/04/2024", "31/03/2025"))
	assert.False(t, SameTenure("2024-04-01", "2025-03-31", "2024-04-01", "2025-04-01"))
	assert.False(t, SameTenure("", "2025-03-31", "", "2025-03-31"))
	assert.True(t, SameTenure("Q1", "Q4", "Q1", "Q4"))
	assert.False(t, SameTenure("Q1", "Q4", "Q1", "Q3"))
}

func TestSameDate_DayFirstOnly(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "same day written two ways", a: "2024-04-01", b: "01/04/2024", want: true},
		{name: "single digit day and month", a: "1/4/2024", b: "01/04/2024", want: true},
		{name: "ambiguous day and month swapped", a: "01/04/2024", b: "04/01/2024", want: false},
		{name: "month first with day above twelve", a: "13/04/2024", b: "04/13/2024", want: false},
		{name: "iso against month first", a: "2024-04-13", b: "04/13/2024", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameDate(tt.a, tt.b))
		})
	}

	_, ok := ParseDate("04/13/2024")
	assert.False(t, ok)
	assert.False(t, SameTenure("01/04/2024", "31/03/2025", "04/01/2024", "31/03/2025"))
}
