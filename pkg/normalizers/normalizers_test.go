package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCustomerName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "blank", in: "   ", want: ""},
		{name: "entity suffixes", in: "Acme Pvt. Ltd.", want: "acme"},
		{name: "upper case", in: "ACME", want: "acme"},
		{name: "honorific with period", in: "Mr. Rajesh Kumar", want: "rajeshkumar"},
		{name: "m/s prefix and ampersand", in: "M/S Sharma & Sons", want: "sharmasons"},
		{name: "ampersand without spaces", in: "Sharma&Sons", want: "sharmasons"},
		{name: "conjunction word", in: "Sharma AND Sons", want: "sharmasons"},
		{name: "company qualifiers", in: "Tata Motors Company Limited", want: "tatamotors"},
		{name: "industries", in: "Reliance Industries Ltd", want: "reliance"},
		{name: "comma separated suffix", in: "Infosys, Inc.", want: "infosys"},
		{name: "diacritics", in: "Café Coffee Day Co.", want: "cafecoffeeday"},
		{name: "not a whole word", in: "Mrs Kapoor", want: "mrskapoor"},
		{name: "collapse creates stop word", in: "L P", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCustomerName(tt.in))
		})
	}
}

func TestNormalizeCustomerName_SuffixStability(t *testing.T) {
	assert.Equal(t, NormalizeCustomerName("ACME"), NormalizeCustomerName("Acme Pvt. Ltd."))
}

func TestNormalizeCustomerName_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"Acme Pvt. Ltd.",
		"M/S Sharma & Sons",
		"L P",
		"A N D",
		"C.O.",
		"Ms.Co",
		"P L L P Traders",
		"Shree Ganesh Foundation & Co",
		"HDFC ERGO General Insurance Company Limited",
		"  mixed   CASE   name  ",
		"x-co",
		"Zoë & Åsa",
	}

	for _, in := range inputs {
		once := NormalizeCustomerName(in)
		assert.Equal(t, once, NormalizeCustomerName(once), "input %q", in)
	}
}

func TestRegistry(t *testing.T) {
	t.Run("unknown normalizer returns input", func(t *testing.T) {
		assert.Equal(t, "Value", Apply("Value", "does_not_exist"))
	})

	t.Run("customer name is registered", func(t *testing.T) {
		fn, ok := Get("customer_name")
		assert.True(t, ok)
		assert.Equal(t, "acme", fn("Acme Ltd"))
	})

	t.Run("chain applies in order", func(t *testing.T) {
		assert.Equal(t, "privatecarpackage", ApplyChain(" Private-Car Package! ", "alphanumeric", "lowercase"))
		assert.Equal(t, "a b", ApplyChain("  a \t b ", "collapse_whitespace"))
	})
}

func TestFoldDiacritics(t *testing.T) {
	assert.Equal(t, "Cafe", FoldDiacritics("Café"))
	assert.Equal(t, "plain", FoldDiacritics("plain"))
}
