package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		name   string
		index  string
		want   int
		wantOK bool
	}{
		{name: "broker", index: "S1", want: 1, wantOK: true},
		{name: "multi digit", index: "L120", want: 120, wantOK: true},
		{name: "no prefix", index: "7", want: 7, wantOK: true},
		{name: "no digits", index: "S", want: 0, wantOK: false},
		{name: "empty", index: "", want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseOrdinal(tt.index)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLedger(t *testing.T) {
	rows := []map[string]string{
		{"CustName": "Acme", "Index": "stale"},
		{"CustName": "Zenith"},
	}

	ledger := NewLedger(SideInsurer, []string{"Index", "CustName"}, rows)

	assert.Equal(t, []string{"L1", "L2"}, ledger.Indexes())
	assert.Equal(t, []string{"CustName"}, ledger.Columns)
	assert.NotContains(t, ledger.Records[0].Fields, IndexColumn)
	assert.Equal(t, 2, ledger.Records[1].Ordinal())
}

func TestRecord_Get(t *testing.T) {
	r := NewRecord("S1", map[string]string{"PolicyNo": "  P-1 "})
	assert.Equal(t, "P-1", r.Get("PolicyNo"))
	assert.Equal(t, "", r.Get("Missing"))
	assert.Equal(t, "", r.Get(""))
}

func TestSide(t *testing.T) {
	assert.Equal(t, "S", SideBroker.Prefix())
	assert.Equal(t, "L", SideInsurer.Prefix())
	assert.Equal(t, SideInsurer, SideBroker.Other())
	assert.False(t, Side("other").IsValid())
}

func TestReason_IsValid(t *testing.T) {
	assert.True(t, ReasonPolicyNumber.IsValid())
	assert.True(t, Reason("Customer+Premium+Tenure").IsValid())
	assert.False(t, Reason("POL_NUM_TXT").IsValid())
}

func TestSchema(t *testing.T) {
	t.Run("default schema is valid", func(t *testing.T) {
		s := DefaultSchema()
		require.NoError(t, s.Validate())
		assert.Equal(t, "POL_NUM_TXT", s.For(SideInsurer).PolicyNumber)
		assert.Len(t, s.Broker.Required(), 7)
		assert.Len(t, s.Insurer.Required(), 6)
	})

	t.Run("missing column is rejected", func(t *testing.T) {
		s := DefaultSchema()
		s.Insurer.Premium = ""
		assert.Error(t, s.Validate())
	})

	t.Run("broker endorsement column is required", func(t *testing.T) {
		s := DefaultSchema()
		s.Broker.EndorsementNumber = ""
		assert.Error(t, s.Validate())
	})

	t.Run("load overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "columns.yaml")
		require.NoError(t, os.WriteFile(path, []byte("insurer:\n  customer_name: CUSTOMER\n"), 0o600))

		s, err := LoadSchema(path)
		require.NoError(t, err)
		assert.Equal(t, "CUSTOMER", s.Insurer.CustomerName)
		assert.Equal(t, "POL_NUM_TXT", s.Insurer.PolicyNumber)
		assert.Equal(t, "CustName", s.Broker.CustomerName)
	})

	t.Run("empty path returns defaults", func(t *testing.T) {
		s, err := LoadSchema("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSchema(), s)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSchema(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
