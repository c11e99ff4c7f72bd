package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
)

func pair(b, i string, r models.Reason) models.MatchPair {
	return models.MatchPair{BrokerIndex: b, InsurerIndex: i, Reason: r}
}

func TestLinks_Add(t *testing.T) {
	l := New()

	assert.True(t, l.Add(pair("S1", "L1", models.ReasonPolicyNumber)))
	assert.True(t, l.Add(pair("S1", "L2", models.ReasonEndorsementNumber)))
	assert.False(t, l.Add(pair("S1", "L1", models.ReasonPolicyNumber)))
	assert.True(t, l.Add(pair("S1", "L1", models.ReasonEndorsementNumber)))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []Link{
		{Target: "L1", Reason: models.ReasonPolicyNumber},
		{Target: "L2", Reason: models.ReasonEndorsementNumber},
		{Target: "L1", Reason: models.ReasonEndorsementNumber},
	}, l.Of(models.SideBroker, "S1"))
	assert.Equal(t, []Link{
		{Target: "S1", Reason: models.ReasonPolicyNumber},
		{Target: "S1", Reason: models.ReasonEndorsementNumber},
	}, l.Of(models.SideInsurer, "L1"))

	assert.True(t, l.Has(models.SideInsurer, "L2"))
	assert.False(t, l.Has(models.SideInsurer, "L3"))
	assert.Len(t, l.Linked(models.SideInsurer), 2)
}

func TestLinks_Clone(t *testing.T) {
	base := FromPairs([]models.MatchPair{pair("S1", "L1", models.ReasonPolicyNumber)})
	clone := base.Clone()
	clone.Add(pair("S2", "L2", models.ReasonPolicyNumber))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, clone.Len())
	assert.False(t, base.Has(models.SideBroker, "S2"))
}

func TestLinks_Encode(t *testing.T) {
	l := FromPairs([]models.MatchPair{
		pair("S1", "L1", models.ReasonPolicyNumber),
		pair("S1", "L2", models.ReasonEndorsementNumber),
		pair("S2", "L3", models.ReasonCustomerPolicyPremium),
		pair("S2", "L4", models.ReasonCustomerPolicyPremium),
	})

	t.Run("mixed reasons align with indexes", func(t *testing.T) {
		idx, attr := l.Encode(models.SideBroker, "S1")
		assert.Equal(t, "L1, L2", idx)
		assert.Equal(t, "PolicyNo, EndoNo", attr)
	})

	t.Run("uniform reason collapses", func(t *testing.T) {
		idx, attr := l.Encode(models.SideBroker, "S2")
		assert.Equal(t, "L3, L4", idx)
		assert.Equal(t, "Customer+Policy+Premium", attr)
	})

	t.Run("unlinked record", func(t *testing.T) {
		idx, attr := l.Encode(models.SideInsurer, "L9")
		assert.Empty(t, idx)
		assert.Empty(t, attr)
	})
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		l := FromPairs([]models.MatchPair{
			pair("S1", "L1", models.ReasonPolicyNumber),
			pair("S1", "L2", models.ReasonEndorsementNumber),
		})
		links, ok := Decode(l.Encode(models.SideBroker, "S1"))
		require.True(t, ok)
		assert.Equal(t, l.Of(models.SideBroker, "S1"), links)
	})

	t.Run("single reason applies to every index", func(t *testing.T) {
		links, ok := Decode("S4, S5", "Customer+Premium+Tenure")
		require.True(t, ok)
		assert.Equal(t, []Link{
			{Target: "S4", Reason: models.ReasonCustomerPremiumTenure},
			{Target: "S5", Reason: models.ReasonCustomerPremiumTenure},
		}, links)
	})

	t.Run("empty cells", func(t *testing.T) {
		links, ok := Decode("", "")
		assert.True(t, ok)
		assert.Empty(t, links)
	})

	tests := []struct {
		name  string
		index string
		attr  string
	}{
		{name: "index without reason", index: "L1", attr: ""},
		{name: "reason without index", index: "", attr: "PolicyNo"},
		{name: "length mismatch", index: "L1, L2, L3", attr: "PolicyNo, EndoNo"},
		{name: "unknown reason", index: "L1", attr: "POL_NUM_TXT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Decode(tt.index, tt.attr)
			assert.False(t, ok)
		})
	}
}

func TestRebuild(t *testing.T) {
	original := FromPairs([]models.MatchPair{
		{BrokerIndex: "S5", InsurerIndex: "L1", Reason: models.ReasonPolicyNumber},
		{BrokerIndex: "S10", InsurerIndex: "L3", Reason: models.ReasonPolicyNumber},
		{BrokerIndex: "S2", InsurerIndex: "L1", Reason: models.ReasonEndorsementNumber},
		{BrokerIndex: "S3", InsurerIndex: "L7", Reason: models.ReasonCustomerPolicyPremium},
		{BrokerIndex: "S3", InsurerIndex: "L4", Reason: models.ReasonCustomerPolicyPremium},
	})

	// pairs as they come back when reading broker rows in ledger order
	var readBack []models.MatchPair
	for _, index := range []string{"S2", "S3", "S5", "S10"} {
		for _, link := range original.Of(models.SideBroker, index) {
			readBack = append(readBack, models.MatchPair{BrokerIndex: index, InsurerIndex: link.Target, Reason: link.Reason})
		}
	}

	rebuilt := Rebuild(readBack)
	assert.Equal(t, original.Pairs(), rebuilt.Pairs())

	idx, attr := rebuilt.Encode(models.SideInsurer, "L1")
	assert.Equal(t, "S5, S2", idx)
	assert.Equal(t, "PolicyNo, EndoNo", attr)
}
