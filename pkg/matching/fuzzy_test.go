package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func record(index, column, value string) *models.Record {
	return models.NewRecord(index, map[string]string{column: value})
}

func TestNameMatcher_MatchNames(t *testing.T) {
	m := NewNameMatcher(DefaultNameMatcherConfig(), testLogger())

	t.Run("orders by descending score", func(t *testing.T) {
		scored, err := m.MatchNames(context.Background(),
			[]string{"acme", "rajeshkumar"},
			[]string{"rajeshkumarr", "acmee"},
		)
		require.NoError(t, err)
		require.Len(t, scored, 2)
		assert.Equal(t, ScoredName{Broker: "rajeshkumar", Insurer: "rajeshkumarr", Score: 96}, scored[0])
		assert.Equal(t, ScoredName{Broker: "acme", Insurer: "acmee", Score: 89}, scored[1])
	})

	t.Run("drops pairs below the threshold", func(t *testing.T) {
		scored, err := m.MatchNames(context.Background(), []string{"zenith"}, []string{"acme"})
		require.NoError(t, err)
		assert.Empty(t, scored)
	})

	t.Run("equal scores keep input order", func(t *testing.T) {
		scored, err := m.MatchNames(context.Background(), []string{"bbbb", "aaaa"}, []string{"aaaa", "bbbb"})
		require.NoError(t, err)
		require.Len(t, scored, 2)
		assert.Equal(t, "bbbb", scored[0].Broker)
		assert.Equal(t, "aaaa", scored[1].Broker)
	})

	t.Run("result does not depend on worker count", func(t *testing.T) {
		var namesA, namesB []string
		for i := 0; i < 60; i++ {
			namesA = append(namesA, fmt.Sprintf("customer%02d", i))
			namesB = append(namesB, fmt.Sprintf("customr%02d", (i*7)%60))
		}

		sequential := NewNameMatcher(NameMatcherConfig{Threshold: DefaultNameThreshold, Workers: 1}, testLogger())
		parallel := NewNameMatcher(NameMatcherConfig{Threshold: DefaultNameThreshold, Workers: 8}, testLogger())

		want, err := sequential.MatchNames(context.Background(), namesA, namesB)
		require.NoError(t, err)
		got, err := parallel.MatchNames(context.Background(), namesA, namesB)
		require.NoError(t, err)

		assert.NotEmpty(t, want)
		assert.Equal(t, want, got)
	})
}

func TestExpandPairs(t *testing.T) {
	s1 := record("S1", "n", "x")
	s3 := record("S3", "n", "x")
	s5 := record("S5", "n", "x")
	l2 := record("L2", "n", "x")
	l4 := record("L4", "n", "x")
	l6 := record("L6", "n", "x")

	t.Run("higher scores come first", func(t *testing.T) {
		scored := []ScoredName{
			{Broker: "high", Insurer: "high", Score: 95},
			{Broker: "low", Insurer: "low", Score: 80},
		}
		brokerByName := map[string][]*models.Record{"high": {s5}, "low": {s1}}
		insurerByName := map[string][]*models.Record{"high": {l6}, "low": {l2}}

		candidates := ExpandPairs(scored, brokerByName, insurerByName)
		require.Len(t, candidates, 2)
		assert.Equal(t, Candidate{BrokerIndex: "S5", InsurerIndex: "L6", Score: 95}, candidates[0])
		assert.Equal(t, Candidate{BrokerIndex: "S1", InsurerIndex: "L2", Score: 80}, candidates[1])

		SortByBrokerOrdinal(candidates)
		assert.Equal(t, "S1", candidates[0].BrokerIndex)
		assert.Equal(t, "S5", candidates[1].BrokerIndex)
	})

	t.Run("cross product in ledger order", func(t *testing.T) {
		scored := []ScoredName{{Broker: "acme", Insurer: "acme", Score: 100}}
		candidates := ExpandPairs(scored,
			map[string][]*models.Record{"acme": {s1, s3}},
			map[string][]*models.Record{"acme": {l2, l4}},
		)

		pairs := make([]string, 0, len(candidates))
		for _, c := range candidates {
			pairs = append(pairs, c.BrokerIndex+"-"+c.InsurerIndex)
		}
		assert.Equal(t, []string{"S1-L2", "S1-L4", "S3-L2", "S3-L4"}, pairs)
	})

	t.Run("duplicate name pairs emit once", func(t *testing.T) {
		scored := []ScoredName{
			{Broker: "acme", Insurer: "acme", Score: 100},
			{Broker: "acme", Insurer: "acme", Score: 100},
		}
		candidates := ExpandPairs(scored,
			map[string][]*models.Record{"acme": {s1}},
			map[string][]*models.Record{"acme": {l2}},
		)
		assert.Len(t, candidates, 1)
	})
}

func TestSortByBrokerOrdinal(t *testing.T) {
	candidates := []Candidate{
		{BrokerIndex: "S10", InsurerIndex: "L1"},
		{BrokerIndex: "S2", InsurerIndex: "L2"},
		{BrokerIndex: "S10", InsurerIndex: "L0"},
		{BrokerIndex: "S9", InsurerIndex: "L3"},
	}

	SortByBrokerOrdinal(candidates)

	assert.Equal(t, "S2", candidates[0].BrokerIndex)
	assert.Equal(t, "S9", candidates[1].BrokerIndex)
	assert.Equal(t, Candidate{BrokerIndex: "S10", InsurerIndex: "L1"}, candidates[2])
	assert.Equal(t, Candidate{BrokerIndex: "S10", InsurerIndex: "L0"}, candidates[3])
}

func TestNameMatcher_Candidates(t *testing.T) {
	m := NewNameMatcher(DefaultNameMatcherConfig(), testLogger())

	broker := []*models.Record{
		record("S1", "CustName", "Acme Pvt Ltd"),
		record("S2", "CustName", "Mr. Rajesh Kumar"),
		record("S3", "CustName", ""),
		record("S4", "CustName", "ACME"),
	}
	insurer := []*models.Record{
		record("L1", "INSURED_CUSTOMER_NAME", "RAJESH KUMARR"),
		record("L2", "INSURED_CUSTOMER_NAME", "Acme Limited"),
		record("L3", "INSURED_CUSTOMER_NAME", "Zenith Traders"),
	}

	candidates, err := m.Candidates(context.Background(), broker, insurer, "CustName", "INSURED_CUSTOMER_NAME")
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{BrokerIndex: "S1", InsurerIndex: "L2", Score: 100},
		{BrokerIndex: "S2", InsurerIndex: "L1", Score: 96},
		{BrokerIndex: "S4", InsurerIndex: "L2", Score: 100},
	}, candidates)
}

func TestExactSet(t *testing.T) {
	broker := []*models.Record{
		record("S1", "PolicyNo", "P1"),
		record("S2", "PolicyNo", ""),
		record("S3", "PolicyNo", " P2 "),
	}
	insurer := []*models.Record{
		record("L1", "POL_NUM_TXT", "P2"),
		record("L2", "POL_NUM_TXT", ""),
		record("L3", "POL_NUM_TXT", "P1"),
		record("L4", "POL_NUM_TXT", "P1"),
	}

	candidates := ExactSet(broker, insurer, "PolicyNo", "POL_NUM_TXT")

	assert.Equal(t, []Candidate{
		{BrokerIndex: "S1", InsurerIndex: "L3", Score: 100},
		{BrokerIndex: "S1", InsurerIndex: "L4", Score: 100},
		{BrokerIndex: "S3", InsurerIndex: "L1", Score: 100},
	}, candidates)
}
