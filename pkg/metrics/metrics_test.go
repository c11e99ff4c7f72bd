package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassMetrics(t *testing.T) {
	before := testutil.ToFloat64(PassMatchesTotal.WithLabelValues("Pass1_ExactID", "PolicyNo"))
	PassMatchesTotal.WithLabelValues("Pass1_ExactID", "PolicyNo").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PassMatchesTotal.WithLabelValues("Pass1_ExactID", "PolicyNo")))

	UnmatchedRecords.WithLabelValues("broker").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(UnmatchedRecords.WithLabelValues("broker")))
}

func TestWriteTextfile(t *testing.T) {
	require.NoError(t, WriteTextfile(""))

	UnmatchedRecords.WithLabelValues("insurer").Set(2)
	path := filepath.Join(t.TempDir(), "reconcile.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `reconcile_ledger_unmatched_records{side="insurer"} 2`))
}

func TestWriteTextfile_BadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "reconcile.prom"))
	assert.Error(t, err)
}
