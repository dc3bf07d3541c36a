package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/zksym/metrics"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveProof("gnark", "chacha20", time.Now(), nil)
	m.ObserveProof("gnark", "chacha20", time.Now(), errors.New("boom"))
	m.ObserveVerification("gnark", "chacha20", true, nil)
	m.ObserveVerification("gnark", "chacha20", false, nil)
	m.WorkerStarted("expander")
	m.WorkerStarted("expander")
	m.WorkersStopped("expander", 2)

	count, err := testutil.GatherAndCount(reg, "zksym_proving_proofs_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "zksym_verifying_results_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "zksym_proving_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDefault(t *testing.T) {
	m := metrics.Default()
	require.Same(t, m, metrics.Default())

	m.ObserveVerification("native", "aes-256-ctr", true, nil)
	count, err := testutil.GatherAndCount(metrics.Registry, "zksym_verifying_results_total")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
}

func TestNilRegisterer(t *testing.T) {
	require.NotPanics(t, func() {
		metrics.New(nil)
		metrics.New(nil)
	})
}
