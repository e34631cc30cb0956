package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQuoteMetrics(t *testing.T) {
	m := NewQuoteMetrics(prometheus.NewRegistry(), "test")
	require.NotNil(t, m)

	m.Requests.WithLabelValues("1", "ok").Inc()
	m.Requests.WithLabelValues("1", "ok").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues("1", "ok")))

	m.CacheHits.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))

	m.Drift.WithLabelValues("56", "ETH-USDC").Set(-1.5)
	assert.Equal(t, -1.5, testutil.ToFloat64(m.Drift.WithLabelValues("56", "ETH-USDC")))
}

func TestScanMetrics(t *testing.T) {
	m := NewScanMetrics(prometheus.NewRegistry(), "test")

	m.Scans.WithLabelValues("ETH-USDC").Inc()
	m.Opportunities.WithLabelValues("ETH-USDC").Inc()
	m.Spread.WithLabelValues("ETH-USDC").Set(87.32)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Scans.WithLabelValues("ETH-USDC")))
	assert.Equal(t, 87.32, testutil.ToFloat64(m.Spread.WithLabelValues("ETH-USDC")))
}

func TestExecutionSuccessRatio(t *testing.T) {
	m := NewExecutionMetrics(prometheus.NewRegistry(), "test")
	assert.Equal(t, float64(0), m.SuccessRatio())

	m.Attempts.Add(4)
	m.Successes.Add(3)
	assert.InDelta(t, 0.75, m.SuccessRatio(), 1e-9)
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewExecutionMetrics(prometheus.NewRegistry(), "test")
		NewExecutionMetrics(prometheus.NewRegistry(), "test")
	})
}

func TestInitialize(t *testing.T) {
	Initialize(zaptest.NewLogger(t))
	families, err := Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
