package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   = zap.NewNop()
	initOnce sync.Once
)

// Initialize registers the process collectors on the service registry
func Initialize(log *zap.Logger) {
	if log != nil {
		logger = log
	}
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		logger.Debug("Metrics registry initialized")
	})
}

// Registry returns the registry every service metric is registered on
func Registry() *prometheus.Registry {
	return registry
}

// QuoteMetrics tracks router quoting
type QuoteMetrics struct {
	Requests  *prometheus.CounterVec
	CacheHits prometheus.Counter
	Latency   *prometheus.HistogramVec
	Drift     *prometheus.GaugeVec
}

// NewQuoteMetrics creates quote metrics on reg
func NewQuoteMetrics(reg prometheus.Registerer, namespace string) *QuoteMetrics {
	factory := promauto.With(reg)
	return &QuoteMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "requests_total",
			Help:      "Total number of router quotes by chain and result",
		}, []string{"chain", "result"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "cache_hits_total",
			Help:      "Total number of quotes served from cache",
		}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "latency_seconds",
			Help:      "Router quote latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"chain"}),
		Drift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "drift",
			Help:      "Change of the unit price since the previous quote",
		}, []string{"chain", "pair"}),
	}
}

// ScanMetrics tracks opportunity evaluation
type ScanMetrics struct {
	Scans           *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Opportunities   *prometheus.CounterVec
	Spread          *prometheus.GaugeVec
	EstimatedProfit *prometheus.GaugeVec
}

// NewScanMetrics creates scan metrics on reg
func NewScanMetrics(reg prometheus.Registerer, namespace string) *ScanMetrics {
	factory := promauto.With(reg)
	return &ScanMetrics{
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Total number of pair scans",
		}, []string{"pair"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "errors_total",
			Help:      "Total number of failed pair scans",
		}, []string{"pair"}),
		Opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "profitable_total",
			Help:      "Total number of scans that cleared the profit threshold",
		}, []string{"pair"}),
		Spread: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "spread",
			Help:      "Last observed price spread between chain B and chain A",
		}, []string{"pair"}),
		EstimatedProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "estimated_profit",
			Help:      "Last estimated profit in quote token",
		}, []string{"pair"}),
	}
}

// ExecutionMetrics tracks dual-leg executions
type ExecutionMetrics struct {
	Attempts    prometheus.Counter
	Successes   prometheus.Counter
	Rejections  *prometheus.CounterVec
	Executions  *prometheus.CounterVec
	LegResults  *prometheus.CounterVec
	LegDuration *prometheus.HistogramVec
	Profit      prometheus.Gauge
}

// NewExecutionMetrics creates execution metrics on reg
func NewExecutionMetrics(reg prometheus.Registerer, namespace string) *ExecutionMetrics {
	factory := promauto.With(reg)
	return &ExecutionMetrics{
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Total number of executions that reached the chains",
		}),
		Successes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "successes_total",
			Help:      "Total number of executions where both legs succeeded",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "rejections_total",
			Help:      "Total number of executions rejected before any chain call",
		}, []string{"reason"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total number of executions by trigger and outcome",
		}, []string{"type", "outcome"}),
		LegResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "legs_total",
			Help:      "Total number of legs by chain, status and error kind",
		}, []string{"chain", "status", "kind"}),
		LegDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "leg_duration_seconds",
			Help:      "Time from leg start to terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"chain"}),
		Profit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "realized_profit",
			Help:      "Cumulative realized profit in quote token",
		}),
	}
}

// SuccessRatio returns the share of attempted executions where both legs succeeded
func (m *ExecutionMetrics) SuccessRatio() float64 {
	attempts := counterValue(m.Attempts)
	if attempts == 0 {
		return 0
	}
	return counterValue(m.Successes) / attempts
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		logger.Warn("Failed to read counter", zap.Error(err))
		return 0
	}
	if metric.Counter == nil {
		return 0
	}
	return metric.Counter.GetValue()
}
