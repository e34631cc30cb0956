package arbitrage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/dualarb/notify"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

var btcPair = types.Pair{
	ID:          "BTC-USDC",
	Base:        "WBTC",
	Quote:       "USDC",
	ChainA:      1,
	ChainB:      56,
	TradingUnit: decimal.NewFromInt(1),
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func baseSettings() types.Settings {
	return types.Settings{
		ThresholdMode:     types.ThresholdFixed,
		MinProfitFixed:    dec("50"),
		MaxPositionSize:   dec("10000"),
		SlippageTolerance: dec("0.5"),
		TradingFeeRate:    dec("0.001"),
		GasEstimates:      map[uint64]decimal.Decimal{1: dec("0.5"), 56: dec("0.4")},
	}
}

type stubQuoter struct {
	mu     sync.Mutex
	prices map[uint64]decimal.Decimal
	errs   map[uint64]error
	cached int
	fresh  int
}

func (s *stubQuoter) quote(chainID uint64, in, out string, amount decimal.Decimal) (types.Quote, error) {
	if err := s.errs[chainID]; err != nil {
		return types.Quote{}, err
	}
	return types.Quote{ChainID: chainID, TokenIn: in, TokenOut: out, UnitPrice: s.prices[chainID]}, nil
}

func (s *stubQuoter) GetQuote(_ context.Context, chainID uint64, in, out string, amount decimal.Decimal) (types.Quote, error) {
	s.mu.Lock()
	s.cached++
	s.mu.Unlock()
	return s.quote(chainID, in, out, amount)
}

func (s *stubQuoter) GetFreshQuote(_ context.Context, chainID uint64, in, out string, amount decimal.Decimal) (types.Quote, error) {
	s.mu.Lock()
	s.fresh++
	s.mu.Unlock()
	return s.quote(chainID, in, out, amount)
}

type stubExecutor struct {
	got []types.ArbitrageOpportunity
	err error
}

func (s *stubExecutor) Execute(_ context.Context, opp types.ArbitrageOpportunity, execType types.ExecutionType) (types.ExecutionRecord, error) {
	s.got = append(s.got, opp)
	if s.err != nil {
		return types.ExecutionRecord{}, s.err
	}
	return types.ExecutionRecord{ID: "rec-1", Opportunity: opp, ExecutionType: execType}, nil
}

type fixedGas struct{ value decimal.Decimal }

func (f fixedGas) Fill(_ context.Context, settings types.Settings, pair types.Pair) types.Settings {
	out := store.CloneSettings(settings)
	if out.GasEstimates == nil {
		out.GasEstimates = map[uint64]decimal.Decimal{}
	}
	for _, id := range []uint64{pair.ChainA, pair.ChainB} {
		if _, ok := out.GasEstimates[id]; !ok {
			out.GasEstimates[id] = f.value
		}
	}
	return out
}

func TestEvaluateNotProfitable(t *testing.T) {
	now := time.Unix(1700000000, 0)
	opp := Evaluate(btcPair, dec("43125.45"), dec("43212.77"), baseSettings(), now)

	assert.Equal(t, "87.32", opp.Spread.String())
	assert.Equal(t, "43.13", opp.FeeEstimate.Round(2).String())
	assert.Equal(t, "44.19", opp.EstimatedProfit.Round(2).String())
	assert.Equal(t, "50.9", opp.MinProfitRequired.String())
	assert.False(t, opp.Profitable)
	assert.Equal(t, now, opp.Timestamp)
	assert.Equal(t, types.ThresholdFixed, opp.ThresholdMode)
	assert.True(t, opp.BuyOnA())
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		priceA     string
		priceB     string
		settings   func(types.Settings) types.Settings
		profit     string
		required   string
		profitable bool
	}{
		{
			name:       "wide spread clears fixed threshold",
			priceA:     "2000",
			priceB:     "2100",
			settings:   func(s types.Settings) types.Settings { return s },
			profit:     "98",
			required:   "50.9",
			profitable: true,
		},
		{
			name:       "reverse direction uses cheaper price for fee",
			priceA:     "2100",
			priceB:     "2000",
			settings:   func(s types.Settings) types.Settings { return s },
			profit:     "98",
			required:   "50.9",
			profitable: true,
		},
		{
			name:       "fee larger than spread floors at zero",
			priceA:     "2000",
			priceB:     "2001",
			settings:   func(s types.Settings) types.Settings { return s },
			profit:     "0",
			required:   "50.9",
			profitable: false,
		},
		{
			name:   "percent mode",
			priceA: "2000",
			priceB: "2100",
			settings: func(s types.Settings) types.Settings {
				s.ThresholdMode = types.ThresholdPercent
				s.MinProfitPercent = dec("1")
				return s
			},
			profit:     "98",
			required:   "100.9",
			profitable: false,
		},
		{
			name:   "zero threshold with zero profit is profitable",
			priceA: "2000",
			priceB: "2000",
			settings: func(s types.Settings) types.Settings {
				s.MinProfitFixed = decimal.Zero
				s.GasEstimates = nil
				return s
			},
			profit:     "0",
			required:   "0",
			profitable: true,
		},
		{
			name:   "exactly at threshold",
			priceA: "1000",
			priceB: "1051.9",
			settings: func(s types.Settings) types.Settings {
				return s
			},
			profit:     "50.9",
			required:   "50.9",
			profitable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := Evaluate(btcPair, dec(tt.priceA), dec(tt.priceB), tt.settings(baseSettings()), time.Now())
			assert.True(t, dec(tt.profit).Equal(opp.EstimatedProfit), "profit %s", opp.EstimatedProfit)
			assert.True(t, dec(tt.required).Equal(opp.MinProfitRequired), "required %s", opp.MinProfitRequired)
			assert.Equal(t, tt.profitable, opp.Profitable)
		})
	}
}

func TestEvaluateTruncatesProfit(t *testing.T) {
	s := baseSettings()
	s.TradingFeeRate = dec("0.000000003")
	opp := Evaluate(btcPair, dec("1"), dec("2"), s, time.Now())
	// 1 - 0.000000003 truncated to 8 places
	assert.Equal(t, "0.99999999", opp.EstimatedProfit.String())
}

func newDetector(t *testing.T, q *stubQuoter, settings types.Settings, ex Executor, pub notify.Publisher, m *metrics.ScanMetrics) *Detector {
	return NewDetector(Deps{
		Pairs:     []types.Pair{btcPair},
		Quotes:    q,
		Settings:  store.NewStaticSettings(settings),
		Executor:  ex,
		Publisher: pub,
		Metrics:   m,
	}, zaptest.NewLogger(t))
}

func TestScanPublishesProfitable(t *testing.T) {
	q := &stubQuoter{prices: map[uint64]decimal.Decimal{1: dec("2000"), 56: dec("2100")}}
	pub := notify.NewMemory()
	m := metrics.NewScanMetrics(prometheus.NewRegistry(), "test")
	d := newDetector(t, q, baseSettings(), &stubExecutor{}, pub, m)

	opp, err := d.Scan(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.True(t, opp.Profitable)
	assert.Equal(t, 2, q.cached)
	assert.Equal(t, 0, q.fresh)

	msgs := pub.Messages(notify.EventOpportunity)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Opportunities.WithLabelValues("BTC-USDC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("BTC-USDC")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.Spread.WithLabelValues("BTC-USDC")))
}

func TestScanUnprofitableDoesNotPublish(t *testing.T) {
	q := &stubQuoter{prices: map[uint64]decimal.Decimal{1: dec("43125.45"), 56: dec("43212.77")}}
	pub := notify.NewMemory()
	d := newDetector(t, q, baseSettings(), &stubExecutor{}, pub, nil)

	opp, err := d.Scan(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.False(t, opp.Profitable)
	assert.Empty(t, pub.Messages(notify.EventOpportunity))
}

func TestScanUnknownPair(t *testing.T) {
	d := newDetector(t, &stubQuoter{}, baseSettings(), &stubExecutor{}, nil, nil)
	_, err := d.Scan(context.Background(), "DOGE-USDC")
	assert.ErrorIs(t, err, types.ErrUnknownPair)
}

func TestScanQuoteError(t *testing.T) {
	q := &stubQuoter{
		prices: map[uint64]decimal.Decimal{1: dec("2000")},
		errs:   map[uint64]error{56: types.ErrPairNotFound},
	}
	m := metrics.NewScanMetrics(prometheus.NewRegistry(), "test")
	d := newDetector(t, q, baseSettings(), &stubExecutor{}, nil, m)

	_, err := d.Scan(context.Background(), "BTC-USDC")
	assert.ErrorIs(t, err, types.ErrPairNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("BTC-USDC")))
}

func TestScanFillsGas(t *testing.T) {
	q := &stubQuoter{prices: map[uint64]decimal.Decimal{1: dec("2000"), 56: dec("2100")}}
	settings := baseSettings()
	settings.GasEstimates = map[uint64]decimal.Decimal{1: dec("0.5")}

	d := NewDetector(Deps{
		Pairs:    []types.Pair{btcPair},
		Quotes:   q,
		Settings: store.NewStaticSettings(settings),
		Gas:      fixedGas{value: dec("2")},
		Executor: &stubExecutor{},
	}, zaptest.NewLogger(t))

	opp, err := d.Scan(context.Background(), "BTC-USDC")
	require.NoError(t, err)
	assert.Equal(t, "52.5", opp.MinProfitRequired.String())
}

func TestExecuteArbitrageUsesFreshQuotes(t *testing.T) {
	q := &stubQuoter{prices: map[uint64]decimal.Decimal{1: dec("2000"), 56: dec("2100")}}
	ex := &stubExecutor{}
	d := newDetector(t, q, baseSettings(), ex, nil, nil)

	record, err := d.ExecuteArbitrage(context.Background(), "BTC-USDC", types.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, types.ExecutionManual, record.ExecutionType)
	assert.Equal(t, 2, q.fresh)
	assert.Equal(t, 0, q.cached)
	require.Len(t, ex.got, 1)
	assert.True(t, ex.got[0].Profitable)
}

func TestExecuteArbitragePropagatesErrors(t *testing.T) {
	q := &stubQuoter{prices: map[uint64]decimal.Decimal{1: dec("2000"), 56: dec("2001")}}
	ex := &stubExecutor{err: types.ErrBelowThreshold}
	d := newDetector(t, q, baseSettings(), ex, nil, nil)

	_, err := d.ExecuteArbitrage(context.Background(), "BTC-USDC", types.ExecutionManual)
	assert.ErrorIs(t, err, types.ErrBelowThreshold)

	q.errs = map[uint64]error{1: errors.New("boom")}
	_, err = d.ExecuteArbitrage(context.Background(), "BTC-USDC", types.ExecutionManual)
	assert.EqualError(t, err, "failed to quote BTC-USDC on chain 1: boom")
	assert.Len(t, ex.got, 1)
}

func TestPairsPreservesOrder(t *testing.T) {
	eth := btcPair
	eth.ID = "ETH-USDC"
	d := NewDetector(Deps{Pairs: []types.Pair{btcPair, eth}}, zaptest.NewLogger(t))
	pairs := d.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "BTC-USDC", pairs[0].ID)
	assert.Equal(t, "ETH-USDC", pairs[1].ID)
}
