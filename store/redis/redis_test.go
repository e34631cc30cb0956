package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/dualarb/notify"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

type fakeRedis struct {
	hashes    map[string]map[string]string
	readErr   error
	published []published
}

type published struct {
	channel string
	message []byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}}
}

func (f *fakeRedis) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	if f.readErr != nil {
		return redis.NewMapStringStringResult(nil, f.readErr)
	}
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := f.hashes[key]
	if h == nil {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published = append(f.published, published{channel: channel, message: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func defaults() types.Settings {
	return types.Settings{
		ThresholdMode:     types.ThresholdFixed,
		MinProfitFixed:    decimal.NewFromInt(50),
		MaxPositionSize:   decimal.NewFromInt(10000),
		SlippageTolerance: decimal.RequireFromString("0.5"),
		TradingFeeRate:    decimal.RequireFromString("0.001"),
		GasEstimates:      map[uint64]decimal.Decimal{1: decimal.RequireFromString("0.45")},
	}
}

func TestSettingsOverlay(t *testing.T) {
	rdb := newFakeRedis()
	rdb.hashes["settings"] = map[string]string{
		"thresholdMode":    "percent",
		"minProfitPercent": "0.5",
		"autoExecute":      "true",
		"gasEstimate:56":   "0.3",
	}
	s := NewSettings(rdb, "", store.NewStaticSettings(defaults()), zaptest.NewLogger(t))

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ThresholdPercent, got.ThresholdMode)
	assert.Equal(t, "0.5", got.MinProfitPercent.String())
	assert.Equal(t, "50", got.MinProfitFixed.String())
	assert.True(t, got.AutoExecute)
	assert.Equal(t, "0.45", got.GasEstimates[1].String())
	assert.Equal(t, "0.3", got.GasEstimates[56].String())
}

func TestSettingsReadsEveryCall(t *testing.T) {
	rdb := newFakeRedis()
	s := NewSettings(rdb, "settings", store.NewStaticSettings(defaults()), zaptest.NewLogger(t))

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "50", got.MinProfitFixed.String())

	rdb.hashes["settings"] = map[string]string{"minProfitFixed": "75"}
	got, err = s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "75", got.MinProfitFixed.String())
}

func TestSettingsFallbackOnOutage(t *testing.T) {
	rdb := newFakeRedis()
	rdb.readErr = errors.New("connection refused")
	s := NewSettings(rdb, "settings", store.NewStaticSettings(defaults()), zaptest.NewLogger(t))

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ThresholdFixed, got.ThresholdMode)
	assert.Equal(t, "50", got.MinProfitFixed.String())
}

func TestSettingsRejectsMalformedHash(t *testing.T) {
	rdb := newFakeRedis()
	rdb.hashes["settings"] = map[string]string{
		"thresholdMode":  "sometimes",
		"minProfitFixed": "fifty",
		"autoExecute":    "perhaps",
		"gasEstimate:x":  "1",
	}
	s := NewSettings(rdb, "settings", store.NewStaticSettings(defaults()), zaptest.NewLogger(t))

	_, err := s.Settings(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholdMode")
	assert.Contains(t, err.Error(), "minProfitFixed")
	assert.Contains(t, err.Error(), "autoExecute")
	assert.Contains(t, err.Error(), "gasEstimate:x")
}

func TestSettingsSaveRoundTrip(t *testing.T) {
	rdb := newFakeRedis()
	s := NewSettings(rdb, "settings", store.NewStaticSettings(types.Settings{}), zaptest.NewLogger(t))

	want := defaults()
	want.AutoExecute = true
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.ThresholdMode, got.ThresholdMode)
	assert.True(t, want.MinProfitFixed.Equal(got.MinProfitFixed))
	assert.True(t, want.SlippageTolerance.Equal(got.SlippageTolerance))
	assert.True(t, want.GasEstimates[1].Equal(got.GasEstimates[1]))
	assert.True(t, got.AutoExecute)
}

func TestPublisher(t *testing.T) {
	rdb := newFakeRedis()
	p := NewPublisher(rdb, "")

	opp := types.ArbitrageOpportunity{PairID: "BTC-USDC", Profitable: true, EstimatedProfit: decimal.NewFromInt(60)}
	require.NoError(t, p.Publish(context.Background(), notify.EventOpportunity, opp))

	require.Len(t, rdb.published, 1)
	assert.Equal(t, "arb:opportunity", rdb.published[0].channel)

	var got types.ArbitrageOpportunity
	require.NoError(t, json.Unmarshal(rdb.published[0].message, &got))
	assert.Equal(t, "BTC-USDC", got.PairID)
	assert.Equal(t, "60", got.EstimatedProfit.String())
}

func TestPublisherEncodeError(t *testing.T) {
	p := NewPublisher(newFakeRedis(), "dev:")
	err := p.Publish(context.Background(), notify.EventExecution, make(chan int))
	assert.Error(t, err)
}
