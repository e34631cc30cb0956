package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

type stubScanner struct {
	pairs      []types.Pair
	profitable map[string]bool
	scanErr    map[string]error
	execErr    error

	mu       sync.Mutex
	executed []string
	scans    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
}

func (s *stubScanner) Pairs() []types.Pair { return s.pairs }

func (s *stubScanner) Scan(ctx context.Context, pairID string) (types.ArbitrageOpportunity, error) {
	s.scans.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return types.ArbitrageOpportunity{}, ctx.Err()
		}
	}
	if err := s.scanErr[pairID]; err != nil {
		return types.ArbitrageOpportunity{}, err
	}
	return types.ArbitrageOpportunity{PairID: pairID, Profitable: s.profitable[pairID]}, nil
}

func (s *stubScanner) ExecuteArbitrage(_ context.Context, pairID string, execType types.ExecutionType) (types.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, pairID+":"+string(execType))
	if s.execErr != nil {
		return types.ExecutionRecord{}, s.execErr
	}
	return types.ExecutionRecord{ID: "rec-" + pairID, TotalProfit: decimal.NewFromInt(1)}, nil
}

func pairs(ids ...string) []types.Pair {
	out := make([]types.Pair, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Pair{ID: id, ChainA: 1, ChainB: 56, TradingUnit: decimal.NewFromInt(1)})
	}
	return out
}

func settings(auto bool) store.SettingsSource {
	return store.NewStaticSettings(types.Settings{AutoExecute: auto})
}

type failingSettings struct{}

func (failingSettings) Settings(context.Context) (types.Settings, error) {
	return types.Settings{}, errors.New("redis down")
}

func TestRunOnceWithoutAutoExecute(t *testing.T) {
	sc := &stubScanner{
		pairs:      pairs("BTC-USDC", "ETH-USDC", "BNB-USDC"),
		profitable: map[string]bool{"BTC-USDC": true},
		scanErr:    map[string]error{"BNB-USDC": types.ErrRPCUnavailable},
	}
	s := New(DefaultConfig(), sc, settings(false), zaptest.NewLogger(t))

	report := s.RunOnce(context.Background())
	assert.Equal(t, Report{Scanned: 2, Profitable: 1, Errors: 1}, report)
	assert.Empty(t, sc.executed)
}

func TestRunOnceAutoExecutes(t *testing.T) {
	sc := &stubScanner{
		pairs:      pairs("BTC-USDC", "ETH-USDC"),
		profitable: map[string]bool{"BTC-USDC": true},
	}
	s := New(DefaultConfig(), sc, settings(true), zaptest.NewLogger(t))

	report := s.RunOnce(context.Background())
	assert.Equal(t, Report{Scanned: 2, Profitable: 1, Executed: 1}, report)
	assert.Equal(t, []string{"BTC-USDC:auto"}, sc.executed)
}

func TestRunOnceRejectionIsNotAnError(t *testing.T) {
	sc := &stubScanner{
		pairs:      pairs("BTC-USDC"),
		profitable: map[string]bool{"BTC-USDC": true},
		execErr:    types.ErrExecutionInProgress,
	}
	s := New(DefaultConfig(), sc, settings(true), zaptest.NewLogger(t))

	report := s.RunOnce(context.Background())
	assert.Equal(t, Report{Scanned: 1, Profitable: 1}, report)

	sc.execErr = errors.New("leg setup failed")
	report = s.RunOnce(context.Background())
	assert.Equal(t, Report{Scanned: 1, Profitable: 1, Errors: 1}, report)
}

func TestRunOnceSettingsFailureDisablesAuto(t *testing.T) {
	sc := &stubScanner{
		pairs:      pairs("BTC-USDC"),
		profitable: map[string]bool{"BTC-USDC": true},
	}
	s := New(DefaultConfig(), sc, failingSettings{}, zaptest.NewLogger(t))

	report := s.RunOnce(context.Background())
	assert.Equal(t, Report{Scanned: 1, Profitable: 1}, report)
	assert.Empty(t, sc.executed)
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	sc := &stubScanner{
		pairs: pairs("A", "B", "C", "D", "E", "F"),
		delay: 20 * time.Millisecond,
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	s := New(cfg, sc, settings(false), zaptest.NewLogger(t))

	report := s.RunOnce(context.Background())
	assert.Equal(t, 6, report.Scanned)
	assert.LessOrEqual(t, sc.peak.Load(), int64(2))
}

func TestRunOnceScanTimeout(t *testing.T) {
	sc := &stubScanner{
		pairs: pairs("BTC-USDC"),
		delay: time.Second,
	}
	cfg := DefaultConfig()
	cfg.ScanTimeout = 10 * time.Millisecond
	s := New(cfg, sc, settings(false), zaptest.NewLogger(t))

	start := time.Now()
	report := s.RunOnce(context.Background())
	assert.Equal(t, 1, report.Errors)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	sc := &stubScanner{pairs: pairs("BTC-USDC")}
	cfg := DefaultConfig()
	cfg.Interval = time.Second
	s := New(cfg, sc, settings(false), zaptest.NewLogger(t))

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return sc.scans.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	after := sc.scans.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, sc.scans.Load())

	// stopping twice is a no-op
	s.Stop()
}

func TestStartRejectsSubSecondInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 100 * time.Millisecond
	s := New(cfg, &stubScanner{}, settings(false), zaptest.NewLogger(t))
	assert.Error(t, s.Start())
	assert.False(t, s.Running())
}
