package simulator

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/executor"
	"github.com/michaelpento.lv/dualarb/types"
)

const (
	minGasUsed = 120000
	maxGasUsed = 180000

	// output deviation is drawn from ±outputJitterPpm parts per million
	outputJitterPpm = 5000
	ppm             = 1000000
)

// Config tunes the simulated venue
type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

// DefaultConfig returns 1-3s latency and a 5% failure rate
func DefaultConfig() Config {
	return Config{
		MinLatency:  time.Second,
		MaxLatency:  3 * time.Second,
		FailureRate: 0.05,
	}
}

// Simulator produces swap results with the same shape as the live strategy
// without touching any chain
type Simulator struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

var _ executor.Strategy = (*Simulator)(nil)

// NewSimulator creates a simulator seeded from the clock
func NewSimulator(cfg Config, logger *zap.Logger) *Simulator {
	return NewSimulatorWithSource(cfg, rand.NewSource(time.Now().UnixNano()), logger)
}

// NewSimulatorWithSource creates a simulator with a caller-provided random source
func NewSimulatorWithSource(cfg Config, src rand.Source, logger *zap.Logger) *Simulator {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "simulator")),
		rng:    rand.New(src),
	}
}

type draw struct {
	latency   time.Duration
	fail      bool
	kind      types.ErrorKind
	hash      common.Hash
	gasUsed   uint64
	jitterPpm int64
}

// draws everything up front so the random source is only held briefly
func (s *Simulator) draw() draw {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := draw{latency: s.cfg.MinLatency}
	if span := s.cfg.MaxLatency - s.cfg.MinLatency; span > 0 {
		d.latency += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	if s.rng.Float64() < s.cfg.FailureRate {
		d.fail = true
		d.kind = types.ExecutionErrorKinds[s.rng.Intn(len(types.ExecutionErrorKinds))]
		return d
	}
	s.rng.Read(d.hash[:])
	d.gasUsed = uint64(minGasUsed + s.rng.Int63n(maxGasUsed-minGasUsed+1))
	d.jitterPpm = s.rng.Int63n(2*outputJitterPpm+1) - outputJitterPpm
	return d
}

// ExecuteSwap sleeps for a random latency and returns a random outcome
func (s *Simulator) ExecuteSwap(ctx context.Context, req types.SwapRequest) types.SwapResult {
	if !executor.ValidSlippage(req.SlippageBps) {
		return types.Failed(types.ErrorInvalidSlippage, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, req.SlippageBps))
	}

	d := s.draw()

	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return types.Failed(types.ErrorDeadlineExceeded, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return types.Failed(types.ErrorDeadlineExceeded, err)
	}

	if d.fail {
		s.logger.Debug("Simulated leg failed",
			zap.Uint64("chain_id", req.ChainID),
			zap.String("kind", string(d.kind)))
		return types.Failed(d.kind, fmt.Errorf("simulated %s", d.kind))
	}

	base := req.ExpectedAmountOut
	if base == nil {
		base = req.AmountIn
	}
	var amountOut *big.Int
	if base != nil {
		amountOut = new(big.Int).Mul(base, big.NewInt(ppm+d.jitterPpm))
		amountOut.Quo(amountOut, big.NewInt(ppm))
	}

	s.logger.Debug("Simulated leg succeeded",
		zap.Uint64("chain_id", req.ChainID),
		zap.String("tx_hash", d.hash.Hex()),
		zap.Uint64("gas_used", d.gasUsed))

	return types.Succeeded(d.hash.Hex(), d.gasUsed, amountOut)
}
