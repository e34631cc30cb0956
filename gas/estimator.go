package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/types"
)

const nativeDecimals = 18

// GasPricer is the subset of an RPC client that suggests a gas price
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Quoter prices the native token in the pair's quote token
type Quoter interface {
	GetQuote(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) (types.Quote, error)
}

type cachedEstimate struct {
	cost    decimal.Decimal
	expires time.Time
}

// Estimator prices one swap's gas in quote-token terms for chains the settings
// carry no estimate for
type Estimator struct {
	clients  map[uint64]GasPricer
	registry *chain.Registry
	quotes   Quoter
	gasUnits uint64
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedEstimate
}

// NewEstimator creates an estimator. gasUnits of 0 uses EstimateArbitrageGas(1).
func NewEstimator(clients map[uint64]GasPricer, registry *chain.Registry, quotes Quoter, gasUnits uint64, ttl time.Duration, logger *zap.Logger) *Estimator {
	if gasUnits == 0 {
		gasUnits = EstimateArbitrageGas(1)
	}
	return &Estimator{
		clients:  clients,
		registry: registry,
		quotes:   quotes,
		gasUnits: gasUnits,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "gas")),
		now:      time.Now,
		cache:    make(map[string]cachedEstimate),
	}
}

// EstimateSwapCost returns the cost of one swap on chainID denominated in quoteSymbol
func (e *Estimator) EstimateSwapCost(ctx context.Context, chainID uint64, quoteSymbol string) (decimal.Decimal, error) {
	key := fmt.Sprintf("%d|%s", chainID, quoteSymbol)
	e.mu.RLock()
	entry, ok := e.cache[key]
	e.mu.RUnlock()
	if ok && e.now().Before(entry.expires) {
		return entry.cost, nil
	}

	cfg, err := e.registry.Chain(chainID)
	if err != nil {
		return decimal.Zero, err
	}
	client, ok := e.clients[chainID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no gas client for chain %d", types.ErrUnsupportedChain, chainID)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to get gas price: %w", types.ErrRPCUnavailable, err)
	}

	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(e.gasUnits))
	native := decimal.NewFromBigInt(wei, -nativeDecimals)

	nativePrice := decimal.NewFromInt(1)
	if cfg.NativeTokenSymbol != quoteSymbol {
		q, err := e.quotes.GetQuote(ctx, chainID, cfg.NativeTokenSymbol, quoteSymbol, decimal.NewFromInt(1))
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to price %s in %s: %w", cfg.NativeTokenSymbol, quoteSymbol, err)
		}
		nativePrice = q.UnitPrice
	}

	cost := native.Mul(nativePrice).Truncate(8)

	e.mu.Lock()
	e.cache[key] = cachedEstimate{cost: cost, expires: e.now().Add(e.ttl)}
	e.mu.Unlock()

	e.logger.Debug("Estimated swap gas cost",
		zap.Uint64("chain_id", chainID),
		zap.String("gas_price", gasPrice.String()),
		zap.String("cost", cost.String()),
		zap.String("quote", quoteSymbol))

	return cost, nil
}

// Fill returns settings with gas estimates added for pair's chains that lack one.
// Estimation failures leave the chain unset, which counts as zero.
func (e *Estimator) Fill(ctx context.Context, settings types.Settings, pair types.Pair) types.Settings {
	out := settings
	out.GasEstimates = make(map[uint64]decimal.Decimal, len(settings.GasEstimates)+2)
	for k, v := range settings.GasEstimates {
		out.GasEstimates[k] = v
	}

	for _, chainID := range []uint64{pair.ChainA, pair.ChainB} {
		if _, ok := out.GasEstimates[chainID]; ok {
			continue
		}
		cost, err := e.EstimateSwapCost(ctx, chainID, pair.Quote)
		if err != nil {
			e.logger.Warn("Failed to estimate gas", zap.Uint64("chain_id", chainID), zap.Error(err))
			continue
		}
		out.GasEstimates[chainID] = cost
	}
	return out
}

// EstimateArbitrageGas estimates gas for numHops router swaps
func EstimateArbitrageGas(numHops int) uint64 {
	// Base cost for transaction
	baseCost := uint64(21000)

	// Cost per router hop: storage reads, two token transfers and the pool swap
	costPerHop := uint64(152000)

	return baseCost + (costPerHop * uint64(numHops))
}
