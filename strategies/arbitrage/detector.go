package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/dualarb/notify"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/threshold"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

// Quoter fetches router quotes
type Quoter interface {
	GetQuote(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) (types.Quote, error)
	GetFreshQuote(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) (types.Quote, error)
}

// GasFiller completes missing per-chain gas estimates
type GasFiller interface {
	Fill(ctx context.Context, settings types.Settings, pair types.Pair) types.Settings
}

// Executor runs a profitable opportunity on both chains
type Executor interface {
	Execute(ctx context.Context, opp types.ArbitrageOpportunity, execType types.ExecutionType) (types.ExecutionRecord, error)
}

// Deps are the collaborators of a Detector
type Deps struct {
	Pairs     []types.Pair
	Quotes    Quoter
	Settings  store.SettingsSource
	Gas       GasFiller
	Executor  Executor
	Publisher notify.Publisher
	Metrics   *metrics.ScanMetrics
}

// Detector evaluates configured pairs and hands profitable ones to the executor
type Detector struct {
	pairs     map[string]types.Pair
	order     []types.Pair
	quotes    Quoter
	settings  store.SettingsSource
	gas       GasFiller
	executor  Executor
	publisher notify.Publisher
	metrics   *metrics.ScanMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector creates a detector over deps.Pairs
func NewDetector(deps Deps, logger *zap.Logger) *Detector {
	pairs := make(map[string]types.Pair, len(deps.Pairs))
	for _, p := range deps.Pairs {
		pairs[p.ID] = p
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.Noop{}
	}
	return &Detector{
		pairs:     pairs,
		order:     append([]types.Pair(nil), deps.Pairs...),
		quotes:    deps.Quotes,
		settings:  deps.Settings,
		gas:       deps.Gas,
		executor:  deps.Executor,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("component", "detector")),
		now:       time.Now,
	}
}

// Pairs returns the configured pairs in config order
func (d *Detector) Pairs() []types.Pair {
	return append([]types.Pair(nil), d.order...)
}

// Scan quotes both venues of a pair and evaluates the spread. Quotes may come from cache.
func (d *Detector) Scan(ctx context.Context, pairID string) (types.ArbitrageOpportunity, error) {
	return d.scan(ctx, pairID, false)
}

// ExecuteArbitrage re-scans pairID with fresh quotes and executes it
func (d *Detector) ExecuteArbitrage(ctx context.Context, pairID string, execType types.ExecutionType) (types.ExecutionRecord, error) {
	opp, err := d.scan(ctx, pairID, true)
	if err != nil {
		return types.ExecutionRecord{}, err
	}
	return d.executor.Execute(ctx, opp, execType)
}

func (d *Detector) scan(ctx context.Context, pairID string, fresh bool) (types.ArbitrageOpportunity, error) {
	pair, ok := d.pairs[pairID]
	if !ok {
		return types.ArbitrageOpportunity{}, fmt.Errorf("%w: %s", types.ErrUnknownPair, pairID)
	}
	if d.metrics != nil {
		d.metrics.Scans.WithLabelValues(pair.ID).Inc()
	}

	get := d.quotes.GetQuote
	if fresh {
		get = d.quotes.GetFreshQuote
	}

	var quoteA, quoteB types.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := get(gctx, pair.ChainA, pair.Base, pair.Quote, pair.TradingUnit)
		if err != nil {
			return fmt.Errorf("failed to quote %s on chain %d: %w", pair.ID, pair.ChainA, err)
		}
		quoteA = q
		return nil
	})
	g.Go(func() error {
		q, err := get(gctx, pair.ChainB, pair.Base, pair.Quote, pair.TradingUnit)
		if err != nil {
			return fmt.Errorf("failed to quote %s on chain %d: %w", pair.ID, pair.ChainB, err)
		}
		quoteB = q
		return nil
	})
	if err := g.Wait(); err != nil {
		d.scanFailed(pair.ID)
		return types.ArbitrageOpportunity{}, err
	}

	settings, err := d.settings.Settings(ctx)
	if err != nil {
		d.scanFailed(pair.ID)
		return types.ArbitrageOpportunity{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if d.gas != nil {
		settings = d.gas.Fill(ctx, settings, pair)
	}

	opp := Evaluate(pair, quoteA.UnitPrice, quoteB.UnitPrice, settings, d.now())

	if d.metrics != nil {
		d.metrics.Spread.WithLabelValues(pair.ID).Set(opp.Spread.InexactFloat64())
		d.metrics.EstimatedProfit.WithLabelValues(pair.ID).Set(opp.EstimatedProfit.InexactFloat64())
	}

	if opp.Profitable {
		if d.metrics != nil {
			d.metrics.Opportunities.WithLabelValues(pair.ID).Inc()
		}
		d.logger.Info("Profitable opportunity",
			zap.String("pair", pair.ID),
			zap.String("price_a", opp.PriceA.String()),
			zap.String("price_b", opp.PriceB.String()),
			zap.String("estimated_profit", opp.EstimatedProfit.String()),
			zap.String("min_profit_required", opp.MinProfitRequired.String()))
		if err := d.publisher.Publish(ctx, notify.EventOpportunity, opp); err != nil {
			d.logger.Warn("Failed to publish opportunity", zap.Error(err))
		}
	} else {
		d.logger.Debug("Scanned pair",
			zap.String("pair", pair.ID),
			zap.String("spread", opp.Spread.String()),
			zap.String("estimated_profit", opp.EstimatedProfit.String()))
	}

	return opp, nil
}

func (d *Detector) scanFailed(pairID string) {
	if d.metrics != nil {
		d.metrics.Errors.WithLabelValues(pairID).Inc()
	}
}

// Evaluate computes the opportunity for one pair at one instant.
//
//	spread = priceB - priceA
//	fee    = buyPrice * unit * tradingFeeRate
//	profit = max(0, |spread| * unit - fee)
//
// Gas is not deducted from profit; it is part of the required minimum.
func Evaluate(pair types.Pair, priceA, priceB decimal.Decimal, settings types.Settings, now time.Time) types.ArbitrageOpportunity {
	unit := pair.TradingUnit
	spread := priceB.Sub(priceA)
	buyPrice := decimal.Min(priceA, priceB)

	fee := buyPrice.Mul(unit).Mul(settings.TradingFeeRate)
	profit := spread.Abs().Mul(unit).Sub(fee)
	if profit.IsNegative() {
		profit = decimal.Zero
	}
	profit = profit.Truncate(quote.PriceScale)

	required := threshold.MinProfitRequired(settings, pair.ChainA, pair.ChainB)

	return types.ArbitrageOpportunity{
		PairID:            pair.ID,
		ChainA:            pair.ChainA,
		ChainB:            pair.ChainB,
		PriceA:            priceA,
		PriceB:            priceB,
		Spread:            spread,
		TradingUnit:       unit,
		FeeEstimate:       fee,
		EstimatedProfit:   profit,
		MinProfitRequired: required,
		ThresholdMode:     settings.ThresholdMode,
		Profitable:        profit.GreaterThanOrEqual(required),
		Timestamp:         now,
	}
}
