package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/executor"
	"github.com/michaelpento.lv/dualarb/ledger"
	"github.com/michaelpento.lv/dualarb/notify"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/threshold"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

// Config bounds how long a leg may run
type Config struct {
	// SubmissionWindow is the router deadline given to each swap
	SubmissionWindow time.Duration
	// ConfirmationCeiling is added on top of the submission window for the leg context
	ConfirmationCeiling time.Duration
}

// DefaultConfig returns a 20 minute router deadline and 2 more minutes to confirm
func DefaultConfig() Config {
	return Config{
		SubmissionWindow:    executor.SwapDeadline,
		ConfirmationCeiling: 2 * time.Minute,
	}
}

// GasFiller completes missing per-chain gas estimates. The detector is given the
// same filler so scan and execute judge profitability against the same minimum.
type GasFiller interface {
	Fill(ctx context.Context, settings types.Settings, pair types.Pair) types.Settings
}

// Orchestrator runs both legs of an opportunity and books the outcome
type Orchestrator struct {
	cfg       Config
	registry  *chain.Registry
	pairs     map[string]types.Pair
	strategy  executor.Strategy
	signers   map[uint64]types.Signer
	settings  store.SettingsSource
	gas       GasFiller
	ledger    *ledger.Ledger
	audit     store.AuditSink
	publisher notify.Publisher
	metrics   *metrics.ExecutionMetrics
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Registry  *chain.Registry
	Pairs     []types.Pair
	Strategy  executor.Strategy
	Signers   map[uint64]types.Signer
	Settings  store.SettingsSource
	Gas       GasFiller
	Ledger    *ledger.Ledger
	Audit     store.AuditSink
	Publisher notify.Publisher
	Metrics   *metrics.ExecutionMetrics
}

// New creates an orchestrator
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	pairs := make(map[string]types.Pair, len(deps.Pairs))
	for _, p := range deps.Pairs {
		pairs[p.ID] = p
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.Noop{}
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  deps.Registry,
		pairs:     pairs,
		strategy:  deps.Strategy,
		signers:   deps.Signers,
		settings:  deps.Settings,
		gas:       deps.Gas,
		ledger:    deps.Ledger,
		audit:     deps.Audit,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("component", "orchestrator")),
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
}

// Execute buys on the cheaper chain and sells on the dearer one. Both legs run
// to completion regardless of ctx; ctx only bounds the pre-flight checks.
func (o *Orchestrator) Execute(ctx context.Context, opp types.ArbitrageOpportunity, execType types.ExecutionType) (types.ExecutionRecord, error) {
	pair, ok := o.pairs[opp.PairID]
	if !ok {
		return types.ExecutionRecord{}, fmt.Errorf("%w: %s", types.ErrUnknownPair, opp.PairID)
	}

	settings, err := o.settings.Settings(ctx)
	if err != nil {
		return types.ExecutionRecord{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if o.gas != nil {
		settings = o.gas.Fill(ctx, settings, pair)
	}

	// never accept less than the scan that produced opp demanded
	required := decimal.Max(threshold.MinProfitRequired(settings, opp.ChainA, opp.ChainB), opp.MinProfitRequired)
	if opp.EstimatedProfit.LessThan(required) {
		o.reject("below_threshold")
		return types.ExecutionRecord{}, fmt.Errorf("%w: estimated %s < required %s", types.ErrBelowThreshold, opp.EstimatedProfit, required)
	}

	bps := settings.SlippageBps()
	if !executor.ValidSlippage(bps) {
		o.reject("invalid_slippage")
		return types.ExecutionRecord{}, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, bps)
	}

	reqA, reqB, err := o.buildLegs(pair, opp, bps)
	if err != nil {
		o.reject("config")
		return types.ExecutionRecord{}, err
	}

	if !o.acquire(pair.ID) {
		o.reject("in_progress")
		return types.ExecutionRecord{}, fmt.Errorf("%w: %s", types.ErrExecutionInProgress, pair.ID)
	}
	defer o.release(pair.ID)

	log := o.logger.With(zap.String("pair", pair.ID), zap.String("type", string(execType)))
	log.Info("Executing opportunity",
		zap.String("price_a", opp.PriceA.String()),
		zap.String("price_b", opp.PriceB.String()),
		zap.String("estimated_profit", opp.EstimatedProfit.String()),
		zap.Bool("buy_on_a", opp.BuyOnA()))

	if o.metrics != nil {
		o.metrics.Attempts.Inc()
	}

	detached := context.WithoutCancel(ctx)
	resultA, resultB := o.runLegs(detached, reqA, reqB)

	_, _, record, err := o.ledger.Commit(detached, pair, opp, resultA, resultB, execType)
	if err != nil {
		log.Error("Failed to persist wallets", zap.Error(err), zap.String("execution_id", record.ID))
	}

	if o.audit != nil {
		if err := o.audit.Append(detached, record); err != nil {
			log.Error("Failed to append audit record", zap.Error(err), zap.String("execution_id", record.ID))
		}
	}
	if err := o.publisher.Publish(detached, notify.EventExecution, record); err != nil {
		log.Warn("Failed to publish execution", zap.Error(err), zap.String("execution_id", record.ID))
	}

	o.observe(record, execType)
	for _, legErr := range record.FailedLegs() {
		log.Warn("Leg failed", zap.Error(legErr))
	}

	return record, nil
}

func (o *Orchestrator) buildLegs(pair types.Pair, opp types.ArbitrageOpportunity, bps int64) (types.SwapRequest, types.SwapRequest, error) {
	unit := opp.TradingUnit
	if unit.IsZero() {
		unit = pair.TradingUnit
	}
	deadline := o.now().Add(o.cfg.SubmissionWindow).Unix()

	buyChain, sellChain := opp.ChainA, opp.ChainB
	if !opp.BuyOnA() {
		buyChain, sellChain = opp.ChainB, opp.ChainA
	}

	buy, err := o.request(buyChain, pair.Quote, pair.Base, opp.BuyPrice().Mul(unit), unit, bps, deadline)
	if err != nil {
		return types.SwapRequest{}, types.SwapRequest{}, err
	}
	sell, err := o.request(sellChain, pair.Base, pair.Quote, unit, opp.SellPrice().Mul(unit), bps, deadline)
	if err != nil {
		return types.SwapRequest{}, types.SwapRequest{}, err
	}

	if opp.BuyOnA() {
		return buy, sell, nil
	}
	return sell, buy, nil
}

func (o *Orchestrator) request(chainID uint64, tokenIn, tokenOut string, amountIn, expectedOut decimal.Decimal, bps, deadline int64) (types.SwapRequest, error) {
	cfg, err := o.registry.Chain(chainID)
	if err != nil {
		return types.SwapRequest{}, err
	}
	inAddr, inDec, err := o.registry.Token(chainID, tokenIn)
	if err != nil {
		return types.SwapRequest{}, err
	}
	outAddr, outDec, err := o.registry.Token(chainID, tokenOut)
	if err != nil {
		return types.SwapRequest{}, err
	}

	in := quote.ToRaw(amountIn, inDec)
	expected := quote.ToRaw(expectedOut, outDec)
	if in.Sign() <= 0 {
		return types.SwapRequest{}, fmt.Errorf("amount in for %s on chain %d is not positive", tokenIn, chainID)
	}

	return types.SwapRequest{
		ChainID:             chainID,
		RouterAddress:       cfg.RouterAddress,
		TokenIn:             inAddr,
		TokenOut:            outAddr,
		TokenInSymbol:       tokenIn,
		TokenOutSymbol:      tokenOut,
		AmountIn:            in,
		ExpectedAmountOut:   expected,
		SlippageBps:         bps,
		DeadlineUnixSeconds: deadline,
		Credential:          o.signers[chainID],
	}, nil
}

// runLegs starts both legs on their own deadline and waits for both
func (o *Orchestrator) runLegs(ctx context.Context, reqA, reqB types.SwapRequest) (types.SwapResult, types.SwapResult) {
	var (
		wg      sync.WaitGroup
		resultA types.SwapResult
		resultB types.SwapResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resultA = o.runLeg(ctx, reqA)
	}()
	go func() {
		defer wg.Done()
		resultB = o.runLeg(ctx, reqB)
	}()
	wg.Wait()
	return resultA, resultB
}

func (o *Orchestrator) runLeg(ctx context.Context, req types.SwapRequest) (result types.SwapResult) {
	legCtx, cancel := context.WithTimeout(ctx, o.cfg.SubmissionWindow+o.cfg.ConfirmationCeiling)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result = types.Failed(types.ErrorUnknown, fmt.Errorf("panic during leg: %v", p))
		}
		if o.metrics != nil {
			chainLabel := strconv.FormatUint(req.ChainID, 10)
			o.metrics.LegDuration.WithLabelValues(chainLabel).Observe(time.Since(start).Seconds())
			o.metrics.LegResults.WithLabelValues(chainLabel, string(result.Status), string(result.ErrorKind)).Inc()
		}
	}()

	return o.strategy.ExecuteSwap(legCtx, req)
}

func (o *Orchestrator) acquire(pairID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[pairID]; busy {
		return false
	}
	o.inFlight[pairID] = struct{}{}
	return true
}

func (o *Orchestrator) release(pairID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, pairID)
}

func (o *Orchestrator) reject(reason string) {
	if o.metrics != nil {
		o.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}

func (o *Orchestrator) observe(record types.ExecutionRecord, execType types.ExecutionType) {
	if o.metrics == nil {
		return
	}
	outcome := "none"
	switch {
	case record.ResultA.OK() && record.ResultB.OK():
		outcome = "both"
		o.metrics.Successes.Inc()
		o.metrics.Profit.Add(record.TotalProfit.InexactFloat64())
	case record.ResultA.OK() || record.ResultB.OK():
		outcome = "partial"
	}
	o.metrics.Executions.WithLabelValues(string(execType), outcome).Inc()
}

// IsRejection reports whether err means the execution never reached a chain
func IsRejection(err error) bool {
	return errors.Is(err, types.ErrBelowThreshold) ||
		errors.Is(err, types.ErrInvalidSlippage) ||
		errors.Is(err, types.ErrExecutionInProgress) ||
		errors.Is(err, types.ErrUnknownPair)
}
