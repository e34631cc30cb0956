package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

// Ledger applies the wallet deltas of terminal legs and produces the audit record
type Ledger struct {
	registry *chain.Registry
	wallets  store.WalletStore
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a ledger persisting wallets to wallets
func New(registry *chain.Registry, wallets store.WalletStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		registry: registry,
		wallets:  wallets,
		logger:   logger.With(zap.String("component", "ledger")),
		now:      time.Now,
	}
}

// Commit books resultA (chain A) and resultB (chain B) of one execution. A record is
// always returned, even when persisting a wallet fails.
func (l *Ledger) Commit(ctx context.Context, pair types.Pair, opp types.ArbitrageOpportunity, resultA, resultB types.SwapResult, execType types.ExecutionType) (types.WalletState, types.WalletState, types.ExecutionRecord, error) {
	now := l.now()
	unit := opp.TradingUnit
	if unit.IsZero() {
		unit = pair.TradingUnit
	}

	buyChain, sellChain := opp.ChainA, opp.ChainB
	buyRes, sellRes := resultA, resultB
	if !opp.BuyOnA() {
		buyChain, sellChain = opp.ChainB, opp.ChainA
		buyRes, sellRes = resultB, resultA
	}

	realizedBuy := l.realizedBuyPrice(opp, pair, buyChain, buyRes, unit)
	realizedSell := l.realizedSellPrice(opp, pair, sellChain, sellRes, unit)

	record := types.ExecutionRecord{
		ID:                uuid.NewString(),
		Opportunity:       opp,
		ResultA:           resultA,
		ResultB:           resultB,
		RealizedBuyPrice:  realizedBuy,
		RealizedSellPrice: realizedSell,
		TotalProfit:       decimal.Zero,
		ExecutionType:     execType,
		Timestamp:         now,
	}
	if buyRes.OK() && sellRes.OK() {
		record.TotalProfit = realizedSell.Sub(realizedBuy).Mul(unit).Sub(opp.FeeEstimate)
	}

	// a wallet that failed to load is never written back over its stored balances
	var errs []error
	buyWallet, buyErr := l.load(ctx, buyChain, pair.ID)
	if buyErr != nil {
		errs = append(errs, buyErr)
	}
	sellWallet, sellErr := l.load(ctx, sellChain, pair.ID)
	if sellErr != nil {
		errs = append(errs, sellErr)
	}

	if buyRes.OK() && buyErr == nil {
		buyWallet.BaseBalance = buyWallet.BaseBalance.Add(unit)
		// debit the leg's amountIn; realizedBuy only feeds the record
		buyWallet.QuoteBalance = buyWallet.QuoteBalance.Sub(opp.BuyPrice().Mul(unit))
		buyWallet.LastUpdated = now
		if err := l.wallets.Put(ctx, buyWallet); err != nil {
			errs = append(errs, fmt.Errorf("failed to save wallet %s: %w", buyWallet.ID, err))
		}
	}
	if sellRes.OK() && sellErr == nil {
		sellWallet.BaseBalance = sellWallet.BaseBalance.Sub(unit)
		sellWallet.QuoteBalance = sellWallet.QuoteBalance.Add(realizedSell.Mul(unit))
		sellWallet.LastUpdated = now
		if err := l.wallets.Put(ctx, sellWallet); err != nil {
			errs = append(errs, fmt.Errorf("failed to save wallet %s: %w", sellWallet.ID, err))
		}
	}

	l.logger.Info("Execution committed",
		zap.String("execution_id", record.ID),
		zap.String("pair", pair.ID),
		zap.String("type", string(execType)),
		zap.Bool("buy_ok", buyRes.OK()),
		zap.Bool("sell_ok", sellRes.OK()),
		zap.String("total_profit", record.TotalProfit.String()))

	walletA, walletB := buyWallet, sellWallet
	if !opp.BuyOnA() {
		walletA, walletB = sellWallet, buyWallet
	}
	return walletA, walletB, record, errors.Join(errs...)
}

// realizedBuyPrice is quote spent per base received
func (l *Ledger) realizedBuyPrice(opp types.ArbitrageOpportunity, pair types.Pair, chainID uint64, res types.SwapResult, unit decimal.Decimal) decimal.Decimal {
	price := opp.BuyPrice()
	if !res.OK() || res.AmountOut == nil || res.AmountOut.Sign() <= 0 {
		return price
	}
	_, dec, err := l.registry.Token(chainID, pair.Base)
	if err != nil {
		return price
	}
	received := quote.FromRaw(res.AmountOut, dec)
	return price.Mul(unit).Div(received).Truncate(quote.PriceScale)
}

// realizedSellPrice is quote received per base sold
func (l *Ledger) realizedSellPrice(opp types.ArbitrageOpportunity, pair types.Pair, chainID uint64, res types.SwapResult, unit decimal.Decimal) decimal.Decimal {
	price := opp.SellPrice()
	if !res.OK() || res.AmountOut == nil || res.AmountOut.Sign() <= 0 || unit.IsZero() {
		return price
	}
	_, dec, err := l.registry.Token(chainID, pair.Quote)
	if err != nil {
		return price
	}
	received := quote.FromRaw(res.AmountOut, dec)
	return received.Div(unit).Truncate(quote.PriceScale)
}

func (l *Ledger) load(ctx context.Context, chainID uint64, pairID string) (types.WalletState, error) {
	id := types.WalletID(chainID, pairID)
	wallet, err := l.wallets.Get(ctx, id)
	if err == nil {
		return wallet, nil
	}

	venue := strconv.FormatUint(chainID, 10)
	if cfg, cerr := l.registry.Chain(chainID); cerr == nil {
		venue = cfg.Name
	}
	fresh := types.WalletState{
		ID:           id,
		Chain:        chainID,
		Venue:        venue,
		TokenPair:    pairID,
		BaseBalance:  decimal.Zero,
		QuoteBalance: decimal.Zero,
	}
	if errors.Is(err, store.ErrNotFound) {
		return fresh, nil
	}
	return fresh, fmt.Errorf("failed to load wallet %s: %w", id, err)
}

// Wallets lists every wallet the ledger has booked
func (l *Ledger) Wallets(ctx context.Context) ([]types.WalletState, error) {
	wallets, err := l.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}
