package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/dex"
	"github.com/michaelpento.lv/dualarb/dex/uniswap"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

// PriceScale is the number of decimal places kept on a unit price
const PriceScale = 8

// Options tunes caching and rate limiting
type Options struct {
	// CacheSize is the number of quotes kept; CacheTTL of 0 disables the cache
	CacheSize int
	CacheTTL  time.Duration
	// RateLimit is the per-chain request rate in requests per second; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// DefaultOptions returns a short-lived cache and a conservative RPC budget
func DefaultOptions() Options {
	return Options{
		CacheSize: 256,
		CacheTTL:  2 * time.Second,
		RateLimit: 10,
		RateBurst: 20,
	}
}

type cachedQuote struct {
	quote   types.Quote
	expires time.Time
}

// Provider quotes token pairs against each chain's router
type Provider struct {
	registry *chain.Registry
	routers  map[uint64]dex.Router
	limiters map[uint64]*rate.Limiter
	cache    *lru.Cache
	ttl      time.Duration
	metrics  *metrics.QuoteMetrics
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]decimal.Decimal
}

// NewProvider creates a quote provider over one router per chain
func NewProvider(registry *chain.Registry, routers map[uint64]dex.Router, opts Options, m *metrics.QuoteMetrics, logger *zap.Logger) (*Provider, error) {
	p := &Provider{
		registry: registry,
		routers:  routers,
		limiters: make(map[uint64]*rate.Limiter),
		ttl:      opts.CacheTTL,
		metrics:  m,
		logger:   logger.With(zap.String("component", "quote")),
		now:      time.Now,
		last:     make(map[string]decimal.Decimal),
	}

	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 256
		}
		cache, err := lru.New(size)
		if err != nil {
			return nil, fmt.Errorf("failed to create quote cache: %w", err)
		}
		p.cache = cache
	}

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		for id := range routers {
			p.limiters[id] = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		}
	}

	return p, nil
}

// GetQuote returns a quote for amountIn of tokenIn, served from cache when fresh enough
func (p *Provider) GetQuote(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) (types.Quote, error) {
	key := cacheKey(chainID, tokenIn, tokenOut, amountIn)
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			entry := v.(cachedQuote)
			if p.now().Before(entry.expires) {
				if p.metrics != nil {
					p.metrics.CacheHits.Inc()
				}
				return entry.quote, nil
			}
			p.cache.Remove(key)
		}
	}
	return p.fetch(ctx, chainID, tokenIn, tokenOut, amountIn, key)
}

// GetFreshQuote always asks the router. Used on the execute path.
func (p *Provider) GetFreshQuote(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) (types.Quote, error) {
	return p.fetch(ctx, chainID, tokenIn, tokenOut, amountIn, cacheKey(chainID, tokenIn, tokenOut, amountIn))
}

// GetFreshAmountOut asks the router for the raw output of amountIn along [tokenIn, tokenOut].
// It never uses the cache and types errors like GetQuote does.
func (p *Provider) GetFreshAmountOut(ctx context.Context, chainID uint64, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	return p.amountOut(ctx, chainID, tokenIn, tokenOut, amountIn, tokenIn.Hex()+"/"+tokenOut.Hex())
}

func (p *Provider) fetch(ctx context.Context, chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal, key uint64) (types.Quote, error) {
	inAddr, inDecimals, err := p.registry.Token(chainID, tokenIn)
	if err != nil {
		return types.Quote{}, err
	}
	outAddr, outDecimals, err := p.registry.Token(chainID, tokenOut)
	if err != nil {
		return types.Quote{}, err
	}

	rawIn := ToRaw(amountIn, inDecimals)
	rawOut, err := p.amountOut(ctx, chainID, inAddr, outAddr, rawIn, tokenIn+"/"+tokenOut)
	if err != nil {
		return types.Quote{}, err
	}

	q := types.Quote{
		ChainID:   chainID,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  rawIn,
		AmountOut: rawOut,
		UnitPrice: UnitPrice(rawIn, rawOut, inDecimals, outDecimals),
		FetchedAt: p.now(),
	}
	q.Drift = p.recordDrift(chainID, tokenIn, tokenOut, q.UnitPrice)

	if p.cache != nil {
		p.cache.Add(key, cachedQuote{quote: q, expires: q.FetchedAt.Add(p.ttl)})
	}

	p.logger.Debug("Fetched quote",
		zap.Uint64("chain_id", chainID),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("unit_price", q.UnitPrice.String()),
		zap.String("drift", q.Drift.String()))

	return q, nil
}

// amountOut is the single router call behind every quote. Reverts and empty pools are
// ErrPairNotFound, undecodable answers ErrRouterResponse, anything else ErrRPCUnavailable.
func (p *Provider) amountOut(ctx context.Context, chainID uint64, tokenIn, tokenOut common.Address, rawIn *big.Int, label string) (*big.Int, error) {
	router, ok := p.routers[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no router for chain %d", types.ErrUnsupportedChain, chainID)
	}
	if rawIn == nil || rawIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in for %s on chain %d is not positive", types.ErrInvalidAmount, label, chainID)
	}

	if limiter, ok := p.limiters[chainID]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limit on chain %d: %w", chainID, err)
		}
	}

	chainLabel := strconv.FormatUint(chainID, 10)
	start := time.Now()
	amounts, err := router.GetAmountsOut(ctx, rawIn, []common.Address{tokenIn, tokenOut})
	if p.metrics != nil {
		p.metrics.Latency.WithLabelValues(chainLabel).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.observe(chainLabel, "error")
		switch {
		case uniswap.IsRevert(err):
			return nil, fmt.Errorf("%w: %s on chain %d: %v", types.ErrPairNotFound, label, chainID, err)
		case errors.Is(err, uniswap.ErrMalformedResponse):
			return nil, fmt.Errorf("%w: chain %d: %w", types.ErrRouterResponse, chainID, err)
		}
		return nil, fmt.Errorf("%w: chain %d: %w", types.ErrRPCUnavailable, chainID, err)
	}

	rawOut := amounts[len(amounts)-1]
	if rawOut.Sign() <= 0 {
		p.observe(chainLabel, "error")
		return nil, fmt.Errorf("%w: %s on chain %d has no liquidity", types.ErrPairNotFound, label, chainID)
	}
	p.observe(chainLabel, "ok")
	return rawOut, nil
}

func (p *Provider) observe(chainLabel, result string) {
	if p.metrics != nil {
		p.metrics.Requests.WithLabelValues(chainLabel, result).Inc()
	}
}

// recordDrift stores price as the latest for the venue and returns its change
func (p *Provider) recordDrift(chainID uint64, tokenIn, tokenOut string, price decimal.Decimal) decimal.Decimal {
	venue := fmt.Sprintf("%d|%s|%s", chainID, tokenIn, tokenOut)

	p.mu.Lock()
	prev, seen := p.last[venue]
	p.last[venue] = price
	p.mu.Unlock()

	drift := decimal.Zero
	if seen {
		drift = price.Sub(prev)
	}
	if p.metrics != nil {
		p.metrics.Drift.WithLabelValues(strconv.FormatUint(chainID, 10), tokenIn+"/"+tokenOut).Set(drift.InexactFloat64())
	}
	return drift
}

func cacheKey(chainID uint64, tokenIn, tokenOut string, amountIn decimal.Decimal) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%d|%s|%s|%s", chainID, tokenIn, tokenOut, amountIn.String()))
}

// UnitPrice returns amountOut per one whole tokenIn in human units, truncated to PriceScale places
func UnitPrice(amountIn, amountOut *big.Int, decimalsIn, decimalsOut uint8) decimal.Decimal {
	if amountIn == nil || amountIn.Sign() == 0 || amountOut == nil {
		return decimal.Zero
	}
	num := new(big.Int).Mul(amountOut, pow10(int64(decimalsIn)+PriceScale))
	den := new(big.Int).Mul(amountIn, pow10(int64(decimalsOut)))
	return decimal.NewFromBigInt(new(big.Int).Quo(num, den), -PriceScale)
}

// ToRaw converts a human amount to raw token units, dropping sub-unit precision
func ToRaw(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromRaw converts raw token units to a human amount
func FromRaw(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
