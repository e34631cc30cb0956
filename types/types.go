package types

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ThresholdMode selects how the minimum profit gate is computed
type ThresholdMode string

const (
	ThresholdFixed   ThresholdMode = "fixed"
	ThresholdPercent ThresholdMode = "percent"
)

// ExecutionType records who triggered an execution
type ExecutionType string

const (
	ExecutionManual ExecutionType = "manual"
	ExecutionAuto   ExecutionType = "auto"
)

// SwapStatus is the terminal state of a single leg
type SwapStatus string

const (
	SwapSuccess SwapStatus = "success"
	SwapFailed  SwapStatus = "failed"
)

// ChainConfig describes one venue's chain. It is immutable once loaded.
type ChainConfig struct {
	ChainID           uint64                    `json:"chain_id"`
	Name              string                    `json:"name"`
	RPCEndpoint       string                    `json:"rpc_endpoint"`
	RouterAddress     common.Address            `json:"router_address"`
	NativeTokenSymbol string                    `json:"native_token_symbol"`
	Tokens            map[string]common.Address `json:"tokens"`
	Decimals          map[string]uint8          `json:"decimals,omitempty"`
}

// TokenDecimals returns the configured decimals for a symbol, 18 when unset
func (c ChainConfig) TokenDecimals(symbol string) uint8 {
	if d, ok := c.Decimals[symbol]; ok {
		return d
	}
	return 18
}

// Pair is a tradeable base/quote pair quoted on two chains
type Pair struct {
	ID          string          `json:"id"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	ChainA      uint64          `json:"chain_a"`
	ChainB      uint64          `json:"chain_b"`
	TradingUnit decimal.Decimal `json:"trading_unit"`
}

// Quote is the router's answer for a single amountIn. Amounts are raw token units.
type Quote struct {
	ChainID   uint64          `json:"chain_id"`
	TokenIn   string          `json:"token_in"`
	TokenOut  string          `json:"token_out"`
	AmountIn  *big.Int        `json:"amount_in"`
	AmountOut *big.Int        `json:"amount_out"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Drift     decimal.Decimal `json:"drift"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Settings are the operator-tunable knobs read from the external settings store
type Settings struct {
	ThresholdMode     ThresholdMode              `json:"threshold_mode"`
	MinProfitFixed    decimal.Decimal            `json:"min_profit_fixed"`
	MinProfitPercent  decimal.Decimal            `json:"min_profit_percent"`
	MaxPositionSize   decimal.Decimal            `json:"max_position_size"`
	SlippageTolerance decimal.Decimal            `json:"slippage_tolerance"`
	GasEstimates      map[uint64]decimal.Decimal `json:"gas_estimates"`
	TradingFeeRate    decimal.Decimal            `json:"trading_fee_rate"`
	AutoExecute       bool                       `json:"auto_execute"`
}

// SlippageBps converts the percent tolerance to basis points, truncating fractions of a bp
func (s Settings) SlippageBps() int64 {
	return s.SlippageTolerance.Mul(decimal.NewFromInt(100)).IntPart()
}

// ArbitrageOpportunity is the evaluation of one pair at one instant
type ArbitrageOpportunity struct {
	PairID            string          `json:"pair_id"`
	ChainA            uint64          `json:"chain_a"`
	ChainB            uint64          `json:"chain_b"`
	PriceA            decimal.Decimal `json:"price_a"`
	PriceB            decimal.Decimal `json:"price_b"`
	Spread            decimal.Decimal `json:"spread"`
	TradingUnit       decimal.Decimal `json:"trading_unit"`
	FeeEstimate       decimal.Decimal `json:"fee_estimate"`
	EstimatedProfit   decimal.Decimal `json:"estimated_profit"`
	MinProfitRequired decimal.Decimal `json:"min_profit_required"`
	ThresholdMode     ThresholdMode   `json:"threshold_mode"`
	Profitable        bool            `json:"profitable"`
	Timestamp         time.Time       `json:"timestamp"`
}

// BuyOnA reports whether chain A is the cheaper venue
func (o ArbitrageOpportunity) BuyOnA() bool {
	return o.PriceA.LessThanOrEqual(o.PriceB)
}

// BuyPrice returns the cheaper venue's price
func (o ArbitrageOpportunity) BuyPrice() decimal.Decimal {
	if o.BuyOnA() {
		return o.PriceA
	}
	return o.PriceB
}

// SellPrice returns the more expensive venue's price
func (o ArbitrageOpportunity) SellPrice() decimal.Decimal {
	if o.BuyOnA() {
		return o.PriceB
	}
	return o.PriceA
}

// Signer is the credential capability handed to a leg. It signs and broadcasts a
// call to the given contract and never exposes key material.
type Signer interface {
	Address() common.Address
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// SwapRequest is one leg of an execution
type SwapRequest struct {
	ChainID             uint64
	RouterAddress       common.Address
	TokenIn             common.Address
	TokenOut            common.Address
	TokenInSymbol       string
	TokenOutSymbol      string
	AmountIn            *big.Int
	ExpectedAmountOut   *big.Int
	SlippageBps         int64
	DeadlineUnixSeconds int64
	Credential          Signer
}

// SwapResult is the terminal outcome of a leg. Exactly one of TxHash and ErrorKind is set.
type SwapResult struct {
	Status    SwapStatus `json:"status"`
	TxHash    string     `json:"tx_hash,omitempty"`
	GasUsed   *uint64    `json:"gas_used,omitempty"`
	AmountOut *big.Int   `json:"amount_out,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(txHash string, gasUsed uint64, amountOut *big.Int) SwapResult {
	return SwapResult{
		Status:    SwapSuccess,
		TxHash:    txHash,
		GasUsed:   &gasUsed,
		AmountOut: amountOut,
	}
}

// Failed builds a failed result. A failure always carries a kind.
func Failed(kind ErrorKind, err error) SwapResult {
	if kind == "" {
		kind = ErrorUnknown
	}
	res := SwapResult{Status: SwapFailed, ErrorKind: kind}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// OK reports whether the leg succeeded
func (r SwapResult) OK() bool {
	return r.Status == SwapSuccess
}

// ExecutionRecord is the append-only audit entry for one execution attempt
type ExecutionRecord struct {
	ID                string               `json:"id"`
	Opportunity       ArbitrageOpportunity `json:"opportunity"`
	ResultA           SwapResult           `json:"result_a"`
	ResultB           SwapResult           `json:"result_b"`
	RealizedBuyPrice  decimal.Decimal      `json:"realized_buy_price"`
	RealizedSellPrice decimal.Decimal      `json:"realized_sell_price"`
	TotalProfit       decimal.Decimal      `json:"total_profit"`
	ExecutionType     ExecutionType        `json:"execution_type"`
	Timestamp         time.Time            `json:"timestamp"`
}

// FailedLegs lists which legs failed and why
func (r ExecutionRecord) FailedLegs() []LegError {
	var out []LegError
	if !r.ResultA.OK() {
		out = append(out, LegError{Leg: "A", ChainID: r.Opportunity.ChainA, Kind: r.ResultA.ErrorKind, Message: r.ResultA.Error})
	}
	if !r.ResultB.OK() {
		out = append(out, LegError{Leg: "B", ChainID: r.Opportunity.ChainB, Kind: r.ResultB.ErrorKind, Message: r.ResultB.Error})
	}
	return out
}

// WalletState is a venue-local inventory for one pair
type WalletState struct {
	ID           string          `json:"id"`
	Chain        uint64          `json:"chain"`
	Venue        string          `json:"venue"`
	TokenPair    string          `json:"token_pair"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// WalletID derives the stable wallet identifier for a chain and pair
func WalletID(chainID uint64, pairID string) string {
	return pairID + "@" + strconv.FormatUint(chainID, 10)
}
