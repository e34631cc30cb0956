package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/dualarb/dex"
	"github.com/michaelpento.lv/dualarb/dex/uniswap"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/testutils"
)

var (
	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	wethAddr   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcAddr   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	walletAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type legFixture struct {
	chain  *testutils.StubChain
	signer *testutils.StubSigner
	real   *Real
	req    types.SwapRequest
}

func newLegFixture(t *testing.T) *legFixture {
	chain := testutils.NewStubChain()
	chain.SetPool(usdcAddr, wethAddr, testutils.Units(2000000, 6), testutils.Units(1000, 18))
	signer := testutils.NewStubSigner(chain, walletAddr)

	logger := zaptest.NewLogger(t)
	quotes, err := quote.NewProvider(nil, map[uint64]dex.Router{1: uniswap.NewUniswapV2(chain, routerAddr, "")}, quote.Options{}, nil, logger)
	require.NoError(t, err)
	strategy := NewReal(map[uint64]ChainClient{1: chain}, quotes, time.Millisecond, logger)

	return &legFixture{
		chain:  chain,
		signer: signer,
		real:   strategy,
		req: types.SwapRequest{
			ChainID:        1,
			RouterAddress:  routerAddr,
			TokenIn:        usdcAddr,
			TokenOut:       wethAddr,
			TokenInSymbol:  "USDC",
			TokenOutSymbol: "WETH",
			AmountIn:       testutils.Units(2000, 6),
			SlippageBps:    50,
			Credential:     signer,
		},
	}
}

func TestRealHappyPath(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, testutils.Units(1000000, 6))

	res := f.real.ExecuteSwap(context.Background(), f.req)

	require.True(t, res.OK(), "unexpected failure: %s %s", res.ErrorKind, res.Error)
	assert.Len(t, res.TxHash, 66)
	assert.Empty(t, res.ErrorKind)
	require.NotNil(t, res.GasUsed)
	assert.Equal(t, uint64(150000), *res.GasUsed)

	expected := uniswap.GetAmountOut(testutils.Units(2000, 6), testutils.Units(2000000, 6), testutils.Units(1000, 18))
	require.NotNil(t, res.AmountOut)
	assert.Equal(t, expected.String(), res.AmountOut.String())

	assert.Equal(t, 0, f.chain.Calls("approve"))
	assert.Equal(t, 1, f.chain.Calls("swapExactTokensForTokens"))
	assert.Equal(t, 1, f.signer.Sent())
}

func TestRealApprovesWhenAllowanceShort(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, big.NewInt(1))

	res := f.real.ExecuteSwap(context.Background(), f.req)

	require.True(t, res.OK(), "unexpected failure: %s %s", res.ErrorKind, res.Error)
	assert.Equal(t, 1, f.chain.Calls("approve"))
	assert.Equal(t, 1, f.chain.Calls("swapExactTokensForTokens"))
	assert.Equal(t, 2, f.signer.Sent())
}

func TestRealWaitsForPendingReceipts(t *testing.T) {
	f := newLegFixture(t)
	f.chain.ReceiptDelay = 3

	res := f.real.ExecuteSwap(context.Background(), f.req)
	require.True(t, res.OK(), "unexpected failure: %s %s", res.ErrorKind, res.Error)
}

func TestRealApprovalFailures(t *testing.T) {
	t.Run("approval reverts", func(t *testing.T) {
		f := newLegFixture(t)
		f.chain.ApproveFails = true

		res := f.real.ExecuteSwap(context.Background(), f.req)

		assert.False(t, res.OK())
		assert.Equal(t, types.ErrorAllowanceInsufficient, res.ErrorKind)
		assert.Empty(t, res.TxHash)
		assert.Equal(t, 0, f.chain.Calls("swapExactTokensForTokens"))
	})

	t.Run("approval never confirms", func(t *testing.T) {
		f := newLegFixture(t)
		f.chain.DropReceipts = true
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res := f.real.ExecuteSwap(ctx, f.req)

		assert.Equal(t, types.ErrorAllowanceInsufficient, res.ErrorKind)
		assert.Equal(t, 0, f.chain.Calls("swapExactTokensForTokens"))
	})
}

func TestRealApprovalErrorsKeepTheirCause(t *testing.T) {
	t.Run("approval submit out of gas funds", func(t *testing.T) {
		f := newLegFixture(t)
		f.signer.SendErr = errors.New("insufficient funds for gas * price + value")

		res := f.real.ExecuteSwap(context.Background(), f.req)

		assert.Equal(t, types.ErrorInsufficientFunds, res.ErrorKind)
		assert.Contains(t, res.Error, "failed to submit approval")
		assert.Equal(t, 1, f.signer.Sent())
	})

	t.Run("allowance read fails", func(t *testing.T) {
		f := newLegFixture(t)
		client := &failingAllowanceClient{StubChain: f.chain, err: errors.New("connection reset by peer")}
		strategy := NewReal(map[uint64]ChainClient{1: client}, f.real.quotes, time.Millisecond, zaptest.NewLogger(t))

		res := strategy.ExecuteSwap(context.Background(), f.req)

		assert.Equal(t, types.ErrorUnknown, res.ErrorKind)
		assert.Contains(t, res.Error, "failed to read allowance")
		assert.Equal(t, 0, f.signer.Sent())
	})
}

// failingAllowanceClient fails every eth_call, which the allowance read is the first of
type failingAllowanceClient struct {
	*testutils.StubChain
	err error
}

func (c *failingAllowanceClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, c.err
}

func TestRealRevertIsClassified(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, testutils.Units(1000000, 6))
	f.chain.SwapFails = true
	f.chain.RevertReason = "UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT"

	res := f.real.ExecuteSwap(context.Background(), f.req)

	assert.False(t, res.OK())
	assert.Equal(t, types.ErrorSlippageExceeded, res.ErrorKind)
	assert.Contains(t, res.Error, "INSUFFICIENT_OUTPUT_AMOUNT")
	assert.Empty(t, res.TxHash)
	assert.Nil(t, res.GasUsed)
}

func TestRealInvalidSlippageMakesNoCalls(t *testing.T) {
	for _, bps := range []int64{-1, 10001} {
		f := newLegFixture(t)
		f.req.SlippageBps = bps

		res := f.real.ExecuteSwap(context.Background(), f.req)

		assert.Equal(t, types.ErrorInvalidSlippage, res.ErrorKind)
		assert.Equal(t, 0, f.chain.TotalCalls())
		assert.Equal(t, 0, f.signer.Sent())
	}
}

func TestRealMissingPool(t *testing.T) {
	f := newLegFixture(t)
	f.req.TokenIn = common.HexToAddress("0x01")
	f.chain.SetAllowance(f.req.TokenIn, walletAddr, routerAddr, testutils.Units(1000000, 6))

	res := f.real.ExecuteSwap(context.Background(), f.req)

	assert.Equal(t, types.ErrorPairNotFound, res.ErrorKind)
	assert.Equal(t, 0, f.chain.Calls("swapExactTokensForTokens"))
}

func TestRealRequoteGoesThroughProvider(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, testutils.Units(1000000, 6))
	f.chain.QuoteErr = errors.New("dial tcp 127.0.0.1:8545: connection refused")

	res := f.real.ExecuteSwap(context.Background(), f.req)

	assert.False(t, res.OK())
	assert.Contains(t, res.Error, types.ErrRPCUnavailable.Error())
	assert.Equal(t, 0, f.chain.Calls("swapExactTokensForTokens"))
	assert.Equal(t, 0, f.signer.Sent())
}

func TestRealSubmitError(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, testutils.Units(1000000, 6))
	f.signer.SendErr = errors.New("insufficient funds for gas * price + value")

	res := f.real.ExecuteSwap(context.Background(), f.req)

	assert.Equal(t, types.ErrorInsufficientFunds, res.ErrorKind)
}

func TestRealDeadline(t *testing.T) {
	f := newLegFixture(t)
	f.chain.SetAllowance(usdcAddr, walletAddr, routerAddr, testutils.Units(1000000, 6))
	f.chain.DropReceipts = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := f.real.ExecuteSwap(ctx, f.req)

	assert.Equal(t, types.ErrorDeadlineExceeded, res.ErrorKind)
	assert.Equal(t, 1, f.chain.Calls("swapExactTokensForTokens"))
}

func TestRealUnsupportedChain(t *testing.T) {
	f := newLegFixture(t)
	f.req.ChainID = 42

	res := f.real.ExecuteSwap(context.Background(), f.req)

	assert.Equal(t, types.ErrorUnknown, res.ErrorKind)
	assert.Equal(t, 0, f.chain.TotalCalls())
}

type panicClient struct{}

func (panicClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	panic("boom")
}

func (panicClient) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestRealRecoversPanics(t *testing.T) {
	f := newLegFixture(t)
	strategy := NewReal(map[uint64]ChainClient{1: panicClient{}}, f.real.quotes, time.Millisecond, zaptest.NewLogger(t))

	var res types.SwapResult
	assert.NotPanics(t, func() {
		res = strategy.ExecuteSwap(context.Background(), f.req)
	})
	assert.Equal(t, types.ErrorUnknown, res.ErrorKind)
	assert.Contains(t, res.Error, "boom")
}
