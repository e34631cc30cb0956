package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/dex"
	"github.com/michaelpento.lv/dualarb/dex/uniswap"
	"github.com/michaelpento.lv/dualarb/types"
)

const (
	// SwapDeadline is the on-chain deadline window given to the router
	SwapDeadline = 1200 * time.Second

	defaultPollInterval = 2 * time.Second
	revertReplayTimeout = 10 * time.Second
)

// ChainClient is the RPC surface a leg needs. *ethclient.Client satisfies it.
type ChainClient interface {
	dex.ContractCaller
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Quoter re-prices a leg immediately before submission, bypassing any cache.
// *quote.Provider satisfies it.
type Quoter interface {
	GetFreshAmountOut(ctx context.Context, chainID uint64, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// Real executes legs against live routers
type Real struct {
	clients      map[uint64]ChainClient
	quotes       Quoter
	pollInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

var _ Strategy = (*Real)(nil)

// NewReal creates the live strategy over one client per chain
func NewReal(clients map[uint64]ChainClient, quotes Quoter, pollInterval time.Duration, logger *zap.Logger) *Real {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Real{
		clients:      clients,
		quotes:       quotes,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("component", "executor")),
		now:          time.Now,
	}
}

// ExecuteSwap runs CheckAllowance, Approve, Quote, ComputeMinOut, Submit and
// AwaitConfirmation for one leg
func (r *Real) ExecuteSwap(ctx context.Context, req types.SwapRequest) (result types.SwapResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Swap leg panicked", zap.Uint64("chain_id", req.ChainID), zap.Any("panic", p))
			result = types.Failed(types.ErrorUnknown, fmt.Errorf("panic during swap: %v", p))
		}
	}()

	if !ValidSlippage(req.SlippageBps) {
		return types.Failed(types.ErrorInvalidSlippage, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, req.SlippageBps))
	}
	client, ok := r.clients[req.ChainID]
	if !ok {
		return types.Failed(types.ErrorUnknown, fmt.Errorf("%w: %d", types.ErrUnsupportedChain, req.ChainID))
	}
	if req.Credential == nil {
		return types.Failed(types.ErrorUnknown, errors.New("no credential for chain"))
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return types.Failed(types.ErrorUnknown, errors.New("amount in must be positive"))
	}

	log := r.logger.With(
		zap.Uint64("chain_id", req.ChainID),
		zap.String("token_in", req.TokenInSymbol),
		zap.String("token_out", req.TokenOutSymbol),
		zap.String("amount_in", req.AmountIn.String()))
	owner := req.Credential.Address()

	if kind, err := r.ensureAllowance(ctx, client, req, owner, log); err != nil {
		log.Warn("Allowance not available", zap.Error(err), zap.String("kind", string(kind)))
		return types.Failed(kind, err)
	}

	expected, err := r.quotes.GetFreshAmountOut(ctx, req.ChainID, req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		kind := Classify(err)
		log.Warn("Failed to quote swap", zap.Error(err), zap.String("kind", string(kind)))
		return types.Failed(kind, fmt.Errorf("failed to quote swap: %w", err))
	}

	path := []common.Address{req.TokenIn, req.TokenOut}

	minOut, err := ComputeMinOut(expected, req.SlippageBps)
	if err != nil {
		return types.Failed(types.ErrorInvalidSlippage, err)
	}

	deadline := req.DeadlineUnixSeconds
	if deadline <= 0 {
		deadline = r.now().Add(SwapDeadline).Unix()
	}
	data, err := uniswap.PackSwapExactTokensForTokens(req.AmountIn, minOut, path, owner, big.NewInt(deadline))
	if err != nil {
		return types.Failed(types.ErrorUnknown, err)
	}

	txHash, err := req.Credential.SendTransaction(ctx, req.RouterAddress, data)
	if err != nil {
		log.Warn("Failed to submit swap", zap.Error(err))
		return types.Failed(Classify(err), fmt.Errorf("failed to submit swap: %w", err))
	}
	log = log.With(zap.String("tx_hash", txHash.Hex()))
	log.Info("Swap submitted", zap.String("expected_out", expected.String()), zap.String("min_out", minOut.String()))

	receipt, err := r.awaitReceipt(ctx, client, txHash)
	if err != nil {
		log.Warn("Swap not confirmed", zap.Error(err))
		return types.Failed(Classify(err), fmt.Errorf("failed to confirm swap: %w", err))
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		reason := r.revertReason(ctx, client, owner, req.RouterAddress, data, receipt.BlockNumber)
		kind := ClassifyMessage(reason)
		log.Warn("Swap reverted", zap.String("reason", reason), zap.String("kind", string(kind)))
		return types.Failed(kind, fmt.Errorf("swap reverted: %s", reason))
	}

	amountOut := uniswap.TransferredTo(receipt.Logs, req.TokenOut, owner)
	log.Info("Swap confirmed", zap.Uint64("gas_used", receipt.GasUsed))
	return types.Succeeded(txHash.Hex(), receipt.GasUsed, amountOut)
}

// ensureAllowance approves exactly amountIn when the router's allowance is short.
// Only an approval that reverts or is not mined before the leg deadline is
// AllowanceInsufficient; read and submit errors are classified like any other.
func (r *Real) ensureAllowance(ctx context.Context, client ChainClient, req types.SwapRequest, owner common.Address, log *zap.Logger) (types.ErrorKind, error) {
	token := uniswap.NewERC20(client, req.TokenIn)
	allowance, err := token.Allowance(ctx, owner, req.RouterAddress)
	if err != nil {
		return Classify(err), fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(req.AmountIn) >= 0 {
		return "", nil
	}

	data, err := uniswap.PackApprove(req.RouterAddress, req.AmountIn)
	if err != nil {
		return types.ErrorUnknown, err
	}
	txHash, err := req.Credential.SendTransaction(ctx, req.TokenIn, data)
	if err != nil {
		return Classify(err), fmt.Errorf("failed to submit approval: %w", err)
	}
	log.Info("Approval submitted", zap.String("approve_tx", txHash.Hex()), zap.String("allowance", allowance.String()))

	receipt, err := r.awaitReceipt(ctx, client, txHash)
	if err != nil {
		return types.ErrorAllowanceInsufficient, fmt.Errorf("approval %s not confirmed: %w", txHash.Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.ErrorAllowanceInsufficient, fmt.Errorf("approval %s reverted", txHash.Hex())
	}
	return "", nil
}

// awaitReceipt polls until the transaction is mined or ctx ends
func (r *Real) awaitReceipt(ctx context.Context, client ChainClient, txHash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug("Receipt poll failed", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays the call at the inclusion block to recover the revert message
func (r *Real) revertReason(ctx context.Context, client ChainClient, from, to common.Address, data []byte, block *big.Int) string {
	replayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertReplayTimeout)
	defer cancel()

	_, err := client.CallContract(replayCtx, ethereum.CallMsg{From: from, To: &to, Data: data}, block)
	if err == nil {
		return "execution reverted"
	}
	return err.Error()
}
