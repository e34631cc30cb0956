package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/michaelpento.lv/dualarb/dex/uniswap"
)

// RevertError mimics the JSON-RPC error geth returns for a reverted call
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// ErrorCode returns the JSON-RPC error code
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the revert payload
func (e *RevertError) ErrorData() interface{} { return e.Reason }

type pool struct {
	reserveIn  *big.Int
	reserveOut *big.Int
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// StubChain is an in-memory V2 router plus ERC-20 allowances, enough to drive a
// swap leg end to end without a node. Pools are keyed by direction.
type StubChain struct {
	mu         sync.Mutex
	pools      map[[2]common.Address]pool
	allowances map[allowanceKey]*big.Int
	receipts   map[common.Hash]*ethtypes.Receipt
	pending    map[common.Hash]int
	calls      map[string]int
	nonce      uint64
	block      int64

	// QuoteErr is returned by getAmountsOut when set
	QuoteErr error
	// QuoteResponse is returned verbatim by getAmountsOut when set
	QuoteResponse []byte
	// RevertReason overrides the reason reported for reverted swaps
	RevertReason string
	// ReceiptDelay is the number of receipt polls answered with NotFound
	ReceiptDelay int
	// DropReceipts keeps submitted transactions from ever being mined
	DropReceipts bool
	// ApproveFails mines approvals as reverted
	ApproveFails bool
	// SwapFails mines swaps as reverted
	SwapFails bool
}

// NewStubChain creates an empty chain
func NewStubChain() *StubChain {
	return &StubChain{
		pools:      make(map[[2]common.Address]pool),
		allowances: make(map[allowanceKey]*big.Int),
		receipts:   make(map[common.Hash]*ethtypes.Receipt),
		pending:    make(map[common.Hash]int),
		calls:      make(map[string]int),
		block:      100,
	}
}

// SetPool registers a pool holding reserveA of tokenA and reserveB of tokenB
func (c *StubChain) SetPool(tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[[2]common.Address{tokenA, tokenB}] = pool{reserveIn: reserveA, reserveOut: reserveB}
	c.pools[[2]common.Address{tokenB, tokenA}] = pool{reserveIn: reserveB, reserveOut: reserveA}
}

// SetAllowance sets the ERC-20 allowance of owner towards spender
func (c *StubChain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[allowanceKey{token, owner, spender}] = amount
}

// Calls returns how many times a contract method was called or submitted
func (c *StubChain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of contract interactions of any kind
func (c *StubChain) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *StubChain) amountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn
	for i := 0; i < len(path)-1; i++ {
		p, ok := c.pools[[2]common.Address{path[i], path[i+1]}]
		if !ok {
			return nil, &RevertError{}
		}
		amounts[i+1] = uniswap.GetAmountOut(amounts[i], p.reserveIn, p.reserveOut)
	}
	return amounts, nil
}

func methodByID(data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	if m, err := uniswap.RouterABI.MethodById(data[:4]); err == nil {
		return m, nil
	}
	return uniswap.ERC20ABI.MethodById(data[:4])
}

// CallContract answers router and token views
func (c *StubChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	method, err := methodByID(msg.Data)
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method.Name]++

	switch method.Name {
	case "getAmountsOut":
		if c.QuoteErr != nil {
			return nil, c.QuoteErr
		}
		if c.QuoteResponse != nil {
			return c.QuoteResponse, nil
		}
		amounts, err := c.amountsOut(args[0].(*big.Int), args[1].([]common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(amounts)
	case "allowance":
		amount, ok := c.allowances[allowanceKey{*msg.To, args[0].(common.Address), args[1].(common.Address)}]
		if !ok {
			amount = new(big.Int)
		}
		return method.Outputs.Pack(amount)
	case "swapExactTokensForTokens":
		return nil, &RevertError{Reason: c.swapRevertReason(args)}
	default:
		return nil, fmt.Errorf("unsupported call %s", method.Name)
	}
}

func (c *StubChain) swapRevertReason(args []interface{}) string {
	if c.RevertReason != "" {
		return c.RevertReason
	}
	amounts, err := c.amountsOut(args[0].(*big.Int), args[2].([]common.Address))
	if err != nil {
		return "UniswapV2Library: INVALID_PATH"
	}
	if amounts[len(amounts)-1].Cmp(args[1].(*big.Int)) < 0 {
		return "UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT"
	}
	return "TransferHelper: TRANSFER_FROM_FAILED"
}

// Submit mines a transaction from sender and returns its hash
func (c *StubChain) Submit(from, to common.Address, data []byte) (common.Hash, error) {
	method, err := methodByID(data)
	if err != nil {
		return common.Hash{}, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[method.Name]++
	c.nonce++
	c.block++

	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, c.nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), data, nonce)

	receipt := &ethtypes.Receipt{
		TxHash:      hash,
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(c.block),
	}

	switch method.Name {
	case "approve":
		receipt.GasUsed = 46000
		if c.ApproveFails {
			receipt.Status = ethtypes.ReceiptStatusFailed
			break
		}
		c.allowances[allowanceKey{to, from, args[0].(common.Address)}] = args[1].(*big.Int)
	case "swapExactTokensForTokens":
		receipt.GasUsed = 150000
		amountIn := args[0].(*big.Int)
		minOut := args[1].(*big.Int)
		path := args[2].([]common.Address)
		recipient := args[3].(common.Address)

		key := allowanceKey{path[0], from, to}
		allowance, ok := c.allowances[key]
		amounts, err := c.amountsOut(amountIn, path)
		if c.SwapFails || err != nil || !ok || allowance.Cmp(amountIn) < 0 || amounts[len(amounts)-1].Cmp(minOut) < 0 {
			receipt.Status = ethtypes.ReceiptStatusFailed
			break
		}
		c.allowances[key] = new(big.Int).Sub(allowance, amountIn)

		out := amounts[len(amounts)-1]
		receipt.Logs = []*ethtypes.Log{{
			Address: path[len(path)-1],
			Topics: []common.Hash{
				uniswap.TransferTopic,
				common.BytesToHash(to.Bytes()),
				common.BytesToHash(recipient.Bytes()),
			},
			Data: common.LeftPadBytes(out.Bytes(), 32),
		}}
	default:
		return common.Hash{}, fmt.Errorf("unsupported transaction %s", method.Name)
	}

	if !c.DropReceipts {
		c.receipts[hash] = receipt
		c.pending[hash] = c.ReceiptDelay
	}
	return hash, nil
}

// TransactionReceipt returns the receipt of a mined transaction
func (c *StubChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if c.pending[txHash] > 0 {
		c.pending[txHash]--
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// StubSigner submits transactions straight into a StubChain
type StubSigner struct {
	Chain   *StubChain
	From    common.Address
	SendErr error

	mu   sync.Mutex
	sent int
}

// NewStubSigner creates a signer for a fixed address
func NewStubSigner(chain *StubChain, from common.Address) *StubSigner {
	return &StubSigner{Chain: chain, From: from}
}

// Address returns the sender address
func (s *StubSigner) Address() common.Address {
	return s.From
}

// SendTransaction submits data to the stub chain
func (s *StubSigner) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	if s.SendErr != nil {
		return common.Hash{}, s.SendErr
	}
	return s.Chain.Submit(s.From, to, data)
}

// Sent returns the number of transactions this signer attempted
func (s *StubSigner) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Units converts a whole token amount to raw units with the given decimals
func Units(amount int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}
