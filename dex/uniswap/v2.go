package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/michaelpento.lv/dualarb/dex"
)

// ErrEmptyResponse is returned when a call to the router returns no data,
// usually because nothing is deployed at the configured address
var ErrEmptyResponse = errors.New("empty response from contract")

// ErrMalformedResponse is returned when the router's answer cannot be decoded as amounts for the path
var ErrMalformedResponse = errors.New("malformed router response")

// UniswapV2 implements dex.Router for any Uniswap V2 compatible router
type UniswapV2 struct {
	caller dex.ContractCaller
	router common.Address
	name   string
}

var _ dex.Router = (*UniswapV2)(nil)

// NewUniswapV2 creates a router bound to address on the chain behind caller
func NewUniswapV2(caller dex.ContractCaller, router common.Address, name string) *UniswapV2 {
	if name == "" {
		name = "UniswapV2"
	}
	return &UniswapV2{
		caller: caller,
		router: router,
		name:   name,
	}
}

// GetName returns the venue name
func (u *UniswapV2) GetName() string {
	return u.name
}

// GetRouterAddress returns the router contract address
func (u *UniswapV2) GetRouterAddress() common.Address {
	return u.router
}

// GetAmountsOut calls the router's getAmountsOut view
func (u *UniswapV2) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	data, err := RouterABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}

	out, err := u.caller.CallContract(ctx, ethereum.CallMsg{To: &u.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getAmountsOut: %w", err)
	}

	amounts, err := UnpackAmounts(out)
	if err != nil {
		return nil, err
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("%w: %d amounts for path of %d", ErrMalformedResponse, len(amounts), len(path))
	}

	return amounts, nil
}

// UnpackAmounts decodes the uint256[] returned by getAmountsOut
func UnpackAmounts(data []byte) ([]*big.Int, error) {
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}
	values, err := RouterABI.Unpack("getAmountsOut", data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack amounts: %v", ErrMalformedResponse, err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected amounts type %T", ErrMalformedResponse, values[0])
	}
	return amounts, nil
}

// PackSwapExactTokensForTokens encodes a swapExactTokensForTokens call
func PackSwapExactTokensForTokens(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	data, err := RouterABI.Pack("swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swapExactTokensForTokens: %w", err)
	}
	return data, nil
}

// IsRevert reports whether err came from the EVM rather than the transport
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// GetAmountOut applies the V2 constant-product formula with the 0.3% fee
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(1000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
