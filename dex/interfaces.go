package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the read-only RPC surface needed to query router and token contracts
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Router represents a constant-product router deployed on one chain
type Router interface {
	// GetName returns the venue name
	GetName() string

	// GetRouterAddress returns the router contract address
	GetRouterAddress() common.Address

	// GetAmountsOut returns the output amounts along path for an exact input
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}
