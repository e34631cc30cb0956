package uniswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/michaelpento.lv/dualarb/dex"
)

// ERC20 is a read binding to a token contract
type ERC20 struct {
	caller  dex.ContractCaller
	address common.Address
}

// NewERC20 binds the token at address
func NewERC20(caller dex.ContractCaller, address common.Address) *ERC20 {
	return &ERC20{caller: caller, address: address}
}

// Allowance returns how much spender may move on behalf of owner
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance: %w", err)
	}

	out, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}

	values, err := ERC20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack allowance: %w", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}

// PackApprove encodes approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	return data, nil
}

// TransferredTo sums the Transfer events of token paid to recipient in logs.
// It returns nil when no matching transfer is present.
func TransferredTo(logs []*ethtypes.Log, token, recipient common.Address) *big.Int {
	var total *big.Int
	for _, l := range logs {
		if l == nil || l.Address != token || len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}
