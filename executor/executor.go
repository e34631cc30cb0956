package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/dualarb/types"
)

// MaxSlippageBps is 100%
const MaxSlippageBps = 10000

// Strategy executes one swap leg to a terminal result. Implementations never
// return a Go error and never panic across the call; every failure is a
// SwapResult with an ErrorKind.
type Strategy interface {
	ExecuteSwap(ctx context.Context, req types.SwapRequest) types.SwapResult
}

// Mode selects the strategy at startup
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
	ModeAuto      Mode = "auto"
)

// ValidSlippage reports whether bps lies within [0, 10000]
func ValidSlippage(bps int64) bool {
	return bps >= 0 && bps <= MaxSlippageBps
}

// ComputeMinOut returns expected × (10000 − bps) / 10000 using integer division
func ComputeMinOut(expected *big.Int, bps int64) (*big.Int, error) {
	if !ValidSlippage(bps) {
		return nil, fmt.Errorf("%w: %d bps", types.ErrInvalidSlippage, bps)
	}
	if expected == nil {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(expected, big.NewInt(MaxSlippageBps-bps))
	return out.Quo(out, big.NewInt(MaxSlippageBps)), nil
}
