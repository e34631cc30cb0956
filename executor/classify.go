package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/michaelpento.lv/dualarb/types"
)

// Checked in order: slippage messages often also mention amounts, so they go first.
var vocabulary = []struct {
	kind    types.ErrorKind
	needles []string
}{
	{types.ErrorSlippageExceeded, []string{"insufficient_output_amount", "insufficient output amount", "excessive_input_amount", "slippage", "too little received"}},
	{types.ErrorInsufficientFunds, []string{"insufficient funds", "exceeds balance", "insufficient balance"}},
	{types.ErrorDeadlineExceeded, []string{"expired", "deadline"}},
	{types.ErrorPairNotFound, []string{"invalid_path", "pair not found", "no pair", "insufficient_liquidity"}},
	{types.ErrorAllowanceInsufficient, []string{"allowance", "transfer_from_failed", "not approved"}},
}

// Classify maps an error to an ErrorKind
func Classify(err error) types.ErrorKind {
	switch {
	case err == nil:
		return types.ErrorUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.ErrorDeadlineExceeded
	case errors.Is(err, types.ErrInvalidSlippage):
		return types.ErrorInvalidSlippage
	case errors.Is(err, types.ErrPairNotFound):
		return types.ErrorPairNotFound
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage matches a revert reason or RPC error text against the vocabulary, case-insensitively
func ClassifyMessage(msg string) types.ErrorKind {
	lower := strings.ToLower(msg)
	for _, entry := range vocabulary {
		for _, needle := range entry.needles {
			if strings.Contains(lower, needle) {
				return entry.kind
			}
		}
	}
	return types.ErrorUnknown
}
