package types

import (
	"errors"
	"fmt"
)

// Configuration errors. Rejected before any chain I/O and never retried.
var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrUnknownToken     = errors.New("unknown token")
	ErrUnknownPair      = errors.New("unknown pair")
	ErrInvalidSlippage  = errors.New("invalid slippage")
	ErrInvalidAmount    = errors.New("invalid amount")
	// ErrRouterResponse means the configured router answered with data that is not a getAmountsOut result
	ErrRouterResponse = errors.New("unexpected router response")
)

// ErrRPCUnavailable marks transport failures. Callers may retry read-only calls.
var ErrRPCUnavailable = errors.New("rpc unavailable")

// ErrPairNotFound is returned by the quote path when the router has no pool for the path
var ErrPairNotFound = errors.New("pair not found")

// ErrBelowThreshold rejects an execution before either chain is touched
var ErrBelowThreshold = errors.New("below profit threshold")

// ErrExecutionInProgress rejects a second concurrent execution of the same pair
var ErrExecutionInProgress = errors.New("execution already in progress")

// ErrorKind classifies a failed leg
type ErrorKind string

const (
	ErrorInsufficientFunds     ErrorKind = "InsufficientFunds"
	ErrorSlippageExceeded      ErrorKind = "SlippageExceeded"
	ErrorDeadlineExceeded      ErrorKind = "DeadlineExceeded"
	ErrorPairNotFound          ErrorKind = "PairNotFound"
	ErrorAllowanceInsufficient ErrorKind = "AllowanceInsufficient"
	ErrorInvalidSlippage       ErrorKind = "InvalidSlippage"
	ErrorUnknown               ErrorKind = "Unknown"
)

// ExecutionErrorKinds is the vocabulary a submitted leg can fail with
var ExecutionErrorKinds = []ErrorKind{
	ErrorInsufficientFunds,
	ErrorSlippageExceeded,
	ErrorDeadlineExceeded,
	ErrorPairNotFound,
	ErrorAllowanceInsufficient,
	ErrorUnknown,
}

// LegError tells a caller which leg failed and why
type LegError struct {
	Leg     string    `json:"leg"`
	ChainID uint64    `json:"chain_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func (e LegError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("leg %s on chain %d failed: %s", e.Leg, e.ChainID, e.Kind)
	}
	return fmt.Sprintf("leg %s on chain %d failed: %s: %s", e.Leg, e.ChainID, e.Kind, e.Message)
}
