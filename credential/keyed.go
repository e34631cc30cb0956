package credential

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrNoKey is returned when no private key was provided
var ErrNoKey = errors.New("no private key configured")

// gas limit headroom over the node's estimate, in percent
const gasHeadroom = 120

// Backend is the chain access a keyed signer needs. *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Keyed signs with an in-memory key and broadcasts through one chain's backend.
// The key never leaves this type.
type Keyed struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  ethtypes.Signer
	backend Backend
	logger  *zap.Logger

	// serializes nonce allocation
	mu sync.Mutex
}

// ParseKey decodes a hex private key, with or without 0x
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrNoKey
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NewKeyed binds key to one chain and its RPC backend
func NewKeyed(key *ecdsa.PrivateKey, chainID uint64, backend Backend, logger *zap.Logger) *Keyed {
	id := new(big.Int).SetUint64(chainID)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Keyed{
		key:     key,
		address: addr,
		chainID: id,
		signer:  ethtypes.LatestSignerForChainID(id),
		backend: backend,
		logger: logger.With(
			zap.String("component", "signer"),
			zap.Uint64("chain", chainID),
			zap.String("address", addr.Hex())),
	}
}

// Address returns the account derived from the key
func (k *Keyed) Address() common.Address {
	return k.address
}

// SendTransaction signs a zero-value call to `to` and broadcasts it
func (k *Keyed) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	gasPrice, err := k.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := k.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: k.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas = gas * gasHeadroom / 100

	nonce, err := k.backend.PendingNonceAt(ctx, k.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, k.signer, k.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := k.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	k.logger.Debug("Transaction sent",
		zap.String("hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas))
	return signed.Hash(), nil
}
