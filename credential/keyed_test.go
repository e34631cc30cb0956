package credential

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// well-known anvil/hardhat test key
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*ethtypes.Transaction
	estimate uint64
	gasErr   error
	sendErr  error
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.gasErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", crypto.PubkeyToAddress(key.PublicKey).Hex())

	_, err = ParseKey("  ")
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = ParseKey("0xnothex")
	assert.Error(t, err)
}

func TestSendTransactionSignsForChain(t *testing.T) {
	key, err := ParseKey(testKey)
	require.NoError(t, err)
	backend := &fakeBackend{estimate: 100000}
	k := NewKeyed(key, 56, backend, zaptest.NewLogger(t))

	to := common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	hash, err := k.SendTransaction(context.Background(), to, []byte{0x38, 0xed, 0x17, 0x39})
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, to, *tx.To())
	assert.Equal(t, uint64(120000), tx.Gas())
	assert.Equal(t, "3000000000", tx.GasPrice().String())
	assert.Equal(t, "56", tx.ChainId().String())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), from)
}

func TestSendTransactionNonceSequence(t *testing.T) {
	key, err := ParseKey(testKey)
	require.NoError(t, err)
	backend := &fakeBackend{estimate: 50000}
	k := NewKeyed(key, 1, backend, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := k.SendTransaction(context.Background(), common.Address{}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range backend.sent {
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, 5)
}

func TestSendTransactionErrors(t *testing.T) {
	key, err := ParseKey(testKey)
	require.NoError(t, err)

	backend := &fakeBackend{gasErr: errors.New("execution reverted: UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT")}
	k := NewKeyed(key, 1, backend, zaptest.NewLogger(t))
	_, err = k.SendTransaction(context.Background(), common.Address{}, nil)
	assert.ErrorContains(t, err, "INSUFFICIENT_OUTPUT_AMOUNT")

	backend = &fakeBackend{estimate: 21000, sendErr: errors.New("insufficient funds for gas * price + value")}
	k = NewKeyed(key, 1, backend, zaptest.NewLogger(t))
	_, err = k.SendTransaction(context.Background(), common.Address{}, nil)
	assert.ErrorContains(t, err, "insufficient funds")
}
