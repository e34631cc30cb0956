package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

// AuditLog keeps execution records in memory in append order
type AuditLog struct {
	mu      sync.RWMutex
	records []types.ExecutionRecord
}

var _ store.AuditSink = (*AuditLog)(nil)

// NewAuditLog creates an empty log
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append adds a record
func (a *AuditLog) Append(_ context.Context, record types.ExecutionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

// Records returns a copy of every record
func (a *AuditLog) Records() []types.ExecutionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.ExecutionRecord, len(a.records))
	copy(out, a.records)
	return out
}

// WalletStore keeps wallets in memory
type WalletStore struct {
	mu      sync.RWMutex
	wallets map[string]types.WalletState
}

var _ store.WalletStore = (*WalletStore)(nil)

// NewWalletStore creates an empty store
func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[string]types.WalletState)}
}

// Get returns a wallet by ID
func (w *WalletStore) Get(_ context.Context, id string) (types.WalletState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	wallet, ok := w.wallets[id]
	if !ok {
		return types.WalletState{}, fmt.Errorf("wallet %s: %w", id, store.ErrNotFound)
	}
	return wallet, nil
}

// Put inserts or replaces a wallet
func (w *WalletStore) Put(_ context.Context, wallet types.WalletState) error {
	if wallet.ID == "" {
		return fmt.Errorf("wallet id must be set")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wallets[wallet.ID] = wallet
	return nil
}

// List returns every wallet ordered by ID
func (w *WalletStore) List(_ context.Context) ([]types.WalletState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.WalletState, 0, len(w.wallets))
	for _, wallet := range w.wallets {
		out = append(out, wallet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
