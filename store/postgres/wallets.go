package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

const walletColumns = `id, chain, venue, token_pair, base_balance::text, quote_balance::text, last_updated`

// WalletStore keeps one row per venue wallet
type WalletStore struct {
	db DB
}

// NewWalletStore creates a wallet store over db
func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (w *WalletStore) Get(ctx context.Context, id string) (types.WalletState, error) {
	row := w.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.WalletState{}, fmt.Errorf("wallet %s: %w", id, store.ErrNotFound)
		}
		return types.WalletState{}, fmt.Errorf("failed to load wallet %s: %w", id, err)
	}
	return wallet, nil
}

func (w *WalletStore) Put(ctx context.Context, wallet types.WalletState) error {
	if wallet.Chain > math.MaxInt64 {
		return fmt.Errorf("chain id %d does not fit in bigint", wallet.Chain)
	}
	_, err := w.db.Exec(ctx, `
		INSERT INTO wallets (id, chain, venue, token_pair, base_balance, quote_balance, last_updated)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (id) DO UPDATE SET
			base_balance = EXCLUDED.base_balance,
			quote_balance = EXCLUDED.quote_balance,
			last_updated = EXCLUDED.last_updated`,
		wallet.ID, int64(wallet.Chain), wallet.Venue, wallet.TokenPair,
		wallet.BaseBalance.String(), wallet.QuoteBalance.String(), wallet.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save wallet %s: %w", wallet.ID, err)
	}
	return nil
}

func (w *WalletStore) List(ctx context.Context) ([]types.WalletState, error) {
	rows, err := w.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var out []types.WalletState
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return out, nil
}

func scanWallet(row pgx.Row) (types.WalletState, error) {
	var (
		wallet        types.WalletState
		chain         int64
		base, quote   string
		lastUpdatedAt time.Time
	)
	if err := row.Scan(&wallet.ID, &chain, &wallet.Venue, &wallet.TokenPair, &base, &quote, &lastUpdatedAt); err != nil {
		return types.WalletState{}, err
	}
	return decodeWallet(wallet, chain, base, quote, lastUpdatedAt)
}

func decodeWallet(wallet types.WalletState, chain int64, base, quote string, lastUpdated time.Time) (types.WalletState, error) {
	var err error
	if wallet.BaseBalance, err = decimal.NewFromString(base); err != nil {
		return types.WalletState{}, fmt.Errorf("bad base balance %q: %w", base, err)
	}
	if wallet.QuoteBalance, err = decimal.NewFromString(quote); err != nil {
		return types.WalletState{}, fmt.Errorf("bad quote balance %q: %w", quote, err)
	}
	wallet.Chain = uint64(chain)
	wallet.LastUpdated = lastUpdated
	return wallet, nil
}
