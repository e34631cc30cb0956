package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/dualarb/types"
)

// ErrNotFound is returned when a keyed record does not exist
var ErrNotFound = errors.New("not found")

// SettingsSource supplies the operator settings. Implementations read the
// current value on every call.
type SettingsSource interface {
	Settings(ctx context.Context) (types.Settings, error)
}

// AuditSink receives every execution record exactly once
type AuditSink interface {
	Append(ctx context.Context, record types.ExecutionRecord) error
}

// WalletStore persists wallet inventories
type WalletStore interface {
	Get(ctx context.Context, id string) (types.WalletState, error)
	Put(ctx context.Context, wallet types.WalletState) error
	List(ctx context.Context) ([]types.WalletState, error)
}

// StaticSettings serves a fixed settings value, usually the config file defaults
type StaticSettings struct {
	settings types.Settings
}

// NewStaticSettings wraps s
func NewStaticSettings(s types.Settings) *StaticSettings {
	return &StaticSettings{settings: CloneSettings(s)}
}

// Settings returns a copy of the fixed settings
func (s *StaticSettings) Settings(context.Context) (types.Settings, error) {
	return CloneSettings(s.settings), nil
}

// CloneSettings deep-copies the gas estimate map
func CloneSettings(s types.Settings) types.Settings {
	out := s
	out.GasEstimates = make(map[uint64]decimal.Decimal, len(s.GasEstimates))
	for k, v := range s.GasEstimates {
		out.GasEstimates[k] = v
	}
	return out
}
