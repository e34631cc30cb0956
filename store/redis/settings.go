package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/types"
)

// Hash fields of the settings key. Per-chain gas estimates use gasPrefix + chain id.
const (
	fieldThresholdMode     = "thresholdMode"
	fieldMinProfitFixed    = "minProfitFixed"
	fieldMinProfitPercent  = "minProfitPercent"
	fieldMaxPositionSize   = "maxPositionSize"
	fieldSlippageTolerance = "slippageTolerance"
	fieldTradingFeeRate    = "tradingFeeRate"
	fieldAutoExecute       = "autoExecute"
	gasPrefix              = "gasEstimate:"
)

// Settings reads the settings hash on every call. Fields absent from the hash keep
// the fallback value; an unreachable server serves the fallback unchanged.
type Settings struct {
	rdb      Commands
	key      string
	fallback store.SettingsSource
	logger   *zap.Logger
}

// NewSettings reads the hash at key on every call, falling back to fallback when redis is down.
// An empty key uses "settings".
func NewSettings(rdb Commands, key string, fallback store.SettingsSource, logger *zap.Logger) *Settings {
	if key == "" {
		key = "settings"
	}
	return &Settings{
		rdb:      rdb,
		key:      key,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "redis-settings")),
	}
}

// Settings overlays the hash fields on the fallback settings
func (s *Settings) Settings(ctx context.Context) (types.Settings, error) {
	base, err := s.fallback.Settings(ctx)
	if err != nil {
		return types.Settings{}, err
	}

	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		s.logger.Warn("Failed to read settings hash, using fallback", zap.String("key", s.key), zap.Error(err))
		return base, nil
	}
	return apply(base, fields)
}

// Save writes settings back to the hash
func (s *Settings) Save(ctx context.Context, settings types.Settings) error {
	values := []interface{}{
		fieldThresholdMode, string(settings.ThresholdMode),
		fieldMinProfitFixed, settings.MinProfitFixed.String(),
		fieldMinProfitPercent, settings.MinProfitPercent.String(),
		fieldMaxPositionSize, settings.MaxPositionSize.String(),
		fieldSlippageTolerance, settings.SlippageTolerance.String(),
		fieldTradingFeeRate, settings.TradingFeeRate.String(),
		fieldAutoExecute, strconv.FormatBool(settings.AutoExecute),
	}
	for chainID, gas := range settings.GasEstimates {
		values = append(values, gasPrefix+strconv.FormatUint(chainID, 10), gas.String())
	}
	if err := s.rdb.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func apply(base types.Settings, fields map[string]string) (types.Settings, error) {
	out := store.CloneSettings(base)
	var problems []string

	setDecimal := func(field string, dst *decimal.Decimal) {
		raw, ok := fields[field]
		if !ok {
			return
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a number", field, raw))
			return
		}
		*dst = d
	}

	if raw, ok := fields[fieldThresholdMode]; ok {
		switch mode := types.ThresholdMode(strings.ToLower(strings.TrimSpace(raw))); mode {
		case types.ThresholdFixed, types.ThresholdPercent:
			out.ThresholdMode = mode
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown mode %q", fieldThresholdMode, raw))
		}
	}
	setDecimal(fieldMinProfitFixed, &out.MinProfitFixed)
	setDecimal(fieldMinProfitPercent, &out.MinProfitPercent)
	setDecimal(fieldMaxPositionSize, &out.MaxPositionSize)
	setDecimal(fieldSlippageTolerance, &out.SlippageTolerance)
	setDecimal(fieldTradingFeeRate, &out.TradingFeeRate)

	if raw, ok := fields[fieldAutoExecute]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a bool", fieldAutoExecute, raw))
		} else {
			out.AutoExecute = b
		}
	}

	for field, raw := range fields {
		if !strings.HasPrefix(field, gasPrefix) {
			continue
		}
		chainID, err := strconv.ParseUint(strings.TrimPrefix(field, gasPrefix), 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: bad chain id", field))
			continue
		}
		gas, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a number", field, raw))
			continue
		}
		out.GasEstimates[chainID] = gas
	}

	if len(problems) > 0 {
		return types.Settings{}, fmt.Errorf("invalid settings hash: %s", strings.Join(problems, "; "))
	}
	return out, nil
}
