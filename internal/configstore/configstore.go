// Package configstore is the typed parameter store: commission percentages,
// the recruitment fee, the pause switch and the global aggregate counters.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

const (
	KeyRecruitmentFee        = "recruitment_fee"
	KeyTotalCoinsDistributed = "total_coins_distributed"
	KeyTotalRecruitmentFees  = "total_recruitment_fees"
	KeySystemPaused          = "system_paused"

	updatedBySystem = "system"
)

var hundred = decimal.NewFromInt(100)

// CommissionLevelKey is the key holding the percentage paid at level.
func CommissionLevelKey(level int) string {
	return fmt.Sprintf("commission_level_%d", level)
}

type Store struct {
	store interfaces.Store
	clock clockwork.Clock
}

func New(store interfaces.Store, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{store: store, clock: clock}
}

// Decode casts a stored parameter according to its type tag: integer yields
// int64, float yields decimal.Decimal, boolean yields bool, json yields the
// decoded value and anything else the raw string.
func Decode(p models.ConfigParameter) (any, error) {
	raw := strings.TrimSpace(p.Value)
	switch p.Type {
	case models.ParamInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w: not an integer: %q", p.Key, errs.ErrInvalidArgument, p.Value)
		}
		return v, nil
	case models.ParamFloat:
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w: not a number: %q", p.Key, errs.ErrInvalidArgument, p.Value)
		}
		return v, nil
	case models.ParamBoolean:
		return raw == "true" || raw == "1", nil
	case models.ParamJSON:
		var v any
		if err := json.Unmarshal([]byte(p.Value), &v); err != nil {
			return nil, fmt.Errorf("parameter %s: %w: invalid json: %v", p.Key, errs.ErrInvalidArgument, err)
		}
		return v, nil
	default:
		return p.Value, nil
	}
}

// encode renders value for storage and infers its type tag.
func encode(value any) (string, models.ParamType, error) {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v), models.ParamInteger, nil
	case int64:
		return strconv.FormatInt(v, 10), models.ParamInteger, nil
	case float64:
		return decimal.NewFromFloat(v).String(), models.ParamFloat, nil
	case decimal.Decimal:
		return v.String(), models.ParamFloat, nil
	case bool:
		return strconv.FormatBool(v), models.ParamBoolean, nil
	case string:
		return v, models.ParamString, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return "", "", fmt.Errorf("%w: invalid json", errs.ErrInvalidArgument)
		}
		return string(v), models.ParamJSON, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		return string(b), models.ParamJSON, nil
	}
}

func (s *Store) GetTx(ctx context.Context, tx interfaces.ConfigTx, key string) (any, error) {
	params, err := tx.GetParams(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("parameter %s: %w", key, errs.ErrConfigMissing)
	}
	return Decode(params[0])
}

// GetMultipleTx decodes the parameters present among keys; missing keys are
// left out of the result.
func (s *Store) GetMultipleTx(ctx context.Context, tx interfaces.ConfigTx, keys []string) (map[string]any, error) {
	params, err := tx.GetParams(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(params))
	for _, p := range params {
		v, err := Decode(p)
		if err != nil {
			return nil, err
		}
		out[p.Key] = v
	}
	return out, nil
}

// DecimalTx reads a numeric parameter.
func (s *Store) DecimalTx(ctx context.Context, tx interfaces.ConfigTx, key string) (decimal.Decimal, error) {
	v, err := s.GetTx(ctx, tx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return AsDecimal(key, v)
}

// AsDecimal converts a decoded numeric parameter.
func AsDecimal(key string, v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err == nil {
			return d, nil
		}
	}
	return decimal.Zero, fmt.Errorf("parameter %s: %w: %v is not numeric", key, errs.ErrInvalidArgument, v)
}

// commissionLevel reports the level a commission_level_N key configures.
func commissionLevel(key string) (int, bool) {
	n, ok := strings.CutPrefix(key, "commission_level_")
	if !ok {
		return 0, false
	}
	level, err := strconv.Atoi(n)
	if err != nil || level < 1 || level > models.MaxLevels {
		return 0, false
	}
	return level, true
}

// checkValue enforces the domain of the parameters the engine reads: level
// percentages lie in 0..100, the fee is not negative and the pause switch is
// a boolean.
func checkValue(key string, decoded any) error {
	switch {
	case key == KeyRecruitmentFee:
		fee, err := AsDecimal(key, decoded)
		if err != nil {
			return err
		}
		if fee.IsNegative() {
			return fmt.Errorf("parameter %s: %w: must not be negative, got %s", key, errs.ErrInvalidArgument, fee)
		}
	case key == KeySystemPaused:
		if _, ok := decoded.(bool); !ok {
			return fmt.Errorf("parameter %s: %w: must be a boolean", key, errs.ErrInvalidArgument)
		}
	default:
		if _, ok := commissionLevel(key); !ok {
			return nil
		}
		pct, err := AsDecimal(key, decoded)
		if err != nil {
			return err
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return fmt.Errorf("parameter %s: %w: must be between 0 and 100, got %s", key, errs.ErrInvalidArgument, pct)
		}
	}
	return nil
}

// SetTx writes value under key. An existing parameter keeps its type tag and
// the new value must decode under it. The aggregate counters are owned by
// the engine and cannot be set.
func (s *Store) SetTx(ctx context.Context, tx interfaces.ConfigTx, key string, value any, updatedBy string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty parameter key", errs.ErrInvalidArgument)
	}
	if key == KeyTotalCoinsDistributed || key == KeyTotalRecruitmentFees {
		return fmt.Errorf("parameter %s: %w: counters only move with distributions", key, errs.ErrInvalidArgument)
	}
	raw, typ, err := encode(value)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", key, err)
	}

	existing, err := tx.GetParams(ctx, []string{key})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		typ = existing[0].Type
	}

	p := models.ConfigParameter{
		Key:       key,
		Value:     raw,
		Type:      typ,
		UpdatedBy: updatedBy,
		UpdatedAt: s.clock.Now().UTC(),
	}
	decoded, err := Decode(p)
	if err != nil {
		return err
	}
	if err := checkValue(key, decoded); err != nil {
		return err
	}
	return tx.UpsertParam(ctx, p)
}

// IncrementTx adds delta to a counter at the storage layer.
func (s *Store) IncrementTx(ctx context.Context, tx interfaces.ConfigTx, key string, delta decimal.Decimal) error {
	return tx.IncrementParam(ctx, key, delta, updatedBySystem, s.clock.Now().UTC())
}

func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var v any
	err := s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		v, err = s.GetTx(ctx, tx, key)
		return err
	})
	return v, err
}

func (s *Store) GetMultiple(ctx context.Context, keys []string) (map[string]any, error) {
	var out map[string]any
	err := s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		out, err = s.GetMultipleTx(ctx, tx, keys)
		return err
	})
	return out, err
}

// All returns every parameter, decoded.
func (s *Store) All(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		params, err := tx.AllParams(ctx)
		if err != nil {
			return err
		}
		for _, p := range params {
			v, err := Decode(p)
			if err != nil {
				return err
			}
			out[p.Key] = v
		}
		return nil
	})
	return out, err
}

// Set writes one parameter and records the change in the audit trail.
func (s *Store) Set(ctx context.Context, key string, value any, updatedBy string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if err := s.SetTx(ctx, tx, key, value, updatedBy); err != nil {
			return err
		}
		return audit.RecordTx(ctx, tx, s.clock.Now(), updatedBy, models.ActionUpdateConfig, key,
			map[string]any{"key": key, "value": value})
	})
}

func (s *Store) Increment(ctx context.Context, key string, delta decimal.Decimal) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return s.IncrementTx(ctx, tx, key, delta)
	})
}

// PausedTx reports the pause switch; an absent switch means running.
func (s *Store) PausedTx(ctx context.Context, tx interfaces.ConfigTx) (bool, error) {
	v, err := s.GetMultipleTx(ctx, tx, []string{KeySystemPaused})
	if err != nil {
		return false, err
	}
	paused, _ := v[KeySystemPaused].(bool)
	return paused, nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool, updatedBy string) error {
	action := models.ActionResumeSystem
	if paused {
		action = models.ActionPauseSystem
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		err := tx.UpsertParam(ctx, models.ConfigParameter{
			Key:       KeySystemPaused,
			Value:     strconv.FormatBool(paused),
			Type:      models.ParamBoolean,
			UpdatedBy: updatedBy,
			UpdatedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return audit.RecordTx(ctx, tx, s.clock.Now(), updatedBy, action, KeySystemPaused, map[string]bool{"paused": paused})
	})
}

// Totals reads the aggregate counters; absent counters read as zero.
func (s *Store) Totals(ctx context.Context) (models.SystemTotals, error) {
	totals := models.SystemTotals{TotalCoinsDistributed: decimal.Zero, TotalRecruitmentFees: decimal.Zero}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		v, err := s.GetMultipleTx(ctx, tx, []string{KeyTotalCoinsDistributed, KeyTotalRecruitmentFees})
		if err != nil {
			return err
		}
		if raw, ok := v[KeyTotalCoinsDistributed]; ok {
			if totals.TotalCoinsDistributed, err = AsDecimal(KeyTotalCoinsDistributed, raw); err != nil {
				return err
			}
		}
		if raw, ok := v[KeyTotalRecruitmentFees]; ok {
			if totals.TotalRecruitmentFees, err = AsDecimal(KeyTotalRecruitmentFees, raw); err != nil {
				return err
			}
		}
		return nil
	})
	return totals, err
}

// Seed writes the defaults of a fresh deployment for every key not yet set.
func (s *Store) Seed(ctx context.Context, fee decimal.Decimal, percentages []decimal.Decimal) error {
	defaults := map[string]models.ConfigParameter{
		KeyRecruitmentFee:        {Value: fee.String(), Type: models.ParamFloat},
		KeyTotalCoinsDistributed: {Value: "0", Type: models.ParamFloat},
		KeyTotalRecruitmentFees:  {Value: "0", Type: models.ParamFloat},
		KeySystemPaused:          {Value: "false", Type: models.ParamBoolean},
	}
	for i, pct := range percentages {
		defaults[CommissionLevelKey(i+1)] = models.ConfigParameter{Value: pct.String(), Type: models.ParamFloat}
	}

	return s.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		keys := make([]string, 0, len(defaults))
		for k := range defaults {
			keys = append(keys, k)
		}
		existing, err := tx.GetParams(ctx, keys)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(existing))
		for _, p := range existing {
			present[p.Key] = true
		}
		for key, p := range defaults {
			if present[key] {
				continue
			}
			p.Key = key
			p.UpdatedBy = updatedBySystem
			p.UpdatedAt = s.clock.Now().UTC()
			if err := tx.UpsertParam(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}
