package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *memTx) GetParams(_ context.Context, keys []string) ([]models.ConfigParameter, error) {
	out := make([]models.ConfigParameter, 0, len(keys))
	for _, k := range keys {
		if p, ok := t.st.params[k]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) AllParams(_ context.Context) ([]models.ConfigParameter, error) {
	out := make([]models.ConfigParameter, 0, len(t.st.params))
	for _, p := range t.st.params {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memTx) UpsertParam(_ context.Context, param models.ConfigParameter) error {
	put(t, t.st.params, param.Key, param)
	return nil
}

func (t *memTx) IncrementParam(_ context.Context, key string, delta decimal.Decimal, updatedBy string, at time.Time) error {
	p, ok := t.st.params[key]
	if !ok {
		p = models.ConfigParameter{Key: key, Value: "0", Type: models.ParamFloat}
	}
	current, err := decimal.NewFromString(p.Value)
	if err != nil {
		return fmt.Errorf("parameter %s is not numeric: %w", key, errs.ErrStorageFailure)
	}
	p.Value = current.Add(delta).String()
	p.UpdatedBy = updatedBy
	p.UpdatedAt = at
	put(t, t.st.params, key, p)
	return nil
}
