package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *pgTx) queryParams(ctx context.Context, query string, args ...any) ([]models.ConfigParameter, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	params := []models.ConfigParameter{}
	for rows.Next() {
		var p models.ConfigParameter
		if err := rows.Scan(&p.Key, &p.Value, &p.Type, &p.UpdatedBy, &p.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		params = append(params, p)
	}
	return params, classify(rows.Err())
}

func (t *pgTx) GetParams(ctx context.Context, keys []string) ([]models.ConfigParameter, error) {
	const query = `SELECT key, value, type, updated_by, updated_at
	FROM config_parameters WHERE key = ANY($1)`
	return t.queryParams(ctx, query, pq.Array(keys))
}

func (t *pgTx) AllParams(ctx context.Context) ([]models.ConfigParameter, error) {
	const query = `SELECT key, value, type, updated_by, updated_at
	FROM config_parameters ORDER BY key`
	return t.queryParams(ctx, query)
}

func (t *pgTx) UpsertParam(ctx context.Context, p models.ConfigParameter) error {
	const query = `INSERT INTO config_parameters (key, value, type, updated_by, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (key) DO UPDATE
	SET value = EXCLUDED.value, type = EXCLUDED.type,
		updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

	_, err := t.tx.ExecContext(ctx, query, p.Key, p.Value, p.Type, p.UpdatedBy, p.UpdatedAt)
	return classify(err)
}

// IncrementParam adds in SQL so concurrent increments never lose an update.
func (t *pgTx) IncrementParam(ctx context.Context, key string, delta decimal.Decimal, updatedBy string, at time.Time) error {
	const query = `INSERT INTO config_parameters (key, value, type, updated_by, updated_at)
	VALUES ($1, $2, 'float', $3, $4)
	ON CONFLICT (key) DO UPDATE
	SET value = (CAST(config_parameters.value AS NUMERIC) + CAST(EXCLUDED.value AS NUMERIC))::text,
		updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

	_, err := t.tx.ExecContext(ctx, query, key, delta.String(), updatedBy, at)
	return classify(err)
}
