package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *pgTx) InsertAdminAction(ctx context.Context, a models.AdminAction) error {
	const query = `INSERT INTO admin_actions (id, admin_id, action_type, target_id, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	details := a.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	if _, err := t.tx.ExecContext(ctx, query, a.ID, a.AdminID, a.ActionType, a.TargetID, string(details), a.CreatedAt); err != nil {
		return fmt.Errorf("insert admin action %s: %w", a.ActionType, classify(err))
	}
	return nil
}

func (t *pgTx) ListAdminActions(ctx context.Context, limit int) ([]models.AdminAction, error) {
	const query = `SELECT id, admin_id, action_type, target_id, details, created_at
	FROM admin_actions
	ORDER BY seq DESC
	LIMIT $1`

	rows, err := t.tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", classify(err))
	}
	defer rows.Close()

	out := []models.AdminAction{}
	for rows.Next() {
		var (
			a       models.AdminAction
			target  sql.NullString
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.AdminID, &a.ActionType, &target, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin action: %w", classify(err))
		}
		if target.Valid {
			a.TargetID = &target.String
		}
		a.Details = details
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
