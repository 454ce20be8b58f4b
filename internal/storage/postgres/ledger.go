package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

const entryColumns = `id, seq, account_id, amount, kind, level, triggering_member_id,
	reverses_entry_id, description, balance_after, created_at`

// sortColumns whitelists the ORDER BY targets.
var sortColumns = map[models.EntrySortField]string{
	models.SortByCreatedAt: "created_at",
	models.SortByAmount:    "amount",
	models.SortByKind:      "kind",
	models.SortByLevel:     "level",
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		level     sql.NullInt64
		triggerID sql.NullString
		reverses  sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.AccountID,
		&e.Amount,
		&e.Kind,
		&level,
		&triggerID,
		&reverses,
		&e.Description,
		&e.BalanceAfter,
		&e.CreatedAt,
	)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if level.Valid {
		l := int(level.Int64)
		e.Level = &l
	}
	if triggerID.Valid {
		e.TriggeringMemberID = &triggerID.String
	}
	if reverses.Valid {
		e.ReversesEntryID = &reverses.String
	}
	return e, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, account_id, amount, kind, level, triggering_member_id,
		reverses_entry_id, description, balance_after, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING seq`

	err := t.tx.QueryRowContext(ctx, query,
		e.ID, e.AccountID, e.Amount, e.Kind, e.Level, e.TriggeringMemberID,
		e.ReversesEntryID, e.Description, e.BalanceAfter, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert entry for account %s: %w", e.AccountID, classify(err))
	}
	return nil
}

// Entry ids are UUIDs; anything else cannot name a row and would otherwise
// fail in the driver as invalid input syntax.
func validEntryID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (t *pgTx) GetEntry(ctx context.Context, id string) (models.LedgerEntry, error) {
	if !validEntryID(id) {
		return models.LedgerEntry{}, fmt.Errorf("entry %s: %w", id, errs.ErrNotFound)
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`

	e, err := scanEntry(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("entry %s: %w", id, classify(err))
	}
	return e, nil
}

func (t *pgTx) ReversalOf(ctx context.Context, id string) (string, bool, error) {
	if !validEntryID(id) {
		return "", false, nil
	}
	const query = `SELECT id FROM ledger_entries WHERE reverses_entry_id = $1`

	var reversalID string
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&reversalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return reversalID, true, nil
}

func (t *pgTx) ListEntries(ctx context.Context, accountID string, q models.EntryQuery) ([]models.LedgerEntry, int, error) {
	var total int
	const countQuery = `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`
	if err := t.tx.QueryRowContext(ctx, countQuery, accountID).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}
	limit := any(nil)
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE account_id = $1
	ORDER BY %s %s, seq %s
	LIMIT $2 OFFSET $3`, entryColumns, column, direction, direction)

	rows, err := t.tx.QueryContext(ctx, query, accountID, limit, q.Offset)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, classify(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return entries, total, nil
}

func (t *pgTx) SumEntries(ctx context.Context, accountID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`

	var sum decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, accountID).Scan(&sum); err != nil {
		return decimal.Zero, classify(err)
	}
	return sum, nil
}

func (t *pgTx) SumEntriesByKind(ctx context.Context, kind models.EntryKind) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE kind = $1`

	var sum decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, kind).Scan(&sum); err != nil {
		return decimal.Zero, classify(err)
	}
	return sum, nil
}
