package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

const accountColumns = `id, name, referrer_id, status, balance, total_earned,
	direct_recruit_count, network_size, custom_commission_rate, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		a        models.Account
		referrer sql.NullString
		rate     decimal.NullDecimal
	)
	err := row.Scan(
		&a.ID,
		&a.Name,
		&referrer,
		&a.Status,
		&a.Balance,
		&a.TotalEarned,
		&a.DirectRecruitCount,
		&a.NetworkSize,
		&rate,
		&a.CreatedAt,
	)
	if err != nil {
		return models.Account{}, err
	}
	if referrer.Valid {
		a.ReferrerID = &referrer.String
	}
	if rate.Valid {
		a.CustomCommissionRate = &rate.Decimal
	}
	return a, nil
}

func (t *pgTx) CreateAccount(ctx context.Context, a models.Account) error {
	const query = `INSERT INTO accounts (id, name, referrer_id, status, balance, total_earned,
		direct_recruit_count, network_size, custom_commission_rate, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.Name, a.ReferrerID, a.Status, a.Balance, a.TotalEarned,
		a.DirectRecruitCount, a.NetworkSize, nullDecimal(a.CustomCommissionRate), a.CreatedAt)
	return classify(err)
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Account{}, fmt.Errorf("account %s: %w", id, classify(err))
	}
	return a, nil
}

// LockAccounts relies on the row-locking step running above the sort, so
// locks are acquired in id order and concurrent callers cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, ids []string) (map[string]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := t.tx.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string]models.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err)
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
		}
	}
	return out, nil
}

func (t *pgTx) SetBalance(ctx context.Context, id string, balance, totalEarned decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = $2, total_earned = $3 WHERE id = $1`
	return t.execOne(ctx, "account "+id, query, id, balance, totalEarned)
}

func (t *pgTx) IncrementNetworkCounters(ctx context.Context, id string, directRecruits, networkSize int) error {
	const query = `UPDATE accounts
	SET direct_recruit_count = direct_recruit_count + $2, network_size = network_size + $3
	WHERE id = $1`
	return t.execOne(ctx, "account "+id, query, id, directRecruits, networkSize)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, status models.MemberStatus) error {
	const query = `UPDATE accounts SET status = $2 WHERE id = $1`
	return t.execOne(ctx, "account "+id, query, id, status)
}

func (t *pgTx) SetCustomCommissionRate(ctx context.Context, id string, rate *decimal.Decimal) error {
	const query = `UPDATE accounts SET custom_commission_rate = $2 WHERE id = $1`
	return t.execOne(ctx, "account "+id, query, id, nullDecimal(rate))
}

func (t *pgTx) CountByStatus(ctx context.Context) (map[models.MemberStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM accounts GROUP BY status`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[models.MemberStatus]int)
	for rows.Next() {
		var (
			status models.MemberStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, classify(err)
		}
		out[status] = count
	}
	return out, classify(rows.Err())
}

func (t *pgTx) DistributionStats(ctx context.Context, breakEven decimal.Decimal) (models.DistributionStats, error) {
	const query = `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE balance = 0),
		COUNT(*) FILTER (WHERE total_earned = $1),
		COUNT(*) FILTER (WHERE total_earned > $1),
		COALESCE(SUM(balance), 0)
	FROM accounts WHERE status = 'approved'`

	var s models.DistributionStats
	err := t.tx.QueryRowContext(ctx, query, breakEven).Scan(
		&s.TotalMembers, &s.ZeroBalance, &s.BrokeEven, &s.Profited, &s.TotalBalance)
	if err != nil {
		return models.DistributionStats{}, classify(err)
	}
	return s, nil
}

// execOne runs an UPDATE expected to touch exactly one row.
func (t *pgTx) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
