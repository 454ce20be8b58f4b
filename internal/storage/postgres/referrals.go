package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *pgTx) GetReferrer(ctx context.Context, memberID string) (string, bool, error) {
	const query = `SELECT referrer_id FROM accounts WHERE id = $1`

	var referrer sql.NullString
	if err := t.tx.QueryRowContext(ctx, query, memberID).Scan(&referrer); err != nil {
		return "", false, fmt.Errorf("member %s: %w", memberID, classify(err))
	}
	return referrer.String, referrer.Valid, nil
}

// InsertEdges writes every edge in one statement; the primary key on
// (descendant_id, level) rejects a second distribution for the same member.
func (t *pgTx) InsertEdges(ctx context.Context, edges []models.ReferralEdge) error {
	if len(edges) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(edges)*4)
	)
	sb.WriteString(`INSERT INTO referral_edges (descendant_id, ancestor_id, level, created_at) VALUES `)
	for i, e := range edges {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, e.DescendantID, e.AncestorID, e.Level, e.CreatedAt)
	}

	if _, err := t.tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("record edges for %s: %w", edges[0].DescendantID, classify(err))
	}
	return nil
}

func (t *pgTx) ListUpline(ctx context.Context, descendantID string) ([]models.ReferralEdge, error) {
	const query = `SELECT descendant_id, ancestor_id, level, created_at
	FROM referral_edges WHERE descendant_id = $1 ORDER BY level`

	rows, err := t.tx.QueryContext(ctx, query, descendantID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	edges := []models.ReferralEdge{}
	for rows.Next() {
		var e models.ReferralEdge
		if err := rows.Scan(&e.DescendantID, &e.AncestorID, &e.Level, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		edges = append(edges, e)
	}
	return edges, classify(rows.Err())
}

func (t *pgTx) ListDownline(ctx context.Context, ancestorID string, level int) ([]models.DownlineMember, error) {
	const query = `SELECT a.id, a.name, e.level, a.status, a.direct_recruit_count, a.created_at
	FROM referral_edges e
	JOIN accounts a ON a.id = e.descendant_id
	WHERE e.ancestor_id = $1 AND ($2 = 0 OR e.level = $2)
	ORDER BY e.level, a.created_at, a.id`

	rows, err := t.tx.QueryContext(ctx, query, ancestorID, level)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	members := []models.DownlineMember{}
	for rows.Next() {
		var m models.DownlineMember
		if err := rows.Scan(&m.MemberID, &m.Name, &m.Level, &m.Status, &m.DirectRecruitCount, &m.JoinedAt); err != nil {
			return nil, classify(err)
		}
		members = append(members, m)
	}
	return members, classify(rows.Err())
}

func (t *pgTx) CountDownlineByLevel(ctx context.Context, ancestorID string) (map[int]int, error) {
	const query = `SELECT level, COUNT(*) FROM referral_edges WHERE ancestor_id = $1 GROUP BY level`

	rows, err := t.tx.QueryContext(ctx, query, ancestorID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, classify(err)
		}
		out[level] = count
	}
	return out, classify(rows.Err())
}
