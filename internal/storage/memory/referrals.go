package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *memTx) GetReferrer(_ context.Context, memberID string) (string, bool, error) {
	a, ok := t.st.accounts[memberID]
	if !ok {
		return "", false, fmt.Errorf("member %s: %w", memberID, errs.ErrNotFound)
	}
	if a.ReferrerID == nil {
		return "", false, nil
	}
	return *a.ReferrerID, true, nil
}

func (t *memTx) InsertEdges(_ context.Context, edges []models.ReferralEdge) error {
	for _, e := range edges {
		if _, ok := t.st.accounts[e.DescendantID]; !ok {
			return fmt.Errorf("member %s: %w", e.DescendantID, errs.ErrNotFound)
		}
		if _, ok := t.st.accounts[e.AncestorID]; !ok {
			return fmt.Errorf("member %s: %w", e.AncestorID, errs.ErrNotFound)
		}
		key := edgeKey{descendant: e.DescendantID, level: e.Level}
		if _, exists := t.st.edges[key]; exists {
			return fmt.Errorf("edge (%s, level %d): %w", e.DescendantID, e.Level, errs.ErrAlreadyDistributed)
		}
		put(t, t.st.edges, key, e)
	}
	return nil
}

func (t *memTx) ListUpline(_ context.Context, descendantID string) ([]models.ReferralEdge, error) {
	out := []models.ReferralEdge{}
	for level := 1; level <= models.MaxLevels; level++ {
		if e, ok := t.st.edges[edgeKey{descendant: descendantID, level: level}]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) ListDownline(_ context.Context, ancestorID string, level int) ([]models.DownlineMember, error) {
	out := []models.DownlineMember{}
	for _, e := range t.st.edges {
		if e.AncestorID != ancestorID || (level != 0 && e.Level != level) {
			continue
		}
		a := t.st.accounts[e.DescendantID]
		out = append(out, models.DownlineMember{
			MemberID:           a.ID,
			Name:               a.Name,
			Level:              e.Level,
			Status:             a.Status,
			DirectRecruitCount: a.DirectRecruitCount,
			JoinedAt:           a.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out, nil
}

func (t *memTx) CountDownlineByLevel(_ context.Context, ancestorID string) (map[int]int, error) {
	out := make(map[int]int)
	for _, e := range t.st.edges {
		if e.AncestorID == ancestorID {
			out[e.Level]++
		}
	}
	return out, nil
}
