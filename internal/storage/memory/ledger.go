package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *memTx) InsertEntry(_ context.Context, entry *models.LedgerEntry) error {
	if _, ok := t.st.accounts[entry.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", entry.AccountID, errs.ErrNotFound)
	}
	if _, exists := t.st.entryIdx[entry.ID]; exists {
		return fmt.Errorf("entry %s: %w: duplicate id", entry.ID, errs.ErrStorageFailure)
	}
	if entry.ReversesEntryID != nil {
		original := *entry.ReversesEntryID
		if _, ok := t.st.entryIdx[original]; !ok {
			return fmt.Errorf("entry %s: %w", original, errs.ErrNotFound)
		}
		if _, reversed := t.st.reversals[original]; reversed {
			return fmt.Errorf("entry %s: %w", original, errs.ErrAlreadyReversed)
		}
		put(t, t.st.reversals, original, entry.ID)
	}

	n, seq := len(t.st.entries), t.st.seq
	t.st.seq++
	entry.Seq = t.st.seq
	put(t, t.st.entryIdx, entry.ID, n)
	t.st.entries = append(t.st.entries, *entry)
	t.onRollback(func() {
		t.st.entries = t.st.entries[:n]
		t.st.seq = seq
	})
	return nil
}

func (t *memTx) GetEntry(_ context.Context, id string) (models.LedgerEntry, error) {
	i, ok := t.st.entryIdx[id]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("entry %s: %w", id, errs.ErrNotFound)
	}
	return t.st.entries[i], nil
}

func (t *memTx) ReversalOf(_ context.Context, id string) (string, bool, error) {
	rev, ok := t.st.reversals[id]
	return rev, ok, nil
}

func (t *memTx) ListEntries(_ context.Context, accountID string, q models.EntryQuery) ([]models.LedgerEntry, int, error) {
	var matched []models.LedgerEntry
	for _, e := range t.st.entries {
		if e.AccountID == accountID {
			matched = append(matched, e)
		}
	}
	total := len(matched)

	sort.SliceStable(matched, func(i, j int) bool {
		c := compareEntries(matched[i], matched[j], q.SortBy)
		if c == 0 {
			c = cmpInt64(matched[i].Seq, matched[j].Seq)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.Offset >= len(matched) {
		return []models.LedgerEntry{}, total, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (t *memTx) SumEntries(_ context.Context, accountID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) SumEntriesByKind(_ context.Context, kind models.EntryKind) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.entries {
		if e.Kind == kind {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func compareEntries(a, b models.LedgerEntry, field models.EntrySortField) int {
	switch field {
	case models.SortByAmount:
		return a.Amount.Cmp(b.Amount)
	case models.SortByKind:
		return strings.Compare(string(a.Kind), string(b.Kind))
	case models.SortByLevel:
		// NULL levels sort last ascending, like postgres.
		switch {
		case a.Level == nil && b.Level == nil:
			return 0
		case a.Level == nil:
			return 1
		case b.Level == nil:
			return -1
		}
		return cmpInt64(int64(*a.Level), int64(*b.Level))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
