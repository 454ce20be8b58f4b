package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *memTx) CreateAccount(_ context.Context, account models.Account) error {
	if _, exists := t.st.accounts[account.ID]; exists {
		return fmt.Errorf("account %s: %w: already exists", account.ID, errs.ErrInvalidArgument)
	}
	if account.ReferrerID != nil {
		if _, ok := t.st.accounts[*account.ReferrerID]; !ok {
			return fmt.Errorf("referrer %s: %w", *account.ReferrerID, errs.ErrNotFound)
		}
	}
	put(t, t.st.accounts, account.ID, account)
	return nil
}

func (t *memTx) GetAccount(_ context.Context, id string) (models.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return a, nil
}

// LockAccounts only needs to look the rows up: the transaction already holds
// the whole store.
func (t *memTx) LockAccounts(ctx context.Context, ids []string) (map[string]models.Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]models.Account, len(sorted))
	for _, id := range sorted {
		a, err := t.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) SetBalance(_ context.Context, id string, balance, totalEarned decimal.Decimal) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	a.Balance = balance
	a.TotalEarned = totalEarned
	put(t, t.st.accounts, id, a)
	return nil
}

func (t *memTx) IncrementNetworkCounters(_ context.Context, id string, directRecruits, networkSize int) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	a.DirectRecruitCount += directRecruits
	a.NetworkSize += networkSize
	put(t, t.st.accounts, id, a)
	return nil
}

func (t *memTx) SetStatus(_ context.Context, id string, status models.MemberStatus) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	a.Status = status
	put(t, t.st.accounts, id, a)
	return nil
}

func (t *memTx) SetCustomCommissionRate(_ context.Context, id string, rate *decimal.Decimal) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	if rate != nil {
		r := *rate
		rate = &r
	}
	a.CustomCommissionRate = rate
	put(t, t.st.accounts, id, a)
	return nil
}

func (t *memTx) CountByStatus(_ context.Context) (map[models.MemberStatus]int, error) {
	out := make(map[models.MemberStatus]int)
	for _, a := range t.st.accounts {
		out[a.Status]++
	}
	return out, nil
}

func (t *memTx) DistributionStats(_ context.Context, breakEven decimal.Decimal) (models.DistributionStats, error) {
	stats := models.DistributionStats{TotalBalance: decimal.Zero}
	for _, a := range t.st.accounts {
		if a.Status != models.StatusApproved {
			continue
		}
		stats.TotalMembers++
		if a.Balance.IsZero() {
			stats.ZeroBalance++
		}
		switch a.TotalEarned.Cmp(breakEven) {
		case 0:
			stats.BrokeEven++
		case 1:
			stats.Profited++
		}
		stats.TotalBalance = stats.TotalBalance.Add(a.Balance)
	}
	return stats, nil
}
