// Package ledgertesting holds fixtures shared by the package tests.
package ledgertesting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

// Epoch is the fixed start time used by fake clocks in tests.
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Member describes an account to create; an empty Referrer makes a root.
type Member struct {
	ID       string
	Referrer string
	Status   models.MemberStatus
}

// SeedMembers creates approved accounts with zero balances in the given
// order, so referrers must come before the members they refer.
func SeedMembers(t *testing.T, store interfaces.Store, members ...Member) {
	t.Helper()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx interfaces.Tx) error {
		for i, m := range members {
			status := m.Status
			if status == "" {
				status = models.StatusApproved
			}
			a := models.Account{
				ID:          m.ID,
				Name:        "Member " + m.ID,
				Status:      status,
				Balance:     decimal.Zero,
				TotalEarned: decimal.Zero,
				CreatedAt:   Epoch.Add(time.Duration(i) * time.Second),
			}
			if m.Referrer != "" {
				ref := m.Referrer
				a.ReferrerID = &ref
			}
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Chain seeds a straight line of approved members where ids[i] refers
// ids[i+1]; ids[0] is the root.
func Chain(t *testing.T, store interfaces.Store, ids ...string) {
	t.Helper()

	members := make([]Member, len(ids))
	for i, id := range ids {
		members[i] = Member{ID: id}
		if i > 0 {
			members[i].Referrer = ids[i-1]
		}
	}
	SeedMembers(t, store, members...)
}

// DefaultSchedule seeds a 100 coin fee with a 50/20/15/10/5 split.
func DefaultSchedule(t *testing.T, store interfaces.Store) {
	t.Helper()
	SeedParams(t, store, map[string]string{
		"recruitment_fee":         "100",
		"commission_level_1":      "50",
		"commission_level_2":      "20",
		"commission_level_3":      "15",
		"commission_level_4":      "10",
		"commission_level_5":      "5",
		"total_coins_distributed": "0",
		"total_recruitment_fees":  "0",
	})
}

// SeedParams upserts float parameters.
func SeedParams(t *testing.T, store interfaces.Store, params map[string]string) {
	t.Helper()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx interfaces.Tx) error {
		for k, v := range params {
			err := tx.UpsertParam(ctx, models.ConfigParameter{
				Key:       k,
				Value:     v,
				Type:      models.ParamFloat,
				UpdatedBy: "test",
				UpdatedAt: Epoch,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Account reads one account outside any service.
func Account(t *testing.T, store interfaces.Store, id string) models.Account {
	t.Helper()

	var a models.Account
	err := store.WithTx(context.Background(), func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		a, err = tx.GetAccount(ctx, id)
		return err
	})
	require.NoError(t, err)
	return a
}

// Entries lists every ledger entry of an account in insertion order.
func Entries(t *testing.T, store interfaces.Store, id string) []models.LedgerEntry {
	t.Helper()

	var entries []models.LedgerEntry
	err := store.WithTx(context.Background(), func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		entries, _, err = tx.ListEntries(ctx, id, models.EntryQuery{})
		return err
	})
	require.NoError(t, err)
	return entries
}

// RequireDecimal compares decimals by value.
func RequireDecimal(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", what, want, got.String())
}
