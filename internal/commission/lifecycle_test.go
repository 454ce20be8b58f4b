package commission

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/storage/memory"
	ledgertesting "github.com/sheikh-saqib/referral-commission-ledger/internal/testing"
)

func TestCreateMember_PendingDoesNotDistribute(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store, ledgertesting.Member{ID: "A"})
	ctx := context.Background()

	account, res, err := f.lifecycle.CreateMember(ctx, NewMember{ID: "B", Name: "Bea", ReferrerID: "A"})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, account.Status)
	require.Equal(t, "A", *account.ReferrerID)
	require.Zero(t, res.LevelsProcessed)
	requireBalance(t, f.store, "A", "0")

	res, err = f.lifecycle.Approve(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, 1, res.LevelsProcessed)
	requireBalance(t, f.store, "A", "50")
	require.Equal(t, models.StatusApproved, ledgertesting.Account(t, f.store, "B").Status)

	_, err = f.lifecycle.Approve(ctx, "B")
	require.ErrorIs(t, err, errs.ErrAlreadyApproved)
	requireBalance(t, f.store, "A", "50")
}

func TestCreateMember_ApprovedDistributesAtOnce(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")
	ctx := context.Background()

	account, res, err := f.lifecycle.CreateMember(ctx, NewMember{ID: "C", Name: "Cy", ReferrerID: "B", Status: models.StatusApproved})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, account.Status)
	require.Equal(t, ledgertesting.Epoch, account.CreatedAt)
	require.Equal(t, 2, res.LevelsProcessed)
	requireBalance(t, f.store, "B", "50")
	requireBalance(t, f.store, "A", "20")

	got, err := f.lifecycle.Member(ctx, "C")
	require.NoError(t, err)
	require.Equal(t, "Cy", got.Name)
}

func TestCreateMember_Validation(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "P", Status: models.StatusPending},
	)
	ctx := context.Background()

	tests := []struct {
		name string
		m    NewMember
		want error
	}{
		{"missing name", NewMember{ID: "X"}, errs.ErrInvalidArgument},
		{"missing id", NewMember{Name: "X"}, errs.ErrInvalidArgument},
		{"rejected on creation", NewMember{ID: "X", Name: "X", Status: models.StatusRejected}, errs.ErrInvalidArgument},
		{"self referral", NewMember{ID: "X", Name: "X", ReferrerID: "X"}, errs.ErrInvalidArgument},
		{"unknown referrer", NewMember{ID: "X", Name: "X", ReferrerID: "ghost"}, errs.ErrNotFound},
		{"pending referrer", NewMember{ID: "X", Name: "X", ReferrerID: "P"}, errs.ErrInvalidArgument},
		{"duplicate id", NewMember{ID: "A", Name: "A again"}, errs.ErrInvalidArgument},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.lifecycle.CreateMember(ctx, tt.m)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateMember_AtomicWithDistribution(t *testing.T) {
	t.Parallel()

	store := memory.NewMemoryStore()
	ledgertesting.SeedParams(t, store, map[string]string{"recruitment_fee": "100"})
	f := newFixture(t, store)
	ledgertesting.SeedMembers(t, store, ledgertesting.Member{ID: "A"})

	_, _, err := f.lifecycle.CreateMember(context.Background(), NewMember{ID: "B", Name: "Bo", ReferrerID: "A", Status: models.StatusApproved})
	require.ErrorIs(t, err, errs.ErrConfigMissing)

	_, err = f.lifecycle.Member(context.Background(), "B")
	require.ErrorIs(t, err, errs.ErrNotFound, "member creation rolled back with the failed distribution")
}

func TestRejectTransitions(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "P", Referrer: "A", Status: models.StatusPending},
	)
	ctx := context.Background()

	require.ErrorIs(t, f.lifecycle.Reject(ctx, "A"), errs.ErrInvalidTransition)
	require.NoError(t, f.lifecycle.Reject(ctx, "P"))
	require.ErrorIs(t, f.lifecycle.Reject(ctx, "P"), errs.ErrInvalidTransition)
	require.ErrorIs(t, f.lifecycle.Reject(ctx, "ghost"), errs.ErrNotFound)

	_, err := f.lifecycle.Approve(ctx, "P")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	requireBalance(t, f.store, "A", "0")
}

func TestSystemPaused(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "P", Referrer: "A", Status: models.StatusPending},
	)
	ctx := context.Background()

	require.NoError(t, f.params.SetPaused(ctx, true, "admin"))

	_, _, err := f.lifecycle.CreateMember(ctx, NewMember{ID: "X", Name: "X", ReferrerID: "A"})
	require.ErrorIs(t, err, errs.ErrSystemPaused)
	_, err = f.lifecycle.Approve(ctx, "P")
	require.ErrorIs(t, err, errs.ErrSystemPaused)

	require.NoError(t, f.params.SetPaused(ctx, false, "admin"))
	_, err = f.lifecycle.Approve(ctx, "P")
	require.NoError(t, err)
}

func TestSetCommissionRate_IsStoredButNotPaid(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")
	ctx := context.Background()

	rate := decimal.NewFromInt(90)
	require.NoError(t, f.lifecycle.SetCommissionRate(ctx, "A", &rate))
	a := ledgertesting.Account(t, f.store, "A")
	require.NotNil(t, a.CustomCommissionRate)
	require.True(t, rate.Equal(*a.CustomCommissionRate))

	_, err := f.engine.Distribute(ctx, "B", "Bo", "A")
	require.NoError(t, err)
	requireBalance(t, f.store, "A", "50")

	require.NoError(t, f.lifecycle.SetCommissionRate(ctx, "A", nil))
	require.Nil(t, ledgertesting.Account(t, f.store, "A").CustomCommissionRate)

	bad := decimal.NewFromInt(101)
	require.ErrorIs(t, f.lifecycle.SetCommissionRate(ctx, "A", &bad), errs.ErrInvalidArgument)
	require.ErrorIs(t, f.lifecycle.SetCommissionRate(ctx, "ghost", nil), errs.ErrNotFound)
}

func TestReports(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "B", Referrer: "A"},
		ledgertesting.Member{ID: "C", Referrer: "A"},
		ledgertesting.Member{ID: "P", Referrer: "A", Status: models.StatusPending},
		ledgertesting.Member{ID: "R", Referrer: "A", Status: models.StatusRejected},
	)
	ctx := context.Background()

	_, err := f.engine.Distribute(ctx, "B", "Bo", "A")
	require.NoError(t, err)
	_, err = f.engine.Distribute(ctx, "C", "Cy", "A")
	require.NoError(t, err)
	_, err = f.ledger.ManualAdjust(ctx, "B", decimal.NewFromInt(100), "prize")
	require.NoError(t, err)
	_, err = f.ledger.ManualAdjust(ctx, "B", decimal.NewFromInt(-100), "payout")
	require.NoError(t, err)

	stats, err := f.engine.DistributionStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalMembers)
	require.Equal(t, 2, stats.ZeroBalance, "B and C hold nothing")
	require.Equal(t, 2, stats.BrokeEven, "A earned 100, B earned 100")
	require.Equal(t, 0, stats.Profited)
	ledgertesting.RequireDecimal(t, "100", stats.TotalBalance, "total balance")

	counts, err := f.engine.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[models.MemberStatus]int{
		models.StatusApproved: 3,
		models.StatusPending:  1,
		models.StatusRejected: 1,
	}, counts)

	totals, err := f.engine.SystemTotals(ctx)
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "100", totals.TotalCoinsDistributed, "coins counter")
	ledgertesting.RequireDecimal(t, "200", totals.TotalRecruitmentFees, "fees counter")
}

func TestSetCommissionRate_RecordsAdminAction(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A")
	ctx := audit.WithActor(context.Background(), "ops-7")

	rate := decimal.RequireFromString("12.5")
	require.NoError(t, f.lifecycle.SetCommissionRate(ctx, "A", &rate))
	require.ErrorIs(t, f.lifecycle.SetCommissionRate(ctx, "ghost", &rate), errs.ErrNotFound)

	actions, err := audit.NewLog(f.store).Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1, "failed updates are not recorded")
	require.Equal(t, models.ActionSetCommissionRate, actions[0].ActionType)
	require.Equal(t, "ops-7", actions[0].AdminID)
	require.Equal(t, "A", *actions[0].TargetID)
	require.JSONEq(t, `{"rate":"12.5"}`, string(actions[0].Details))
}
