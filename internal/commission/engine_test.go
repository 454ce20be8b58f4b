package commission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/configstore"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/ledger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	modelevents "github.com/sheikh-saqib/referral-commission-ledger/internal/models/events"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/referral"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/retry"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/storage/memory"
	ledgertesting "github.com/sheikh-saqib/referral-commission-ledger/internal/testing"
)

type fixture struct {
	store     interfaces.Store
	engine    *Engine
	lifecycle *Lifecycle
	ledger    *ledger.Ledger
	graph     *referral.Graph
	params    *configstore.Store
	publisher *events.Recorder
}

func newFixture(t *testing.T, store interfaces.Store) fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(ledgertesting.Epoch)
	publisher := &events.Recorder{}
	params := configstore.New(store, clock)
	graph := referral.NewGraph(store, clock, nil)
	l := ledger.NewLedger(store, ledger.WithClock(clock), ledger.WithPublisher(publisher))
	engine := NewEngine(store, params, graph, l,
		WithClock(clock),
		WithPublisher(publisher),
		WithRetry(retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}),
	)
	return fixture{
		store:     store,
		engine:    engine,
		lifecycle: NewLifecycle(engine),
		ledger:    l,
		graph:     graph,
		params:    params,
		publisher: publisher,
	}
}

func newMemoryFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, store)
	return newFixture(t, store)
}

func requireBalance(t *testing.T, store interfaces.Store, id, want string) {
	t.Helper()
	ledgertesting.RequireDecimal(t, want, ledgertesting.Account(t, store, id).Balance, "balance of "+id)
}

func requireConserved(t *testing.T, f fixture, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		r, err := f.ledger.Reconcile(ctx, id)
		require.NoError(t, err)
		require.Truef(t, r.Consistent, "account %s: cached %s, ledger %s", id, r.CachedBalance, r.LedgerBalance)
	}
	ok, err := f.engine.AuditTotals(ctx)
	require.NoError(t, err)
	require.True(t, ok, "total_coins_distributed must equal the sum of commission entries")
}

func TestDistribute_FiveLevelChain(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B", "C", "D", "E")
	ledgertesting.SeedMembers(t, f.store, ledgertesting.Member{ID: "F", Referrer: "E"})
	ctx := context.Background()

	res, err := f.engine.Distribute(ctx, "F", "Frank", "E")
	require.NoError(t, err)
	require.Equal(t, 5, res.LevelsProcessed)
	ledgertesting.RequireDecimal(t, "100", res.TotalDistributed, "total distributed")

	for id, want := range map[string]string{"E": "50", "D": "20", "C": "15", "B": "10", "A": "5"} {
		requireBalance(t, f.store, id, want)
		a := ledgertesting.Account(t, f.store, id)
		require.Equal(t, 1, a.NetworkSize, "network size of %s", id)
		ledgertesting.RequireDecimal(t, want, a.TotalEarned, "total earned of "+id)
	}
	require.Equal(t, 1, ledgertesting.Account(t, f.store, "E").DirectRecruitCount)
	for _, id := range []string{"D", "C", "B", "A"} {
		require.Zero(t, ledgertesting.Account(t, f.store, id).DirectRecruitCount, "direct recruits of %s", id)
	}

	entries := ledgertesting.Entries(t, f.store, "D")
	require.Len(t, entries, 1)
	require.Equal(t, models.KindCommission, entries[0].Kind)
	require.Equal(t, 2, *entries[0].Level)
	require.Equal(t, "F", *entries[0].TriggeringMemberID)
	require.Equal(t, "Level 2 commission from Frank", entries[0].Description)

	edges, err := f.graph.UplineChain(ctx, "F")
	require.NoError(t, err)
	want := []models.ChainLink{
		{AncestorID: "E", Level: 1},
		{AncestorID: "D", Level: 2},
		{AncestorID: "C", Level: 3},
		{AncestorID: "B", Level: 4},
		{AncestorID: "A", Level: 5},
	}
	require.Len(t, edges, len(want))
	for i, e := range edges {
		require.Equal(t, want[i].AncestorID, e.AncestorID)
		require.Equal(t, want[i].Level, e.Level)
	}

	totals, err := f.engine.SystemTotals(ctx)
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "100", totals.TotalCoinsDistributed, "coins counter")
	ledgertesting.RequireDecimal(t, "100", totals.TotalRecruitmentFees, "fees counter")

	msgs := f.publisher.Messages(modelevents.TopicCommissionDistributed)
	require.Len(t, msgs, 1)
	event := msgs[0].Event.(modelevents.CommissionDistributed)
	require.Equal(t, "F", event.MemberID)
	require.Equal(t, "E", event.ReferrerID)
	require.Len(t, event.Payouts, 5)

	requireConserved(t, f, "A", "B", "C", "D", "E")
}

func TestDistribute_DeepChainStopsAtFiveLevels(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "root", "A", "B", "C", "D", "E")
	ledgertesting.SeedMembers(t, f.store, ledgertesting.Member{ID: "F", Referrer: "E"})

	res, err := f.engine.Distribute(context.Background(), "F", "Frank", "E")
	require.NoError(t, err)
	require.Equal(t, 5, res.LevelsProcessed)
	requireBalance(t, f.store, "A", "5")
	requireBalance(t, f.store, "root", "0")
	require.Zero(t, ledgertesting.Account(t, f.store, "root").NetworkSize)
}

func TestDistribute_RootReferrer(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "R"},
		ledgertesting.Member{ID: "N", Referrer: "R"},
	)
	ctx := context.Background()

	res, err := f.engine.Distribute(ctx, "N", "Nina", "R")
	require.NoError(t, err)
	require.Equal(t, 1, res.LevelsProcessed)
	ledgertesting.RequireDecimal(t, "50", res.TotalDistributed, "total distributed")
	requireBalance(t, f.store, "R", "50")

	edges, err := f.graph.UplineChain(ctx, "N")
	require.NoError(t, err)
	require.Len(t, edges, 1)

	totals, err := f.engine.SystemTotals(ctx)
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "50", totals.TotalCoinsDistributed, "coins counter")
	ledgertesting.RequireDecimal(t, "100", totals.TotalRecruitmentFees, "fees counter")
	requireConserved(t, f, "R")
}

func TestDistribute_NoReferrerDoesNothing(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store, ledgertesting.Member{ID: "solo"})
	ctx := context.Background()

	res, err := f.engine.Distribute(ctx, "solo", "Solo", "")
	require.NoError(t, err)
	require.Zero(t, res.LevelsProcessed)
	require.True(t, res.TotalDistributed.IsZero())

	totals, err := f.engine.SystemTotals(ctx)
	require.NoError(t, err)
	require.True(t, totals.TotalRecruitmentFees.IsZero(), "fee counter untouched without a chain")
	require.Empty(t, f.publisher.Messages(modelevents.TopicCommissionDistributed))
}

func TestDistribute_IsIdempotent(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B", "C")
	ctx := context.Background()

	_, err := f.engine.Distribute(ctx, "C", "Carl", "B")
	require.NoError(t, err)

	_, err = f.engine.Distribute(ctx, "C", "Carl", "B")
	require.ErrorIs(t, err, errs.ErrAlreadyDistributed)
	require.ErrorIs(t, err, errs.ErrDistributionFailed)

	requireBalance(t, f.store, "B", "50")
	requireBalance(t, f.store, "A", "20")
	require.Equal(t, 1, ledgertesting.Account(t, f.store, "B").NetworkSize)
	require.Len(t, ledgertesting.Entries(t, f.store, "B"), 1)

	totals, err := f.engine.SystemTotals(ctx)
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "70", totals.TotalCoinsDistributed, "coins counter")
	ledgertesting.RequireDecimal(t, "100", totals.TotalRecruitmentFees, "fees counter")
	requireConserved(t, f, "A", "B")
}

func TestDistribute_ConfigMissing(t *testing.T) {
	t.Parallel()

	store := memory.NewMemoryStore()
	ledgertesting.SeedParams(t, store, map[string]string{
		"recruitment_fee":    "100",
		"commission_level_1": "50",
		"commission_level_2": "20",
	})
	f := newFixture(t, store)
	ledgertesting.Chain(t, store, "A", "B")

	_, err := f.engine.Distribute(context.Background(), "B", "Bea", "A")
	require.ErrorIs(t, err, errs.ErrConfigMissing)
	require.ErrorIs(t, err, errs.ErrDistributionFailed)
	require.Contains(t, err.Error(), "commission_level_3")
	requireBalance(t, store, "A", "0")
}

func TestDistribute_UnknownReferrer(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store, ledgertesting.Member{ID: "N"})

	_, err := f.engine.Distribute(context.Background(), "N", "Nina", "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDistribute_ZeroPercentLevelStillCountsNetwork(t *testing.T) {
	t.Parallel()

	store := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, store)
	ledgertesting.SeedParams(t, store, map[string]string{"commission_level_2": "0"})
	f := newFixture(t, store)
	ledgertesting.Chain(t, store, "A", "B", "C")

	res, err := f.engine.Distribute(context.Background(), "C", "Cleo", "B")
	require.NoError(t, err)
	require.Equal(t, 2, res.LevelsProcessed)
	require.Empty(t, res.Payouts[1].EntryID)
	requireBalance(t, store, "A", "0")
	require.Empty(t, ledgertesting.Entries(t, store, "A"))
	require.Equal(t, 1, ledgertesting.Account(t, store, "A").NetworkSize)
	requireConserved(t, f, "A", "B")
}

func TestDistribute_FractionalAmounts(t *testing.T) {
	t.Parallel()

	store := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, store)
	ledgertesting.SeedParams(t, store, map[string]string{"recruitment_fee": "33.33", "commission_level_1": "12.5"})
	f := newFixture(t, store)
	ledgertesting.Chain(t, store, "A", "B")

	res, err := f.engine.Distribute(context.Background(), "B", "Bo", "A")
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "4.16625", res.TotalDistributed, "12.5% of 33.33")
	requireConserved(t, f, "A")
}

// failingTx makes the counter update fail after every credit and edge has
// been written.
type failingTx struct {
	interfaces.Tx
}

func (failingTx) IncrementParam(context.Context, string, decimal.Decimal, string, time.Time) error {
	return fmt.Errorf("disk full: %w", errs.ErrStorageFailure)
}

type failingStore struct {
	interfaces.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return fn(ctx, failingTx{tx})
	})
}

func TestDistribute_FailureLeavesNoPartialState(t *testing.T) {
	t.Parallel()

	mem := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, mem)
	ledgertesting.Chain(t, mem, "A", "B", "C", "D")
	f := newFixture(t, failingStore{mem})

	_, err := f.engine.Distribute(context.Background(), "D", "Dee", "C")
	require.ErrorIs(t, err, errs.ErrStorageFailure)
	require.ErrorIs(t, err, errs.ErrDistributionFailed)

	for _, id := range []string{"A", "B", "C"} {
		a := ledgertesting.Account(t, mem, id)
		require.True(t, a.Balance.IsZero(), "balance of %s", id)
		require.Zero(t, a.NetworkSize, "network size of %s", id)
		require.Empty(t, ledgertesting.Entries(t, mem, id))
	}
	edges, err := referral.NewGraph(mem, nil, nil).UplineChain(context.Background(), "D")
	require.NoError(t, err)
	require.Empty(t, edges)
	require.Empty(t, f.publisher.Messages(modelevents.TopicCommissionDistributed))
}

func TestDistribute_ConcurrentSiblings(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B", "C")

	const siblings = 20
	members := make([]ledgertesting.Member, siblings)
	for i := range members {
		members[i] = ledgertesting.Member{ID: fmt.Sprintf("kid-%02d", i), Referrer: "C"}
	}
	ledgertesting.SeedMembers(t, f.store, members...)

	g, ctx := errgroup.WithContext(context.Background())
	for _, m := range members {
		m := m
		g.Go(func() error {
			_, err := f.engine.Distribute(ctx, m.ID, "Kid", "C")
			return err
		})
	}
	require.NoError(t, g.Wait())

	requireBalance(t, f.store, "C", "1000")
	requireBalance(t, f.store, "B", "400")
	requireBalance(t, f.store, "A", "300")
	c := ledgertesting.Account(t, f.store, "C")
	require.Equal(t, siblings, c.DirectRecruitCount)
	require.Equal(t, siblings, c.NetworkSize)

	totals, err := f.engine.SystemTotals(context.Background())
	require.NoError(t, err)
	ledgertesting.RequireDecimal(t, "1700", totals.TotalCoinsDistributed, "coins counter")
	ledgertesting.RequireDecimal(t, "2000", totals.TotalRecruitmentFees, "fees counter")
	requireConserved(t, f, "A", "B", "C")
}

func TestDistribute_ConcurrentDuplicatesPayOnce(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")

	results := make(chan error, 10)
	g := errgroup.Group{}
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.engine.Distribute(context.Background(), "B", "Bo", "A")
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, errs.ErrAlreadyDistributed)
	}
	require.Equal(t, 1, succeeded)
	requireBalance(t, f.store, "A", "50")
}

// conflictOnce fails the first transaction with a storage conflict.
type conflictOnce struct {
	interfaces.Store
	failed bool
}

func (s *conflictOnce) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	if !s.failed {
		s.failed = true
		return fmt.Errorf("lock accounts: %w", errs.ErrStorageConflict)
	}
	return s.Store.WithTx(ctx, fn)
}

func TestOnMemberApproved_RetriesConflicts(t *testing.T) {
	t.Parallel()

	mem := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, mem)
	ledgertesting.Chain(t, mem, "A", "B")
	store := &conflictOnce{Store: mem}
	f := newFixture(t, store)

	res, err := f.engine.OnMemberApproved(context.Background(), "B", "A")
	require.NoError(t, err)
	require.True(t, store.failed)
	require.Equal(t, 1, res.LevelsProcessed)
	requireBalance(t, mem, "A", "50")

	entries := ledgertesting.Entries(t, mem, "A")
	require.Len(t, entries, 1)
	require.Equal(t, "Level 1 commission from Member B", entries[0].Description)
}

func TestOnMemberApproved_DoesNotRetryDomainErrors(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")
	ctx := context.Background()

	_, err := f.engine.OnMemberApproved(ctx, "B", "A")
	require.NoError(t, err)

	_, err = f.engine.OnMemberApproved(ctx, "B", "A")
	require.ErrorIs(t, err, errs.ErrAlreadyDistributed)
	require.False(t, errors.Is(err, errs.ErrStorageConflict))
}

func TestDistribute_PublishFailureDoesNotFailDistribution(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	f.publisher.Err = errors.New("broker unavailable")
	ledgertesting.Chain(t, f.store, "A", "B")

	_, err := f.engine.Distribute(context.Background(), "B", "Bo", "A")
	require.NoError(t, err)
	requireBalance(t, f.store, "A", "50")
}

func TestReversalKeepsAggregateCounterInLineWithCommissionEntries(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")
	ctx := context.Background()

	res, err := f.engine.Distribute(ctx, "B", "Bo", "A")
	require.NoError(t, err)

	_, err = f.ledger.Reverse(ctx, res.Payouts[0].EntryID, "chargeback")
	require.NoError(t, err)
	requireBalance(t, f.store, "A", "0")
	requireConserved(t, f, "A")
}

func TestOnMemberApproved_RefusesMembersNotApproved(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "X", Referrer: "A", Status: models.StatusPending},
		ledgertesting.Member{ID: "Y", Referrer: "A", Status: models.StatusPending},
	)
	ctx := context.Background()
	require.NoError(t, f.lifecycle.Reject(ctx, "X"))

	_, err := f.engine.OnMemberApproved(ctx, "X", "A")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	require.ErrorIs(t, err, errs.ErrDistributionFailed)

	_, err = f.engine.OnMemberApproved(ctx, "Y", "A")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	requireBalance(t, f.store, "A", "0")
	require.Empty(t, ledgertesting.Entries(t, f.store, "A"))
	require.Empty(t, f.publisher.Messages(modelevents.TopicCommissionDistributed))
}

func TestOnMemberApproved_RefusesForeignReferrer(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.SeedMembers(t, f.store,
		ledgertesting.Member{ID: "A"},
		ledgertesting.Member{ID: "B"},
		ledgertesting.Member{ID: "X", Referrer: "A"},
		ledgertesting.Member{ID: "R"},
	)
	ctx := context.Background()

	_, err := f.engine.OnMemberApproved(ctx, "X", "B")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.engine.OnMemberApproved(ctx, "R", "A")
	require.ErrorIs(t, err, errs.ErrInvalidArgument, "a root member has no referrer to pay")

	edges, err := f.graph.UplineChain(ctx, "X")
	require.NoError(t, err)
	require.Empty(t, edges)
	requireBalance(t, f.store, "A", "0")
	requireBalance(t, f.store, "B", "0")

	res, err := f.engine.OnMemberApproved(ctx, "X", "A")
	require.NoError(t, err)
	require.Equal(t, 1, res.LevelsProcessed)
	requireBalance(t, f.store, "A", "50")
	requireBalance(t, f.store, "B", "0")
}

func TestOnMemberApproved_RootMemberWithoutReferrer(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "R")

	res, err := f.engine.OnMemberApproved(context.Background(), "R", "")
	require.NoError(t, err)
	require.Zero(t, res.LevelsProcessed)
	require.True(t, res.TotalDistributed.IsZero())
}

// blockingPublisher holds every publish until its context ends.
type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ string, _ string, _ any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDistribute_SlowPublisherIsBounded(t *testing.T) {
	t.Parallel()

	store := memory.NewMemoryStore()
	ledgertesting.DefaultSchedule(t, store)
	ledgertesting.Chain(t, store, "A", "B")
	clock := clockwork.NewFakeClockAt(ledgertesting.Epoch)
	params := configstore.New(store, clock)
	l := ledger.NewLedger(store, ledger.WithClock(clock))
	engine := NewEngine(store, params, referral.NewGraph(store, clock, nil), l,
		WithClock(clock),
		WithPublisher(blockingPublisher{}),
		WithPublishTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := engine.Distribute(context.Background(), "B", "Bo", "A")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	requireBalance(t, store, "A", "50")
}

func TestDistribute_PublishesAfterCallerCancels(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	ledgertesting.Chain(t, f.store, "A", "B")

	ctx, cancel := context.WithCancel(context.Background())
	var published error
	pub := publisherFunc(func(pubCtx context.Context) error {
		cancel()
		published = pubCtx.Err()
		return nil
	})
	engine := NewEngine(f.store, f.params, f.graph, f.ledger, WithPublisher(pub))

	_, err := engine.Distribute(ctx, "B", "Bo", "A")
	require.NoError(t, err)
	require.NoError(t, published, "publish context is detached from the caller")
}

type publisherFunc func(ctx context.Context) error

func (f publisherFunc) Publish(ctx context.Context, _ string, _ string, _ any) error {
	return f(ctx)
}
