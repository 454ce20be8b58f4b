package referral

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/storage/memory"
	ledgertesting "github.com/sheikh-saqib/referral-commission-ledger/internal/testing"
)

func newGraph(t *testing.T) (*Graph, *memory.MemoryStore) {
	t.Helper()
	store := memory.NewMemoryStore()
	return NewGraph(store, clockwork.NewFakeClockAt(ledgertesting.Epoch), nil), store
}

func links(pairs ...any) []models.ChainLink {
	out := []models.ChainLink{}
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, models.ChainLink{AncestorID: pairs[i].(string), Level: pairs[i+1].(int)})
	}
	return out
}

func TestResolveUplineChain(t *testing.T) {
	t.Parallel()

	g, store := newGraph(t)
	ledgertesting.Chain(t, store, "r", "a", "b", "c", "d", "e", "f", "g")
	ctx := context.Background()

	tests := []struct {
		name     string
		start    string
		maxDepth int
		want     []models.ChainLink
	}{
		{"root has no upline", "r", 5, links()},
		{"one hop", "a", 5, links("r", 1)},
		{"truncated at max levels", "g", 5, links("f", 1, "e", 2, "d", 3, "c", 4, "b", 5)},
		{"shallower depth", "g", 2, links("f", 1, "e", 2)},
		{"depth above max is clamped", "g", 9, links("f", 1, "e", 2, "d", 3, "c", 4, "b", 5)},
		{"stops at root", "c", 5, links("b", 1, "a", 2, "r", 3)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ResolveUplineChain(ctx, tt.start, tt.maxDepth)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveUplineChain_UnknownMember(t *testing.T) {
	t.Parallel()

	g, _ := newGraph(t)
	_, err := g.ResolveUplineChain(context.Background(), "ghost", 5)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveReferrerChainTx(t *testing.T) {
	t.Parallel()

	g, store := newGraph(t)
	ledgertesting.Chain(t, store, "a", "b", "c", "d", "e", "f")
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		chain, err := g.ResolveReferrerChainTx(ctx, tx, "new", "f", models.MaxLevels)
		require.NoError(t, err)
		require.Equal(t, links("f", 1, "e", 2, "d", 3, "c", 4, "b", 5), chain)

		chain, err = g.ResolveReferrerChainTx(ctx, tx, "new", "", models.MaxLevels)
		require.NoError(t, err)
		require.Empty(t, chain)

		chain, err = g.ResolveReferrerChainTx(ctx, tx, "new", "a", models.MaxLevels)
		require.NoError(t, err)
		require.Equal(t, links("a", 1), chain)

		_, err = g.ResolveReferrerChainTx(ctx, tx, "new", "ghost", models.MaxLevels)
		require.ErrorIs(t, err, errs.ErrNotFound)

		_, err = g.ResolveReferrerChainTx(ctx, tx, "new", "new", models.MaxLevels)
		require.ErrorIs(t, err, errs.ErrInvalidArgument)
		return nil
	})
	require.NoError(t, err)
}

// cyclicTx serves a fixed referrer map, which the stores themselves would
// never allow to contain a loop.
type cyclicTx struct {
	interfaces.ReferralTx
	referrers map[string]string
}

func (c cyclicTx) GetReferrer(_ context.Context, id string) (string, bool, error) {
	r, ok := c.referrers[id]
	return r, ok, nil
}

func TestResolveChain_TerminatesOnCycle(t *testing.T) {
	t.Parallel()

	g, _ := newGraph(t)
	tx := cyclicTx{referrers: map[string]string{"a": "b", "b": "c", "c": "a"}}
	ctx := context.Background()

	chain, err := g.ResolveUplineChainTx(ctx, tx, "a", 5)
	require.NoError(t, err)
	require.Equal(t, links("b", 1, "c", 2), chain)

	chain, err = g.ResolveReferrerChainTx(ctx, tx, "x", "a", 5)
	require.NoError(t, err)
	require.Equal(t, links("a", 1, "b", 2, "c", 3), chain)

	// The new member appearing upstream of its referrer ends the walk there.
	tx.referrers["c"] = "x"
	chain, err = g.ResolveReferrerChainTx(ctx, tx, "x", "a", 5)
	require.NoError(t, err)
	require.Equal(t, links("a", 1, "b", 2, "c", 3), chain)
}

func TestRecordEdgesTx(t *testing.T) {
	t.Parallel()

	g, store := newGraph(t)
	ledgertesting.Chain(t, store, "a", "b", "c")
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return g.RecordEdgesTx(ctx, tx, "c", links("b", 1, "a", 2))
	})
	require.NoError(t, err)

	edges, err := g.UplineChain(ctx, "c")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	require.Equal(t, "b", edges[0].AncestorID)
	require.Equal(t, 1, edges[0].Level)
	require.Equal(t, "a", edges[1].AncestorID)
	require.Equal(t, ledgertesting.Epoch, edges[1].CreatedAt)

	err = store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return g.RecordEdgesTx(ctx, tx, "c", links("b", 1))
	})
	require.ErrorIs(t, err, errs.ErrAlreadyDistributed)

	err = store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return g.RecordEdgesTx(ctx, tx, "b", links("a", 6))
	})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	err = store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return g.RecordEdgesTx(ctx, tx, "b", nil)
	})
	require.NoError(t, err)
}

func TestDownline(t *testing.T) {
	t.Parallel()

	g, store := newGraph(t)
	ledgertesting.SeedMembers(t, store,
		ledgertesting.Member{ID: "a"},
		ledgertesting.Member{ID: "b", Referrer: "a"},
		ledgertesting.Member{ID: "c", Referrer: "a"},
		ledgertesting.Member{ID: "d", Referrer: "b"},
	)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		for _, id := range []string{"b", "c", "d"} {
			chain, err := g.ResolveUplineChainTx(ctx, tx, id, models.MaxLevels)
			if err != nil {
				return err
			}
			if err := g.RecordEdgesTx(ctx, tx, id, chain); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := g.DownlineByLevel(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "b", all[0].MemberID)
	require.Equal(t, "c", all[1].MemberID)
	require.Equal(t, "d", all[2].MemberID)
	require.Equal(t, 2, all[2].Level)

	second, err := g.DownlineByLevel(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "Member d", second[0].Name)

	grouped, err := g.DownlineGrouped(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, map[int]int{1: 2, 2: 1, 3: 0, 4: 0, 5: 0}, grouped)

	_, err = g.DownlineByLevel(ctx, "a", 6)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = g.DownlineGrouped(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGraph_ReadsDoNotTouchBalances(t *testing.T) {
	t.Parallel()

	g, store := newGraph(t)
	ledgertesting.Chain(t, store, "a", "b")

	_, err := g.ResolveUplineChain(context.Background(), "b", 5)
	require.NoError(t, err)
	require.True(t, decimal.Zero.Equal(ledgertesting.Account(t, store, "a").Balance))
}
