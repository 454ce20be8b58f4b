// Package referral resolves upline chains and maintains the closure table of
// (descendant, ancestor, level) edges.
package referral

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

type Graph struct {
	store interfaces.Store
	clock clockwork.Clock
	log   *slog.Logger
}

func NewGraph(store interfaces.Store, clock clockwork.Clock, log *slog.Logger) *Graph {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Graph{store: store, clock: clock, log: log}
}

func clampDepth(maxDepth int) int {
	if maxDepth <= 0 || maxDepth > models.MaxLevels {
		return models.MaxLevels
	}
	return maxDepth
}

// ResolveUplineChainTx follows referrer links upward from start. The first
// ancestor found is level 1. The walk stops at a root, at maxDepth, or at a
// member already seen, so a corrupted cyclic graph still terminates.
func (g *Graph) ResolveUplineChainTx(ctx context.Context, tx interfaces.ReferralTx, start string, maxDepth int) ([]models.ChainLink, error) {
	visited := map[string]bool{start: true}
	return g.walk(ctx, tx, start, 1, clampDepth(maxDepth), visited, nil)
}

// ResolveReferrerChainTx returns the payout chain of a member joining under
// referrerID: the referrer at level 1 followed by the referrer's own upline.
// An empty referrerID yields an empty chain.
func (g *Graph) ResolveReferrerChainTx(ctx context.Context, tx interfaces.ReferralTx, newMemberID, referrerID string, maxDepth int) ([]models.ChainLink, error) {
	if referrerID == "" {
		return []models.ChainLink{}, nil
	}
	if referrerID == newMemberID {
		return nil, fmt.Errorf("member %s: %w: cannot refer itself", newMemberID, errs.ErrInvalidArgument)
	}
	// Existence check; also rejects an unknown referrer before any credit.
	if _, _, err := tx.GetReferrer(ctx, referrerID); err != nil {
		return nil, err
	}

	chain := []models.ChainLink{{AncestorID: referrerID, Level: 1}}
	visited := map[string]bool{newMemberID: true, referrerID: true}
	return g.walk(ctx, tx, referrerID, 2, clampDepth(maxDepth), visited, chain)
}

func (g *Graph) walk(ctx context.Context, tx interfaces.ReferralTx, from string, level, maxDepth int, visited map[string]bool, chain []models.ChainLink) ([]models.ChainLink, error) {
	if chain == nil {
		chain = []models.ChainLink{}
	}
	current := from
	for ; level <= maxDepth; level++ {
		referrer, ok, err := tx.GetReferrer(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if visited[referrer] {
			g.log.Warn("referral cycle detected, truncating chain",
				"member_id", current, "referrer_id", referrer, "level", level)
			break
		}
		visited[referrer] = true
		chain = append(chain, models.ChainLink{AncestorID: referrer, Level: level})
		current = referrer
	}
	return chain, nil
}

// RecordEdgesTx inserts one edge per chain link. A member whose edges already
// exist fails with errs.ErrAlreadyDistributed.
func (g *Graph) RecordEdgesTx(ctx context.Context, tx interfaces.ReferralTx, descendantID string, chain []models.ChainLink) error {
	if len(chain) == 0 {
		return nil
	}
	now := g.clock.Now().UTC()
	edges := make([]models.ReferralEdge, 0, len(chain))
	for _, link := range chain {
		if link.Level < 1 || link.Level > models.MaxLevels {
			return fmt.Errorf("edge level %d: %w", link.Level, errs.ErrInvalidArgument)
		}
		edges = append(edges, models.ReferralEdge{
			DescendantID: descendantID,
			AncestorID:   link.AncestorID,
			Level:        link.Level,
			CreatedAt:    now,
		})
	}
	return tx.InsertEdges(ctx, edges)
}

func (g *Graph) ResolveUplineChain(ctx context.Context, start string, maxDepth int) ([]models.ChainLink, error) {
	var chain []models.ChainLink
	err := g.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if _, _, err := tx.GetReferrer(ctx, start); err != nil {
			return err
		}
		var err error
		chain, err = g.ResolveUplineChainTx(ctx, tx, start, maxDepth)
		return err
	})
	return chain, err
}

// UplineChain returns the recorded edges of memberID ordered by level.
func (g *Graph) UplineChain(ctx context.Context, memberID string) ([]models.ReferralEdge, error) {
	var edges []models.ReferralEdge
	err := g.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if _, err := tx.GetAccount(ctx, memberID); err != nil {
			return err
		}
		var err error
		edges, err = tx.ListUpline(ctx, memberID)
		return err
	})
	return edges, err
}

// DownlineByLevel lists the members recorded below ancestorID at level, or
// at every level when level is 0.
func (g *Graph) DownlineByLevel(ctx context.Context, ancestorID string, level int) ([]models.DownlineMember, error) {
	if level < 0 || level > models.MaxLevels {
		return nil, fmt.Errorf("level %d: %w: must be between 0 and %d", level, errs.ErrInvalidArgument, models.MaxLevels)
	}
	var members []models.DownlineMember
	err := g.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if _, err := tx.GetAccount(ctx, ancestorID); err != nil {
			return err
		}
		var err error
		members, err = tx.ListDownline(ctx, ancestorID, level)
		return err
	})
	return members, err
}

// DownlineGrouped counts ancestorID's downline per level, with every level
// from 1 to MaxLevels present.
func (g *Graph) DownlineGrouped(ctx context.Context, ancestorID string) (map[int]int, error) {
	out := make(map[int]int, models.MaxLevels)
	for level := 1; level <= models.MaxLevels; level++ {
		out[level] = 0
	}
	err := g.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if _, err := tx.GetAccount(ctx, ancestorID); err != nil {
			return err
		}
		counts, err := tx.CountDownlineByLevel(ctx, ancestorID)
		if err != nil {
			return err
		}
		for level, n := range counts {
			out[level] = n
		}
		return nil
	})
	return out, err
}
