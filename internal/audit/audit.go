// Package audit keeps the append-only trail of admin actions: coin
// injections, manual transactions, reversals, parameter changes and pauses.
// Rows are written through the transaction of the mutation they describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

const (
	// DefaultActor is recorded when no admin identity travels with ctx.
	DefaultActor = "admin"

	DefaultLimit = 50
	MaxLimit     = 500
)

type actorKey struct{}

// WithActor attaches the acting admin to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actor))
}

// Actor returns the admin attached to ctx, or DefaultActor.
func Actor(ctx context.Context) string {
	if actor, _ := ctx.Value(actorKey{}).(string); actor != "" {
		return actor
	}
	return DefaultActor
}

// RecordTx appends one admin action inside tx. details is stored as JSON.
func RecordTx(ctx context.Context, tx interfaces.AdminTx, at time.Time, actor string, action models.AdminActionType, targetID string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("admin action %s: %w: %v", action, errs.ErrInvalidArgument, err)
	}
	if actor == "" {
		actor = DefaultActor
	}
	a := models.AdminAction{
		ID:         uuid.NewString(),
		AdminID:    actor,
		ActionType: action,
		Details:    raw,
		CreatedAt:  at.UTC(),
	}
	if targetID != "" {
		a.TargetID = &targetID
	}
	return tx.InsertAdminAction(ctx, a)
}

// Log reads the trail.
type Log struct {
	store interfaces.Store
}

func NewLog(store interfaces.Store) *Log {
	return &Log{store: store}
}

// Recent returns up to limit actions, newest first. A non-positive limit
// means DefaultLimit.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.AdminAction, error) {
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var out []models.AdminAction
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		out, err = tx.ListAdminActions(ctx, limit)
		return err
	})
	return out, err
}
