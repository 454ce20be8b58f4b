package commission

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/retry"
)

// Lifecycle moves members through pending, approved and rejected. Approval,
// at creation or later, pays the commissions in the same transaction as the
// status change.
type Lifecycle struct {
	engine *Engine
}

func NewLifecycle(engine *Engine) *Lifecycle {
	return &Lifecycle{engine: engine}
}

type NewMember struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	ReferrerID string              `json:"referrer_id,omitempty"`
	Status     models.MemberStatus `json:"status,omitempty"`
}

func (l *Lifecycle) checkRunning(ctx context.Context, tx interfaces.ConfigTx) error {
	paused, err := l.engine.params.PausedTx(ctx, tx)
	if err != nil {
		return err
	}
	if paused {
		return errs.ErrSystemPaused
	}
	return nil
}

// CreateMember registers a member as pending, or as approved in which case
// the commissions are distributed at once. The referrer must exist and be
// approved.
func (l *Lifecycle) CreateMember(ctx context.Context, m NewMember) (models.Account, Result, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	if m.ID == "" || m.Name == "" {
		return models.Account{}, Result{}, fmt.Errorf("%w: member id and name are required", errs.ErrInvalidArgument)
	}
	if m.Status == "" {
		m.Status = models.StatusPending
	}
	if m.Status != models.StatusPending && m.Status != models.StatusApproved {
		return models.Account{}, Result{}, fmt.Errorf("%w: new members are pending or approved, got %q", errs.ErrInvalidArgument, m.Status)
	}
	if m.ReferrerID == m.ID {
		return models.Account{}, Result{}, fmt.Errorf("%w: member cannot refer itself", errs.ErrInvalidArgument)
	}

	var (
		account models.Account
		res     Result
	)
	run := func(ctx context.Context, tx interfaces.Tx) (Result, error) {
		if err := l.checkRunning(ctx, tx); err != nil {
			return Result{}, err
		}
		account = models.Account{
			ID:          m.ID,
			Name:        m.Name,
			Status:      m.Status,
			Balance:     decimal.Zero,
			TotalEarned: decimal.Zero,
			CreatedAt:   l.engine.clock.Now().UTC(),
		}
		if m.ReferrerID != "" {
			referrer, err := tx.GetAccount(ctx, m.ReferrerID)
			if err != nil {
				return Result{}, err
			}
			if referrer.Status != models.StatusApproved {
				return Result{}, fmt.Errorf("referrer %s: %w: referrer is %s", referrer.ID, errs.ErrInvalidArgument, referrer.Status)
			}
			ref := m.ReferrerID
			account.ReferrerID = &ref
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return Result{}, err
		}
		if m.Status != models.StatusApproved {
			return Result{TotalDistributed: decimal.Zero, Payouts: []Payout{}}, nil
		}
		return l.engine.DistributeTx(ctx, tx, m.ID, m.Name, m.ReferrerID)
	}

	err := retry.Do(ctx, l.engine.retryConfig("create_member", m.ID), func() error {
		var err error
		if m.Status == models.StatusApproved {
			res, err = l.engine.distribute(ctx, m.ID, run)
			return err
		}
		return l.engine.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
			res, err = run(ctx, tx)
			return err
		})
	})
	if err != nil {
		return models.Account{}, Result{}, err
	}

	l.engine.log.Info("commission: member created", "member_id", m.ID, "status", m.Status, "referrer_id", m.ReferrerID)
	return account, res, nil
}

// Approve moves a pending member to approved and distributes its
// commissions. Approving an approved member fails with
// errs.ErrAlreadyApproved and leaves balances untouched.
func (l *Lifecycle) Approve(ctx context.Context, memberID string) (Result, error) {
	var res Result
	err := retry.Do(ctx, l.engine.retryConfig("approve", memberID), func() error {
		var err error
		res, err = l.engine.distribute(ctx, memberID, func(ctx context.Context, tx interfaces.Tx) (Result, error) {
			member, err := tx.GetAccount(ctx, memberID)
			if err != nil {
				return Result{}, err
			}
			switch member.Status {
			case models.StatusApproved:
				return Result{}, fmt.Errorf("member %s: %w", memberID, errs.ErrAlreadyApproved)
			case models.StatusRejected:
				return Result{}, fmt.Errorf("member %s: %w: rejected members cannot be approved", memberID, errs.ErrInvalidTransition)
			}
			if err := l.checkRunning(ctx, tx); err != nil {
				return Result{}, err
			}
			if err := tx.SetStatus(ctx, memberID, models.StatusApproved); err != nil {
				return Result{}, err
			}
			referrerID := ""
			if member.ReferrerID != nil {
				referrerID = *member.ReferrerID
			}
			return l.engine.DistributeTx(ctx, tx, memberID, member.Name, referrerID)
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	l.engine.log.Info("commission: member approved", "member_id", memberID, "levels", res.LevelsProcessed)
	return res, nil
}

// Reject moves a pending member to the terminal rejected state.
func (l *Lifecycle) Reject(ctx context.Context, memberID string) error {
	err := l.engine.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		member, err := tx.GetAccount(ctx, memberID)
		if err != nil {
			return err
		}
		switch member.Status {
		case models.StatusApproved:
			return fmt.Errorf("member %s: %w: cannot reject an approved member", memberID, errs.ErrInvalidTransition)
		case models.StatusRejected:
			return fmt.Errorf("member %s: %w: already rejected", memberID, errs.ErrInvalidTransition)
		}
		return tx.SetStatus(ctx, memberID, models.StatusRejected)
	})
	if err != nil {
		return err
	}
	l.engine.log.Info("commission: member rejected", "member_id", memberID)
	return nil
}

// SetCommissionRate stores an admin override for one member; nil restores
// the default. The rate is kept on the account and reported, but payouts
// always use the global schedule.
func (l *Lifecycle) SetCommissionRate(ctx context.Context, memberID string, rate *decimal.Decimal) error {
	if rate != nil && (rate.IsNegative() || rate.GreaterThan(hundred)) {
		return fmt.Errorf("%w: commission rate must be between 0 and 100, got %s", errs.ErrInvalidArgument, rate)
	}
	return l.engine.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if err := tx.SetCustomCommissionRate(ctx, memberID, rate); err != nil {
			return err
		}
		return audit.RecordTx(ctx, tx, l.engine.clock.Now(), audit.Actor(ctx), models.ActionSetCommissionRate, memberID,
			map[string]any{"rate": rate})
	})
}

// Member returns one account.
func (l *Lifecycle) Member(ctx context.Context, memberID string) (models.Account, error) {
	var a models.Account
	err := l.engine.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		a, err = tx.GetAccount(ctx, memberID)
		return err
	})
	return a, err
}
