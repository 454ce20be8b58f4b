// Package commission pays recruitment commissions up the referral chain and
// drives the member approval lifecycle that triggers them.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/configstore"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/ledger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/metrics"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	modelevents "github.com/sheikh-saqib/referral-commission-ledger/internal/models/events"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/referral"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/retry"
)

// commissionScale is the number of decimal places a commission is rounded to.
const commissionScale = 8

var hundred = decimal.NewFromInt(100)

// Payout is one commission credited by a distribution.
type Payout struct {
	AccountID string          `json:"account_id"`
	Level     int             `json:"level"`
	Amount    decimal.Decimal `json:"amount"`
	EntryID   string          `json:"entry_id,omitempty"`
}

type Result struct {
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	LevelsProcessed  int             `json:"levels_processed"`
	Payouts          []Payout        `json:"payouts"`

	referrerID string
}

// Schedule is the fee and the per-level percentages in force for one
// distribution.
type Schedule struct {
	Fee         decimal.Decimal
	Percentages [models.MaxLevels]decimal.Decimal
}

// Amount is the commission paid at level, rounded to commissionScale places.
func (s Schedule) Amount(level int) decimal.Decimal {
	return s.Fee.Mul(s.Percentages[level-1]).Div(hundred).Round(commissionScale)
}

type Engine struct {
	store     interfaces.Store
	params    *configstore.Store
	graph     *referral.Graph
	ledger    *ledger.Ledger
	publisher interfaces.EventPublisher
	clock     clockwork.Clock
	log       *slog.Logger
	retry     retry.Config

	publishTimeout time.Duration
}

type Option func(*Engine)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithPublishTimeout bounds how long a committed distribution waits on the
// event publisher.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) { e.publishTimeout = d }
}

// WithRetry sets how OnMemberApproved and the lifecycle retry on storage
// conflicts.
func WithRetry(cfg retry.Config) Option {
	return func(e *Engine) { e.retry = cfg }
}

func NewEngine(store interfaces.Store, params *configstore.Store, graph *referral.Graph, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		params:    params,
		graph:     graph,
		ledger:    l,
		publisher: events.Nop{},
		clock:     clockwork.NewRealClock(),
		log:       logger.Discard(),
		retry:     retry.DefaultConfig(),

		publishTimeout: events.DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadScheduleTx reads the recruitment fee and the five level percentages.
// A missing key fails with errs.ErrConfigMissing.
func (e *Engine) LoadScheduleTx(ctx context.Context, tx interfaces.ConfigTx) (Schedule, error) {
	keys := make([]string, 0, models.MaxLevels+1)
	keys = append(keys, configstore.KeyRecruitmentFee)
	for level := 1; level <= models.MaxLevels; level++ {
		keys = append(keys, configstore.CommissionLevelKey(level))
	}

	values, err := e.params.GetMultipleTx(ctx, tx, keys)
	if err != nil {
		return Schedule{}, err
	}
	var missing []string
	for _, k := range keys {
		if _, ok := values[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Schedule{}, fmt.Errorf("%w: %v", errs.ErrConfigMissing, missing)
	}

	var s Schedule
	if s.Fee, err = configstore.AsDecimal(configstore.KeyRecruitmentFee, values[configstore.KeyRecruitmentFee]); err != nil {
		return Schedule{}, err
	}
	if s.Fee.IsNegative() {
		return Schedule{}, fmt.Errorf("%w: negative recruitment fee %s", errs.ErrInvalidArgument, s.Fee)
	}
	for level := 1; level <= models.MaxLevels; level++ {
		key := configstore.CommissionLevelKey(level)
		pct, err := configstore.AsDecimal(key, values[key])
		if err != nil {
			return Schedule{}, err
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return Schedule{}, fmt.Errorf("%w: %s must be between 0 and 100, got %s", errs.ErrInvalidArgument, key, pct)
		}
		s.Percentages[level-1] = pct
	}
	return s, nil
}

// DistributeTx pays the commissions for newMemberID joining under
// referrerID inside tx. The caller owns the transaction, so a failure at any
// step leaves nothing behind once the caller rolls back.
func (e *Engine) DistributeTx(ctx context.Context, tx interfaces.Tx, newMemberID, newMemberName, referrerID string) (Result, error) {
	schedule, err := e.LoadScheduleTx(ctx, tx)
	if err != nil {
		return Result{}, err
	}

	chain, err := e.graph.ResolveReferrerChainTx(ctx, tx, newMemberID, referrerID, models.MaxLevels)
	if err != nil {
		return Result{}, err
	}
	res := Result{TotalDistributed: decimal.Zero, Payouts: []Payout{}, referrerID: referrerID}
	if len(chain) == 0 {
		return res, nil
	}

	// Lock the whole chain in ascending id order before the first credit so
	// that concurrent distributions over overlapping chains queue instead of
	// deadlocking.
	ids := make([]string, len(chain))
	for i, link := range chain {
		ids[i] = link.AncestorID
	}
	sort.Strings(ids)
	if _, err := tx.LockAccounts(ctx, ids); err != nil {
		return Result{}, err
	}

	trigger := newMemberID
	for _, link := range chain {
		amount := schedule.Amount(link.Level)
		payout := Payout{AccountID: link.AncestorID, Level: link.Level, Amount: amount}

		if amount.IsPositive() {
			level := link.Level
			entry, err := e.ledger.CreditTx(ctx, tx, ledger.CreditRequest{
				AccountID:          link.AncestorID,
				Amount:             amount,
				Kind:               models.KindCommission,
				Level:              &level,
				TriggeringMemberID: &trigger,
				Description:        fmt.Sprintf("Level %d commission from %s", link.Level, newMemberName),
			})
			if err != nil {
				return Result{}, fmt.Errorf("credit level %d ancestor %s: %w", link.Level, link.AncestorID, err)
			}
			payout.EntryID = entry.ID
		}
		if err := tx.IncrementNetworkCounters(ctx, link.AncestorID, 0, 1); err != nil {
			return Result{}, err
		}

		res.TotalDistributed = res.TotalDistributed.Add(amount)
		res.Payouts = append(res.Payouts, payout)
	}
	res.LevelsProcessed = len(chain)

	if chain[0].Level == 1 {
		if err := tx.IncrementNetworkCounters(ctx, chain[0].AncestorID, 1, 0); err != nil {
			return Result{}, err
		}
	}

	if err := e.graph.RecordEdgesTx(ctx, tx, newMemberID, chain); err != nil {
		return Result{}, err
	}

	if err := e.params.IncrementTx(ctx, tx, configstore.KeyTotalCoinsDistributed, res.TotalDistributed); err != nil {
		return Result{}, err
	}
	if err := e.params.IncrementTx(ctx, tx, configstore.KeyTotalRecruitmentFees, schedule.Fee); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Distribute runs DistributeTx as one atomic unit. Every error it returns
// wraps errs.ErrDistributionFailed together with the cause.
func (e *Engine) Distribute(ctx context.Context, newMemberID, newMemberName, referrerID string) (Result, error) {
	return e.distribute(ctx, newMemberID, func(ctx context.Context, tx interfaces.Tx) (Result, error) {
		return e.DistributeTx(ctx, tx, newMemberID, newMemberName, referrerID)
	})
}

// OnMemberApproved is the hook for an approval made elsewhere. It pays the
// commissions for memberID, retrying on storage conflicts. The member must
// be approved and referrerID must match the stored referrer ("" for none).
func (e *Engine) OnMemberApproved(ctx context.Context, memberID, referrerID string) (Result, error) {
	var res Result
	err := retry.Do(ctx, e.retryConfig("on_member_approved", memberID), func() error {
		var err error
		res, err = e.distribute(ctx, memberID, func(ctx context.Context, tx interfaces.Tx) (Result, error) {
			member, err := tx.GetAccount(ctx, memberID)
			if err != nil {
				return Result{}, err
			}
			if member.Status != models.StatusApproved {
				return Result{}, fmt.Errorf("member %s: %w: status is %s, not approved",
					memberID, errs.ErrInvalidTransition, member.Status)
			}
			stored := ""
			if member.ReferrerID != nil {
				stored = *member.ReferrerID
			}
			if referrerID != stored {
				return Result{}, fmt.Errorf("member %s: %w: referrer %q does not match recorded referrer %q",
					memberID, errs.ErrInvalidArgument, referrerID, stored)
			}
			return e.DistributeTx(ctx, tx, memberID, member.Name, stored)
		})
		return err
	})
	return res, err
}

func (e *Engine) distribute(ctx context.Context, memberID string, fn func(ctx context.Context, tx interfaces.Tx) (Result, error)) (Result, error) {
	start := time.Now()

	var res Result
	err := e.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		res, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		e.recordFailure(memberID, err, time.Since(start))
		return Result{}, fmt.Errorf("%w: member %s: %w", errs.ErrDistributionFailed, memberID, err)
	}

	e.afterCommit(ctx, memberID, res, time.Since(start))
	return res, nil
}

func (e *Engine) recordFailure(memberID string, err error, elapsed time.Duration) {
	status := "error"
	switch {
	case errors.Is(err, errs.ErrAlreadyDistributed):
		status = "already_distributed"
		e.log.Info("commission: already distributed", "member_id", memberID)
	case errs.IsRetryable(err):
		status = "conflict"
		e.log.Warn("commission: distribution conflicted", "member_id", memberID, "error", err)
	case errors.Is(err, errs.ErrStorageFailure):
		e.log.Error("commission: distribution failed", "member_id", memberID, "error", err)
	default:
		e.log.Warn("commission: distribution rejected", "member_id", memberID, "error", err)
	}
	metrics.RecordDistribution(status, elapsed)
}

// afterCommit records metrics and publishes the distribution event. The
// ledger is already final here; a publish failure is only logged.
func (e *Engine) afterCommit(ctx context.Context, memberID string, res Result, elapsed time.Duration) {
	metrics.RecordDistribution("success", elapsed)
	if res.LevelsProcessed == 0 {
		e.log.Info("commission: no upline, nothing distributed", "member_id", memberID)
		return
	}

	total, _ := res.TotalDistributed.Float64()
	metrics.CommissionPaidTotal.Add(total)
	payouts := make([]modelevents.CommissionPayout, 0, len(res.Payouts))
	for _, p := range res.Payouts {
		if p.EntryID != "" {
			metrics.RecordEntry(string(models.KindCommission))
		}
		payouts = append(payouts, modelevents.CommissionPayout{
			AccountID: p.AccountID,
			Level:     p.Level,
			Amount:    p.Amount,
			EntryID:   p.EntryID,
		})
	}

	e.log.Info("commission: distributed",
		"member_id", memberID, "referrer_id", res.referrerID,
		"levels", res.LevelsProcessed, "total", res.TotalDistributed.String())

	event := modelevents.CommissionDistributed{
		EventID:          uuid.NewString(),
		MemberID:         memberID,
		ReferrerID:       res.referrerID,
		TotalDistributed: res.TotalDistributed,
		Payouts:          payouts,
		OccurredAt:       e.clock.Now().UTC(),
	}
	pubCtx, cancel := events.Detach(ctx, e.publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, modelevents.TopicCommissionDistributed, memberID, event); err != nil {
		e.log.Warn("commission: failed to publish distribution event", "member_id", memberID, "error", err)
	}
}

func (e *Engine) retryConfig(operation, memberID string) retry.Config {
	cfg := e.retry
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		e.log.Warn("commission: retrying after storage conflict",
			"operation", operation, "member_id", memberID, "attempt", attempt, "error", err)
	}
	return cfg
}
