package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/metrics"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
	modelevents "github.com/sheikh-saqib/referral-commission-ledger/internal/models/events"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Ledger is the only writer of account balances. Every balance change is
// recorded as an immutable entry and the cached balance is updated in the
// same transaction.
type Ledger struct {
	store          interfaces.Store // any storage implementation: memory, postgres
	publisher      interfaces.EventPublisher
	publishTimeout time.Duration
	clock          clockwork.Clock
	log            *slog.Logger
}

type Option func(*Ledger)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithPublishTimeout bounds the post-commit publish of ledger events.
func WithPublishTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.publishTimeout = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// NewLedger is a constructor function that creates a new Ledger instance
// over the given storage implementation.
func NewLedger(store interfaces.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		publisher:      events.Nop{},
		publishTimeout: events.DefaultPublishTimeout,
		clock:          clockwork.NewRealClock(),
		log:            logger.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreditRequest describes one signed balance change.
type CreditRequest struct {
	AccountID          string
	Amount             decimal.Decimal
	Kind               models.EntryKind
	Level              *int
	TriggeringMemberID *string
	ReversesEntryID    *string
	Description        string
}

func validate(req CreditRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("%w: account id is required", errs.ErrInvalidArgument)
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown entry kind %q", errs.ErrInvalidArgument, req.Kind)
	}
	switch req.Kind {
	case models.KindCommission, models.KindInjection, models.KindManualCredit:
		if !req.Amount.IsPositive() {
			return fmt.Errorf("%w: %s amount must be positive, got %s", errs.ErrInvalidAmount, req.Kind, req.Amount)
		}
	case models.KindManualDebit:
		if !req.Amount.IsNegative() {
			return fmt.Errorf("%w: %s amount must be negative, got %s", errs.ErrInvalidAmount, req.Kind, req.Amount)
		}
	case models.KindReversal:
		if req.ReversesEntryID == nil {
			return fmt.Errorf("%w: reversal must reference the reversed entry", errs.ErrInvalidArgument)
		}
		if req.Amount.IsZero() {
			return fmt.Errorf("%w: reversal amount must be non-zero", errs.ErrInvalidAmount)
		}
	}
	if req.Kind == models.KindCommission && (req.Level == nil || req.TriggeringMemberID == nil) {
		return fmt.Errorf("%w: commission must name its level and triggering member", errs.ErrInvalidArgument)
	}
	if req.Kind != models.KindReversal && req.ReversesEntryID != nil {
		return fmt.Errorf("%w: only reversals may reference another entry", errs.ErrInvalidArgument)
	}
	if req.Level != nil && (*req.Level < 1 || *req.Level > models.MaxLevels) {
		return fmt.Errorf("%w: level %d out of range", errs.ErrInvalidArgument, *req.Level)
	}
	return nil
}

// CreditTx applies req inside tx: it locks the account, appends the entry
// and updates the cached balance. A change that would take the balance
// below zero fails with errs.ErrInsufficientBalance. The returned entry
// carries its store-assigned Seq.
func (l *Ledger) CreditTx(ctx context.Context, tx interfaces.Tx, req CreditRequest) (models.LedgerEntry, error) {
	if err := validate(req); err != nil {
		return models.LedgerEntry{}, err
	}

	// Re-locking a row this transaction already holds is a no-op, so callers
	// that locked a whole chain up front lose nothing here.
	locked, err := tx.LockAccounts(ctx, []string{req.AccountID})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	account := locked[req.AccountID]

	earned := req.Kind.Earning()
	if req.Kind == models.KindReversal {
		original, err := tx.GetEntry(ctx, *req.ReversesEntryID)
		if err != nil {
			return models.LedgerEntry{}, err
		}
		if original.AccountID != req.AccountID || !original.Amount.Neg().Equal(req.Amount) {
			return models.LedgerEntry{}, fmt.Errorf("%w: reversal of %s must negate it on the same account",
				errs.ErrInvalidAmount, original.ID)
		}
		earned = original.Kind.Earning()
	}

	balance := account.Balance.Add(req.Amount)
	if req.Amount.IsNegative() && balance.IsNegative() {
		return models.LedgerEntry{}, fmt.Errorf("account %s: %w: balance %s, change %s",
			req.AccountID, errs.ErrInsufficientBalance, account.Balance, req.Amount)
	}
	totalEarned := account.TotalEarned
	if earned {
		totalEarned = totalEarned.Add(req.Amount)
	}

	entry := models.LedgerEntry{
		ID:                 uuid.NewString(),
		AccountID:          req.AccountID,
		Amount:             req.Amount,
		Kind:               req.Kind,
		Level:              req.Level,
		TriggeringMemberID: req.TriggeringMemberID,
		ReversesEntryID:    req.ReversesEntryID,
		Description:        req.Description,
		BalanceAfter:       balance,
		CreatedAt:          l.clock.Now().UTC(),
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return models.LedgerEntry{}, err
	}
	if err := tx.SetBalance(ctx, req.AccountID, balance, totalEarned); err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}

// Credit posts one admin balance change in its own transaction and records
// it in the audit trail. Only injections and manual credits or debits are
// accepted: commissions come from distributions and reversals from Reverse.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (models.LedgerEntry, error) {
	action := models.ActionManualTransaction
	switch req.Kind {
	case models.KindInjection:
		action = models.ActionInjectCoins
	case models.KindManualCredit, models.KindManualDebit:
	default:
		return models.LedgerEntry{}, fmt.Errorf("%w: %q entries cannot be posted directly", errs.ErrInvalidArgument, req.Kind)
	}

	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		if entry, err = l.CreditTx(ctx, tx, req); err != nil {
			return err
		}
		return audit.RecordTx(ctx, tx, entry.CreatedAt, audit.Actor(ctx), action, entry.AccountID, map[string]any{
			"entry_id": entry.ID,
			"kind":     entry.Kind,
			"amount":   entry.Amount,
			"note":     entry.Description,
		})
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	metrics.RecordEntry(string(entry.Kind))
	l.log.Info("ledger: entry posted",
		"entry_id", entry.ID, "account_id", entry.AccountID, "kind", entry.Kind, "amount", entry.Amount.String())
	return entry, nil
}

// ManualAdjust posts an admin credit (positive amount) or debit (negative
// amount). A debit larger than the balance is refused.
func (l *Ledger) ManualAdjust(ctx context.Context, accountID string, amount decimal.Decimal, note string) (models.LedgerEntry, error) {
	if amount.IsZero() {
		return models.LedgerEntry{}, fmt.Errorf("%w: adjustment must be non-zero", errs.ErrInvalidAmount)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return models.LedgerEntry{}, fmt.Errorf("%w: a note is required for manual adjustments", errs.ErrInvalidArgument)
	}
	kind := models.KindManualCredit
	if amount.IsNegative() {
		kind = models.KindManualDebit
	}
	return l.Credit(ctx, CreditRequest{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: note,
	})
}

// Inject adds coins to an account from outside the network.
func (l *Ledger) Inject(ctx context.Context, accountID string, amount decimal.Decimal, note string) (models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return models.LedgerEntry{}, fmt.Errorf("%w: injection must be positive, got %s", errs.ErrInvalidAmount, amount)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = "Manual coin injection"
	}
	return l.Credit(ctx, CreditRequest{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        models.KindInjection,
		Description: note,
	})
}

// Reverse posts the negation of an entry, linked to it by ReversesEntryID.
// An entry can be reversed once and reversals cannot be reversed.
func (l *Ledger) Reverse(ctx context.Context, originalEntryID, reason string) (models.LedgerEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.LedgerEntry{}, fmt.Errorf("%w: a reason is required for reversals", errs.ErrInvalidArgument)
	}

	var reversal models.LedgerEntry
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		original, err := tx.GetEntry(ctx, originalEntryID)
		if err != nil {
			return err
		}
		if original.Kind == models.KindReversal {
			return fmt.Errorf("entry %s: %w: reversals cannot be reversed", original.ID, errs.ErrInvalidAmount)
		}
		if existing, ok, err := tx.ReversalOf(ctx, original.ID); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("entry %s: %w by %s", original.ID, errs.ErrAlreadyReversed, existing)
		}

		reversal, err = l.CreditTx(ctx, tx, CreditRequest{
			AccountID:          original.AccountID,
			Amount:             original.Amount.Neg(),
			Kind:               models.KindReversal,
			Level:              original.Level,
			TriggeringMemberID: original.TriggeringMemberID,
			ReversesEntryID:    &original.ID,
			Description:        fmt.Sprintf("Reversal of %s entry %s: %s", original.Kind, original.ID, reason),
		})
		if err != nil {
			return err
		}
		return audit.RecordTx(ctx, tx, reversal.CreatedAt, audit.Actor(ctx), models.ActionReverseEntry, reversal.AccountID, map[string]any{
			"original_entry_id": original.ID,
			"reversal_entry_id": reversal.ID,
			"amount":            reversal.Amount,
			"reason":            reason,
		})
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}

	metrics.RecordEntry(string(reversal.Kind))
	l.log.Info("ledger: entry reversed",
		"entry_id", originalEntryID, "reversal_id", reversal.ID,
		"account_id", reversal.AccountID, "amount", reversal.Amount.String())

	event := modelevents.EntryReversed{
		EventID:         uuid.NewString(),
		OriginalEntryID: originalEntryID,
		ReversalEntryID: reversal.ID,
		AccountID:       reversal.AccountID,
		Amount:          reversal.Amount,
		Reason:          reason,
		OccurredAt:      reversal.CreatedAt,
	}
	pubCtx, cancel := events.Detach(ctx, l.publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(pubCtx, modelevents.TopicEntryReversed, reversal.AccountID, event); err != nil {
		l.log.Warn("ledger: failed to publish reversal event", "entry_id", reversal.ID, "error", err)
	}
	return reversal, nil
}

// Balance returns the cached balance of accountID.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		balance = a.Balance
		return nil
	})
	return balance, err
}

// Entry returns one ledger entry by id.
func (l *Ledger) Entry(ctx context.Context, id string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		return err
	})
	return entry, err
}

// Page selects one page of an account's history. Zero values fall back to
// page 1, DefaultPageSize entries, newest first.
type Page struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EntryPage is one page of history plus the account's total entry count.
type EntryPage struct {
	Entries  []models.LedgerEntry `json:"transactions"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (p Page) query() (models.EntryQuery, int, int, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	sortBy := models.SortByCreatedAt
	if p.SortBy != "" {
		sortBy = models.EntrySortField(p.SortBy)
		if !sortBy.Valid() {
			return models.EntryQuery{}, 0, 0, fmt.Errorf("%w: cannot sort by %q", errs.ErrInvalidArgument, p.SortBy)
		}
	}

	desc := true
	switch strings.ToLower(p.SortOrder) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		return models.EntryQuery{}, 0, 0, fmt.Errorf("%w: sort order must be asc or desc, got %q", errs.ErrInvalidArgument, p.SortOrder)
	}

	return models.EntryQuery{
		SortBy: sortBy,
		Desc:   desc,
		Limit:  size,
		Offset: (page - 1) * size,
	}, page, size, nil
}

// UserTransactions returns one page of accountID's ledger history.
func (l *Ledger) UserTransactions(ctx context.Context, accountID string, p Page) (EntryPage, error) {
	q, page, size, err := p.query()
	if err != nil {
		return EntryPage{}, err
	}

	out := EntryPage{Page: page, PageSize: size}
	err = l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		out.Entries, out.Total, err = tx.ListEntries(ctx, accountID, q)
		return err
	})
	if err != nil {
		return EntryPage{}, err
	}
	return out, nil
}

// Reconciliation compares an account's cached balance with its entries.
type Reconciliation struct {
	AccountID     string          `json:"account_id"`
	CachedBalance decimal.Decimal `json:"cached_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Consistent    bool            `json:"consistent"`
}

func (l *Ledger) Reconcile(ctx context.Context, accountID string) (Reconciliation, error) {
	var r Reconciliation
	err := l.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		sum, err := tx.SumEntries(ctx, accountID)
		if err != nil {
			return err
		}
		r = Reconciliation{
			AccountID:     accountID,
			CachedBalance: a.Balance,
			LedgerBalance: sum,
			Consistent:    a.Balance.Equal(sum),
		}
		return nil
	})
	if err == nil && !r.Consistent {
		l.log.Error("ledger: balance drift detected",
			"account_id", accountID, "cached", r.CachedBalance.String(), "ledger", r.LedgerBalance.String())
	}
	return r, err
}
