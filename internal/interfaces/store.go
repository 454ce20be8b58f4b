package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

// Store owns the transactional backend. Every read and write of the engine
// goes through the Tx handed to fn, so a single WithTx call is one atomic
// unit: when fn returns an error nothing it wrote becomes visible.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx is the handle of one storage transaction.
type Tx interface {
	AccountTx
	LedgerTx
	ReferralTx
	ConfigTx
	AdminTx
}

type AccountTx interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)
	// LockAccounts takes row locks on ids in ascending id order and returns
	// the locked rows. A missing id yields errs.ErrNotFound.
	LockAccounts(ctx context.Context, ids []string) (map[string]models.Account, error)
	SetBalance(ctx context.Context, id string, balance, totalEarned decimal.Decimal) error
	IncrementNetworkCounters(ctx context.Context, id string, directRecruits, networkSize int) error
	SetStatus(ctx context.Context, id string, status models.MemberStatus) error
	SetCustomCommissionRate(ctx context.Context, id string, rate *decimal.Decimal) error
	CountByStatus(ctx context.Context) (map[models.MemberStatus]int, error)
	DistributionStats(ctx context.Context, breakEven decimal.Decimal) (models.DistributionStats, error)
}

type LedgerTx interface {
	// InsertEntry appends entry and fills in its Seq.
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (models.LedgerEntry, error)
	// ReversalOf returns the id of the entry reversing id, if any.
	ReversalOf(ctx context.Context, id string) (string, bool, error)
	ListEntries(ctx context.Context, accountID string, q models.EntryQuery) ([]models.LedgerEntry, int, error)
	SumEntries(ctx context.Context, accountID string) (decimal.Decimal, error)
	SumEntriesByKind(ctx context.Context, kind models.EntryKind) (decimal.Decimal, error)
}

type ReferralTx interface {
	// GetReferrer returns the referrer of memberID; ok is false for roots.
	GetReferrer(ctx context.Context, memberID string) (referrerID string, ok bool, err error)
	// InsertEdges fails with errs.ErrAlreadyDistributed if any
	// (descendant, level) pair already exists.
	InsertEdges(ctx context.Context, edges []models.ReferralEdge) error
	ListUpline(ctx context.Context, descendantID string) ([]models.ReferralEdge, error)
	// ListDownline lists members below ancestorID; level 0 means every level.
	ListDownline(ctx context.Context, ancestorID string, level int) ([]models.DownlineMember, error)
	CountDownlineByLevel(ctx context.Context, ancestorID string) (map[int]int, error)
}

type ConfigTx interface {
	// GetParams returns the rows present for keys; absent keys are omitted.
	GetParams(ctx context.Context, keys []string) ([]models.ConfigParameter, error)
	AllParams(ctx context.Context) ([]models.ConfigParameter, error)
	UpsertParam(ctx context.Context, param models.ConfigParameter) error
	// IncrementParam adds delta to a numeric parameter in place, creating it
	// as a float parameter when absent.
	IncrementParam(ctx context.Context, key string, delta decimal.Decimal, updatedBy string, at time.Time) error
}

type AdminTx interface {
	InsertAdminAction(ctx context.Context, action models.AdminAction) error
	// ListAdminActions returns the newest actions first.
	ListAdminActions(ctx context.Context, limit int) ([]models.AdminAction, error)
}
