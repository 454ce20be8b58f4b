package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicCommissionDistributed = "commission_distributed"
	TopicEntryReversed         = "ledger_entry_reversed"
)

type CommissionPayout struct {
	AccountID string          `json:"account_id"`
	Level     int             `json:"level"`
	Amount    decimal.Decimal `json:"amount"`
	EntryID   string          `json:"entry_id"`
}

// CommissionDistributed is published after a distribution commits.
type CommissionDistributed struct {
	EventID          string             `json:"event_id"`
	MemberID         string             `json:"member_id"`
	ReferrerID       string             `json:"referrer_id"`
	TotalDistributed decimal.Decimal    `json:"total_distributed"`
	Payouts          []CommissionPayout `json:"payouts"`
	OccurredAt       time.Time          `json:"occurred_at"`
}

// EntryReversed is published after a reversal commits.
type EntryReversed struct {
	EventID         string          `json:"event_id"`
	OriginalEntryID string          `json:"original_entry_id"`
	ReversalEntryID string          `json:"reversal_entry_id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
