package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindCommission   EntryKind = "commission"
	KindInjection    EntryKind = "injection"
	KindManualCredit EntryKind = "manual_credit"
	KindManualDebit  EntryKind = "manual_debit"
	KindReversal     EntryKind = "reversal"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindCommission, KindInjection, KindManualCredit, KindManualDebit, KindReversal:
		return true
	}
	return false
}

// Earning reports whether credits of this kind count towards TotalEarned.
func (k EntryKind) Earning() bool {
	return k == KindCommission || k == KindInjection || k == KindManualCredit
}

// LedgerEntry is an immutable record of a single balance change on an account.
// Entries for one account ordered by Seq replay the account balance exactly:
// BalanceAfter of entry n equals the sum of the amounts of entries 1..n.
type LedgerEntry struct {
	ID                 string          `json:"id"`
	Seq                int64           `json:"seq"`
	AccountID          string          `json:"account_id"`
	Amount             decimal.Decimal `json:"amount"` // signed
	Kind               EntryKind       `json:"kind"`
	Level              *int            `json:"level,omitempty"`
	TriggeringMemberID *string         `json:"triggering_member_id,omitempty"`
	ReversesEntryID    *string         `json:"reverses_entry_id,omitempty"`
	Description        string          `json:"description"`
	BalanceAfter       decimal.Decimal `json:"balance_after"`
	CreatedAt          time.Time       `json:"created_at"`
}
