package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberStatus is the approval state of a member.
type MemberStatus string

const (
	StatusPending  MemberStatus = "pending"
	StatusApproved MemberStatus = "approved"
	StatusRejected MemberStatus = "rejected"
)

func (s MemberStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Account is the per-member balance sheet. Balance is a cached reconciliation
// of the member's ledger entries and only changes through the ledger.
type Account struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	ReferrerID           *string          `json:"referrer_id,omitempty"`
	Status               MemberStatus     `json:"status"`
	Balance              decimal.Decimal  `json:"balance"`
	TotalEarned          decimal.Decimal  `json:"total_earned"`
	DirectRecruitCount   int              `json:"direct_recruit_count"`
	NetworkSize          int              `json:"network_size"`
	CustomCommissionRate *decimal.Decimal `json:"custom_commission_rate,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}
