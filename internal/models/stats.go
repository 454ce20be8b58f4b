package models

import "github.com/shopspring/decimal"

// DistributionStats summarises approved member outcomes for dashboards.
type DistributionStats struct {
	TotalMembers int             `json:"total_members"`
	ZeroBalance  int             `json:"zero_balance"`
	BrokeEven    int             `json:"broke_even"`
	Profited     int             `json:"profited"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// SystemTotals are the global aggregate counters.
type SystemTotals struct {
	TotalCoinsDistributed decimal.Decimal `json:"total_coins_distributed"`
	TotalRecruitmentFees  decimal.Decimal `json:"total_recruitment_fees"`
}
