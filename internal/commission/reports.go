package commission

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/configstore"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

// DistributionStats summarises approved members against the recruitment
// fee: a member broke even when everything earned equals the fee and
// profited when it exceeds it.
func (e *Engine) DistributionStats(ctx context.Context) (models.DistributionStats, error) {
	var stats models.DistributionStats
	err := e.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		fee, err := e.params.DecimalTx(ctx, tx, configstore.KeyRecruitmentFee)
		if err != nil {
			return err
		}
		stats, err = tx.DistributionStats(ctx, fee)
		return err
	})
	return stats, err
}

// CountByStatus counts members per approval status; every status is present.
func (e *Engine) CountByStatus(ctx context.Context) (map[models.MemberStatus]int, error) {
	out := map[models.MemberStatus]int{
		models.StatusPending:  0,
		models.StatusApproved: 0,
		models.StatusRejected: 0,
	}
	err := e.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		counts, err := tx.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for status, n := range counts {
			out[status] = n
		}
		return nil
	})
	return out, err
}

func (e *Engine) SystemTotals(ctx context.Context) (models.SystemTotals, error) {
	return e.params.Totals(ctx)
}

// AuditTotals checks the aggregate counter against the ledger: the commission
// entries ever written must sum to total_coins_distributed.
func (e *Engine) AuditTotals(ctx context.Context) (bool, error) {
	var consistent bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		counters, err := e.params.GetMultipleTx(ctx, tx, []string{configstore.KeyTotalCoinsDistributed})
		if err != nil {
			return err
		}
		recorded := decimal.Zero
		if raw, ok := counters[configstore.KeyTotalCoinsDistributed]; ok {
			if recorded, err = configstore.AsDecimal(configstore.KeyTotalCoinsDistributed, raw); err != nil {
				return err
			}
		}
		sum, err := tx.SumEntriesByKind(ctx, models.KindCommission)
		if err != nil {
			return err
		}
		consistent = recorded.Equal(sum)
		return nil
	})
	return consistent, err
}
