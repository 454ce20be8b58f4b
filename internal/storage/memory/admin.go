package memory

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

func (t *memTx) InsertAdminAction(_ context.Context, action models.AdminAction) error {
	if action.ID == "" || action.AdminID == "" {
		return fmt.Errorf("admin action: %w: id and admin are required", errs.ErrInvalidArgument)
	}
	n := len(t.st.actions)
	t.st.actions = append(t.st.actions, action)
	t.onRollback(func() { t.st.actions = t.st.actions[:n] })
	return nil
}

func (t *memTx) ListAdminActions(_ context.Context, limit int) ([]models.AdminAction, error) {
	out := make([]models.AdminAction, 0, min(limit, len(t.st.actions)))
	for i := len(t.st.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.st.actions[i])
	}
	return out, nil
}
