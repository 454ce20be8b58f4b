package models

import (
	"encoding/json"
	"time"
)

// AdminActionType names an admin mutation kept in the audit trail.
type AdminActionType string

const (
	ActionInjectCoins       AdminActionType = "inject_coins"
	ActionManualTransaction AdminActionType = "manual_transaction"
	ActionReverseEntry      AdminActionType = "reverse_transaction"
	ActionUpdateConfig      AdminActionType = "update_config"
	ActionPauseSystem       AdminActionType = "pause_system"
	ActionResumeSystem      AdminActionType = "resume_system"
	ActionSetCommissionRate AdminActionType = "set_commission_rate"
)

// AdminAction is one append-only audit row, written in the same transaction
// as the mutation it describes.
type AdminAction struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"admin_id"`
	ActionType AdminActionType `json:"action_type"`
	TargetID   *string         `json:"target_id,omitempty"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}
