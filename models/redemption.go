package models

import "time"

// Redemption is the append-only proof that a checkpoint was unlocked. At most
// one row exists per (session, checkpoint) pair — the idempotency anchor for
// the redeem operation.
type Redemption struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID      string    `gorm:"not null;uniqueIndex:idx_redemptions_session_checkpoint" json:"session_id"`
	CheckpointID   string    `gorm:"not null;uniqueIndex:idx_redemptions_session_checkpoint" json:"checkpoint_id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	BountyID       string    `gorm:"not null" json:"bounty_id"`
	DeviceID       string    `gorm:"not null" json:"device_id"`
	CodeHash       string    `gorm:"not null" json:"-"`
	PayoutIntentID *string   `json:"payout_intent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}
