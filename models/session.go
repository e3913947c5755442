package models

import "time"

// SessionState is the lifecycle state of a bounty session.
// Transitions only move forward: active ⇄ ready → checkpoint_issued → redeemed → finished,
// with expired and cancelled reachable from any non-terminal state.
type SessionState string

const (
	SessionStateActive           SessionState = "active"
	SessionStateReady            SessionState = "ready"
	SessionStateCheckpointIssued SessionState = "checkpoint_issued"
	SessionStateRedeemed         SessionState = "redeemed"
	SessionStateFinished         SessionState = "finished"
	SessionStateExpired          SessionState = "expired"
	SessionStateCancelled        SessionState = "cancelled"
)

// Terminal reports whether the state permanently rejects further mutation.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateFinished, SessionStateExpired, SessionStateCancelled:
		return true
	}
	return false
}

// Session is one timed attempt by a user/device pair to qualify for a bounty
// reward. IDs are UUIDv7 so sessions sort by creation time.
type Session struct {
	ID               string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID           string       `gorm:"index;not null" json:"user_id"`
	BountyID         string       `gorm:"not null" json:"bounty_id"`
	DeviceID         string       `gorm:"not null" json:"device_id"`
	RequiredSeconds  int          `gorm:"not null" json:"required_seconds"`
	QualifiedSeconds int          `gorm:"default:0" json:"qualified_seconds"` // monotonic, capped at RequiredSeconds
	State            SessionState `gorm:"not null;default:'active';index" json:"state"`
	RetryCount       int          `gorm:"default:0" json:"retry_count"` // code re-issuances requested, soft-capped
	CooldownUntil    *time.Time   `json:"cooldown_until,omitempty"`
	PayoutIntentID   *string      `json:"payout_intent_id,omitempty"` // opaque, threaded through to the redemption
	CheckpointID     *string      `json:"checkpoint_id,omitempty"`
	ActiveTokenID    *string      `json:"-"` // rotation id of the only currently valid bearer token
	ExpiresAt        time.Time    `gorm:"not null;index" json:"expires_at"`
	LastProgressAt   *time.Time   `json:"last_progress_at,omitempty"`

	Timestamps
}
