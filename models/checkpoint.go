package models

import "time"

// CheckpointStatus tracks a checkpoint through issuance and redemption.
type CheckpointStatus string

const (
	CheckpointStatusReady    CheckpointStatus = "ready"
	CheckpointStatusIssued   CheckpointStatus = "issued"
	CheckpointStatusRedeemed CheckpointStatus = "redeemed"
)

// Checkpoint is the one-time-code artifact gating reward release for a session.
// Created lazily the first time its session reaches readiness; a redeemed
// checkpoint is immutable. Only the code's SHA-256 hash is ever stored — the
// plaintext is returned to the caller exactly once at issuance.
type Checkpoint struct {
	ID         string           `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID  string           `gorm:"uniqueIndex;not null" json:"session_id"`
	UserID     string           `gorm:"index;not null" json:"user_id"`
	BountyID   string           `gorm:"not null" json:"bounty_id"`
	DeviceID   string           `gorm:"not null" json:"device_id"`
	Status     CheckpointStatus `gorm:"not null;default:'ready'" json:"status"`
	CodeHash   *string          `json:"-"` // set once per issuance cycle, overwritten on re-issuance
	RetryCount int              `gorm:"default:0" json:"retry_count"` // issuance events seen, uncapped
	IssuedAt   *time.Time       `json:"issued_at,omitempty"`
	RedeemedAt *time.Time       `json:"redeemed_at,omitempty"`

	Timestamps
}
