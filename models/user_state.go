package models

import "time"

// UserState is the per-user side table enforcing the single-active-session rule
// and the cooldown window applied after an expired or cancelled session. Its
// lifetime is independent of any one session.
type UserState struct {
	UserID          string     `gorm:"primaryKey" json:"user_id"`
	ActiveSessionID *string    `json:"active_session_id,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`

	Timestamps
}
