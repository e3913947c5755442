// Package store is the persistence transactor: atomic read-modify-write access
// to the session, checkpoint, redemption, and user cooldown collections.
package store

import (
	"context"
	"errors"
	"time"

	"bounty-session-service/models"
)

// ErrNotFound is returned by Tx getters when no record matches.
var ErrNotFound = errors.New("record not found")

// Tx exposes the record collections visible inside one atomic transaction.
// Reads take row locks where the backend supports them, so a closure sees a
// consistent snapshot of everything it touches.
type Tx interface {
	GetSession(id string) (*models.Session, error)
	SaveSession(s *models.Session) error

	GetCheckpoint(id string) (*models.Checkpoint, error)
	SaveCheckpoint(cp *models.Checkpoint) error

	GetRedemption(sessionID, checkpointID string) (*models.Redemption, error)
	CreateRedemption(r *models.Redemption) error

	GetUserState(userID string) (*models.UserState, error)
	SaveUserState(u *models.UserState) error
}

// Store runs read-modify-write closures atomically: the closure either commits
// fully or not at all. ExpiredSessionIDs feeds the background expiry sweep.
type Store interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	ExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}
