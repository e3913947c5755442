package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-session-service/models"
)

// GormStore backs the transactor with a relational database via GORM.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// RunTransaction executes fn inside a serializable transaction. A serialization
// conflict (SQLSTATE 40001) is retried once; by then the conflicting writer has
// committed and the re-read sees its result.
func (s *GormStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	run := func() error {
		return s.DB.WithContext(ctx).Transaction(func(g *gorm.DB) error {
			return fn(&gormTx{g: g})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	err := run()
	if err != nil && strings.Contains(err.Error(), "SQLSTATE 40001") {
		log.Printf("[store] serialization conflict, retrying transaction")
		err = run()
	}
	return err
}

var nonTerminalStates = []models.SessionState{
	models.SessionStateActive,
	models.SessionStateReady,
	models.SessionStateCheckpointIssued,
	models.SessionStateRedeemed,
}

func (s *GormStore) ExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).
		Model(&models.Session{}).
		Where("state IN ? AND expires_at <= ?", nonTerminalStates, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

type gormTx struct {
	g *gorm.DB
}

func (t *gormTx) GetSession(id string) (*models.Session, error) {
	var sess models.Session
	if err := t.g.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sess, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &sess, nil
}

func (t *gormTx) SaveSession(s *models.Session) error {
	return t.g.Save(s).Error
}

func (t *gormTx) GetCheckpoint(id string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := t.g.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cp, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &cp, nil
}

func (t *gormTx) SaveCheckpoint(cp *models.Checkpoint) error {
	return t.g.Save(cp).Error
}

func (t *gormTx) GetRedemption(sessionID, checkpointID string) (*models.Redemption, error) {
	var r models.Redemption
	if err := t.g.Where("session_id = ? AND checkpoint_id = ?", sessionID, checkpointID).
		First(&r).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

func (t *gormTx) CreateRedemption(r *models.Redemption) error {
	return t.g.Create(r).Error
}

func (t *gormTx) GetUserState(userID string) (*models.UserState, error) {
	var u models.UserState
	if err := t.g.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "user_id = ?", userID).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

func (t *gormTx) SaveUserState(u *models.UserState) error {
	return t.g.Save(u).Error
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
