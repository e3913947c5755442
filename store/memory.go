package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bounty-session-service/models"
)

// MemoryStore is an in-process transactor used by tests and as a dev fallback.
// Transactions run under a single mutex; writes are staged and applied only if
// the closure returns nil, matching the commit-or-abort contract of GormStore.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]models.Session
	checkpoints map[string]models.Checkpoint
	redemptions map[string]models.Redemption // keyed sessionID + "/" + checkpointID
	users       map[string]models.UserState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]models.Session),
		checkpoints: make(map[string]models.Checkpoint),
		redemptions: make(map[string]models.Redemption),
		users:       make(map[string]models.UserState),
	}
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		sessions:    make(map[string]models.Session),
		checkpoints: make(map[string]models.Checkpoint),
		redemptions: make(map[string]models.Redemption),
		users:       make(map[string]models.UserState),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) ExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, sess := range s.sessions {
		if !sess.State.Terminal() && !sess.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memTx struct {
	store       *MemoryStore
	sessions    map[string]models.Session
	checkpoints map[string]models.Checkpoint
	redemptions map[string]models.Redemption
	users       map[string]models.UserState
}

func (t *memTx) commit() {
	for id, v := range t.sessions {
		t.store.sessions[id] = v
	}
	for id, v := range t.checkpoints {
		t.store.checkpoints[id] = v
	}
	for k, v := range t.redemptions {
		t.store.redemptions[k] = v
	}
	for id, v := range t.users {
		t.store.users[id] = v
	}
}

func (t *memTx) GetSession(id string) (*models.Session, error) {
	if v, ok := t.sessions[id]; ok {
		return cloneSession(v), nil
	}
	if v, ok := t.store.sessions[id]; ok {
		return cloneSession(v), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveSession(s *models.Session) error {
	t.sessions[s.ID] = *cloneSession(*s)
	return nil
}

func (t *memTx) GetCheckpoint(id string) (*models.Checkpoint, error) {
	if v, ok := t.checkpoints[id]; ok {
		return cloneCheckpoint(v), nil
	}
	if v, ok := t.store.checkpoints[id]; ok {
		return cloneCheckpoint(v), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveCheckpoint(cp *models.Checkpoint) error {
	t.checkpoints[cp.ID] = *cloneCheckpoint(*cp)
	return nil
}

func redemptionKey(sessionID, checkpointID string) string {
	return sessionID + "/" + checkpointID
}

func (t *memTx) GetRedemption(sessionID, checkpointID string) (*models.Redemption, error) {
	key := redemptionKey(sessionID, checkpointID)
	if v, ok := t.redemptions[key]; ok {
		return cloneRedemption(v), nil
	}
	if v, ok := t.store.redemptions[key]; ok {
		return cloneRedemption(v), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateRedemption(r *models.Redemption) error {
	key := redemptionKey(r.SessionID, r.CheckpointID)
	if _, ok := t.redemptions[key]; ok {
		return fmt.Errorf("redemption already exists for %s", key)
	}
	if _, ok := t.store.redemptions[key]; ok {
		return fmt.Errorf("redemption already exists for %s", key)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	t.redemptions[key] = *cloneRedemption(*r)
	return nil
}

func (t *memTx) GetUserState(userID string) (*models.UserState, error) {
	if v, ok := t.users[userID]; ok {
		return cloneUserState(v), nil
	}
	if v, ok := t.store.users[userID]; ok {
		return cloneUserState(v), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveUserState(u *models.UserState) error {
	t.users[u.UserID] = *cloneUserState(*u)
	return nil
}

// The clone helpers copy pointer fields so callers never share memory with the
// store's own records.

func cloneSession(s models.Session) *models.Session {
	s.CooldownUntil = copyTime(s.CooldownUntil)
	s.PayoutIntentID = copyString(s.PayoutIntentID)
	s.CheckpointID = copyString(s.CheckpointID)
	s.ActiveTokenID = copyString(s.ActiveTokenID)
	s.LastProgressAt = copyTime(s.LastProgressAt)
	return &s
}

func cloneCheckpoint(cp models.Checkpoint) *models.Checkpoint {
	cp.CodeHash = copyString(cp.CodeHash)
	cp.IssuedAt = copyTime(cp.IssuedAt)
	cp.RedeemedAt = copyTime(cp.RedeemedAt)
	return &cp
}

func cloneRedemption(r models.Redemption) *models.Redemption {
	r.PayoutIntentID = copyString(r.PayoutIntentID)
	return &r
}

func cloneUserState(u models.UserState) *models.UserState {
	u.ActiveSessionID = copyString(u.ActiveSessionID)
	u.CooldownUntil = copyTime(u.CooldownUntil)
	return &u
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
