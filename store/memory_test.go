package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-session-service/models"
)

func TestMemoryStoreRollbackOnError(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.RunTransaction(ctx, func(tx Tx) error {
		require.NoError(t, tx.SaveSession(&models.Session{ID: "s1", UserID: "u1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = st.RunTransaction(ctx, func(tx Tx) error {
		_, err := tx.GetSession("s1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreReadsOwnWrites(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	err := st.RunTransaction(ctx, func(tx Tx) error {
		require.NoError(t, tx.SaveSession(&models.Session{ID: "s1", UserID: "u1"}))
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		return nil
	})
	require.NoError(t, err)

	// Committed writes are visible to the next transaction.
	err = st.RunTransaction(ctx, func(tx Tx) error {
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		return nil
	})
	require.NoError(t, err)
}

// Mutating a fetched record must not leak into the store without a save.
func TestMemoryStoreCloneIsolation(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	token := "rot-1"
	err := st.RunTransaction(ctx, func(tx Tx) error {
		return tx.SaveSession(&models.Session{ID: "s1", ActiveTokenID: &token})
	})
	require.NoError(t, err)

	err = st.RunTransaction(ctx, func(tx Tx) error {
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		*sess.ActiveTokenID = "mutated"
		sess.UserID = "mutated"
		return nil
	})
	require.NoError(t, err)

	err = st.RunTransaction(ctx, func(tx Tx) error {
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		require.NotNil(t, sess.ActiveTokenID)
		assert.Equal(t, "rot-1", *sess.ActiveTokenID)
		assert.Empty(t, sess.UserID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreDuplicateRedemption(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	err := st.RunTransaction(ctx, func(tx Tx) error {
		return tx.CreateRedemption(&models.Redemption{ID: "r1", SessionID: "s1", CheckpointID: "c1"})
	})
	require.NoError(t, err)

	err = st.RunTransaction(ctx, func(tx Tx) error {
		return tx.CreateRedemption(&models.Redemption{ID: "r2", SessionID: "s1", CheckpointID: "c1"})
	})
	require.Error(t, err)

	// The original record survives.
	err = st.RunTransaction(ctx, func(tx Tx) error {
		r, err := tx.GetRedemption("s1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "r1", r.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreExpiredSessionIDs(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	seed := []models.Session{
		{ID: "a-overdue", State: models.SessionStateActive, ExpiresAt: now.Add(-time.Minute)},
		{ID: "b-live", State: models.SessionStateActive, ExpiresAt: now.Add(time.Minute)},
		{ID: "c-overdue", State: models.SessionStateReady, ExpiresAt: now.Add(-time.Second)},
		{ID: "d-finished", State: models.SessionStateFinished, ExpiresAt: now.Add(-time.Hour)},
		{ID: "e-cancelled", State: models.SessionStateCancelled, ExpiresAt: now.Add(-time.Hour)},
	}
	err := st.RunTransaction(ctx, func(tx Tx) error {
		for i := range seed {
			if err := tx.SaveSession(&seed[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	ids, err := st.ExpiredSessionIDs(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-overdue", "c-overdue"}, ids)

	limited, err := st.ExpiredSessionIDs(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreNotFound(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	err := st.RunTransaction(ctx, func(tx Tx) error {
		if _, err := tx.GetSession("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSession: want ErrNotFound, got %v", err)
		}
		if _, err := tx.GetCheckpoint("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCheckpoint: want ErrNotFound, got %v", err)
		}
		if _, err := tx.GetRedemption("missing", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRedemption: want ErrNotFound, got %v", err)
		}
		if _, err := tx.GetUserState("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUserState: want ErrNotFound, got %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}
