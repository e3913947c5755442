package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"bounty-session-service/metric"
	"bounty-session-service/models"
	"bounty-session-service/store"
)

// CheckpointService owns one-time-code issuance and idempotent redemption.
type CheckpointService struct {
	Store  store.Store
	Tokens *TokenService
	Cfg    Config
}

func NewCheckpointService(st store.Store, tokens *TokenService, cfg Config) *CheckpointService {
	return &CheckpointService{Store: st, Tokens: tokens, Cfg: cfg}
}

// ReadyResult is returned by RequestReady.
type ReadyResult struct {
	Session    *models.Session
	Checkpoint *models.Checkpoint
	Token      string
}

// IssueResult carries the plaintext one-time code. The code is never persisted
// and cannot be retrieved again — only its hash is stored.
type IssueResult struct {
	Session    *models.Session
	Checkpoint *models.Checkpoint
	Code       string
	Token      string
}

// RedeemResult is returned by Redeem. Replayed marks the idempotent path where
// a prior redemption was found and echoed without new side effects.
type RedeemResult struct {
	Session    *models.Session
	Checkpoint *models.Checkpoint
	Redemption *models.Redemption
	Token      string
	Replayed   bool
}

// RequestReady makes sure a live checkpoint exists for a session that has
// reached its required engagement time, reusing one that is already present.
func (s *CheckpointService) RequestReady(ctx context.Context, tokenString string) (*ReadyResult, error) {
	claims, err := s.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rotationID := uuid.NewString()
	var sess *models.Session
	var cp *models.Checkpoint

	err = s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		sess, err = loadOwnedSession(tx, claims)
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return errSessionClosed(sess.State)
		}
		if sess.QualifiedSeconds < sess.RequiredSeconds {
			return errNotReady(sess.QualifiedSeconds, sess.RequiredSeconds)
		}

		if sess.CheckpointID != nil {
			cp, err = tx.GetCheckpoint(*sess.CheckpointID)
			if err != nil {
				return err
			}
			if cp.Status == models.CheckpointStatusRedeemed {
				return errAlreadyRedeemed()
			}
		} else {
			cp = &models.Checkpoint{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				UserID:    sess.UserID,
				BountyID:  sess.BountyID,
				DeviceID:  sess.DeviceID,
				Status:    models.CheckpointStatusReady,
			}
			if err := tx.SaveCheckpoint(cp); err != nil {
				return err
			}
			sess.CheckpointID = &cp.ID
		}

		// Never regress a session that is already at or past checkpoint_issued.
		if sess.State == models.SessionStateActive || sess.State == models.SessionStateReady {
			sess.State = models.SessionStateReady
		}
		sess.ActiveTokenID = &rotationID
		return tx.SaveSession(sess)
	})
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.Mint(sess.UserID, sess.ID, sess.DeviceID, sess.BountyID, rotationID, now)
	if err != nil {
		return nil, err
	}
	return &ReadyResult{Session: sess, Checkpoint: cp, Token: token}, nil
}

// IssueCode generates a fresh one-time code for the checkpoint and stores only
// its hash. A re-issuance (checkpoint already issued) counts against the
// session's soft retry limit, while the checkpoint's own counter tracks every
// issuance event uncapped.
func (s *CheckpointService) IssueCode(ctx context.Context, tokenString string, checkpointID *string) (*IssueResult, error) {
	claims, err := s.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rotationID := uuid.NewString()
	var sess *models.Session
	var cp *models.Checkpoint
	var code string

	err = s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		sess, err = loadOwnedSession(tx, claims)
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return errSessionClosed(sess.State)
		}
		if sess.QualifiedSeconds < sess.RequiredSeconds {
			return errNotReady(sess.QualifiedSeconds, sess.RequiredSeconds)
		}

		cp, err = resolveCheckpoint(tx, sess, checkpointID)
		if err != nil {
			return err
		}
		if cp.Status == models.CheckpointStatusRedeemed {
			return errAlreadyRedeemed()
		}
		if cp.Status == models.CheckpointStatusIssued {
			if sess.RetryCount >= s.Cfg.SoftRetryLimit {
				return errRetryExhausted(s.Cfg.SoftRetryLimit)
			}
			sess.RetryCount++
			cp.RetryCount++
		}

		code, err = newOneTimeCode()
		if err != nil {
			return err
		}
		hash := hashCode(code)
		cp.CodeHash = &hash
		cp.Status = models.CheckpointStatusIssued
		cp.IssuedAt = &now
		if err := tx.SaveCheckpoint(cp); err != nil {
			return err
		}

		sess.State = models.SessionStateCheckpointIssued
		sess.ActiveTokenID = &rotationID
		return tx.SaveSession(sess)
	})
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.Mint(sess.UserID, sess.ID, sess.DeviceID, sess.BountyID, rotationID, now)
	if err != nil {
		return nil, err
	}

	metric.CodesIssued.Inc()
	log.Printf("[checkpoint] issued code for %s session=%s retries=%d", cp.ID, sess.ID, cp.RetryCount)
	return &IssueResult{Session: sess, Checkpoint: cp, Code: code, Token: token}, nil
}

// Redeem unlocks the checkpoint if the presented code matches the issued hash.
// Redemption is idempotent on (session, checkpoint): a retry after a lost
// response — even one presenting the pre-redeem credential — finds the existing
// redemption and echoes it unchanged, with a token carrying the rotation id
// that was recorded at the original success.
func (s *CheckpointService) Redeem(ctx context.Context, tokenString, code string, checkpointID, payoutIntentID *string) (*RedeemResult, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 128 {
		return nil, InvalidRequestError("code must be non-empty and at most 128 characters")
	}
	claims, err := s.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	hash := hashCode(code)

	now := time.Now()
	rotationID := uuid.NewString()
	out := &RedeemResult{}

	err = s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		sess, err := tx.GetSession(claims.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return errSessionNotFound()
		}
		if err != nil {
			return err
		}
		if err := checkOwnership(sess, claims); err != nil {
			return err
		}

		cp, err := resolveCheckpoint(tx, sess, checkpointID)
		if err != nil {
			return err
		}
		if cp.CodeHash == nil {
			return errCheckpointNotIssued()
		}
		if *cp.CodeHash != hash {
			return errInvalidCode()
		}

		// Idempotency anchor: an existing redemption is returned unchanged,
		// before the rotation check, so a stale pre-redeem credential can
		// still complete a retried call.
		existing, err := tx.GetRedemption(sess.ID, cp.ID)
		if err == nil {
			out.Session, out.Checkpoint, out.Redemption = sess, cp, existing
			out.Replayed = true
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if sess.ActiveTokenID == nil || *sess.ActiveTokenID != claims.RotationID {
			return ErrTokenRevoked
		}
		if sess.State.Terminal() {
			return errSessionClosed(sess.State)
		}
		if sess.State != models.SessionStateCheckpointIssued {
			return errCheckpointNotIssued()
		}

		mergePayoutIntent(sess, payoutIntentID)
		redemption := &models.Redemption{
			ID:             uuid.NewString(),
			SessionID:      sess.ID,
			CheckpointID:   cp.ID,
			UserID:         sess.UserID,
			BountyID:       sess.BountyID,
			DeviceID:       sess.DeviceID,
			CodeHash:       hash,
			PayoutIntentID: sess.PayoutIntentID,
		}
		if err := tx.CreateRedemption(redemption); err != nil {
			return err
		}

		cp.Status = models.CheckpointStatusRedeemed
		cp.RedeemedAt = &now
		if err := tx.SaveCheckpoint(cp); err != nil {
			return err
		}

		sess.State = models.SessionStateRedeemed
		sess.ActiveTokenID = &rotationID
		if err := tx.SaveSession(sess); err != nil {
			return err
		}

		out.Session, out.Checkpoint, out.Redemption = sess, cp, redemption
		return nil
	})
	if err != nil {
		return nil, err
	}

	// On replay the session keeps whatever rotation id was committed at the
	// original success; echo that instead of rotating again.
	mintRotation := rotationID
	if out.Replayed {
		if out.Session.ActiveTokenID == nil {
			return out, nil
		}
		mintRotation = *out.Session.ActiveTokenID
	}
	token, err := s.Tokens.Mint(out.Session.UserID, out.Session.ID, out.Session.DeviceID, out.Session.BountyID, mintRotation, now)
	if err != nil {
		return nil, err
	}
	out.Token = token

	if !out.Replayed {
		metric.CheckpointsRedeemed.Inc()
		log.Printf("[checkpoint] redeemed %s session=%s", out.Checkpoint.ID, out.Session.ID)
	}
	return out, nil
}

// resolveCheckpoint picks the explicit checkpoint when one is named, otherwise
// the session's own, and enforces that it belongs to this session.
func resolveCheckpoint(tx store.Tx, sess *models.Session, checkpointID *string) (*models.Checkpoint, error) {
	target := sess.CheckpointID
	if id := normalizeOptional(checkpointID); id != nil {
		target = id
	}
	if target == nil {
		return nil, errCheckpointNotFound()
	}
	cp, err := tx.GetCheckpoint(*target)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errCheckpointNotFound()
	}
	if err != nil {
		return nil, err
	}
	if cp.SessionID != sess.ID {
		return nil, errForbidden("checkpoint belongs to a different session")
	}
	return cp, nil
}

func newOneTimeCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
