package services

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"bounty-session-service/metric"
	"bounty-session-service/models"
	"bounty-session-service/store"
)

const (
	minRequiredSeconds  = 20
	maxRequiredSeconds  = 120
	secondsPerBountyUSD = 60
)

// requiredSecondsFor maps reward size to required engagement, bounded so
// sessions are neither trivial nor unreasonably long.
func requiredSecondsFor(bountyAmountUSD float64) int {
	secs := int(math.Round(minRequiredSeconds + bountyAmountUSD*secondsPerBountyUSD))
	if secs < minRequiredSeconds {
		secs = minRequiredSeconds
	}
	if secs > maxRequiredSeconds {
		secs = maxRequiredSeconds
	}
	return secs
}

// SessionService owns the session state machine: creation, progress reporting,
// expiry, and finalization.
type SessionService struct {
	Store  store.Store
	Tokens *TokenService
	Cfg    Config
}

func NewSessionService(st store.Store, tokens *TokenService, cfg Config) *SessionService {
	return &SessionService{Store: st, Tokens: tokens, Cfg: cfg}
}

// StartResult is returned by Start together with the freshly minted bearer token.
type StartResult struct {
	Session *models.Session
	Token   string
}

// ProgressResult is returned by ReportProgress. Ready flags that the required
// engagement time has been reached.
type ProgressResult struct {
	Session *models.Session
	Ready   bool
	Token   string
}

// FinishResult is returned by Finish. The session carries no replacement token —
// finishing seals it.
type FinishResult struct {
	Session *models.Session
}

// Start creates a new session for the user unless a cooldown is active or
// another session is still live. A recorded session that is past its deadline
// but was never touched again is expired here as a side effect.
func (s *SessionService) Start(ctx context.Context, userID, bountyID, deviceID string, bountyAmountUSD float64, payoutIntentID *string) (*StartResult, error) {
	userID = strings.TrimSpace(userID)
	bountyID = strings.TrimSpace(bountyID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || bountyID == "" || deviceID == "" {
		return nil, InvalidRequestError("userId, bountyId, and deviceId are required")
	}
	if math.IsNaN(bountyAmountUSD) || math.IsInf(bountyAmountUSD, 0) || bountyAmountUSD <= 0 {
		return nil, InvalidRequestError("bountyAmountUsd must be a positive finite number")
	}

	now := time.Now()
	rotationID := uuid.NewString()
	session := &models.Session{
		ID:              uuid.Must(uuid.NewV7()).String(),
		UserID:          userID,
		BountyID:        bountyID,
		DeviceID:        deviceID,
		RequiredSeconds: requiredSecondsFor(bountyAmountUSD),
		State:           models.SessionStateActive,
		PayoutIntentID:  normalizeOptional(payoutIntentID),
		ActiveTokenID:   &rotationID,
		ExpiresAt:       now.Add(s.Cfg.SessionMaxDuration),
	}

	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserState(userID)
		if errors.Is(err, store.ErrNotFound) {
			user = &models.UserState{UserID: userID}
		} else if err != nil {
			return err
		}

		if user.CooldownUntil != nil && now.Before(*user.CooldownUntil) {
			return errCooldownActive(*user.CooldownUntil)
		}

		if user.ActiveSessionID != nil {
			prev, err := tx.GetSession(*user.ActiveSessionID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err == nil && !prev.State.Terminal() {
				if now.Before(prev.ExpiresAt) {
					return errSessionActive(prev.ID)
				}
				// Past its deadline but never touched again — seal it now
				// instead of leaving a phantom live session.
				expireSession(prev, now, s.Cfg.CooldownWindow)
				if err := tx.SaveSession(prev); err != nil {
					return err
				}
			}
		}

		if err := tx.SaveSession(session); err != nil {
			return err
		}
		user.ActiveSessionID = &session.ID
		user.CooldownUntil = nil
		return tx.SaveUserState(user)
	})
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.Mint(userID, session.ID, deviceID, bountyID, rotationID, now)
	if err != nil {
		return nil, err
	}

	metric.SessionsStarted.Inc()
	log.Printf("[session] started %s user=%s bounty=%s required=%ds", session.ID, userID, bountyID, session.RequiredSeconds)
	return &StartResult{Session: session, Token: token}, nil
}

// ReportProgress applies an elapsed-time report to the session named by the
// token. Progress is a monotonic ratchet capped at the required seconds, so
// out-of-order or retried reports can never regress it. A session found past
// its deadline is sealed as expired — the one error path that commits a
// mutation.
func (s *SessionService) ReportProgress(ctx context.Context, tokenString string, elapsedSeconds float64) (*ProgressResult, error) {
	if math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) || elapsedSeconds < 0 {
		return nil, InvalidRequestError("elapsedSeconds must be a finite number >= 0")
	}
	claims, err := s.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rotationID := uuid.NewString()
	var sess *models.Session

	err = s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		sess, err = loadOwnedSession(tx, claims)
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return errSessionClosed(sess.State)
		}
		if !now.Before(sess.ExpiresAt) {
			expireSession(sess, now, s.Cfg.CooldownWindow)
			if err := tx.SaveSession(sess); err != nil {
				return err
			}
			return closeUserSession(tx, sess.UserID, sess.ID, sess.CooldownUntil)
		}

		qualified := int(math.Floor(elapsedSeconds))
		if qualified > sess.RequiredSeconds {
			qualified = sess.RequiredSeconds
		}
		if qualified > sess.QualifiedSeconds {
			sess.QualifiedSeconds = qualified
		}
		if sess.State == models.SessionStateActive || sess.State == models.SessionStateReady {
			if sess.QualifiedSeconds >= sess.RequiredSeconds {
				sess.State = models.SessionStateReady
			} else {
				sess.State = models.SessionStateActive
			}
		}
		sess.LastProgressAt = &now
		sess.ActiveTokenID = &rotationID
		return tx.SaveSession(sess)
	})
	if err != nil {
		return nil, err
	}

	if sess.State == models.SessionStateExpired {
		metric.SessionsExpired.Inc()
		log.Printf("[session] expired %s on progress report", sess.ID)
		return nil, errSessionExpired(sess.ExpiresAt)
	}

	token, err := s.Tokens.Mint(sess.UserID, sess.ID, sess.DeviceID, sess.BountyID, rotationID, now)
	if err != nil {
		return nil, err
	}
	return &ProgressResult{
		Session: sess,
		Ready:   sess.QualifiedSeconds >= sess.RequiredSeconds,
		Token:   token,
	}, nil
}

// Finish seals the session. A "success" outcome requires the session to be
// redeemed (idempotent if it is already finished) and clears the cooldown; any
// other outcome cancels the session and starts a cooldown window. Either way
// the active token is cleared and no replacement is minted.
func (s *SessionService) Finish(ctx context.Context, tokenString, outcome string, payoutIntentID *string) (*FinishResult, error) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return nil, InvalidRequestError("outcome is required")
	}
	claims, err := s.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var sess *models.Session
	cancelled := false

	err = s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		sess, err = tx.GetSession(claims.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return errSessionNotFound()
		}
		if err != nil {
			return err
		}
		if err := checkOwnership(sess, claims); err != nil {
			return err
		}

		// Idempotent replay: a finished session rejects its stale token, but a
		// repeated successful finish is harmless and echoes the sealed state.
		if outcome == "success" && sess.State == models.SessionStateFinished {
			return nil
		}

		if sess.ActiveTokenID == nil || *sess.ActiveTokenID != claims.RotationID {
			return ErrTokenRevoked
		}
		if sess.State.Terminal() {
			return errSessionClosed(sess.State)
		}

		mergePayoutIntent(sess, payoutIntentID)

		if outcome == "success" {
			if sess.State != models.SessionStateRedeemed {
				return errNotRedeemed(sess.State)
			}
			sess.State = models.SessionStateFinished
			sess.CooldownUntil = nil
			sess.ActiveTokenID = nil
			if err := tx.SaveSession(sess); err != nil {
				return err
			}
			return closeUserSession(tx, sess.UserID, sess.ID, nil)
		}

		cancelled = true
		until := now.Add(s.Cfg.CooldownWindow)
		sess.State = models.SessionStateCancelled
		sess.CooldownUntil = &until
		sess.ActiveTokenID = nil
		if err := tx.SaveSession(sess); err != nil {
			return err
		}
		return closeUserSession(tx, sess.UserID, sess.ID, sess.CooldownUntil)
	})
	if err != nil {
		return nil, err
	}

	if cancelled {
		metric.SessionsCancelled.Inc()
		log.Printf("[session] cancelled %s outcome=%s", sess.ID, outcome)
	} else {
		metric.SessionsFinished.Inc()
		log.Printf("[session] finished %s", sess.ID)
	}
	return &FinishResult{Session: sess}, nil
}

// loadOwnedSession resolves the session named by verified claims and enforces
// ownership plus the rotating-token advisory lock: only the credential carrying
// the session's current rotation id may mutate it.
func loadOwnedSession(tx store.Tx, claims *SessionClaims) (*models.Session, error) {
	sess, err := tx.GetSession(claims.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errSessionNotFound()
	}
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(sess, claims); err != nil {
		return nil, err
	}
	if sess.ActiveTokenID == nil || *sess.ActiveTokenID != claims.RotationID {
		return nil, ErrTokenRevoked
	}
	return sess, nil
}

func checkOwnership(sess *models.Session, claims *SessionClaims) error {
	if sess.UserID != claims.Subject || sess.DeviceID != claims.DeviceID || sess.BountyID != claims.BountyID {
		return errForbidden("session does not belong to this caller")
	}
	return nil
}

// expireSession applies the terminal expiry transition: cooldown window start,
// token clear.
func expireSession(sess *models.Session, now time.Time, cooldown time.Duration) {
	until := now.Add(cooldown)
	sess.State = models.SessionStateExpired
	sess.CooldownUntil = &until
	sess.ActiveTokenID = nil
}

// closeUserSession updates the cooldown side table when sessionID reaches a
// terminal state. The active pointer is cleared only if it still names this
// session, so a newer session is never detached by a stale close.
func closeUserSession(tx store.Tx, userID, sessionID string, cooldownUntil *time.Time) error {
	user, err := tx.GetUserState(userID)
	if errors.Is(err, store.ErrNotFound) {
		user = &models.UserState{UserID: userID}
	} else if err != nil {
		return err
	}
	if user.ActiveSessionID != nil && *user.ActiveSessionID == sessionID {
		user.ActiveSessionID = nil
	}
	user.CooldownUntil = cooldownUntil
	return tx.SaveUserState(user)
}

// mergePayoutIntent records the first non-empty payout intent; later values
// never overwrite it.
func mergePayoutIntent(sess *models.Session, payoutIntentID *string) {
	if sess.PayoutIntentID == nil {
		sess.PayoutIntentID = normalizeOptional(payoutIntentID)
	}
}

func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
