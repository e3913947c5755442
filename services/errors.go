package services

import (
	"fmt"
	"net/http"
	"time"

	"bounty-session-service/models"
)

// Error is a service failure with a stable machine code and HTTP status.
// Handlers map it onto the wire shape {"error": {"code", "message", "details"?}};
// anything that is not an *Error becomes a 500 "internal".
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Uniform credential failures. The verifier never tells the caller why a token
// was rejected.
var (
	ErrInvalidToken = &Error{
		Code:    "invalid_token",
		Status:  http.StatusUnauthorized,
		Message: "token is missing, malformed, or failed verification",
	}
	ErrTokenRevoked = &Error{
		Code:    "token_revoked",
		Status:  http.StatusUnauthorized,
		Message: "a newer credential has been issued for this session",
	}
)

// InvalidRequestError flags malformed input. Exported so handlers can reuse it
// for unparseable request bodies.
func InvalidRequestError(message string) *Error {
	return &Error{Code: "invalid_request", Status: http.StatusBadRequest, Message: message}
}

func errCooldownActive(until time.Time) *Error {
	return &Error{
		Code:    "cooldown_active",
		Status:  http.StatusTooManyRequests,
		Message: "a new session cannot be started until the cooldown has elapsed",
		Details: map[string]interface{}{"cooldownUntil": until},
	}
}

func errSessionActive(sessionID string) *Error {
	return &Error{
		Code:    "session_active",
		Status:  http.StatusConflict,
		Message: "another session is already in progress for this user",
		Details: map[string]interface{}{"sessionId": sessionID},
	}
}

func errSessionNotFound() *Error {
	return &Error{Code: "not_found", Status: http.StatusNotFound, Message: "session not found"}
}

func errSessionClosed(state models.SessionState) *Error {
	return &Error{
		Code:    "session_closed",
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("session is %s and no longer accepts this operation", state),
	}
}

func errSessionExpired(expiredAt time.Time) *Error {
	return &Error{
		Code:    "session_expired",
		Status:  http.StatusGone,
		Message: "session deadline has passed",
		Details: map[string]interface{}{"expiresAt": expiredAt},
	}
}

func errForbidden(message string) *Error {
	return &Error{Code: "forbidden", Status: http.StatusForbidden, Message: message}
}

func errNotReady(qualified, required int) *Error {
	return &Error{
		Code:    "not_ready",
		Status:  http.StatusConflict,
		Message: "required engagement time has not been reached",
		Details: map[string]interface{}{"qualifiedSeconds": qualified, "requiredSeconds": required},
	}
}

func errAlreadyRedeemed() *Error {
	return &Error{Code: "already_redeemed", Status: http.StatusConflict, Message: "checkpoint has already been redeemed"}
}

func errRetryExhausted(limit int) *Error {
	return &Error{
		Code:    "retry_exhausted",
		Status:  http.StatusConflict,
		Message: "code re-issuance limit reached for this session",
		Details: map[string]interface{}{"limit": limit},
	}
}

func errCheckpointNotFound() *Error {
	return &Error{Code: "not_found", Status: http.StatusNotFound, Message: "checkpoint not found"}
}

func errCheckpointNotIssued() *Error {
	return &Error{Code: "checkpoint_not_issued", Status: http.StatusConflict, Message: "no code has been issued for this checkpoint"}
}

func errInvalidCode() *Error {
	return &Error{Code: "invalid_code", Status: http.StatusForbidden, Message: "code does not match the issued checkpoint code"}
}

func errNotRedeemed(state models.SessionState) *Error {
	return &Error{
		Code:    "not_redeemed",
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("session must be redeemed before a successful finish, current state is %s", state),
	}
}
