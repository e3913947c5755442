package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bounty-session-service/models"
)

// startReadySession runs a session up to its required engagement time and
// returns the current token.
func startReadySession(t *testing.T, sessions *SessionService, userID string) string {
	t.Helper()
	ctx := context.Background()

	res, err := sessions.Start(ctx, userID, "bounty-1", "device-"+userID, 1.0, nil)
	require.NoError(t, err)

	prog, err := sessions.ReportProgress(ctx, res.Token, float64(res.Session.RequiredSeconds))
	require.NoError(t, err)
	require.True(t, prog.Ready)
	return prog.Token
}

// startIssuedCheckpoint drives a session through ready and code issuance.
func startIssuedCheckpoint(t *testing.T, sessions *SessionService, checkpoints *CheckpointService, userID string) *IssueResult {
	t.Helper()
	ctx := context.Background()

	token := startReadySession(t, sessions, userID)
	ready, err := checkpoints.RequestReady(ctx, token)
	require.NoError(t, err)
	issued, err := checkpoints.IssueCode(ctx, ready.Token, nil)
	require.NoError(t, err)
	return issued
}

// The full happy path from a $1 bounty to a successful finish.
func TestCheckpointHappyPath(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	res, err := sessions.Start(ctx, "user-1", "bounty-1", "device-1", 1.0, nil)
	require.NoError(t, err)
	require.Equal(t, 80, res.Session.RequiredSeconds)

	prog, err := sessions.ReportProgress(ctx, res.Token, 80)
	require.NoError(t, err)
	require.True(t, prog.Ready)
	require.Equal(t, models.SessionStateReady, prog.Session.State)

	ready, err := checkpoints.RequestReady(ctx, prog.Token)
	require.NoError(t, err)
	require.Equal(t, models.CheckpointStatusReady, ready.Checkpoint.Status)

	issued, err := checkpoints.IssueCode(ctx, ready.Token, nil)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Code)
	require.Equal(t, models.SessionStateCheckpointIssued, issued.Session.State)
	require.NotNil(t, issued.Checkpoint.CodeHash)
	require.NotEqual(t, issued.Code, *issued.Checkpoint.CodeHash, "only the hash is stored")

	redeemed, err := checkpoints.Redeem(ctx, issued.Token, issued.Code, nil, nil)
	require.NoError(t, err)
	assert.False(t, redeemed.Replayed)
	assert.Equal(t, models.SessionStateRedeemed, redeemed.Session.State)
	assert.Equal(t, models.CheckpointStatusRedeemed, redeemed.Checkpoint.Status)

	fin, err := sessions.Finish(ctx, redeemed.Token, "success", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFinished, fin.Session.State)
	assert.Nil(t, fin.Session.CooldownUntil)

	// No cooldown after a successful finish.
	_, err = sessions.Start(ctx, "user-1", "bounty-2", "device-1", 1.0, nil)
	require.NoError(t, err)
}

func TestRequestReadyBeforeRequiredTime(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	res, err := sessions.Start(ctx, "user-1", "bounty-1", "device-1", 1.0, nil)
	require.NoError(t, err)

	prog, err := sessions.ReportProgress(ctx, res.Token, 40)
	require.NoError(t, err)

	_, err = checkpoints.RequestReady(ctx, prog.Token)
	assertCode(t, err, "not_ready")
}

func TestRequestReadyReusesCheckpoint(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	token := startReadySession(t, sessions, "user-1")

	first, err := checkpoints.RequestReady(ctx, token)
	require.NoError(t, err)

	second, err := checkpoints.RequestReady(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.Checkpoint.ID, second.Checkpoint.ID)
}

func TestIssueCodeRetryCap(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	first := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")
	assert.Equal(t, 0, first.Checkpoint.RetryCount)
	assert.Equal(t, 0, first.Session.RetryCount)

	// One re-issuance is allowed.
	second, err := checkpoints.IssueCode(ctx, first.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Checkpoint.RetryCount)
	assert.Equal(t, 1, second.Session.RetryCount)
	assert.NotEqual(t, first.Code, second.Code)

	_, err = checkpoints.IssueCode(ctx, second.Token, nil)
	assertCode(t, err, "retry_exhausted")

	// The session itself stays live after a refused re-issuance.
	redeemed, err := checkpoints.Redeem(ctx, second.Token, second.Code, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateRedeemed, redeemed.Session.State)
}

func TestRedeemRejectsStaleCodeAfterReissue(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	first := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")
	second, err := checkpoints.IssueCode(ctx, first.Token, nil)
	require.NoError(t, err)

	_, err = checkpoints.Redeem(ctx, second.Token, first.Code, nil, nil)
	assertCode(t, err, "invalid_code")

	_, err = checkpoints.Redeem(ctx, second.Token, second.Code, nil, nil)
	require.NoError(t, err)
}

// A redeem retry after a lost response presents the pre-redeem credential and
// must still receive the original outcome.
func TestRedeemIdempotentReplay(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	issued := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")

	first, err := checkpoints.Redeem(ctx, issued.Token, issued.Code, nil, nil)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	replay, err := checkpoints.Redeem(ctx, issued.Token, issued.Code, nil, nil)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Redemption.ID, replay.Redemption.ID)
	assert.Equal(t, models.SessionStateRedeemed, replay.Session.State)
	require.NotEmpty(t, replay.Token)

	// The replayed token carries the live rotation id, so it can finish.
	fin, err := sessions.Finish(ctx, replay.Token, "success", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFinished, fin.Session.State)
}

func TestRedeemBeforeIssue(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	token := startReadySession(t, sessions, "user-1")

	ready, err := checkpoints.RequestReady(ctx, token)
	require.NoError(t, err)

	_, err = checkpoints.Redeem(ctx, ready.Token, "SOMECODE", nil, nil)
	assertCode(t, err, "checkpoint_not_issued")
}

func TestRedeemWrongCode(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	issued := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")

	_, err := checkpoints.Redeem(ctx, issued.Token, "WRONGCODE", nil, nil)
	assertCode(t, err, "invalid_code")

	_, err = checkpoints.Redeem(ctx, issued.Token, "", nil, nil)
	assertCode(t, err, "invalid_request")
}

func TestForeignCheckpointRejected(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	tokenA := startReadySession(t, sessions, "user-a")
	other := startIssuedCheckpoint(t, sessions, checkpoints, "user-b")

	_, err := checkpoints.IssueCode(ctx, tokenA, &other.Checkpoint.ID)
	assertCode(t, err, "forbidden")
}

func TestIssueAfterRedeem(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	issued := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")
	redeemed, err := checkpoints.Redeem(ctx, issued.Token, issued.Code, nil, nil)
	require.NoError(t, err)

	_, err = checkpoints.IssueCode(ctx, redeemed.Token, nil)
	assertCode(t, err, "already_redeemed")
}

func TestIssueWithoutCheckpoint(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	token := startReadySession(t, sessions, "user-1")

	// No checkpoint has been created yet and none is named.
	_, err := checkpoints.IssueCode(ctx, token, nil)
	assertCode(t, err, "not_found")
}

func TestPayoutIntentFirstWriteWins(t *testing.T) {
	sessions, checkpoints, _ := newTestEnv(t)
	ctx := context.Background()

	issued := startIssuedCheckpoint(t, sessions, checkpoints, "user-1")

	intentA := "pi-1"
	redeemed, err := checkpoints.Redeem(ctx, issued.Token, issued.Code, nil, &intentA)
	require.NoError(t, err)
	require.NotNil(t, redeemed.Redemption.PayoutIntentID)
	assert.Equal(t, "pi-1", *redeemed.Redemption.PayoutIntentID)

	intentB := "pi-2"
	fin, err := sessions.Finish(ctx, redeemed.Token, "success", &intentB)
	require.NoError(t, err)
	require.NotNil(t, fin.Session.PayoutIntentID)
	assert.Equal(t, "pi-1", *fin.Session.PayoutIntentID)
}
