package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/otpwallet/adapters/store"
	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

type flowFixture struct {
	flow     *AuthFlow
	verifier *fakeVerifier
	store    *store.MemoryStore
	ticker   *manualTicker
	events   *recordingEvents
	tokens   *fakeTokenizer
}

func newFlow(t *testing.T, opts ...Option) *flowFixture {
	t.Helper()
	fx := &flowFixture{
		verifier: &fakeVerifier{},
		store:    store.NewMemoryStore(),
		ticker:   &manualTicker{},
		events:   &recordingEvents{},
		tokens:   &fakeTokenizer{},
	}
	opts = append([]Option{WithTicker(fx.ticker.start), WithEvents(fx.events)}, opts...)
	fx.flow = NewAuthFlow(fx.verifier, fx.store, fakeKeys{}, fx.tokens, opts...)
	t.Cleanup(fx.flow.Close)
	return fx
}

func newFlowWithStore(t *testing.T, sessions ports.SessionStore) *AuthFlow {
	t.Helper()
	flow := NewAuthFlow(&fakeVerifier{}, sessions, fakeKeys{}, &fakeTokenizer{}, WithTicker((&manualTicker{}).start))
	t.Cleanup(flow.Close)
	return flow
}

// awaitCode drives a fresh flow to AwaitingCode for a@b.com
func (fx *flowFixture) awaitCode(t *testing.T) AwaitingCode {
	t.Helper()
	require.NoError(t, fx.flow.SetEmail("a@b.com"))
	require.NoError(t, fx.flow.RequestCode(context.Background()))
	st, ok := fx.flow.State().(AwaitingCode)
	require.True(t, ok, "expected AwaitingCode, got %T", fx.flow.State())
	return st
}

// storedSession is a session written by an earlier process
func storedSession() core.Session {
	return core.Session{Address: testAddress, PrivateKey: testKey, IssuedToken: "token:earlier"}
}

func TestInitialState(t *testing.T) {
	fx := newFlow(t)
	assert.Equal(t, EnteringEmail{}, fx.flow.State())
}

func TestRequestCode(t *testing.T) {
	fx := newFlow(t)
	st := fx.awaitCode(t)

	assert.Equal(t, AwaitingCode{
		Email:                    "a@b.com",
		VerificationID:           "verification-1",
		CanResend:                false,
		CooldownSecondsRemaining: 60,
	}, st)

	pending, err := fx.store.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", pending.Email)
	assert.Equal(t, "verification-1", pending.VerificationID)
}

func TestRequestCodeRejectsInvalidEmail(t *testing.T) {
	for _, email := range []string{"", "   ", "not-an-email", "a@", "@b.com", "a b@c.com"} {
		t.Run(email, func(t *testing.T) {
			fx := newFlow(t)
			require.NoError(t, fx.flow.SetEmail(email))

			err := fx.flow.RequestCode(context.Background())
			assert.Equal(t, core.KindInvalidEmail, core.KindOf(err))
			assert.Equal(t, 0, fx.verifier.count())
			assert.Equal(t, EnteringEmail{Email: email}, fx.flow.State())
		})
	}
}

func TestRequestCodeIssuanceFailure(t *testing.T) {
	fx := newFlow(t)
	fx.verifier.err = errors.New("503 service unavailable")
	require.NoError(t, fx.flow.SetEmail("a@b.com"))

	err := fx.flow.RequestCode(context.Background())
	assert.True(t, errors.Is(err, core.Kind(core.KindIssuanceFailed)))

	failed, ok := fx.flow.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, failed.Previous)
	assert.Equal(t, core.KindIssuanceFailed, failed.Kind)
	assert.NotEmpty(t, failed.Message)

	require.NoError(t, fx.flow.Dismiss())
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, fx.flow.State())
}

func TestSetEmailOnlyWhileEntering(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	err := fx.flow.SetEmail("other@b.com")
	assert.Equal(t, core.KindInvalidState, core.KindOf(err))
}

func TestCooldownCountsDown(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	fx.ticker.tick(1)
	require.Eventually(t, func() bool {
		st := fx.flow.State().(AwaitingCode)
		return st.CooldownSecondsRemaining == 59
	}, time.Second, time.Millisecond)

	fx.ticker.tick(59)
	require.Eventually(t, func() bool {
		st := fx.flow.State().(AwaitingCode)
		return st.CanResend && st.CooldownSecondsRemaining == 0
	}, time.Second, time.Millisecond)

	// The timer stops itself once resend is allowed
	require.Eventually(t, func() bool { return fx.ticker.stops() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, fx.flow.State().(AwaitingCode).CanResend)
}

func TestResendBeforeCooldown(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	err := fx.flow.Resend(context.Background())
	assert.Equal(t, core.KindInvalidState, core.KindOf(err))
	assert.Equal(t, 1, fx.verifier.count())
}

func TestResendSupersedesPending(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	fx.ticker.tick(60)
	require.Eventually(t, func() bool { return fx.flow.State().(AwaitingCode).CanResend }, time.Second, time.Millisecond)

	require.NoError(t, fx.flow.Resend(context.Background()))

	assert.Equal(t, AwaitingCode{
		Email:                    "a@b.com",
		VerificationID:           "verification-2",
		CanResend:                false,
		CooldownSecondsRemaining: 60,
	}, fx.flow.State())
	pending, err := fx.store.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "verification-2", pending.VerificationID)
	assert.Equal(t, 2, fx.ticker.started())
}

func TestResendFailureKeepsPending(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	fx.ticker.tick(60)
	require.Eventually(t, func() bool { return fx.flow.State().(AwaitingCode).CanResend }, time.Second, time.Millisecond)

	fx.verifier.err = errors.New("connection reset")
	err := fx.flow.Resend(context.Background())
	assert.Equal(t, core.KindIssuanceFailed, core.KindOf(err))

	pending, err := fx.store.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "verification-1", pending.VerificationID)

	// The old code can still be submitted from Failed
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))
	assert.Equal(t, Authenticated{Address: testAddress}, fx.flow.State())
}

func TestSubmitCode(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))
	assert.Equal(t, Authenticated{Address: testAddress}, fx.flow.State())

	session, err := fx.store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", session.Email)
	assert.Equal(t, testAddress, session.Address)
	assert.Equal(t, testKey, session.PrivateKey)
	assert.Equal(t, "token:verification-1", session.IssuedToken)

	_, err = fx.store.Pending(context.Background())
	assert.ErrorIs(t, err, core.ErrNoPendingVerification)
	assert.Equal(t, []string{"authenticated"}, fx.events.published())
	require.Eventually(t, func() bool { return fx.ticker.stops() == 1 }, time.Second, time.Millisecond)
}

func TestSubmitCodeRejectsMalformedCode(t *testing.T) {
	for _, code := range []string{"12345", "1234567", "12a456", "", "١٢٣٤٥٦"} {
		t.Run(code, func(t *testing.T) {
			codes := &fakeCodes{valid: "123456"}
			fx := newFlow(t, WithCodeVerifier(codes))
			before := fx.awaitCode(t)

			err := fx.flow.SubmitCode(context.Background(), code)
			assert.Equal(t, core.KindInvalidCode, core.KindOf(err))
			assert.Equal(t, before, fx.flow.State())
		})
	}
}

func TestSubmitCodeWithoutPending(t *testing.T) {
	fx := newFlow(t)
	err := fx.flow.SubmitCode(context.Background(), "123456")
	assert.Equal(t, core.KindNoPendingVerification, core.KindOf(err))
	assert.Equal(t, EnteringEmail{}, fx.flow.State())
}

func TestSubmitCodePendingMismatch(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	require.NoError(t, fx.store.ClearPending(context.Background()))

	err := fx.flow.SubmitCode(context.Background(), "123456")
	assert.Equal(t, core.KindNoPendingVerification, core.KindOf(err))

	failed, ok := fx.flow.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, "verification-1", failed.Previous.(AwaitingCode).VerificationID)
	_, err = fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSubmitCodeRejectedByVerifier(t *testing.T) {
	codes := &fakeCodes{valid: "654321"}
	fx := newFlow(t, WithCodeVerifier(codes))
	awaiting := fx.awaitCode(t)

	err := fx.flow.SubmitCode(context.Background(), "123456")
	assert.Equal(t, core.KindInvalidCode, core.KindOf(err))
	assert.Equal(t, Failed{Previous: awaiting, Kind: core.KindInvalidCode, Message: "Invalid verification code"}, fx.flow.State())

	_, err = fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	// Retry without requesting a new code
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "654321"))
	assert.Equal(t, Authenticated{Address: testAddress}, fx.flow.State())
	assert.Equal(t, 1, fx.verifier.count())
}

func TestSubmitCodeVerifierUnavailable(t *testing.T) {
	fx := newFlow(t, WithCodeVerifier(&fakeCodes{err: errors.New("timeout")}))
	fx.awaitCode(t)

	err := fx.flow.SubmitCode(context.Background(), "123456")
	assert.Equal(t, core.KindVerificationFailed, core.KindOf(err))
}

func TestDismissRestartsCooldown(t *testing.T) {
	fx := newFlow(t, WithCodeVerifier(&fakeCodes{valid: "654321"}))
	fx.awaitCode(t)
	require.Error(t, fx.flow.SubmitCode(context.Background(), "123456"))

	require.NoError(t, fx.flow.Dismiss())
	st, ok := fx.flow.State().(AwaitingCode)
	require.True(t, ok)
	assert.False(t, st.CanResend)
	assert.Equal(t, 2, fx.ticker.started())

	fx.ticker.tick(1)
	require.Eventually(t, func() bool {
		return fx.flow.State().(AwaitingCode).CooldownSecondsRemaining == 59
	}, time.Second, time.Millisecond)
}

func TestDismissOutsideFailed(t *testing.T) {
	fx := newFlow(t)
	assert.Equal(t, core.KindInvalidState, core.KindOf(fx.flow.Dismiss()))
}

func TestGoBack(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	require.NoError(t, fx.flow.GoBack(context.Background()))
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, fx.flow.State())
	require.Eventually(t, func() bool { return fx.ticker.stops() == 1 }, time.Second, time.Millisecond)

	_, err := fx.store.Pending(context.Background())
	assert.ErrorIs(t, err, core.ErrNoPendingVerification)

	// A fresh request gets a new verification and a full cooldown
	require.NoError(t, fx.flow.RequestCode(context.Background()))
	assert.Equal(t, AwaitingCode{
		Email:                    "a@b.com",
		VerificationID:           "verification-2",
		CooldownSecondsRemaining: 60,
	}, fx.flow.State())
}

func TestGoBackFromFailed(t *testing.T) {
	fx := newFlow(t, WithCodeVerifier(&fakeCodes{valid: "654321"}))
	fx.awaitCode(t)
	require.Error(t, fx.flow.SubmitCode(context.Background(), "123456"))

	require.NoError(t, fx.flow.GoBack(context.Background()))
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, fx.flow.State())
}

func TestGoBackFromFailedRequest(t *testing.T) {
	fx := newFlow(t)
	fx.verifier.err = errors.New("boom")
	require.NoError(t, fx.flow.SetEmail("a@b.com"))
	require.Error(t, fx.flow.RequestCode(context.Background()))

	err := fx.flow.GoBack(context.Background())
	assert.Equal(t, core.KindInvalidState, core.KindOf(err))
}

func TestSupersededRequestIsDiscarded(t *testing.T) {
	fx := newFlow(t)
	fx.verifier.gate = make(chan struct{})
	require.NoError(t, fx.flow.SetEmail("a@b.com"))

	done := make(chan error, 1)
	go func() { done <- fx.flow.RequestCode(context.Background()) }()
	require.Eventually(t, func() bool { return fx.verifier.count() == 1 }, time.Second, time.Millisecond)

	fx.flow.Close()
	close(fx.verifier.gate)

	assert.ErrorIs(t, <-done, core.ErrSuperseded)
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, fx.flow.State())
	_, err := fx.store.Pending(context.Background())
	assert.ErrorIs(t, err, core.ErrNoPendingVerification)
	assert.Equal(t, 0, fx.ticker.started())
}

func TestLogout(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))

	require.NoError(t, fx.flow.Logout(context.Background()))
	assert.Equal(t, EnteringEmail{}, fx.flow.State())

	_, err := fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, []string{"authenticated", "logout"}, fx.events.published())
}

func TestLogoutRequiresSession(t *testing.T) {
	fx := newFlow(t)
	assert.Equal(t, core.KindInvalidState, core.KindOf(fx.flow.Logout(context.Background())))
}

func TestLogoutStoreFailureKeepsSession(t *testing.T) {
	sessions := brokenClearStore{store.NewMemoryStore()}
	require.NoError(t, sessions.Write(context.Background(), storedSession()))

	flow := newFlowWithStore(t, sessions)
	restored, err := flow.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, restored)

	err = flow.Logout(context.Background())
	assert.Equal(t, core.KindStoreFailed, core.KindOf(err))
	assert.Equal(t, Authenticated{Address: testAddress}, flow.State())
}

func TestRestore(t *testing.T) {
	fx := newFlow(t)
	restored, err := fx.flow.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, EnteringEmail{}, fx.flow.State())

	require.NoError(t, fx.store.Write(context.Background(), storedSession()))
	restored, err = fx.flow.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, Authenticated{Address: testAddress}, fx.flow.State())
}

func TestObserveAuthenticated(t *testing.T) {
	fx := newFlow(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presence, err := fx.flow.ObserveAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, <-presence)

	fx.awaitCode(t)
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))
	assert.True(t, <-presence)

	// A change made outside the flow is observed too
	require.NoError(t, fx.store.Clear(context.Background()))
	assert.False(t, <-presence)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-presence
		return !open
	}, time.Second, time.Millisecond)
}

func TestWatch(t *testing.T) {
	fx := newFlow(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := fx.flow.Watch(ctx)
	assert.Equal(t, EnteringEmail{}, <-states)

	require.NoError(t, fx.flow.SetEmail("a@b.com"))
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, <-states)

	// Only the latest state is kept for a slow reader
	require.NoError(t, fx.flow.RequestCode(context.Background()))
	require.NoError(t, fx.flow.GoBack(context.Background()))
	assert.Equal(t, EnteringEmail{Email: "a@b.com"}, <-states)

	fx.flow.Close()
	require.Eventually(t, func() bool {
		_, open := <-states
		return !open
	}, time.Second, time.Millisecond)
}

func TestSupersededSubmitLeavesNoSession(t *testing.T) {
	codes := &gatedCodes{entered: make(chan struct{}), gate: make(chan struct{})}
	fx := newFlow(t, WithCodeVerifier(codes))
	fx.awaitCode(t)

	done := make(chan error, 1)
	go func() { done <- fx.flow.SubmitCode(context.Background(), "123456") }()
	<-codes.entered

	fx.flow.Close()
	close(codes.gate)

	assert.ErrorIs(t, <-done, core.ErrSuperseded)
	_, err := fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = fx.store.Pending(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, fx.events.published())
}

func TestRestoreExpiredSession(t *testing.T) {
	fx := newFlow(t)
	require.NoError(t, fx.store.Write(context.Background(), storedSession()))
	fx.tokens.expire()

	restored, err := fx.flow.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, EnteringEmail{}, fx.flow.State())

	_, err = fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, []string{"logout"}, fx.events.published())
}

func TestRestoreUnverifiableToken(t *testing.T) {
	fx := newFlow(t)
	session := storedSession()
	session.IssuedToken = "signed-by-another-key"
	require.NoError(t, fx.store.Write(context.Background(), session))

	restored, err := fx.flow.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)

	_, err = fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestReconcileKeepsLiveSession(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))

	reset, err := fx.flow.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, Authenticated{Address: testAddress}, fx.flow.State())
}

func TestReconcileOutsideAuthenticated(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)

	reset, err := fx.flow.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.IsType(t, AwaitingCode{}, fx.flow.State())
}

func TestReconcileExpiredToken(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))
	fx.tokens.expire()

	reset, err := fx.flow.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, EnteringEmail{}, fx.flow.State())

	_, err = fx.store.Read(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, []string{"authenticated", "logout"}, fx.events.published())

	// A new login works right away
	fx.awaitCode(t)
}

func TestFollowPresenceResetsOnExternalClear(t *testing.T) {
	fx := newFlow(t)
	fx.awaitCode(t)
	require.NoError(t, fx.flow.SubmitCode(context.Background(), "123456"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.flow.FollowPresence(ctx))

	require.NoError(t, fx.store.Clear(context.Background()))
	require.Eventually(t, func() bool {
		return fx.flow.State() == State(EnteringEmail{})
	}, time.Second, time.Millisecond)
}
