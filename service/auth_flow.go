package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

// AuthFlow drives email entry, code issuance, resend cooldown, code verification
// and session creation/teardown.
//
// Mutating calls are expected to be issued sequentially by a single owner.
// State and Watch are safe to call concurrently with them.
type AuthFlow struct {
	verifier  ports.VerificationService
	codes     ports.CodeVerifier
	store     ports.SessionStore
	keys      ports.KeyGenerator
	tokenizer ports.Tokenizer
	events    ports.EventPublisher
	settings  core.Settings
	ticker    TickerFunc
	now       func() time.Time
	logger    log.Logger

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped by every transition that supersedes in-flight work
	stopTimer context.CancelFunc
	watchers  map[chan State]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAuthFlow creates a flow in EnteringEmail{""}
func NewAuthFlow(
	verifier ports.VerificationService,
	store ports.SessionStore,
	keys ports.KeyGenerator,
	tokenizer ports.Tokenizer,
	opts ...Option,
) *AuthFlow {
	ctx, cancel := context.WithCancel(context.Background())
	f := &AuthFlow{
		verifier:  verifier,
		store:     store,
		keys:      keys,
		tokenizer: tokenizer,
		events:    nopEvents{},
		settings:  core.DefaultSettings(),
		ticker:    realTicker,
		now:       time.Now,
		logger:    log.New("module", "authflow"),
		state:     EnteringEmail{},
		watchers:  make(map[chan State]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns a snapshot of the current state
func (f *AuthFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Restore moves a fresh flow to Authenticated when the store already holds a live session.
// A stored session whose token expired or no longer verifies is cleared instead.
func (f *AuthFlow) Restore(ctx context.Context) (bool, error) {
	session, live, err := f.liveSession(ctx)
	if err != nil || !live {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.state.(EnteringEmail); !ok {
		return false, invalidState("A login is already in progress")
	}
	f.gen++
	f.setStateLocked(Authenticated{Address: session.Address})
	return true, nil
}

// Reconcile returns an Authenticated flow to EnteringEmail{""} when its stored session is
// gone, replaced or expired. It reports whether the flow was reset.
func (f *AuthFlow) Reconcile(ctx context.Context) (bool, error) {
	f.mu.Lock()
	st, ok := f.state.(Authenticated)
	f.mu.Unlock()
	if !ok {
		return false, nil
	}

	session, live, err := f.liveSession(ctx)
	if err != nil {
		return false, err
	}
	if live && session.Address == st.Address {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != State(st) {
		return false, nil
	}
	f.stopCooldownLocked()
	f.gen++
	f.setStateLocked(EnteringEmail{})
	f.logger.Info("Session ended outside the flow", "address", st.Address)
	return true, nil
}

// FollowPresence reconciles the flow every time the store reports the session gone,
// until ctx is done
func (f *AuthFlow) FollowPresence(ctx context.Context) error {
	presence, err := f.store.ObservePresence(ctx)
	if err != nil {
		return core.WrapError(core.KindStoreFailed, "Could not observe session", err)
	}
	go func() {
		for present := range presence {
			f.logger.Debug("Session presence changed", "authenticated", present)
			if present {
				continue
			}
			if _, err := f.Reconcile(ctx); err != nil {
				f.logger.Warn("Failed to reconcile session", "err", err)
			}
		}
	}()
	return nil
}

// liveSession reads the stored session and ends it when its token no longer verifies
func (f *AuthFlow) liveSession(ctx context.Context) (core.Session, bool, error) {
	session, err := f.store.Read(ctx)
	if errors.Is(err, core.ErrSessionNotFound) {
		return core.Session{}, false, nil
	}
	if err != nil {
		return core.Session{}, false, core.WrapError(core.KindStoreFailed, "Could not read session", err)
	}

	claimed, err := f.tokenizer.TokenToSession(session.IssuedToken)
	if err == nil && claimed.Address == session.Address {
		return session, true, nil
	}

	f.logger.Info("Ending stored session", "address", session.Address, "expired", errors.Is(err, core.ErrTokenExpired))
	if err := f.store.Clear(ctx); err != nil {
		return core.Session{}, false, core.WrapError(core.KindStoreFailed, "Could not clear expired session", err)
	}
	if err := f.events.PublishLogout(ctx, session.Address); err != nil {
		f.logger.Warn("Failed to publish logout event", "err", err)
	}
	return core.Session{}, false, nil
}

// SetEmail updates the draft email. The format is not checked here.
func (f *AuthFlow) SetEmail(value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.state.(EnteringEmail); !ok {
		return invalidState("Email can only be changed before a code is requested")
	}
	f.setStateLocked(EnteringEmail{Email: value})
	return nil
}

// RequestCode asks the verification service to send a code to the draft email
func (f *AuthFlow) RequestCode(ctx context.Context) error {
	f.mu.Lock()
	st, ok := f.state.(EnteringEmail)
	if !ok {
		f.mu.Unlock()
		return invalidState("A code can only be requested while entering an email")
	}
	if !core.IsValidEmail(st.Email) {
		f.mu.Unlock()
		return core.NewError(core.KindInvalidEmail, "Please enter a valid email address")
	}
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	return f.issue(ctx, gen, st.Email, st)
}

// Resend issues a new code for the same email once the cooldown is over.
// The previous verification stays live until the new one is confirmed.
func (f *AuthFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	st, ok := f.state.(AwaitingCode)
	if !ok {
		f.mu.Unlock()
		return invalidState("Nothing to resend")
	}
	if !st.CanResend {
		f.mu.Unlock()
		return invalidState(fmt.Sprintf("Please wait %d seconds before requesting a new code", st.CooldownSecondsRemaining))
	}
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	return f.issue(ctx, gen, st.Email, st)
}

func (f *AuthFlow) issue(ctx context.Context, gen uint64, email string, from State) error {
	id, issueErr := f.verifier.Issue(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen {
		f.logger.Debug("Discarding superseded code request", "gen", gen, "current", f.gen)
		return core.ErrSuperseded
	}

	if issueErr != nil {
		f.logger.Warn("Verification code issuance failed", "err", issueErr)
		failure := core.WrapError(core.KindIssuanceFailed, "Failed to send verification code. Please try again.", issueErr)
		f.setStateLocked(Failed{Previous: from, Kind: failure.Kind, Message: failure.Message})
		return failure
	}

	// Saved under the lock so a concurrent GoBack or Logout cannot be overtaken
	pending := core.PendingVerification{Email: email, VerificationID: id, RequestedAt: f.now()}
	if err := f.store.SavePending(ctx, pending); err != nil {
		f.logger.Error("Failed to save pending verification", "err", err)
		failure := core.WrapError(core.KindStoreFailed, "Could not save verification. Please try again.", err)
		f.setStateLocked(Failed{Previous: from, Kind: failure.Kind, Message: failure.Message})
		return failure
	}

	f.logger.Info("Verification code issued", "verification", id)
	f.stopCooldownLocked()
	f.setStateLocked(AwaitingCode{
		Email:                    email,
		VerificationID:           id,
		CanResend:                false,
		CooldownSecondsRemaining: f.settings.CooldownSeconds(),
	})
	f.startCooldownLocked(gen)
	return nil
}

// SubmitCode verifies code and establishes a session.
// Malformed codes are rejected before anything leaves the process.
func (f *AuthFlow) SubmitCode(ctx context.Context, code string) error {
	if !core.IsValidCode(code, f.settings.OTPLength) {
		return core.NewError(core.KindInvalidCode, fmt.Sprintf("Code must be %d digits", f.settings.OTPLength))
	}

	f.mu.Lock()
	awaiting, ok := f.awaitingLocked()
	if !ok {
		f.mu.Unlock()
		return core.NewError(core.KindNoPendingVerification, "No pending verification. Please request a new code.")
	}
	f.stopCooldownLocked()
	f.gen++
	gen := f.gen
	f.setStateLocked(Verifying{})
	f.mu.Unlock()

	session, pendingID, verifyErr := f.verify(ctx, awaiting, code)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return core.ErrSuperseded
	}
	if verifyErr == nil {
		// Persisted under the lock so a superseded attempt never leaves a session behind
		verifyErr = f.persistLocked(ctx, session, pendingID)
	}
	if verifyErr != nil {
		failure := toError(verifyErr)
		f.setStateLocked(Failed{Previous: awaiting, Kind: failure.Kind, Message: failure.Message})
		f.mu.Unlock()
		return failure
	}
	f.setStateLocked(Authenticated{Address: session.Address})
	f.mu.Unlock()

	if err := f.events.PublishAuthenticated(ctx, session.Email, session.Address); err != nil {
		f.logger.Warn("Failed to publish authenticated event", "err", err)
	}
	f.logger.Info("Session established", "address", session.Address)
	return nil
}

// verify checks the code and builds the session without persisting anything
func (f *AuthFlow) verify(ctx context.Context, awaiting AwaitingCode, code string) (core.Session, string, error) {
	pending, err := f.store.Pending(ctx)
	if errors.Is(err, core.ErrNoPendingVerification) || (err == nil && pending.VerificationID != awaiting.VerificationID) {
		return core.Session{}, "", core.NewError(core.KindNoPendingVerification, "Verification expired. Please request a new code.")
	}
	if err != nil {
		return core.Session{}, "", core.WrapError(core.KindStoreFailed, "Could not read verification", err)
	}

	if f.codes != nil {
		if err := f.codes.Verify(ctx, pending.VerificationID, code); err != nil {
			if errors.Is(err, core.ErrInvalidToken) {
				return core.Session{}, "", core.WrapError(core.KindInvalidCode, "Invalid verification code", err)
			}
			f.logger.Warn("Code verification failed", "err", err)
			return core.Session{}, "", core.WrapError(core.KindVerificationFailed, "Could not verify code. Please try again.", err)
		}
	}

	creds, err := f.keys.GenerateKey(ctx)
	if err != nil {
		f.logger.Error("Failed to derive wallet credentials", "err", err)
		return core.Session{}, "", core.WrapError(core.KindVerificationFailed, "Could not create wallet", err)
	}

	session := core.Session{
		Email:      awaiting.Email,
		Address:    creds.Address,
		PrivateKey: creds.PrivateKey,
		IssuedAt:   f.now(),
	}
	session.IssuedToken, err = f.tokenizer.SessionToToken(session, pending.VerificationID)
	if err != nil {
		return core.Session{}, "", core.WrapError(core.KindVerificationFailed, "Could not issue session", err)
	}
	return session, pending.VerificationID, nil
}

func (f *AuthFlow) persistLocked(ctx context.Context, session core.Session, pendingID string) error {
	if err := f.store.Write(ctx, session); err != nil {
		return core.WrapError(core.KindStoreFailed, "Could not save session", err)
	}
	if err := f.store.ClearPending(ctx); err != nil {
		f.logger.Warn("Failed to clear pending verification", "verification", pendingID, "err", err)
	}
	return nil
}

// GoBack abandons the pending verification and returns to email entry
func (f *AuthFlow) GoBack(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	awaiting, ok := f.awaitingLocked()
	if !ok {
		return invalidState("Nothing to go back from")
	}
	f.stopCooldownLocked()
	f.gen++
	f.setStateLocked(EnteringEmail{Email: awaiting.Email})

	// A stale record is harmless: SubmitCode matches ids and the next request supersedes it
	if err := f.store.ClearPending(ctx); err != nil {
		f.logger.Warn("Failed to clear pending verification", "err", err)
	}
	return nil
}

// Dismiss leaves Failed and returns to the state it was entered from
func (f *AuthFlow) Dismiss() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	failed, ok := f.state.(Failed)
	if !ok {
		return invalidState("Nothing to dismiss")
	}
	f.gen++
	f.setStateLocked(failed.Previous)
	if awaiting, ok := failed.Previous.(AwaitingCode); ok && !awaiting.CanResend {
		f.startCooldownLocked(f.gen)
	}
	return nil
}

// Logout clears the session and returns to EnteringEmail{""}.
// If the store cannot be cleared the flow stays Authenticated.
func (f *AuthFlow) Logout(ctx context.Context) error {
	f.mu.Lock()
	st, ok := f.state.(Authenticated)
	if !ok {
		f.mu.Unlock()
		return invalidState("Not logged in")
	}
	if err := f.store.Clear(ctx); err != nil {
		f.mu.Unlock()
		f.logger.Error("Failed to clear session", "err", err)
		return core.WrapError(core.KindStoreFailed, "Logout failed", err)
	}
	f.stopCooldownLocked()
	f.gen++
	f.setStateLocked(EnteringEmail{})
	f.mu.Unlock()

	if err := f.events.PublishLogout(ctx, st.Address); err != nil {
		f.logger.Warn("Failed to publish logout event", "err", err)
	}
	f.logger.Info("Logged out", "address", st.Address)
	return nil
}

// ObserveAuthenticated streams whether the store holds a session, including
// changes made outside this flow. Every call starts a new subscription.
func (f *AuthFlow) ObserveAuthenticated(ctx context.Context) (<-chan bool, error) {
	return f.store.ObservePresence(ctx)
}

// Watch streams state snapshots until ctx is done. A slow reader only sees the latest state.
func (f *AuthFlow) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	f.mu.Lock()
	ch <- f.state
	f.watchers[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-f.ctx.Done():
		}
		f.mu.Lock()
		delete(f.watchers, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// Close stops the cooldown timer and discards results of in-flight calls
func (f *AuthFlow) Close() {
	f.mu.Lock()
	f.stopCooldownLocked()
	f.gen++
	f.mu.Unlock()
	f.cancel()
}

func (f *AuthFlow) awaitingLocked() (AwaitingCode, bool) {
	switch st := f.state.(type) {
	case AwaitingCode:
		return st, true
	case Failed:
		prev, ok := st.Previous.(AwaitingCode)
		return prev, ok
	}
	return AwaitingCode{}, false
}

func (f *AuthFlow) setStateLocked(s State) {
	f.state = s
	for ch := range f.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (f *AuthFlow) startCooldownLocked(gen uint64) {
	ctx, cancel := context.WithCancel(f.ctx)
	f.stopTimer = cancel
	ticks, stop := f.ticker(time.Second)

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				if !f.tick(gen) {
					return
				}
			}
		}
	}()
}

func (f *AuthFlow) stopCooldownLocked() {
	if f.stopTimer != nil {
		f.stopTimer()
		f.stopTimer = nil
	}
}

// tick decrements the cooldown and reports whether the timer should keep running
func (f *AuthFlow) tick(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen {
		return false
	}
	st, ok := f.state.(AwaitingCode)
	if !ok || st.CanResend {
		return false
	}
	st.CooldownSecondsRemaining--
	if st.CooldownSecondsRemaining <= 0 {
		st.CooldownSecondsRemaining = 0
		st.CanResend = true
		f.setStateLocked(st)
		return false
	}
	f.setStateLocked(st)
	return true
}

func invalidState(message string) error {
	return core.NewError(core.KindInvalidState, message)
}

func toError(err error) *core.Error {
	var e *core.Error
	if errors.As(err, &e) {
		return e
	}
	return core.WrapError(core.KindVerificationFailed, "Verification failed", err)
}

type nopEvents struct{}

func (nopEvents) PublishAuthenticated(context.Context, string, string) error { return nil }
func (nopEvents) PublishLogout(context.Context, string) error                { return nil }
func (nopEvents) PublishTransaction(context.Context, string, string, string, string) error {
	return nil
}
