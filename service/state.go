package service

import "github.com/layer-3/otpwallet/core"

// State is the auth flow state. Exactly one of EnteringEmail, AwaitingCode,
// Verifying, Authenticated or Failed is active at a time.
type State interface {
	Name() string
	isAuthState()
}

// EnteringEmail is the initial state: the user is typing an email
type EnteringEmail struct {
	Email string
}

// AwaitingCode means a code was issued and the user must submit it
type AwaitingCode struct {
	Email                    string
	VerificationID           string
	CanResend                bool
	CooldownSecondsRemaining int
}

// Verifying means a submitted code is being checked and the session created
type Verifying struct{}

// Authenticated means a session exists for Address
type Authenticated struct {
	Address string
}

// Failed holds the state to return to and a user-facing message
type Failed struct {
	Previous State
	Kind     core.ErrorKind
	Message  string
}

func (EnteringEmail) Name() string { return "entering_email" }
func (AwaitingCode) Name() string  { return "awaiting_code" }
func (Verifying) Name() string     { return "verifying" }
func (Authenticated) Name() string { return "authenticated" }
func (Failed) Name() string        { return "failed" }

func (EnteringEmail) isAuthState() {}
func (AwaitingCode) isAuthState()  {}
func (Verifying) isAuthState()     {}
func (Authenticated) isAuthState() {}
func (Failed) isAuthState()        {}
