package core

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrSuperseded            = errors.New("request superseded by a newer one")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token has expired")
	ErrStoreOperationFailed  = errors.New("store operation failed")
)

// ErrorKind is the stable, caller-visible classification of a failure
type ErrorKind string

const (
	KindInvalidAddress        ErrorKind = "invalid_address"
	KindInvalidAmount         ErrorKind = "invalid_amount"
	KindNoWallet              ErrorKind = "no_wallet"
	KindInsufficientBalance   ErrorKind = "insufficient_balance"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindNonceConflict         ErrorKind = "nonce_conflict"
	KindGasEstimationFailed   ErrorKind = "gas_estimation_failed"
	KindTransactionFailed     ErrorKind = "transaction_failed"
	KindNoPendingVerification ErrorKind = "no_pending_verification"
	KindInvalidCode           ErrorKind = "invalid_code"
	KindIssuanceFailed        ErrorKind = "issuance_failed"
	KindInvalidEmail          ErrorKind = "invalid_email"
	KindInvalidState          ErrorKind = "invalid_state"
	KindStoreFailed           ErrorKind = "store_failed"
	KindVerificationFailed    ErrorKind = "verification_failed"
	KindNetworkFailed         ErrorKind = "network_failed"
)

// Error is a classified failure carrying a short human-readable message
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates a classified error
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a classified error around a cause
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error returns the user-facing message. The cause stays reachable through Unwrap.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error", e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// KindOf returns the kind of a classified error, or "" for anything else
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Kind returns a matcher for errors.Is, e.g. errors.Is(err, core.Kind(core.KindNoWallet))
func Kind(kind ErrorKind) error {
	return &Error{Kind: kind}
}
