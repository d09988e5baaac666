package ports

import (
	"context"

	"github.com/layer-3/otpwallet/core"
)

// SessionStore is the durable holder of the session and the pending verification.
// Writes are atomic with respect to reads: a reader never sees half a session.
type SessionStore interface {
	// Read returns the current session or core.ErrSessionNotFound
	Read(ctx context.Context) (core.Session, error)
	Write(ctx context.Context, session core.Session) error
	// Clear removes the session and any pending verification
	Clear(ctx context.Context) error

	// ObservePresence emits the current presence immediately and then every change
	// until ctx is done. Each call is an independent subscription.
	ObservePresence(ctx context.Context) (<-chan bool, error)

	// Address and PrivateKey return "" when no session is stored
	Address(ctx context.Context) (string, error)
	PrivateKey(ctx context.Context) (string, error)

	SavePending(ctx context.Context, pending core.PendingVerification) error
	// Pending returns the live verification or core.ErrNoPendingVerification
	Pending(ctx context.Context) (core.PendingVerification, error)
	ClearPending(ctx context.Context) error
}
