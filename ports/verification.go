package ports

import "context"

// VerificationService issues one-time code verifications for an email
type VerificationService interface {
	Issue(ctx context.Context, email string) (verificationID string, err error)
}

// CodeVerifier checks a submitted code against server-side state.
// It returns core.ErrInvalidToken when the code is rejected.
type CodeVerifier interface {
	Verify(ctx context.Context, verificationID, code string) error
}
