package ports

import "github.com/layer-3/otpwallet/core"

// Tokenizer converts between sessions and signed session tokens
type Tokenizer interface {
	SessionToToken(session core.Session, verificationID string) (string, error)
	TokenToSession(token string) (*core.Session, error)
}
