package core

import "time"

// Session is the durable proof of authentication plus the key material used to sign transfers
type Session struct {
	Email       string    // Email the one-time code was sent to
	Address     string    // Ethereum address of the custodial key
	PrivateKey  string    // Hex-encoded secp256k1 private key, no 0x prefix
	IssuedToken string    // Signed session token handed to callers
	IssuedAt    time.Time // When the session was created
}

// Valid reports whether the session carries both an address and key material
func (s Session) Valid() bool {
	return s.Address != "" && s.PrivateKey != ""
}

// PendingVerification is an in-flight one-time code request awaiting submission
type PendingVerification struct {
	Email          string    // Email the code was sent to
	VerificationID string    // Identifier returned by the verification service
	RequestedAt    time.Time // When the code was issued
}

// Credentials is a freshly derived custodial key
type Credentials struct {
	Address    string
	PrivateKey string
}
