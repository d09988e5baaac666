package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

const AudienceSession = "otpwallet:session"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	ttl     time.Duration
	now     func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer. A zero ttl issues tokens without expiry.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, ttl time.Duration) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey, ttl: ttl, now: time.Now}
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// WithClock replaces the clock used to issue and validate tokens
func (j *JWTTokenizer) WithClock(now func() time.Time) *JWTTokenizer {
	j.now = now
	return j
}

// SessionToToken signs a session token. The verification id becomes the token id.
func (j *JWTTokenizer) SessionToToken(session core.Session, verificationID string) (string, error) {
	issuedAt := session.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = j.now()
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  session.Address,
			ID:       verificationID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
			Audience: jwt.ClaimStrings{AudienceSession},
		},
		Email: session.Email,
	}
	if j.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(j.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession parses a session token. Key material is never part of the token.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceSession), jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse session token: %w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type: %w", core.ErrInvalidToken)
	}

	session := &core.Session{
		Email:       claims.Email,
		Address:     claims.Subject,
		IssuedToken: tokenStr,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}

	return session, nil
}
