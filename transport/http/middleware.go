package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

const walletAddressKey = "walletAddress"

// AuthMiddleware accepts only the unexpired token of the currently stored session
func AuthMiddleware(tokenizer ports.Tokenizer, store ports.SessionStore) gin.HandlerFunc {
	return sessionMiddleware(tokenizer, store, false)
}

// LogoutMiddleware also accepts the stored session's token after it expired,
// so an expired session can still be ended
func LogoutMiddleware(tokenizer ports.Tokenizer, store ports.SessionStore) gin.HandlerFunc {
	return sessionMiddleware(tokenizer, store, true)
}

func sessionMiddleware(tokenizer ports.Tokenizer, store ports.SessionStore, allowExpired bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		claimed, err := tokenizer.TokenToSession(token)
		expired := errors.Is(err, core.ErrTokenExpired)
		switch {
		case expired && !allowExpired:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		case err != nil && !expired:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		// A token outlives logout, so it must still match the stored session.
		// An expired token carries no readable claims; equality with the stored token proves it.
		session, err := store.Read(c.Request.Context())
		if err != nil || session.IssuedToken != token || (claimed != nil && session.Address != claimed.Address) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session ended", "kind": core.KindNoWallet})
			return
		}

		c.Set(walletAddressKey, session.Address)
		c.Next()
	}
}
