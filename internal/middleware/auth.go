// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, request ids, metrics, access logging and security headers.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → [RateLimit | Auth → RateLimit] → Handler
//
// Security headers run early so they appear on all responses including errors.
// The public /auth/register and /auth/login routes are limited per client
// address, which also throttles password guessing. Protected routes are
// authenticated first so the limiter keys on the account instead.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/auth"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// Context keys set by AuthMiddleware.
const (
	AccountKey   = "account"
	AccountIDKey = "account_id"
)

// Authenticator resolves an API key to the account that owns it.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Account, error)
}

// AuthMiddleware requires a valid X-API-Key header. On success the account
// and its id are stored in the gin context for handlers to scope by.
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// An empty key still goes through Authenticate so the failure is counted.
		key, _ := auth.ExtractAPIKey(c.GetHeader(auth.APIKeyHeader))

		account, err := authn.Authenticate(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
				"error": apperr.PublicMessage(err),
			})
			return
		}
		if account == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Set(AccountKey, account)
		c.Set(AccountIDKey, account.ID)
		c.Next()
	}
}

// AccountID returns the authenticated account id, or "" outside AuthMiddleware.
func AccountID(c *gin.Context) string {
	return c.GetString(AccountIDKey)
}

// CurrentAccount returns the authenticated account, or nil outside AuthMiddleware.
func CurrentAccount(c *gin.Context) *models.Account {
	v, ok := c.Get(AccountKey)
	if !ok {
		return nil
	}
	account, _ := v.(*models.Account)
	return account
}
