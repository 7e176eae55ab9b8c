package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragsession/internal/api/apierr"
	"github.com/liliang-cn/ragsession/internal/domain"
)

// CallerKey is the gin context key holding the authenticated caller identity.
const CallerKey = "caller"

// AnonymousCaller is the identity used when no API key is configured.
const AnonymousCaller = "anonymous"

// Auth returns an API key authentication middleware.
// The caller identity is a short fingerprint of the presented key.
func Auth(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)

	return func(c *gin.Context) {
		// Skip auth if no API key configured
		if apiKey == "" {
			c.Set(CallerKey, AnonymousCaller)
			c.Next()
			return
		}

		key := presentedKey(c)
		if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			apierr.Write(c, domain.ErrUnauthorized)
			return
		}

		c.Set(CallerKey, fingerprint(key))
		c.Next()
	}
}

// Caller returns the identity set by Auth, or an empty string.
func Caller(c *gin.Context) string {
	return c.GetString(CallerKey)
}

func presentedKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:4])
}
