package middleware

import (
	"crypto/subtle"
	"strings"

	"activations-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-API-Key"

// deriveCaller guesses the calling channel from the key prefix.
func deriveCaller(key string) string {
	switch {
	case strings.HasPrefix(key, "partner_"):
		return "partner"
	case strings.HasPrefix(key, "web_"):
		return "dashboard"
	default:
		return "api"
	}
}

func extractKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(APIKeyHeader)); k != "" {
		return k
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// APIKey rejects requests without one of keys. An empty key list turns the
// check off.
func APIKey(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		got := extractKey(c)
		for _, k := range keys {
			if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(k)) == 1 {
				c.Set("caller", deriveCaller(got))
				c.Next()
				return
			}
		}

		_ = c.Error(errutil.Unauthorized("missing or invalid api key", nil))
		c.Abort()
	}
}

// Caller returns the channel set by APIKey, "api" when unset.
func Caller(c *gin.Context) string {
	if v, ok := c.Get("caller"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "api"
}
