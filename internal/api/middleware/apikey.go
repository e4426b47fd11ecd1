package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// APIKeyAuth returns a middleware that requires a valid API key on every
// request, supplied either as an X-API-Key header or a Bearer token. An
// empty configured key disables authentication (development only).
func APIKeyAuth(apiKey string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth").Logger()

	if apiKey == "" {
		log.Warn().Msg("API_KEY is empty, API authentication is disabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	keyBytes := []byte(apiKey)

	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			authz := c.GetHeader("Authorization")
			if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
				provided = after
			}
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), keyBytes) != 1 {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("rejected request with invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
