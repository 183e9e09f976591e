package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/auth"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CredentialsMiddleware requires HTTP basic auth with the server credentials.
func CredentialsMiddleware(creds auth.ServerCredentials, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		login, password, ok := c.Request.BasicAuth()
		if !ok {
			logger.Debug().Msg("missing basic auth")
			c.Header("WWW-Authenticate", `Basic realm="roomchat"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credentials"})
			return
		}
		if !creds.Match(login, password) {
			logger.Debug().Str("login", login).Msg("invalid server credentials")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
