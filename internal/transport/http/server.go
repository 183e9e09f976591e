package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/session"
)

const readHeaderTimeout = 5 * time.Second

// Deps groups what the HTTP surface needs from the rest of the server.
type Deps struct {
	Registry    *core.Registry
	Sessions    *session.Manager
	Credentials auth.ServerCredentials
	MaxFrame    int
	StartedAt   time.Time
	Logger      *zerolog.Logger
}

// NewServer builds an HTTP server with health, status and websocket routes.
func NewServer(addr string, d Deps) *stdhttp.Server {
	logger := d.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(&l))

	status := NewStatusHandlers(d.Registry, d.Sessions, d.StartedAt, &l)
	ws := NewWSHandler(d.Sessions, d.MaxFrame, &l)

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(ws))

	api := router.Group("/api")
	api.Use(CredentialsMiddleware(d.Credentials, &l))
	api.GET("/status", status.Status)

	return &stdhttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
