package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/session"
)

// StatusHandlers reports what the server currently holds in memory.
type StatusHandlers struct {
	registry  *core.Registry
	sessions  *session.Manager
	startedAt time.Time
	log       *zerolog.Logger
}

// NewStatusHandlers creates a new status handlers instance.
func NewStatusHandlers(registry *core.Registry, sessions *session.Manager, startedAt time.Time, logger *zerolog.Logger) *StatusHandlers {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &StatusHandlers{registry: registry, sessions: sessions, startedAt: startedAt, log: logger}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Connections   int     `json:"connections"`
	OnlineClients []int64 `json:"online_clients"`
	OnlineRooms   []int64 `json:"online_rooms"`
	StartedAt     string  `json:"started_at"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// Status handles GET /api/status.
func (h *StatusHandlers) Status(c *gin.Context) {
	resp := StatusResponse{
		OnlineClients: make([]int64, 0),
		OnlineRooms:   make([]int64, 0),
		StartedAt:     h.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.sessions != nil {
		resp.Connections = h.sessions.Count()
	}
	if h.registry != nil {
		for _, p := range h.registry.Sessions() {
			if cl := p.Client(); cl != nil && !p.Closed() {
				resp.OnlineClients = append(resp.OnlineClients, cl.ID())
			}
		}
		for _, room := range h.registry.Rooms() {
			resp.OnlineRooms = append(resp.OnlineRooms, room.ID())
		}
	}
	c.JSON(http.StatusOK, resp)
}
