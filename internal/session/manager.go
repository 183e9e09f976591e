package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/core"
)

// Config holds per-connection limits.
type Config struct {
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Manager runs sessions for every transport and tracks them for shutdown.
type Manager struct {
	registry   *core.Registry
	dispatcher *Dispatcher
	cfg        Config
	log        *zerolog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewManager constructs a manager.
func NewManager(registry *core.Registry, dispatcher *Dispatcher, cfg Config, logger *zerolog.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "session").Logger()
	return &Manager{
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        &l,
		sessions:   make(map[*Session]struct{}),
	}
}

// Serve runs a session on conn and blocks until it ends.
func (m *Manager) Serve(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	s := newSession(conn, m)
	m.sessions[s] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, s)
		m.mu.Unlock()
		m.wg.Done()
	}()

	s.run(ctx)
}

// Count returns the number of live sessions, authenticated or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll stops accepting sessions, kicks every live one with reason and
// waits for them to finish or for ctx to end.
func (m *Manager) CloseAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		go s.Kick(reason)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, s := range live {
			_ = s.Close()
		}
		return ctx.Err()
	}
}
