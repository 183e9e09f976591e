package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/utils"
)

// ErrClosed is returned by Send once the session has been closed.
var ErrClosed = errors.New("session closed")

// persistTimeout bounds the final save of a terminating session.
const persistTimeout = 10 * time.Second

// State is the authentication state of a session.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the server side of one live connection.
type Session struct {
	id      string
	conn    Conn
	manager *Manager
	log     zerolog.Logger

	mu         sync.Mutex
	state      State
	client     *core.Client
	afterReply func()

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ core.Peer = (*Session)(nil)

func newSession(conn Conn, m *Manager) *Session {
	id := utils.NewSessionID()
	return &Session{
		id:      id,
		conn:    conn,
		manager: m,
		log:     m.log.With().Str("session_id", id).Str("remote", conn.RemoteAddr()).Logger(),
		state:   StateUnauthenticated,
	}
}

func (s *Session) SessionID() string { return s.id }

// Client returns the bound client, nil before authentication.
func (s *Session) Client() *core.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// bind moves an unauthenticated session to authenticated.
func (s *Session) bind(c *core.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated || s.closed.Load() {
		return false
	}
	s.state = StateAuthenticated
	s.client = c
	return true
}

// clientID returns the bound client id, or false when unauthenticated.
func (s *Session) clientID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.client == nil {
		return 0, false
	}
	return s.client.ID(), true
}

// RejectIfNotSelf reports whether msg must not be trusted: the session is
// not authenticated, or msg does not carry the session's own fromId.
func (s *Session) RejectIfNotSelf(msg *proto.Message) bool {
	id, ok := s.clientID()
	if !ok || msg.FromID == nil {
		return true
	}
	return *msg.FromID != id
}

// AfterReply schedules fn to run once the response to the current request
// has been written.
func (s *Session) AfterReply(fn func()) {
	s.mu.Lock()
	s.afterReply = fn
	s.mu.Unlock()
}

func (s *Session) takeAfterReply() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := s.afterReply
	s.afterReply = nil
	return fn
}

// Send writes msg to the connection. Writes are serialized and bounded by the
// write timeout; a failed write closes the session.
func (s *Session) Send(msg *proto.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.manager.cfg.WriteTimeout)
	defer cancel()

	if err := s.conn.WriteMessage(ctx, msg); err != nil {
		s.log.Debug().Err(err).Str("kind", string(msg.Kind)).Msg("write failed")
		_ = s.Close()
		return err
	}
	return nil
}

// Kick sends a KICK notice with reason and closes the session.
func (s *Session) Kick(reason string) {
	_ = s.Send(proto.New(proto.KindKick).WithText(reason))
	_ = s.Close()
}

// Close closes the connection, which ends the read loop. Safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Closed reports whether the connection has been closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// run reads and dispatches messages until the connection ends.
func (s *Session) run(ctx context.Context) {
	s.log.Debug().Msg("session started")
	defer s.terminate(ctx)

	for {
		if s.Closed() {
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, s.manager.cfg.IdleTimeout)
		msg, err := s.conn.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, proto.ErrMalformed) || errors.Is(err, proto.ErrFrameTooLarge) {
				s.log.Debug().Err(err).Msg("bad frame")
				_ = s.Send(proto.Error("Malformed message"))
				continue
			}
			s.logReadError(err)
			return
		}

		if id, ok := s.clientID(); ok && msg.FromID != nil && *msg.FromID != id {
			_ = s.Send(proto.Denied("fromId does not match the logged in client"))
			continue
		}

		s.manager.dispatcher.Dispatch(ctx, s, msg)
	}
}

func (s *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case s.Closed():
		s.log.Debug().Msg("connection closed")
	case errors.Is(err, io.EOF):
		s.log.Debug().Msg("client disconnected")
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		s.log.Info().Dur("idle_timeout", s.manager.cfg.IdleTimeout).Msg("idle timeout")
	case errors.Is(err, context.Canceled):
		s.log.Debug().Msg("session cancelled")
	default:
		s.log.Warn().Err(err).Msg("read failed")
	}
}

// terminate releases the connection, unregisters the bound client and saves it.
func (s *Session) terminate(ctx context.Context) {
	s.mu.Lock()
	s.state = StateTerminated
	c := s.client
	s.mu.Unlock()

	_ = s.Close()

	if c == nil {
		s.log.Debug().Msg("session ended")
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	registry := s.manager.registry
	if err := registry.Detach(saveCtx, s); err != nil {
		s.log.Error().Err(err).Int64("client_id", c.ID()).Msg("failed to persist client")
	}
	if !registry.IsOnline(c.ID()) {
		registry.NotifyFriends(proto.KindClientOffline, c.ID())
	}
	s.log.Info().Int64("client_id", c.ID()).Str("login", c.Login()).Msg("session ended")
}
