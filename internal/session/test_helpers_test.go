package session

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store/file"
)

const (
	testServerLogin    = "God"
	testServerPassword = "secret"
	testAdminLogin     = "root"
)

// pipeConn is an in-memory Conn. The test side writes to in and reads from out.
type pipeConn struct {
	in     chan *proto.Message
	out    chan *proto.Message
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:   make(chan *proto.Message, 16),
		out:  make(chan *proto.Message, 256),
		done: make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage(ctx context.Context) (*proto.Message, error) {
	select {
	case msg := <-c.in:
		if msg == nil {
			return nil, proto.ErrMalformed
		}
		return msg.Clone(), nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) WriteMessage(ctx context.Context, msg *proto.Message) error {
	if c.closed.Load() {
		return io.ErrClosedPipe
	}
	select {
	case c.out <- msg.Clone():
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }

type fakeControl struct {
	stops    atomic.Int32
	restarts atomic.Int32
}

func (f *fakeControl) Stop()    { f.stops.Add(1) }
func (f *fakeControl) Restart() { f.restarts.Add(1) }

type harness struct {
	registry *core.Registry
	manager  *Manager
	control  *fakeControl
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithConfig(t, Config{IdleTimeout: time.Minute, WriteTimeout: time.Second})
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	root := t.TempDir()
	st, err := file.New(filepath.Join(root, "clients"), filepath.Join(root, "rooms"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	reg := core.NewRegistry(st, core.Options{HistorySize: 100}, nil)
	if err := reg.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ctrl := &fakeControl{}
	handlers := NewHandlers(Deps{
		Registry:    reg,
		Auth:        auth.NewService(reg, auth.Options{BcryptCost: bcrypt.MinCost, AdminLogins: []string{testAdminLogin}}),
		Credentials: auth.ServerCredentials{Login: testServerLogin, Password: testServerPassword},
		Control:     ctrl,
	})
	m := NewManager(reg, NewDispatcher(handlers, nil), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		_ = m.CloseAll(closeCtx, "test over")
		cancel()
	})
	return &harness{registry: reg, manager: m, control: ctrl, ctx: ctx}
}

type testClient struct {
	t    *testing.T
	conn *pipeConn
	id   int64
	done chan struct{}
}

// dial starts a session on a fresh in-memory connection.
func (h *harness) dial(t *testing.T) *testClient {
	t.Helper()
	conn := newPipeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.manager.Serve(h.ctx, conn)
	}()
	return &testClient{t: t, conn: conn, done: done}
}

func (c *testClient) send(msg *proto.Message) {
	c.t.Helper()
	select {
	case c.conn.in <- msg:
	case <-time.After(time.Second):
		c.t.Fatalf("timeout sending %s", msg.Kind)
	}
}

// next returns the next message written by the server.
func (c *testClient) next() *proto.Message {
	c.t.Helper()
	select {
	case msg := <-c.conn.out:
		return msg
	case <-time.After(2 * time.Second):
		c.t.Fatalf("timeout waiting for server message")
		return nil
	}
}

// call sends msg and returns the response, skipping unsolicited pushes.
func (c *testClient) call(msg *proto.Message) *proto.Message {
	c.t.Helper()
	c.send(msg)
	return c.response()
}

// response returns the next message that is not a push.
func (c *testClient) response() *proto.Message {
	c.t.Helper()
	for {
		resp := c.next()
		if !resp.Kind.IsPush() {
			return resp
		}
	}
}

// mustEvent waits for the next message of the given kind, skipping others.
func (c *testClient) mustEvent(kind proto.Kind) *proto.Message {
	c.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.conn.out:
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			c.t.Fatalf("timeout waiting for %s", kind)
			return nil
		}
	}
}

// waitClosed waits until the server has ended the session.
func (c *testClient) waitClosed() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		c.t.Fatalf("session was not closed")
	}
}

func expectKind(t *testing.T, msg *proto.Message, kind proto.Kind) {
	t.Helper()
	if msg.Kind != kind {
		t.Fatalf("expected %s, got %s (%q)", kind, msg.Kind, msg.Text)
	}
}

func credentials(kind proto.Kind, login, password string) *proto.Message {
	return proto.New(kind).WithLogin(login).WithPassword(password)
}

// register creates an account on a throwaway connection.
func (h *harness) register(t *testing.T, login, password string) int64 {
	t.Helper()
	c := h.dial(t)
	resp := c.call(credentials(proto.KindRegistration, login, password))
	expectKind(t, resp, proto.KindAccepted)
	if resp.FromID == nil {
		t.Fatalf("registration response has no fromId")
	}
	kick := c.next()
	expectKind(t, kick, proto.KindKick)
	c.waitClosed()
	return *resp.FromID
}

// login registers login and returns an authenticated client.
func (h *harness) login(t *testing.T, login string) *testClient {
	t.Helper()
	h.register(t, login, "pw-"+login)
	c := h.dial(t)
	resp := c.call(credentials(proto.KindAuth, login, "pw-"+login))
	expectKind(t, resp, proto.KindAccepted)
	c.id = *resp.FromID
	return c
}

func (c *testClient) request(kind proto.Kind) *proto.Message {
	return proto.New(kind).WithFromID(c.id)
}
