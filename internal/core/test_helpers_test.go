package core

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store/file"
)

type fakePeer struct {
	id     string
	client *Client
	events chan *proto.Message
	closed atomic.Bool

	mu     sync.Mutex
	kicked string
}

func newFakePeer(c *Client) *fakePeer {
	return &fakePeer{id: "peer-" + c.Login(), client: c, events: make(chan *proto.Message, 64)}
}

func (p *fakePeer) SessionID() string { return p.id }
func (p *fakePeer) Client() *Client   { return p.client }

func (p *fakePeer) Send(msg *proto.Message) error {
	select {
	case p.events <- msg:
	default:
	}
	return nil
}

func (p *fakePeer) Kick(reason string) {
	p.mu.Lock()
	p.kicked = reason
	p.mu.Unlock()
	_ = p.Close()
}

func (p *fakePeer) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePeer) Closed() bool { return p.closed.Load() }

func (p *fakePeer) kickReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kicked
}

func newTestRegistry(t *testing.T) (*Registry, *file.FileStore) {
	t.Helper()
	root := t.TempDir()
	st, err := file.New(filepath.Join(root, "clients"), filepath.Join(root, "rooms"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	reg := NewRegistry(st, Options{HistorySize: 100}, nil)
	if err := reg.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return reg, st
}

func mustCreateClient(t *testing.T, reg *Registry, login string) *Client {
	t.Helper()
	c := NewClient(login, "hash", false)
	if err := reg.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("create client %s: %v", login, err)
	}
	loaded, err := reg.LoadClient(context.Background(), c.ID())
	if err != nil {
		t.Fatalf("load client %s: %v", login, err)
	}
	return loaded
}

// connect registers an online session for the client and returns it.
func connect(t *testing.T, reg *Registry, login string) *fakePeer {
	t.Helper()
	c, err := reg.LoadClient(context.Background(), ClientIDFor(login))
	if err != nil {
		t.Fatalf("load client %s: %v", login, err)
	}
	p := newFakePeer(c)
	reg.Register(p)
	return p
}

// mustEvent waits for the next event of the given kind, skipping others.
func mustEvent(t *testing.T, p *fakePeer, kind proto.Kind) *proto.Message {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-p.events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
			return nil
		}
	}
}

func drain(p *fakePeer) {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}
