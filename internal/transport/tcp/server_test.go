package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/session"
)

// echoHandler answers every request with ACCEPTED carrying the request text,
// and with ERROR for frames it cannot decode.
type echoHandler struct{}

func (echoHandler) Serve(ctx context.Context, conn session.Conn) {
	defer conn.Close()
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, proto.ErrMalformed) || errors.Is(err, proto.ErrFrameTooLarge) {
				_ = conn.WriteMessage(ctx, proto.Error(err.Error()))
				continue
			}
			return
		}
		_ = conn.WriteMessage(ctx, proto.Accepted().WithText(msg.Text))
	}
}

func startServer(t *testing.T, maxFrame int) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", echoHandler{}, maxFrame, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(cancel)
	return srv, cancel, done
}

func TestServerRoundTrip(t *testing.T) {
	srv, _, _ := startServer(t, 1024)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for _, text := range []string{"first", "second"} {
		resp, err := c.Request(ctx, proto.New(proto.KindMessage).WithText(text))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.Kind != proto.KindAccepted || resp.Text != text {
			t.Fatalf("unexpected response %+v", resp)
		}
	}
}

func TestServerRecoversFromBadFrames(t *testing.T) {
	srv, _, _ := startServer(t, 64)

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewConn(nc, 1024)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	writeRaw := func(body []byte) {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, uint32(len(body)))
		if _, err := nc.Write(append(header, body...)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	writeRaw([]byte("not json"))
	writeRaw([]byte(strings.Repeat("x", 100)))
	if err := conn.WriteMessage(ctx, proto.New(proto.KindMessage).WithText("ok")); err != nil {
		t.Fatalf("write message: %v", err)
	}

	for _, want := range []proto.Kind{proto.KindError, proto.KindError, proto.KindAccepted} {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Kind != want {
			t.Fatalf("expected %s, got %s (%q)", want, msg.Kind, msg.Text)
		}
	}
}

func TestReadMessageHonoursDeadline(t *testing.T) {
	srv, _, _ := startServer(t, 1024)

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewConn(nc, 1024)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.ReadMessage(ctx)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, cancel, done := startServer(t, 1024)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if _, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond); err == nil {
		t.Fatalf("listener should be closed")
	}
}

func TestListenFailsOnBusyAddress(t *testing.T) {
	srv, _, _ := startServer(t, 1024)

	other := NewServer(srv.Addr().String(), echoHandler{}, 1024, nil)
	if err := other.Listen(); err == nil {
		_ = other.Close()
		t.Fatalf("expected bind failure")
	}
}
