package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/session"
	"github.com/vovakirdan/roomchat-server/internal/store/file"
)

var testCreds = auth.ServerCredentials{Login: "God", Password: "secret"}

func startTestServer(t *testing.T) *httptest.Server {
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
	handlers := session.NewHandlers(session.Deps{
		Registry:    reg,
		Auth:        auth.NewService(reg, auth.Options{BcryptCost: bcrypt.MinCost}),
		Credentials: testCreds,
	})
	manager := session.NewManager(reg, session.NewDispatcher(handlers, nil),
		session.Config{IdleTimeout: time.Minute, WriteTimeout: time.Second}, nil)

	server := NewServer(":0", Deps{
		Registry:    reg,
		Sessions:    manager,
		Credentials: testCreds,
	})

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.CloseAll(ctx, "test over")
		ts.Close()
	})
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestStatusRequiresCredentials(t *testing.T) {
	ts := startTestServer(t)

	tests := []struct {
		name       string
		login      string
		password   string
		wantStatus int
	}{
		{"no credentials", "", "", 401},
		{"wrong password", "God", "nope", 401},
		{"server credentials", "God", "secret", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/status", nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			if tt.login != "" {
				req.SetBasicAuth(tt.login, tt.password)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("status request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != 200 {
				return
			}

			var body StatusResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode status: %v", err)
			}
			if len(body.OnlineRooms) != 1 || body.OnlineRooms[0] != 0 {
				t.Fatalf("expected only the common room online, got %v", body.OnlineRooms)
			}
		})
	}
}

func TestWebSocketSession(t *testing.T) {
	ts := startTestServer(t)
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	read := func(conn *websocket.Conn) *proto.Message {
		t.Helper()
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return &msg
	}

	reg, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer reg.CloseNow()

	if err := wsjson.Write(ctx, reg, proto.New(proto.KindRegistration).WithLogin("alice").WithPassword("pw")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(reg); msg.Kind != proto.KindAccepted {
		t.Fatalf("expected ACCEPTED, got %s (%q)", msg.Kind, msg.Text)
	}
	if msg := read(reg); msg.Kind != proto.KindKick {
		t.Fatalf("expected KICK, got %s", msg.Kind)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"text":"no kind"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(conn); msg.Kind != proto.KindError {
		t.Fatalf("expected ERROR for malformed frame, got %s", msg.Kind)
	}

	if err := wsjson.Write(ctx, conn, proto.New(proto.KindAuth).WithLogin("alice").WithPassword("pw")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := read(conn)
	if msg.Kind != proto.KindAccepted || msg.FromID == nil || *msg.FromID != core.ClientIDFor("alice") {
		t.Fatalf("unexpected auth response %+v", msg)
	}
}
