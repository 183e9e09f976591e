package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/transport/tcp"
)

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ServerPassword = "secret"
	cfg.Storage.Driver = driver
	cfg.Storage.ClientsDir = filepath.Join(root, "clients")
	cfg.Storage.RoomsDir = filepath.Join(root, "rooms")
	cfg.Storage.DatabasePath = filepath.Join(root, "roomchat.db")
	cfg.BcryptCost = 4
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startApp runs a in the background and waits until it listens.
func startApp(t *testing.T, a *App) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("app did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("app did not stop")
		return nil
	}
}

func dial(t *testing.T, ctx context.Context, a *App) *tcp.Client {
	t.Helper()
	c, err := tcp.Dial(ctx, a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustRequest(t *testing.T, ctx context.Context, c *tcp.Client, msg *proto.Message, want proto.Kind) *proto.Message {
	t.Helper()
	resp, err := c.Request(ctx, msg)
	if err != nil {
		t.Fatalf("%s: %v", msg.Kind, err)
	}
	if resp.Kind != want {
		t.Fatalf("%s: expected %s, got %s (%q)", msg.Kind, want, resp.Kind, resp.Text)
	}
	return resp
}

func TestAppRoundTripAndStop(t *testing.T) {
	for _, driver := range []string{config.DriverFile, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			a, err := New(cfg, "", nil)
			if err != nil {
				t.Fatalf("new app: %v", err)
			}
			done := startApp(t, a)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			reg := dial(t, ctx, a)
			mustRequest(t, ctx, reg, proto.New(proto.KindRegistration).WithLogin("alice").WithPassword("pw"), proto.KindAccepted)
			kick, err := reg.Receive(ctx)
			if err != nil || kick.Kind != proto.KindKick {
				t.Fatalf("expected re-login kick, got %v (%v)", kick, err)
			}

			alice := dial(t, ctx, a)
			resp := mustRequest(t, ctx, alice, proto.New(proto.KindAuth).WithLogin("alice").WithPassword("pw"), proto.KindAccepted)
			id := *resp.FromID
			resp = mustRequest(t, ctx, alice, proto.New(proto.KindCreateRoom).WithFromID(id), proto.KindAccepted)
			roomID := *resp.RoomID
			mustRequest(t, ctx, alice, proto.New(proto.KindMessage).WithFromID(id).WithRoomID(roomID).WithText("hello"), proto.KindAccepted)

			ctl := dial(t, ctx, a)
			mustRequest(t, ctx, ctl, proto.New(proto.KindStopServer).WithLogin("God").WithPassword("wrong"), proto.KindDenied)
			mustRequest(t, ctx, ctl, proto.New(proto.KindStopServer).WithLogin("God").WithPassword("secret"), proto.KindAccepted)

			if err := waitRun(t, done); err != nil {
				t.Fatalf("run returned %v", err)
			}
			for {
				msg, err := alice.Receive(ctx)
				if err != nil {
					t.Fatalf("expected shutdown kick, got %v", err)
				}
				if msg.Kind == proto.KindKick {
					if msg.Text != shutdownNotice {
						t.Fatalf("unexpected kick %q", msg.Text)
					}
					break
				}
			}

			// state survives into a fresh instance
			again, err := New(cfg, "", nil)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer again.Shutdown(context.Background())

			c, err := again.registry.LoadClient(ctx, core.ClientIDFor("alice"))
			if err != nil {
				t.Fatalf("load client: %v", err)
			}
			if !c.HasRoom(roomID) || !c.HasRoom(0) {
				t.Fatalf("rooms not persisted: %v", c.Rooms())
			}
			history, err := again.registry.RoomHistory(ctx, roomID, id)
			if err != nil || len(history) != 1 || history[0].Text != "hello" {
				t.Fatalf("history not persisted: %v (%v)", history, err)
			}
		})
	}
}

func TestAppRestart(t *testing.T) {
	cfg := testConfig(t, config.DriverFile)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	a, err := New(cfg, cfgPath, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	done := startApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctl := dial(t, ctx, a)
	mustRequest(t, ctx, ctl, proto.New(proto.KindRestartServer).WithLogin("God").WithPassword("secret"), proto.KindAccepted)

	if err := waitRun(t, done); !errors.Is(err, ErrRestart) {
		t.Fatalf("expected ErrRestart, got %v", err)
	}

	loaded, _, err := config.Load(nil, cfgPath)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.ServerPassword != "secret" {
		t.Fatalf("config was not saved on shutdown")
	}
}

func TestAppBindFailureIsFatal(t *testing.T) {
	first, err := New(testConfig(t, config.DriverFile), "", nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	done := startApp(t, first)
	defer func() {
		first.Stop()
		_ = waitRun(t, done)
	}()

	cfg := testConfig(t, config.DriverFile)
	cfg.Addr = first.Addr().String()
	second, err := New(cfg, "", nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := second.Run(context.Background()); err == nil {
		t.Fatalf("expected bind failure")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "redis")
	if _, err := New(cfg, "", nil); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReaperStopsBeforeShutdown(t *testing.T) {
	cfg := testConfig(t, config.DriverSQLite)
	cfg.ReaperInterval = time.Millisecond

	var out syncBuffer
	logger := zerolog.New(&out).Level(zerolog.DebugLevel)
	a, err := New(cfg, "", &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	done := startApp(t, a)
	time.Sleep(20 * time.Millisecond)

	a.Stop()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	logs := out.String()
	stopped := strings.Index(logs, `"reaper stopped"`)
	closing := strings.Index(logs, `"closing sessions"`)
	if stopped < 0 || closing < 0 {
		t.Fatalf("missing shutdown log lines:\n%s", logs)
	}
	if stopped > closing {
		t.Fatalf("reaper was still running when shutdown began:\n%s", logs)
	}
}
