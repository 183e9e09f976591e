package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "login to register and authenticate with")
	password := flag.String("password", "tester", "password")
	room := flag.Int64("room", 0, "room id to post to")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// registration always ends the connection, so it gets its own
	if err := register(ctx, *addr, *user, *password); err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	resp, err := request(ctx, conn, proto.New(proto.KindAuth).WithLogin(*user).WithPassword(*password))
	if err != nil {
		return err
	}
	if resp.Kind != proto.KindAccepted || resp.FromID == nil {
		return fmt.Errorf("auth: %s %s", resp.Kind, resp.Text)
	}
	id := *resp.FromID
	fmt.Printf("Authenticated as %s (id %d)\n", *user, id)

	if err := wsjson.Write(ctx, conn, proto.New(proto.KindMessage).WithFromID(id).WithRoomID(*room).WithText(*text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received %s text=%q\n", msg.Kind, msg.Text)

		switch msg.Kind {
		case proto.KindNewMessage:
			if msg.FromID != nil && *msg.FromID == id {
				return nil
			}
		case proto.KindDenied, proto.KindError:
			return errors.New(msg.Text)
		}
	}
}

func register(ctx context.Context, addr, user, password string) error {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	resp, err := request(ctx, conn, proto.New(proto.KindRegistration).WithLogin(user).WithPassword(password))
	if err != nil {
		return err
	}
	switch resp.Kind {
	case proto.KindAccepted:
		fmt.Printf("Registered %s\n", user)
	case proto.KindDenied:
		fmt.Printf("Registration skipped: %s\n", resp.Text)
	default:
		return fmt.Errorf("register: %s %s", resp.Kind, resp.Text)
	}
	return nil
}

func request(ctx context.Context, conn *websocket.Conn, msg *proto.Message) (*proto.Message, error) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	for {
		var resp proto.Message
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			return nil, fmt.Errorf("read %s response: %w", msg.Kind, err)
		}
		if !resp.Kind.IsPush() {
			return &resp, nil
		}
	}
}
