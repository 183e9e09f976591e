package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "login")
	password := flag.String("password", "", "password")
	room := flag.Int64("room", 0, "room id to chat in")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.New(proto.KindAuth).WithLogin(*user).WithPassword(*password)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	var resp proto.Message
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	if resp.Kind != proto.KindAccepted || resp.FromID == nil {
		return fmt.Errorf("auth: %s %s", resp.Kind, resp.Text)
	}
	id := *resp.FromID

	fmt.Printf("Connected to %s as %s (id %d) in room %d\n", *addr, *user, id, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, id, *room)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch msg.Kind {
		case proto.KindNewMessage:
			fmt.Printf("[room %d] %d: %s\n", deref(msg.RoomID), deref(msg.FromID), msg.Text)
		case proto.KindNewRoomMember:
			fmt.Printf("[room %d] %d joined\n", deref(msg.RoomID), deref(msg.FromID))
		case proto.KindMemberLeftRoom:
			fmt.Printf("[room %d] %d left\n", deref(msg.RoomID), deref(msg.FromID))
		case proto.KindKick:
			fmt.Printf("kicked: %s\n", msg.Text)
			return
		case proto.KindAccepted:
		default:
			fmt.Printf("%s %s\n", msg.Kind, msg.Text)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, id, room int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			msg := proto.New(proto.KindMessage).WithFromID(id).WithRoomID(room).WithText(text)
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

func deref(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
