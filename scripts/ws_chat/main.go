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

	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:15000/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "nickname")
	password := flag.String("password", "", "password for a registered nickname")
	version := flag.String("version", "1.18.0", "client version to announce")
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

	send := func(n *proto.Node) {
		if writeErr := wsjson.Write(ctx, conn, n); writeErr != nil {
			cancel()
			log.Printf("send: %v", writeErr)
		}
	}

	send(proto.NewNode(proto.InboundTypeVersion).Set("version", *version))
	login := proto.NewNode(proto.InboundTypeLogin).Set("username", *user)
	if *password != "" {
		login.Set("password", *password)
	}
	send(login)

	fmt.Printf("Connected to %s as %s\n", *addr, *user)
	fmt.Println("Type messages and press Enter to send. /w <nick> <text> whispers, /q <command> queries. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	view := lobby.NewSnapshot()
	for {
		var n proto.Node
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			// Treat expected shutdowns quietly.
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

		switch n.Tag {
		case proto.OutboundTypeMessage:
			fmt.Printf("%s: %s\n", n.Attr("sender"), n.Attr("message"))
		case proto.OutboundTypeWhisper:
			fmt.Printf("*%s* %s\n", n.Attr("sender"), n.Attr("message"))
		case proto.OutboundTypeQueryResponse, proto.OutboundTypeNickserv:
			fmt.Println(n.Attr("message"))
		case proto.OutboundTypeError:
			fmt.Printf("error (%s): %s\n", n.Attr("error_code"), n.Attr("message"))
		case proto.OutboundTypeGameList:
			snap, err := lobby.DecodeSnapshot(&n)
			if err != nil {
				log.Printf("decode gamelist: %v", err)
				continue
			}
			view = snap
			fmt.Printf("[lobby] %d games, %d users online\n", len(view.Games), len(view.Users))
		case proto.OutboundTypeGameListDiff:
			d, err := lobby.DecodeDiff(&n)
			if err != nil {
				log.Printf("decode diff: %v", err)
				continue
			}
			next, err := lobby.Apply(view, d)
			if err != nil {
				log.Printf("lobby view out of sync: %v", err)
				continue
			}
			view = next
			fmt.Printf("[lobby] %d games, %d users online\n", len(view.Games), len(view.Users))
		default:
			fmt.Printf("%s %v\n", n.Tag, n.Attrs)
		}
	}
}

// lineNode turns one typed line into the message to send.
func lineNode(text string) *proto.Node {
	switch {
	case strings.HasPrefix(text, "/q "):
		return proto.NewNode(proto.InboundTypeQuery).Set("type", strings.TrimPrefix(text, "/q "))
	case strings.HasPrefix(text, "/w "):
		receiver, msg, _ := strings.Cut(strings.TrimPrefix(text, "/w "), " ")
		return proto.NewNode(proto.InboundTypeWhisper).Set("receiver", receiver).Set("message", msg)
	default:
		return proto.NewNode(proto.InboundTypeMessage).Set("message", text)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
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

			if err := wsjson.Write(ctx, conn, lineNode(text)); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
