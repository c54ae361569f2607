package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:15000/ws", "WebSocket address")
	user := flag.String("user", "tester", "nickname to log in with")
	version := flag.String("version", "1.18.0", "client version to announce")
	game := flag.String("game", "smoke test", "name of the game to create")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(n *proto.Node) error {
		if err := wsjson.Write(ctx, conn, n); err != nil {
			return fmt.Errorf("send %s: %w", n.Tag, err)
		}
		return nil
	}
	// expect reads until tag arrives; an error node ends the run.
	expect := func(tag string) (*proto.Node, error) {
		for {
			var n proto.Node
			if err := wsjson.Read(ctx, conn, &n); err != nil {
				return nil, fmt.Errorf("read: %w", err)
			}
			fmt.Printf("Received: %s %v\n", n.Tag, n.Attrs)
			if n.Tag == proto.OutboundTypeError {
				return nil, fmt.Errorf("server error %s: %s", n.Attr("error_code"), n.Attr("message"))
			}
			if n.Tag == tag {
				return &n, nil
			}
		}
	}

	if _, err := expect(proto.OutboundTypeVersion); err != nil {
		return err
	}
	if err := send(proto.NewNode(proto.InboundTypeVersion).Set("version", *version)); err != nil {
		return err
	}
	if _, err := expect(proto.OutboundTypeMustLogin); err != nil {
		return err
	}
	if err := send(proto.NewNode(proto.InboundTypeLogin).Set("username", *user)); err != nil {
		return err
	}
	if _, err := expect(proto.OutboundTypeJoinLobby); err != nil {
		return err
	}
	list, err := expect(proto.OutboundTypeGameList)
	if err != nil {
		return err
	}
	snap, err := lobby.DecodeSnapshot(list)
	if err != nil {
		return fmt.Errorf("decode gamelist: %w", err)
	}
	fmt.Printf("Lobby: %d games, %d users\n", len(snap.Games), len(snap.Users))

	if err := send(proto.NewNode(proto.InboundTypeCreateGame).Set("name", *game)); err != nil {
		return err
	}
	joined, err := expect(proto.OutboundTypeJoinGame)
	if err != nil {
		return err
	}
	fmt.Printf("Created game %s owned by %s\n", joined.Attr("id"), joined.Attr("owner"))

	if err := send(proto.NewNode(proto.InboundTypeLeaveGame)); err != nil {
		return err
	}
	if _, err := expect(proto.OutboundTypeGameList); err != nil {
		return err
	}
	fmt.Println("Back in the lobby")
	return nil
}
