package core

import (
	"context"
	"strconv"
	"testing"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// benchLogin logs name in and keeps its queue drained; turns, if set,
// receives a signal for every relayed turn.
func benchLogin(b *testing.B, ctx context.Context, hub *Hub, name string, turns chan<- struct{}) *Client {
	b.Helper()
	c := NewClient(name, "10.0.0.1", 256)
	if err := hub.Connect(ctx, c); err != nil {
		b.Fatalf("connect: %v", err)
	}
	go func() {
		for {
			select {
			case ev := <-c.Events:
				if turns != nil && ev != nil && ev.Tag == "turn" {
					turns <- struct{}{}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	_ = hub.Submit(ctx, c, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.18.0"))
	_ = hub.Submit(ctx, c, loginNode(name))
	return c
}

func benchmarkGameRelay(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultSettings()
	settings.ConcurrentConnections = 0
	hub := NewHub(settings, Deps{})
	go hub.Run(ctx)

	sender := benchLogin(b, ctx, hub, "sender", nil)
	_ = hub.Submit(ctx, sender, proto.NewNode(proto.InboundTypeCreateGame).Set("name", "bench"))

	// Game ids start at 1.
	const gameID = 1
	turns := make(chan struct{}, 1)
	for i := 0; i < recipients; i++ {
		var signal chan<- struct{}
		if i == 0 {
			signal = turns
		}
		c := benchLogin(b, ctx, hub, "p"+strconv.Itoa(i), signal)
		_ = hub.Submit(ctx, c, proto.NewNode(proto.InboundTypeJoin).SetInt("id", gameID))
	}

	if st, err := hub.Stats(ctx); err != nil || st.Players != recipients+1 {
		b.Fatalf("setup failed: %+v %v", st, err)
	}

	turn := proto.NewNode("turn").AddChild(proto.NewNode("command").Set("payload", "move"))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := hub.Submit(ctx, sender, turn); err != nil {
			b.Fatalf("submit: %v", err)
		}
		<-turns
	}
}

func BenchmarkGameRelay_10(b *testing.B)  { benchmarkGameRelay(b, 10) }
func BenchmarkGameRelay_100(b *testing.B) { benchmarkGameRelay(b, 100) }
func BenchmarkGameRelay_500(b *testing.B) { benchmarkGameRelay(b, 500) }
