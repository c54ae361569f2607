package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/config"
	"github.com/vovakirdan/wirelobby-server/internal/core"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
	"github.com/vovakirdan/wirelobby-server/internal/store/sqlite"
)

const testJWTSecret = "testsecret"

type testServer struct {
	ts   *httptest.Server
	auth *auth.Service
	bans *ban.Manager
}

// startTestServer runs a hub backed by an in-memory store behind the real router.
func startTestServer(t *testing.T, configure func(*core.Settings, *config.Config)) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	authService := createTestAuthService(st)
	bans := ban.NewManager(st, &logger)

	settings := core.DefaultSettings()
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.PingInterval = 0
	if configure != nil {
		configure(&settings, &cfg)
	}

	hub := core.NewHub(settings, core.Deps{
		Logger:      &logger,
		Credentials: authService,
		Bans:        bans,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, authService, bans, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, auth: authService, bans: bans}
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(st *sqlite.SQLiteStore) *auth.Service {
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(testJWTSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

func (s *testServer) dial(ctx context.Context, t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func writeNode(ctx context.Context, t *testing.T, conn *websocket.Conn, n *proto.Node) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, n); err != nil {
		t.Fatalf("send %s: %v", n.Tag, err)
	}
}

// readTag reads frames until one with tag arrives.
func readTag(ctx context.Context, t *testing.T, conn *websocket.Conn, tag string) *proto.Node {
	t.Helper()
	for {
		var n proto.Node
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			t.Fatalf("waiting for %q: %v", tag, err)
		}
		if n.Tag == tag {
			return &n
		}
	}
}

// login walks a fresh connection through the version handshake and login.
func (s *testServer) login(ctx context.Context, t *testing.T, name string) (*websocket.Conn, *proto.Node) {
	t.Helper()

	conn := s.dial(ctx, t)
	readTag(ctx, t, conn, proto.OutboundTypeVersion)
	writeNode(ctx, t, conn, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.18.0"))
	readTag(ctx, t, conn, proto.OutboundTypeMustLogin)
	writeNode(ctx, t, conn, proto.NewNode(proto.InboundTypeLogin).Set("username", name))
	joined := readTag(ctx, t, conn, proto.OutboundTypeJoinLobby)
	readTag(ctx, t, conn, proto.OutboundTypeGameList)
	return conn, joined
}
