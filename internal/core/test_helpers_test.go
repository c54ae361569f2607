package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
	"github.com/vovakirdan/wirelobby-server/internal/replay"
	"github.com/vovakirdan/wirelobby-server/internal/store/sqlite"
)

const testAdminPassword = "letmein"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLifecycle struct {
	mu        sync.Mutex
	shutdowns []string
	restarts  int
}

func (l *fakeLifecycle) Shutdown(reason string) {
	l.mu.Lock()
	l.shutdowns = append(l.shutdowns, reason)
	l.mu.Unlock()
}

func (l *fakeLifecycle) Restart() error {
	l.mu.Lock()
	l.restarts++
	l.mu.Unlock()
	return nil
}

func (l *fakeLifecycle) counts() (shutdowns, restarts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shutdowns), l.restarts
}

type fakeReplays struct {
	mu    sync.Mutex
	saved []*replay.Replay
}

func (r *fakeReplays) Save(rp *replay.Replay) error {
	r.mu.Lock()
	r.saved = append(r.saved, rp)
	r.mu.Unlock()
	return nil
}

func (r *fakeReplays) all() []*replay.Replay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*replay.Replay(nil), r.saved...)
}

type testEnv struct {
	t       *testing.T
	ctx     context.Context
	hub     *Hub
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	bans    *ban.Manager
	life    *fakeLifecycle
	replays *fakeReplays
	clock   *fakeClock
	metrics *metrics.Metrics
}

func testSettings() Settings {
	s := DefaultSettings()
	s.DisallowedNames = []string{"*admin*", "server"}
	s.AdminPassword = testAdminPassword
	s.MaxIPLogSize = 50
	return s
}

func newTestEnv(t *testing.T, configure func(*Settings)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	settings := testSettings()
	if configure != nil {
		configure(&settings)
	}

	env := &testEnv{
		t:       t,
		store:   st,
		auth:    auth.NewService(st, &auth.JWTConfig{Secret: []byte("test-secret"), Issuer: "test", Audience: "test", TTL: time.Hour}),
		bans:    ban.NewManager(st, nil),
		life:    &fakeLifecycle{},
		replays: &fakeReplays{},
		clock:   &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.New(),
	}
	env.hub = NewHub(settings, Deps{
		Credentials: env.auth,
		Bans:        env.bans,
		Lifecycle:   env.life,
		Replays:     env.replays,
		Metrics:     env.metrics,
		Now:         env.clock.Now,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	env.ctx = ctx
	go env.hub.Run(ctx)
	return env
}

// sync returns once every previously submitted message has been handled.
func (e *testEnv) sync() Stats {
	e.t.Helper()
	st, err := e.hub.Stats(e.ctx)
	if err != nil {
		e.t.Fatalf("stats: %v", err)
	}
	return st
}

func (e *testEnv) snapshot() map[int]int {
	e.t.Helper()
	snap, err := e.hub.Lobby(e.ctx)
	if err != nil {
		e.t.Fatalf("lobby: %v", err)
	}
	members := make(map[int]int, len(snap.Games))
	for id, g := range snap.Games {
		members[id] = g.Members
	}
	return members
}

func (e *testEnv) send(c *Client, n *proto.Node) {
	e.t.Helper()
	if err := e.hub.Submit(e.ctx, c, n); err != nil {
		e.t.Fatalf("submit: %v", err)
	}
}

func (e *testEnv) connect(id, ip string) *Client {
	e.t.Helper()
	c := NewClient(id, ip, 64)
	if err := e.hub.Connect(e.ctx, c); err != nil {
		e.t.Fatalf("connect %s: %v", id, err)
	}
	mustEvent(e.t, c.Events, proto.OutboundTypeVersion)
	return c
}

func (e *testEnv) hello(c *Client) {
	e.t.Helper()
	e.send(c, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.18.0"))
	mustEvent(e.t, c.Events, proto.OutboundTypeMustLogin)
}

func loginNode(name string, attrs ...string) *proto.Node {
	n := proto.NewNode(proto.InboundTypeLogin).Set("username", name)
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Set(attrs[i], attrs[i+1])
	}
	return n
}

// login opens a connection and logs name in, consuming the lobby greeting.
func (e *testEnv) login(name, ip string, attrs ...string) *Client {
	e.t.Helper()
	c := e.connect(name, ip)
	e.hello(c)
	e.send(c, loginNode(name, attrs...))
	mustEvent(e.t, c.Events, proto.OutboundTypeJoinLobby)
	mustEvent(e.t, c.Events, proto.OutboundTypeGameList)
	return c
}

func (e *testEnv) query(c *Client, text string) string {
	e.t.Helper()
	e.send(c, proto.NewNode(proto.InboundTypeQuery).Set("type", text))
	return mustEvent(e.t, c.Events, proto.OutboundTypeQueryResponse).Attr("message")
}

func (e *testEnv) createGame(c *Client, name string, attrs ...string) int {
	e.t.Helper()
	n := proto.NewNode(proto.InboundTypeCreateGame).Set("name", name)
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Set(attrs[i], attrs[i+1])
	}
	e.send(c, n)
	ev := mustEvent(e.t, c.Events, proto.OutboundTypeJoinGame)
	id, ok := ev.Int("id")
	if !ok {
		e.t.Fatalf("join_game without id: %+v", ev)
	}
	return id
}

func (e *testEnv) join(c *Client, id int, observe bool) {
	e.t.Helper()
	e.send(c, proto.NewNode(proto.InboundTypeJoin).SetInt("id", id).SetBool("observe", observe))
	mustEvent(e.t, c.Events, proto.OutboundTypeJoinGame)
}

func mustEvent(t *testing.T, ch <-chan *proto.Node, tag string) *proto.Node {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Tag == tag {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", tag)
	return nil
}

func mustError(t *testing.T, ch <-chan *proto.Node, code string) *proto.Node {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Tag == proto.OutboundTypeError {
				if ev.Attr("error_code") != code {
					t.Fatalf("expected error %q, got %+v", code, ev)
				}
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected error %q not received", code)
	return nil
}

// drain returns everything queued for c without waiting.
func drain(c *Client) []*proto.Node {
	var out []*proto.Node
	for {
		select {
		case ev := <-c.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func tags(nodes []*proto.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Tag)
	}
	return out
}

func hasTag(nodes []*proto.Node, tag string) bool {
	for _, n := range nodes {
		if n.Tag == tag {
			return true
		}
	}
	return false
}
