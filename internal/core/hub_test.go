package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/admission"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func TestHubWithoutDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub := NewHub(DefaultSettings(), Deps{}) // No store, bans or lifecycle needed for this test
	go hub.Run(ctx)

	alice := NewClient("a", "127.0.0.1", 8)
	if err := hub.Connect(ctx, alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustEvent(t, alice.Events, proto.OutboundTypeVersion)

	_ = hub.Submit(ctx, alice, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.0"))
	mustEvent(t, alice.Events, proto.OutboundTypeMustLogin)
	_ = hub.Submit(ctx, alice, loginNode("alice"))

	joined := mustEvent(t, alice.Events, proto.OutboundTypeJoinLobby)
	if joined.Attr("name") != "alice" || joined.Bool("registered") || joined.Bool("admin") {
		t.Fatalf("unexpected join_lobby: %+v", joined)
	}
	mustEvent(t, alice.Events, proto.OutboundTypeGameList)
}

func TestUnsupportedVersionCreatesNoPlayer(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.AcceptedVersions = []string{"1.18.*"}
	})

	c := env.connect("c", "10.0.0.1")
	env.send(c, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.2.0"))
	mustError(t, c.Events, ErrCodeUnsupportedVersion)

	// Still not logged in: a login is a protocol error.
	env.send(c, loginNode("alice"))
	mustError(t, c.Events, ErrCodeProtocol)

	if st := env.sync(); st.Players != 0 || st.Connections != 1 {
		t.Fatalf("expected no player, got %+v", st)
	}
}

func TestRedirectAndProxyVersions(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.AcceptedVersions = []string{"1.18.*"}
		s.RedirectedVersions = map[string]VersionTarget{"1.16.*": {Host: "old.example.org", Port: 15000}}
		s.ProxiedVersions = map[string]VersionTarget{"1.17.*": {Host: "proxy.example.org", Port: 15001}}
	})

	c := env.connect("c", "10.0.0.1")
	env.send(c, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.16.3"))
	ev := mustEvent(t, c.Events, proto.OutboundTypeRedirect)
	if ev.Attr("host") != "old.example.org" || ev.Attr("port") != "15000" {
		t.Fatalf("unexpected redirect: %+v", ev)
	}

	env.send(c, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.17.0"))
	ev = mustEvent(t, c.Events, proto.OutboundTypeProxy)
	if ev.Attr("host") != "proxy.example.org" {
		t.Fatalf("unexpected proxy: %+v", ev)
	}
}

func TestLoginBeforeVersionIsProtocolError(t *testing.T) {
	env := newTestEnv(t, nil)

	c := env.connect("c", "10.0.0.1")
	env.send(c, loginNode("alice"))
	mustError(t, c.Events, ErrCodeProtocol)

	if st := env.sync(); st.Players != 0 {
		t.Fatalf("expected no player, got %+v", st)
	}
}

func TestLoginSendsLobbyThenMOTD(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.MOTD = "Welcome!"
	})

	c := env.connect("c", "10.0.0.1")
	env.hello(c)
	env.send(c, loginNode("alice"))
	env.sync()

	got := tags(drain(c))
	want := []string{proto.OutboundTypeJoinLobby, proto.OutboundTypeGameList, proto.OutboundTypeMessage}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLoginNameChecks(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		code string
	}{
		{"", ErrCodeInvalidUsername},
		{"has space", ErrCodeInvalidUsername},
		{"abcdefghijklmnopqrstu", ErrCodeInvalidUsername},
		{"SuperAdmin", ErrCodeNameReserved},
		{"server", ErrCodeNameReserved},
	}

	c := env.connect("c", "10.0.0.1")
	env.hello(c)
	for _, tc := range cases {
		env.send(c, loginNode(tc.name))
		mustError(t, c.Events, tc.code)
	}
	if st := env.sync(); st.Players != 0 {
		t.Fatalf("expected no player, got %+v", st)
	}
}

func TestConcurrentSameNameLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.connect("a", "10.0.0.1")
	b := env.connect("b", "10.0.0.2")
	env.hello(a)
	env.hello(b)

	var wg sync.WaitGroup
	for _, c := range []*Client{a, b} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = env.hub.Submit(env.ctx, c, loginNode("alice"))
		}(c)
	}
	wg.Wait()
	env.sync()

	joined, taken := 0, 0
	for _, c := range []*Client{a, b} {
		for _, ev := range drain(c) {
			switch {
			case ev.Tag == proto.OutboundTypeJoinLobby:
				joined++
			case ev.Tag == proto.OutboundTypeError && ev.Attr("error_code") == ErrCodeNameTaken:
				taken++
			}
		}
	}
	if joined != 1 || taken != 1 {
		t.Fatalf("expected one login and one name_taken, got %d and %d", joined, taken)
	}
	if st := env.sync(); st.Players != 1 {
		t.Fatalf("expected one player, got %+v", st)
	}
}

func TestRegisteredNameNeedsPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.auth.Register(context.Background(), "alice", "correct-horse", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	c := env.connect("c", "10.0.0.1")
	env.hello(c)

	env.send(c, loginNode("alice"))
	ev := mustError(t, c.Events, ErrCodePasswordRequired)
	if !ev.Bool("password_request") || ev.Attr("wrong_password") != "no" || ev.Attr("force_confirmation") != "" {
		t.Fatalf("unexpected password request: %+v", ev)
	}

	env.send(c, loginNode("alice", "password", "wrong"))
	ev = mustError(t, c.Events, ErrCodeWrongPassword)
	if !ev.Bool("password_request") || !ev.Bool("wrong_password") {
		t.Fatalf("unexpected password request: %+v", ev)
	}

	if st := env.sync(); st.Players != 0 {
		t.Fatalf("expected alice to stay logged out, got %+v", st)
	}

	env.send(c, loginNode("alice", "password", "correct-horse"))
	joined := mustEvent(t, c.Events, proto.OutboundTypeJoinLobby)
	if !joined.Bool("registered") || joined.Attr("token") == "" {
		t.Fatalf("unexpected join_lobby: %+v", joined)
	}
}

func TestAdminAccountLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.auth.Register(ctx, "boss", "correct-horse", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.store.SetAdmin(ctx, "boss", true); err != nil {
		t.Fatalf("set admin: %v", err)
	}

	c := env.connect("c", "10.0.0.1")
	env.hello(c)
	env.send(c, loginNode("boss"))
	ev := mustError(t, c.Events, ErrCodePasswordRequired)
	if !ev.Bool("force_confirmation") {
		t.Fatalf("expected force_confirmation for admin account, got %+v", ev)
	}

	env.send(c, loginNode("boss", "password", "correct-horse"))
	joined := mustEvent(t, c.Events, proto.OutboundTypeJoinLobby)
	if !joined.Bool("admin") {
		t.Fatalf("expected admin capability, got %+v", joined)
	}
	claims, err := env.auth.ValidateToken(joined.Attr("token"))
	if err != nil || !claims.IsAdmin() || claims.Username != "boss" {
		t.Fatalf("unexpected capability token: %+v %v", claims, err)
	}
}

func TestAdminPasswordAtLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	c := env.connect("c", "10.0.0.1")
	env.hello(c)
	env.send(c, loginNode("carol", "admin_password", "nope"))
	if joined := mustEvent(t, c.Events, proto.OutboundTypeJoinLobby); joined.Bool("admin") {
		t.Fatalf("wrong admin password must not grant admin: %+v", joined)
	}

	d := env.connect("d", "10.0.0.2")
	env.hello(d)
	env.send(d, loginNode("dave", "admin_password", testAdminPassword))
	if joined := mustEvent(t, d.Events, proto.OutboundTypeJoinLobby); !joined.Bool("admin") {
		t.Fatalf("expected admin capability, got %+v", joined)
	}
}

func TestDenyUnregisteredLogin(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.DenyUnregisteredLogin = true
	})

	c := env.connect("c", "10.0.0.1")
	env.hello(c)
	env.send(c, loginNode("guest"))
	mustError(t, c.Events, ErrCodeRegistrationRequired)
}

func TestConnectionLimit(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.ConcurrentConnections = 2
	})

	env.connect("a", "10.0.0.1")
	env.connect("b", "10.0.0.1")

	c := NewClient("c", "10.0.0.1", 8)
	err := env.hub.Connect(env.ctx, c)
	var rej *admission.Rejection
	if !errors.As(err, &rej) || rej.Code != admission.CodeConnectionLimit {
		t.Fatalf("expected connection_limit, got %v", err)
	}

	env.connect("d", "10.0.0.2")
	if st := env.sync(); st.Connections != 3 {
		t.Fatalf("expected 3 sessions, got %+v", st)
	}
}

func TestBannedAddressRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.bans.Add(context.Background(), "10.0.0.*", "spam", "test", 0); err != nil {
		t.Fatalf("add ban: %v", err)
	}

	err := env.hub.Connect(env.ctx, NewClient("c", "10.0.0.7", 8))
	if !errors.Is(err, admission.ErrBanned) {
		t.Fatalf("expected ban rejection, got %v", err)
	}
	if st := env.sync(); st.Connections != 0 {
		t.Fatalf("expected no session, got %+v", st)
	}
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.login("alice", "10.0.0.1")
	bob := env.login("bob", "10.0.0.2")
	mustEvent(t, alice.Events, proto.OutboundTypeGameListDiff)

	env.hub.Disconnect(bob)
	diff := mustEvent(t, alice.Events, proto.OutboundTypeGameListDiff)
	del := diff.Child("delete_child")
	if del == nil || del.Child("user") == nil || del.Child("user").Attr("name") != "bob" {
		t.Fatalf("expected bob to be removed, got %+v", diff)
	}
	if st := env.sync(); st.Players != 1 || st.Connections != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestGhostResumesGameSeat(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.GhostGrace = time.Minute
		s.MaxGhosts = 4
	})

	alice := env.login("alice", "10.0.0.1")
	bob := env.login("bob", "10.0.0.2")
	id := env.createGame(alice, "duel")
	env.join(bob, id, false)

	env.hub.Disconnect(bob)
	if st := env.sync(); st.Ghosts != 1 || st.Players != 1 {
		t.Fatalf("expected bob ghosted, got %+v", st)
	}
	if members := env.snapshot(); members[id] != 2 {
		t.Fatalf("ghost must keep its seat, got %v", members)
	}

	again := env.connect("bob2", "10.0.0.3")
	env.hello(again)
	env.send(again, loginNode("bob"))
	mustEvent(t, again.Events, proto.OutboundTypeJoinLobby)
	rejoin := mustEvent(t, again.Events, proto.OutboundTypeJoinGame)
	if got, _ := rejoin.Int("id"); got != id {
		t.Fatalf("expected to rejoin game %d, got %+v", id, rejoin)
	}
	mustEvent(t, alice.Events, proto.OutboundTypeMemberRejoined)

	if st := env.sync(); st.Ghosts != 0 || st.Players != 2 {
		t.Fatalf("unexpected stats after resume: %+v", st)
	}
}

func TestGhostResumeKeepsListedSpelling(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.GhostGrace = time.Minute
		s.MaxGhosts = 4
	})

	alice := env.login("alice", "10.0.0.1", "admin_password", testAdminPassword)
	bob := env.login("bob", "10.0.0.2")
	id := env.createGame(alice, "duel")
	env.join(bob, id, false)
	env.hub.Disconnect(bob)
	env.sync()

	again := env.connect("bob2", "10.0.0.3")
	env.hello(again)
	env.send(again, loginNode("BOB"))
	joined := mustEvent(t, again.Events, proto.OutboundTypeJoinLobby)
	if joined.Attr("name") != "bob" {
		t.Fatalf("expected the ghost's spelling, got %+v", joined)
	}
	rejoined := mustEvent(t, alice.Events, proto.OutboundTypeMemberRejoined)
	if rejoined.Attr("name") != "bob" {
		t.Fatalf("unexpected member_rejoined: %+v", rejoined)
	}

	snap, err := env.hub.Lobby(env.ctx)
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	if _, ok := snap.Users["bob"]; !ok {
		t.Fatalf("expected bob listed, got %v", snap.UserNames())
	}
	if _, ok := snap.Users["BOB"]; ok {
		t.Fatalf("resumed player listed under a second spelling: %v", snap.UserNames())
	}

	var username string
	if err := env.hub.call(env.ctx, func() {
		if p := env.hub.reg.player("bob"); p != nil && p.Claims != nil {
			username = p.Claims.Username
		}
	}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if username != "bob" {
		t.Fatalf("expected claims for bob, got %q", username)
	}
	if out := env.query(alice, "searchlog 10.0.0.3"); !strings.Contains(out, "bob") || strings.Contains(out, "BOB") {
		t.Fatalf("unexpected ip-log entry: %q", out)
	}
}

func TestExpiredGhostLosesSeat(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.GhostGrace = time.Minute
		s.MaxGhosts = 4
	})

	alice := env.login("alice", "10.0.0.1")
	id := env.createGame(alice, "solo")
	env.hub.Disconnect(alice)
	if members := env.snapshot(); members[id] != 1 {
		t.Fatalf("expected the ghost to keep the game, got %v", members)
	}

	env.clock.Advance(2 * time.Minute)
	if err := env.hub.call(env.ctx, env.hub.housekeep); err != nil {
		t.Fatalf("housekeep: %v", err)
	}
	if members := env.snapshot(); len(members) != 0 {
		t.Fatalf("expected the game to be removed, got %v", members)
	}
	if st := env.sync(); st.Ghosts != 0 {
		t.Fatalf("expected no ghosts, got %+v", st)
	}
}

func TestGhostCapacityEvictsEarliest(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.GhostGrace = time.Minute
		s.MaxGhosts = 1
	})

	alice := env.login("alice", "10.0.0.1")
	bob := env.login("bob", "10.0.0.2")
	first := env.createGame(alice, "one")
	second := env.createGame(bob, "two")

	env.hub.Disconnect(alice)
	env.sync()
	env.clock.Advance(time.Second)
	env.hub.Disconnect(bob)

	members := env.snapshot()
	if _, ok := members[first]; ok {
		t.Fatalf("evicted ghost's game should be gone, got %v", members)
	}
	if members[second] != 1 {
		t.Fatalf("expected the newer ghost to keep its game, got %v", members)
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	env := newTestEnv(t, nil)

	slow := NewClient("slow", "10.0.0.1", 1)
	if err := env.hub.Connect(env.ctx, slow); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// The version request fills the buffer; the reply to this overflows it.
	env.send(slow, proto.NewNode(proto.InboundTypeVersion).Set("version", "1.0"))

	if st := env.sync(); st.Connections != 0 {
		t.Fatalf("expected slow client dropped, got %+v", st)
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("expected slow client closed")
	}
}

func TestReloadReplacesMOTD(t *testing.T) {
	env := newTestEnv(t, nil)

	s := testSettings()
	s.MOTD = "fresh"
	if err := env.hub.Reload(env.ctx, s); err != nil {
		t.Fatalf("reload: %v", err)
	}

	c := env.login("alice", "10.0.0.1")
	ev := mustEvent(t, c.Events, proto.OutboundTypeMessage)
	if ev.Attr("sender") != proto.ServerSender || ev.Attr("message") != "fresh" {
		t.Fatalf("unexpected motd: %+v", ev)
	}
}

func TestHubClosedAfterRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(DefaultSettings(), Deps{})
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, err := hub.Stats(context.Background()); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}
