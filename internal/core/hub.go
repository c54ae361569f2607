package core

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/admission"
	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
	"github.com/vovakirdan/wirelobby-server/internal/replay"
	"github.com/vovakirdan/wirelobby-server/internal/store"
)

const (
	workQueueSize        = 1024
	housekeepingInterval = time.Second
)

// Credentials is the nickname backend.
type Credentials interface {
	Authenticate(ctx context.Context, name, password string) (auth.Result, *store.Nick, error)
	Register(ctx context.Context, name, password, email string) (*store.Nick, error)
	Drop(ctx context.Context, name string) error
	IssueCapability(connID, name string, role auth.Role) (string, error)
}

// BanAdmin is the ban list as used by admission and admin commands.
type BanAdmin interface {
	admission.BanChecker
	Add(ctx context.Context, pattern, reason, issuer string, duration time.Duration) (*store.Ban, error)
	Remove(ctx context.Context, pattern string) error
	List() []store.Ban
}

// Lifecycle controls the server process.
type Lifecycle interface {
	Shutdown(reason string)
	Restart() error
}

// ReplaySink receives finished games.
type ReplaySink interface {
	Save(r *replay.Replay) error
}

// Deps are the hub's collaborators. Every field is optional.
type Deps struct {
	Logger      *zerolog.Logger
	Credentials Credentials
	Bans        BanAdmin
	Lifecycle   Lifecycle
	Replays     ReplaySink
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Stats is a point-in-time summary of the hub.
type Stats struct {
	Connections int  `json:"connections"`
	Players     int  `json:"players"`
	Ghosts      int  `json:"ghosts"`
	Games       int  `json:"games"`
	Graceful    bool `json:"graceful_restart"`
}

// Hub owns all core state. Every mutation runs on the goroutine executing
// Run, one unit of work at a time.
type Hub struct {
	work chan func()
	done chan struct{}

	log       *zerolog.Logger
	creds     Credentials
	bans      BanAdmin
	lifecycle Lifecycle
	replays   ReplaySink
	metrics   *metrics.Metrics
	now       func() time.Time

	settings   Settings
	motd       string
	admission  *admission.Controller
	reg        *registry
	ghosts     *ghostMap
	games      map[int]*Game
	nextGameID int

	lobbySnap  lobby.Snapshot
	entered    map[*Client][]*proto.Node
	overflowed []*Client

	graceful  bool
	stopping  bool
	lastStats time.Time
}

// NewHub creates a new hub instance. Call Run to start processing.
func NewHub(settings Settings, deps Deps) *Hub {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hubLog := logger.With().Str("component", "hub").Logger()

	h := &Hub{
		work:      make(chan func(), workQueueSize),
		done:      make(chan struct{}),
		log:       &hubLog,
		creds:     deps.Credentials,
		bans:      deps.Bans,
		lifecycle: deps.Lifecycle,
		replays:   deps.Replays,
		metrics:   deps.Metrics,
		now:       deps.Now,
		settings:  settings,
		motd:      settings.MOTD,
		reg:       newRegistry(),
		ghosts:    newGhostMap(),
		games:     make(map[int]*Game),
		lobbySnap: lobby.NewSnapshot(),
		entered:   make(map[*Client][]*proto.Node),
	}
	if h.creds == nil {
		h.creds = noCredentials{}
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	if h.now == nil {
		h.now = time.Now
	}

	var checker admission.BanChecker
	if h.bans != nil {
		checker = h.bans
	}
	h.admission = admission.New(checker, settings.ConcurrentConnections, settings.MaxIPLogSize)
	h.admission.SetClock(h.now)
	h.lastStats = h.now()
	return h
}

// Run processes work until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	h.log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info().Msg("hub stopped")
			return
		case fn := <-h.work:
			fn()
			h.commit()
		case <-ticker.C:
			h.housekeep()
			h.commit()
		}
	}
}

func (h *Hub) enqueue(ctx context.Context, fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.work <- fn:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// call runs fn on the hub goroutine and waits for it.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !h.enqueue(ctx, func() {
		defer close(finished)
		fn()
	}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrHubClosed
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect admits c and opens its session. A refused connection gets an
// *admission.Rejection; the caller reports it and hangs up.
func (h *Hub) Connect(ctx context.Context, c *Client) error {
	var result error
	if err := h.call(ctx, func() { result = h.connect(c) }); err != nil {
		return err
	}
	return result
}

// Submit queues an inbound message from c.
func (h *Hub) Submit(ctx context.Context, c *Client, n *proto.Node) error {
	if !h.enqueue(ctx, func() { h.handle(c, n) }) {
		return ErrHubClosed
	}
	return nil
}

// Disconnect reports that c's transport is gone.
func (h *Hub) Disconnect(c *Client) {
	h.enqueue(context.Background(), func() { h.disconnect(c, true) })
}

// Reload swaps the settings.
func (h *Hub) Reload(ctx context.Context, s Settings) error {
	return h.call(ctx, func() { h.applySettings(s) })
}

// Lobby returns the snapshot last broadcast to lobby clients.
func (h *Hub) Lobby(ctx context.Context) (lobby.Snapshot, error) {
	var snap lobby.Snapshot
	err := h.call(ctx, func() { snap = h.lobbySnap.Clone() })
	return snap, err
}

// Stats returns counts of the hub state.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := h.call(ctx, func() { st = h.stats() })
	return st, err
}

func (h *Hub) stats() Stats {
	return Stats{
		Connections: len(h.reg.sessions),
		Players:     len(h.reg.players),
		Ghosts:      h.ghosts.len(),
		Games:       len(h.games),
		Graceful:    h.graceful,
	}
}

func (h *Hub) connect(c *Client) error {
	if err := h.admission.Admit(c.IP, h.reg.live(c.IP)); err != nil {
		h.metrics.Record(metrics.EventReject)
		h.log.Info().Str("client_id", c.ID).Str("ip", c.IP).Err(err).Msg("connection refused")
		return err
	}
	h.reg.add(c, h.now())
	h.metrics.Record(metrics.EventConnect)
	h.log.Debug().Str("client_id", c.ID).Str("ip", c.IP).Msg("client connected")
	h.deliver(c, proto.NewNode(proto.OutboundTypeVersion))
	return nil
}

// disconnect tears down c's session. A seated player becomes a ghost when
// allowed.
func (h *Hub) disconnect(c *Client, allowGhost bool) {
	s := h.reg.remove(c)
	if s == nil {
		return
	}
	delete(h.entered, c)
	c.Close()
	h.metrics.Record(metrics.EventDisconnect)

	p := s.player
	if p == nil {
		return
	}
	p.client = nil
	logger := h.log.With().Str("client_id", c.ID).Str("user", p.Name).Logger()

	if allowGhost && p.game != nil && h.settings.ghostsEnabled() {
		evicted := h.ghosts.add(p, h.now().Add(h.settings.GhostGrace), h.settings.MaxGhosts)
		logger.Info().Int("game_id", p.game.ID).Msg("player ghosted")
		if evicted != nil {
			h.log.Info().Str("user", evicted.Name).Msg("ghost evicted")
			h.dropPlayer(evicted, "disconnected")
		}
		return
	}
	logger.Info().Msg("player left")
	h.dropPlayer(p, "disconnected")
}

// dropPlayer releases a player that has no client anymore.
func (h *Hub) dropPlayer(p *Player, reason string) {
	h.ghosts.remove(p)
	if p.game != nil {
		h.leaveGame(p, reason)
	}
}

// kick closes c immediately without ghosting.
func (h *Hub) kick(c *Client, msg string) {
	h.deliver(c, proto.Error(ErrCodeKicked, msg))
	h.disconnect(c, false)
}

func (h *Hub) deliver(c *Client, n *proto.Node) {
	if c == nil {
		return
	}
	if !c.send(n) && !c.closed() {
		h.log.Warn().Str("client_id", c.ID).Str("ip", c.IP).Msg("client buffer full, disconnecting")
		c.Close()
		h.overflowed = append(h.overflowed, c)
	}
}

// commit ends a unit of work: slow clients are dropped and lobby clients
// receive the change in the listing.
func (h *Hub) commit() {
	for {
		for len(h.overflowed) > 0 {
			c := h.overflowed[0]
			h.overflowed = h.overflowed[1:]
			h.disconnect(c, true)
		}
		h.broadcastLobby()
		if len(h.overflowed) == 0 {
			return
		}
	}
}

func (h *Hub) applySettings(s Settings) {
	h.settings = s
	h.motd = s.MOTD
	h.admission.Configure(s.ConcurrentConnections, s.MaxIPLogSize)
	for _, p := range h.reg.players {
		p.limiter = h.newLimiter()
	}
	h.log.Info().
		Int("concurrent_connections", s.ConcurrentConnections).
		Int("max_messages", s.MaxMessages).
		Bool("save_replays", s.SaveReplays).
		Msg("settings reloaded")
}

func (h *Hub) housekeep() {
	now := h.now()
	for _, p := range h.ghosts.expired(now) {
		h.log.Info().Str("user", p.Name).Msg("ghost expired")
		h.dropPlayer(p, "disconnected")
	}

	if h.settings.StatsInterval > 0 && now.Sub(h.lastStats) >= h.settings.StatsInterval {
		h.lastStats = now
		h.dumpStats()
	}

	if h.graceful && len(h.games) == 0 {
		h.stop("graceful restart")
	}
}

func (h *Hub) dumpStats() {
	st := h.stats()
	h.log.Info().
		Int("connections", st.Connections).
		Int("players", st.Players).
		Int("ghosts", st.Ghosts).
		Int("games", st.Games).
		Uint64("relayed", h.metrics.Count(metrics.EventRelay)).
		Uint64("logins", h.metrics.Count(metrics.EventLogin)).
		Msg("stats")
}

func (h *Hub) stop(reason string) {
	if h.stopping || h.lifecycle == nil {
		return
	}
	h.stopping = true
	h.log.Info().Str("reason", reason).Msg("requesting shutdown")
	h.lifecycle.Shutdown(reason)
}

func (h *Hub) closeAll() {
	clients := make([]*Client, 0, len(h.reg.sessions))
	for c := range h.reg.sessions {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	for _, c := range clients {
		h.deliver(c, proto.Error(ErrCodeShuttingDown, "The server is shutting down."))
		c.Close()
	}
}

type noCredentials struct{}

func (noCredentials) Authenticate(context.Context, string, string) (auth.Result, *store.Nick, error) {
	return auth.ResultUnregistered, nil, nil
}

func (noCredentials) Register(context.Context, string, string, string) (*store.Nick, error) {
	return nil, errNoCredentials
}

func (noCredentials) Drop(context.Context, string) error {
	return errNoCredentials
}

func (noCredentials) IssueCapability(string, string, auth.Role) (string, error) {
	return "", nil
}
