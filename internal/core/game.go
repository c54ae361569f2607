package core

import (
	"strconv"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
	"github.com/vovakirdan/wirelobby-server/internal/replay"
)

type member struct {
	player   *Player
	observer bool
}

// Game is one game session. Members are kept in join order.
type Game struct {
	ID         int
	Name       string
	Scenario   string
	Era        string
	MaxPlayers int
	Started    bool

	password  string
	owner     *Player
	members   []*member
	createdAt time.Time
	startedAt time.Time
	roster    []string
	history   []*proto.Node
}

func (g *Game) member(p *Player) *member {
	for _, m := range g.members {
		if m.player == p {
			return m
		}
	}
	return nil
}

func (g *Game) players() int {
	n := 0
	for _, m := range g.members {
		if !m.observer {
			n++
		}
	}
	return n
}

func (g *Game) full() bool {
	return g.MaxPlayers > 0 && g.players() >= g.MaxPlayers
}

func (g *Game) remove(p *Player) bool {
	for i, m := range g.members {
		if m.player == p {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return true
		}
	}
	return false
}

// nextOwner is the earliest-joined remaining player.
func (g *Game) nextOwner() *Player {
	for _, m := range g.members {
		if !m.observer {
			return m.player
		}
	}
	return nil
}

// Owner returns the owner's name.
func (g *Game) Owner() string {
	if g.owner == nil {
		return ""
	}
	return g.owner.Name
}

func (g *Game) entry() lobby.GameEntry {
	return lobby.GameEntry{
		ID:                g.ID,
		Name:              g.Name,
		Owner:             g.Owner(),
		Scenario:          g.Scenario,
		Era:               g.Era,
		MaxPlayers:        g.MaxPlayers,
		Members:           g.players(),
		Observers:         len(g.members) - g.players(),
		Started:           g.Started,
		PasswordProtected: g.password != "",
	}
}

// broadcastGame sends n to every connected member except skip.
func (h *Hub) broadcastGame(g *Game, skip *Player, n *proto.Node) {
	for _, m := range g.members {
		if m.player == skip {
			continue
		}
		h.deliver(m.player.client, n)
	}
}

func joinGameNode(g *Game, observer bool) *proto.Node {
	return proto.NewNode(proto.OutboundTypeJoinGame).
		SetInt("id", g.ID).
		Set("name", g.Name).
		Set("owner", g.Owner()).
		SetBool("observer", observer)
}

func (h *Hub) createGame(p *Player, n *proto.Node) error {
	if h.graceful {
		return coreError(KindRejected, ErrCodeShuttingDown, "The server is restarting; no new games can be created.")
	}
	name := n.Attr("name")
	if name == "" {
		return coreError(KindProtocol, ErrCodeBadRequest, "A game needs a name.")
	}
	maxPlayers := 0
	if n.Attr("max_players") != "" {
		v, ok := n.Int("max_players")
		if !ok || v < 0 {
			return coreError(KindProtocol, ErrCodeBadRequest, "Invalid max_players.")
		}
		maxPlayers = v
	}

	h.nextGameID++
	g := &Game{
		ID:         h.nextGameID,
		Name:       name,
		Scenario:   n.Attr("scenario"),
		Era:        n.Attr("era"),
		MaxPlayers: maxPlayers,
		password:   n.Attr("password"),
		owner:      p,
		members:    []*member{{player: p}},
		createdAt:  h.now(),
	}
	h.games[g.ID] = g
	p.game = g
	p.observer = false

	h.metrics.Record(metrics.EventGameCreated)
	h.log.Info().Str("user", p.Name).Int("game_id", g.ID).Str("name", g.Name).Msg("game created")
	h.deliver(p.client, joinGameNode(g, false))
	return nil
}

func (h *Hub) joinGame(p *Player, n *proto.Node) error {
	id, ok := n.Int("id")
	if !ok {
		return coreError(KindProtocol, ErrCodeBadRequest, "Missing game id.")
	}
	g, ok := h.games[id]
	if !ok {
		return coreError(KindNotFound, ErrCodeNotFound, "Game "+strconv.Itoa(id)+" does not exist.")
	}
	observe := n.Bool("observe")
	if !observe {
		if g.Started {
			return coreError(KindRejected, ErrCodeGameStarted, "This game has already started.")
		}
		if g.full() {
			return coreError(KindRejected, ErrCodeGameFull, "This game is full.")
		}
	}
	if g.password != "" && n.Attr("password") != g.password && !p.Admin() {
		return coreError(KindAuth, ErrCodeGamePassword, "Incorrect game password.")
	}

	g.members = append(g.members, &member{player: p, observer: observe})
	p.game = g
	p.observer = observe

	h.broadcastGame(g, p, proto.NewNode(proto.OutboundTypeMemberJoined).
		Set("name", p.Name).
		SetBool("observer", observe))
	h.deliver(p.client, joinGameNode(g, observe))
	if observe && g.Started {
		for _, frame := range g.history {
			h.deliver(p.client, frame)
		}
	}
	h.log.Info().Str("user", p.Name).Int("game_id", g.ID).Bool("observer", observe).Msg("joined game")
	return nil
}

// leaveGame removes p from its game. The game is deleted in the same unit
// once no player is left; otherwise a departing owner hands over to the
// earliest-joined player.
func (h *Hub) leaveGame(p *Player, reason string) {
	g := p.game
	if g == nil {
		return
	}
	g.remove(p)
	p.game = nil
	p.observer = false

	h.broadcastGame(g, nil, proto.NewNode(proto.OutboundTypeMemberLeft).Set("name", p.Name))

	if g.players() == 0 {
		h.deleteGame(g, "All players have left the game.")
		return
	}
	if g.owner == p {
		g.owner = g.nextOwner()
		h.broadcastGame(g, nil, proto.NewNode(proto.OutboundTypeHostTransfer).
			SetInt("id", g.ID).
			Set("owner", g.Owner()))
		h.log.Info().Int("game_id", g.ID).Str("owner", g.Owner()).Str("reason", reason).Msg("ownership transferred")
	}
}

// deleteGame returns every remaining member to the lobby and drops the game.
func (h *Hub) deleteGame(g *Game, reason string) {
	notice := proto.NewNode(proto.OutboundTypeLeaveGame).
		SetInt("id", g.ID).
		Set("reason", reason)
	for _, m := range g.members {
		p := m.player
		p.game = nil
		p.observer = false
		if p.client == nil {
			h.ghosts.remove(p)
			continue
		}
		h.deliver(p.client, notice)
		h.enterLobby(p.client)
	}
	g.members = nil
	delete(h.games, g.ID)

	h.metrics.Record(metrics.EventGameEnded)
	h.log.Info().Int("game_id", g.ID).Str("reason", reason).Msg("game removed")
	h.saveReplay(g)
}

func (h *Hub) saveReplay(g *Game) {
	if !h.settings.SaveReplays || h.replays == nil || !g.Started {
		return
	}
	r := &replay.Replay{
		Header: replay.Header{
			GameID:    g.ID,
			Name:      g.Name,
			Scenario:  g.Scenario,
			Era:       g.Era,
			Players:   g.roster,
			StartedAt: g.startedAt,
			EndedAt:   h.now(),
		},
		Frames: g.history,
	}
	if err := h.replays.Save(r); err != nil {
		h.log.Warn().Err(err).Int("game_id", g.ID).Msg("replay dropped")
	}
}

func (h *Hub) startGame(p *Player, n *proto.Node) error {
	g := p.game
	if g.owner != p {
		return coreError(KindAuthorization, ErrCodeUnauthorized, "Only the game owner can start the game.")
	}
	if g.Started {
		return coreError(KindRejected, ErrCodeGameStarted, "This game has already started.")
	}
	g.Started = true
	g.startedAt = h.now()
	g.roster = g.playerNames()
	h.record(g, n)
	h.broadcastGame(g, p, n)

	h.metrics.Record(metrics.EventGameStarted)
	h.log.Info().Int("game_id", g.ID).Int("players", g.players()).Msg("game started")
	return nil
}

func (h *Hub) describeGame(p *Player, n *proto.Node) error {
	g := p.game
	if g.owner != p {
		return coreError(KindAuthorization, ErrCodeUnauthorized, "Only the game owner can describe the game.")
	}
	maxPlayers := g.MaxPlayers
	if n.Attr("max_players") != "" {
		v, ok := n.Int("max_players")
		if !ok || v < 0 {
			return coreError(KindProtocol, ErrCodeBadRequest, "Invalid max_players.")
		}
		maxPlayers = v
	}

	// Validated; nothing below can fail.
	g.MaxPlayers = maxPlayers
	if v := n.Attr("name"); v != "" {
		g.Name = v
	}
	if v := n.Attr("scenario"); v != "" {
		g.Scenario = v
	}
	if v := n.Attr("era"); v != "" {
		g.Era = v
	}
	if _, ok := n.Attrs["password"]; ok {
		g.password = n.Attr("password")
	}
	return nil
}

func (h *Hub) endGame(p *Player) error {
	g := p.game
	if g.owner != p {
		return coreError(KindAuthorization, ErrCodeUnauthorized, "Only the game owner can end the game.")
	}
	h.deleteGame(g, "The game was ended by its owner.")
	return nil
}

// relay forwards n verbatim to every other member of game id.
func (h *Hub) relay(id int, sender *Player, n *proto.Node) error {
	g, ok := h.games[id]
	if !ok {
		return ErrGameNotFound
	}
	if sender.game != g || g.member(sender) == nil {
		return ErrNotMember
	}
	h.record(g, n)
	h.broadcastGame(g, sender, n)
	h.metrics.Record(metrics.EventRelay)
	return nil
}

func (h *Hub) record(g *Game, n *proto.Node) {
	if h.settings.SaveReplays {
		g.history = append(g.history, n)
	}
}

func (g *Game) playerNames() []string {
	names := make([]string, 0, len(g.members))
	for _, m := range g.members {
		if !m.observer {
			names = append(names, m.player.Name)
		}
	}
	return names
}
