package core

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
)

// State is the lifecycle state of a session or player.
type State int

const (
	StateNotLoggedIn State = iota
	StateInLobby
	StateInGame
	StateGhost
)

func (s State) String() string {
	switch s {
	case StateInLobby:
		return "lobby"
	case StateInGame:
		return "game"
	case StateGhost:
		return "ghost"
	default:
		return "not_logged_in"
	}
}

// Player is a logged-in identity. It outlives its client while ghosted.
type Player struct {
	Name       string
	IP         string
	Registered bool
	Claims     *auth.Claims
	LoggedInAt time.Time

	client   *Client
	game     *Game
	observer bool
	limiter  *rate.Limiter
}

// Admin reports whether the player holds the admin capability.
func (p *Player) Admin() bool {
	return p.Claims.IsAdmin()
}

// State derives the lifecycle state from the player's links.
func (p *Player) State() State {
	switch {
	case p.client == nil:
		return StateGhost
	case p.game != nil:
		return StateInGame
	default:
		return StateInLobby
	}
}

// GameID is 0 outside a game.
func (p *Player) GameID() int {
	if p.game == nil {
		return 0
	}
	return p.game.ID
}

func (p *Player) setRole(role auth.Role) {
	if p.Claims == nil {
		p.Claims = &auth.Claims{Username: p.Name}
	}
	p.Claims.Role = role
}

type session struct {
	client      *Client
	connectedAt time.Time
	version     string
	versionOK   bool
	player      *Player
}

func (s *session) state() State {
	if s.player == nil {
		return StateNotLoggedIn
	}
	return s.player.State()
}

// registry is owned by the hub loop.
type registry struct {
	sessions map[*Client]*session
	players  map[string]*Player
	perIP    map[string]int
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[*Client]*session),
		players:  make(map[string]*Player),
		perIP:    make(map[string]int),
	}
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

func (r *registry) add(c *Client, now time.Time) *session {
	s := &session{client: c, connectedAt: now}
	r.sessions[c] = s
	r.perIP[c.IP]++
	return s
}

func (r *registry) remove(c *Client) *session {
	s, ok := r.sessions[c]
	if !ok {
		return nil
	}
	delete(r.sessions, c)
	if r.perIP[c.IP]--; r.perIP[c.IP] <= 0 {
		delete(r.perIP, c.IP)
	}
	if s.player != nil {
		key := nameKey(s.player.Name)
		if r.players[key] == s.player {
			delete(r.players, key)
		}
	}
	return s
}

func (r *registry) bind(s *session, p *Player) {
	s.player = p
	p.client = s.client
	r.players[nameKey(p.Name)] = p
}

func (r *registry) player(name string) *Player {
	return r.players[nameKey(name)]
}

func (r *registry) live(ip string) int {
	return r.perIP[ip]
}
