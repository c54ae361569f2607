package core

import (
	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// enterLobby marks c as joining the lobby in this unit of work: at commit it
// gets the full listing followed by after.
func (h *Hub) enterLobby(c *Client, after ...*proto.Node) {
	if c == nil {
		return
	}
	h.entered[c] = append(h.entered[c], after...)
}

func (h *Hub) buildSnapshot() lobby.Snapshot {
	snap := lobby.NewSnapshot()
	for id, g := range h.games {
		snap.Games[id] = g.entry()
	}
	for _, p := range h.reg.players {
		snap.Users[p.Name] = lobby.UserEntry{
			Name:       p.Name,
			Registered: p.Registered,
			Admin:      p.Admin(),
			GameID:     p.GameID(),
		}
	}
	return snap
}

// broadcastLobby sends the listing change since the last commit. Clients
// that entered the lobby during the unit get the whole listing instead.
func (h *Hub) broadcastLobby() {
	next := h.buildSnapshot()
	d := lobby.Compute(h.lobbySnap, next)
	h.lobbySnap = next

	var full, diff *proto.Node
	if !d.Empty() {
		diff = d.Node()
		h.metrics.Record(metrics.EventDiffBroadcast)
	}

	for c, s := range h.reg.sessions {
		if s.state() != StateInLobby {
			continue
		}
		if after, ok := h.entered[c]; ok {
			if full == nil {
				full = next.Node()
			}
			h.deliver(c, full)
			for _, n := range after {
				h.deliver(c, n)
			}
			continue
		}
		if diff != nil {
			h.deliver(c, diff)
		}
	}
	clear(h.entered)
}

func (h *Hub) lobbyPlayers() []*Player {
	var out []*Player
	for _, p := range h.reg.players {
		if p.State() == StateInLobby {
			out = append(out, p)
		}
	}
	return out
}
