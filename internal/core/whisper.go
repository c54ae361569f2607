package core

import (
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func (h *Hub) lobbyMessage(p *Player, n *proto.Node) error {
	text := n.Attr("message")
	if text == "" {
		return coreError(KindProtocol, ErrCodeBadRequest, "Empty message.")
	}
	if err := h.checkFlood(p); err != nil {
		return err
	}
	out := proto.NewNode(proto.OutboundTypeMessage).
		Set("sender", p.Name).
		Set("message", text)
	for _, other := range h.lobbyPlayers() {
		if other != p {
			h.deliver(other.client, out)
		}
	}
	h.metrics.Record(metrics.EventLobbyMessage)
	return nil
}

// whisper delivers a private message to a live player.
func (h *Hub) whisper(p *Player, n *proto.Node) error {
	receiver := n.Attr("receiver")
	text := n.Attr("message")
	if receiver == "" || text == "" {
		return coreError(KindProtocol, ErrCodeBadRequest, "A whisper needs a receiver and a message.")
	}
	if err := h.checkFlood(p); err != nil {
		return err
	}
	target := h.reg.player(receiver)
	if target == nil {
		return coreError(KindNotFound, ErrCodeNotFound, "Can't find '"+receiver+"'.")
	}
	h.deliver(target.client, proto.NewNode(proto.OutboundTypeWhisper).
		Set("sender", p.Name).
		Set("receiver", target.Name).
		Set("message", text))
	h.metrics.Record(metrics.EventWhisper)
	return nil
}

// broadcastServer sends a server chat line to players; lobbyOnly skips those
// seated in games.
func (h *Hub) broadcastServer(text string, lobbyOnly bool) int {
	out := proto.ServerMessage(text)
	sent := 0
	for _, p := range h.reg.players {
		if lobbyOnly && p.State() != StateInLobby {
			continue
		}
		h.deliver(p.client, out)
		sent++
	}
	return sent
}
