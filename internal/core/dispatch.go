package core

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// handle routes one inbound message by the sender's lifecycle state and then
// by its tag. Handlers validate before mutating, so a rejected message leaves
// the state untouched.
func (h *Hub) handle(c *Client, n *proto.Node) {
	s, ok := h.reg.sessions[c]
	if !ok {
		return
	}
	if n == nil {
		h.replyError(s, protocolError("Empty message."))
		return
	}
	if err := n.Validate(); err != nil {
		h.replyError(s, protocolError(err.Error()))
		return
	}

	var err error
	switch s.state() {
	case StateNotLoggedIn:
		err = h.handleGuest(s, n)
	case StateInLobby:
		err = h.handleLobby(s.player, n)
	case StateInGame:
		err = h.handleInGame(s.player, n)
	}
	if err != nil {
		h.replyError(s, err)
	}
}

func (h *Hub) handleGuest(s *session, n *proto.Node) error {
	switch n.Tag {
	case proto.InboundTypeVersion:
		return h.handleVersion(s, n)
	case proto.InboundTypeLogin:
		return h.handleLogin(s, n)
	default:
		return protocolError("Unexpected '" + n.Tag + "' before login.")
	}
}

func (h *Hub) handleLobby(p *Player, n *proto.Node) error {
	switch n.Tag {
	case proto.InboundTypeMessage:
		return h.lobbyMessage(p, n)
	case proto.InboundTypeWhisper:
		return h.whisper(p, n)
	case proto.InboundTypeNickserv:
		return h.nickserv(p, n)
	case proto.InboundTypeCreateGame:
		return h.createGame(p, n)
	case proto.InboundTypeJoin:
		return h.joinGame(p, n)
	case proto.InboundTypeQuery:
		return h.query(p, n)
	case proto.InboundTypeRefreshLobby:
		h.enterLobby(p.client)
		return nil
	default:
		return protocolError("Unexpected '" + n.Tag + "' in the lobby.")
	}
}

func (h *Hub) handleInGame(p *Player, n *proto.Node) error {
	switch n.Tag {
	case proto.InboundTypeLeaveGame:
		id := p.game.ID
		h.leaveGame(p, "left")
		h.deliver(p.client, proto.NewNode(proto.OutboundTypeLeaveGame).
			SetInt("id", id).
			Set("reason", "left"))
		h.enterLobby(p.client)
		return nil
	case proto.InboundTypeStartGame:
		return h.startGame(p, n)
	case proto.InboundTypeDescribe:
		return h.describeGame(p, n)
	case proto.InboundTypeEndGame:
		return h.endGame(p)
	case proto.InboundTypeWhisper:
		return h.whisper(p, n)
	case proto.InboundTypeQuery:
		return h.query(p, n)
	}

	if p.observer && n.Tag != proto.InboundTypeMessage {
		return protocolError("Observers can only send chat messages.")
	}
	if n.Tag == proto.InboundTypeMessage {
		if err := h.checkFlood(p); err != nil {
			return err
		}
	}
	return h.relay(p.game.ID, p, n)
}

func (h *Hub) replyError(s *session, err error) {
	logger := h.log.With().Str("client_id", s.client.ID).Str("ip", s.client.IP).Logger()
	if s.player != nil {
		logger = logger.With().Str("user", s.player.Name).Logger()
	}

	var ne nodeError
	switch {
	case errors.As(err, &ne):
		var ce *CoreError
		if errors.As(err, &ce) && ce.Kind == KindProtocol {
			h.metrics.Record(metrics.EventProtocolError)
		}
		logger.Debug().Err(err).Msg("request rejected")
		h.deliver(s.client, ne.Node())
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrNotMember):
		h.metrics.Record(metrics.EventProtocolError)
		logger.Warn().Err(err).Msg("relay aborted")
		h.deliver(s.client, proto.Error(ErrCodeProtocol, err.Error()))
	default:
		logger.Error().Err(err).Msg("request failed")
		h.deliver(s.client, proto.Error(ErrCodeInternal, "Internal server error."))
	}
}

func (h *Hub) newLimiter() *rate.Limiter {
	s := h.settings
	if s.MaxMessages <= 0 || s.MessagesTimePeriod <= 0 {
		return nil
	}
	every := s.MessagesTimePeriod / time.Duration(s.MaxMessages)
	return rate.NewLimiter(rate.Every(every), s.MaxMessages)
}

func (h *Hub) checkFlood(p *Player) error {
	if p.limiter == nil || p.limiter.AllowN(h.now(), 1) {
		return nil
	}
	return coreError(KindRejected, ErrCodeFlood, "You are sending too many messages. Slow down.")
}
