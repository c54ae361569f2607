package core

import (
	"errors"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func nickservReply(text string) *proto.Node {
	return proto.NewNode(proto.OutboundTypeNickserv).Set("message", text)
}

// nickserv handles registration requests against the credential backend.
// Status changes show up in the next lobby diff.
func (h *Hub) nickserv(p *Player, n *proto.Node) error {
	if len(n.Children) != 1 {
		return protocolError("A nickserv request needs exactly one sub-request.")
	}
	req := n.Children[0]

	ctx, cancel := h.credentialContext()
	defer cancel()

	switch req.Tag {
	case proto.NickservRegister:
		if p.Registered {
			return coreError(KindRejected, ErrCodeBadRequest, "You are already registered.")
		}
		_, err := h.creds.Register(ctx, p.Name, req.Attr("password"), req.Attr("mail"))
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return coreError(KindRejected, ErrCodeNameTaken, "The nickname '"+p.Name+"' is already registered.")
		case errors.Is(err, auth.ErrInvalidPassword):
			return coreError(KindRejected, ErrCodeBadRequest, "Passwords must be 6 to 72 characters long.")
		case err != nil:
			return h.credentialFailure(p, err)
		}
		p.Registered = true
		h.log.Info().Str("user", p.Name).Msg("nickname registered")
		h.deliver(p.client, nickservReply("Your nickname has been registered."))
		return nil

	case proto.NickservDrop:
		if !p.Registered {
			return coreError(KindRejected, ErrCodeBadRequest, "You are not registered.")
		}
		if err := h.creds.Drop(ctx, p.Name); err != nil && !errors.Is(err, auth.ErrNotRegistered) {
			return h.credentialFailure(p, err)
		}
		p.Registered = false
		h.log.Info().Str("user", p.Name).Msg("nickname dropped")
		h.deliver(p.client, nickservReply("Your nickname has been dropped."))
		return nil

	case proto.NickservIdentify:
		result, nick, err := h.creds.Authenticate(ctx, p.Name, req.Attr("password"))
		if err != nil {
			return h.credentialFailure(p, err)
		}
		switch result {
		case auth.ResultUnregistered:
			return coreError(KindRejected, ErrCodeBadRequest, "The nickname '"+p.Name+"' is not registered.")
		case auth.ResultFail:
			return coreError(KindAuth, ErrCodeWrongPassword, "Wrong password.")
		}
		p.Registered = true
		if nick != nil && nick.IsAdmin {
			p.setRole(auth.RoleAdmin)
		}
		h.deliver(p.client, nickservReply("You are now identified."))
		return nil

	default:
		return protocolError("Unknown nickserv request '" + req.Tag + "'.")
	}
}

func (h *Hub) credentialFailure(p *Player, err error) error {
	h.log.Error().Err(err).Str("user", p.Name).Msg("credential backend failed")
	return coreError(KindInternal, ErrCodeCredential, "The nickname service is unavailable. Try again later.")
}
