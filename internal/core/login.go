package core

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// MaxNameLength bounds player names.
const MaxNameLength = 20

func globMatch(pattern, s string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(s))
	return err == nil && ok
}

// matchVersion finds the entry of targets whose pattern matches version,
// trying patterns in sorted order so the outcome does not depend on map order.
func matchVersion(targets map[string]VersionTarget, version string) (VersionTarget, bool) {
	patterns := make([]string, 0, len(targets))
	for p := range targets {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		if globMatch(p, version) {
			return targets[p], true
		}
	}
	return VersionTarget{}, false
}

func (h *Hub) handleVersion(s *session, n *proto.Node) error {
	version := n.Attr("version")
	if version == "" {
		return protocolError("Missing client version.")
	}
	for _, p := range h.settings.AcceptedVersions {
		if globMatch(p, version) {
			s.version = version
			s.versionOK = true
			h.deliver(s.client, proto.NewNode(proto.OutboundTypeMustLogin))
			return nil
		}
	}
	if t, ok := matchVersion(h.settings.RedirectedVersions, version); ok {
		h.deliver(s.client, proto.NewNode(proto.OutboundTypeRedirect).
			Set("host", t.Host).
			SetInt("port", t.Port).
			Set("version", version))
		return nil
	}
	if t, ok := matchVersion(h.settings.ProxiedVersions, version); ok {
		h.deliver(s.client, proto.NewNode(proto.OutboundTypeProxy).
			Set("host", t.Host).
			SetInt("port", t.Port).
			Set("version", version))
		return nil
	}
	return coreError(KindProtocol, ErrCodeUnsupportedVersion, "The server does not support version "+version+".")
}

// validName accepts 1 to MaxNameLength letters, digits, '_' and '-'.
func validName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func (h *Hub) reservedName(name string) bool {
	for _, p := range h.settings.DisallowedNames {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

func (h *Hub) credentialContext() (context.Context, context.CancelFunc) {
	timeout := h.settings.CredentialTimeout
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (h *Hub) handleLogin(s *session, n *proto.Node) error {
	if !s.versionOK {
		return protocolError("Send your version before logging in.")
	}

	name := n.Attr("username")
	if !validName(name) {
		return coreError(KindAuth, ErrCodeInvalidUsername,
			"Usernames must be 1 to 20 characters of letters, digits, '_' or '-'.")
	}
	if h.reservedName(name) {
		return coreError(KindAuth, ErrCodeNameReserved, "The nickname '"+name+"' is reserved and cannot be used by players.")
	}
	if h.reg.player(name) != nil {
		return coreError(KindAuth, ErrCodeNameTaken, "The nickname '"+name+"' is already taken.")
	}
	// A resumed ghost keeps the spelling it was listed under.
	if ghost := h.ghosts.get(name); ghost != nil {
		name = ghost.Name
	}

	password := n.Attr("password")
	ctx, cancel := h.credentialContext()
	result, nick, err := h.creds.Authenticate(ctx, name, password)
	cancel()
	if err != nil {
		h.log.Error().Err(err).Str("user", name).Msg("credential backend failed")
		return coreError(KindInternal, ErrCodeCredential, "The nickname service is unavailable. Try again later.")
	}

	registered := false
	role := auth.RoleUser
	switch result {
	case auth.ResultFail:
		force := nick != nil && nick.IsAdmin
		if password == "" {
			return passwordError(ErrCodePasswordRequired, "The nickname '"+name+"' is registered on this server.", name, false, force)
		}
		return passwordError(ErrCodeWrongPassword, "The password you provided for '"+name+"' was incorrect.", name, true, force)
	case auth.ResultUnregistered:
		if h.settings.DenyUnregisteredLogin {
			return coreError(KindAuth, ErrCodeRegistrationRequired, "Only registered users may log in to this server.")
		}
	case auth.ResultOK:
		registered = true
		if nick != nil && nick.IsAdmin {
			role = auth.RoleAdmin
		}
	}
	if pw := n.Attr("admin_password"); pw != "" && h.settings.AdminPassword != "" && pw == h.settings.AdminPassword {
		role = auth.RoleAdmin
	}

	token, err := h.creds.IssueCapability(s.client.ID, name, role)
	if err != nil {
		h.log.Error().Err(err).Str("user", name).Msg("issue capability")
		return coreError(KindInternal, ErrCodeCredential, "Could not complete the login. Try again later.")
	}

	p := h.ghosts.take(name)
	resumed := p != nil
	if !resumed {
		p = &Player{Name: name}
	}
	p.IP = s.client.IP
	p.Registered = registered
	p.Claims = &auth.Claims{ConnID: s.client.ID, Username: name, Role: role}
	p.LoggedInAt = h.now()
	p.limiter = h.newLimiter()
	h.reg.bind(s, p)
	h.admission.Log().Attach(s.client.IP, name)
	h.metrics.Record(metrics.EventLogin)

	h.log.Info().
		Str("client_id", s.client.ID).
		Str("ip", s.client.IP).
		Str("user", name).
		Bool("registered", registered).
		Bool("admin", p.Admin()).
		Bool("resumed", resumed).
		Msg("player logged in")

	h.deliver(s.client, proto.NewNode(proto.OutboundTypeJoinLobby).
		Set("name", name).
		SetBool("registered", registered).
		SetBool("admin", p.Admin()).
		Set("token", token))

	if g := p.game; g != nil {
		h.deliver(s.client, joinGameNode(g, p.observer))
		h.broadcastGame(g, p, proto.NewNode(proto.OutboundTypeMemberRejoined).Set("name", name))
		return nil
	}

	var after []*proto.Node
	if h.motd != "" {
		after = append(after, proto.ServerMessage(h.motd))
	}
	h.enterLobby(s.client, after...)
	return nil
}
