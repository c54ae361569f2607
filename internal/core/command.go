package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/auth"
	"github.com/vovakirdan/wirelobby-server/internal/ban"
	"github.com/vovakirdan/wirelobby-server/internal/metrics"
	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

type commandFunc func(h *Hub, issuer *Player, verb, args string) string

type command struct {
	admin bool
	usage string
	run   commandFunc
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {usage: "help", run: (*Hub).cmdHelp},
		"motd":      {usage: "motd [<message>]", run: (*Hub).cmdMotd},
		"adminmsg":  {usage: "adminmsg <message>", run: (*Hub).cmdAdminMsg},
		"status":    {usage: "status [<nickname|ip-glob>]", run: (*Hub).cmdStatus},
		"games":     {usage: "games", run: (*Hub).cmdGames},
		"admin":     {usage: "admin <password>", run: (*Hub).cmdAdmin},
		"metrics":   {admin: true, usage: "metrics", run: (*Hub).cmdMetrics},
		"stats":     {admin: true, usage: "stats", run: (*Hub).cmdStats},
		"msg":       {admin: true, usage: "msg <message>", run: (*Hub).cmdMsg},
		"lobbymsg":  {admin: true, usage: "lobbymsg <message>", run: (*Hub).cmdMsg},
		"kick":      {admin: true, usage: "kick <nickname|ip-glob>", run: (*Hub).cmdKick},
		"ban":       {admin: true, usage: "ban <nickname|ip-pattern> <duration|permanent> <reason>", run: (*Hub).cmdBan},
		"kban":      {admin: true, usage: "kban <nickname|ip-pattern> <duration|permanent> <reason>", run: (*Hub).cmdBan},
		"unban":     {admin: true, usage: "unban <ip-pattern>", run: (*Hub).cmdUnban},
		"bans":      {admin: true, usage: "bans", run: (*Hub).cmdBans},
		"searchlog": {admin: true, usage: "searchlog <glob>", run: (*Hub).cmdSearchLog},
		"endgame":   {admin: true, usage: "endgame <game-id>", run: (*Hub).cmdEndGame},
		"restart":   {admin: true, usage: "restart", run: (*Hub).cmdRestart},
		"shut_down": {admin: true, usage: "shut_down", run: (*Hub).cmdShutDown},
	}
}

func (h *Hub) query(p *Player, n *proto.Node) error {
	text := n.Attr("type")
	if strings.TrimSpace(text) == "" {
		return coreError(KindProtocol, ErrCodeBadRequest, "Empty query.")
	}
	h.deliver(p.client, proto.QueryResponse(h.processCommand(text, p)))
	return nil
}

// processCommand runs one command line for issuer and returns the text
// reply. Side effects are applied before it returns.
func (h *Hub) processCommand(text string, issuer *Player) string {
	h.metrics.Record(metrics.EventCommand)

	text = strings.TrimSpace(text)
	verb, args, _ := strings.Cut(text, " ")
	verb = strings.ToLower(verb)
	args = strings.TrimSpace(args)

	cmd, ok := commands[verb]
	if !ok {
		return "Command '" + verb + "' is not recognized.\n" + h.helpText(issuer)
	}
	// Viewing the MOTD and your own status are public; the rest of those
	// verbs require the capability.
	privileged := cmd.admin ||
		(verb == "motd" && args != "") ||
		(verb == "status" && args != "")
	if privileged && !issuer.Admin() {
		h.log.Warn().Str("user", issuer.Name).Str("command", verb).Msg("unauthorized command")
		return NotAllowedText
	}
	if verb != "admin" {
		h.log.Info().Str("user", issuer.Name).Str("command", verb).Str("args", args).Msg("command")
	}
	return cmd.run(h, issuer, verb, args)
}

func (h *Hub) helpText(issuer *Player) string {
	verbs := make([]string, 0, len(commands))
	for verb, cmd := range commands {
		if cmd.admin && !issuer.Admin() {
			continue
		}
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return "Available commands are: " + strings.Join(verbs, ", ") + "."
}

func (h *Hub) cmdHelp(issuer *Player, _, args string) string {
	if args != "" {
		if cmd, ok := commands[strings.ToLower(args)]; ok {
			return "Usage: " + cmd.usage
		}
	}
	return h.helpText(issuer)
}

func (h *Hub) cmdMotd(issuer *Player, _, args string) string {
	if args == "" {
		if h.motd == "" {
			return "No message of the day set."
		}
		return "Message of the day:\n" + h.motd
	}
	h.motd = args
	return "Message of the day set to: " + args
}

func (h *Hub) cmdAdminMsg(issuer *Player, _, args string) string {
	if args == "" {
		return "You must type a message."
	}
	out := proto.NewNode(proto.OutboundTypeMessage).
		Set("sender", "admin message").
		Set("message", issuer.Name+": "+args)
	n := 0
	for _, p := range h.reg.players {
		if p.Admin() {
			h.deliver(p.client, out)
			n++
		}
	}
	if n == 0 {
		return "Sorry, no admin is available right now."
	}
	return "Message sent to " + strconv.Itoa(n) + " admin(s)."
}

func (h *Hub) playerStatus(p *Player) string {
	line := fmt.Sprintf("STATUS: '%s' @%s state=%s", p.Name, p.IP, p.State())
	if g := p.game; g != nil {
		line += fmt.Sprintf(" game=%d", g.ID)
		if p.observer {
			line += " (observer)"
		}
	}
	if p.Registered {
		line += " registered"
	}
	if p.Admin() {
		line += " admin"
	}
	return line
}

// targets resolves a nickname or an IP pattern to live players.
func (h *Hub) targets(target string) []*Player {
	if p := h.reg.player(target); p != nil {
		return []*Player{p}
	}
	if !ban.IsPattern(target) {
		return nil
	}
	var out []*Player
	for _, p := range h.reg.players {
		if ban.Matches(target, p.IP) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *Hub) cmdStatus(issuer *Player, _, args string) string {
	if args == "" {
		return h.playerStatus(issuer)
	}
	found := h.targets(args)
	if len(found) == 0 {
		return "No match found. You may want to check with 'searchlog'."
	}
	lines := make([]string, 0, len(found))
	for _, p := range found {
		lines = append(lines, h.playerStatus(p))
	}
	return strings.Join(lines, "\n")
}

func (h *Hub) cmdGames(*Player, string, string) string {
	if len(h.games) == 0 {
		return "No games."
	}
	ids := make([]int, 0, len(h.games))
	for id := range h.games {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		g := h.games[id]
		line := fmt.Sprintf("%d: %q owner=%s players=%d", g.ID, g.Name, g.Owner(), g.players())
		if g.MaxPlayers > 0 {
			line += "/" + strconv.Itoa(g.MaxPlayers)
		}
		if obs := len(g.members) - g.players(); obs > 0 {
			line += fmt.Sprintf(" observers=%d", obs)
		}
		if g.Started {
			line += " started"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *Hub) cmdAdmin(issuer *Player, _, args string) string {
	if issuer.Admin() {
		return "You are already recognized as an administrator."
	}
	if h.settings.AdminPassword == "" || args != h.settings.AdminPassword {
		h.log.Warn().Str("user", issuer.Name).Str("ip", issuer.IP).Msg("failed admin authentication")
		return "Error: wrong password."
	}
	issuer.setRole(auth.RoleAdmin)
	h.log.Info().Str("user", issuer.Name).Msg("admin capability granted")
	return "You are now recognized as an administrator."
}

func (h *Hub) cmdMetrics(*Player, string, string) string {
	return h.metrics.String()
}

func (h *Hub) cmdStats(*Player, string, string) string {
	st := h.stats()
	return fmt.Sprintf("Number of games = %d\nTotal number of users = %d\nGhosts = %d\nConnections = %d",
		st.Games, st.Players, st.Ghosts, st.Connections)
}

func (h *Hub) cmdMsg(_ *Player, verb, args string) string {
	if args == "" {
		return "You must type a message."
	}
	n := h.broadcastServer(args, verb == "lobbymsg")
	return "Message sent to " + strconv.Itoa(n) + " player(s)."
}

func (h *Hub) kickPlayers(players []*Player, msg string) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, fmt.Sprintf("'%s' (%s)", p.Name, p.IP))
		h.log.Info().Str("user", p.Name).Str("ip", p.IP).Msg("kicking player")
		h.kick(p.client, msg)
	}
	return names
}

func (h *Hub) cmdKick(_ *Player, _, args string) string {
	if args == "" {
		return "You must enter a nickname or an IP pattern to kick."
	}
	found := h.targets(args)
	if len(found) == 0 {
		return "No user matched '" + args + "'."
	}
	return "Kicked " + strings.Join(h.kickPlayers(found, "You have been kicked."), ", ") + "."
}

// ParseBanDuration accepts Go durations plus a day suffix, e.g. "2d" or
// "1d12h". "permanent" and "0" mean no expiry.
func ParseBanDuration(s string) (time.Duration, error) {
	s = strings.ToLower(s)
	if s == "permanent" || s == "0" {
		return 0, nil
	}
	var days time.Duration
	if before, after, ok := strings.Cut(s, "d"); ok {
		n, err := strconv.Atoi(before)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		days = time.Duration(n) * 24 * time.Hour
		s = after
	}
	var rest time.Duration
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		rest = d
	}
	total := days + rest
	if total <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}

func (h *Hub) cmdBan(issuer *Player, verb, args string) string {
	if h.bans == nil {
		return "Bans are not available on this server."
	}
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "Usage: " + commands[verb].usage
	}
	target, rawDuration := fields[0], fields[1]
	reason := strings.Join(fields[2:], " ")

	duration, err := ParseBanDuration(rawDuration)
	if err != nil {
		return "Error: " + err.Error() + ". Use for example 30m, 12h, 2d or permanent."
	}

	pattern := target
	var victims []*Player
	if p := h.reg.player(target); p != nil {
		pattern = p.IP
		victims = []*Player{p}
	} else if !ban.IsPattern(target) || ban.ValidatePattern(target) != nil {
		return "Error: '" + target + "' is neither an online nickname nor a valid IP pattern."
	} else {
		victims = h.targets(target)
	}

	ctx, cancel := h.credentialContext()
	defer cancel()
	b, err := h.bans.Add(ctx, pattern, reason, issuer.Name, duration)
	if err != nil {
		h.log.Error().Err(err).Str("pattern", pattern).Msg("ban failed")
		return "Error: could not set the ban: " + err.Error()
	}

	reply := "Set ban on '" + b.Pattern + "' with reason: '" + reason + "'"
	if b.ExpiresAt != nil {
		reply += " until " + b.ExpiresAt.UTC().Format(time.RFC3339)
	} else {
		reply += " (permanent)"
	}
	reply += "."
	if verb == "kban" && len(victims) > 0 {
		reply += "\nKicked " + strings.Join(h.kickPlayers(victims, "You have been banned. Reason: "+reason), ", ") + "."
	}
	return reply
}

func (h *Hub) cmdUnban(_ *Player, _, args string) string {
	if h.bans == nil {
		return "Bans are not available on this server."
	}
	if args == "" {
		return "You must enter an IP pattern to unban."
	}
	ctx, cancel := h.credentialContext()
	defer cancel()
	if err := h.bans.Remove(ctx, args); err != nil {
		if errors.Is(err, ban.ErrNotBanned) {
			return "There is no ban on '" + args + "'."
		}
		return "Error: could not remove the ban: " + err.Error()
	}
	return "Removed ban on '" + args + "'."
}

func (h *Hub) cmdBans(*Player, string, string) string {
	if h.bans == nil {
		return "Bans are not available on this server."
	}
	list := h.bans.List()
	if len(list) == 0 {
		return "No bans set."
	}
	lines := make([]string, 0, len(list))
	for _, b := range list {
		line := fmt.Sprintf("'%s' by %s: %s", b.Pattern, b.Issuer, b.Reason)
		if b.ExpiresAt != nil {
			line += " (until " + b.ExpiresAt.UTC().Format(time.RFC3339) + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *Hub) cmdSearchLog(_ *Player, _, args string) string {
	if args == "" {
		return "You must enter a mask to search for."
	}
	entries := h.admission.Log().Search(args)
	if len(entries) == 0 {
		return "No results found for '" + args + "'."
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", e.At.UTC().Format(time.RFC3339), e.IP, name))
	}
	return strings.Join(lines, "\n")
}

func (h *Hub) cmdEndGame(_ *Player, _, args string) string {
	id, err := strconv.Atoi(args)
	if err != nil {
		return "Usage: " + commands["endgame"].usage
	}
	g, ok := h.games[id]
	if !ok {
		return "Game " + args + " does not exist."
	}
	h.deleteGame(g, "The game was ended by an administrator.")
	return "Ended game " + args + "."
}

func (h *Hub) cmdRestart(issuer *Player, _, _ string) string {
	if h.lifecycle == nil {
		return "Restart is not available on this server."
	}
	if h.graceful {
		return "A graceful restart is already in progress."
	}
	if err := h.lifecycle.Restart(); err != nil {
		h.log.Error().Err(err).Msg("restart failed")
		return "Error: could not start the new server: " + err.Error()
	}
	h.graceful = true
	h.log.Info().Str("user", issuer.Name).Int("games", len(h.games)).Msg("graceful restart started")
	h.broadcastServer("The server is restarting. No new games can be created; running games continue.", false)
	return "New server started. This server shuts down once the last game ends."
}

func (h *Hub) cmdShutDown(issuer *Player, _, _ string) string {
	if h.lifecycle == nil {
		return "Shutdown is not available on this server."
	}
	h.stop("shut_down by " + issuer.Name)
	return "Shut down initiated."
}
