// Package lobby holds the lobby-visible view of the server (games and online
// users) and the diff algebra used to keep every lobby client in sync.
package lobby

import (
	"sort"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// GameEntry is how a game appears in the lobby listing.
type GameEntry struct {
	ID                int
	Name              string
	Owner             string
	Scenario          string
	Era               string
	MaxPlayers        int
	Members           int
	Observers         int
	Started           bool
	PasswordProtected bool
}

// UserEntry is how an online player appears in the lobby listing.
type UserEntry struct {
	Name       string
	Registered bool
	Admin      bool
	// GameID is 0 while the user idles in the lobby.
	GameID int
}

// Available reports whether the user sits in the lobby.
func (u UserEntry) Available() bool {
	return u.GameID == 0
}

// Snapshot is the canonical lobby view.
type Snapshot struct {
	Games map[int]GameEntry
	Users map[string]UserEntry
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Games: make(map[int]GameEntry),
		Users: make(map[string]UserEntry),
	}
}

// Clone copies the snapshot maps.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Games: make(map[int]GameEntry, len(s.Games)),
		Users: make(map[string]UserEntry, len(s.Users)),
	}
	for id, g := range s.Games {
		out.Games[id] = g
	}
	for name, u := range s.Users {
		out.Users[name] = u
	}
	return out
}

// Equal reports whether two snapshots list the same entries.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Games) != len(other.Games) || len(s.Users) != len(other.Users) {
		return false
	}
	for id, g := range s.Games {
		if og, ok := other.Games[id]; !ok || og != g {
			return false
		}
	}
	for name, u := range s.Users {
		if ou, ok := other.Users[name]; !ok || ou != u {
			return false
		}
	}
	return true
}

// GameIDs returns game ids in ascending order.
func (s Snapshot) GameIDs() []int {
	ids := make([]int, 0, len(s.Games))
	for id := range s.Games {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// UserNames returns user names in ascending order.
func (s Snapshot) UserNames() []string {
	names := make([]string, 0, len(s.Users))
	for name := range s.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Node encodes the full snapshot as a gamelist message.
func (s Snapshot) Node() *proto.Node {
	root := proto.NewNode(proto.OutboundTypeGameList)
	for _, id := range s.GameIDs() {
		root.AddChild(s.Games[id].Node())
	}
	for _, name := range s.UserNames() {
		root.AddChild(s.Users[name].Node())
	}
	return root
}

// Node encodes a game entry.
func (g GameEntry) Node() *proto.Node {
	return proto.NewNode(tagGame).
		SetInt("id", g.ID).
		Set("name", g.Name).
		Set("owner", g.Owner).
		Set("scenario", g.Scenario).
		Set("era", g.Era).
		SetInt("max_players", g.MaxPlayers).
		SetInt("members", g.Members).
		SetInt("observers", g.Observers).
		SetBool("started", g.Started).
		SetBool("password", g.PasswordProtected)
}

// Node encodes a user entry.
func (u UserEntry) Node() *proto.Node {
	return proto.NewNode(tagUser).
		Set("name", u.Name).
		SetBool("registered", u.Registered).
		SetBool("admin", u.Admin).
		SetInt("game_id", u.GameID).
		SetBool("available", u.Available())
}

func gameFromNode(n *proto.Node) (GameEntry, bool) {
	id, ok := n.Int("id")
	if !ok {
		return GameEntry{}, false
	}
	maxPlayers, _ := n.Int("max_players")
	members, _ := n.Int("members")
	observers, _ := n.Int("observers")
	return GameEntry{
		ID:                id,
		Name:              n.Attr("name"),
		Owner:             n.Attr("owner"),
		Scenario:          n.Attr("scenario"),
		Era:               n.Attr("era"),
		MaxPlayers:        maxPlayers,
		Members:           members,
		Observers:         observers,
		Started:           n.Bool("started"),
		PasswordProtected: n.Bool("password"),
	}, true
}

func userFromNode(n *proto.Node) (UserEntry, bool) {
	name := n.Attr("name")
	if name == "" {
		return UserEntry{}, false
	}
	gameID, _ := n.Int("game_id")
	return UserEntry{
		Name:       name,
		Registered: n.Bool("registered"),
		Admin:      n.Bool("admin"),
		GameID:     gameID,
	}, true
}

// DecodeSnapshot parses a gamelist message.
func DecodeSnapshot(n *proto.Node) (Snapshot, error) {
	if n == nil || n.Tag != proto.OutboundTypeGameList {
		return Snapshot{}, ErrUnexpectedTag
	}
	s := NewSnapshot()
	for _, c := range n.Children {
		switch c.Tag {
		case tagGame:
			g, ok := gameFromNode(c)
			if !ok {
				return Snapshot{}, ErrMalformedEntry
			}
			s.Games[g.ID] = g
		case tagUser:
			u, ok := userFromNode(c)
			if !ok {
				return Snapshot{}, ErrMalformedEntry
			}
			s.Users[u.Name] = u
		default:
			return Snapshot{}, ErrMalformedEntry
		}
	}
	return s, nil
}
