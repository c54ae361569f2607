package lobby

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

const (
	tagGame   = "game"
	tagUser   = "user"
	tagInsert = "insert_child"
	tagChange = "change_child"
	tagDelete = "delete_child"
)

var (
	// ErrUnexpectedTag is returned when decoding a node of the wrong kind.
	ErrUnexpectedTag = errors.New("unexpected tag")
	// ErrMalformedEntry is returned for a game or user entry missing its key.
	ErrMalformedEntry = errors.New("malformed lobby entry")
	// ErrDiffMismatch is returned when a diff does not fit the snapshot it is applied to.
	ErrDiffMismatch = errors.New("diff does not match snapshot")
)

// Op is the kind of change applied to one entry.
type Op int

const (
	OpInsert Op = iota
	OpChange
	OpDelete
)

func (o Op) tag() string {
	switch o {
	case OpInsert:
		return tagInsert
	case OpChange:
		return tagChange
	default:
		return tagDelete
	}
}

func opFromTag(tag string) (Op, bool) {
	switch tag {
	case tagInsert:
		return OpInsert, true
	case tagChange:
		return OpChange, true
	case tagDelete:
		return OpDelete, true
	default:
		return 0, false
	}
}

// GameChange is one game-level edit. Deletes only carry Game.ID.
type GameChange struct {
	Op   Op
	Game GameEntry
}

// UserChange is one user-level edit. Deletes only carry User.Name.
type UserChange struct {
	Op   Op
	User UserEntry
}

// Diff is the set of edits turning one snapshot into another.
type Diff struct {
	Games []GameChange
	Users []UserChange
}

// Empty reports whether the diff carries no edits.
func (d Diff) Empty() bool {
	return len(d.Games) == 0 && len(d.Users) == 0
}

// Compute compares two snapshots and returns only the entries that were
// inserted, changed or deleted. Output order is deterministic.
func Compute(prev, next Snapshot) Diff {
	var d Diff

	for _, id := range prev.GameIDs() {
		if _, ok := next.Games[id]; !ok {
			d.Games = append(d.Games, GameChange{Op: OpDelete, Game: GameEntry{ID: id}})
		}
	}
	for _, id := range next.GameIDs() {
		g := next.Games[id]
		old, ok := prev.Games[id]
		switch {
		case !ok:
			d.Games = append(d.Games, GameChange{Op: OpInsert, Game: g})
		case old != g:
			d.Games = append(d.Games, GameChange{Op: OpChange, Game: g})
		}
	}

	for _, name := range prev.UserNames() {
		if _, ok := next.Users[name]; !ok {
			d.Users = append(d.Users, UserChange{Op: OpDelete, User: UserEntry{Name: name}})
		}
	}
	for _, name := range next.UserNames() {
		u := next.Users[name]
		old, ok := prev.Users[name]
		switch {
		case !ok:
			d.Users = append(d.Users, UserChange{Op: OpInsert, User: u})
		case old != u:
			d.Users = append(d.Users, UserChange{Op: OpChange, User: u})
		}
	}

	return d
}

// Apply returns a copy of snap with the diff applied. It fails without
// modifying anything if an edit does not fit, which means the client has
// diverged and needs a full snapshot.
func Apply(snap Snapshot, d Diff) (Snapshot, error) {
	out := snap.Clone()
	for _, c := range d.Games {
		_, exists := out.Games[c.Game.ID]
		switch c.Op {
		case OpInsert:
			if exists {
				return snap, fmt.Errorf("insert game %d: %w", c.Game.ID, ErrDiffMismatch)
			}
			out.Games[c.Game.ID] = c.Game
		case OpChange:
			if !exists {
				return snap, fmt.Errorf("change game %d: %w", c.Game.ID, ErrDiffMismatch)
			}
			out.Games[c.Game.ID] = c.Game
		case OpDelete:
			if !exists {
				return snap, fmt.Errorf("delete game %d: %w", c.Game.ID, ErrDiffMismatch)
			}
			delete(out.Games, c.Game.ID)
		}
	}
	for _, c := range d.Users {
		_, exists := out.Users[c.User.Name]
		switch c.Op {
		case OpInsert:
			if exists {
				return snap, fmt.Errorf("insert user %q: %w", c.User.Name, ErrDiffMismatch)
			}
			out.Users[c.User.Name] = c.User
		case OpChange:
			if !exists {
				return snap, fmt.Errorf("change user %q: %w", c.User.Name, ErrDiffMismatch)
			}
			out.Users[c.User.Name] = c.User
		case OpDelete:
			if !exists {
				return snap, fmt.Errorf("delete user %q: %w", c.User.Name, ErrDiffMismatch)
			}
			delete(out.Users, c.User.Name)
		}
	}
	return out, nil
}

// Node encodes the diff as a gamelist_diff message.
func (d Diff) Node() *proto.Node {
	root := proto.NewNode(proto.OutboundTypeGameListDiff)
	for _, c := range d.Games {
		entry := c.Game.Node()
		if c.Op == OpDelete {
			entry = proto.NewNode(tagGame).SetInt("id", c.Game.ID)
		}
		root.AddChild(proto.NewNode(c.Op.tag()).AddChild(entry))
	}
	for _, c := range d.Users {
		entry := c.User.Node()
		if c.Op == OpDelete {
			entry = proto.NewNode(tagUser).Set("name", c.User.Name)
		}
		root.AddChild(proto.NewNode(c.Op.tag()).AddChild(entry))
	}
	return root
}

// DecodeDiff parses a gamelist_diff message.
func DecodeDiff(n *proto.Node) (Diff, error) {
	if n == nil || n.Tag != proto.OutboundTypeGameListDiff {
		return Diff{}, ErrUnexpectedTag
	}
	var d Diff
	for _, c := range n.Children {
		op, ok := opFromTag(c.Tag)
		if !ok || len(c.Children) != 1 {
			return Diff{}, ErrMalformedEntry
		}
		entry := c.Children[0]
		switch entry.Tag {
		case tagGame:
			g, ok := gameFromNode(entry)
			if !ok {
				return Diff{}, ErrMalformedEntry
			}
			d.Games = append(d.Games, GameChange{Op: op, Game: g})
		case tagUser:
			u, ok := userFromNode(entry)
			if !ok {
				return Diff{}, ErrMalformedEntry
			}
			d.Users = append(d.Users, UserChange{Op: op, User: u})
		default:
			return Diff{}, ErrMalformedEntry
		}
	}
	return d, nil
}
