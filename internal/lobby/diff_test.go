package lobby

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

func TestComputeEmitsOnlyChangedEntries(t *testing.T) {
	prev := NewSnapshot()
	prev.Games[1] = GameEntry{ID: 1, Name: "one", Owner: "alice", Members: 1}
	prev.Games[2] = GameEntry{ID: 2, Name: "two", Owner: "bob", Members: 1}
	prev.Users["alice"] = UserEntry{Name: "alice", GameID: 1}
	prev.Users["bob"] = UserEntry{Name: "bob", GameID: 2}
	prev.Users["carol"] = UserEntry{Name: "carol"}

	next := prev.Clone()
	delete(next.Games, 2)
	next.Games[1] = GameEntry{ID: 1, Name: "one", Owner: "alice", Members: 2}
	next.Games[3] = GameEntry{ID: 3, Name: "three", Owner: "dave", Members: 1}
	next.Users["bob"] = UserEntry{Name: "bob"}
	next.Users["carol"] = UserEntry{Name: "carol", GameID: 1}
	next.Users["dave"] = UserEntry{Name: "dave", GameID: 3}

	d := Compute(prev, next)

	require.Len(t, d.Games, 3)
	assert.Equal(t, GameChange{Op: OpDelete, Game: GameEntry{ID: 2}}, d.Games[0])
	assert.Equal(t, OpChange, d.Games[1].Op)
	assert.Equal(t, 2, d.Games[1].Game.Members)
	assert.Equal(t, OpInsert, d.Games[2].Op)
	assert.Equal(t, 3, d.Games[2].Game.ID)

	require.Len(t, d.Users, 3)
	assert.Equal(t, "bob", d.Users[0].User.Name)
	assert.Equal(t, OpChange, d.Users[0].Op)
	assert.Equal(t, "carol", d.Users[1].User.Name)
	assert.Equal(t, OpInsert, d.Users[2].Op)

	got, err := Apply(prev, d)
	require.NoError(t, err)
	assert.True(t, got.Equal(next))
}

func TestComputeIdenticalSnapshotsIsEmpty(t *testing.T) {
	s := NewSnapshot()
	s.Games[4] = GameEntry{ID: 4, Name: "g"}
	s.Users["x"] = UserEntry{Name: "x"}
	assert.True(t, Compute(s, s.Clone()).Empty())
}

func TestApplyRejectsMismatchAndLeavesSnapshot(t *testing.T) {
	s := NewSnapshot()
	s.Users["alice"] = UserEntry{Name: "alice"}

	bad := Diff{
		Users: []UserChange{
			{Op: OpDelete, User: UserEntry{Name: "alice"}},
			{Op: OpChange, User: UserEntry{Name: "ghost"}},
		},
	}
	got, err := Apply(s, bad)
	require.ErrorIs(t, err, ErrDiffMismatch)
	assert.Contains(t, got.Users, "alice")
	assert.Contains(t, s.Users, "alice")

	_, err = Apply(s, Diff{Users: []UserChange{{Op: OpInsert, User: UserEntry{Name: "alice"}}}})
	require.ErrorIs(t, err, ErrDiffMismatch)
}

// Two clients starting from the same snapshot and applying the encoded diff
// stream must end with identical views that match the server.
func TestDiffStreamConverges(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	server := NewSnapshot()
	clientA := server.Clone()
	clientB := server.Clone()

	nextGame := 1
	for step := 0; step < 500; step++ {
		next := server.Clone()
		switch rng.Intn(5) {
		case 0:
			next.Games[nextGame] = GameEntry{ID: nextGame, Name: "g" + strconv.Itoa(nextGame), Members: 1}
			nextGame++
		case 1:
			for id := range next.Games {
				delete(next.Games, id)
				break
			}
		case 2:
			for id, g := range next.Games {
				g.Members++
				g.Started = !g.Started
				next.Games[id] = g
				break
			}
		case 3:
			name := "u" + strconv.Itoa(rng.Intn(20))
			u := next.Users[name]
			u.Name = name
			u.GameID = rng.Intn(3)
			next.Users[name] = u
		case 4:
			delete(next.Users, "u"+strconv.Itoa(rng.Intn(20)))
		}

		wire := Compute(server, next).Node()
		data, err := proto.Encode(wire)
		require.NoError(t, err)

		for _, client := range []*Snapshot{&clientA, &clientB} {
			n, err := proto.Decode(data)
			require.NoError(t, err)
			d, err := DecodeDiff(n)
			require.NoError(t, err)
			*client, err = Apply(*client, d)
			require.NoError(t, err)
		}
		server = next
	}

	assert.True(t, clientA.Equal(clientB))
	assert.True(t, clientA.Equal(server))
}

func TestSnapshotNodeDecodes(t *testing.T) {
	s := NewSnapshot()
	s.Games[9] = GameEntry{ID: 9, Name: "duel", Owner: "alice", Scenario: "s", Era: "e", MaxPlayers: 2, Members: 1, PasswordProtected: true}
	s.Users["alice"] = UserEntry{Name: "alice", Registered: true, GameID: 9}
	s.Users["bob"] = UserEntry{Name: "bob", Admin: true}

	n := s.Node()
	assert.Equal(t, proto.OutboundTypeGameList, n.Tag)
	assert.Equal(t, "no", n.ChildrenByTag("user")[0].Attr("available"))

	got, err := DecodeSnapshot(n)
	require.NoError(t, err)
	assert.True(t, got.Equal(s))

	_, err = DecodeSnapshot(proto.NewNode("gamelist").AddChild(proto.NewNode("game")))
	assert.ErrorIs(t, err, ErrMalformedEntry)
	_, err = DecodeDiff(n)
	assert.ErrorIs(t, err, ErrUnexpectedTag)
}
