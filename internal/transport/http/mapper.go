package http

import (
	"sort"
	"time"

	"github.com/vovakirdan/wirelobby-server/internal/lobby"
	"github.com/vovakirdan/wirelobby-server/internal/store"
)

// GameResponse represents a game in API responses.
type GameResponse struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Owner             string `json:"owner"`
	Scenario          string `json:"scenario,omitempty"`
	Era               string `json:"era,omitempty"`
	MaxPlayers        int    `json:"max_players"`
	Members           int    `json:"members"`
	Observers         int    `json:"observers"`
	Started           bool   `json:"started"`
	PasswordProtected bool   `json:"password_protected"`
}

// UserResponse represents an online user in API responses.
type UserResponse struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
	Admin      bool   `json:"admin"`
	GameID     int    `json:"game_id,omitempty"`
}

// LobbyResponse is the public lobby listing.
type LobbyResponse struct {
	Games []GameResponse `json:"games"`
	Users []UserResponse `json:"users"`
}

// BanResponse represents a ban in API responses.
type BanResponse struct {
	Pattern   string `json:"pattern"`
	Reason    string `json:"reason"`
	Issuer    string `json:"issuer"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func lobbyResponse(snap lobby.Snapshot) LobbyResponse {
	resp := LobbyResponse{
		Games: make([]GameResponse, 0, len(snap.Games)),
		Users: make([]UserResponse, 0, len(snap.Users)),
	}
	for _, id := range snap.GameIDs() {
		g := snap.Games[id]
		resp.Games = append(resp.Games, GameResponse{
			ID:                g.ID,
			Name:              g.Name,
			Owner:             g.Owner,
			Scenario:          g.Scenario,
			Era:               g.Era,
			MaxPlayers:        g.MaxPlayers,
			Members:           g.Members,
			Observers:         g.Observers,
			Started:           g.Started,
			PasswordProtected: g.PasswordProtected,
		})
	}
	for _, name := range snap.UserNames() {
		u := snap.Users[name]
		resp.Users = append(resp.Users, UserResponse{
			Name:       u.Name,
			Registered: u.Registered,
			Admin:      u.Admin,
			GameID:     u.GameID,
		})
	}
	return resp
}

func banResponses(bans []store.Ban) []BanResponse {
	sort.Slice(bans, func(i, j int) bool { return bans[i].Pattern < bans[j].Pattern })
	out := make([]BanResponse, 0, len(bans))
	for _, b := range bans {
		out = append(out, banResponse(b))
	}
	return out
}

func banResponse(b store.Ban) BanResponse {
	resp := BanResponse{
		Pattern:   b.Pattern,
		Reason:    b.Reason,
		Issuer:    b.Issuer,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.ExpiresAt != nil {
		resp.ExpiresAt = b.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}
