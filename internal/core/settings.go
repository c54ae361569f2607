package core

import "time"

// VersionTarget is the host a redirected or proxied client version is sent to.
type VersionTarget struct {
	Host string
	Port int
}

// Settings is the hub's view of the configuration. A value is never mutated
// once handed to the hub; Reload swaps the whole value.
type Settings struct {
	AcceptedVersions   []string
	RedirectedVersions map[string]VersionTarget
	ProxiedVersions    map[string]VersionTarget

	DisallowedNames       []string
	AdminPassword         string
	MOTD                  string
	DenyUnregisteredLogin bool

	MaxMessages        int
	MessagesTimePeriod time.Duration

	ConcurrentConnections int
	MaxIPLogSize          int

	GhostGrace time.Duration
	MaxGhosts  int

	SaveReplays bool

	StatsInterval     time.Duration
	CredentialTimeout time.Duration
}

// DefaultSettings accepts every version and disables ghosting.
func DefaultSettings() Settings {
	return Settings{
		AcceptedVersions:   []string{"*"},
		RedirectedVersions: map[string]VersionTarget{},
		ProxiedVersions:    map[string]VersionTarget{},
		MaxIPLogSize:       100,
		CredentialTimeout:  2 * time.Second,
	}
}

func (s Settings) ghostsEnabled() bool {
	return s.GhostGrace > 0 && s.MaxGhosts > 0
}
