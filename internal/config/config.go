package config

import "time"

// VersionRoute sends clients whose version matches Pattern to another server.
type VersionRoute struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// Versions lists the client versions the server handles. Patterns are globs.
// Routes are lists rather than maps because viper splits keys on dots.
type Versions struct {
	Accepted   []string       `mapstructure:"accepted" yaml:"accepted"`
	Redirected []VersionRoute `mapstructure:"redirected" yaml:"redirected"`
	Proxied    []VersionRoute `mapstructure:"proxied" yaml:"proxied"`
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ClientBuffer      int           `mapstructure:"client_buffer" yaml:"client_buffer"`
	// APIRateLimit is the number of HTTP API requests allowed per minute
	// and address. 0 disables the limit.
	APIRateLimit int `mapstructure:"api_rate_limit" yaml:"api_rate_limit"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL            time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	CredentialTimeout time.Duration `mapstructure:"credential_timeout" yaml:"credential_timeout"`

	Versions              Versions      `mapstructure:"versions" yaml:"versions"`
	DisallowedNames       []string      `mapstructure:"disallowed_names" yaml:"disallowed_names"`
	AdminPassword         string        `mapstructure:"admin_password" yaml:"admin_password"`
	MOTD                  string        `mapstructure:"motd" yaml:"motd"`
	MaxMessages           int           `mapstructure:"max_messages" yaml:"max_messages"`
	MessagesTimePeriod    time.Duration `mapstructure:"messages_time_period" yaml:"messages_time_period"`
	ConcurrentConnections int           `mapstructure:"concurrent_connections" yaml:"concurrent_connections"`
	MaxIPLogSize          int           `mapstructure:"max_ip_log_size" yaml:"max_ip_log_size"`
	DenyUnregisteredLogin bool          `mapstructure:"deny_unregistered_login" yaml:"deny_unregistered_login"`
	GhostGrace            time.Duration `mapstructure:"ghost_grace" yaml:"ghost_grace"`
	MaxGhosts             int           `mapstructure:"max_ghosts" yaml:"max_ghosts"`

	SaveReplays    bool   `mapstructure:"save_replays" yaml:"save_replays"`
	ReplaySavePath string `mapstructure:"replay_save_path" yaml:"replay_save_path"`
	RestartCommand string `mapstructure:"restart_command" yaml:"restart_command"`

	StatsInterval      time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	UserCleanInterval  time.Duration `mapstructure:"user_clean_interval" yaml:"user_clean_interval"`
	UserInactiveExpiry time.Duration `mapstructure:"user_inactive_expiry" yaml:"user_inactive_expiry"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":15000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   1 << 20,
		PingInterval:      30 * time.Second,
		ClientBuffer:      256,
		APIRateLimit:      60,

		LogLevel:  "info",
		LogFormat: "console",

		DatabasePath:      "wirelobby.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "wirelobby",
		JWTAudience:       "wirelobby",
		JWTTTL:            24 * time.Hour,
		CredentialTimeout: 2 * time.Second,

		Versions: Versions{
			Accepted: []string{"*"},
		},
		DisallowedNames: []string{
			"*admin*", "*admln*", "*server*", "player", "network",
			"human", "computer", "ai", "ai?", "*moderator*",
		},
		MaxMessages:           4,
		MessagesTimePeriod:    10 * time.Second,
		ConcurrentConnections: 5,
		MaxIPLogSize:          500,
		GhostGrace:            60 * time.Second,
		MaxGhosts:             1000,

		ReplaySavePath: "replays",

		StatsInterval:      5 * time.Minute,
		UserCleanInterval:  time.Hour,
		UserInactiveExpiry: 0,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the values exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
