package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRELOBBY"
	envConfigDefaultPath = "WIRELOBBY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.MaxMessages < 0 || c.ConcurrentConnections < 0 || c.MaxIPLogSize < 0 || c.MaxGhosts < 0 || c.APIRateLimit < 0 {
		return errors.New("config: limits must not be negative")
	}
	if c.MaxMessages > 0 && c.MessagesTimePeriod <= 0 {
		return errors.New("config: messages_time_period must be positive when max_messages is set")
	}
	if c.SaveReplays && c.ReplaySavePath == "" {
		return errors.New("config: replay_save_path is required when save_replays is on")
	}
	if c.JWTSecret == "" {
		return errors.New("config: jwt_secret must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("client_buffer", cfg.ClientBuffer)
	v.SetDefault("api_rate_limit", cfg.APIRateLimit)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("jwt_ttl", cfg.JWTTTL)
	v.SetDefault("credential_timeout", cfg.CredentialTimeout)
	v.SetDefault("versions.accepted", cfg.Versions.Accepted)
	v.SetDefault("disallowed_names", cfg.DisallowedNames)
	v.SetDefault("admin_password", cfg.AdminPassword)
	v.SetDefault("motd", cfg.MOTD)
	v.SetDefault("max_messages", cfg.MaxMessages)
	v.SetDefault("messages_time_period", cfg.MessagesTimePeriod)
	v.SetDefault("concurrent_connections", cfg.ConcurrentConnections)
	v.SetDefault("max_ip_log_size", cfg.MaxIPLogSize)
	v.SetDefault("deny_unregistered_login", cfg.DenyUnregisteredLogin)
	v.SetDefault("ghost_grace", cfg.GhostGrace)
	v.SetDefault("max_ghosts", cfg.MaxGhosts)
	v.SetDefault("save_replays", cfg.SaveReplays)
	v.SetDefault("replay_save_path", cfg.ReplaySavePath)
	v.SetDefault("restart_command", cfg.RestartCommand)
	v.SetDefault("stats_interval", cfg.StatsInterval)
	v.SetDefault("user_clean_interval", cfg.UserCleanInterval)
	v.SetDefault("user_inactive_expiry", cfg.UserInactiveExpiry)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
