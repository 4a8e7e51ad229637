package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Chat      ChatConfig      `yaml:"chat"`
	Relay     RelayConfig     `yaml:"relay"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
	// SigningKeys are the HMAC secrets accepted for X-User-Signature.
	// Backend API keys double as signing keys when this list is empty.
	SigningKeys []string `yaml:"signing_keys"`
}

// ChatConfig tunes the messaging core.
type ChatConfig struct {
	// TypingWindow is the inactivity window before a typing state expires.
	TypingWindow Duration `yaml:"typing_window"`
	// HistoryPageSize caps messages returned per listSince call.
	HistoryPageSize int `yaml:"history_page_size"`
	// MaxContentLen bounds message content length in runes.
	MaxContentLen int `yaml:"max_content_len"`
	// SubscriberBuffer is the per-subscription fan-out event buffer.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// RelayConfig configures the optional NATS republisher. Empty URL disables
// the relay.
type RelayConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RetentionConfig controls the scheduled pruning of old messages. Disabled
// by default; when enabled, messages older than MaxAge are removed on the
// cron schedule.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Cron is a standard 5-field cron expression. Empty means daily at 02:00.
	Cron string `yaml:"cron"`
	// MaxAge is how long messages are kept. Zero disables pruning even when
	// Enabled is set.
	MaxAge Duration `yaml:"max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	if c == nil {
		return ""
	}
	if c.Server.Address == "" && c.Server.Port == 0 {
		return ""
	}
	return c.Server.Address + ":" + strconv.Itoa(c.Server.Port)
}

// Duration is a yaml-friendly wrapper over time.Duration accepting values
// like "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
