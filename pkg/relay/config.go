// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values can come from a YAML
// file, with environment variables (TOPIC_RELAY_*) overriding the
// deployment-sensitive ones so secrets stay out of the file.
type Config struct {
	ListenAddr  string         `yaml:"listen_addr"`
	WebhookPath string         `yaml:"webhook_path"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Redis       RedisConfig    `yaml:"redis"`
	Relay       RelayConfig    `yaml:"relay"`
}

// TelegramConfig holds the bot credentials and the shared supergroup.
type TelegramConfig struct {
	Token string `yaml:"token"`
	// APIBase overrides the Telegram API endpoint, mainly for tests and
	// self-hosted Bot API servers. Empty means the public endpoint.
	APIBase string `yaml:"api_base"`
	// SupergroupID is the forum-enabled group all topics live in.
	// Telegram supergroup IDs are negative and carry the -100 prefix.
	SupergroupID int64 `yaml:"supergroup_id"`
}

// RedisConfig holds the KeyValueStore connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RelayConfig holds the relay policy knobs.
type RelayConfig struct {
	// RequireUsername rejects private messages from users without a
	// Telegram username, answering with a fixed notice.
	RequireUsername bool `yaml:"require_username"`
	// AlbumQuietMS is the quiet period after the last album part before
	// the batch is flushed. Default 2000.
	AlbumQuietMS int `yaml:"album_quiet_ms"`
	// AlbumTTLSeconds is the expiration backstop on album buffers.
	// Default 60.
	AlbumTTLSeconds int `yaml:"album_ttl_seconds"`
}

// AlbumQuiet returns the quiet period as a duration.
func (c RelayConfig) AlbumQuiet() time.Duration {
	if c.AlbumQuietMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.AlbumQuietMS) * time.Millisecond
}

// AlbumTTL returns the buffer expiration as a duration.
func (c RelayConfig) AlbumTTL() time.Duration {
	if c.AlbumTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.AlbumTTLSeconds) * time.Second
}

// LoadConfig reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:  ":8080",
		WebhookPath: "/telegram/webhook",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays TOPIC_RELAY_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOPIC_RELAY_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TOPIC_RELAY_API_BASE"); v != "" {
		c.Telegram.APIBase = v
	}
	if v := os.Getenv("TOPIC_RELAY_SUPERGROUP_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.SupergroupID = id
		}
	}
	if v := os.Getenv("TOPIC_RELAY_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("TOPIC_RELAY_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TOPIC_RELAY_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TOPIC_RELAY_WEBHOOK_PATH"); v != "" {
		c.WebhookPath = v
	}
}

// Validate checks the fields without which the service cannot run.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (or TOPIC_RELAY_TOKEN)")
	}
	if c.Telegram.SupergroupID == 0 {
		return fmt.Errorf("telegram.supergroup_id is required (or TOPIC_RELAY_SUPERGROUP_ID)")
	}
	if !strings.HasPrefix(strconv.FormatInt(c.Telegram.SupergroupID, 10), "-100") {
		return fmt.Errorf("telegram.supergroup_id must be a supergroup ID starting with -100, got %d", c.Telegram.SupergroupID)
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return fmt.Errorf("webhook_path must start with /, got %q", c.WebhookPath)
	}
	return nil
}
