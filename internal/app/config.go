package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/drawbot/core/config"
	coredatabase "github.com/m3rciful/drawbot/core/database"
	"github.com/m3rciful/drawbot/core/telegram/state"
	"github.com/m3rciful/drawbot/internal/admin"
	"github.com/m3rciful/drawbot/internal/handle"
	"github.com/m3rciful/drawbot/internal/notify"
	"github.com/m3rciful/drawbot/internal/registration"
	"github.com/m3rciful/drawbot/internal/welcome"
)

// Session store backends.
const (
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const (
	defaultRedisURL       = "redis://localhost:6379/5"
	defaultRedisTTL       = 72 * time.Hour
	defaultDocumentLength = 5
	defaultStepTimeout    = 15 * time.Second
	defaultCleanupDelay   = 5 * time.Second
	defaultSettingsPath   = "config/welcome.yaml"
	defaultAdminListen    = ":5000"
)

// StorageConfig selects the session store.
type StorageConfig struct {
	Backend string `yaml:"backend" envconfig:"STORAGE_BACKEND"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	URL       string        `yaml:"url" envconfig:"REDIS_URL"`
	KeyPrefix string        `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" envconfig:"REDIS_TTL"`
}

// ConversationConfig tunes the registration dialogue.
type ConversationConfig struct {
	DocumentLength int           `yaml:"document_length" envconfig:"DOCUMENT_LENGTH"`
	StepTimeout    time.Duration `yaml:"step_timeout" envconfig:"STEP_TIMEOUT"`
	CleanupDelay   time.Duration `yaml:"cleanup_delay" envconfig:"CLEANUP_DELAY"`
}

// Config is the full drawbot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Storage      StorageConfig       `yaml:"storage"`
	Redis        RedisConfig         `yaml:"redis"`
	Database     coredatabase.Config `yaml:"database"`
	Registration registration.Config `yaml:"registration"`
	Handle       handle.Config       `yaml:"handle"`
	SMS          notify.Config       `yaml:"sms"`
	Conversation ConversationConfig  `yaml:"conversation"`
	Welcome      welcome.Config      `yaml:"welcome"`
	Admin        admin.Config        `yaml:"admin"`
}

// CoreConfig implements cmd.ConfigCarrier.
func (c *Config) CoreConfig() *coreconfig.Config { return &c.Config }

// Load reads path, overlays the environment and normalizes the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = StorageRedis
	case StorageRedis, StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid storage.backend %q; allowed: redis, postgres, memory", c.Storage.Backend)
	}
	if c.Redis.URL == "" {
		c.Redis.URL = defaultRedisURL
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = state.DefaultRedisKeyPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = defaultRedisTTL
	}
	if c.Storage.Backend == StoragePostgres && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database.host and database.name are required for the postgres backend")
	}

	if strings.TrimSpace(c.Registration.URL) == "" {
		return fmt.Errorf("registration.url is required")
	}
	if strings.TrimSpace(c.SMS.APIID) == "" {
		return fmt.Errorf("sms.api_id is required")
	}
	if err := c.Handle.Normalize(); err != nil {
		return err
	}

	if c.Conversation.DocumentLength <= 0 {
		c.Conversation.DocumentLength = defaultDocumentLength
	}
	if c.Conversation.StepTimeout <= 0 {
		c.Conversation.StepTimeout = defaultStepTimeout
	}
	if c.Conversation.CleanupDelay <= 0 {
		c.Conversation.CleanupDelay = defaultCleanupDelay
	}
	if c.Welcome.SettingsPath == "" {
		c.Welcome.SettingsPath = defaultSettingsPath
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = defaultAdminListen
	}
	if c.Admin.Listen == "off" {
		c.Admin.Listen = ""
	}
	return nil
}
