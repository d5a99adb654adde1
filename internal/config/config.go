package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Chat     ChatConfig     `envPrefix:"CHAT_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Events   EventsConfig   `envPrefix:"EVENTS_"`
	Notify   NotifyConfig   `envPrefix:"NOTIFY_"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Environment  string `env:"ENV" envDefault:"dev"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"league-chat"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"127.0.0.1"`
}

type DatabaseConfig struct {
	DSN string `env:"DSN,required"`
}

// SessionConfig is the signed-in user the gateway acts for.
type SessionConfig struct {
	UserID      string `env:"USER_ID"`
	DisplayName string `env:"DISPLAY_NAME"`
	Token       string `env:"TOKEN"`
}

type ChatConfig struct {
	PageSize          int           `env:"PAGE_SIZE" envDefault:"50"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	ReadDebounce      time.Duration `env:"READ_DEBOUNCE" envDefault:"1500ms"`
	RecomputeDelay    time.Duration `env:"RECOMPUTE_DELAY" envDefault:"250ms"`
	BatchMinLeagues   int           `env:"BATCH_MIN_LEAGUES" envDefault:"1"`
	SystemSenderID    string        `env:"SYSTEM_SENDER_ID"`
}

type CacheConfig struct {
	Engine   string `env:"ENGINE" envDefault:"memory"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
}

type EventsConfig struct {
	AMQPURL  string `env:"AMQP_URL"`
	Exchange string `env:"EXCHANGE" envDefault:"leaguechat.events"`
}

type NotifyConfig struct {
	URL     string        `env:"URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"3s"`
}

// Load reads LEAGUECHAT_* variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "LEAGUECHAT_"}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Engine {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache engine %q", c.Cache.Engine)
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.Chat.PageSize)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
