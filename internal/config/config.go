package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Automated    AutomatedConfig    `yaml:"automated"`
	History      HistoryConfig      `yaml:"history"`
	Loopback     LoopbackConfig     `yaml:"loopback"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SubscriptionConfig struct {
	MaxRetryAttempts       int           `yaml:"maxRetryAttempts"`
	RetryDelay             time.Duration `yaml:"retryDelay"`
	SubscriptionTimeout    time.Duration `yaml:"subscriptionTimeout"`
	EnableAutoSubscribe    bool          `yaml:"enableAutoSubscribe"`
	AutomatedRetryInterval time.Duration `yaml:"automatedRetryInterval"`
	AutomatedMaxAttempts   int           `yaml:"automatedMaxAttempts"`
}

// AutomatedConfig lists which participants are bots, by exact id or id prefix.
type AutomatedConfig struct {
	IDs      []string `yaml:"ids"`
	Prefixes []string `yaml:"prefixes"`
}

type HistoryConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// LoopbackConfig seeds the in-memory client used when no transport is attached.
type LoopbackConfig struct {
	Participants []LoopbackParticipant `yaml:"participants"`
}

type LoopbackParticipant struct {
	ID    string `yaml:"id"`
	Audio bool   `yaml:"audio"`
	Video bool   `yaml:"video"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Subscription: SubscriptionConfig{
			MaxRetryAttempts:       3,
			RetryDelay:             2 * time.Second,
			SubscriptionTimeout:    10 * time.Second,
			EnableAutoSubscribe:    true,
			AutomatedRetryInterval: time.Second,
			AutomatedMaxAttempts:   5,
		},
		History: HistoryConfig{Backend: HistoryMemory},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	s := c.Subscription
	if s.MaxRetryAttempts <= 0 {
		errs = append(errs, errors.New("subscription.maxRetryAttempts must be positive"))
	}
	if s.RetryDelay <= 0 || s.SubscriptionTimeout <= 0 || s.AutomatedRetryInterval <= 0 {
		errs = append(errs, errors.New("subscription durations must be positive"))
	}
	if s.AutomatedMaxAttempts <= 0 {
		errs = append(errs, errors.New("subscription.automatedMaxAttempts must be positive"))
	}
	switch c.History.Backend {
	case HistoryMemory:
	case HistoryRedis:
		if strings.TrimSpace(c.History.Redis.Addr) == "" {
			errs = append(errs, errors.New("history.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of memory, redis", c.History.Backend))
	}
	for i, p := range c.Loopback.Participants {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Errorf("loopback.participants[%d].id is required", i))
		}
	}
	return errors.Join(errs...)
}

// IsAutomated builds the bot predicate from the automated section.
func (a AutomatedConfig) IsAutomated() func(id domain.ParticipantID) bool {
	ids := make(map[domain.ParticipantID]bool, len(a.IDs))
	for _, id := range a.IDs {
		ids[domain.NormalizeID(strings.TrimSpace(id))] = true
	}
	prefixes := make([]string, 0, len(a.Prefixes))
	for _, p := range a.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return func(id domain.ParticipantID) bool {
		if ids[id] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(id.String(), p) {
				return true
			}
		}
		return false
	}
}

// RemoteParticipants converts the loopback seed into client snapshots.
func (l LoopbackConfig) RemoteParticipants() []domain.RemoteParticipant {
	out := make([]domain.RemoteParticipant, 0, len(l.Participants))
	for _, p := range l.Participants {
		out = append(out, domain.RemoteParticipant{UID: p.ID, HasAudio: p.Audio, HasVideo: p.Video})
	}
	return out
}
