package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays YA_SUBSCRIBER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("YA_SUBSCRIBER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("YA_SUBSCRIBER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("YA_SUBSCRIBER_MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Subscription.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("YA_SUBSCRIBER_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Subscription.RetryDelay = d
		}
	}
	if v := os.Getenv("YA_SUBSCRIBER_SUBSCRIPTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Subscription.SubscriptionTimeout = d
		}
	}
	if v := os.Getenv("YA_SUBSCRIBER_AUTO_SUBSCRIBE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Subscription.EnableAutoSubscribe = b
		}
	}
	if v := os.Getenv("YA_SUBSCRIBER_AUTOMATED_PREFIXES"); v != "" {
		cfg.Automated.Prefixes = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Automated.Prefixes = append(cfg.Automated.Prefixes, p)
			}
		}
	}
	if v := os.Getenv("YA_SUBSCRIBER_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("YA_SUBSCRIBER_REDIS_ADDR"); v != "" {
		cfg.History.Redis.Addr = v
	}
	if v := os.Getenv("YA_SUBSCRIBER_REDIS_PASSWORD"); v != "" {
		cfg.History.Redis.Password = v
	}
}
