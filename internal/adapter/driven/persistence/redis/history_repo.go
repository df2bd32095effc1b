package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultKey = "ya:subscriber:history"

	maxHistory = 100
	trimTo     = 50
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// HistoryRepository keeps attempt history in a Redis list, newest at the
// tail, with the same 100 -> 50 trim as the in-memory store.
type HistoryRepository struct {
	client goredis.UniversalClient
	key    string
}

func NewHistoryRepository(cfg Config) (*HistoryRepository, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:       addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})
	return NewHistoryRepositoryWithClient(client, cfg.Key), nil
}

func NewHistoryRepositoryWithClient(client goredis.UniversalClient, key string) *HistoryRepository {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &HistoryRepository{client: client, key: key}
}

func (r *HistoryRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *HistoryRepository) Append(ctx context.Context, entry domain.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	n, err := r.client.RPush(ctx, r.key, payload).Result()
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if n > maxHistory {
		if err := r.client.LTrim(ctx, r.key, -trimTo, -1).Err(); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}
	return nil
}

func (r *HistoryRepository) List(ctx context.Context) ([]domain.HistoryEntry, error) {
	raw, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *HistoryRepository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *HistoryRepository) Close() error {
	return r.client.Close()
}
