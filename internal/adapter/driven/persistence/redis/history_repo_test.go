package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *HistoryRepository {
	t.Helper()
	addr := os.Getenv("YA_SUBSCRIBER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YA_SUBSCRIBER_TEST_REDIS_ADDR not set")
	}
	repo, err := NewHistoryRepository(Config{Addr: addr, Key: "ya:test:" + uuid.NewString()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, repo.Ping(ctx))

	t.Cleanup(func() {
		_ = repo.Clear(context.Background())
		_ = repo.Close()
	})
	return repo
}

func TestNewHistoryRepositoryRequiresAddr(t *testing.T) {
	_, err := NewHistoryRepository(Config{Addr: "  "})
	assert.Error(t, err)
}

func TestNewHistoryRepositoryDefaultKey(t *testing.T) {
	repo := NewHistoryRepositoryWithClient(nil, "")
	assert.Equal(t, DefaultKey, repo.key)
}

func TestRedisHistoryAppendAndTrim(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 1; i <= maxHistory+1; i++ {
		require.NoError(t, repo.Append(ctx, domain.HistoryEntry{
			ParticipantID: "p1",
			Kind:          domain.MediaAudio,
			Attempt:       i,
			Timestamp:     time.Unix(int64(i), 0).UTC(),
			Error:         "ice failed",
		}))
	}

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, trimTo)
	assert.Equal(t, maxHistory+2-trimTo, entries[0].Attempt)
	assert.Equal(t, maxHistory+1, entries[trimTo-1].Attempt)
	assert.Equal(t, domain.MediaAudio, entries[0].Kind)
	assert.Equal(t, "ice failed", entries[0].Error)
}

func TestRedisHistoryClear(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, domain.HistoryEntry{ParticipantID: "p1", Kind: domain.MediaVideo, Success: true, Attempt: 1}))
	require.NoError(t, repo.Clear(ctx))

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
