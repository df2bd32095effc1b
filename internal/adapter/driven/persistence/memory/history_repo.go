package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

const (
	// MaxHistory is the length that triggers a trim.
	MaxHistory = 100
	// TrimTo is how many of the newest entries survive a trim.
	TrimTo = 50
)

type HistoryRepository struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		entries: make([]domain.HistoryEntry, 0, MaxHistory+1),
	}
}

// Append stores entry. Past MaxHistory only the newest TrimTo entries are kept.
func (r *HistoryRepository) Append(ctx context.Context, entry domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	if len(r.entries) > MaxHistory {
		kept := make([]domain.HistoryEntry, TrimTo, MaxHistory+1)
		copy(kept, r.entries[len(r.entries)-TrimTo:])
		r.entries = kept
	}
	return nil
}

func (r *HistoryRepository) List(ctx context.Context) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *HistoryRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
	return nil
}
