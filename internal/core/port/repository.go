package port

import (
	"context"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

type HistoryRepository interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	// List returns retained entries, oldest first.
	List(ctx context.Context) ([]domain.HistoryEntry, error)
	Clear(ctx context.Context) error
}
