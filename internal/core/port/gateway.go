package port

import (
	"context"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

type StateGateway interface {
	BroadcastStateChange(ctx context.Context, change domain.StateChange) error
}
