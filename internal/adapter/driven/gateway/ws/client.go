package ws

import "github.com/Wyydra/ya-subscriber/internal/core/domain"

// Client is one watcher of subscription state changes.
type Client interface {
	ID() string
	SendStateChange(change domain.StateChange) error
	Close() error
}
