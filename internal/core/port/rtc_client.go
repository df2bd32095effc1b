package port

import (
	"context"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

// RTCClient is the real-time communication client that owns the transport.
// Subscribe and Unsubscribe may fail or never return; callers bound them.
// Each On* registration returns a function that detaches it.
type RTCClient interface {
	RemoteParticipants() []domain.RemoteParticipant
	Subscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) (domain.SubscribeResult, error)
	Unsubscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) error

	OnParticipantJoined(fn func(p domain.RemoteParticipant)) (unbind func())
	OnMediaPublished(fn func(p domain.RemoteParticipant, kind domain.MediaKind)) (unbind func())
	OnMediaUnpublished(fn func(p domain.RemoteParticipant, kind domain.MediaKind)) (unbind func())
	OnParticipantLeft(fn func(p domain.RemoteParticipant)) (unbind func())
}
