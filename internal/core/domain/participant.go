package domain

import (
	"errors"
	"fmt"
	"strings"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

var ErrUnknownMediaKind = errors.New("unknown media kind")

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaAudio:
		return MediaAudio, nil
	case MediaVideo:
		return MediaVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMediaKind, s)
	}
}

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

func (k MediaKind) String() string {
	return string(k)
}

// RemoteParticipant is a snapshot of a remote endpoint as reported by the
// real-time client. UID keeps whatever representation the client uses.
type RemoteParticipant struct {
	UID      any
	HasAudio bool
	HasVideo bool
}

func (p RemoteParticipant) ID() ParticipantID {
	return NormalizeID(p.UID)
}

// Has reports the client's media availability flag for kind.
func (p RemoteParticipant) Has(kind MediaKind) bool {
	switch kind {
	case MediaAudio:
		return p.HasAudio
	case MediaVideo:
		return p.HasVideo
	default:
		return false
	}
}

// SubscribeResult is whatever the client hands back for a successful
// subscription.
type SubscribeResult struct {
	TrackID string
	Kind    MediaKind
}

type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventMediaPublished    EventType = "media_published"
	EventMediaUnpublished  EventType = "media_unpublished"
	EventParticipantLeft   EventType = "participant_left"
)

// Event is one lifecycle notification received from the real-time client.
// Kind is empty for joined and left.
type Event struct {
	Type        EventType
	Participant RemoteParticipant
	Kind        MediaKind
}
