package domain

import (
	"fmt"
	"time"
)

type SubscriptionState uint8

const (
	StateNotSubscribed SubscriptionState = iota
	StateSubscribing
	StateSubscribed
	StateSubscriptionFailed
	StateUnsubscribing
)

func (s SubscriptionState) String() string {
	switch s {
	case StateNotSubscribed:
		return "not_subscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateSubscriptionFailed:
		return "subscription_failed"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s SubscriptionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SubscriptionState) UnmarshalText(b []byte) error {
	for c := StateNotSubscribed; c <= StateUnsubscribing; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown subscription state %q", b)
}

// Record is the engine's view of one remote participant. The subscribed
// booleans are derived from the per-kind state and never stored.
type Record struct {
	Participant RemoteParticipant
	HasAudio    bool
	HasVideo    bool
	AudioState  SubscriptionState
	VideoState  SubscriptionState
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

func (r Record) State(kind MediaKind) SubscriptionState {
	if kind == MediaVideo {
		return r.VideoState
	}
	return r.AudioState
}

func (r *Record) SetState(kind MediaKind, state SubscriptionState) {
	if kind == MediaVideo {
		r.VideoState = state
		return
	}
	r.AudioState = state
}

func (r Record) Subscribed(kind MediaKind) bool {
	return r.State(kind) == StateSubscribed
}

func (r Record) Has(kind MediaKind) bool {
	if kind == MediaVideo {
		return r.HasVideo
	}
	return r.HasAudio
}

func (r *Record) SetHas(kind MediaKind, v bool) {
	if kind == MediaVideo {
		r.HasVideo = v
		return
	}
	r.HasAudio = v
}

// ParticipantInfo is the read-only projection handed to consumers.
type ParticipantInfo struct {
	ID              ParticipantID     `json:"id"`
	HasAudio        bool              `json:"has_audio"`
	HasVideo        bool              `json:"has_video"`
	AudioState      SubscriptionState `json:"audio_state"`
	VideoState      SubscriptionState `json:"video_state"`
	AudioSubscribed bool              `json:"audio_subscribed"`
	VideoSubscribed bool              `json:"video_subscribed"`
	JoinedAt        time.Time         `json:"joined_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (r Record) Info(id ParticipantID) ParticipantInfo {
	return ParticipantInfo{
		ID:              id,
		HasAudio:        r.HasAudio,
		HasVideo:        r.HasVideo,
		AudioState:      r.AudioState,
		VideoState:      r.VideoState,
		AudioSubscribed: r.Subscribed(MediaAudio),
		VideoSubscribed: r.Subscribed(MediaVideo),
		JoinedAt:        r.JoinedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// StateChange is pushed to watchers whenever a media state transitions.
type StateChange struct {
	ParticipantID ParticipantID     `json:"participant_id"`
	Kind          MediaKind         `json:"media"`
	State         SubscriptionState `json:"state"`
	At            time.Time         `json:"at"`
}
