package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ParticipantID is the canonical textual form of a remote participant id.
// Different layers hand us the same participant as a string or a number,
// every internal key goes through NormalizeID first.
type ParticipantID string

func (id ParticipantID) String() string {
	return string(id)
}

// NormalizeID converts a raw participant id into its canonical form.
func NormalizeID(raw any) ParticipantID {
	switch v := raw.(type) {
	case nil:
		return ""
	case ParticipantID:
		return v
	case string:
		return ParticipantID(v)
	case int:
		return ParticipantID(strconv.Itoa(v))
	case int32:
		return ParticipantID(strconv.FormatInt(int64(v), 10))
	case int64:
		return ParticipantID(strconv.FormatInt(v, 10))
	case uint:
		return ParticipantID(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return ParticipantID(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return ParticipantID(strconv.FormatUint(v, 10))
	case float32:
		return ParticipantID(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case float64:
		return ParticipantID(strconv.FormatFloat(v, 'f', -1, 64))
	case fmt.Stringer:
		return ParticipantID(v.String())
	default:
		return ParticipantID(fmt.Sprint(v))
	}
}

// SameParticipant reports whether a and b identify the same participant.
func SameParticipant(a, b any) bool {
	return NormalizeID(a) == NormalizeID(b)
}

// FindParticipant returns the entry of known whose id matches id.
func FindParticipant(known []RemoteParticipant, id any) (RemoteParticipant, bool) {
	want := NormalizeID(id)
	for _, p := range known {
		if p.ID() == want {
			return p, true
		}
	}
	return RemoteParticipant{}, false
}

type WatcherID uuid.UUID

func NewWatcherID() WatcherID {
	return WatcherID(uuid.New())
}

func (id WatcherID) String() string {
	return uuid.UUID(id).String()
}
