package domain

import "time"

// HistoryEntry records the outcome of one subscribe attempt.
type HistoryEntry struct {
	ParticipantID ParticipantID `json:"participant_id"`
	Kind          MediaKind     `json:"media"`
	Success       bool          `json:"success"`
	Attempt       int           `json:"attempt"`
	Timestamp     time.Time     `json:"timestamp"`
	Error         string        `json:"error,omitempty"`
}

type Stats struct {
	TotalParticipants  int     `json:"total_participants"`
	AudioSubscribed    int     `json:"audio_subscribed"`
	VideoSubscribed    int     `json:"video_subscribed"`
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	SuccessRate        float64 `json:"success_rate"`
}

// SuccessRateOf returns the percentage of successful entries, 0 when empty.
func SuccessRateOf(entries []HistoryEntry) (total, ok int, rate float64) {
	total = len(entries)
	for _, e := range entries {
		if e.Success {
			ok++
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return total, ok, float64(ok) / float64(total) * 100
}
