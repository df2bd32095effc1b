package service

import (
	"context"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

// SubscriptionStats counts tracked participants and subscriptions and
// summarizes the retained attempt history.
func (s *SubscriptionService) SubscriptionStats(ctx context.Context) domain.Stats {
	var stats domain.Stats
	for _, rec := range s.registry.Snapshot() {
		stats.TotalParticipants++
		if rec.Subscribed(domain.MediaAudio) {
			stats.AudioSubscribed++
		}
		if rec.Subscribed(domain.MediaVideo) {
			stats.VideoSubscribed++
		}
	}
	stats.TotalAttempts, stats.SuccessfulAttempts, stats.SuccessRate = domain.SuccessRateOf(s.History(ctx))
	return stats
}

// History returns the retained attempt history, oldest first.
func (s *SubscriptionService) History(ctx context.Context) []domain.HistoryEntry {
	entries, err := s.history.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read subscription history")
		return nil
	}
	return entries
}
