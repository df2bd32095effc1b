package service

import (
	"errors"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/rs/zerolog"
)

// Bots announce their audio before the client's own readiness flag flips,
// so their audio is polled until ready instead of retried once.

// scheduleAutomatedRetry replaces any polling loop of id with a new one.
func (s *SubscriptionService) scheduleAutomatedRetry(id domain.ParticipantID) {
	t := newPollTimer()
	if !s.registry.replaceTimer(id, t) {
		s.log.Debug().Str("participant_id", id.String()).Msg("Participant no longer tracked, not polling")
		return
	}
	if !s.spawn(func() { s.pollAutomated(id, t) }) {
		s.registry.releaseTimer(id, t)
		return
	}
	s.log.Debug().Str("participant_id", id.String()).Dur("interval", s.cfg.AutomatedRetryInterval).Msg("Polling automated participant audio")
}

func (s *SubscriptionService) pollAutomated(id domain.ParticipantID, t *pollTimer) {
	defer s.registry.releaseTimer(id, t)

	l := s.log.With().Str("participant_id", id.String()).Str("media", domain.MediaAudio.String()).Logger()
	ticker := time.NewTicker(s.cfg.AutomatedRetryInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-t.done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if s.pollOnce(id, attempt, l) {
			return
		}
		if attempt >= s.cfg.AutomatedMaxAttempts {
			l.Warn().Int("attempts", attempt).Msg("Gave up polling automated participant")
			return
		}
	}
}

// pollOnce re-reads the client and reports whether polling is finished.
func (s *SubscriptionService) pollOnce(id domain.ParticipantID, attempt int, l zerolog.Logger) bool {
	live, found := domain.FindParticipant(s.client.RemoteParticipants(), id)
	if !found {
		l.Info().Msg("Automated participant gone, stop polling")
		return true
	}
	if rec, ok := s.registry.Get(id); ok && rec.Subscribed(domain.MediaAudio) {
		return true
	}
	if !live.HasAudio {
		l.Debug().Int("attempt", attempt).Msg("Automated participant audio not ready")
		return false
	}

	opts := subscribeOptions{maxAttempts: 1, retryDelay: s.cfg.RetryDelay}
	if err := s.subscribe(s.ctx, id, domain.MediaAudio, opts); err != nil {
		l.Warn().Err(err).Int("attempt", attempt).Msg("Automated participant subscribe failed, polling again")
		return false
	}
	return true
}

// subscribeAutomated tries the audio of a bot once and falls back to polling.
func (s *SubscriptionService) subscribeAutomated(id domain.ParticipantID) {
	opts := subscribeOptions{maxAttempts: 1, retryDelay: s.cfg.RetryDelay}
	if s.autoSubscribe.Load() {
		opts = s.defaultOptions()
	}
	if err := s.subscribe(s.ctx, id, domain.MediaAudio, opts); err != nil {
		if s.ctx.Err() != nil || errors.Is(err, ErrParticipantNotFound) {
			return
		}
		s.log.Warn().Err(err).Str("participant_id", id.String()).Msg("Automated participant subscribe failed, falling back to polling")
		s.scheduleAutomatedRetry(id)
	}
}
