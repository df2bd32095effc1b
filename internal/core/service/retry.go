package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/cenkalti/backoff/v5"
)

var errAlreadySubscribed = errors.New("already subscribed")

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// subscribeWithRetry runs the bounded attempt loop for one pair. Unknown
// participants and unavailable media fail immediately and leave no history.
func (s *SubscriptionService) subscribeWithRetry(ctx context.Context, id domain.ParticipantID, kind domain.MediaKind, o subscribeOptions) error {
	l := s.log.With().Str("participant_id", id.String()).Str("media", kind.String()).Logger()

	p, err := s.resolve(id)
	if err != nil {
		l.Warn().Msg("Cannot subscribe, participant unknown")
		return err
	}
	if !p.Has(kind) {
		l.Debug().Msg("Media not published, skipping subscribe")
		return fmt.Errorf("%w: %s %s", ErrMediaUnavailable, id, kind)
	}
	if rec, ok := s.registry.Get(id); ok && rec.Subscribed(kind) {
		l.Debug().Msg("Already subscribed")
		return nil
	}

	attempt := 0
	operation := func() (domain.SubscribeResult, error) {
		rec, ok := s.registry.Get(id)
		if !ok {
			return domain.SubscribeResult{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrParticipantNotFound, id))
		}
		if rec.Subscribed(kind) {
			return domain.SubscribeResult{}, backoff.Permanent(errAlreadySubscribed)
		}

		attempt++
		s.registry.SetMediaState(id, kind, domain.StateSubscribing)
		res, err := s.attemptSubscribe(ctx, rec.Participant, kind)
		if err != nil {
			s.recordAttempt(id, kind, attempt, err)
			l.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", o.maxAttempts).Msg("Subscribe attempt failed")
			if ctx.Err() != nil {
				return res, backoff.Permanent(err)
			}
			return res, err
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: o.retryDelay}),
		backoff.WithMaxTries(uint(o.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.Debug().Dur("wait", next).Int("attempt", attempt).Msg("Retrying subscribe")
		}),
	)

	switch {
	case err == nil:
		s.registry.SetMediaState(id, kind, domain.StateSubscribed)
		s.recordAttempt(id, kind, attempt, nil)
		l.Info().Int("attempt", attempt).Msg("Subscribed")
		s.notifySuccess(id, kind, res)
		return nil
	case errors.Is(err, errAlreadySubscribed):
		return nil
	case errors.Is(err, ErrParticipantNotFound):
		l.Warn().Msg("Participant left during subscribe")
		return err
	case s.ctx.Err() != nil:
		return ErrDestroyed
	}

	s.registry.SetMediaState(id, kind, domain.StateSubscriptionFailed)
	l.Error().Err(err).Int("attempts", attempt).Msg("Subscribe failed, retry budget exhausted")
	s.notifyFailed(id, kind, err)
	return fmt.Errorf("subscribe %s %s after %d attempts: %w", id, kind, attempt, err)
}

// attemptSubscribe is one client call bounded by the subscription timeout.
func (s *SubscriptionService) attemptSubscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) (domain.SubscribeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubscriptionTimeout)
	defer cancel()

	var res domain.SubscribeResult
	err := await(ctx, func(ctx context.Context) error {
		r, err := s.client.Subscribe(ctx, p, kind)
		res = r
		return err
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.SubscribeResult{}, fmt.Errorf("%w after %s", ErrSubscribeTimeout, s.cfg.SubscriptionTimeout)
	case err != nil:
		return domain.SubscribeResult{}, err
	}
	return res, nil
}

// resolve returns the live view of id, registering it when the client knows
// it but the registry does not yet.
func (s *SubscriptionService) resolve(id domain.ParticipantID) (domain.RemoteParticipant, error) {
	if live, found := domain.FindParticipant(s.client.RemoteParticipants(), id); found {
		s.registry.Upsert(id, func(r *domain.Record) {
			r.Participant = live
			r.HasAudio = live.HasAudio
			r.HasVideo = live.HasVideo
		})
		return live, nil
	}
	if rec, ok := s.registry.Get(id); ok {
		return domain.RemoteParticipant{UID: rec.Participant.UID, HasAudio: rec.HasAudio, HasVideo: rec.HasVideo}, nil
	}
	return domain.RemoteParticipant{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
}

func (s *SubscriptionService) recordAttempt(id domain.ParticipantID, kind domain.MediaKind, attempt int, cause error) {
	entry := domain.HistoryEntry{
		ParticipantID: id,
		Kind:          kind,
		Success:       cause == nil,
		Attempt:       attempt,
		Timestamp:     time.Now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("participant_id", id.String()).Msg("Failed to record subscribe attempt")
	}
}
