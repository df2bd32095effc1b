package service

import (
	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

func (s *SubscriptionService) bind() {
	s.unbind = []func(){
		s.client.OnParticipantJoined(func(p domain.RemoteParticipant) {
			s.enqueue(domain.Event{Type: domain.EventParticipantJoined, Participant: p})
		}),
		s.client.OnMediaPublished(func(p domain.RemoteParticipant, kind domain.MediaKind) {
			s.enqueue(domain.Event{Type: domain.EventMediaPublished, Participant: p, Kind: kind})
		}),
		s.client.OnMediaUnpublished(func(p domain.RemoteParticipant, kind domain.MediaKind) {
			s.enqueue(domain.Event{Type: domain.EventMediaUnpublished, Participant: p, Kind: kind})
		}),
		s.client.OnParticipantLeft(func(p domain.RemoteParticipant) {
			s.enqueue(domain.Event{Type: domain.EventParticipantLeft, Participant: p})
		}),
	}
}

func (s *SubscriptionService) enqueue(ev domain.Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// run handles events one at a time in arrival order. Handlers never block
// on the client; subscribe attempts run on their own goroutines.
func (s *SubscriptionService) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *SubscriptionService) dispatch(ev domain.Event) {
	switch ev.Type {
	case domain.EventParticipantJoined:
		s.handleJoined(ev.Participant)
	case domain.EventMediaPublished:
		s.handlePublished(ev.Participant, ev.Kind)
	case domain.EventMediaUnpublished:
		s.handleUnpublished(ev.Participant, ev.Kind)
	case domain.EventParticipantLeft:
		s.handleLeft(ev.Participant)
	default:
		s.log.Warn().Str("event", string(ev.Type)).Msg("Unknown event")
	}
}

func (s *SubscriptionService) handleJoined(p domain.RemoteParticipant) {
	id := p.ID()
	s.registry.Upsert(id, func(r *domain.Record) {
		r.Participant = p
		r.HasAudio = p.HasAudio
		r.HasVideo = p.HasVideo
	})
	s.log.Info().Str("participant_id", id.String()).Bool("has_audio", p.HasAudio).Bool("has_video", p.HasVideo).Msg("Participant joined")

	// Video is never auto-subscribed: it would prompt for capture permissions
	// on the consuming side.
	switch {
	case s.autoSubscribe.Load() && (p.HasAudio || p.HasVideo):
		s.spawnSubscribe(id, domain.MediaAudio, s.defaultOptions())
	case s.cfg.IsAutomated(id) && p.HasAudio:
		s.spawnSubscribe(id, domain.MediaAudio, subscribeOptions{maxAttempts: 1, retryDelay: s.cfg.RetryDelay})
	}
}

func (s *SubscriptionService) handlePublished(p domain.RemoteParticipant, kind domain.MediaKind) {
	id := p.ID()
	rec, _ := s.registry.Upsert(id, func(r *domain.Record) {
		r.Participant = p
		r.HasAudio = p.HasAudio
		r.HasVideo = p.HasVideo
	})
	s.log.Info().Str("participant_id", id.String()).Str("media", kind.String()).Msg("Media published")

	if kind != domain.MediaAudio {
		return
	}
	if s.cfg.IsAutomated(id) {
		switch {
		case rec.Subscribed(domain.MediaAudio):
		case !p.HasAudio:
			s.scheduleAutomatedRetry(id)
		default:
			s.spawn(func() { s.subscribeAutomated(id) })
		}
		return
	}
	if s.autoSubscribe.Load() {
		s.spawnSubscribe(id, domain.MediaAudio, s.defaultOptions())
	}
}

// handleUnpublished clears availability and demotes the kind to
// not-subscribed so the derived boolean and the state never disagree.
func (s *SubscriptionService) handleUnpublished(p domain.RemoteParticipant, kind domain.MediaKind) {
	id := p.ID()
	rec, ok := s.registry.Update(id, func(r *domain.Record) {
		r.Participant = p
		r.SetHas(kind, false)
	})
	if !ok {
		return
	}
	s.log.Info().Str("participant_id", id.String()).Str("media", kind.String()).Msg("Media unpublished")
	if rec.State(kind) != domain.StateNotSubscribed {
		s.registry.SetMediaState(id, kind, domain.StateNotSubscribed)
	}
}

func (s *SubscriptionService) handleLeft(p domain.RemoteParticipant) {
	id := p.ID()
	s.registry.Remove(id)
	s.log.Info().Str("participant_id", id.String()).Msg("Participant left")
}

// reconcile registers participants the client knew before we attached.
func (s *SubscriptionService) reconcile() {
	added := 0
	for _, p := range s.client.RemoteParticipants() {
		id := p.ID()
		if s.registry.Has(id) {
			continue
		}
		s.registry.Upsert(id, func(r *domain.Record) {
			r.Participant = p
			r.HasAudio = p.HasAudio
			r.HasVideo = p.HasVideo
		})
		added++
	}
	if added > 0 {
		s.log.Info().Int("count", added).Msg("Registered existing participants")
	}
}

func (s *SubscriptionService) spawnSubscribe(id domain.ParticipantID, kind domain.MediaKind, o subscribeOptions) {
	s.spawn(func() {
		if err := s.subscribe(s.ctx, id, kind, o); err != nil {
			s.log.Debug().Err(err).Str("participant_id", id.String()).Str("media", kind.String()).Msg("Automatic subscribe did not complete")
		}
	})
}
