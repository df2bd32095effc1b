package service

import (
	"sync"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/rs/zerolog"
)

// Registry maps canonical participant ids to their subscription record and
// owns the polling timer of each participant. Every mutation is a single
// read-modify-write under the lock, so interleaved handlers never lose
// each other's updates.
type Registry struct {
	mu      sync.RWMutex
	records map[domain.ParticipantID]*domain.Record
	timers  map[domain.ParticipantID]*pollTimer

	now           func() time.Time
	onStateChange func(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState)
	log           zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[domain.ParticipantID]*domain.Record),
		timers:  make(map[domain.ParticipantID]*pollTimer),
		now:     time.Now,
		log:     logger,
	}
}

// OnStateChange sets the callback fired after every SetMediaState.
func (r *Registry) OnStateChange(fn func(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// Upsert applies mutate to the record of id, creating it first if needed.
// UpdatedAt is always refreshed and JoinedAt survives unless mutate sets it.
// It reports whether the record was created.
func (r *Registry) Upsert(id domain.ParticipantID, mutate func(rec *domain.Record)) (domain.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.records[id]
	if !ok {
		rec = &domain.Record{JoinedAt: now}
		r.records[id] = rec
	}
	joinedAt := rec.JoinedAt
	if mutate != nil {
		mutate(rec)
	}
	if rec.JoinedAt.IsZero() {
		rec.JoinedAt = joinedAt
	}
	rec.UpdatedAt = now
	return *rec, !ok
}

// Update is Upsert restricted to existing records.
func (r *Registry) Update(id domain.ParticipantID, mutate func(rec *domain.Record)) (domain.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.Record{}, false
	}
	mutate(rec)
	rec.UpdatedAt = r.now()
	return *rec, true
}

func (r *Registry) Get(id domain.ParticipantID) (domain.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return *rec, true
}

func (r *Registry) Has(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// SetMediaState moves one media kind of an existing record to state. It
// never creates a record; it reports false when id is unknown.
func (r *Registry) SetMediaState(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	rec.SetState(kind, state)
	rec.UpdatedAt = r.now()
	cb := r.onStateChange
	r.mu.Unlock()

	if cb != nil {
		safeCall(r.log, "state change", func() { cb(id, kind, state) })
	}
	return true
}

// CompareAndSetMediaState moves kind to state only while it is still from.
// It reports whether the transition happened.
func (r *Registry) CompareAndSetMediaState(id domain.ParticipantID, kind domain.MediaKind, from, state domain.SubscriptionState) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || rec.State(kind) != from {
		r.mu.Unlock()
		return false
	}
	rec.SetState(kind, state)
	rec.UpdatedAt = r.now()
	cb := r.onStateChange
	r.mu.Unlock()

	if cb != nil {
		safeCall(r.log, "state change", func() { cb(id, kind, state) })
	}
	return true
}

// Remove deletes the record of id and cancels its polling timer.
func (r *Registry) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// Snapshot returns copies of every record keyed by id.
func (r *Registry) Snapshot() map[domain.ParticipantID]domain.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.ParticipantID]domain.Record, len(r.records))
	for id, rec := range r.records {
		out[id] = *rec
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear stops every timer and drops every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.records = make(map[domain.ParticipantID]*domain.Record)
}

// replaceTimer installs t as the polling timer of id, stopping the one it
// replaces. It refuses ids without a record and stops t instead.
func (r *Registry) replaceTimer(id domain.ParticipantID, t *pollTimer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		t.Stop()
		return false
	}
	if prev, ok := r.timers[id]; ok {
		prev.Stop()
	}
	r.timers[id] = t
	return true
}

// releaseTimer stops t and forgets it if it is still the timer of id.
func (r *Registry) releaseTimer(id domain.ParticipantID, t *pollTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.Stop()
	if cur, ok := r.timers[id]; ok && cur == t {
		delete(r.timers, id)
	}
}

func (r *Registry) cancelTimer(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Registry) hasTimer(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.timers[id]
	return ok
}

func (r *Registry) timerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.timers)
}

// pollTimer is the cancel handle of one polling loop. Stop is idempotent.
type pollTimer struct {
	stop chan struct{}
	once sync.Once
}

func newPollTimer() *pollTimer {
	return &pollTimer{stop: make(chan struct{})}
}

func (t *pollTimer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *pollTimer) done() <-chan struct{} {
	return t.stop
}

// safeCall runs a consumer callback, logging instead of propagating a panic.
func safeCall(logger zerolog.Logger, name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Str("callback", name).Msg("Subscription callback panicked")
		}
	}()
	fn()
}
