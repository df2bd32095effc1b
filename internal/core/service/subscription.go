package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/Wyydra/ya-subscriber/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetryAttempts       = 3
	DefaultRetryDelay             = 2 * time.Second
	DefaultSubscriptionTimeout    = 10 * time.Second
	DefaultAutomatedRetryInterval = time.Second
	DefaultAutomatedMaxAttempts   = 5

	eventBuffer    = 64
	historyTimeout = 2 * time.Second
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMediaUnavailable    = errors.New("media not available")
	ErrSubscribeTimeout    = errors.New("subscribe timed out")
	ErrUnsubscribeTimeout  = errors.New("unsubscribe timed out")
	ErrDestroyed           = errors.New("subscription service destroyed")
)

// Config tunes the subscription engine. Zero numeric fields fall back to
// the defaults; start from DefaultConfig to keep auto-subscribe on.
type Config struct {
	MaxRetryAttempts    int
	RetryDelay          time.Duration
	SubscriptionTimeout time.Duration
	EnableAutoSubscribe bool

	AutomatedRetryInterval time.Duration
	AutomatedMaxAttempts   int

	// LogLevel is the minimum severity surfaced ("debug", "info", "warn", "error").
	LogLevel string
	Logger   *zerolog.Logger

	// IsAutomated classifies bot participants. Nil means nobody is a bot.
	IsAutomated func(id domain.ParticipantID) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:       DefaultMaxRetryAttempts,
		RetryDelay:             DefaultRetryDelay,
		SubscriptionTimeout:    DefaultSubscriptionTimeout,
		EnableAutoSubscribe:    true,
		AutomatedRetryInterval: DefaultAutomatedRetryInterval,
		AutomatedMaxAttempts:   DefaultAutomatedMaxAttempts,
		LogLevel:               "info",
	}
}

// SubscriptionService tracks and drives the subscription of every remote
// participant's audio and video against an RTCClient.
type SubscriptionService struct {
	client   port.RTCClient
	history  port.HistoryRepository
	gateway  port.StateGateway
	registry *Registry
	cfg      Config
	log      zerolog.Logger

	autoSubscribe atomic.Bool
	flight        singleflight.Group

	cbMu           sync.RWMutex
	onSuccess      func(id domain.ParticipantID, kind domain.MediaKind, res domain.SubscribeResult)
	onFailed       func(id domain.ParticipantID, kind domain.MediaKind, err error)
	onStateChanged func(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState)

	events   chan domain.Event
	quit     chan struct{}
	loopDone chan struct{}
	unbind   []func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	destroy sync.Once
}

// NewSubscriptionService attaches to client, seeds the registry with the
// participants the client already knows and starts dispatching events.
// gateway may be nil.
func NewSubscriptionService(client port.RTCClient, history port.HistoryRepository, gateway port.StateGateway, cfg Config) *SubscriptionService {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SubscriptionTimeout <= 0 {
		cfg.SubscriptionTimeout = DefaultSubscriptionTimeout
	}
	if cfg.AutomatedRetryInterval <= 0 {
		cfg.AutomatedRetryInterval = DefaultAutomatedRetryInterval
	}
	if cfg.AutomatedMaxAttempts <= 0 {
		cfg.AutomatedMaxAttempts = DefaultAutomatedMaxAttempts
	}
	if cfg.IsAutomated == nil {
		cfg.IsAutomated = func(domain.ParticipantID) bool { return false }
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			logger = logger.Level(lvl)
		} else {
			logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping logger level")
		}
	}
	logger = logger.With().Str("component", "subscription").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &SubscriptionService{
		client:   client,
		history:  history,
		gateway:  gateway,
		registry: NewRegistry(logger),
		cfg:      cfg,
		log:      logger,
		events:   make(chan domain.Event, eventBuffer),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.autoSubscribe.Store(cfg.EnableAutoSubscribe)
	s.registry.OnStateChange(s.stateChanged)

	s.bind()
	go s.run()
	s.reconcile()

	return s
}

// OnSubscriptionSuccess sets the callback fired after a successful subscribe.
func (s *SubscriptionService) OnSubscriptionSuccess(fn func(id domain.ParticipantID, kind domain.MediaKind, res domain.SubscribeResult)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onSuccess = fn
}

// OnSubscriptionFailed sets the callback fired when a retry budget is exhausted.
func (s *SubscriptionService) OnSubscriptionFailed(fn func(id domain.ParticipantID, kind domain.MediaKind, err error)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onFailed = fn
}

// OnSubscriptionStateChanged sets the callback fired on every state transition.
func (s *SubscriptionService) OnSubscriptionStateChanged(fn func(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onStateChanged = fn
}

func (s *SubscriptionService) SetAutoSubscribe(enabled bool) {
	s.autoSubscribe.Store(enabled)
	s.log.Info().Bool("enabled", enabled).Msg("Auto-subscribe updated")
}

func (s *SubscriptionService) AutoSubscribe() bool {
	return s.autoSubscribe.Load()
}

type subscribeOptions struct {
	maxAttempts int
	retryDelay  time.Duration
}

type SubscribeOption func(*subscribeOptions)

// WithMaxAttempts overrides the retry budget of one call.
func WithMaxAttempts(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryDelay overrides the base backoff of one call.
func WithRetryDelay(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

func (s *SubscriptionService) defaultOptions() subscribeOptions {
	return subscribeOptions{maxAttempts: s.cfg.MaxRetryAttempts, retryDelay: s.cfg.RetryDelay}
}

// Subscribe subscribes to one media kind of the participant identified by
// rawID, retrying with backoff. Subscribing an already subscribed kind
// returns nil without touching the client.
//
// Concurrent calls for the same participant and kind share one attempt
// loop: a caller arriving while a loop is in flight waits for it and gets
// its outcome, and its own options are not applied. The shared loop runs
// under the context of the call that started it.
func (s *SubscriptionService) Subscribe(ctx context.Context, rawID any, kind domain.MediaKind, opts ...SubscribeOption) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownMediaKind, kind)
	}
	if s.isClosed() {
		return ErrDestroyed
	}
	o := s.defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.subscribe(ctx, domain.NormalizeID(rawID), kind, o)
}

// SubscribeToUser is Subscribe reduced to whether the kind ended up subscribed.
func (s *SubscriptionService) SubscribeToUser(ctx context.Context, rawID any, kind domain.MediaKind, opts ...SubscribeOption) bool {
	return s.Subscribe(ctx, rawID, kind, opts...) == nil
}

// subscribe collapses concurrent loops for the same pair into one.
func (s *SubscriptionService) subscribe(ctx context.Context, id domain.ParticipantID, kind domain.MediaKind, o subscribeOptions) error {
	key := id.String() + "/" + kind.String()
	_, err, _ := s.flight.Do(key, func() (any, error) {
		return nil, s.subscribeWithRetry(ctx, id, kind, o)
	})
	return err
}

// Unsubscribe drops one media kind of a tracked participant. Unknown
// participants are reported without any state change.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, rawID any, kind domain.MediaKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownMediaKind, kind)
	}
	if s.isClosed() {
		return ErrDestroyed
	}
	id := domain.NormalizeID(rawID)
	l := s.log.With().Str("participant_id", id.String()).Str("media", kind.String()).Logger()

	rec, ok := s.registry.Get(id)
	if !ok {
		l.Warn().Msg("Unsubscribe for unknown participant")
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	prev := rec.State(kind)
	if prev == domain.StateNotSubscribed {
		return nil
	}

	participant := rec.Participant
	if live, found := domain.FindParticipant(s.client.RemoteParticipants(), id); found {
		participant = live
	}

	s.registry.SetMediaState(id, kind, domain.StateUnsubscribing)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubscriptionTimeout)
	defer cancel()
	err := await(ctx, func(ctx context.Context) error {
		return s.client.Unsubscribe(ctx, participant, kind)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrUnsubscribeTimeout, s.cfg.SubscriptionTimeout)
	}
	// events handled meanwhile win over both outcomes
	if err != nil {
		if !s.registry.CompareAndSetMediaState(id, kind, domain.StateUnsubscribing, prev) {
			l.Debug().Msg("State moved during unsubscribe, not restoring")
		}
		l.Error().Err(err).Msg("Unsubscribe failed")
		return fmt.Errorf("unsubscribe %s %s: %w", id, kind, err)
	}

	s.registry.CompareAndSetMediaState(id, kind, domain.StateUnsubscribing, domain.StateNotSubscribed)
	l.Info().Msg("Unsubscribed")
	return nil
}

func (s *SubscriptionService) UnsubscribeFromUser(ctx context.Context, rawID any, kind domain.MediaKind) bool {
	return s.Unsubscribe(ctx, rawID, kind) == nil
}

// Cleanup forgets a participant and cancels its polling timer.
func (s *SubscriptionService) Cleanup(rawID any) bool {
	return s.registry.Remove(domain.NormalizeID(rawID))
}

func (s *SubscriptionService) UserSubscriptionInfo(rawID any) (domain.ParticipantInfo, bool) {
	id := domain.NormalizeID(rawID)
	rec, ok := s.registry.Get(id)
	if !ok {
		return domain.ParticipantInfo{}, false
	}
	return rec.Info(id), true
}

// AllSubscriptionInfo returns every tracked participant ordered by id.
func (s *SubscriptionService) AllSubscriptionInfo() []domain.ParticipantInfo {
	snap := s.registry.Snapshot()
	out := make([]domain.ParticipantInfo, 0, len(snap))
	for id, rec := range snap {
		out = append(out, rec.Info(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Destroy detaches from the client, stops every timer and in-flight retry,
// and clears the registry and history.
func (s *SubscriptionService) Destroy() {
	s.destroy.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		for _, unbind := range s.unbind {
			unbind()
		}
		close(s.quit)
		s.cancel()
		s.registry.Clear()

		<-s.loopDone
		s.wg.Wait()

		s.registry.Clear()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := s.history.Clear(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to clear subscription history")
		}
		s.log.Info().Msg("Subscription service destroyed")
	})
}

func (s *SubscriptionService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// spawn runs fn on its own goroutine unless the service is shutting down.
func (s *SubscriptionService) spawn(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *SubscriptionService) stateChanged(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState) {
	s.cbMu.RLock()
	cb := s.onStateChanged
	s.cbMu.RUnlock()

	if cb != nil {
		safeCall(s.log, "state changed", func() { cb(id, kind, state) })
	}
	if s.gateway != nil {
		change := domain.StateChange{ParticipantID: id, Kind: kind, State: state, At: time.Now()}
		if err := s.gateway.BroadcastStateChange(s.ctx, change); err != nil {
			s.log.Warn().Err(err).Str("participant_id", id.String()).Msg("Failed to broadcast state change")
		}
	}
}

func (s *SubscriptionService) notifySuccess(id domain.ParticipantID, kind domain.MediaKind, res domain.SubscribeResult) {
	s.cbMu.RLock()
	cb := s.onSuccess
	s.cbMu.RUnlock()
	if cb != nil {
		safeCall(s.log, "subscription success", func() { cb(id, kind, res) })
	}
}

func (s *SubscriptionService) notifyFailed(id domain.ParticipantID, kind domain.MediaKind, err error) {
	s.cbMu.RLock()
	cb := s.onFailed
	s.cbMu.RUnlock()
	if cb != nil {
		safeCall(s.log, "subscription failed", func() { cb(id, kind, err) })
	}
}

// await runs call on its own goroutine so a client that ignores ctx still
// cannot hold the caller past the deadline. Callers map ctx errors.
func await(ctx context.Context, call func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- call(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
