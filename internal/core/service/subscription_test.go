package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	historymem "github.com/Wyydra/ya-subscriber/internal/adapter/driven/persistence/memory"
	rtcmem "github.com/Wyydra/ya-subscriber/internal/adapter/driven/rtc/memory"
	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.SubscriptionTimeout = 200 * time.Millisecond
	cfg.AutomatedRetryInterval = 10 * time.Millisecond
	logger := zerolog.Nop()
	cfg.Logger = &logger
	return cfg
}

func newTestService(t *testing.T, rtc *rtcmem.Client, mutate func(*Config)) (*SubscriptionService, *historymem.HistoryRepository) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	history := historymem.NewHistoryRepository()
	svc := NewSubscriptionService(rtc, history, nil, cfg)
	t.Cleanup(svc.Destroy)
	return svc, history
}

func historyOf(t *testing.T, h *historymem.HistoryRepository) []domain.HistoryEntry {
	t.Helper()
	entries, err := h.List(context.Background())
	require.NoError(t, err)
	return entries
}

func TestSubscribeAlreadySubscribedIsNoop(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, history := newTestService(t, rtc, nil)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))
	require.Len(t, historyOf(t, history), 1)

	assert.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))
	assert.Len(t, historyOf(t, history), 1)
	assert.Equal(t, 1, rtc.SubscribeCount("p1", domain.MediaAudio))
}

func TestSubscribeNormalizesIDs(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: 123, HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "123", domain.MediaAudio))
	assert.True(t, svc.SubscribeToUser(ctx, 123, domain.MediaAudio))

	all := svc.AllSubscriptionInfo()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ParticipantID("123"), all[0].ID)
	assert.True(t, all[0].AudioSubscribed)
	assert.Equal(t, 1, rtc.SubscribeCount(123, domain.MediaAudio))
}

func TestSubscribeUnknownParticipant(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, history := newTestService(t, rtc, nil)

	err := svc.Subscribe(context.Background(), "ghost", domain.MediaAudio)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
	assert.Empty(t, historyOf(t, history))
	assert.Zero(t, svc.registry.Len())
	assert.Empty(t, rtc.SubscribeCalls())
}

func TestSubscribeFindsParticipantMissingFromRegistry(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "late", HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)
	require.True(t, svc.Cleanup("late"))
	require.False(t, svc.registry.Has("late"))

	require.NoError(t, svc.Subscribe(context.Background(), "late", domain.MediaAudio))
	info, ok := svc.UserSubscriptionInfo("late")
	require.True(t, ok)
	assert.True(t, info.AudioSubscribed)
}

func TestSubscribeMediaUnavailable(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, history := newTestService(t, rtc, nil)

	err := svc.Subscribe(context.Background(), "p1", domain.MediaVideo)
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Empty(t, historyOf(t, history))
	assert.Zero(t, rtc.SubscribeCount("p1", domain.MediaVideo))

	info, _ := svc.UserSubscriptionInfo("p1")
	assert.Equal(t, domain.StateNotSubscribed, info.VideoState)
}

func TestSubscribeInvalidKind(t *testing.T) {
	svc, _ := newTestService(t, rtcmem.NewClient(), nil)
	assert.ErrorIs(t, svc.Subscribe(context.Background(), "p1", "screen"), domain.ErrUnknownMediaKind)
}

func TestSubscribeCallbacks(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)

	var mu sync.Mutex
	var states []domain.SubscriptionState
	var result domain.SubscribeResult
	svc.OnSubscriptionStateChanged(func(id domain.ParticipantID, kind domain.MediaKind, state domain.SubscriptionState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	})
	svc.OnSubscriptionSuccess(func(id domain.ParticipantID, kind domain.MediaKind, res domain.SubscribeResult) {
		result = res
		panic("consumer bug")
	})

	require.NoError(t, svc.Subscribe(context.Background(), "p1", domain.MediaAudio))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.SubscriptionState{domain.StateSubscribing, domain.StateSubscribed}, states)
	assert.Equal(t, "p1-audio", result.TrackID)

	info, _ := svc.UserSubscriptionInfo("p1")
	assert.Equal(t, domain.StateSubscribed, info.AudioState)
}

type mockGateway struct{ mock.Mock }

func (g *mockGateway) BroadcastStateChange(ctx context.Context, change domain.StateChange) error {
	return g.Called(ctx, change).Error(0)
}

func TestStateChangesReachGateway(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	gw := &mockGateway{}
	gw.On("BroadcastStateChange", mock.Anything, mock.MatchedBy(func(c domain.StateChange) bool {
		return c.ParticipantID == "p1" && c.State == domain.StateSubscribed
	})).Return(nil).Once()
	gw.On("BroadcastStateChange", mock.Anything, mock.Anything).Return(errors.New("no watchers")).Maybe()

	cfg := testConfig()
	svc := NewSubscriptionService(rtc, historymem.NewHistoryRepository(), gw, cfg)
	t.Cleanup(svc.Destroy)

	require.NoError(t, svc.Subscribe(context.Background(), "p1", domain.MediaAudio))
	gw.AssertExpectations(t)
}

func TestUnsubscribeUnknownParticipant(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, nil)

	assert.False(t, svc.UnsubscribeFromUser(context.Background(), "nobody", domain.MediaAudio))
	assert.Zero(t, svc.registry.Len())
	assert.Empty(t, rtc.UnsubscribeCalls())
}

func TestUnsubscribe(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))
	require.True(t, svc.UnsubscribeFromUser(ctx, "p1", domain.MediaAudio))

	info, _ := svc.UserSubscriptionInfo("p1")
	assert.Equal(t, domain.StateNotSubscribed, info.AudioState)
	assert.False(t, info.AudioSubscribed)
	assert.Len(t, rtc.UnsubscribeCalls(), 1)

	// nothing left to drop
	assert.True(t, svc.UnsubscribeFromUser(ctx, "p1", domain.MediaAudio))
	assert.Len(t, rtc.UnsubscribeCalls(), 1)
}

func TestUnsubscribeFailureRestoresState(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))
	rtc.SetUnsubscribeError(errors.New("transport closed"))

	assert.False(t, svc.UnsubscribeFromUser(ctx, "p1", domain.MediaAudio))
	info, _ := svc.UserSubscriptionInfo("p1")
	assert.Equal(t, domain.StateSubscribed, info.AudioState)
}

// gatedClient holds every Unsubscribe until release yields its result.
type gatedClient struct {
	*rtcmem.Client
	entered chan struct{}
	release chan error
}

func newGatedClient(seed ...domain.RemoteParticipant) *gatedClient {
	return &gatedClient{
		Client:  rtcmem.NewClient(seed...),
		entered: make(chan struct{}, 1),
		release: make(chan error),
	}
}

func (c *gatedClient) Unsubscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) error {
	c.entered <- struct{}{}
	select {
	case err := <-c.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestUnsubscribeFailureKeepsConcurrentDemotion(t *testing.T) {
	rtc := newGatedClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	cfg := testConfig()
	cfg.SubscriptionTimeout = waitFor
	svc := NewSubscriptionService(rtc, historymem.NewHistoryRepository(), nil, cfg)
	t.Cleanup(svc.Destroy)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))

	done := make(chan error, 1)
	go func() { done <- svc.Unsubscribe(ctx, "p1", domain.MediaAudio) }()
	<-rtc.entered

	require.NoError(t, rtc.Unpublish("p1", domain.MediaAudio))
	require.Eventually(t, func() bool {
		info, _ := svc.UserSubscriptionInfo("p1")
		return !info.HasAudio && info.AudioState == domain.StateNotSubscribed
	}, waitFor, tick)

	rtc.release <- errors.New("transport closed")
	require.Error(t, <-done)

	info, _ := svc.UserSubscriptionInfo("p1")
	assert.False(t, info.HasAudio)
	assert.Equal(t, domain.StateNotSubscribed, info.AudioState)
	assert.False(t, info.AudioSubscribed)
}

func TestUnsubscribeTimeout(t *testing.T) {
	rtc := newGatedClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	cfg := testConfig()
	cfg.SubscriptionTimeout = 20 * time.Millisecond
	svc := NewSubscriptionService(rtc, historymem.NewHistoryRepository(), nil, cfg)
	t.Cleanup(svc.Destroy)
	ctx := context.Background()

	require.True(t, svc.SubscribeToUser(ctx, "p1", domain.MediaAudio))

	err := svc.Unsubscribe(ctx, "p1", domain.MediaAudio)
	assert.ErrorIs(t, err, ErrUnsubscribeTimeout)
	assert.NotErrorIs(t, err, ErrSubscribeTimeout)

	info, _ := svc.UserSubscriptionInfo("p1")
	assert.Equal(t, domain.StateSubscribed, info.AudioState)
}

func TestJoinAutoSubscribesAudioOnly(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, nil)

	rtc.Join(domain.RemoteParticipant{UID: "p1", HasAudio: true, HasVideo: false})

	require.Eventually(t, func() bool {
		info, ok := svc.UserSubscriptionInfo("p1")
		return ok && info.AudioSubscribed
	}, waitFor, tick)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rtc.SubscribeCount("p1", domain.MediaAudio))
	assert.Zero(t, rtc.SubscribeCount("p1", domain.MediaVideo))
}

func TestJoinWithVideoOnlyNeverSubscribesVideo(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, nil)

	rtc.Join(domain.RemoteParticipant{UID: "cam", HasVideo: true})

	require.Eventually(t, func() bool { return svc.registry.Has("cam") }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rtc.SubscribeCalls())
}

func TestAutoSubscribeDisabled(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, nil)
	svc.SetAutoSubscribe(false)
	assert.False(t, svc.AutoSubscribe())

	rtc.Join(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	require.NoError(t, rtc.Publish("p1", domain.MediaAudio))

	require.Eventually(t, func() bool { return svc.registry.Has("p1") }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rtc.SubscribeCalls())
}

func TestPublishAudioAutoSubscribes(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, nil)
	svc.SetAutoSubscribe(false)
	rtc.Join(domain.RemoteParticipant{UID: "p1"})
	require.Eventually(t, func() bool { return svc.registry.Has("p1") }, waitFor, tick)

	svc.SetAutoSubscribe(true)
	require.NoError(t, rtc.Publish("p1", domain.MediaVideo))
	require.NoError(t, rtc.Publish("p1", domain.MediaAudio))

	require.Eventually(t, func() bool {
		info, _ := svc.UserSubscriptionInfo("p1")
		return info.AudioSubscribed && info.HasVideo
	}, waitFor, tick)
	assert.Zero(t, rtc.SubscribeCount("p1", domain.MediaVideo))
}

func TestUnpublishDemotesState(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	svc, _ := newTestService(t, rtc, nil)
	require.True(t, svc.SubscribeToUser(context.Background(), "p1", domain.MediaAudio))

	require.NoError(t, rtc.Unpublish("p1", domain.MediaAudio))

	require.Eventually(t, func() bool {
		info, _ := svc.UserSubscriptionInfo("p1")
		return !info.HasAudio && info.AudioState == domain.StateNotSubscribed
	}, waitFor, tick)
	info, _ := svc.UserSubscriptionInfo("p1")
	assert.False(t, info.AudioSubscribed)
}

func TestLifecycleLeavesNothingBehind(t *testing.T) {
	rtc := rtcmem.NewClient()
	svc, _ := newTestService(t, rtc, func(c *Config) {
		c.IsAutomated = func(id domain.ParticipantID) bool { return id == "bot1" }
		c.AutomatedMaxAttempts = 1000
	})

	rtc.Join(domain.RemoteParticipant{UID: "p1"})
	rtc.Join(domain.RemoteParticipant{UID: "bot1"})
	require.NoError(t, rtc.Publish("p1", domain.MediaAudio))
	require.NoError(t, rtc.Announce("bot1", domain.MediaAudio))
	require.Eventually(t, func() bool { return svc.registry.hasTimer("bot1") }, waitFor, tick)

	require.NoError(t, rtc.Unpublish("p1", domain.MediaAudio))
	require.NoError(t, rtc.Unpublish("bot1", domain.MediaAudio))
	require.NoError(t, rtc.Leave("p1"))
	require.NoError(t, rtc.Leave("bot1"))

	require.Eventually(t, func() bool {
		return svc.registry.Len() == 0 && svc.registry.timerCount() == 0
	}, waitFor, tick)
}

func TestReconcileRegistersExistingParticipants(t *testing.T) {
	rtc := rtcmem.NewClient(
		domain.RemoteParticipant{UID: "early", HasAudio: true},
		domain.RemoteParticipant{UID: 7, HasVideo: true},
	)
	svc, _ := newTestService(t, rtc, nil)

	all := svc.AllSubscriptionInfo()
	require.Len(t, all, 2)
	assert.Equal(t, domain.ParticipantID("7"), all[0].ID)
	assert.True(t, all[0].HasVideo)
	assert.Equal(t, domain.ParticipantID("early"), all[1].ID)
	assert.Equal(t, domain.StateNotSubscribed, all[1].AudioState)
}

func TestStats(t *testing.T) {
	rtc := rtcmem.NewClient(
		domain.RemoteParticipant{UID: "ok", HasAudio: true, HasVideo: true},
		domain.RemoteParticipant{UID: "flaky", HasAudio: true},
	)
	rtc.SetSubscribeFunc(func(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) (domain.SubscribeResult, error) {
		if p.ID() == "flaky" {
			return domain.SubscribeResult{}, errors.New("ice failed")
		}
		return domain.SubscribeResult{TrackID: "t", Kind: kind}, nil
	})
	svc, _ := newTestService(t, rtc, func(c *Config) { c.MaxRetryAttempts = 2 })
	ctx := context.Background()

	empty := svc.SubscriptionStats(ctx)
	assert.Equal(t, 2, empty.TotalParticipants)
	assert.Zero(t, empty.SuccessRate)

	require.NoError(t, svc.Subscribe(ctx, "ok", domain.MediaAudio))
	require.NoError(t, svc.Subscribe(ctx, "ok", domain.MediaVideo))
	require.Error(t, svc.Subscribe(ctx, "flaky", domain.MediaAudio))

	stats := svc.SubscriptionStats(ctx)
	assert.Equal(t, 2, stats.TotalParticipants)
	assert.Equal(t, 1, stats.AudioSubscribed)
	assert.Equal(t, 1, stats.VideoSubscribed)
	assert.Equal(t, 4, stats.TotalAttempts)
	assert.Equal(t, 2, stats.SuccessfulAttempts)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
}

func TestDestroy(t *testing.T) {
	rtc := rtcmem.NewClient(domain.RemoteParticipant{UID: "p1", HasAudio: true})
	history := historymem.NewHistoryRepository()
	cfg := testConfig()
	cfg.IsAutomated = func(id domain.ParticipantID) bool { return id == "bot" }
	cfg.AutomatedMaxAttempts = 1000
	svc := NewSubscriptionService(rtc, history, nil, cfg)

	require.NoError(t, svc.Subscribe(context.Background(), "p1", domain.MediaAudio))
	rtc.Join(domain.RemoteParticipant{UID: "bot"})
	require.NoError(t, rtc.Announce("bot", domain.MediaAudio))
	require.Eventually(t, func() bool { return svc.registry.hasTimer("bot") }, waitFor, tick)
	require.Equal(t, 4, rtc.ListenerCount())

	svc.Destroy()

	assert.Zero(t, rtc.ListenerCount())
	assert.Zero(t, svc.registry.Len())
	assert.Zero(t, svc.registry.timerCount())
	entries, err := history.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.ErrorIs(t, svc.Subscribe(context.Background(), "p1", domain.MediaAudio), ErrDestroyed)

	// events after teardown are ignored
	rtc.Join(domain.RemoteParticipant{UID: "late", HasAudio: true})
	assert.False(t, svc.registry.Has("late"))
}
