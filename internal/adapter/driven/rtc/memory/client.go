package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
)

var ErrUnknownParticipant = errors.New("unknown participant")

// SubscribeFunc decides the outcome of a Subscribe call.
type SubscribeFunc func(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) (domain.SubscribeResult, error)

// Call is one recorded Subscribe or Unsubscribe.
type Call struct {
	ID   domain.ParticipantID
	Kind domain.MediaKind
}

// Client is an in-process real-time client. It holds the room roster and
// fires lifecycle notifications synchronously from the mutating call.
// implements port.RTCClient
type Client struct {
	mu           sync.Mutex
	order        []domain.ParticipantID
	participants map[domain.ParticipantID]domain.RemoteParticipant
	subscribeFn  SubscribeFunc
	subscribes   []Call
	unsubscribes []Call
	unsubErr     error

	nextListener int
	joined       map[int]func(domain.RemoteParticipant)
	published    map[int]func(domain.RemoteParticipant, domain.MediaKind)
	unpublished  map[int]func(domain.RemoteParticipant, domain.MediaKind)
	left         map[int]func(domain.RemoteParticipant)
}

func NewClient(seed ...domain.RemoteParticipant) *Client {
	c := &Client{
		participants: make(map[domain.ParticipantID]domain.RemoteParticipant),
		joined:       make(map[int]func(domain.RemoteParticipant)),
		published:    make(map[int]func(domain.RemoteParticipant, domain.MediaKind)),
		unpublished:  make(map[int]func(domain.RemoteParticipant, domain.MediaKind)),
		left:         make(map[int]func(domain.RemoteParticipant)),
	}
	for _, p := range seed {
		c.put(p)
	}
	return c
}

// SetSubscribeFunc replaces the default always-succeeding Subscribe.
func (c *Client) SetSubscribeFunc(fn SubscribeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeFn = fn
}

// SetUnsubscribeError makes every following Unsubscribe fail with err.
func (c *Client) SetUnsubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubErr = err
}

func (c *Client) RemoteParticipants() []domain.RemoteParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.RemoteParticipant, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.participants[id])
	}
	return out
}

func (c *Client) Subscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) (domain.SubscribeResult, error) {
	id := p.ID()
	c.mu.Lock()
	c.subscribes = append(c.subscribes, Call{ID: id, Kind: kind})
	fn := c.subscribeFn
	_, known := c.participants[id]
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, p, kind)
	}
	if !known {
		return domain.SubscribeResult{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return domain.SubscribeResult{TrackID: id.String() + "-" + kind.String(), Kind: kind}, nil
}

func (c *Client) Unsubscribe(ctx context.Context, p domain.RemoteParticipant, kind domain.MediaKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes = append(c.unsubscribes, Call{ID: p.ID(), Kind: kind})
	return c.unsubErr
}

// SubscribeCalls returns every Subscribe seen so far.
func (c *Client) SubscribeCalls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.subscribes...)
}

// SubscribeCount counts Subscribe calls for one pair.
func (c *Client) SubscribeCount(id any, kind domain.MediaKind) int {
	want := domain.NormalizeID(id)
	n := 0
	for _, call := range c.SubscribeCalls() {
		if call.ID == want && call.Kind == kind {
			n++
		}
	}
	return n
}

func (c *Client) UnsubscribeCalls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.unsubscribes...)
}

// Join adds p to the roster and fires participant-joined.
func (c *Client) Join(p domain.RemoteParticipant) {
	c.mu.Lock()
	c.put(p)
	listeners := snapshot(c.joined)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
}

// Publish marks kind available and fires media-published.
func (c *Client) Publish(id any, kind domain.MediaKind) error {
	return c.publish(id, kind, true)
}

// Announce fires media-published without flipping the availability flag,
// the way some transports report a bot's track before it is usable.
func (c *Client) Announce(id any, kind domain.MediaKind) error {
	return c.publish(id, kind, false)
}

// SetReady flips the availability flag of kind without any notification.
func (c *Client) SetReady(id any, kind domain.MediaKind, ready bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.setFlag(domain.NormalizeID(id), kind, ready)
	return err
}

func (c *Client) publish(id any, kind domain.MediaKind, ready bool) error {
	c.mu.Lock()
	p, err := c.setFlag(domain.NormalizeID(id), kind, ready)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	listeners := snapshot(c.published)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(p, kind)
	}
	return nil
}

// Unpublish clears kind and fires media-unpublished.
func (c *Client) Unpublish(id any, kind domain.MediaKind) error {
	c.mu.Lock()
	p, err := c.setFlag(domain.NormalizeID(id), kind, false)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	listeners := snapshot(c.unpublished)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(p, kind)
	}
	return nil
}

// Leave removes the participant and fires participant-left.
func (c *Client) Leave(id any) error {
	want := domain.NormalizeID(id)
	c.mu.Lock()
	p, ok := c.participants[want]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, want)
	}
	delete(c.participants, want)
	for i, known := range c.order {
		if known == want {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	listeners := snapshot(c.left)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
	return nil
}

func (c *Client) OnParticipantJoined(fn func(p domain.RemoteParticipant)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return register(c, c.joined, fn)
}

func (c *Client) OnMediaPublished(fn func(p domain.RemoteParticipant, kind domain.MediaKind)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return register(c, c.published, fn)
}

func (c *Client) OnMediaUnpublished(fn func(p domain.RemoteParticipant, kind domain.MediaKind)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return register(c, c.unpublished, fn)
}

func (c *Client) OnParticipantLeft(fn func(p domain.RemoteParticipant)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return register(c, c.left, fn)
}

// ListenerCount is the number of live registrations across all notifications.
func (c *Client) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joined) + len(c.published) + len(c.unpublished) + len(c.left)
}

func (c *Client) put(p domain.RemoteParticipant) {
	id := p.ID()
	if _, ok := c.participants[id]; !ok {
		c.order = append(c.order, id)
	}
	c.participants[id] = p
}

func (c *Client) setFlag(id domain.ParticipantID, kind domain.MediaKind, v bool) (domain.RemoteParticipant, error) {
	p, ok := c.participants[id]
	if !ok {
		return domain.RemoteParticipant{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	switch kind {
	case domain.MediaAudio:
		p.HasAudio = v
	case domain.MediaVideo:
		p.HasVideo = v
	default:
		return domain.RemoteParticipant{}, fmt.Errorf("%w: %q", domain.ErrUnknownMediaKind, kind)
	}
	c.participants[id] = p
	return p, nil
}

// register must be called with c.mu held.
func register[F any](c *Client, set map[int]F, fn F) func() {
	c.nextListener++
	key := c.nextListener
	set[key] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(set, key)
	}
}

func snapshot[F any](set map[int]F) []F {
	out := make([]F, 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}
