package ws

import (
	"context"
	"sync"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const broadcastBuffer = 256

// implements port.StateGateway
type Hub struct {
	mu         sync.RWMutex
	clients    map[Client]bool
	broadcast  chan domain.StateChange
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan domain.StateChange, broadcastBuffer),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// BroadcastStateChange queues change for every watcher. It never blocks;
// changes are dropped while the buffer is full.
func (h *Hub) BroadcastStateChange(ctx context.Context, change domain.StateChange) error {
	select {
	case h.broadcast <- change:
	default:
		log.Warn().Str("participant_id", change.ParticipantID.String()).Msg("Broadcast channel full, dropping state change")
	}
	return nil
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client_id", client.ID()).Msg("Watcher registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Watcher unregistered")
			}
			h.mu.Unlock()

		case change := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.SendStateChange(change); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending state change")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
