package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the dashboard origin once it has a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   domain.WatcherID
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *WSClient) ID() string {
	return c.id.String()
}

func (c *WSClient) SendStateChange(change domain.StateChange) error {
	type stateChangeDTO struct {
		Event string `json:"event"`
		domain.StateChange
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(stateChangeDTO{Event: "state_changed", StateChange: change})
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ServeWS streams every subscription state change to the connected watcher.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   domain.NewWatcherID(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("New watcher connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Watcher disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	// watchers only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
	}
}
