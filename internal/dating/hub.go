// internal/dating/hub.go

package dating

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Notifier delivers events to users
type Notifier interface {
	// Notify delivers ev to its recipient if connected and queues it otherwise
	Notify(ctx context.Context, ev *Event) error
}

// Hub keeps one live channel per user. A new connection replaces the
// previous one for the same user.
type Hub struct {
	clients    map[int64]*Client
	clientsMux sync.RWMutex

	queue Queue
	users profile.Repository
	log   *logger.Logger
}

// NewHub creates a hub that queues events for offline users
func NewHub(queue Queue, users profile.Repository, log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]*Client),
		queue:   queue,
		users:   users,
		log:     log,
	}
}

// Register makes c the live channel of its user, marks the user online and
// flushes events queued while they were away
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.clientsMux.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	total := len(h.clients)
	h.clientsMux.Unlock()

	if old != nil {
		old.Close()
	} else {
		activeConnections.Inc()
	}

	if err := h.users.SetOnline(ctx, c.userID, true); err != nil {
		h.log.Warn("failed to mark user online", "user_id", c.userID, "error", err)
	}
	h.flush(ctx, c)

	h.log.Info("user connected", "user_id", c.userID, "clients", total)
}

// Unregister removes c if it is still the user's live channel
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.clientsMux.Lock()
	current := h.clients[c.userID] == c
	if current {
		delete(h.clients, c.userID)
	}
	total := len(h.clients)
	h.clientsMux.Unlock()

	c.Close()
	if !current {
		return
	}

	activeConnections.Dec()
	if err := h.users.SetOnline(ctx, c.userID, false); err != nil {
		h.log.Warn("failed to mark user offline", "user_id", c.userID, "error", err)
	}
	h.log.Info("user disconnected", "user_id", c.userID, "clients", total)
}

func (h *Hub) flush(ctx context.Context, c *Client) {
	events, err := h.queue.Drain(ctx, c.userID)
	if err != nil {
		h.log.Error("failed to drain queued events", "user_id", c.userID, "error", err)
	}
	for i, ev := range events {
		if !h.deliver(c, ev) {
			// put back what could not be delivered
			for _, rest := range events[i:] {
				if err := h.queue.Push(ctx, rest); err != nil {
					h.log.Error("failed to requeue event", "user_id", c.userID, "error", err)
				}
			}
			return
		}
	}
}

func (h *Hub) deliver(c *Client, ev *Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal event", "type", ev.Type, "error", err)
		return true
	}
	return c.enqueue(data)
}

// Notify implements Notifier
func (h *Hub) Notify(ctx context.Context, ev *Event) error {
	h.clientsMux.RLock()
	c := h.clients[ev.UserID]
	h.clientsMux.RUnlock()

	if c != nil && h.deliver(c, ev) {
		eventsTotal.WithLabelValues(string(ev.Type), "delivered").Inc()
		return nil
	}

	eventsTotal.WithLabelValues(string(ev.Type), "queued").Inc()
	return h.queue.Push(ctx, ev)
}

// IsOnline reports whether the user has a live channel
func (h *Hub) IsOnline(userID int64) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Connections returns the number of live channels
func (h *Hub) Connections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Shutdown closes every live channel
func (h *Hub) Shutdown() {
	h.clientsMux.Lock()
	clients := h.clients
	h.clients = make(map[int64]*Client)
	h.clientsMux.Unlock()

	for _, c := range clients {
		c.Close()
	}
	activeConnections.Set(0)
}
