// internal/dating/websocket.go

package dating

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

func newUpgrader(checkOrigin func(*http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

func anyOrigin(*http.Request) bool { return true }

// originIn accepts requests without an Origin header, which native clients
// omit, and browser requests from one of allowed
func originIn(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// InboundMessage is an action sent by the client over the live channel
type InboundMessage struct {
	Type     string `json:"type" validate:"required,oneof=like approve reject"`
	TargetID int64  `json:"target_id" validate:"required,gt=0"`
}

// Client is one user's live channel
type Client struct {
	hub     *Hub
	service *Service
	conn    *websocket.Conn
	userID  int64

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, service *Service, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:     hub,
		service: service,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBuffer),
	}
}

// Start runs the read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// enqueue hands a message to the write pump without blocking
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(context.Background(), c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		c.processMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage routes an inbound action and answers with the resulting
// state or an error event
func (c *Client) processMessage(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(NewEvent(EventError, c.userID, 0, map[string]string{"error": "invalid message"}))
		return
	}
	if err := utils.ValidateStruct(msg); err != nil {
		c.reply(NewEvent(EventError, c.userID, 0, map[string]string{"error": err.Error()}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var (
		res *LikeResult
		err error
	)
	switch msg.Type {
	case "like":
		res, err = c.service.Like(ctx, c.userID, msg.TargetID)
	case "approve":
		res, err = c.service.Approve(ctx, c.userID, msg.TargetID)
	case "reject":
		res, err = c.service.Reject(ctx, c.userID, msg.TargetID)
	}
	if err != nil {
		c.reply(NewEvent(EventError, c.userID, msg.TargetID, map[string]string{
			"action": msg.Type,
			"error":  err.Error(),
		}))
		return
	}
	c.reply(NewEvent(EventMatchState, c.userID, 0, res))
}

func (c *Client) reply(ev *Event) {
	if !c.hub.deliver(c, ev) {
		c.hub.log.Warn("dropped reply to slow client", "user_id", c.userID, "type", ev.Type)
	}
}
