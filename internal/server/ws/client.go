package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// command changes what a client receives:
//
//	{"action":"subscribe","channels":["trades"]}
//	{"action":"unsubscribe","channels":["strategy"]}
//	{"action":"follow","account":"default"}   ("" follows every account)
type command struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Account  string   `json:"account"`
}

// client is one websocket connection with its channel set and optional
// account filter.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	subs    map[string]struct{}
	account string
}

func newClient(h *Hub, conn *websocket.Conn, account string) *client {
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		subs:    make(map[string]struct{}, len(h.cfg.Channels)),
		account: account,
	}
	for _, ch := range h.cfg.Channels {
		c.subs[ch] = struct{}{}
	}
	return c
}

// wants reports whether a frame on channel about account should reach c.
// Frames without an account are always delivered to subscribers.
func (c *client) wants(channel, account string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; !ok {
		return false
	}
	return c.account == "" || account == "" || c.account == account
}

func (c *client) filter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

func (c *client) queue(msg []byte) {
	if msg == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) apply(cmd command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case "subscribe":
		for _, ch := range cmd.Channels {
			c.subs[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range cmd.Channels {
			delete(c.subs, ch)
		}
	case "follow":
		c.account = cmd.Account
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if json.Unmarshal(data, &cmd) == nil && cmd.Action != "" {
			c.apply(cmd)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
