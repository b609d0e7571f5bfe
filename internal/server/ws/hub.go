// Package ws bridges journal events on the signal bus to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config captures the channels to bridge and the metadata sent to clients on
// connect.
type Config struct {
	Mode         string
	Channels     []string
	StartedAt    time.Time
	LiveSessions func() int
}

// frame is one bus message tagged with the account it concerns.
type frame struct {
	channel string
	account string
	data    []byte
}

// Hub fans bus messages out to every client subscribed to their channel and,
// when the client follows one account, only that account's events.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	frames     chan frame
	register   chan *client
	unregister chan *client
	ready      chan struct{}
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub bridging cfg.Channels of bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		frames:     make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Ready is closed once every channel subscription has been attempted.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run subscribes to the bridged channels and serves registrations and
// frames until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range h.cfg.Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pump(ctx, ch, msgs)
		}()
	}
	close(h.ready)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			wg.Wait()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.String("account", c.filter()),
				slog.Int("total_clients", n),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case f := <-h.frames:
			h.deliver(f)
		}
	}
}

// deliver queues f on every interested client. A client whose buffer is
// full misses the frame.
func (h *Hub) deliver(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(f.channel, f.account) {
			continue
		}
		select {
		case c.send <- f.data:
		default:
			h.logger.Warn("dropping frame for slow client", slog.String("channel", f.channel))
		}
	}
}

// pump tags each message on channel with its account_id and hands it to Run.
func (h *Hub) pump(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", channel))
				return
			}
			var head struct {
				AccountID string `json:"account_id"`
			}
			_ = json.Unmarshal(data, &head)
			select {
			case h.frames <- frame{channel: channel, account: head.AccountID, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client, subscribed to
// every bridged channel. ?account=<id> restricts the stream to one account.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.URL.Query().Get("account"))
	c.queue(h.statusFrame())

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// statusFrame is the hello message sent before any event flows.
func (h *Hub) statusFrame() []byte {
	live := 0
	if h.cfg.LiveSessions != nil {
		live = h.cfg.LiveSessions()
	}
	msg, _ := json.Marshal(map[string]any{
		"type": "bot_status",
		"payload": map[string]any{
			"mode":           h.cfg.Mode,
			"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
			"live_sessions":  live,
			"channels":       h.cfg.Channels,
		},
	})
	return msg
}
