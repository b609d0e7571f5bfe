package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// defaultIdleTimeout closes a connection that delivered nothing for this
	// long, so a silent peer surfaces as an error instead of a hang.
	defaultIdleTimeout = 60 * time.Second
)

// subscribeCommand is the first message sent on every connection.
type subscribeCommand struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

// WSSource streams ticks from a websocket endpoint. Each Open dials a new
// connection and subscribes to a single token. Ticks arrive as JSON objects
// shaped like domain.Tick; a normal close from the peer ends the stream.
type WSSource struct {
	url         string
	idleTimeout time.Duration
	dialer      websocket.Dialer
	logger      *slog.Logger
}

// NewWSSource creates a source for the given ws:// or wss:// URL.
func NewWSSource(url string, idleTimeout time.Duration, logger *slog.Logger) *WSSource {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &WSSource{
		url:         url,
		idleTimeout: idleTimeout,
		dialer:      websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:      logger.With(slog.String("component", "ws_feed")),
	}
}

// Open dials the endpoint and subscribes to token.
func (s *WSSource) Open(ctx context.Context, token string) (Stream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed/ws: connect: %w: %w", domain.ErrWSDisconnect, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Action: "subscribe", Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed/ws: subscribe %s: %w: %w", token, domain.ErrWSDisconnect, err)
	}
	s.logger.InfoContext(ctx, "ws feed subscribed", slog.String("token", token))

	st := &wsStream{
		conn:   conn,
		token:  token,
		idle:   s.idleTimeout,
		ticks:  make(chan domain.Tick),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go st.readLoop()
	return st, nil
}

type wsStream struct {
	conn      *websocket.Conn
	token     string
	idle      time.Duration
	ticks     chan domain.Tick
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// readLoop hands ticks to Next over an unbuffered channel, so the reader
// only pulls from the socket once the previous tick was consumed.
func (s *wsStream) readLoop() {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.errs <- ErrStreamEnded
			} else {
				s.errs <- fmt.Errorf("feed/ws: read %s: %w: %w", s.token, domain.ErrWSDisconnect, err)
			}
			return
		}

		var tick domain.Tick
		if err := json.Unmarshal(msg, &tick); err != nil {
			s.logger.Warn("ws feed: bad tick", slog.String("token", s.token), slog.String("error", err.Error()))
			continue
		}
		if tick.Token == "" {
			tick.Token = s.token
		}
		if tick.Token != s.token {
			continue
		}

		select {
		case s.ticks <- tick:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) Next(ctx context.Context) (domain.Tick, error) {
	select {
	case <-ctx.Done():
		return domain.Tick{}, ctx.Err()
	case <-s.done:
		return domain.Tick{}, ErrStreamEnded
	case t := <-s.ticks:
		return t, nil
	case err := <-s.errs:
		// Keep the error sticky for later calls.
		s.errs <- err
		return domain.Tick{}, err
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = s.conn.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
