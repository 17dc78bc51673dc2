package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/hub"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/session"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// Connector admits a connection as a session.
type Connector interface {
	Connect(ctx context.Context, conn hub.Client) (*session.Session, error)
}

// Throttle decides whether a client address may send another message.
type Throttle interface {
	Allow(ctx context.Context, subject string) bool
}

// ReadLimitFor returns a frame size limit that admits a send envelope whose
// body is maxBody bytes even when every byte is JSON-escaped, so oversized
// bodies reach the session and are rejected there without dropping the
// connection.
func ReadLimitFor(maxBody int) int64 {
	return int64(maxBody)*6 + 1024
}

// Handler upgrades HTTP requests to WebSocket sessions.
type Handler struct {
	connector Connector
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
	throttle  Throttle
	readLimit int64

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	active sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithThrottle limits inbound messages per client address.
func WithThrottle(t Throttle) Option {
	return func(h *Handler) {
		h.throttle = t
	}
}

// WithReadLimit bounds inbound frame size.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// NewHandler creates a WebSocket handler. Origins are not restricted,
// matching the CORS policy of the HTTP API.
func NewHandler(connector Connector, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		connector: connector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logger.With().Str("component", "ws").Logger(),
		readLimit: ReadLimitFor(session.DefaultMaxMessageBytes),
		conns:     make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Shutdown drops every open connection so each session terminates and
// retracts its member, then waits for them or for ctx.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) track(c *Conn) {
	h.active.Add(1)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.active.Done()
}

// ServeHTTP runs one connection from upgrade to close.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	id := ulid.Make().String()
	logger := h.logger.With().Str("conn_id", id).Logger()
	c := newConn(id, remoteIP(r), wsConn, logger)
	h.track(c)
	defer h.untrack(c)
	go c.writePump()

	// Session work must outlive the request once the client hangs up.
	ctx := context.WithoutCancel(r.Context())

	sess, err := h.connector.Connect(ctx, c)
	if err != nil {
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "initialization failed"),
			time.Now().Add(writeWait))
		c.close()
		return
	}

	h.readLoop(ctx, c, sess)

	sess.Close(ctx)
	c.close()
}

// readLoop dispatches inbound events until the client disconnects.
func (h *Handler) readLoop(ctx context.Context, c *Conn, sess *session.Session) {
	c.ws.SetReadLimit(h.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				c.logger.Info().Msg("read deadline exceeded")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		switch env.Event {
		case models.EventSend:
			var body string
			if err := json.Unmarshal(env.Data, &body); err != nil {
				c.logger.Debug().Err(err).Msg("ignoring send without string body")
				continue
			}
			if h.throttle != nil && !h.throttle.Allow(ctx, c.addr) {
				metrics.SendRejected.WithLabelValues("throttled").Inc()
				continue
			}
			// Send logs its own failures; the connection stays up.
			if err := sess.Send(ctx, body); err != nil {
				metrics.SendRejected.WithLabelValues(rejectReason(err)).Inc()
			}
		case models.EventDisconnect:
			return
		default:
			c.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrMessageTooLong):
		return "too_long"
	case errors.Is(err, session.ErrSessionClosed):
		return "closed"
	case errors.Is(err, store.ErrPublish):
		return "publish"
	}
	return "store"
}

// remoteIP returns the client address. chi's RealIP middleware has already
// replaced RemoteAddr with the forwarded client address when behind a proxy.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
