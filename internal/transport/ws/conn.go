// Package ws carries sessions over WebSocket connections.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var (
	// ErrSlowClient is returned by Deliver when the send queue is full.
	ErrSlowClient = errors.New("client send buffer full")
	// ErrConnClosed is returned by Deliver after the connection closed.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is one client WebSocket with a buffered outbound queue drained by a
// single writer goroutine.
type Conn struct {
	id     string
	addr   string
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
}

func newConn(id, addr string, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		id:     id,
		addr:   addr,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// Deliver queues env for the writer without blocking.
func (c *Conn) Deliver(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

// close stops the writer, which sends a close frame and releases the socket.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("set write deadline")
				c.close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				c.close()
				return
			}
		case <-c.closed:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
