// Package chatrelay provides a WebSocket client for the chat relay.
package chatrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names sent by the relay.
const (
	EventMemberHistory  = "member_history"
	EventMessageHistory = "message_history"
	EventMemberAdd      = "member_add"
	EventMemberDelete   = "member_delete"
	EventMessages       = "messages"
)

// Member is a connected user.
type Member struct {
	Socket   string `json:"socket"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Message is a chat message.
type Message struct {
	Date     int64  `json:"date"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Body     string `json:"message"`
}

// Event is a frame received from the relay.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Members decodes a member_history payload.
func (e Event) Members() (map[string]Member, error) {
	var m map[string]Member
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// Messages decodes a message_history payload.
func (e Event) Messages() ([]Message, error) {
	var m []Message
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// Member decodes a member_add payload.
func (e Event) Member() (Member, error) {
	var m Member
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// Message decodes a messages payload.
func (e Event) Message() (Message, error) {
	var m Message
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// ConnectionID decodes a member_delete payload.
func (e Event) ConnectionID() (string, error) {
	var id string
	err := json.Unmarshal(e.Data, &id)
	return id, err
}

// Client is a relay connection.
type Client struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	closing chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	err       error
}

// Dial connects to a relay WebSocket endpoint such as ws://localhost:3000/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns received events. The channel closes when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the read loop, once Events is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Send posts a chat message.
func (c *Client) Send(body string) error {
	return c.write("send", body)
}

// SendRaw writes a frame verbatim.
func (c *Client) SendRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Next waits for the next event with the given name, discarding others.
func (c *Client) Next(ctx context.Context, name string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, errors.New("connection closed")
			}
			if ev.Name == name {
				return ev, nil
			}
		}
	}
}

// Close asks the relay to end the session and closes the socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	_ = c.write("disconnect", nil)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return c.conn.Close()
}

func (c *Client) write(name string, data any) error {
	frame := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{name, data}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(frame)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}
