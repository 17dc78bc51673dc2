package models

import "encoding/json"

// Event names exchanged with clients. The three broadcast names double as
// broker topic names.
const (
	EventSend           = "send"
	EventDisconnect     = "disconnect"
	EventMemberHistory  = "member_history"
	EventMessageHistory = "message_history"
	EventMemberAdd      = "member_add"
	EventMemberDelete   = "member_delete"
	EventMessages       = "messages"
)

// Envelope is the frame carried over the client connection in both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data into an envelope for the given event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}
