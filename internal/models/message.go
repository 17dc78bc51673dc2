package models

import (
	"encoding/json"
	"errors"
)

// Message represents a chat message stored in the history sorted set.
type Message struct {
	Date     int64  `json:"date"`     // Unix ms, also the sorted set score
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Body     string `json:"message"`
}

// Validate checks the fields every stored message must carry.
func (m Message) Validate() error {
	if m.Date <= 0 {
		return errors.New("date must be positive")
	}
	if m.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// DecodeMessage parses and validates a JSON-encoded message.
func DecodeMessage(source string, data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &DeserializationError{Source: source, Err: err}
	}
	if err := msg.Validate(); err != nil {
		return Message{}, &DeserializationError{Source: source, Err: err}
	}
	return msg, nil
}
