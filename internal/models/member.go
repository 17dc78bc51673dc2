package models

import (
	"encoding/json"
	"errors"
)

// Member represents a connected user in the presence table.
type Member struct {
	Socket   string `json:"socket"` // Connection ID
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Validate checks that the member carries an id, a name and an avatar.
func (m Member) Validate() error {
	switch {
	case m.Socket == "":
		return errors.New("socket is required")
	case m.Username == "":
		return errors.New("username is required")
	case m.Avatar == "":
		return errors.New("avatar is required")
	}
	return nil
}

// DecodeMember parses and validates a JSON-encoded member.
func DecodeMember(source, key string, data []byte) (Member, error) {
	var m Member
	if err := json.Unmarshal(data, &m); err != nil {
		return Member{}, &DeserializationError{Source: source, Key: key, Err: err}
	}
	if err := m.Validate(); err != nil {
		return Member{}, &DeserializationError{Source: source, Key: key, Err: err}
	}
	return m, nil
}

// DecodeConnectionID parses a JSON string holding a connection ID.
func DecodeConnectionID(source string, data []byte) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", &DeserializationError{Source: source, Err: err}
	}
	if id == "" {
		return "", &DeserializationError{Source: source, Err: errors.New("empty connection id")}
	}
	return id, nil
}
