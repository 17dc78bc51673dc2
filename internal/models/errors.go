package models

import "fmt"

// DeserializationError reports a stored or received payload that does not
// match its expected shape. Key is set when the payload came from a keyed
// structure such as the presence hash.
type DeserializationError struct {
	Source string
	Key    string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("decode %s[%s]: %v", e.Source, e.Key, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}
