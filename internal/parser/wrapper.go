package parser

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a payload is not a JSON wrapper object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptyMessage is returned when the wrapper has no message text.
	ErrEmptyMessage = errors.New("empty message")
)

// wrapper is the {"message": "..."} envelope carried by both listeners.
type wrapper struct {
	Message *string `json:"message"`
}

// DecodeWrapper extracts the raw log text from a wrapper payload.
func DecodeWrapper(payload []byte) (string, error) {
	var w wrapper
	if err := json.Unmarshal(payload, &w); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Message == nil || *w.Message == "" {
		return "", ErrEmptyMessage
	}
	return *w.Message, nil
}

// EncodeWrapper builds the wrapper payload for message.
func EncodeWrapper(message string) ([]byte, error) {
	return json.Marshal(wrapper{Message: &message})
}
