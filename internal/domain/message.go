package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageError   MessageType = "ERROR"
	MessageWarning MessageType = "WARNING"
)

// LogChunk is the raw log text fetched from URL.
type LogChunk struct {
	URL  string `json:"logUrl"`
	Text string `json:"text"`
}

// Message is a user-visible diagnostic.
type Message struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Text       string      `json:"message"`
	URL        string      `json:"url,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func NewErrorMessage(url string, err error) Message {
	return Message{
		ID:         uuid.NewString(),
		Type:       MessageError,
		Text:       err.Error(),
		URL:        url,
		OccurredAt: time.Now().UTC(),
	}
}
