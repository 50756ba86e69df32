// Package feed reads raw channel messages from files or Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadMessage wraps a single undecodable message. Sources keep going
// after returning it.
var ErrBadMessage = errors.New("bad message")

// Message is one post as delivered by a channel.
type Message struct {
	Channel  string    `json:"channel"`
	Text     string    `json:"text"`
	ID       string    `json:"id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Author   string    `json:"author,omitempty"`
	PostedAt time.Time `json:"posted_at,omitempty"`
}

// Source yields messages in delivery order. Next returns io.EOF when a
// finite source is exhausted.
type Source interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Decode parses a message payload. JSON objects are decoded as Message;
// anything else is taken as the raw text of a post on channel.
func Decode(data []byte, channel string) (Message, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return Message{Channel: channel, Text: string(data)}, nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if m.Channel == "" {
		m.Channel = channel
	}
	return m, nil
}
