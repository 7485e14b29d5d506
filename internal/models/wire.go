package models

import (
	"fmt"
	"strconv"
	"time"
)

// The backend serializes "never deleted" as a zero date rather than
// omitting the field. The sentinel comparison is part of the wire
// contract and must be applied identically to history records and live
// push payloads.
const zeroDateSentinel = "0001-01-01T00:00:00"

// serverTimeLayouts covers the formats the backend has been observed to
// emit: RFC3339 with zone, and a naive layout with no zone suffix that
// must be interpreted as UTC. Parsing naive timestamps in the local zone
// would skew ordering against zoned live events.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseServerTime parses a backend timestamp, treating naive values as UTC.
func ParseServerTime(value string) (time.Time, error) {
	for _, layout := range serverTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized server timestamp %q", value)
}

// IsZeroDate reports whether a deletedAt value is the backend's
// "not deleted" sentinel. Empty values count as not deleted too.
func IsZeroDate(value string) bool {
	if value == "" || value == zeroDateSentinel {
		return true
	}
	t, err := ParseServerTime(value)
	if err != nil {
		// Unparseable deletion stamps are treated as not deleted rather
		// than tombstoning a message on garbage input.
		return true
	}
	return t.IsZero() || t.Year() == 1
}

// WireMessage is a message record as the backend serializes it, shared by
// the history endpoint and the live push channel.
type WireMessage struct {
	ID             string   `json:"id"`
	ConversationID int64    `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	Content        string   `json:"content"`
	SentAt         string   `json:"sent_at"`
	DeletedAt      string   `json:"deleted_at,omitempty"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
}

// ToMessage normalizes a wire record into the domain model.
func (w *WireMessage) ToMessage() (*Message, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("message record missing id")
	}
	sentAt, err := ParseServerTime(w.SentAt)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", w.ID, err)
	}
	return &Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Text:           w.Content,
		SentAt:         sentAt,
		IsDeleted:      !IsZeroDate(w.DeletedAt),
		AttachmentURLs: w.AttachmentURLs,
	}, nil
}

// ChatEvent is one frame on the live push channel.
type ChatEvent struct {
	Type      string       `json:"type"`
	Message   *WireMessage `json:"message,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Scope     DeleteScope  `json:"scope,omitempty"`
}

// Event types delivered by the live push channel.
const (
	EventTypeMessage = "message"
	EventTypeDelete  = "delete"
)

// FormatConversationID renders a conversation id the way the backend's
// URL paths expect it.
func FormatConversationID(id int64) string {
	return strconv.FormatInt(id, 10)
}
