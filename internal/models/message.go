package models

import (
	"time"
)

// Direction tags a message relative to the local user so the rendering
// layer never has to compare sender ids itself.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// DeleteScope distinguishes a full removal from a per-user soft removal.
type DeleteScope string

const (
	DeleteScopeEveryone DeleteScope = "everyone"
	DeleteScopeMe       DeleteScope = "me"
)

// ConversationKind distinguishes a 1:1 thread from a group thread.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Message is one entry in a conversation's ordered sequence. The ID is
// unique within a conversation once assigned by the backend; a pending
// outgoing message carries a client-generated placeholder id until the
// acknowledgement arrives.
type Message struct {
	ID             string    `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
	IsDeleted      bool      `json:"is_deleted"`
	AttachmentURLs []string  `json:"attachment_urls,omitempty"`
	Direction      Direction `json:"direction"`

	// Pending marks an optimistic local entry that has not been
	// acknowledged by the backend yet. Failed marks one whose send
	// attempt returned an error; it stays visible so the user can retry.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// ResolveDirection sets the direction tag by comparing the sender against
// the local identity.
func (m *Message) ResolveDirection(localUserID string) {
	if m.SenderID == localUserID {
		m.Direction = DirectionOutgoing
	} else {
		m.Direction = DirectionIncoming
	}
}

// Profile is the cached identity of a message sender, used in group
// conversations to resolve a sender id to a display name and avatar.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// GetDisplayName returns the best available human-readable name.
func (p *Profile) GetDisplayName() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}
