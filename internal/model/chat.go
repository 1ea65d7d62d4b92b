package model

import "time"

type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// Chat is a read-only view of a chat as seen by one participant.
// UnreadCount and TypingUserIDs are computed when the view is built.
type Chat struct {
	ID             string    `json:"id"`
	Kind           ChatKind  `json:"kind"`
	ParticipantIDs []string  `json:"participant_ids"`
	DisplayName    string    `json:"display_name"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UnreadCount    int       `json:"unread_count"`
	TypingUserIDs  []string  `json:"typing_user_ids"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
