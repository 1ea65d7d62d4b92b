package dispatcher

import (
	"time"

	"github.com/jobhub/messaging/internal/model"
)

// Kind is the "type" of a frame.
type Kind string

const (
	KindMessage     Kind = "message"
	KindTypingStart Kind = "typing_start"
	KindTypingStop  Kind = "typing_stop"
	KindRead        Kind = "read"
	KindCreateChat  Kind = "create_chat"
)

// Event is a decoded frame. The same types travel in both directions.
type Event interface {
	Kind() Kind
}

// Message carries a chat message. ID is the server id and is empty on outbound
// frames; ClientID is the sender's local id and round-trips through the server.
type Message struct {
	ID          string             `json:"id,omitempty"`
	ClientID    string             `json:"clientId,omitempty"`
	ChatID      string             `json:"chatId" validate:"required"`
	SenderID    string             `json:"senderId" validate:"required"`
	Content     string             `json:"content" validate:"required_without=Attachments"`
	Attachments []model.Attachment `json:"attachments,omitempty" validate:"omitempty,dive"`
	CreatedAt   time.Time          `json:"createdAt,omitzero"`
}

func (Message) Kind() Kind { return KindMessage }

// Typing is typing_start when Active, typing_stop otherwise.
type Typing struct {
	Active bool   `json:"-"`
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

func (t Typing) Kind() Kind {
	if t.Active {
		return KindTypingStart
	}
	return KindTypingStop
}

// Read is a read receipt from UserID for MessageIDs.
type Read struct {
	ChatID     string   `json:"chatId" validate:"required"`
	UserID     string   `json:"userId" validate:"required"`
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
}

func (Read) Kind() Kind { return KindRead }

// CreateChat announces a chat. Only ParticipantIDs is required on the wire;
// the rest lets the originator recognise the echo of its own chat.
type CreateChat struct {
	ChatID         string         `json:"chatId,omitempty"`
	ChatKind       model.ChatKind `json:"kind,omitempty" validate:"omitempty,oneof=direct group"`
	DisplayName    string         `json:"displayName,omitempty"`
	ParticipantIDs []string       `json:"participantIds" validate:"required,min=2,dive,required"`
	CreatedAt      time.Time      `json:"createdAt,omitzero"`
}

func (CreateChat) Kind() Kind { return KindCreateChat }
