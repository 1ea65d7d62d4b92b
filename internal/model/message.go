package model

import "time"

type DeliveryState string

const (
	// DeliveryPending: отправлено в канал, подтверждения ещё нет.
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

type Attachment struct {
	Name     string `json:"name" validate:"required"`
	URL      string `json:"url" validate:"required"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
}

type Message struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id,omitempty"`
	ChatID        string        `json:"chat_id"`
	SenderID      string        `json:"sender_id"`
	Content       string        `json:"content"`
	Attachments   []Attachment  `json:"attachments,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ReadBy        []string      `json:"read_by"`
	DeliveryState DeliveryState `json:"delivery_state"`
}

// IsReadBy reports whether userID is in ReadBy.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
