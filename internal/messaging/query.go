package messaging

import (
	"slices"
	"strings"

	"github.com/jobhub/messaging/internal/model"
)

// GetChatsForUser returns the chats userID participates in, in creation order,
// with UnreadCount computed for userID.
func (s *Store) GetChatsForUser(userID string) ([]model.Chat, error) {
	var out []model.Chat
	err := s.do(func() {
		out = make([]model.Chat, 0, len(s.chatOrder))
		for _, id := range s.chatOrder {
			c := s.chats[id]
			if slices.Contains(c.participants, userID) {
				out = append(out, s.chatView(c, userID))
			}
		}
	})
	return out, err
}

// GetChat returns one chat as seen by the current user.
func (s *Store) GetChat(chatID string) (model.Chat, error) {
	var (
		out   model.Chat
		found bool
	)
	if err := s.do(func() {
		if c := s.chats[chatID]; c != nil {
			out, found = s.chatView(c, s.selfID()), true
		}
	}); err != nil {
		return model.Chat{}, err
	}
	if !found {
		return model.Chat{}, ErrChatNotFound
	}
	return out, nil
}

// GetMessagesForChat returns the chat's messages ordered by CreatedAt, ties in
// the order the store accepted them.
func (s *Store) GetMessagesForChat(chatID string) ([]model.Message, error) {
	var (
		out   []model.Message
		found bool
	)
	if err := s.do(func() {
		c := s.chats[chatID]
		if c == nil {
			return
		}
		found = true
		ordered := slices.Clone(c.messages)
		slices.SortStableFunc(ordered, func(a, b *message) int {
			return a.createdAt.Compare(b.createdAt)
		})
		out = make([]model.Message, 0, len(ordered))
		for _, m := range ordered {
			out = append(out, m.view())
		}
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrChatNotFound
	}
	return out, nil
}

// GetMessage returns a message by its current or replaced local id.
func (s *Store) GetMessage(messageID string) (model.Message, error) {
	var (
		out   model.Message
		found bool
	)
	if err := s.do(func() {
		if m := s.lookup(messageID); m != nil {
			out, found = m.view(), true
		}
	}); err != nil {
		return model.Message{}, err
	}
	if !found {
		return model.Message{}, ErrMessageNotFound
	}
	return out, nil
}

func (s *Store) chatView(c *chat, viewer string) model.Chat {
	unread := 0
	for _, m := range c.messages {
		if m.senderID == viewer {
			continue
		}
		if _, ok := m.readBy[viewer]; !ok {
			unread++
		}
	}
	typing := make([]string, 0, len(c.typing))
	for id := range c.typing {
		typing = append(typing, id)
	}
	slices.Sort(typing)

	return model.Chat{
		ID:             c.id,
		Kind:           c.kind,
		ParticipantIDs: slices.Clone(c.participants),
		DisplayName:    c.label(viewer),
		LastMessageID:  c.lastMessage,
		CreatedAt:      c.createdAt,
		UnreadCount:    unread,
		TypingUserIDs:  typing,
	}
}

// label is the explicit name, else the other participants as seen by viewer.
func (c *chat) label(viewer string) string {
	if c.displayName != "" {
		return c.displayName
	}
	others := make([]string, 0, len(c.participants))
	for _, id := range c.participants {
		if id != viewer {
			others = append(others, id)
		}
	}
	return strings.Join(others, ", ")
}

func (m *message) view() model.Message {
	readBy := make([]string, 0, len(m.readBy))
	for id := range m.readBy {
		readBy = append(readBy, id)
	}
	slices.Sort(readBy)
	return model.Message{
		ID:            m.id,
		ClientID:      m.clientID,
		ChatID:        m.chatID,
		SenderID:      m.senderID,
		Content:       m.content,
		Attachments:   slices.Clone(m.attachments),
		CreatedAt:     m.createdAt,
		ReadBy:        readBy,
		DeliveryState: m.state,
	}
}
