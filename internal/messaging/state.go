package messaging

import (
	"slices"
	"strings"
	"time"

	"github.com/jobhub/messaging/internal/model"
)

type typingEntry struct {
	timer *time.Timer
}

type chat struct {
	id           string
	kind         model.ChatKind
	participants []string
	displayName  string
	lastMessage  string
	createdAt    time.Time
	messages     []*message
	typing       map[string]*typingEntry
}

type message struct {
	id          string
	clientID    string
	chatID      string
	senderID    string
	content     string
	attachments []model.Attachment
	createdAt   time.Time
	readBy      map[string]struct{}
	state       model.DeliveryState
	seq         uint64
	ackTimer    *time.Timer
}

// normalizeParticipants drops empty and duplicate ids and sorts the rest.
func normalizeParticipants(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// pairKey identifies a direct chat by its (sorted) participant pair.
func pairKey(sorted []string) string {
	return strings.Join(sorted, "\x00")
}

// nextTimestamp keeps local sends in call order even if the wall clock steps back.
func (c *chat) nextTimestamp(now time.Time) time.Time {
	for _, m := range c.messages {
		if m.createdAt.After(now) {
			now = m.createdAt
		}
	}
	return now
}

func (s *Store) addChat(c *chat) {
	s.chats[c.id] = c
	s.chatOrder = append(s.chatOrder, c.id)
	if c.kind == model.ChatKindDirect && len(c.participants) == 2 {
		key := pairKey(c.participants)
		if _, ok := s.directByPair[key]; !ok {
			s.directByPair[key] = c.id
		}
	}
}

func (s *Store) appendMessage(c *chat, m *message) {
	s.seq++
	m.seq = s.seq
	c.messages = append(c.messages, m)
	c.lastMessage = m.id
	s.messages[m.id] = m
	if m.clientID != "" {
		s.byClientID[m.clientID] = m
	}
}

// lookup resolves a message by current id or by a local id that was replaced.
func (s *Store) lookup(id string) *message {
	if m, ok := s.messages[id]; ok {
		return m
	}
	if cur, ok := s.aliases[id]; ok {
		return s.messages[cur]
	}
	return nil
}

// substituteID re-keys m under the server-assigned id.
func (s *Store) substituteID(m *message, serverID string) bool {
	if other, ok := s.messages[serverID]; ok && other != m {
		return false
	}
	old := m.id
	delete(s.messages, old)
	m.id = serverID
	s.messages[serverID] = m
	s.aliases[old] = serverID
	if c := s.chats[m.chatID]; c != nil && c.lastMessage == old {
		c.lastMessage = serverID
	}
	return true
}

func (m *message) markRead(userID string) bool {
	if _, ok := m.readBy[userID]; ok {
		return false
	}
	m.readBy[userID] = struct{}{}
	return true
}
