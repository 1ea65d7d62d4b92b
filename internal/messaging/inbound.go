package messaging

import (
	"slices"
	"time"

	"github.com/jobhub/messaging/internal/dispatcher"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/model"
)

// ReceiveInboundEvent applies a decoded event from the server or another participant.
func (s *Store) ReceiveInboundEvent(ev dispatcher.Event) error {
	return s.do(func() { s.apply(ev) })
}

// Handle is ReceiveInboundEvent shaped as a dispatcher.Handler.
func (s *Store) Handle(ev dispatcher.Event) {
	if err := s.ReceiveInboundEvent(ev); err != nil {
		logger.Debugf("messaging: inbound %s dropped: %v", ev.Kind(), err)
	}
}

func (s *Store) apply(ev dispatcher.Event) {
	switch e := ev.(type) {
	case dispatcher.Message:
		s.applyMessage(e)
	case dispatcher.Typing:
		s.applyTyping(e)
	case dispatcher.Read:
		s.applyRead(e)
	case dispatcher.CreateChat:
		s.applyChatCreated(e)
	default:
		logger.Debugf("messaging: no handler for %T", ev)
	}
}

func (s *Store) applyMessage(e dispatcher.Message) {
	self := s.selfID()

	if e.ID != "" {
		if m := s.lookup(e.ID); m != nil {
			s.reconcile(m, e)
			return
		}
	}
	if e.ClientID != "" {
		if m, ok := s.byClientID[e.ClientID]; ok {
			s.reconcile(m, e)
			return
		}
	}
	if e.SenderID == self {
		if m := s.matchPending(e); m != nil {
			s.reconcile(m, e)
			return
		}
	}

	c := s.chats[e.ChatID]
	if c == nil {
		c = s.implicitChat(e)
	}
	id := e.ID
	if id == "" {
		id = s.opts.NewID()
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.opts.Now()
	}
	m := &message{
		id:          id,
		chatID:      c.id,
		senderID:    e.SenderID,
		content:     e.Content,
		attachments: slices.Clone(e.Attachments),
		createdAt:   createdAt.UTC(),
		readBy:      map[string]struct{}{e.SenderID: {}},
		state:       model.DeliverySent,
	}
	s.appendMessage(c, m)
	s.notify(Change{Kind: ChangeMessageAdded, ChatID: c.id, MessageID: m.id})
}

// matchPending finds the most recent pending message in the echo's chat with
// the same sender and content, falling back to a failed one (late echo after
// the ack timeout). Used when the server does not round-trip ids.
func (s *Store) matchPending(e dispatcher.Message) *message {
	c := s.chats[e.ChatID]
	if c == nil {
		return nil
	}
	var failed *message
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.senderID != e.SenderID || m.content != e.Content {
			continue
		}
		switch m.state {
		case model.DeliveryPending:
			return m
		case model.DeliveryFailed:
			if failed == nil {
				failed = m
			}
		}
	}
	return failed
}

// reconcile merges a server echo into the local entry for the same message.
func (s *Store) reconcile(m *message, e dispatcher.Message) {
	if m.senderID != e.SenderID || m.chatID != e.ChatID {
		logger.Warnf("messaging: echo %s/%s does not match message %s, ignoring", e.ID, e.ClientID, m.id)
		return
	}

	changed := false
	if e.ID != "" && e.ID != m.id {
		if s.substituteID(m, e.ID) {
			changed = true
		} else {
			logger.Warnf("messaging: server id %s already taken, keeping %s", e.ID, m.id)
		}
	}
	if !e.CreatedAt.IsZero() && !e.CreatedAt.Equal(m.createdAt) {
		m.createdAt = e.CreatedAt.UTC()
		changed = true
	}
	if m.state != model.DeliverySent {
		m.state = model.DeliverySent
		if m.ackTimer != nil {
			m.ackTimer.Stop()
			m.ackTimer = nil
		}
		changed = true
	}
	if changed {
		s.notify(Change{Kind: ChangeMessageUpdated, ChatID: m.chatID, MessageID: m.id})
	}
}

// implicitChat creates a direct chat for a message that arrived before its chat did.
func (s *Store) implicitChat(e dispatcher.Message) *chat {
	c := &chat{
		id:           e.ChatID,
		kind:         model.ChatKindDirect,
		participants: normalizeParticipants([]string{e.SenderID, s.selfID()}),
		createdAt:    s.opts.Now().UTC(),
		typing:       make(map[string]*typingEntry),
	}
	if len(c.participants) < 2 {
		c.kind = model.ChatKindGroup
	}
	logger.Debugf("messaging: implicit chat %s for message from %s", c.id, e.SenderID)
	s.addChat(c)
	s.notify(Change{Kind: ChangeChatCreated, ChatID: c.id})
	return c
}

func (s *Store) applyTyping(e dispatcher.Typing) {
	if e.UserID == s.selfID() {
		return
	}
	c := s.chats[e.ChatID]
	if c == nil {
		return
	}

	if !e.Active {
		if entry, ok := c.typing[e.UserID]; ok {
			entry.timer.Stop()
			delete(c.typing, e.UserID)
			s.notify(Change{Kind: ChangeTyping, ChatID: c.id})
		}
		return
	}

	prev, wasTyping := c.typing[e.UserID]
	if wasTyping {
		prev.timer.Stop()
	}
	entry := &typingEntry{}
	userID := e.UserID
	entry.timer = time.AfterFunc(s.opts.TypingTimeout, func() {
		s.post(func() {
			if c.typing[userID] != entry {
				return
			}
			delete(c.typing, userID)
			s.notify(Change{Kind: ChangeTyping, ChatID: c.id})
		})
	})
	c.typing[userID] = entry
	if !wasTyping {
		s.notify(Change{Kind: ChangeTyping, ChatID: c.id})
	}
}

func (s *Store) applyRead(e dispatcher.Read) {
	changed := false
	for _, id := range e.MessageIDs {
		m := s.lookup(id)
		if m == nil || m.chatID != e.ChatID {
			continue
		}
		if m.markRead(e.UserID) {
			changed = true
		}
	}
	if changed {
		s.notify(Change{Kind: ChangeRead, ChatID: e.ChatID})
	}
}

func (s *Store) applyChatCreated(e dispatcher.CreateChat) {
	if e.ChatID != "" {
		if _, ok := s.chats[e.ChatID]; ok {
			return
		}
	}
	ids := normalizeParticipants(e.ParticipantIDs)
	if len(ids) < 2 {
		return
	}

	kind := e.ChatKind
	if kind == "" {
		kind = model.ChatKindGroup
		if len(ids) == 2 {
			kind = model.ChatKindDirect
		}
	}
	if kind == model.ChatKindDirect {
		if _, ok := s.directByPair[pairKey(ids)]; ok {
			return
		}
	}

	id := e.ChatID
	if id == "" {
		id = s.opts.NewID()
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.opts.Now()
	}
	c := &chat{
		id:           id,
		kind:         kind,
		participants: ids,
		displayName:  e.DisplayName,
		createdAt:    createdAt.UTC(),
		typing:       make(map[string]*typingEntry),
	}
	s.addChat(c)
	s.notify(Change{Kind: ChangeChatCreated, ChatID: c.id})
}
