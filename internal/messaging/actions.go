package messaging

import (
	"slices"
	"strings"
	"time"

	"github.com/jobhub/messaging/internal/dispatcher"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/model"
)

type chatOptions struct {
	displayName string
	group       bool
}

type ChatOption func(*chatOptions)

// WithDisplayName sets the chat label instead of deriving it from participants.
func WithDisplayName(name string) ChatOption {
	return func(o *chatOptions) { o.displayName = strings.TrimSpace(name) }
}

// AsGroup creates a group chat even for two participants.
func AsGroup() ChatOption {
	return func(o *chatOptions) { o.group = true }
}

// CreateChat creates a chat for the given participant set and announces it
// with a create_chat event. A single id means a chat with the current user.
// A direct chat for a pair that already has one is returned as is and
// nothing is sent.
func (s *Store) CreateChat(participantIDs []string, opts ...ChatOption) (model.Chat, error) {
	defer logger.DeferLogDuration("messaging.CreateChat", time.Now())()

	var o chatOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		out model.Chat
		err error
	)
	doErr := s.do(func() {
		self := s.selfID()
		ids := normalizeParticipants(participantIDs)
		if len(ids) == 1 && ids[0] != self {
			ids = normalizeParticipants(append(ids, self))
		}
		if len(ids) < 2 {
			err = ErrInvalidParticipants
			return
		}

		kind := model.ChatKindGroup
		if len(ids) == 2 && !o.group {
			kind = model.ChatKindDirect
			if id, ok := s.directByPair[pairKey(ids)]; ok {
				out = s.chatView(s.chats[id], self)
				return
			}
		}

		c := &chat{
			id:           s.opts.NewID(),
			kind:         kind,
			participants: ids,
			displayName:  o.displayName,
			createdAt:    s.opts.Now().UTC(),
			typing:       make(map[string]*typingEntry),
		}
		s.addChat(c)
		s.emit(dispatcher.CreateChat{
			ChatID:         c.id,
			ChatKind:       c.kind,
			DisplayName:    c.displayName,
			ParticipantIDs: slices.Clone(c.participants),
			CreatedAt:      c.createdAt,
		})
		out = s.chatView(c, self)
		s.notify(Change{Kind: ChangeChatCreated, ChatID: c.id})
	})
	if doErr != nil {
		return model.Chat{}, doErr
	}
	return out, err
}

// SendMessage appends a pending message authored by the current user and sends
// it. The message is visible immediately; it turns sent when its echo arrives
// and failed when none does within the ack timeout.
func (s *Store) SendMessage(chatID, content string, attachments []model.Attachment) (model.Message, error) {
	defer logger.DeferLogDuration("messaging.SendMessage", time.Now())()

	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return model.Message{}, ErrEmptyMessage
	}

	var (
		out model.Message
		err error
	)
	doErr := s.do(func() {
		c := s.chats[chatID]
		if c == nil {
			err = ErrChatNotFound
			return
		}
		self := s.selfID()
		id := s.opts.NewID()
		m := &message{
			id:          id,
			clientID:    id,
			chatID:      chatID,
			senderID:    self,
			content:     content,
			attachments: slices.Clone(attachments),
			createdAt:   c.nextTimestamp(s.opts.Now().UTC()),
			readBy:      map[string]struct{}{self: {}},
			state:       model.DeliveryPending,
		}
		s.appendMessage(c, m)
		s.sendMessage(m)
		out = m.view()
		s.notify(Change{Kind: ChangeMessageAdded, ChatID: chatID, MessageID: m.id})
	})
	if doErr != nil {
		return model.Message{}, doErr
	}
	return out, err
}

// RetryMessage sends a failed message again under the same client id.
func (s *Store) RetryMessage(messageID string) (model.Message, error) {
	var (
		out model.Message
		err error
	)
	doErr := s.do(func() {
		m := s.lookup(messageID)
		if m == nil {
			err = ErrMessageNotFound
			return
		}
		if m.state != model.DeliveryFailed {
			err = ErrNotFailed
			return
		}
		m.state = model.DeliveryPending
		s.sendMessage(m)
		out = m.view()
		s.notify(Change{Kind: ChangeMessageUpdated, ChatID: m.chatID, MessageID: m.id})
	})
	if doErr != nil {
		return model.Message{}, doErr
	}
	return out, err
}

// MarkRead adds the current user to readBy of the given messages (all messages
// of the chat when messageIDs is empty) and sends a read receipt.
func (s *Store) MarkRead(chatID string, messageIDs []string) error {
	var err error
	doErr := s.do(func() {
		c := s.chats[chatID]
		if c == nil {
			err = ErrChatNotFound
			return
		}
		self := s.selfID()

		targets := c.messages
		if len(messageIDs) > 0 {
			targets = make([]*message, 0, len(messageIDs))
			for _, id := range messageIDs {
				if m := s.lookup(id); m != nil && m.chatID == chatID {
					targets = append(targets, m)
				}
			}
		}

		var (
			ids     []string
			changed bool
		)
		for _, m := range targets {
			if m.senderID == self {
				continue
			}
			if m.markRead(self) {
				changed = true
			}
			ids = append(ids, m.id)
		}
		if len(ids) == 0 {
			return
		}
		s.emit(dispatcher.Read{ChatID: chatID, UserID: self, MessageIDs: ids})
		if changed {
			s.notify(Change{Kind: ChangeRead, ChatID: chatID})
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// StartTyping tells the other participants the current user is typing.
func (s *Store) StartTyping(chatID string) error {
	return s.sendTyping(chatID, true)
}

func (s *Store) StopTyping(chatID string) error {
	return s.sendTyping(chatID, false)
}

func (s *Store) sendTyping(chatID string, active bool) error {
	var err error
	doErr := s.do(func() {
		if s.chats[chatID] == nil {
			err = ErrChatNotFound
			return
		}
		s.emit(dispatcher.Typing{Active: active, ChatID: chatID, UserID: s.selfID()})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Store) sendMessage(m *message) {
	s.emit(dispatcher.Message{
		ClientID:    m.clientID,
		ChatID:      m.chatID,
		SenderID:    m.senderID,
		Content:     m.content,
		Attachments: slices.Clone(m.attachments),
		CreatedAt:   m.createdAt,
	})
	s.armAck(m)
}

// armAck (re)starts the reconciliation timeout of a pending message.
func (s *Store) armAck(m *message) {
	if m.ackTimer != nil {
		m.ackTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.opts.AckTimeout, func() {
		s.post(func() {
			if m.ackTimer != t || m.state != model.DeliveryPending {
				return
			}
			m.ackTimer = nil
			m.state = model.DeliveryFailed
			logger.Warnf("messaging: message %s in chat %s not acknowledged within %v", m.id, m.chatID, s.opts.AckTimeout)
			s.notify(Change{Kind: ChangeMessageUpdated, ChatID: m.chatID, MessageID: m.id})
		})
	})
	m.ackTimer = t
}

// emit sends ev; a failure leaves local state as is, pending messages will time out.
func (s *Store) emit(ev dispatcher.Event) {
	if err := s.out.Emit(ev); err != nil {
		logger.Warnf("messaging: %v", err)
	}
}
