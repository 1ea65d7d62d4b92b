// Package messaging holds the in-memory chat and message model of one client session.
//
// All state is owned by the goroutine running Store.Run. Public methods, decoded
// inbound events and timer callbacks are posted to it and applied one at a time,
// in the order they arrive, so no two mutations ever interleave.
package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jobhub/messaging/internal/dispatcher"
	"github.com/jobhub/messaging/internal/model"
)

const (
	defaultTypingTimeout = 5 * time.Second
	defaultAckTimeout    = 10 * time.Second
)

var (
	ErrChatNotFound        = errors.New("messaging: chat not found")
	ErrMessageNotFound     = errors.New("messaging: message not found")
	ErrEmptyMessage        = errors.New("messaging: message has no content or attachments")
	ErrInvalidParticipants = errors.New("messaging: a chat needs at least two distinct participants")
	ErrNotFailed           = errors.New("messaging: only failed messages can be retried")
	ErrStopped             = errors.New("messaging: store is not running")
)

// Emitter sends outbound events; *dispatcher.Dispatcher implements it.
type Emitter interface {
	Emit(ev dispatcher.Event) error
}

type Options struct {
	// TypingTimeout clears a typing indicator that never got its typing_stop.
	TypingTimeout time.Duration
	// AckTimeout marks a pending message failed when no echo matched it in time.
	AckTimeout time.Duration
	NewID      func() string
	Now        func() time.Time
}

type ChangeKind string

const (
	ChangeChatCreated    ChangeKind = "chat_created"
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageUpdated ChangeKind = "message_updated"
	ChangeTyping         ChangeKind = "typing"
	ChangeRead           ChangeKind = "read"
)

// Change tells subscribers what part of the state moved. MessageID is the
// current id of the message, after any server id substitution.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	ChatID    string     `json:"chat_id"`
	MessageID string     `json:"message_id,omitempty"`
}

type subscriber struct {
	id int
	fn func(Change)
}

type Store struct {
	self model.Identity
	out  Emitter
	opts Options

	chats        map[string]*chat
	chatOrder    []string
	directByPair map[string]string
	messages     map[string]*message
	// aliases maps replaced local ids to the server id that superseded them.
	aliases    map[string]string
	byClientID map[string]*message
	seq        uint64

	subs    []subscriber
	nextSub int

	actions chan func()
	stopped chan struct{}
	started atomic.Bool
}

func NewStore(self model.Identity, out Emitter, opts Options) *Store {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		self:         self,
		out:          out,
		opts:         opts,
		chats:        make(map[string]*chat),
		directByPair: make(map[string]string),
		messages:     make(map[string]*message),
		aliases:      make(map[string]string),
		byClientID:   make(map[string]*message),
		actions:      make(chan func()),
		stopped:      make(chan struct{}),
	}
}

// Run applies posted actions until ctx is done. Every other method needs Run
// to be running; after it returns they fail with ErrStopped.
func (s *Store) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		s.stopTimers()
		close(s.stopped)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.actions:
			fn()
		}
	}
}

// Subscribe registers fn for state changes. fn runs on the store goroutine: it
// must return quickly and must not call Store methods itself.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	var id int
	if err := s.do(func() {
		s.nextSub++
		id = s.nextSub
		s.subs = append(s.subs, subscriber{id: id, fn: fn})
	}); err != nil {
		return func() {}
	}
	return func() {
		_ = s.do(func() {
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// do runs fn on the store goroutine and waits for it.
func (s *Store) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.actions <- func() {
		defer close(done)
		fn()
	}:
	case <-s.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// post queues fn without waiting; used by timers.
func (s *Store) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.stopped:
	}
}

func (s *Store) notify(c Change) {
	for _, sub := range s.subs {
		sub.fn(c)
	}
}

func (s *Store) selfID() string {
	return s.self.CurrentUserID()
}

func (s *Store) stopTimers() {
	for _, c := range s.chats {
		for _, t := range c.typing {
			t.timer.Stop()
		}
	}
	for _, m := range s.messages {
		if m.ackTimer != nil {
			m.ackTimer.Stop()
		}
	}
}
