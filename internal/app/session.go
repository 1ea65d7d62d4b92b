// Package app wires the transport channel, dispatcher and messaging store into
// one client session.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobhub/messaging/internal/config"
	"github.com/jobhub/messaging/internal/dispatcher"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/model"
	"github.com/jobhub/messaging/internal/startup"
	"github.com/jobhub/messaging/internal/storage"
	"github.com/jobhub/messaging/internal/storage/memory"
	"github.com/jobhub/messaging/internal/ws"
)

const redisWait = 30 * time.Second

// Session owns one user's channel, dispatcher and store.
// Lifecycle: New/Build -> Start -> Stop.
type Session struct {
	cfg        *config.Config
	channel    ws.Channel
	dispatcher *dispatcher.Dispatcher
	store      *messaging.Store
	tokens     storage.TokenStore

	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  []func()
	once   sync.Once
}

// Build creates the token store and the channel selected by cfg and wires a session around them.
func Build(ctx context.Context, cfg *config.Config) (*Session, error) {
	tokens, err := openTokens(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(cfg, newChannel(cfg, tokens))
	s.tokens = tokens
	return s, nil
}

// New wires a session around an existing channel.
func New(cfg *config.Config, ch ws.Channel) *Session {
	d := dispatcher.New(ch)
	store := messaging.NewStore(model.StaticIdentity(cfg.UserID), d, messaging.Options{
		TypingTimeout: cfg.TypingTimeout,
		AckTimeout:    cfg.AckTimeout,
	})
	for _, k := range []dispatcher.Kind{
		dispatcher.KindMessage,
		dispatcher.KindTypingStart,
		dispatcher.KindTypingStop,
		dispatcher.KindRead,
		dispatcher.KindCreateChat,
	} {
		d.RegisterHandler(k, store.Handle)
	}
	return &Session{
		cfg:        cfg,
		channel:    ch,
		dispatcher: d,
		store:      store,
	}
}

func (s *Session) Store() *messaging.Store { return s.store }

func (s *Session) Status() ws.Status { return s.channel.Status() }

// OnStatus subscribes to connection status changes.
func (s *Session) OnStatus(fn func(ws.Status)) func() { return s.channel.OnStateChange(fn) }

// Start runs the store, opens the channel and applies the demo seed if configured.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.store.Run(ctx)
	}()

	s.unsub = append(s.unsub,
		s.channel.OnFrame(s.dispatcher.Dispatch),
		s.channel.OnStateChange(logStatus),
	)

	if s.cfg.SeedDemo {
		if err := s.seed(); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
	}

	s.channel.Open(s.cfg.WSURL, s.cfg.AuthToken)
	logger.Infof("session started user=%s simulated=%v", s.cfg.UserID, s.cfg.MockWebSocket)
	return nil
}

// Stop closes the channel, stops the store and releases the token store.
func (s *Session) Stop() {
	s.once.Do(func() {
		s.channel.Close()
		if w, ok := s.channel.(interface{ Wait() }); ok {
			w.Wait()
		}
		for _, fn := range s.unsub {
			fn()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.tokens != nil {
			if err := s.tokens.Close(); err != nil {
				logger.Errorf("token store close: %v", err)
			}
		}
	})
}

// seed adds the welcome chat through the inbound path, as if the server had sent it.
func (s *Session) seed() error {
	peer := "2"
	if s.cfg.UserID == peer {
		peer = "1"
	}
	at := time.Now().UTC()
	events := []dispatcher.Event{
		dispatcher.CreateChat{
			ChatID:         "1",
			ChatKind:       model.ChatKindDirect,
			ParticipantIDs: []string{s.cfg.UserID, peer},
			CreatedAt:      at,
		},
		dispatcher.Message{
			ID:        "1",
			ChatID:    "1",
			SenderID:  peer,
			Content:   "Welcome to the chat!",
			CreatedAt: at,
		},
	}
	for _, ev := range events {
		if err := s.store.ReceiveInboundEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func logStatus(st ws.Status) {
	switch {
	case st.State == ws.StateClosed && st.Terminal:
		logger.Infof("channel closed (attempt=%d)", st.Attempt)
	case st.State == ws.StateClosed:
		logger.Infof("channel closed, reconnect #%d in %v", st.Attempt, st.RetryIn)
	default:
		logger.Debugf("channel %s", st.State)
	}
}

func openTokens(ctx context.Context, cfg *config.Config) (storage.TokenStore, error) {
	if cfg.RedisURL == "" {
		mem := memory.New()
		if cfg.AuthToken != "" {
			if err := mem.SetToken(ctx, cfg.UserID, cfg.AuthToken, 0); err != nil {
				return nil, err
			}
		}
		return mem, nil
	}
	rdb, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, redisWait, "tokens: ")
	if err != nil {
		return nil, err
	}
	if cfg.AuthToken != "" {
		// токен из конфигурации только если в Redis ещё ничего нет
		if _, err := rdb.GetToken(ctx, cfg.UserID); errors.Is(err, storage.ErrNoToken) {
			if err := rdb.SetToken(ctx, cfg.UserID, cfg.AuthToken, 0); err != nil {
				logger.Errorf("tokens: seed %s: %v", cfg.UserID, err)
			}
		}
	}
	return rdb, nil
}

func newChannel(cfg *config.Config, tokens storage.TokenStore) ws.Channel {
	if cfg.MockWebSocket {
		return ws.NewSimulator(ws.SimulatorOptions{
			Delay: cfg.SimDelay,
			Echo:  dispatcher.ServerReceipt(nil),
		})
	}
	return ws.NewClient(ws.ClientOptions{
		Backoff: ws.Backoff{
			Base:        cfg.ReconnectInterval,
			Max:         cfg.MaxReconnectDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		UserID:         cfg.UserID,
		Tokens:         storage.TokenSource(tokens, cfg.UserID),
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
	})
}
