package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jobhub/messaging/internal/logger"
)

const defaultSimDelay = 100 * time.Millisecond

// EchoFunc rewrites an outbound frame into the frame the simulated server sends back.
type EchoFunc func(Frame) Frame

type SimulatorOptions struct {
	// Delay is applied both to reaching open and to every echo.
	Delay time.Duration
	// Echo defaults to returning the frame unchanged.
	Echo EchoFunc
}

type pendingEcho struct {
	frame Frame
	due   time.Time
}

// Simulator is a Channel without a network. It opens after a fixed delay and
// echoes every sent frame back through OnFrame, in send order. It never fails.
type Simulator struct {
	opts   SimulatorOptions
	states listeners[Status]
	frames listeners[[]byte]

	mu     sync.Mutex
	status Status
	held   []Frame
	echoes []pendingEcho
	opened bool
	closed bool
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Echo == nil {
		opts.Echo = func(f Frame) Frame { return f }
	}
	return &Simulator{
		opts:   opts,
		status: Status{State: StateClosed},
		wake:   make(chan struct{}, 1),
	}
}

func (s *Simulator) OnStateChange(fn func(Status)) func() { return s.states.add(fn) }

func (s *Simulator) OnFrame(fn func([]byte)) func() { return s.frames.add(fn) }

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Open ignores endpoint and token; there is nothing to dial.
func (s *Simulator) Open(_, _ string) {
	s.mu.Lock()
	if s.opened || s.closed {
		s.mu.Unlock()
		return
	}
	s.opened = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = Status{State: StateConnecting}
	st := s.status
	s.mu.Unlock()

	s.states.emit(st)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Simulator) Send(f Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status.State != StateOpen {
		s.held = append(s.held, f)
		s.mu.Unlock()
		return nil
	}
	s.echoes = append(s.echoes, pendingEcho{frame: f, due: time.Now().Add(s.opts.Delay)})
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Simulator) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.held = nil
	s.echoes = nil
	cancel := s.cancel
	s.status = Status{State: StateClosed, Terminal: true}
	st := s.status
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.states.emit(st)
}

func (s *Simulator) Wait() {
	s.wg.Wait()
}

func (s *Simulator) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	if !sleep(ctx, s.opts.Delay) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = Status{State: StateOpen}
	due := time.Now().Add(s.opts.Delay)
	for _, f := range s.held {
		s.echoes = append(s.echoes, pendingEcho{frame: f, due: due})
	}
	s.held = nil
	st := s.status
	s.mu.Unlock()
	s.states.emit(st)
	s.signal()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.echoes) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.echoes[0]
			s.echoes = s.echoes[1:]
			s.mu.Unlock()

			if !sleep(ctx, time.Until(next.due)) {
				return
			}
			s.deliver(next.frame)
		}
	}
}

func (s *Simulator) deliver(f Frame) {
	out := s.opts.Echo(f)
	data, err := json.Marshal(out)
	if err != nil {
		logger.Errorf("ws simulator marshal %s: %v", out.Type, err)
		return
	}
	s.frames.emit(data)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
