package dispatcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/ws"
)

// Handler receives decoded inbound events.
type Handler func(Event)

// FrameSender is the outbound side of a channel.
type FrameSender interface {
	Send(f ws.Frame) error
}

// Dispatcher routes inbound frames to handlers by kind and encodes outbound events
// onto the channel. Its only state is the handler table.
type Dispatcher struct {
	out FrameSender

	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func New(out FrameSender) *Dispatcher {
	return &Dispatcher{
		out:      out,
		handlers: make(map[Kind][]Handler),
	}
}

// RegisterHandler adds h for kind. Several handlers per kind run in registration order.
func (d *Dispatcher) RegisterHandler(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Dispatch decodes raw and calls the handlers for its kind. Malformed frames are
// dropped with a warning and unknown kinds are skipped, so a bad frame never
// reaches the store or stops the channel.
func (d *Dispatcher) Dispatch(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		var derr *DecodeError
		switch {
		case errors.As(err, &derr):
			logger.Warnf("dispatcher: dropping frame: %v", derr)
		case errors.Is(err, ErrUnknownKind):
			logger.Debugf("dispatcher: ignoring frame: %v", err)
		default:
			logger.Warnf("dispatcher: dropping frame: %v", err)
		}
		return
	}

	d.mu.RLock()
	hs := d.handlers[ev.Kind()]
	d.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// Emit encodes ev and hands it to the channel.
func (d *Dispatcher) Emit(ev Event) error {
	f, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := d.out.Send(f); err != nil {
		return fmt.Errorf("emit %s: %w", ev.Kind(), err)
	}
	return nil
}
