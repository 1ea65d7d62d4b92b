package ws

import (
	"errors"
	"time"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

var ErrClosed = errors.New("ws: channel closed")

// Status is the connection state reported to subscribers.
// Attempt is the reconnect attempt counter and is 0 while open.
// RetryIn is set on a closed status when another attempt is scheduled.
// Terminal means reconnection was given up or the channel was closed by the owner.
type Status struct {
	State    State         `json:"state"`
	Attempt  int           `json:"attempt"`
	RetryIn  time.Duration `json:"retry_in,omitempty"`
	Terminal bool          `json:"terminal,omitempty"`
}

// Channel is a duplex frame channel to the messaging server, live or simulated.
//
// Open never fails: connection errors feed the reconnect loop and surface as Status.
// Send never blocks on the network; frames wait in a FIFO until the channel is open.
type Channel interface {
	Open(endpoint, authToken string)
	Send(f Frame) error
	OnStateChange(fn func(Status)) (unsubscribe func())
	OnFrame(fn func([]byte)) (unsubscribe func())
	Status() Status
	Close()
}

var (
	_ Channel = (*Client)(nil)
	_ Channel = (*Simulator)(nil)
)
