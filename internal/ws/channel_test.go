package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusLog struct {
	mu   sync.Mutex
	all  []Status
	last chan Status
}

func watch(ch Channel) *statusLog {
	l := &statusLog{last: make(chan Status, 64)}
	ch.OnStateChange(func(s Status) {
		l.mu.Lock()
		l.all = append(l.all, s)
		l.mu.Unlock()
		select {
		case l.last <- s:
		default:
		}
	})
	return l
}

func (l *statusLog) snapshot() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.all...)
}

func (l *statusLog) waitFor(t *testing.T, match func(Status) bool) Status {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-l.last:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("status not reached, got %+v", l.snapshot())
			return Status{}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustFrame(t *testing.T, typ string, payload any) Frame {
	t.Helper()
	f, err := NewFrame(typ, payload)
	require.NoError(t, err)
	return f
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 3}
	want := []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, time.Second, time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))

	var def Backoff
	assert.Equal(t, 3*time.Second, def.Delay(1))
	assert.Equal(t, 6*time.Second, def.Delay(2))
	assert.True(t, def.Exhausted(5))

	uncapped := Backoff{Base: time.Second}
	prev := time.Duration(0)
	for n := 1; n < 80; n++ {
		d := uncapped.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	c := NewClient(ClientOptions{
		Backoff: Backoff{Base: 5 * time.Millisecond, MaxAttempts: 3},
		UserID:  "1",
	})
	log := watch(c)
	c.Open(endpoint, "")

	final := log.waitFor(t, func(s Status) bool { return s.Terminal })
	c.Wait()

	assert.Equal(t, StateClosed, final.State)
	assert.Equal(t, 3, final.Attempt)

	var delays []time.Duration
	for _, s := range log.snapshot() {
		if s.State == StateClosed && !s.Terminal {
			delays = append(delays, s.RetryIn)
		}
	}
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}, delays)

	assert.NoError(t, c.Send(mustFrame(t, "message", map[string]string{"k": "v"})))
	c.Close()
	assert.ErrorIs(t, c.Send(mustFrame(t, "message", nil)), ErrClosed)
}

type serverConn struct {
	query  string
	header http.Header
	frames chan Frame
	conn   *websocket.Conn
}

func newEchoServer(t *testing.T, onConn func(*serverConn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{
			query:  r.URL.Query().Get("token"),
			header: r.Header.Clone(),
			frames: make(chan Frame, 16),
			conn:   conn,
		}
		go func() {
			defer close(sc.frames)
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				f, err := ParseFrame(raw)
				if err != nil {
					return
				}
				sc.frames <- f
			}
		}()
		onConn(sc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func nextFrame(t *testing.T, sc *serverConn) Frame {
	t.Helper()
	select {
	case f, ok := <-sc.frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame")
		return Frame{}
	}
}

func TestClientAuthFrameAndQueueOrder(t *testing.T) {
	conns := make(chan *serverConn, 1)
	srv := newEchoServer(t, func(sc *serverConn) { conns <- sc })

	c := NewClient(ClientOptions{Backoff: Backoff{Base: 10 * time.Millisecond}, UserID: "1"})
	received := make(chan []byte, 1)
	c.OnFrame(func(b []byte) { received <- b })
	log := watch(c)

	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, c.Send(mustFrame(t, "message", map[string]string{"content": body})))
	}
	assert.Equal(t, StateClosed, c.Status().State)

	c.Open(wsURL(srv), "tok")
	defer func() {
		c.Close()
		c.Wait()
	}()

	sc := <-conns
	assert.Equal(t, "tok", sc.query)
	assert.Equal(t, "Bearer tok", sc.header.Get("Authorization"))

	auth := nextFrame(t, sc)
	assert.Equal(t, TypeAuth, auth.Type)
	var ap AuthPayload
	require.NoError(t, json.Unmarshal(auth.Payload, &ap))
	assert.Equal(t, AuthPayload{UserID: "1", Token: "tok"}, ap)

	for _, want := range []string{"a", "b", "c"} {
		f := nextFrame(t, sc)
		assert.JSONEq(t, `{"content":"`+want+`"}`, string(f.Payload))
	}

	log.waitFor(t, func(s Status) bool { return s.State == StateOpen })

	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","payload":{}}`)))
	select {
	case b := <-received:
		assert.JSONEq(t, `{"type":"message","payload":{}}`, string(b))
	case <-time.After(3 * time.Second):
		t.Fatal("inbound frame not delivered")
	}
}

func TestClientReconnectsWithFreshToken(t *testing.T) {
	conns := make(chan *serverConn, 4)
	srv := newEchoServer(t, func(sc *serverConn) { conns <- sc })

	var (
		mu     sync.Mutex
		issued int
	)
	c := NewClient(ClientOptions{
		Backoff: Backoff{Base: 10 * time.Millisecond, MaxAttempts: 3},
		UserID:  "1",
		Tokens: func(context.Context) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			issued++
			return fmt.Sprintf("t%d", issued), nil
		},
	})
	log := watch(c)
	c.Open(wsURL(srv), "static")
	defer func() {
		c.Close()
		c.Wait()
	}()

	first := <-conns
	assert.Equal(t, "t1", first.query)
	nextFrame(t, first)
	log.waitFor(t, func(s Status) bool { return s.State == StateOpen })

	// сервер рвёт соединение
	require.NoError(t, first.conn.Close())
	log.waitFor(t, func(s Status) bool { return s.State == StateClosed && s.Attempt == 1 })

	second := <-conns
	assert.Equal(t, "t2", second.query)
	auth := nextFrame(t, second)
	assert.Equal(t, TypeAuth, auth.Type)

	open := log.waitFor(t, func(s Status) bool { return s.State == StateOpen })
	assert.Equal(t, 0, open.Attempt)

	require.NoError(t, c.Send(mustFrame(t, "read", map[string]string{"chatId": "x"})))
	f := nextFrame(t, second)
	assert.Equal(t, "read", f.Type)
}

func TestClientCloseIsTerminal(t *testing.T) {
	c := NewClient(ClientOptions{})
	log := watch(c)
	c.Close()
	c.Close()

	st := log.waitFor(t, func(s Status) bool { return s.Terminal })
	assert.Equal(t, StateClosed, st.State)
	assert.Len(t, log.snapshot(), 1)

	// Open после Close ничего не делает
	c.Open("ws://127.0.0.1:1", "")
	c.Wait()
	assert.Equal(t, Status{State: StateClosed, Terminal: true}, c.Status())
}

func TestSimulatorEchoesInOrder(t *testing.T) {
	sim := NewSimulator(SimulatorOptions{
		Delay: 10 * time.Millisecond,
		Echo: func(f Frame) Frame {
			f.Type = "echo:" + f.Type
			return f
		},
	})
	log := watch(sim)

	var (
		mu  sync.Mutex
		got []string
	)
	sim.OnFrame(func(b []byte) {
		f, err := ParseFrame(b)
		assert.NoError(t, err)
		mu.Lock()
		got = append(got, f.Type)
		mu.Unlock()
	})

	// до Open кадры держатся и уходят после открытия
	require.NoError(t, sim.Send(Frame{Type: "a"}))
	require.NoError(t, sim.Send(Frame{Type: "b"}))

	sim.Open("", "")
	log.waitFor(t, func(s Status) bool { return s.State == StateOpen })
	require.NoError(t, sim.Send(Frame{Type: "c"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"echo:a", "echo:b", "echo:c"}, got)
	mu.Unlock()

	states := log.snapshot()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, StateConnecting, states[0].State)
	assert.Equal(t, StateOpen, states[1].State)

	sim.Close()
	sim.Wait()
	assert.True(t, sim.Status().Terminal)
	assert.ErrorIs(t, sim.Send(Frame{Type: "d"}), ErrClosed)
}

func TestListenersUnsubscribe(t *testing.T) {
	var l listeners[int]
	var a, b []int
	unsubA := l.add(func(v int) { a = append(a, v) })
	l.add(func(v int) { b = append(b, v) })

	l.emit(1)
	unsubA()
	unsubA()
	l.emit(2)

	assert.Equal(t, []int{1}, a)
	assert.Equal(t, []int{1, 2}, b)
}
