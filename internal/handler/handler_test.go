package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jobhub/messaging/internal/dispatcher"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/model"
	"github.com/jobhub/messaging/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopEmitter struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (e *nopEmitter) Emit(ev dispatcher.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type fixedStatus ws.Status

func (s fixedStatus) Status() ws.Status { return ws.Status(s) }

type fixture struct {
	store *messaging.Store
	out   *nopEmitter
	ui    *WSHandler
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	out := &nopEmitter{}
	store := messaging.NewStore(model.StaticIdentity("1"), out, messaging.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go store.Run(ctx)
	t.Cleanup(cancel)

	ui := NewWSHandler("*")
	r := chi.NewRouter()
	Mount(r, Deps{
		Store:     store,
		Self:      model.StaticIdentity("1"),
		Status:    fixedStatus{State: ws.StateOpen},
		Simulated: true,
		UI:        ui,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{store: store, out: out, ui: ui, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestChatsAPI(t *testing.T) {
	f := newFixture(t)

	var chat model.Chat
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/chats", `{"participant_ids":["2"]}`, &chat))
	assert.Equal(t, model.ChatKindDirect, chat.Kind)

	var again model.Chat
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/chats", `{"participant_ids":["2"]}`, &again))
	assert.Equal(t, chat.ID, again.ID)

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/chats", `{"participant_ids":[]}`, &errResp))
	assert.NotEmpty(t, errResp.Error)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/chats", `{"participant_ids":["1"]}`, nil))

	var chats []model.Chat
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/chats", "", &chats))
	require.Len(t, chats, 1)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/chats?user_id=3", "", &chats))
	assert.Empty(t, chats)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/chats/missing", "", nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/typing", `{"active":true}`, nil))
}

func TestMessagesAPI(t *testing.T) {
	f := newFixture(t)
	chat, err := f.store.CreateChat([]string{"2"})
	require.NoError(t, err)
	base := "/api/chats/" + chat.ID

	var msg model.Message
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, base+"/messages", `{"content":"hi"}`, &msg))
	assert.Equal(t, model.DeliveryPending, msg.DeliveryState)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/messages", `{}`, nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/messages", `{"content":"   "}`, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/chats/nope/messages", `{"content":"x"}`, nil))

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.store.ReceiveInboundEvent(dispatcher.Message{
			ID: id, ChatID: chat.ID, SenderID: "2", Content: id,
			CreatedAt: msg.CreatedAt.Add(time.Duration(i+1) * time.Second),
		}))
	}

	var page []model.Message
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/messages?limit=2", "", &page))
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "c", page[1].ID)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/messages?limit=2&offset=2", "", &page))
	require.Len(t, page, 2)
	assert.Equal(t, msg.ID, page[0].ID)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, base+"/read", "", nil))
	got, err := f.store.GetChat(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/retry", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/messages/nope/retry", "", nil))
}

func TestConnectionAndHealth(t *testing.T) {
	f := newFixture(t)

	var resp map[string]any
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/connection", "", &resp))
	assert.Equal(t, "open", resp["state"])
	assert.Equal(t, true, resp["connected"])
	assert.Equal(t, "1", resp["user_id"])
	assert.Equal(t, true, resp["simulated"])

	res, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUIStream(t *testing.T) {
	f := newFixture(t)
	unsubscribe := f.store.Subscribe(f.ui.PublishChange)
	t.Cleanup(unsubscribe)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// клиент регистрируется после Upgrade; ждём, пока он появится
	require.Eventually(t, func() bool {
		f.ui.mu.Lock()
		defer f.ui.mu.Unlock()
		return len(f.ui.clients) == 1
	}, time.Second, 5*time.Millisecond)

	f.ui.PublishStatus(ws.Status{State: ws.StateConnecting})
	_, err = f.store.CreateChat([]string{"2"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)
	assert.JSONEq(t, `{"state":"connecting","attempt":0}`, string(ev.Payload))

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "change", ev.Type)
	var change messaging.Change
	require.NoError(t, json.Unmarshal(ev.Payload, &change))
	assert.Equal(t, messaging.ChangeChatCreated, change.Kind)
}

func TestCheckOrigin(t *testing.T) {
	h := NewWSHandler("https://a.example, https://b.example")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://b.example")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}
