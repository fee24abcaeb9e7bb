package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/hub"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/service"
)

type wsFixture struct {
	server *httptest.Server
	hub    *hub.Hub
	svc    service.ChatService
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wsCfg := config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
	h := hub.NewHub(hub.NewRooms(), wsCfg)
	go h.Run()

	repo := repository.NewMemoryChatRepository(idgen.NewULIDSequencer(nil))
	svc := service.NewChatService(repo, nil, h, nil, service.Config{SnapshotSize: 10})

	r := gin.New()
	NewWSHandler(h, svc, wsCfg).RegisterRoutes(r.Group("/api/v1"))
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		server.Close()
	})
	return &wsFixture{server: server, hub: h, svc: svc}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/chats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(event))
}

type wsEvent struct {
	Type        string            `json:"type"`
	ObjectID    string            `json:"object_id"`
	ChatID      string            `json:"chat_id"`
	Code        string            `json:"code"`
	Detail      string            `json:"detail"`
	ClientMsgID string            `json:"client_message_id"`
	Duplicate   bool              `json:"duplicate"`
	UnreadCount int               `json:"unread_count"`
	Message     *domain.Message   `json:"message"`
	Messages    []*domain.Message `json:"messages"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev wsEvent
	require.NoError(t, json.Unmarshal(data, &ev), string(data))
	return ev
}

// assertSilent must be the last read on conn: a timed out read poisons it.
func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected event: %s", data)
}

func subscribe(t *testing.T, conn *websocket.Conn, objectID string) wsEvent {
	t.Helper()
	sendEvent(t, conn, map[string]string{"type": domain.MsgTypeSubscribe, "object_id": objectID})
	ack := readEvent(t, conn)
	require.Equal(t, domain.MsgTypeSubscribed, ack.Type)
	require.Equal(t, objectID, ack.ObjectID)
	snap := readEvent(t, conn)
	require.Equal(t, domain.MsgTypeHistorySnapshot, snap.Type)
	return snap
}

func TestSubscribeThenPeerSend(t *testing.T) {
	f := newWSFixture(t)
	watcher := f.dial(t)
	sender := f.dial(t)

	snap := subscribe(t, watcher, "OBJ-1001")
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.ChatID)

	sendEvent(t, sender, map[string]string{
		"type":              domain.MsgTypeSendMessage,
		"object_id":         "OBJ-1001",
		"author":            "user-B",
		"body":              "Ack",
		"client_message_id": "c-1",
	})

	ack := readEvent(t, sender)
	require.Equal(t, domain.MsgTypeAck, ack.Type, ack.Detail)
	assert.Equal(t, "c-1", ack.ClientMsgID)
	require.NotNil(t, ack.Message)

	created := readEvent(t, watcher)
	require.Equal(t, domain.MsgTypeMessageCreated, created.Type)
	assert.Equal(t, ack.Message.ID, created.Message.ID)
	assert.Equal(t, ack.Message.ChatID, created.ChatID)
	assert.Equal(t, "Ack", created.Message.Body)

	assertSilent(t, watcher)
}

func TestSenderReceivesAckAndBroadcastWhenSubscribed(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, "OBJ-1")

	sendEvent(t, conn, map[string]string{
		"type": domain.MsgTypeSendMessage, "object_id": "OBJ-1", "author": "a", "body": "hi",
	})

	got := map[string]wsEvent{}
	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn)
		got[ev.Type] = ev
	}
	require.Contains(t, got, domain.MsgTypeAck)
	require.Contains(t, got, domain.MsgTypeMessageCreated)
	assert.Equal(t, got[domain.MsgTypeAck].Message.ID, got[domain.MsgTypeMessageCreated].Message.ID)
}

func TestSendValidationErrorIsConnectionScoped(t *testing.T) {
	f := newWSFixture(t)
	watcher := f.dial(t)
	sender := f.dial(t)
	subscribe(t, watcher, "OBJ-1001")

	sendEvent(t, sender, map[string]string{
		"type": domain.MsgTypeSendMessage, "object_id": "OBJ-1001", "author": "user-A",
	})

	ev := readEvent(t, sender)
	assert.Equal(t, domain.MsgTypeError, ev.Type)
	assert.Equal(t, domain.ErrCodeValidation, ev.Code)

	_, err := f.svc.GetChat(context.Background(), "OBJ-1001")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assertSilent(t, watcher)
}

func TestSubscribeDeliversLatestHistory(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	var sent []*domain.Message
	for _, body := range []string{"one", "two", "three"} {
		res, err := f.svc.SendMessage(ctx, "OBJ-1", domain.MessageDraft{AuthorID: "a", Body: body}, service.SourceHTTP)
		require.NoError(t, err)
		sent = append(sent, res.Message)
	}

	conn := f.dial(t)
	snap := subscribe(t, conn, "OBJ-1")
	assert.Equal(t, sent[0].ChatID, snap.ChatID)
	require.Len(t, snap.Messages, 3)
	for i := range sent {
		assert.Equal(t, sent[i].ID, snap.Messages[i].ID)
	}
}

func TestProtocolErrors(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	ev := readEvent(t, conn)
	assert.Equal(t, domain.ErrCodeBadRequest, ev.Code)

	sendEvent(t, conn, map[string]string{"type": "dance"})
	ev = readEvent(t, conn)
	assert.Equal(t, domain.ErrCodeBadRequest, ev.Code)

	sendEvent(t, conn, map[string]string{"type": domain.MsgTypeSubscribe})
	ev = readEvent(t, conn)
	assert.Equal(t, domain.ErrCodeValidation, ev.Code)

	sendEvent(t, conn, map[string]string{"type": domain.MsgTypeUnsubscribe, "object_id": "OBJ-1"})
	ev = readEvent(t, conn)
	assert.Equal(t, domain.ErrCodeNotSubscribed, ev.Code)

	sendEvent(t, conn, map[string]string{"type": domain.MsgTypePing})
	ev = readEvent(t, conn)
	assert.Equal(t, domain.MsgTypePong, ev.Type)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, "OBJ-1")
	require.Equal(t, 1, f.hub.RoomSize("OBJ-1"))

	sendEvent(t, conn, map[string]string{"type": domain.MsgTypeUnsubscribe, "object_id": "OBJ-1"})
	ev := readEvent(t, conn)
	assert.Equal(t, domain.MsgTypeUnsubscribed, ev.Type)
	assert.Zero(t, f.hub.RoomSize("OBJ-1"))

	_, err := f.svc.SendMessage(context.Background(), "OBJ-1", domain.MessageDraft{AuthorID: "a", Body: "hi"}, service.SourceHTTP)
	require.NoError(t, err)
	assertSilent(t, conn)
}

func TestDisconnectLeavesRooms(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, "OBJ-1")
	subscribe(t, conn, "OBJ-2")
	require.Equal(t, 1, f.hub.ClientCount())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return f.hub.ClientCount() == 0 && f.hub.RoomSize("OBJ-1") == 0 && f.hub.RoomSize("OBJ-2") == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.svc.SendMessage(context.Background(), "OBJ-1", domain.MessageDraft{AuthorID: "a", Body: "still works"}, service.SourceHTTP)
	assert.NoError(t, err)
}
