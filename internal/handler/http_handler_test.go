package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/site-journal/internal/attachment"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/service"
	"github.com/weiawesome/site-journal/pkg/middleware"
	"github.com/weiawesome/site-journal/pkg/response"
	"github.com/weiawesome/site-journal/pkg/storage"
)

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryChatRepository(idgen.NewULIDSequencer(nil))
	svc := service.NewChatService(repo, nil, nil, nil, service.Config{})

	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), URLPrefix: "/files"})
	require.NoError(t, err)
	attachments := attachment.NewService(store, attachment.Config{MaxUploadBytes: 64})

	identity, err := middleware.NewIdentity(middleware.IdentityConfig{Mode: "header"})
	require.NoError(t, err)

	r := gin.New()
	r.Use(identity.Handler())
	NewHTTPHandler(svc, attachments).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestSendAndReadHistory(t *testing.T) {
	r := newTestRouter(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1001/messages",
		map[string]interface{}{"author": "user-A", "body": "Started work", "task_ids": []string{"T-1"}}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var m0 domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &m0))
	assert.NotEmpty(t, m0.ID)
	assert.Equal(t, []string{"T-1"}, m0.TaskIDs)

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1001/messages",
		map[string]string{"author": "user-B", "body": "Ack"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var m1 domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &m1))
	assert.True(t, m0.Before(&m1))

	w, env = doJSON(t, r, http.MethodGet, "/api/v1/chats/OBJ-1001/messages", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page domain.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, m0.ID, page.Messages[0].ID)
	assert.Equal(t, m1.ID, page.Messages[1].ID)
	assert.False(t, page.HasMore)

	w, env = doJSON(t, r, http.MethodGet, "/api/v1/chats/OBJ-1001/messages?limit=1&direction=backward", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, m1.ID, page.Messages[0].ID)
	assert.True(t, page.HasMore)

	w, env = doJSON(t, r, http.MethodGet, "/api/v1/chats/OBJ-1001/messages?limit=1&direction=backward&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, m0.ID, page.Messages[0].ID)

	w, env = doJSON(t, r, http.MethodGet, "/api/v1/chats/OBJ-1001", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chat domain.Chat
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	assert.Equal(t, "OBJ-1001", chat.ObjectID)

	w, env = doJSON(t, r, http.MethodGet, "/api/v1/chats?viewer=user-A", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overviews []domain.ChatOverview
	require.NoError(t, json.Unmarshal(env.Data, &overviews))
	require.Len(t, overviews, 1)
	assert.Equal(t, m1.ID, overviews[0].LastMessage.ID)
	assert.Equal(t, 1, overviews[0].UnreadCount)
}

func TestHTTPErrors(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing body and attachment", http.MethodPost, "/api/v1/chats/OBJ-1/messages",
			map[string]string{"author": "a"}, http.StatusBadRequest, domain.ErrCodeValidation},
		{"malformed json", http.MethodPost, "/api/v1/chats/OBJ-1/messages",
			"{not json", http.StatusBadRequest, response.CodeBadRequest},
		{"unknown chat history", http.MethodGet, "/api/v1/chats/OBJ-404/messages",
			nil, http.StatusNotFound, domain.ErrCodeNotFound},
		{"unknown chat", http.MethodGet, "/api/v1/chats/OBJ-404",
			nil, http.StatusNotFound, domain.ErrCodeNotFound},
		{"malformed cursor", http.MethodGet, "/api/v1/chats/OBJ-1/messages?cursor=%25%25",
			nil, http.StatusBadRequest, domain.ErrCodeValidation},
		{"bad limit", http.MethodGet, "/api/v1/chats/OBJ-1/messages?limit=zero",
			nil, http.StatusBadRequest, domain.ErrCodeValidation},
		{"bad direction", http.MethodGet, "/api/v1/chats/OBJ-1/messages?direction=sideways",
			nil, http.StatusBadRequest, domain.ErrCodeValidation},
		{"mark read unknown chat", http.MethodPost, "/api/v1/chats/OBJ-404/read",
			map[string]string{"author": "a", "message_id": "m"}, http.StatusNotFound, domain.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := doJSON(t, r, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	// Nothing was persisted by the rejected send.
	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/chats/OBJ-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendIdempotency(t *testing.T) {
	r := newTestRouter(t)
	body := map[string]string{"author": "a", "body": "hi", "client_message_id": "c-1"}

	w, first := doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w, again := doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(first.Data), string(again.Data))

	body["body"] = "different"
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeConflict, env.Error.Code)
}

func TestIdentityRules(t *testing.T) {
	r := newTestRouter(t)
	asAlice := map[string]string{"X-User-ID": "alice"}

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages",
		map[string]string{"author": "mallory", "body": "hi"}, asAlice)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.ErrCodeForbidden, env.Error.Code)

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages",
		map[string]string{"body": "hi"}, asAlice)
	require.Equal(t, http.StatusCreated, w.Code)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "alice", msg.AuthorID)

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/read",
		map[string]string{"message_id": msg.ID}, map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	var marker domain.ReadMarker
	require.NoError(t, json.Unmarshal(env.Data, &marker))
	assert.Equal(t, "bob", marker.UserID)
	assert.Equal(t, msg.ID, marker.MessageID)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/chats?viewer=bob", nil, asAlice)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func multipartRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAttachments(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chats/OBJ-1/attachments", "plan.pdf", []byte("%PDF-1.7")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var up attachment.Upload
	require.NoError(t, json.Unmarshal(env.Data, &up))
	assert.Contains(t, up.Handle, "objects/OBJ-1/")
	assert.Equal(t, "/files/"+up.Handle, up.URL)

	w2, env := doJSON(t, r, http.MethodGet, "/api/v1/attachments/url?handle="+up.Handle, nil, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	var resolved attachment.Upload
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, up.URL, resolved.URL)

	w2, env = doJSON(t, r, http.MethodPost, "/api/v1/chats/OBJ-1/messages",
		map[string]string{"author": "a", "attachment": up.Handle}, nil)
	require.Equal(t, http.StatusCreated, w2.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/v1/chats/OBJ-1/attachments", "big.bin", bytes.Repeat([]byte("x"), 65)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w2, _ = doJSON(t, r, http.MethodGet, "/api/v1/attachments/url?handle=objects/OBJ-1/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}
