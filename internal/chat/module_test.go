package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/hub"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/service"
)

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestModuleWithoutHub(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := New(Options{Repo: repository.NewMemoryChatRepository(idgen.NewULIDSequencer(nil))})
	require.NoError(t, err)

	r := gin.New()
	m.RegisterRoutes(r)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusCreated,
		serve(r, http.MethodPost, "/api/v1/chats/OBJ-1/messages", `{"author":"a","body":"hi"}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/chats/ws", "").Code,
		"socket route must not exist without a hub")
	assert.Equal(t, http.StatusNotFound,
		serve(r, http.MethodPost, "/api/v1/chats/OBJ-1/attachments", "").Code,
		"attachment routes need a storage backend")

	assert.NoError(t, m.Close(context.Background()))
}

func TestModuleWithHubBroadcasts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.NewHub(hub.NewRooms(), config.WebSocketConfig{SendBuffer: 8})
	go h.Run()

	m, err := New(Options{
		Repo:    repository.NewMemoryChatRepository(idgen.NewULIDSequencer(nil)),
		Hub:     h,
		Service: service.Config{SnapshotSize: 5},
	})
	require.NoError(t, err)

	r := gin.New()
	m.RegisterRoutes(r)

	res, err := m.Service.SendMessage(context.Background(), "OBJ-1",
		domain.MessageDraft{AuthorID: "a", Body: "nobody listening"}, service.SourceHTTP)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message.ID)

	// A plain GET is not an upgrade, but the route exists.
	assert.NotEqual(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/chats/ws", "").Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
}
