// Package chat assembles the chat module: use cases, optional live hub and
// the HTTP and socket routes in front of them.
package chat

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/site-journal/internal/attachment"
	"github.com/weiawesome/site-journal/internal/cache"
	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/handler"
	"github.com/weiawesome/site-journal/internal/hub"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/service"
	"github.com/weiawesome/site-journal/internal/transport"
	"github.com/weiawesome/site-journal/pkg/pubsub"
)

// Options wires the module. Repo is required; everything else is optional.
type Options struct {
	Repo        repository.ChatRepository
	Cache       cache.HistoryCache
	Publisher   pubsub.Publisher
	Attachments *attachment.Service

	// Hub enables the socket route and live broadcast. Its run loop must
	// already be started.
	Hub       *hub.Hub
	WebSocket config.WebSocketConfig
	Service   service.Config
}

type Module struct {
	Service service.ChatService

	hub  *hub.Hub
	http *handler.HTTPHandler
	ws   *handler.WSHandler
}

func New(opts Options) (*Module, error) {
	if opts.Repo == nil {
		return nil, errors.New("chat module requires a repository")
	}

	var port transport.Port
	if opts.Hub != nil {
		port = opts.Hub
	}

	svc := service.NewChatService(opts.Repo, opts.Cache, port, opts.Publisher, opts.Service)
	m := &Module{
		Service: svc,
		hub:     opts.Hub,
		http:    handler.NewHTTPHandler(svc, opts.Attachments),
	}
	if opts.Hub != nil {
		m.ws = handler.NewWSHandler(opts.Hub, svc, opts.WebSocket)
	}
	return m, nil
}

// RegisterRoutes mounts the routes under /api/v1 behind middlewares. The
// socket route exists only when a hub is bound.
func (m *Module) RegisterRoutes(r *gin.Engine, middlewares ...gin.HandlerFunc) {
	api := r.Group("/api/v1", middlewares...)
	m.http.RegisterRoutes(api)
	if m.ws != nil {
		m.ws.RegisterRoutes(api)
	}
	r.GET("/health", m.http.HealthCheck)
}

// Close disconnects every socket and stops the hub. The repository and
// other injected dependencies are closed by their owner.
func (m *Module) Close(ctx context.Context) error {
	if m.hub == nil {
		return nil
	}
	return m.hub.Shutdown(ctx)
}
