package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/metrics"
	"github.com/weiawesome/site-journal/internal/transport"
	"github.com/weiawesome/site-journal/pkg/log"
)

var ErrHubClosed = fmt.Errorf("%w: hub is shut down", domain.ErrTransport)

var _ transport.Port = (*Hub)(nil)

// Hub owns socket connection lifecycle and room fan-out. It implements
// transport.Port.
type Hub struct {
	rooms      *Rooms
	clients    map[string]*Client // connID -> client
	unregister chan *Client
	broadcast  chan *roomMessage
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// roomMessage carries the members resolved when the broadcast was queued;
// connections that join later are not included.
type roomMessage struct {
	RoomID  string
	Clients []*Client
	Message []byte
}

func NewHub(rooms *Rooms, cfg config.WebSocketConfig) *Hub {
	return &Hub{
		rooms:      rooms,
		clients:    make(map[string]*Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomMessage, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes unregistrations and broadcasts until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.unregister:
			h.drop(client, "client unregistered")

		case msg := <-h.broadcast:
			for _, client := range msg.Clients {
				switch client.trySend(msg.Message) {
				case sendFull:
					metrics.SlowConsumerDisconnects.Inc()
					h.drop(client, "slow consumer disconnected")
				case sendClosed, sendOK:
				}
			}

		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			metrics.ActiveConnections.Set(0)
			h.rooms.Close()
			return
		}
	}
}

// drop removes a client from the hub and every room it joined. Dropping an
// already removed client is a no-op. h.mu is held across the removal and the
// room cleanup so a concurrent Subscribe cannot rejoin it in between.
func (h *Hub) drop(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	left := h.rooms.leaveAll(client.ID, client.Rooms())
	client.clearRooms()
	h.mu.Unlock()

	client.close()
	metrics.ActiveConnections.Dec()

	l := client.Logger
	l.Debug().Strs("rooms", left).Msg(reason)
}

// Register adds a connection. It fails once the hub is shut down.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	select {
	case <-h.quit:
		h.mu.Unlock()
		return ErrHubClosed
	default:
	}
	h.clients[client.ID] = client
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()

	l := client.Logger
	l.Debug().Msg("client registered")
	return nil
}

// Unregister queues the client for removal. Safe to call after Shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func notRegistered(connID string) error {
	return fmt.Errorf("%w: connection %s is not registered", domain.ErrTransport, connID)
}

// Subscribe joins connID to roomID. Joining twice is harmless.
func (h *Hub) Subscribe(connID, roomID string) error {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return notRegistered(connID)
	}
	joined := h.rooms.join(roomID, client)
	if joined {
		client.addRoom(roomID)
	}
	h.mu.Unlock()

	if joined {
		l := client.Logger
		l.Info().Str(log.FieldRoomID, roomID).Msg("client joined room")
	}
	return nil
}

// Unsubscribe removes connID from roomID. Leaving a room that was never
// joined is harmless.
func (h *Hub) Unsubscribe(connID, roomID string) error {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return notRegistered(connID)
	}
	left := h.rooms.leave(roomID, connID)
	if left {
		client.removeRoom(roomID)
	}
	h.mu.Unlock()

	if left {
		l := client.Logger
		l.Info().Str(log.FieldRoomID, roomID).Msg("client left room")
	}
	return nil
}

// Broadcast queues payload for every current member of roomID and returns
// how many connections it was queued for.
func (h *Hub) Broadcast(ctx context.Context, roomID string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal payload: %w", domain.ErrTransport, err)
	}

	clients := h.rooms.members(roomID)
	if len(clients) == 0 {
		return 0, nil
	}

	select {
	case h.broadcast <- &roomMessage{RoomID: roomID, Clients: clients, Message: data}:
		return len(clients), nil
	case <-h.quit:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", domain.ErrTransport, ctx.Err())
	}
}

// RoomSize returns the number of connections subscribed to roomID.
func (h *Hub) RoomSize(roomID string) int {
	return h.rooms.Count(roomID)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops the run loop. It waits for the
// loop to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrHubClosed, ctx.Err())
	}
}
