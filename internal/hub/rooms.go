package hub

import (
	"sync"

	"github.com/weiawesome/site-journal/internal/metrics"
)

// Rooms is the membership registry: room id -> connection id -> client.
// It is created at process start, handed to NewHub, and only the hub
// mutates it. A room exists while it has at least one member.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Client
	closed bool
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]*Client)}
}

// join adds c to roomID and reports whether it was not already a member.
func (r *Rooms) join(roomID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
	}
	if _, ok := members[c.ID]; ok {
		return false
	}
	members[c.ID] = c
	return true
}

// leave removes connID from roomID. Leaving a room twice is a no-op.
func (r *Rooms) leave(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, connID)
}

func (r *Rooms) leaveLocked(roomID, connID string) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
	}
	return true
}

// leaveAll removes connID from each of roomIDs and returns the rooms it
// actually left.
func (r *Rooms) leaveAll(connID string, roomIDs []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]string, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if r.leaveLocked(roomID, connID) {
			left = append(left, roomID)
		}
	}
	return left
}

// members returns a snapshot of the clients in roomID.
func (r *Rooms) members(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Count returns the number of members in roomID.
func (r *Rooms) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Len returns the number of live rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close drops every room. Joins after Close are ignored.
func (r *Rooms) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]map[string]*Client)
	r.closed = true
	metrics.ActiveRooms.Set(0)
}
