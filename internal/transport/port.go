// Package transport defines the live delivery port the chat use-cases
// depend on. Concrete transports (the socket hub) implement it.
package transport

import "context"

// Port fans events out to the connections subscribed to a room. The
// use-case layer only calls Broadcast; Subscribe and Unsubscribe are driven
// by the transport's own connection lifecycle.
type Port interface {
	// Broadcast delivers payload to every member of roomID and reports how
	// many connections it was queued for. Zero members is not an error.
	Broadcast(ctx context.Context, roomID string, payload interface{}) (int, error)
	Subscribe(connID, roomID string) error
	Unsubscribe(connID, roomID string) error
}
