package pubsub

import (
	"fmt"
	"strings"
)

// ChannelChatEvents carries events for one object's chat.
const ChannelChatEvents = "chat:object:%s:events"

// Event types published by the chat service.
const (
	EventMessageCreated = "message_created"
	EventChatRead       = "chat_read"
)

// ChatEventsChannel returns the channel name for an object's chat events.
func ChatEventsChannel(objectID string) string {
	return fmt.Sprintf(ChannelChatEvents, objectID)
}

// ObjectIDFromChannel extracts the object id from a chat events channel.
func ObjectIDFromChannel(channel string) (string, error) {
	const prefix, suffix = "chat:object:", ":events"
	if !strings.HasPrefix(channel, prefix) || !strings.HasSuffix(channel, suffix) {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(channel, prefix), suffix)
	if id == "" {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return id, nil
}
