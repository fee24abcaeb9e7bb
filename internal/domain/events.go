package domain

// Socket event types from client.
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeSendMessage = "send_message"
	MsgTypePing        = "ping"
)

// Socket event types to client.
const (
	MsgTypeSubscribed      = "subscribed"
	MsgTypeUnsubscribed    = "unsubscribed"
	MsgTypeHistorySnapshot = "history_snapshot"
	MsgTypeMessageCreated  = "message_created"
	MsgTypeAck             = "ack"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// Error codes shared by the HTTP envelope and socket error events.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeNotSubscribed = "NOT_SUBSCRIBED"
	ErrCodeCanceled      = "CANCELED"
	ErrCodeTimeout       = "TIMEOUT"
)

// BaseMessage is the envelope shared by every socket event.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type SubscribeMessage struct {
	Type     string `json:"type"`
	ObjectID string `json:"object_id"`
}

type UnsubscribeMessage struct {
	Type     string `json:"type"`
	ObjectID string `json:"object_id"`
}

type SendMessageWS struct {
	Type        string   `json:"type"`
	ObjectID    string   `json:"object_id"`
	Author      string   `json:"author"`
	Body        string   `json:"body"`
	Attachment  string   `json:"attachment,omitempty"`
	TaskIDs     []string `json:"task_ids,omitempty"`
	ClientMsgID string   `json:"client_message_id,omitempty"`
}

// Server -> Client messages

type SubscriptionMessage struct {
	Type     string `json:"type"`
	ObjectID string `json:"object_id"`
}

type HistorySnapshotMessage struct {
	Type        string     `json:"type"`
	ObjectID    string     `json:"object_id"`
	ChatID      string     `json:"chat_id"`
	Messages    []*Message `json:"messages"`
	UnreadCount int        `json:"unread_count"`
}

type MessageCreatedMessage struct {
	Type     string   `json:"type"`
	ObjectID string   `json:"object_id"`
	ChatID   string   `json:"chat_id"`
	Message  *Message `json:"message"`
}

type AckMessage struct {
	Type        string   `json:"type"`
	ClientMsgID string   `json:"client_message_id,omitempty"`
	Duplicate   bool     `json:"duplicate,omitempty"`
	Message     *Message `json:"message"`
}

type ErrorMessage struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func NewErrorMessage(code, detail string) *ErrorMessage {
	return &ErrorMessage{
		Type:   MsgTypeError,
		Code:   code,
		Detail: detail,
	}
}

func NewMessageCreated(m *Message) *MessageCreatedMessage {
	return &MessageCreatedMessage{
		Type:     MsgTypeMessageCreated,
		ObjectID: m.ObjectID,
		ChatID:   m.ChatID,
		Message:  m,
	}
}
