package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Direction selects the order a page is read in.
type Direction string

const (
	Forward  Direction = "forward"  // oldest to newest
	Backward Direction = "backward" // newest to oldest
)

// ParseDirection accepts "", "forward", "asc", "backward" and "desc".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward", "asc":
		return Forward, nil
	case "backward", "desc":
		return Backward, nil
	default:
		return "", Validationf("unknown direction %q", s)
	}
}

// Cursor is the (timestamp, id) position of the last message a reader saw.
type Cursor struct {
	CreatedAt time.Time
	MessageID string
}

// IsZero reports whether the cursor points at the start of the stream.
func (c Cursor) IsZero() bool {
	return c.MessageID == "" && c.CreatedAt.IsZero()
}

// Less orders cursors by timestamp, then id.
func (c Cursor) Less(o Cursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.MessageID < o.MessageID
}

// Encode returns the opaque token handed to clients.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.MessageID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. The empty token is the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, Validationf("malformed cursor")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, Validationf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, Validationf("malformed cursor")
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), MessageID: id}, nil
}

// PageQuery selects one page of a chat's history.
type PageQuery struct {
	Cursor    Cursor
	Limit     int
	Direction Direction
}

// Normalize applies defaults and clamps the limit.
func (q PageQuery) Normalize() PageQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if q.Direction == "" {
		q.Direction = Forward
	}
	return q
}

// After reports whether m lies strictly past the query cursor in the query direction.
func (q PageQuery) After(m *Message) bool {
	if q.Cursor.IsZero() {
		return true
	}
	if q.Direction == Backward {
		return m.Position().Less(q.Cursor)
	}
	return q.Cursor.Less(m.Position())
}

// Cacheable reports whether a page for this query can no longer change.
// Backward pages below a cursor are immutable. A forward page is immutable
// only once it is full and newer messages exist: the last page keeps
// HasMore=false until the next send.
func (q PageQuery) Cacheable(page *MessagePage) bool {
	if q.Direction == Backward {
		return !q.Cursor.IsZero()
	}
	return page.HasMore && len(page.Messages) == q.Limit
}

// MessagePage is one page of history in the requested direction.
type MessagePage struct {
	ChatID     string     `json:"chat_id"`
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

// NewMessagePage trims a limit+1 probe result into a page.
func NewMessagePage(chatID string, rows []*Message, limit int) *MessagePage {
	page := &MessagePage{ChatID: chatID, Messages: rows}
	if len(rows) > limit {
		page.Messages = rows[:limit]
		page.HasMore = true
	}
	if page.Messages == nil {
		page.Messages = []*Message{}
	}
	if n := len(page.Messages); n > 0 {
		page.NextCursor = page.Messages[n-1].Position().Encode()
	}
	return page
}
