package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   MessageDraft
		maxBody int
		wantErr bool
	}{
		{name: "body only", draft: MessageDraft{AuthorID: "user-A", Body: "Started work"}},
		{name: "attachment only", draft: MessageDraft{AuthorID: "user-A", Attachment: "objects/OBJ-1/a.png"}},
		{name: "missing author", draft: MessageDraft{Body: "hi"}, wantErr: true},
		{name: "whitespace body without attachment", draft: MessageDraft{AuthorID: "user-A", Body: "   \n"}, wantErr: true},
		{name: "body at limit", draft: MessageDraft{AuthorID: "user-A", Body: strings.Repeat("é", 10)}, maxBody: 10},
		{name: "body over limit", draft: MessageDraft{AuthorID: "user-A", Body: strings.Repeat("a", 11)}, maxBody: 10, wantErr: true},
		{name: "too many tasks", draft: MessageDraft{AuthorID: "user-A", Body: "x", TaskIDs: make([]string, MaxTaskIDs+1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.draft
			if len(d.TaskIDs) > 0 {
				for i := range d.TaskIDs {
					d.TaskIDs[i] = "task"
				}
			}
			d.Normalize()
			err := d.Validate(tt.maxBody)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageDraftNormalizeDropsEmptyTasks(t *testing.T) {
	d := MessageDraft{AuthorID: " user-A ", Body: "x", TaskIDs: []string{" t1 ", "", "  "}}
	d.Normalize()

	assert.Equal(t, "user-A", d.AuthorID)
	assert.Equal(t, []string{"t1"}, d.TaskIDs)
}

func TestMessageDraftNormalizeKeepsCallerSlice(t *testing.T) {
	input := []string{"", " t1 ", "t2"}
	d := MessageDraft{AuthorID: "a", Body: "x", TaskIDs: input}
	d.Normalize()

	assert.Equal(t, []string{"t1", "t2"}, d.TaskIDs)
	assert.Equal(t, []string{"", " t1 ", "t2"}, input)
}

func TestPageQueryCacheable(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Unix(10, 0).UTC(), MessageID: "m1"}
	two := []*Message{{ID: "a"}, {ID: "b"}}

	tests := []struct {
		name string
		q    PageQuery
		page MessagePage
		want bool
	}{
		{"forward full with newer messages", PageQuery{Limit: 2, Direction: Forward}, MessagePage{Messages: two, HasMore: true}, true},
		{"forward full last page", PageQuery{Limit: 2, Direction: Forward}, MessagePage{Messages: two}, false},
		{"forward partial", PageQuery{Limit: 3, Direction: Forward}, MessagePage{Messages: two}, false},
		{"backward newest", PageQuery{Limit: 2, Direction: Backward}, MessagePage{Messages: two, HasMore: true}, false},
		{"backward below cursor", PageQuery{Limit: 2, Direction: Backward, Cursor: cursor}, MessagePage{Messages: two}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Cacheable(&tt.page))
		})
	}
}

func TestMessageSameContent(t *testing.T) {
	m := &Message{Body: "hi", Attachment: "a", TaskIDs: []string{"t1"}}

	assert.True(t, m.SameContent(&MessageDraft{Body: "hi", Attachment: "a", TaskIDs: []string{"t1"}}))
	assert.False(t, m.SameContent(&MessageDraft{Body: "hi!", Attachment: "a", TaskIDs: []string{"t1"}}))
	assert.False(t, m.SameContent(&MessageDraft{Body: "hi", Attachment: "a"}))
}

func TestCursorEncodeDecode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 30, 0, 123000000, time.UTC)
	c := Cursor{CreatedAt: ts, MessageID: "01HX0000000000000000000000"}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(ts))
	assert.Equal(t, c.MessageID, decoded.MessageID)

	zero, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Empty(t, Cursor{}.Encode())
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, token := range []string{"!!!", "bm9jb2xvbg", "YWJjOmlk", "MTIzOg"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrValidation, token)
	}
}

func TestCursorLess(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, Cursor{CreatedAt: t0, MessageID: "b"}.Less(Cursor{CreatedAt: t0.Add(time.Millisecond), MessageID: "a"}))
	assert.True(t, Cursor{CreatedAt: t0, MessageID: "a"}.Less(Cursor{CreatedAt: t0, MessageID: "b"}))
	assert.False(t, Cursor{CreatedAt: t0, MessageID: "a"}.Less(Cursor{CreatedAt: t0, MessageID: "a"}))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)

	d, err = ParseDirection("DESC")
	require.NoError(t, err)
	assert.Equal(t, Backward, d)

	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPageQueryNormalize(t *testing.T) {
	q := PageQuery{}.Normalize()
	assert.Equal(t, DefaultPageLimit, q.Limit)
	assert.Equal(t, Forward, q.Direction)

	q = PageQuery{Limit: 1000}.Normalize()
	assert.Equal(t, MaxPageLimit, q.Limit)
}

func TestNewMessagePage(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []*Message{
		{ID: "a", CreatedAt: t0},
		{ID: "b", CreatedAt: t0},
		{ID: "c", CreatedAt: t0},
	}

	page := NewMessagePage("chat-1", rows, 2)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, rows[1].Position().Encode(), page.NextCursor)

	empty := NewMessagePage("chat-1", nil, 2)
	assert.False(t, empty.HasMore)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.NextCursor)
}
