package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/idgen"
)

// newCassandraRepo runs against the cluster in CASSANDRA_TEST_HOSTS, one
// throwaway keyspace per test.
func newCassandraRepo(t *testing.T) ChatRepository {
	t.Helper()
	hosts := os.Getenv("CASSANDRA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("CASSANDRA_TEST_HOSTS not set")
	}

	cfg := config.CassandraConfig{
		Hosts:             strings.Split(hosts, ","),
		Keyspace:          fmt.Sprintf("journal_test_%d", time.Now().UnixNano()),
		Consistency:       "ONE",
		ReplicationFactor: 1,
		ConnectTimeout:    10 * time.Second,
		Timeout:           10 * time.Second,
	}
	repo, err := NewCassandraChatRepository(cfg, idgen.NewULIDSequencer(nil))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.session.Query("DROP KEYSPACE IF EXISTS " + cfg.Keyspace).Exec()
		_ = repo.Close()
	})
	return repo
}

func TestCassandraCreateChatRepairsInterruptedCreate(t *testing.T) {
	repo := newCassandraRepo(t).(*CassandraChatRepository)
	ctx := context.Background()

	chat, err := repo.CreateChat(ctx, "OBJ-1")
	require.NoError(t, err)

	// Simulate a create that claimed the object but never wrote the chats row.
	require.NoError(t, repo.session.Query(`DELETE FROM chats WHERE chat_id = ?`, chat.ID).Exec())
	_, err = repo.GetChatByObjectID(ctx, "OBJ-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	again, err := repo.CreateChat(ctx, "OBJ-1")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, again.ID)

	res, err := repo.AppendMessage(ctx, again.ID, draft("user-A", "after repair"))
	require.NoError(t, err)

	got, err := repo.GetChatByObjectID(ctx, "OBJ-1")
	require.NoError(t, err)
	assert.True(t, res.Message.CreatedAt.Equal(got.LastActivityAt))

	chats, err := repo.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
}
