package chatstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

func sampleTurn() []chat.Message {
	res := chat.NewToolResultMessage("tr-1", "tc-1", `{"boolean":true}`, chat.ToolStatusSuccess)
	res.Artifact = "ASK { ?s ?p ?o }"
	res.QueryType = chat.QueryTypeSPARQL
	return []chat.Message{
		chat.NewUserMessage("u-1", "is the graph empty?"),
		chat.NewAssistantMessage("a-1", "", []chat.ToolCall{{ID: "tc-1", Name: "sparql_query", Args: map[string]any{"query": "ASK { ?s ?p ?o }"}}}, &chat.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}),
		res,
		chat.NewAssistantMessage("a-2", "No.", nil, &chat.Usage{InputTokens: 7, OutputTokens: 1, TotalTokens: 8}),
	}
}

// exerciseConversationStore checks the contract shared by every backend.
func exerciseConversationStore(t *testing.T, s ConversationStore) {
	t.Helper()
	ctx := context.Background()
	convID := chat.NewConversationID()

	ok, err := s.Exists(ctx, convID)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.Load(ctx, convID)
	require.NoError(t, err)
	require.False(t, ok)

	msgs := sampleTurn()
	require.NoError(t, s.Append(ctx, convID, msgs[0]))
	require.NoError(t, s.Append(ctx, convID, msgs[1:]...))

	ok, err = s.Exists(ctx, convID)
	require.NoError(t, err)
	require.True(t, ok)

	conv, ok, err := s.Load(ctx, convID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, convID, conv.ID)
	require.Equal(t, msgs, conv.Messages)

	summaries, err := s.List(ctx, ConversationQuery{ConvIDPrefix: convID})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 4, summaries[0].MessageCount)

	require.Error(t, s.Append(ctx, convID, chat.Message{ID: "x", Role: "system"}))
	require.Error(t, s.Append(ctx, "", msgs[0]))
	require.NoError(t, s.Ping(ctx))
}

func TestInMemoryConversationStore_Contract(t *testing.T) {
	exerciseConversationStore(t, NewInMemoryConversationStore(Policy{}))
}

func TestSQLiteConversationStore_Contract(t *testing.T) {
	dsn, err := SQLiteConversationDSNForFile(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	s, err := NewSQLiteConversationStore(dsn, Policy{TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseConversationStore(t, s)
}

func TestRedisConversationStore_Contract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s, err := NewRedisConversationStore(client, "t2ps-test-"+uuid.NewString(), Policy{TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseConversationStore(t, s)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestInMemoryConversationStore_TTL(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	s := NewInMemoryConversationStore(Policy{TTL: 10 * time.Second})
	s.now = clock.now
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "thread_a", chat.NewUserMessage("u-1", "hi")))
	clock.t = clock.t.Add(9 * time.Second)
	ok, err := s.Exists(ctx, "thread_a")
	require.NoError(t, err)
	require.True(t, ok)

	clock.t = clock.t.Add(2 * time.Second)
	ok, err = s.Exists(ctx, "thread_a")
	require.NoError(t, err)
	require.False(t, ok)

	// appending after expiry starts a fresh transcript
	require.NoError(t, s.Append(ctx, "thread_a", chat.NewUserMessage("u-2", "again")))
	conv, ok, err := s.Load(ctx, "thread_a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, "u-2", conv.Messages[0].ID)
}

func TestInMemoryConversationStore_RefreshOnRead(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	s := NewInMemoryConversationStore(Policy{TTL: 10 * time.Second, RefreshOnRead: true})
	s.now = clock.now
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "thread_a", chat.NewUserMessage("u-1", "hi")))
	for i := 0; i < 3; i++ {
		clock.t = clock.t.Add(8 * time.Second)
		_, ok, err := s.Load(ctx, "thread_a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	clock.t = clock.t.Add(11 * time.Second)
	_, ok, err := s.Load(ctx, "thread_a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteConversationStore_TTLAndPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "conversations.db")
	dsn, err := SQLiteConversationDSNForFile(dbPath)
	require.NoError(t, err)
	clock := &fakeClock{t: time.UnixMilli(5_000_000)}

	s, err := NewSQLiteConversationStore(dsn, Policy{TTL: 10 * time.Second})
	require.NoError(t, err)
	s.now = clock.now
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "thread_keep", sampleTurn()...))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteConversationStore(dsn, Policy{TTL: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	reopened.now = clock.now

	conv, ok, err := reopened.Load(ctx, "thread_keep")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, conv.Messages, 4)

	clock.t = clock.t.Add(time.Minute)
	ok, err = reopened.Exists(ctx, "thread_keep")
	require.NoError(t, err)
	require.False(t, ok)

	summaries, err := reopened.List(ctx, ConversationQuery{})
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestOpen(t *testing.T) {
	s, err := Open(Settings{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &InMemoryConversationStore{}, s)

	s, err = Open(Settings{Backend: "sqlite", SQLiteDB: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLiteConversationStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Settings{Backend: "sqlite"})
	require.Error(t, err)
	_, err = Open(Settings{Backend: "etcd"})
	require.Error(t, err)
}
