package chatstore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// RedisConversationStore keeps each transcript as a Redis list of JSON messages next to a
// metadata hash. Both keys share the conversation TTL. A sorted set indexes conversations
// by last update for listing; entries whose keys have expired are pruned lazily.
type RedisConversationStore struct {
	client *redis.Client
	prefix string
	policy Policy
	now    func() time.Time
}

var _ ConversationStore = &RedisConversationStore{}

func NewRedisConversationStore(client *redis.Client, keyPrefix string, policy Policy) (*RedisConversationStore, error) {
	if client == nil {
		return nil, errors.New("redis conversation store: client is nil")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "talk2powersystem"
	}
	return &RedisConversationStore{client: client, prefix: keyPrefix, policy: policy, now: time.Now}, nil
}

func (s *RedisConversationStore) messagesKey(convID string) string {
	return s.prefix + ":conv:" + convID + ":messages"
}

func (s *RedisConversationStore) metaKey(convID string) string {
	return s.prefix + ":conv:" + convID + ":meta"
}

func (s *RedisConversationStore) indexKey() string {
	return s.prefix + ":convs"
}

func (s *RedisConversationStore) refresh(ctx context.Context, convID string) error {
	if !s.policy.RefreshOnRead || s.policy.TTL <= 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.messagesKey(convID), s.policy.TTL)
		pipe.Expire(ctx, s.metaKey(convID), s.policy.TTL)
		return nil
	})
	return errors.Wrap(err, "redis conversation store: refresh ttl")
}

func (s *RedisConversationStore) Exists(ctx context.Context, convID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("redis conversation store: client is nil")
	}
	n, err := s.client.Exists(ctx, s.metaKey(convID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis conversation store: exists")
	}
	if n == 0 {
		return false, nil
	}
	return true, s.refresh(ctx, convID)
}

func (s *RedisConversationStore) Load(ctx context.Context, convID string) (chat.Conversation, bool, error) {
	if s == nil || s.client == nil {
		return chat.Conversation{}, false, errors.New("redis conversation store: client is nil")
	}
	var meta *redis.MapStringStringCmd
	var payloads *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, s.metaKey(convID))
		payloads = pipe.LRange(ctx, s.messagesKey(convID), 0, -1)
		return nil
	})
	if err != nil {
		return chat.Conversation{}, false, errors.Wrap(err, "redis conversation store: load")
	}
	fields := meta.Val()
	if len(fields) == 0 {
		return chat.Conversation{}, false, nil
	}

	conv := chat.Conversation{
		ID:        convID,
		Messages:  make([]chat.Message, 0, len(payloads.Val())),
		CreatedAt: time.UnixMilli(parseMillis(fields["created_at_ms"])),
		UpdatedAt: time.UnixMilli(parseMillis(fields["updated_at_ms"])),
	}
	for _, p := range payloads.Val() {
		m, err := decodeMessage(p)
		if err != nil {
			return chat.Conversation{}, false, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := s.refresh(ctx, convID); err != nil {
		return chat.Conversation{}, false, err
	}
	return conv, true, nil
}

func (s *RedisConversationStore) Append(ctx context.Context, convID string, msgs ...chat.Message) error {
	if s == nil || s.client == nil {
		return errors.New("redis conversation store: client is nil")
	}
	if strings.TrimSpace(convID) == "" {
		return errors.New("redis conversation store: convID is empty")
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		p, err := encodeMessage(m)
		if err != nil {
			return err
		}
		values = append(values, p)
	}
	nowMs := s.now().UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, s.messagesKey(convID), values...)
		}
		pipe.HSetNX(ctx, s.metaKey(convID), "created_at_ms", nowMs)
		pipe.HSet(ctx, s.metaKey(convID), "updated_at_ms", nowMs)
		if s.policy.TTL > 0 {
			pipe.Expire(ctx, s.messagesKey(convID), s.policy.TTL)
			pipe.Expire(ctx, s.metaKey(convID), s.policy.TTL)
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(nowMs), Member: convID})
		return nil
	})
	return errors.Wrap(err, "redis conversation store: append")
}

func (s *RedisConversationStore) List(ctx context.Context, q ConversationQuery) ([]ConversationSummary, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis conversation store: client is nil")
	}
	entries, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis conversation store: list index")
	}
	limit := defaultListLimit(q.Limit)
	out := []ConversationSummary{}
	for _, e := range entries {
		if len(out) >= limit {
			break
		}
		convID, _ := e.Member.(string)
		if q.ConvIDPrefix != "" && !strings.HasPrefix(convID, q.ConvIDPrefix) {
			continue
		}
		fields, err := s.client.HGetAll(ctx, s.metaKey(convID)).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis conversation store: list meta")
		}
		if len(fields) == 0 {
			_ = s.client.ZRem(ctx, s.indexKey(), convID).Err()
			continue
		}
		count, err := s.client.LLen(ctx, s.messagesKey(convID)).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis conversation store: list length")
		}
		cs := ConversationSummary{
			ConvID:       convID,
			MessageCount: int(count),
			CreatedAtMs:  parseMillis(fields["created_at_ms"]),
			UpdatedAtMs:  parseMillis(fields["updated_at_ms"]),
		}
		if ttl, err := s.client.PTTL(ctx, s.metaKey(convID)).Result(); err == nil && ttl > 0 {
			cs.ExpiresAtMs = s.now().Add(ttl).UnixMilli()
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *RedisConversationStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis conversation store: client is nil")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisConversationStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the underlying client for health checks.
func (s *RedisConversationStore) Client() *redis.Client {
	return s.client
}

func parseMillis(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
