package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

type memoryConversation struct {
	messages    []string
	createdAtMs int64
	updatedAtMs int64
	expiresAtMs int64
}

// InMemoryConversationStore keeps transcripts in process memory with the same expiry rules as
// the durable backends.
type InMemoryConversationStore struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	convs  map[string]*memoryConversation
}

var _ ConversationStore = &InMemoryConversationStore{}

func NewInMemoryConversationStore(policy Policy) *InMemoryConversationStore {
	return &InMemoryConversationStore{
		policy: policy,
		now:    time.Now,
		convs:  map[string]*memoryConversation{},
	}
}

// getLocked returns the live entry for convID, dropping it when expired.
func (s *InMemoryConversationStore) getLocked(convID string, nowMs int64) *memoryConversation {
	c, ok := s.convs[convID]
	if !ok {
		return nil
	}
	if c.expiresAtMs > 0 && c.expiresAtMs <= nowMs {
		delete(s.convs, convID)
		return nil
	}
	return c
}

func (s *InMemoryConversationStore) touchOnReadLocked(c *memoryConversation, now time.Time) {
	if s.policy.RefreshOnRead {
		c.expiresAtMs = s.policy.expiresAt(now)
	}
}

func (s *InMemoryConversationStore) Exists(ctx context.Context, convID string) (bool, error) {
	if s == nil {
		return false, errors.New("memory conversation store: store is nil")
	}
	if ctx == nil {
		return false, errors.New("memory conversation store: ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.getLocked(convID, now.UnixMilli())
	if c == nil {
		return false, nil
	}
	s.touchOnReadLocked(c, now)
	return true, nil
}

func (s *InMemoryConversationStore) Load(ctx context.Context, convID string) (chat.Conversation, bool, error) {
	if s == nil {
		return chat.Conversation{}, false, errors.New("memory conversation store: store is nil")
	}
	if ctx == nil {
		return chat.Conversation{}, false, errors.New("memory conversation store: ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.getLocked(convID, now.UnixMilli())
	if c == nil {
		return chat.Conversation{}, false, nil
	}
	s.touchOnReadLocked(c, now)

	conv := chat.Conversation{
		ID:        convID,
		Messages:  make([]chat.Message, 0, len(c.messages)),
		CreatedAt: time.UnixMilli(c.createdAtMs),
		UpdatedAt: time.UnixMilli(c.updatedAtMs),
	}
	for _, payload := range c.messages {
		m, err := decodeMessage(payload)
		if err != nil {
			return chat.Conversation{}, false, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, true, nil
}

func (s *InMemoryConversationStore) Append(ctx context.Context, convID string, msgs ...chat.Message) error {
	if s == nil {
		return errors.New("memory conversation store: store is nil")
	}
	if ctx == nil {
		return errors.New("memory conversation store: ctx is nil")
	}
	if strings.TrimSpace(convID) == "" {
		return errors.New("memory conversation store: convID is empty")
	}
	payloads := make([]string, 0, len(msgs))
	for _, m := range msgs {
		p, err := encodeMessage(m)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	nowMs := now.UnixMilli()
	c := s.getLocked(convID, nowMs)
	if c == nil {
		c = &memoryConversation{createdAtMs: nowMs}
		s.convs[convID] = c
	}
	c.messages = append(c.messages, payloads...)
	c.updatedAtMs = nowMs
	c.expiresAtMs = s.policy.expiresAt(now)
	return nil
}

func (s *InMemoryConversationStore) List(ctx context.Context, q ConversationQuery) ([]ConversationSummary, error) {
	if s == nil {
		return nil, errors.New("memory conversation store: store is nil")
	}
	if ctx == nil {
		return nil, errors.New("memory conversation store: ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMs := s.now().UnixMilli()

	out := []ConversationSummary{}
	for id := range s.convs {
		if q.ConvIDPrefix != "" && !strings.HasPrefix(id, q.ConvIDPrefix) {
			continue
		}
		c := s.getLocked(id, nowMs)
		if c == nil {
			continue
		}
		out = append(out, ConversationSummary{
			ConvID:       id,
			MessageCount: len(c.messages),
			CreatedAtMs:  c.createdAtMs,
			UpdatedAtMs:  c.updatedAtMs,
			ExpiresAtMs:  c.expiresAtMs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAtMs == out[j].UpdatedAtMs {
			return out[i].ConvID < out[j].ConvID
		}
		return out[i].UpdatedAtMs > out[j].UpdatedAtMs
	})
	if limit := defaultListLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryConversationStore) Ping(context.Context) error { return nil }

func (s *InMemoryConversationStore) Close() error { return nil }
