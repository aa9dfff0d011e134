package chatstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// ConversationSummary describes a stored conversation for inspection.
type ConversationSummary struct {
	ConvID       string `json:"conv_id"`
	MessageCount int    `json:"message_count"`
	CreatedAtMs  int64  `json:"created_at_ms"`
	UpdatedAtMs  int64  `json:"updated_at_ms"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
}

// ConversationQuery describes filters for listing stored conversations.
type ConversationQuery struct {
	ConvIDPrefix string
	Limit        int
}

// ConversationStore persists append-only conversation transcripts keyed by conversation id.
// Expired conversations are indistinguishable from conversations that never existed.
type ConversationStore interface {
	Exists(ctx context.Context, convID string) (bool, error)
	Load(ctx context.Context, convID string) (chat.Conversation, bool, error)
	Append(ctx context.Context, convID string, msgs ...chat.Message) error
	List(ctx context.Context, q ConversationQuery) ([]ConversationSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

// Policy controls expiry. A zero TTL keeps conversations forever.
type Policy struct {
	TTL           time.Duration
	RefreshOnRead bool
}

func (p Policy) expiresAt(now time.Time) int64 {
	if p.TTL <= 0 {
		return 0
	}
	return now.Add(p.TTL).UnixMilli()
}

func encodeMessage(m chat.Message) (string, error) {
	if m.ID == "" {
		return "", errors.New("conversation store: message id is empty")
	}
	switch m.Role {
	case chat.RoleUser, chat.RoleAssistant, chat.RoleTool:
	default:
		return "", errors.Errorf("conversation store: unknown message role %q", m.Role)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "conversation store: marshal message")
	}
	return string(b), nil
}

func decodeMessage(payload string) (chat.Message, error) {
	var m chat.Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return chat.Message{}, errors.Wrap(err, "conversation store: unmarshal message")
	}
	switch m.Role {
	case chat.RoleUser, chat.RoleAssistant, chat.RoleTool:
	default:
		return chat.Message{}, errors.Errorf("conversation store: unknown message role %q", m.Role)
	}
	return m, nil
}

func defaultListLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	return limit
}
