package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TranscriptStore is the read side of the conversation store used by the endpoints.
type TranscriptStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Load(ctx context.Context, id string) (Conversation, bool, error)
}

// ResponseMessage is a user-visible assistant message of a turn.
type ResponseMessage struct {
	ID      string      `json:"id"`
	Message string      `json:"message"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

type ChatResponse struct {
	ID       string            `json:"id"`
	Messages []ResponseMessage `json:"messages"`
	Usage    TokenUsage        `json:"usage"`
}

type ExplainResponse struct {
	ConversationID string        `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	QueryMethods   []QueryMethod `json:"queryMethods"`
}

// Service implements the conversation and explain operations on top of a Runtime and a store.
type Service struct {
	store   TranscriptStore
	runtime Runtime
}

func NewService(store TranscriptStore, runtime Runtime) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat service: store is nil")
	}
	if runtime == nil {
		return nil, errors.New("chat service: runtime is nil")
	}
	return &Service{store: store, runtime: runtime}, nil
}

// HandleConversation runs one turn. An empty conversationID starts a new conversation.
func (s *Service) HandleConversation(ctx context.Context, question string, conversationID string) (*ChatResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &ValidationError{Msg: "Question must not be empty."}
	}
	logger := zerolog.Ctx(ctx)

	if conversationID != "" {
		ok, err := s.store.Exists(ctx, conversationID)
		if err != nil {
			return nil, errors.Wrap(err, "chat service: lookup conversation")
		}
		if !ok {
			return nil, ConversationNotFound(conversationID)
		}
	} else {
		conversationID = NewConversationID()
		logger.Debug().Str("conversation_id", conversationID).Msg("starting new conversation")
	}

	stream, err := s.runtime.RunTurn(ctx, TurnRequest{ConversationID: conversationID, Question: question})
	if err != nil {
		return nil, errors.Wrap(err, "chat service: start turn")
	}
	defer stream.Close()

	resp := &ChatResponse{ID: conversationID, Messages: []ResponseMessage{}}
	var acc UsageAccumulator
	for {
		step, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "chat service: read step")
		}
		if !ok {
			break
		}
		ms, isModel := step.(ModelStep)
		if !isModel {
			continue
		}
		for _, m := range ms.Messages {
			if m.Role != RoleAssistant {
				continue
			}
			var u *TokenUsage
			if m.Usage != nil {
				acc.Add(*m.Usage)
				tu := TokenUsageFrom(*m.Usage)
				u = &tu
			}
			if !m.HasContent() {
				continue
			}
			// providers that report no usage still get their answer surfaced
			resp.Messages = append(resp.Messages, ResponseMessage{ID: m.ID, Message: m.Content, Usage: u})
		}
	}
	resp.Usage = TokenUsageFrom(acc.Total())

	logger.Info().
		Str("conversation_id", conversationID).
		Int("model_steps", acc.Steps()).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("turn completed")
	return resp, nil
}

// HandleExplain reconstructs the tool calls behind messageID. It reads persisted state only.
func (s *Service) HandleExplain(ctx context.Context, conversationID string, messageID string) (*ExplainResponse, error) {
	conv, ok, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "chat service: load conversation")
	}
	if !ok {
		return nil, ConversationNotFound(conversationID)
	}
	methods, err := Explain(conv.Messages, messageID)
	if err != nil {
		return nil, err
	}
	return &ExplainResponse{
		ConversationID: conversationID,
		MessageID:      messageID,
		QueryMethods:   methods,
	}, nil
}
