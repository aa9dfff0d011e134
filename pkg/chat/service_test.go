package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	convs map[string]Conversation
}

func (s *stubStore) Exists(_ context.Context, id string) (bool, error) {
	_, ok := s.convs[id]
	return ok, nil
}

func (s *stubStore) Load(_ context.Context, id string) (Conversation, bool, error) {
	c, ok := s.convs[id]
	return c, ok, nil
}

type sliceStream struct {
	steps  []Step
	closed bool
}

func (s *sliceStream) Next(ctx context.Context) (Step, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if len(s.steps) == 0 {
		return nil, false, nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st, true, nil
}

func (s *sliceStream) Close() { s.closed = true }

type stubRuntime struct {
	steps []Step
	reqs  []TurnRequest
	last  *sliceStream
}

func (r *stubRuntime) RunTurn(_ context.Context, req TurnRequest) (StepStream, error) {
	r.reqs = append(r.reqs, req)
	r.last = &sliceStream{steps: append([]Step(nil), r.steps...)}
	return r.last, nil
}

func toolThenAnswer() []Step {
	return []Step{
		ModelStep{Messages: []Message{
			NewAssistantMessage("a-1", "", []ToolCall{{ID: "tc-1", Name: "now"}}, &Usage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110}),
		}},
		ToolStep{Results: []Message{NewToolResultMessage("tr-1", "tc-1", "2026-10-14T10:00:00+0000", ToolStatusSuccess)}},
		ModelStep{Messages: []Message{
			NewAssistantMessage("a-2", "It is ten o'clock.", nil, &Usage{InputTokens: 150, OutputTokens: 7, TotalTokens: 157}),
		}},
	}
}

func TestHandleConversationNewIDFormat(t *testing.T) {
	rt := &stubRuntime{steps: toolThenAnswer()}
	svc, err := NewService(&stubStore{convs: map[string]Conversation{}}, rt)
	require.NoError(t, err)

	resp, err := svc.HandleConversation(context.Background(), "what time is it?", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(resp.ID, "thread_"))
	u, err := uuid.Parse(strings.TrimPrefix(resp.ID, "thread_"))
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), u.Version())
	require.True(t, IsConversationID(resp.ID))

	require.Len(t, rt.reqs, 1)
	require.Equal(t, resp.ID, rt.reqs[0].ConversationID)
	require.Equal(t, "what time is it?", rt.reqs[0].Question)
	require.True(t, rt.last.closed)
}

func TestHandleConversationUsageAdditivity(t *testing.T) {
	svc, err := NewService(&stubStore{convs: map[string]Conversation{}}, &stubRuntime{steps: toolThenAnswer()})
	require.NoError(t, err)

	resp, err := svc.HandleConversation(context.Background(), "what time is it?", "")
	require.NoError(t, err)
	require.Equal(t, TokenUsage{PromptTokens: 250, CompletionTokens: 17, TotalTokens: 267}, resp.Usage)
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "a-2", resp.Messages[0].ID)
	require.Equal(t, "It is ten o'clock.", resp.Messages[0].Message)
	require.Equal(t, &TokenUsage{PromptTokens: 150, CompletionTokens: 7, TotalTokens: 157}, resp.Messages[0].Usage)
}

func TestHandleConversationUnknownID(t *testing.T) {
	rt := &stubRuntime{steps: toolThenAnswer()}
	svc, err := NewService(&stubStore{convs: map[string]Conversation{}}, rt)
	require.NoError(t, err)

	id := NewConversationID()
	_, err = svc.HandleConversation(context.Background(), "hello", id)
	require.Error(t, err)
	nf, ok := AsNotFound(err)
	require.True(t, ok)
	require.Equal(t, KindConversation, nf.Kind)
	require.Equal(t, `Conversation with id "`+id+`" not found.`, err.Error())
	require.Empty(t, rt.reqs)
}

func TestHandleConversationContinuesExisting(t *testing.T) {
	id := NewConversationID()
	store := &stubStore{convs: map[string]Conversation{id: {ID: id}}}
	rt := &stubRuntime{steps: toolThenAnswer()}
	svc, err := NewService(store, rt)
	require.NoError(t, err)

	resp, err := svc.HandleConversation(context.Background(), "and now?", id)
	require.NoError(t, err)
	require.Equal(t, id, resp.ID)
}

func TestHandleConversationRejectsEmptyQuestion(t *testing.T) {
	svc, err := NewService(&stubStore{}, &stubRuntime{})
	require.NoError(t, err)
	_, err = svc.HandleConversation(context.Background(), "   ", "")
	_, ok := AsValidation(err)
	require.True(t, ok)
}

func TestHandleConversationStopsOnCancel(t *testing.T) {
	rt := &stubRuntime{steps: toolThenAnswer()}
	svc, err := NewService(&stubStore{convs: map[string]Conversation{}}, rt)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.HandleConversation(ctx, "hello", "")
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, rt.last.closed)
}

func TestHandleExplain(t *testing.T) {
	id := NewConversationID()
	store := &stubStore{convs: map[string]Conversation{id: {ID: id, Messages: twoTurnTranscript()}}}
	svc, err := NewService(store, &stubRuntime{})
	require.NoError(t, err)

	resp, err := svc.HandleExplain(context.Background(), id, "a-4")
	require.NoError(t, err)
	require.Equal(t, id, resp.ConversationID)
	require.Equal(t, "a-4", resp.MessageID)
	require.Len(t, resp.QueryMethods, 1)

	_, err = svc.HandleExplain(context.Background(), "thread_nope", "a-4")
	require.Equal(t, `Conversation with id "thread_nope" not found.`, err.Error())

	_, err = svc.HandleExplain(context.Background(), id, "nope")
	require.Equal(t, `Message with id "nope" not found.`, err.Error())
}

func TestIsConversationID(t *testing.T) {
	require.True(t, IsConversationID(NewConversationID()))
	require.False(t, IsConversationID("thread_"))
	require.False(t, IsConversationID(uuid.NewString()))
	require.False(t, IsConversationID("thread_not-a-uuid"))
}
