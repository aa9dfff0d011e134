package agent

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/google/uuid"

	"github.com/statnett/talk2powersystem/pkg/chat"
	"github.com/statnett/talk2powersystem/pkg/tools"
)

type observationKind int

const (
	obsToolCall observationKind = iota
	obsToolResult
	obsFinal
	obsError
)

// observation is the subset of a geppetto event the normalizer cares about.
type observation struct {
	kind      observationKind
	messageID string
	text      string
	usage     *chat.Usage
	call      chat.ToolCall
	resultFor string
	result    tools.Output
}

func observe(e events.Event) (observation, bool) {
	md := e.Metadata()
	switch ev := e.(type) {
	case *events.EventToolCall:
		return observation{kind: obsToolCall, call: toolCallFromEvent(ev.ToolCall)}, true
	case *events.EventToolResult:
		return observation{kind: obsToolResult, resultFor: ev.ToolResult.ID, result: tools.DecodeOutput(ev.ToolResult.Result)}, true
	case *events.EventToolCallExecutionResult:
		return observation{kind: obsToolResult, resultFor: ev.ToolResult.ID, result: tools.DecodeOutput(ev.ToolResult.Result)}, true
	case *events.EventFinal:
		o := observation{kind: obsFinal, text: ev.Text}
		if md.ID != uuid.Nil {
			o.messageID = md.ID.String()
		}
		if u := md.LLMInferenceData.Usage; u != nil {
			o.usage = &chat.Usage{
				InputTokens:  u.InputTokens,
				OutputTokens: u.OutputTokens,
				TotalTokens:  u.InputTokens + u.OutputTokens,
			}
		}
		return o, true
	case *events.EventError:
		return observation{kind: obsError, text: ev.ErrorString}, true
	}
	return observation{}, false
}

func toolCallFromEvent(tc events.ToolCall) chat.ToolCall {
	args := map[string]any{}
	if in := strings.TrimSpace(tc.Input); in != "" {
		if err := json.Unmarshal([]byte(in), &args); err != nil {
			args = map[string]any{"input": tc.Input}
		}
	}
	return chat.ToolCall{ID: tc.ID, Name: tc.Name, Args: args}
}

// normalizer folds the flat event sequence of a turn into model and tool steps.
// Tool calls are buffered until the model invocation that issued them completes; a tool
// result arriving while calls are still buffered closes that invocation without usage.
type normalizer struct {
	pending     []chat.ToolCall
	pendingIDs  map[string]bool
	seenResults map[string]bool
	seenIDs     map[string]bool
	newID       func() string
}

func newNormalizer() *normalizer {
	return &normalizer{
		pendingIDs:  map[string]bool{},
		seenResults: map[string]bool{},
		seenIDs:     map[string]bool{},
		newID:       uuid.NewString,
	}
}

func (n *normalizer) apply(o observation) []chat.Step {
	switch o.kind {
	case obsToolCall:
		if o.call.ID == "" || n.pendingIDs[o.call.ID] {
			return nil
		}
		n.pendingIDs[o.call.ID] = true
		n.pending = append(n.pending, o.call)
		return nil
	case obsFinal:
		return []chat.Step{n.closeModelStep(o.messageID, o.text, o.usage)}
	case obsToolResult:
		if o.resultFor == "" || n.seenResults[o.resultFor] {
			return nil
		}
		n.seenResults[o.resultFor] = true
		var steps []chat.Step
		if len(n.pending) > 0 {
			steps = append(steps, n.closeModelStep("", "", nil))
		}
		status := chat.ToolStatusSuccess
		if o.result.Error {
			status = chat.ToolStatusError
		}
		msg := chat.NewToolResultMessage(n.uniqueID(""), o.resultFor, o.result.Content, status)
		if status == chat.ToolStatusSuccess {
			msg.Artifact = o.result.Artifact
			msg.QueryType = o.result.QueryType
		}
		return append(steps, chat.ToolStep{Results: []chat.Message{msg}})
	case obsError:
		return nil
	}
	return nil
}

// flush closes a model invocation whose calls were never followed by a final event.
func (n *normalizer) flush() []chat.Step {
	if len(n.pending) == 0 {
		return nil
	}
	return []chat.Step{n.closeModelStep("", "", nil)}
}

func (n *normalizer) closeModelStep(id, text string, usage *chat.Usage) chat.Step {
	calls := n.pending
	n.pending = nil
	n.pendingIDs = map[string]bool{}
	msg := chat.NewAssistantMessage(n.uniqueID(id), text, calls, usage)
	return chat.ModelStep{Messages: []chat.Message{msg}}
}

func (n *normalizer) uniqueID(id string) string {
	if id == "" || n.seenIDs[id] {
		id = n.newID()
	}
	n.seenIDs[id] = true
	return id
}
