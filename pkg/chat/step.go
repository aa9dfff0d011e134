package chat

import "context"

// Step is one normalized delta of an agent turn: either a ModelStep or a ToolStep.
type Step interface {
	isStep()
}

// ModelStep carries the assistant messages produced by one model invocation.
type ModelStep struct {
	Messages []Message
}

// ToolStep carries the tool result messages produced by one tool execution round.
type ToolStep struct {
	Results []Message
}

func (ModelStep) isStep() {}
func (ToolStep) isStep()  {}

// TurnRequest is the input handed to a Runtime for a single user question.
type TurnRequest struct {
	ConversationID string
	Question       string
}

// StepStream yields the steps of a running turn in emission order.
// Next returns ok=false once the turn is complete.
type StepStream interface {
	Next(ctx context.Context) (step Step, ok bool, err error)
	// Close releases the consumer side. The turn itself keeps running and persisting.
	Close()
}

// Runtime runs agent turns. Implementations own persistence of the messages they produce.
type Runtime interface {
	RunTurn(ctx context.Context, req TurnRequest) (StepStream, error)
}
