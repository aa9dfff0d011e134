package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-go-golems/geppetto/pkg/events"
	geptools "github.com/go-go-golems/geppetto/pkg/inference/tools"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/statnett/talk2powersystem/pkg/tools"
)

// toolExecutor runs tool calls through geppetto's base executor and owns how results are
// reported. Every call publishes exactly one result event carrying a tools.Output envelope,
// including the failures geppetto resolves without running the tool (unknown tool name,
// undecodable arguments, cancelled retries). The loop itself only gets the output content.
type toolExecutor struct {
	*geptools.BaseToolExecutor
	maxParallel int

	mu        sync.Mutex
	published map[string]bool
}

var _ geptools.ToolExecutor = (*toolExecutor)(nil)

func newToolExecutor(cfg geptools.ToolConfig) *toolExecutor {
	e := &toolExecutor{
		BaseToolExecutor: geptools.NewBaseToolExecutor(cfg),
		maxParallel:      cfg.MaxParallelTools,
		published:        map[string]bool{},
	}
	e.ToolExecutorExt = e
	return e
}

// PublishResult replaces the base "Error: msg" strings with the envelope the normalizer
// decodes into a tool message.
func (e *toolExecutor) PublishResult(ctx context.Context, call geptools.ToolCall, res *geptools.ToolResult) {
	e.mu.Lock()
	e.published[call.ID] = true
	e.mu.Unlock()

	payload, err := json.Marshal(resultOutput(res))
	if err != nil {
		payload, _ = json.Marshal(tools.Failure(errors.Wrap(err, "encode tool output")))
	}
	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
		events.EventMetadata{},
		events.ToolResult{ID: call.ID, Name: call.Name, Result: string(payload)},
	))
}

func (e *toolExecutor) ExecuteToolCall(ctx context.Context, call geptools.ToolCall, registry geptools.ToolRegistry) (*geptools.ToolResult, error) {
	res, err := e.BaseToolExecutor.ExecuteToolCall(ctx, call, registry)
	if res == nil {
		msg := "no result returned"
		if err != nil {
			msg = err.Error()
		}
		res = &geptools.ToolResult{ID: call.ID, Error: msg}
	}

	e.mu.Lock()
	published := e.published[call.ID]
	delete(e.published, call.ID)
	e.mu.Unlock()
	if !published {
		e.PublishResult(ctx, call, res)
		e.mu.Lock()
		delete(e.published, call.ID)
		e.mu.Unlock()
	}

	if out, ok := res.Result.(tools.Output); ok {
		res.Result = tools.ForModel(out)
	}
	return res, err
}

// ExecuteToolCalls mirrors the base batch behaviour but dispatches to the ExecuteToolCall
// above; the base implementation calls its own method directly.
func (e *toolExecutor) ExecuteToolCalls(ctx context.Context, calls []geptools.ToolCall, registry geptools.ToolRegistry) ([]*geptools.ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]*geptools.ToolResult, len(calls))
	g := errgroup.Group{}
	if e.maxParallel > 1 {
		g.SetLimit(e.maxParallel)
	} else {
		g.SetLimit(1)
	}
	for i, call := range calls {
		g.Go(func() error {
			r, err := e.ExecuteToolCall(ctx, call, registry)
			results[i] = r
			return err
		})
	}
	return results, g.Wait()
}

func resultOutput(res *geptools.ToolResult) tools.Output {
	switch {
	case res == nil:
		return tools.Failure(errors.New("no result returned"))
	case res.Error != "":
		return tools.Failure(errors.New(res.Error))
	}
	switch v := res.Result.(type) {
	case tools.Output:
		return v
	case *tools.Output:
		if v != nil {
			return *v
		}
		return tools.Text("")
	case nil:
		return tools.Text("")
	case string:
		return tools.Text(v)
	}
	b, err := json.Marshal(res.Result)
	if err != nil {
		return tools.Text(fmt.Sprintf("%v", res.Result))
	}
	return tools.Text(string(b))
}
