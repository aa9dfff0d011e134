package redisstream

import (
	"bytes"
	"testing"

	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogEventToolTraffic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logEvent(logger, events.NewToolCallEvent(events.EventMetadata{SessionID: "thread_1"}, events.ToolCall{ID: "tc-1", Name: "sparql_query", Input: `{"query":"ASK {}"}`}))
	require.Contains(t, buf.String(), `"tool":"sparql_query"`)
	require.Contains(t, buf.String(), `"session_id":"thread_1"`)
	require.Contains(t, buf.String(), `"message":"tool call"`)

	buf.Reset()
	logEvent(logger, events.NewToolResultEvent(events.EventMetadata{}, events.ToolResult{ID: "tc-1", Result: "abc"}))
	require.Contains(t, buf.String(), `"result_bytes":3`)

	buf.Reset()
	logEvent(logger, events.NewToolCallExecutionResultEvent(events.EventMetadata{}, events.ToolResult{
		ID: "tc-1", Name: "sparql_query", Result: `{"content":"{}","artifact":"ASK {}","query_type":"sparql"}`,
	}))
	require.Contains(t, buf.String(), `"message":"tool executed"`)
	require.Contains(t, buf.String(), `"tool":"sparql_query"`)
	require.Contains(t, buf.String(), `"failed":false`)
	require.Contains(t, buf.String(), `"query_type":"sparql"`)

	buf.Reset()
	logEvent(logger, events.NewToolCallExecutionResultEvent(events.EventMetadata{}, events.ToolResult{
		ID: "tc-2", Name: "no_such_tool", Result: `{"content":"Tool error: Please check your input and try again. (tool not found: no_such_tool)","error":true}`,
	}))
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"failed":true`)

	buf.Reset()
	logEvent(logger, events.NewFinalEvent(events.EventMetadata{}, "done"))
	require.Contains(t, buf.String(), `"message":"model step completed"`)
}

func TestNewEventLogInMemory(t *testing.T) {
	el, err := NewEventLog(Settings{}, false)
	require.NoError(t, err)
	require.Equal(t, defaultTopic, el.topic)
	require.NotNil(t, el.Sink())
	require.NoError(t, el.Close())
}
