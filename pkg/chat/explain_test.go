package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sparqlCall(id, query string) ToolCall {
	return ToolCall{ID: id, Name: "sparql_query", Args: map[string]any{"query": query}}
}

func twoTurnTranscript() []Message {
	sparqlResult := NewToolResultMessage("tr-1", "tc-1", `{"results":{"bindings":[]}}`, ToolStatusSuccess)
	sparqlResult.Artifact = "SELECT * WHERE { ?s ?p ?o } LIMIT 1"
	sparqlResult.QueryType = QueryTypeSPARQL

	return []Message{
		NewUserMessage("u-1", "How many substations?"),
		NewAssistantMessage("a-1", "", []ToolCall{sparqlCall("tc-1", "SELECT * WHERE { ?s ?p ?o }")}, &Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}),
		sparqlResult,
		NewAssistantMessage("a-2", "There are 42.", nil, &Usage{InputTokens: 20, OutputTokens: 5, TotalTokens: 25}),
		NewUserMessage("u-2", "What time is it?"),
		NewAssistantMessage("a-3", "", []ToolCall{{ID: "tc-2", Name: "now", Args: map[string]any{}}}, nil),
		NewToolResultMessage("tr-2", "tc-2", "2026-10-14T10:00:00+0000", ToolStatusSuccess),
		NewAssistantMessage("a-4", "It is 10:00.", nil, nil),
	}
}

func TestExplainNoPriorToolActivity(t *testing.T) {
	msgs := []Message{
		NewUserMessage("u-1", "hello"),
		NewAssistantMessage("a-1", "hi there", nil, nil),
	}
	methods, err := Explain(msgs, "a-1")
	require.NoError(t, err)
	require.NotNil(t, methods)
	require.Empty(t, methods)
}

func TestExplainIsolatesTurns(t *testing.T) {
	msgs := twoTurnTranscript()

	first, err := Explain(msgs, "a-2")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "sparql_query", first[0].Name)
	require.Equal(t, "SELECT * WHERE { ?s ?p ?o } LIMIT 1", first[0].Query)
	require.Equal(t, QueryTypeSPARQL, first[0].QueryType)
	require.Equal(t, "SELECT * WHERE { ?s ?p ?o }", first[0].Args["query"])

	second, err := Explain(msgs, "a-4")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "now", second[0].Name)
	require.Empty(t, second[0].Query)
	require.Empty(t, second[0].QueryType)
}

func TestExplainSurfacesErrors(t *testing.T) {
	msgs := []Message{
		NewUserMessage("u-1", "list lines"),
		NewAssistantMessage("a-1", "", []ToolCall{sparqlCall("tc-1", "SELECT ?x WHERE { ?x a cim:Line }")}, nil),
		NewToolResultMessage("tr-1", "tc-1", "Error: unknown prefix cim", ToolStatusError),
		NewAssistantMessage("a-2", "", []ToolCall{sparqlCall("tc-2", "PREFIX cim: <urn:cim#> SELECT ?x WHERE { ?x a cim:Line }")}, nil),
		func() Message {
			m := NewToolResultMessage("tr-2", "tc-2", "{}", ToolStatusSuccess)
			m.Artifact = "PREFIX cim: <urn:cim#> SELECT ?x WHERE { ?x a cim:Line }"
			return m
		}(),
		NewAssistantMessage("a-3", "", []ToolCall{{ID: "tc-3", Name: "now"}}, nil),
		NewToolResultMessage("tr-3", "tc-3", "2026-10-14T10:00:00+0000", ToolStatusSuccess),
		NewAssistantMessage("a-4", "Here are the lines.", nil, nil),
	}

	methods, err := Explain(msgs, "a-4")
	require.NoError(t, err)
	require.Len(t, methods, 3)

	require.Equal(t, "sparql_query", methods[0].Name)
	require.Equal(t, "Error: unknown prefix cim", methods[0].ErrorOutput)
	require.Empty(t, methods[0].Query)
	require.Empty(t, methods[0].QueryType)

	require.Equal(t, "sparql_query", methods[1].Name)
	require.Empty(t, methods[1].ErrorOutput)
	// untagged artifacts fall back to sparql
	require.Equal(t, QueryTypeSPARQL, methods[1].QueryType)

	require.Equal(t, "now", methods[2].Name)
	require.NotNil(t, methods[2].Args)
}

func TestExplainMessageNotFound(t *testing.T) {
	_, err := Explain(twoTurnTranscript(), "missing")
	require.Error(t, err)
	nf, ok := AsNotFound(err)
	require.True(t, ok)
	require.Equal(t, KindMessage, nf.Kind)
	require.Equal(t, `Message with id "missing" not found.`, err.Error())
}

func TestExplainIsIdempotent(t *testing.T) {
	msgs := twoTurnTranscript()
	a, err := Explain(msgs, "a-2")
	require.NoError(t, err)
	b, err := Explain(msgs, "a-2")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExplainBoundaryWithToolCalls(t *testing.T) {
	sparqlResult := NewToolResultMessage("tr-1", "tc-1", "{}", ToolStatusSuccess)
	sparqlResult.Artifact = "ASK { ?s ?p ?o }"
	msgs := []Message{
		NewUserMessage("u-1", "check the graph"),
		NewAssistantMessage("a-1", "Let me look that up.", []ToolCall{sparqlCall("tc-1", "ASK { ?s ?p ?o }")}, nil),
		sparqlResult,
		NewAssistantMessage("a-2", "The graph is not empty.", nil, nil),
	}

	after, err := Explain(msgs, "a-2")
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "ASK { ?s ?p ?o }", after[0].Query)

	own, err := Explain(msgs, "a-1")
	require.NoError(t, err)
	require.Empty(t, own)
}

func TestExplainExplicitQueryType(t *testing.T) {
	res := NewToolResultMessage("tr-1", "tc-1", "{}", ToolStatusSuccess)
	res.Artifact = "series:abc"
	res.QueryType = "cognite"
	msgs := []Message{
		NewUserMessage("u-1", "q"),
		NewAssistantMessage("a-1", "", []ToolCall{{ID: "tc-1", Name: "retrieve_time_series"}}, nil),
		res,
		NewAssistantMessage("a-2", "done", nil, nil),
	}
	methods, err := Explain(msgs, "a-2")
	require.NoError(t, err)
	require.Len(t, methods, 1)
	require.Equal(t, "cognite", methods[0].QueryType)
	require.Equal(t, "series:abc", methods[0].Query)
}
