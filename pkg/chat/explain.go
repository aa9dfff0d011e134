package chat

// QueryMethod renders one tool invocation that contributed to an answer.
type QueryMethod struct {
	Name        string         `json:"name"`
	Args        map[string]any `json:"args"`
	Query       string         `json:"query,omitempty"`
	QueryType   string         `json:"queryType,omitempty"`
	ErrorOutput string         `json:"errorOutput,omitempty"`
}

// Explain returns the tool invocations that led to the message identified by messageID.
//
// The transcript is truncated after the target, the target itself is dropped, and the
// remainder is scanned backward until the previous turn boundary (a user message or an
// assistant message with text). Tool calls carried by an assistant message always explain
// the answer that follows them: when the boundary message has both text and tool calls,
// its calls are included, and the target's own calls never are.
func Explain(messages []Message, messageID string) ([]QueryMethod, error) {
	end := -1
	for i, m := range messages {
		if m.ID == messageID {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, MessageNotFound(messageID)
	}

	window := isolateToolTraffic(messages[:end])

	artifacts := map[string]Message{}
	failures := map[string]string{}
	for _, m := range window {
		if m.Role != RoleTool {
			continue
		}
		if m.Status == ToolStatusError {
			failures[m.ToolCallID] = m.Content
			continue
		}
		if m.Artifact != "" {
			artifacts[m.ToolCallID] = m
		}
	}

	methods := []QueryMethod{}
	for _, m := range window {
		if !m.IsToolCalling() {
			continue
		}
		for _, tc := range m.ToolCalls {
			qm := QueryMethod{Name: tc.Name, Args: tc.Args}
			if qm.Args == nil {
				qm.Args = map[string]any{}
			}
			if res, ok := artifacts[tc.ID]; ok {
				qm.Query = res.Artifact
				qm.QueryType = res.QueryType
				if qm.QueryType == "" {
					// transcripts written before tools tagged their results
					qm.QueryType = QueryTypeSPARQL
				}
			}
			if out, ok := failures[tc.ID]; ok {
				qm.ErrorOutput = out
			}
			methods = append(methods, qm)
		}
	}
	return methods, nil
}

// isolateToolTraffic returns the contiguous tail of prefix that lies after the last turn boundary.
func isolateToolTraffic(prefix []Message) []Message {
	start := len(prefix)
	for start > 0 {
		m := prefix[start-1]
		if m.IsTurnBoundary() {
			if m.IsToolCalling() {
				start--
			}
			break
		}
		start--
	}
	return prefix[start:]
}
