package chat

// TokenUsage is the wire shape of token accounting in chat responses.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func TokenUsageFrom(u Usage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// UsageAccumulator sums token usage across the model steps of one turn.
// It is owned by a single request and never persisted.
type UsageAccumulator struct {
	sum   Usage
	steps int
}

func (a *UsageAccumulator) Add(u Usage) {
	a.sum.InputTokens += u.InputTokens
	a.sum.OutputTokens += u.OutputTokens
	a.sum.TotalTokens += u.TotalTokens
	a.steps++
}

func (a *UsageAccumulator) Total() Usage { return a.sum }

// Steps is the number of usage reports folded into the total.
func (a *UsageAccumulator) Steps() int { return a.steps }
