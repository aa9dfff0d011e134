package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Output is the envelope every tool returns to the inference loop. The agent adapter decodes
// it back into a tool result message: Content is what the model sees, Artifact is the
// redacted executed query, QueryType tags what kind of query the artifact is.
type Output struct {
	Content   string `json:"content"`
	Artifact  string `json:"artifact,omitempty"`
	QueryType string `json:"query_type,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

const errorTemplate = "Tool error: Please check your input and try again. (%s)"

// Failure renders err the way the model is told about failed tool calls.
func Failure(err error) Output {
	return Output{Content: fmt.Sprintf(errorTemplate, err.Error()), Error: true}
}

// Text is a successful output without an artifact.
func Text(content string) Output {
	return Output{Content: content}
}

// Guard adapts a context-aware tool function into the shape expected by the tool registry.
// The timeout is layered on the context geppetto runs the tool with, so turn deadlines and
// cancellation reach the backing client. Errors and panics never escape: they become failed
// outputs so the model can retry.
func Guard[Req any](name string, timeout time.Duration, fn func(ctx context.Context, req Req) (Output, error)) func(context.Context, Req) (Output, error) {
	return func(ctx context.Context, req Req) (out Output, err error) {
		if ctx == nil {
			ctx = context.Background()
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("tool", name).Interface("panic", r).Msg("tool panicked")
				out, err = Failure(fmt.Errorf("%v", r)), nil
			}
		}()
		res, ferr := fn(ctx, req)
		if ferr != nil {
			log.Warn().Err(ferr).Str("tool", name).Msg("tool call failed")
			return Failure(ferr), nil
		}
		return res, nil
	}
}

// ForModel is the value handed back to the inference loop for out. Only Content reaches the
// model; JSON content is passed through as is, anything else as a JSON string.
func ForModel(out Output) any {
	if json.Valid([]byte(out.Content)) {
		return json.RawMessage(out.Content)
	}
	return out.Content
}

// DecodeOutput parses a raw tool result. Results that are not envelopes are passed through
// as plain content, except executor error strings which decode as failures.
func DecodeOutput(raw string) Output {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			if _, ok := fields["content"]; ok {
				var out Output
				if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
					return out
				}
			}
		}
	}
	if msg, ok := executorError(trimmed); ok {
		return Failure(errors.New(msg))
	}
	return Output{Content: raw}
}

// executorError recognizes the "Error: msg" and "payload | Error: msg" results geppetto's
// default executor publishes for failures it handles itself.
func executorError(raw string) (string, bool) {
	if msg, ok := strings.CutPrefix(raw, "Error: "); ok {
		return msg, true
	}
	if i := strings.LastIndex(raw, " | Error: "); i >= 0 {
		return raw[i+len(" | Error: "):], true
	}
	return "", false
}
