package agent

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/inference/middleware"
	"github.com/go-go-golems/geppetto/pkg/inference/toolloop"
	"github.com/go-go-golems/geppetto/pkg/inference/toolloop/enginebuilder"
	geptools "github.com/go-go-golems/geppetto/pkg/inference/tools"
	"github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// Store is what the runtime needs from the conversation store.
type Store interface {
	MessageAppender
	Load(ctx context.Context, convID string) (chat.Conversation, bool, error)
}

// Options configures a GeppettoRuntime.
type Options struct {
	Engine        engine.Engine
	Registry      geptools.ToolRegistry
	Store         Store
	SystemPrompt  string
	MaxIterations int
	ToolTimeout   time.Duration
	TurnTimeout   time.Duration
	// ExtraSinks receive the raw inference events, e.g. a watermill publisher.
	ExtraSinks  []events.EventSink
	Middlewares []middleware.Middleware
}

type inferenceRunner interface {
	RunInference(ctx context.Context, t *turns.Turn) (*turns.Turn, error)
}

type runnerFactory func(ctx context.Context, sessionID string, sinks []events.EventSink) (inferenceRunner, error)

// GeppettoRuntime runs turns through the geppetto tool loop and persists every produced
// message to the conversation store.
type GeppettoRuntime struct {
	store       Store
	turnTimeout time.Duration
	extraSinks  []events.EventSink
	buildRunner runnerFactory
}

var _ chat.Runtime = (*GeppettoRuntime)(nil)

func NewGeppettoRuntime(opts Options) (*GeppettoRuntime, error) {
	if opts.Engine == nil {
		return nil, errors.New("agent runtime: engine is nil")
	}
	if opts.Store == nil {
		return nil, errors.New("agent runtime: store is nil")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 60 * time.Second
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 5 * time.Minute
	}

	mws := make([]middleware.Middleware, 0, 2+len(opts.Middlewares))
	mws = append(mws, middleware.NewToolResultReorderMiddleware())
	mws = append(mws, opts.Middlewares...)
	// System prompt is near-innermost so it stays close to provider inference.
	if strings.TrimSpace(opts.SystemPrompt) != "" {
		mws = append(mws, middleware.NewSystemPromptMiddleware(opts.SystemPrompt))
	}

	loopCfg := toolloop.NewLoopConfig().WithMaxIterations(opts.MaxIterations)
	toolCfg := geptools.DefaultToolConfig().WithExecutionTimeout(opts.ToolTimeout)
	eng := opts.Engine
	registry := opts.Registry

	r := &GeppettoRuntime{
		store:       opts.Store,
		turnTimeout: opts.TurnTimeout,
		extraSinks:  opts.ExtraSinks,
	}
	r.buildRunner = func(ctx context.Context, sessionID string, sinks []events.EventSink) (inferenceRunner, error) {
		b := &enginebuilder.Builder{
			Base:         eng,
			Registry:     registry,
			LoopConfig:   &loopCfg,
			ToolConfig:   &toolCfg,
			ToolExecutor: newToolExecutor(toolCfg),
			EventSinks:   sinks,
			Middlewares:  mws,
		}
		return b.Build(ctx, sessionID)
	}
	return r, nil
}

// RunTurn persists the question, starts the tool loop and returns the step stream.
// The loop runs detached from ctx cancellation, bounded by the turn timeout.
func (r *GeppettoRuntime) RunTurn(ctx context.Context, req chat.TurnRequest) (chat.StepStream, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, errors.New("agent runtime: conversation id is empty")
	}
	logger := zerolog.Ctx(ctx).With().
		Str("component", "agent").
		Str("conversation_id", req.ConversationID).
		Logger()

	conv, _, err := r.store.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, errors.Wrap(err, "agent runtime: load history")
	}
	seed := seedTurn(conv.Messages, req.Question)
	if err := turns.KeyTurnMetaSessionID.Set(&seed.Metadata, req.ConversationID); err != nil {
		return nil, errors.Wrap(err, "agent runtime: set session id")
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.turnTimeout)
	runCtx = logger.WithContext(runCtx)

	user := chat.NewUserMessage(uuid.NewString(), req.Question)
	if err := r.store.Append(runCtx, req.ConversationID, user); err != nil {
		cancel()
		return nil, errors.Wrap(err, "agent runtime: persist question")
	}

	stream := newChannelStream(32)
	sink := newTurnSink(runCtx, req.ConversationID, r.store, stream, logger)
	sinks := append([]events.EventSink{sink}, r.extraSinks...)

	runner, err := r.buildRunner(runCtx, req.ConversationID, sinks)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "agent runtime: build runner")
	}

	logger.Info().Int("history", len(conv.Messages)).Msg("starting turn")
	go func() {
		defer cancel()
		started := time.Now()
		_, runErr := runner.RunInference(runCtx, seed)
		if runErr != nil {
			logger.Error().Err(runErr).Msg("turn failed")
			runErr = errors.Wrap(runErr, "agent runtime: inference")
		}
		sink.close(runErr)
		logger.Debug().Dur("elapsed", time.Since(started)).Msg("turn finished")
	}()
	return stream, nil
}

// seedTurn replays the visible dialogue. Tool traffic of earlier turns is not replayed;
// the model sees prior questions and answers only.
func seedTurn(history []chat.Message, question string) *turns.Turn {
	seed := &turns.Turn{}
	for _, m := range history {
		switch {
		case m.Role == chat.RoleUser:
			turns.AppendBlock(seed, turns.NewUserTextBlock(m.Content))
		case m.Role == chat.RoleAssistant && m.HasContent():
			turns.AppendBlock(seed, turns.NewAssistantTextBlock(m.Content))
		}
	}
	turns.AppendBlock(seed, turns.NewUserTextBlock(question))
	return seed
}
