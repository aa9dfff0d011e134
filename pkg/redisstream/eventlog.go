package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/go-go-golems/geppetto/pkg/helpers"
	"github.com/go-go-golems/geppetto/pkg/inference/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/statnett/talk2powersystem/pkg/tools"
)

const defaultTopic = "talk2powersystem-agent-events"

// EventLog fans the raw inference events of every turn out through a watermill router and
// logs tool traffic and token usage from a router handler.
type EventLog struct {
	router *events.EventRouter
	topic  string
	client *redis.Client
}

func NewEventLog(s Settings, verbose bool) (*EventLog, error) {
	topic := strings.TrimSpace(s.Topic)
	if topic == "" {
		topic = defaultTopic
	}
	if !s.Enabled {
		router, err := events.NewEventRouter(optVerbose(verbose))
		if err != nil {
			return nil, errors.Wrap(err, "event log: build router")
		}
		el := &EventLog{router: router, topic: topic}
		router.AddHandler("agent-event-log", topic, el.handle)
		return el, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := ensureGroupAtTail(context.Background(), client, topic, s.Group); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "event log: create consumer group")
	}
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := helpers.NewWatermill(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "event log: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "event log: redis subscriber")
	}
	router, err := events.NewEventRouter(
		events.WithPublisher(message.Publisher(pub)),
		events.WithSubscriber(message.Subscriber(sub)),
		optVerbose(verbose),
	)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "event log: build router")
	}
	el := &EventLog{router: router, topic: topic, client: client}
	router.AddHandler("agent-event-log", topic, el.handle)
	log.Info().Str("addr", s.Addr).Str("topic", topic).Str("group", s.Group).Msg("agent event log on redis streams")
	return el, nil
}

// Sink publishes inference events to the event log topic.
func (l *EventLog) Sink() events.EventSink {
	return middleware.NewWatermillSink(l.router.Publisher, l.topic)
}

// Run blocks until ctx is cancelled or the router fails.
func (l *EventLog) Run(ctx context.Context) error {
	return l.router.Run(ctx)
}

// WaitRunning blocks until the router handlers are subscribed or ctx is done.
func (l *EventLog) WaitRunning(ctx context.Context) {
	select {
	case <-l.router.Running():
	case <-ctx.Done():
	}
}

func (l *EventLog) Close() error {
	err := l.router.Close()
	if l.client != nil {
		if cerr := l.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (l *EventLog) handle(msg *message.Message) error {
	defer msg.Ack()
	e, err := events.NewEventFromJson(msg.Payload)
	if err != nil {
		return err
	}
	logEvent(log.Logger, e)
	return nil
}

func logEvent(logger zerolog.Logger, e events.Event) {
	md := e.Metadata()
	l := logger.With().Str("component", "agent-events").Str("session_id", md.SessionID).Logger()
	switch ev := e.(type) {
	case *events.EventToolCall:
		l.Info().Str("tool", ev.ToolCall.Name).Str("id", ev.ToolCall.ID).Str("input", ev.ToolCall.Input).Msg("tool call")
	case *events.EventToolResult:
		l.Info().Str("id", ev.ToolResult.ID).Int("result_bytes", len(ev.ToolResult.Result)).Msg("tool result")
	case *events.EventToolCallExecutionResult:
		out := tools.DecodeOutput(ev.ToolResult.Result)
		entry := l.Info()
		if out.Error {
			entry = l.Warn()
		}
		entry.Str("tool", ev.ToolResult.Name).
			Str("id", ev.ToolResult.ID).
			Bool("failed", out.Error).
			Str("query_type", out.QueryType).
			Int("result_bytes", len(ev.ToolResult.Result)).
			Msg("tool executed")
	case *events.EventFinal:
		entry := l.Info()
		if u := md.LLMInferenceData.Usage; u != nil {
			entry = entry.Int("input_tokens", u.InputTokens).Int("output_tokens", u.OutputTokens)
		}
		entry.Int("text_bytes", len(ev.Text)).Msg("model step completed")
	case *events.EventError:
		l.Warn().Str("error", ev.ErrorString).Msg("inference error")
	}
}

func optVerbose(v bool) events.EventRouterOption {
	if v {
		return events.WithVerbose(true)
	}
	return func(r *events.EventRouter) {}
}

// ensureGroupAtTail creates the consumer group at $ so a fresh handler does not replay history.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
