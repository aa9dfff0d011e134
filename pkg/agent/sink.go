package agent

import (
	"context"
	"sync"

	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// MessageAppender is the write side of the conversation store.
type MessageAppender interface {
	Append(ctx context.Context, convID string, msgs ...chat.Message) error
}

// turnSink receives the events of one turn, persists every normalized message in order and
// forwards the resulting steps to the stream. Persistence does not depend on the consumer.
type turnSink struct {
	mu         sync.Mutex
	ctx        context.Context
	convID     string
	store      MessageAppender
	norm       *normalizer
	stream     *channelStream
	logger     zerolog.Logger
	persistErr error
	dropped    int
}

var _ events.EventSink = (*turnSink)(nil)

func newTurnSink(ctx context.Context, convID string, store MessageAppender, stream *channelStream, logger zerolog.Logger) *turnSink {
	return &turnSink{
		ctx:    ctx,
		convID: convID,
		store:  store,
		norm:   newNormalizer(),
		stream: stream,
		logger: logger,
	}
}

func (s *turnSink) PublishEvent(e events.Event) error {
	o, ok := observe(e)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.kind == obsError {
		s.logger.Warn().Str("error", o.text).Msg("inference reported an error")
		return nil
	}
	s.emitLocked(s.norm.apply(o))
	return nil
}

func (s *turnSink) emitLocked(steps []chat.Step) {
	for _, st := range steps {
		msgs := stepMessages(st)
		if err := s.store.Append(s.ctx, s.convID, msgs...); err != nil {
			s.logger.Error().Err(err).Int("messages", len(msgs)).Msg("failed to persist turn messages")
			if s.persistErr == nil {
				s.persistErr = errors.Wrap(err, "agent: persist messages")
			}
		}
		s.logger.Debug().Str("step", stepKind(st)).Int("messages", len(msgs)).Msg("step")
		if !s.stream.deliver(st) {
			s.dropped++
		}
	}
}

// close flushes buffered tool calls and ends the stream with the turn outcome.
func (s *turnSink) close(runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(s.norm.flush())
	if s.dropped > 0 {
		s.logger.Debug().Int("dropped_steps", s.dropped).Msg("consumer left before the turn finished")
	}
	err := runErr
	if err == nil {
		err = s.persistErr
	}
	s.stream.finish(err)
}

func stepMessages(st chat.Step) []chat.Message {
	switch v := st.(type) {
	case chat.ModelStep:
		return v.Messages
	case chat.ToolStep:
		return v.Results
	}
	return nil
}

func stepKind(st chat.Step) string {
	switch st.(type) {
	case chat.ModelStep:
		return "model"
	case chat.ToolStep:
		return "tools"
	}
	return "unknown"
}
