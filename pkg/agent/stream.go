package agent

import (
	"context"
	"sync"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// channelStream hands steps from the inference goroutine to the request handler.
// Once the consumer closes it, deliveries are dropped instead of blocking the producer.
type channelStream struct {
	steps     chan chat.Step
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ chat.StepStream = (*channelStream)(nil)

func newChannelStream(buffer int) *channelStream {
	return &channelStream{
		steps: make(chan chat.Step, buffer),
		done:  make(chan struct{}),
	}
}

func (s *channelStream) Next(ctx context.Context) (chat.Step, bool, error) {
	select {
	case st, ok := <-s.steps:
		if !ok {
			return nil, false, s.err
		}
		return st, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *channelStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// deliver reports false when the consumer is gone.
func (s *channelStream) deliver(st chat.Step) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.steps <- st:
		return true
	case <-s.done:
		return false
	}
}

// finish must be called exactly once by the producer.
func (s *channelStream) finish(err error) {
	s.err = err
	close(s.steps)
}
