package source

import (
	"context"
	"sync"
)

// ChannelSubscription is a Subscription fed by a producer goroutine through
// Publish and Fail.
type ChannelSubscription struct {
	events   chan ChangeEvent
	errs     chan error
	done     chan struct{}
	once     sync.Once
	onClose  func() error
	closeErr error
}

func NewChannelSubscription(buffer int, onClose func() error) *ChannelSubscription {
	return &ChannelSubscription{
		events:  make(chan ChangeEvent, buffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *ChannelSubscription) Events() <-chan ChangeEvent { return s.events }
func (s *ChannelSubscription) Errors() <-chan error       { return s.errs }

// Done is closed once Close has been called.
func (s *ChannelSubscription) Done() <-chan struct{} { return s.done }

// Publish blocks until ev is accepted, the subscription is closed or ctx ends.
func (s *ChannelSubscription) Publish(ctx context.Context, ev ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail reports a broken subscription. Only the first error is kept.
func (s *ChannelSubscription) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *ChannelSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
	})
	return s.closeErr
}
