package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"vecsync/internal/apperr"
)

const DefaultNotifyChannel = "document_changes"

type listenerState struct {
	event pq.ListenerEventType
	err   error
}

// PostgresFeed turns NOTIFY payloads emitted by the documents trigger into
// change events, loading snapshots through getter.
type PostgresFeed struct {
	dsn            string
	channel        string
	getter         Getter
	connectTimeout time.Duration
}

func NewPostgresFeed(dsn string, getter Getter) *PostgresFeed {
	return &PostgresFeed{
		dsn:            dsn,
		channel:        DefaultNotifyChannel,
		getter:         getter,
		connectTimeout: 10 * time.Second,
	}
}

func (f *PostgresFeed) Subscribe(ctx context.Context) (Subscription, error) {
	states := make(chan listenerState, 8)
	l := pq.NewListener(f.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		select {
		case states <- listenerState{event: ev, err: err}:
		default:
		}
	})

	timer := time.NewTimer(f.connectTimeout)
	defer timer.Stop()
	select {
	case st := <-states:
		if st.event != pq.ListenerEventConnected {
			l.Close()
			return nil, fmt.Errorf("%w: connect listener: %v", apperr.ErrFeed, st.err)
		}
	case <-timer.C:
		l.Close()
		return nil, fmt.Errorf("%w: connect listener: timed out after %s", apperr.ErrFeed, f.connectTimeout)
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}

	if err := l.Listen(f.channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("%w: listen %s: %v", apperr.ErrFeed, f.channel, err)
	}
	slog.InfoContext(ctx, "listening for document changes", "channel", f.channel)

	exited := make(chan struct{})
	sub := NewChannelSubscription(0, func() error {
		err := l.Close()
		<-exited
		return err
	})
	go func() {
		defer close(exited)
		f.pump(ctx, l, states, sub)
	}()
	return sub, nil
}

func (f *PostgresFeed) pump(ctx context.Context, l *pq.Listener, states <-chan listenerState, sub *ChannelSubscription) {
	for {
		select {
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		case st := <-states:
			if st.event == pq.ListenerEventDisconnected || st.event == pq.ListenerEventConnectionAttemptFailed {
				sub.Fail(fmt.Errorf("%w: listener disconnected: %v", apperr.ErrFeed, st.err))
				return
			}
		case n, ok := <-l.Notify:
			if !ok {
				sub.Fail(fmt.Errorf("%w: notification channel closed", apperr.ErrFeed))
				return
			}
			if n == nil {
				// pq sends nil after re-establishing the connection
				slog.WarnContext(ctx, "listener reconnected, notifications may have been missed")
				continue
			}
			ev, err := DecodeEvent(ctx, []byte(n.Extra), f.getter)
			if err != nil {
				if apperr.IsInput(err) {
					slog.ErrorContext(ctx, "dropping malformed notification", "error", err, "payload", n.Extra)
					continue
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				sub.Fail(fmt.Errorf("%w: load snapshot: %v", apperr.ErrFeed, err))
				return
			}
			if !sub.Publish(ctx, ev) {
				return
			}
		}
	}
}
