// Package nsq carries document change events over NSQ, as an alternative to
// the Postgres LISTEN/NOTIFY feed for sources owned by other services.
package nsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"vecsync/internal/apperr"
	"vecsync/internal/source"
)

var errSubscriptionClosed = errors.New("subscription closed")

const DefaultHealthInterval = 5 * time.Second

type FeedOptions struct {
	NSQDAddr    string
	LookupdAddr string
	Topic       string
	Channel     string
	// HealthInterval is how often the connection count is checked.
	HealthInterval time.Duration
}

// Feed consumes change events from a topic. Events without a snapshot are
// resolved through the getter when one is set.
type Feed struct {
	opts   FeedOptions
	getter source.Getter
}

func NewFeed(opts FeedOptions, getter source.Getter) *Feed {
	return &Feed{opts: opts, getter: getter}
}

func (f *Feed) Subscribe(ctx context.Context) (source.Subscription, error) {
	cfg := nsq.NewConfig()
	// one message at a time keeps events in arrival order
	cfg.MaxInFlight = 1

	consumer, err := nsq.NewConsumer(f.opts.Topic, f.opts.Channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create consumer: %v", apperr.ErrFeed, err)
	}
	consumer.SetLogger(slogOutput{}, nsq.LogLevelWarning)

	sub := source.NewChannelSubscription(0, func() error {
		consumer.Stop()
		<-consumer.StopChan
		return nil
	})
	consumer.AddHandler(f.handler(ctx, sub))

	if f.opts.LookupdAddr != "" {
		err = consumer.ConnectToNSQLookupd(f.opts.LookupdAddr)
	} else {
		err = consumer.ConnectToNSQD(f.opts.NSQDAddr)
	}
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("%w: connect consumer: %v", apperr.ErrFeed, err)
	}
	slog.InfoContext(ctx, "consuming document changes", "topic", f.opts.Topic, "channel", f.opts.Channel)

	if f.opts.LookupdAddr == "" {
		// with lookupd, zero connections is normal until a producer appears
		go f.watchConnections(ctx, consumer, sub)
	}
	return sub, nil
}

// watchConnections fails the subscription once the consumer has had no live
// nsqd connection for two consecutive checks. go-nsq reconnects on its own;
// this only surfaces outages that outlast its retries.
func (f *Feed) watchConnections(ctx context.Context, consumer *nsq.Consumer, sub *source.ChannelSubscription) {
	interval := f.opts.HealthInterval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if consumer.Stats().Connections > 0 {
				misses = 0
				continue
			}
			misses++
			if misses >= 2 {
				sub.Fail(fmt.Errorf("%w: no nsqd connection for %s", apperr.ErrFeed, time.Duration(misses)*interval))
				return
			}
		}
	}
}

func (f *Feed) handler(ctx context.Context, sub *source.ChannelSubscription) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		if len(m.Body) == 0 {
			return nil
		}
		ev, err := source.DecodeEvent(ctx, m.Body, f.getter)
		if err != nil {
			if apperr.IsInput(err) {
				// Poison pill: never redeliver
				slog.ErrorContext(ctx, "dropping malformed change event", "error", err)
				return nil
			}
			return err
		}
		if !sub.Publish(ctx, ev) {
			return errSubscriptionClosed
		}
		return nil
	}
}

// slogOutput routes go-nsq's internal logging through slog.
type slogOutput struct{}

func (slogOutput) Output(_ int, s string) error {
	switch {
	case strings.HasPrefix(s, "ERR"):
		slog.Error("nsq", "message", s)
	case strings.HasPrefix(s, "WRN"):
		slog.Warn("nsq", "message", s)
	default:
		slog.Debug("nsq", "message", s)
	}
	return nil
}
