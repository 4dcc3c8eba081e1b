package nsq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nsqfeed "vecsync/internal/adapter/nsq"
	"vecsync/internal/config"
	"vecsync/internal/source"
	"vecsync/internal/testutils"
)

func TestFeed_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t, testutils.NSQ)
	s.Setup()
	defer s.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := nsqfeed.NewFeed(nsqfeed.FeedOptions{
		NSQDAddr: s.NSQAddr,
		Topic:    config.TopicDocumentChanges,
		Channel:  config.ChannelVecsync,
	}, nil)
	sub, err := feed.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	pub := nsqfeed.NewPublisher(s.NSQ, config.TopicDocumentChanges)
	require.NoError(t, pub.Publish(ctx, source.ChangeEvent{Operation: source.OpDelete, DocumentID: "doc-1"}))
	require.NoError(t, pub.Publish(ctx, source.ChangeEvent{
		Operation:  source.OpInsert,
		DocumentID: "doc-2",
		Document:   &source.Document{ID: "doc-2", Fields: map[string]any{"body": "hello"}},
	}))

	for _, want := range []string{"doc-1", "doc-2"} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, want, ev.DocumentID)
		case err := <-sub.Errors():
			t.Fatalf("subscription failed: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
