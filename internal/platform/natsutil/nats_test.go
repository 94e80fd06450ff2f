package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/logger"
	"github.com/todo-1m/board/internal/sharding"
)

type publishedMsg struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	err  error
	msgs []publishedMsg
}

func (f *fakePublisher) Publish(subject string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, publishedMsg{subject: subject, payload: payload})
	return nil
}

func TestEventPublisher_WritesShardedSubject(t *testing.T) {
	pub := &fakePublisher{}
	ev := contracts.Event{Event: contracts.EventTaskDeleted, TaskID: "task-42"}

	EventPublisher{Publisher: pub, Log: logger.Discard()}.Publish(ev)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, sharding.EventSubject(ev), pub.msgs[0].subject)
	assert.True(t, strings.HasPrefix(pub.msgs[0].subject, "board.event."))
	assert.True(t, strings.HasSuffix(pub.msgs[0].subject, "."+contracts.EventTaskDeleted))

	var got contracts.Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	assert.Equal(t, ev.Event, got.Event)
	assert.Equal(t, ev.TaskID, got.TaskID)
}

func TestEventPublisher_SwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: no responders")}
	assert.NotPanics(t, func() {
		EventPublisher{Publisher: pub, Log: logger.Discard()}.Publish(contracts.Event{Event: contracts.EventTaskAdded})
	})
	assert.Empty(t, pub.msgs)
}

func TestClose_NilSafe(t *testing.T) {
	var c *Client
	assert.NotPanics(t, c.Close)
	assert.NotPanics(t, (&Client{}).Close)
}

// fakeJetStream records the push subscription so tests can hand messages to
// its callback.
type fakeJetStream struct {
	nats.JetStreamContext

	mu      sync.Mutex
	subject string
	handler nats.MsgHandler
}

func (f *fakeJetStream) Subscribe(subject string, cb nats.MsgHandler, _ ...nats.SubOpt) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = subject
	f.handler = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeJetStream) subscribed() (nats.MsgHandler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler, f.handler != nil
}

func TestStreamEvents_RefreshesAfterSubscribingAndOnReconnect(t *testing.T) {
	js := &fakeJetStream{}
	client := &Client{JS: js, reconnected: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	refreshes := 0
	subscribedFirst := true
	onReady := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := js.subscribed(); !ok {
			subscribedFirst = false
		}
		refreshes++
		return nil
	}
	countRefreshes := func() int {
		mu.Lock()
		defer mu.Unlock()
		return refreshes
	}

	out := make(chan contracts.Event, 4)
	done := make(chan error, 1)
	go func() { done <- client.StreamEvents(ctx, out, onReady, logger.Discard()) }()

	require.Eventually(t, func() bool { return countRefreshes() == 1 }, time.Second, 5*time.Millisecond)
	handler, ok := js.subscribed()
	require.True(t, ok)
	assert.Equal(t, "board.event.>", js.subject)

	payload, err := json.Marshal(contracts.Event{Event: contracts.EventTaskDeleted, TaskID: "task-7"})
	require.NoError(t, err)
	handler(&nats.Msg{Subject: "board.event.3.taskDeleted", Data: payload})
	handler(&nats.Msg{Subject: "board.event.3.taskDeleted", Data: []byte("{not json")})

	select {
	case ev := <-out:
		assert.Equal(t, contracts.EventTaskDeleted, ev.Event)
		assert.Equal(t, "task-7", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
	assert.Empty(t, out, "malformed payloads are dropped")

	client.reconnected <- struct{}{}
	require.Eventually(t, func() bool { return countRefreshes() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	mu.Lock()
	assert.True(t, subscribedFirst, "refresh ran before the subscription was live")
	mu.Unlock()
}

func TestStreamEvents_RefreshFailureKeepsStreaming(t *testing.T) {
	js := &fakeJetStream{}
	client := &Client{JS: js}
	ctx, cancel := context.WithCancel(context.Background())

	called := make(chan struct{}, 1)
	onReady := func(context.Context) error {
		called <- struct{}{}
		return errors.New("board api unavailable")
	}
	done := make(chan error, 1)
	go func() { done <- client.StreamEvents(ctx, make(chan contracts.Event, 1), onReady, logger.Discard()) }()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("refresh never ran")
	}
	select {
	case err := <-done:
		t.Fatalf("stream stopped early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
