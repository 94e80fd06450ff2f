package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/messaging"
	"github.com/todo-1m/board/internal/sharding"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext

	// reconnected receives a signal each time the connection comes back.
	reconnected chan struct{}
}

func ConnectJetStream(url string) (*Client, error) {
	reconnected := make(chan struct{}, 1)
	conn, err := nats.Connect(url,
		nats.Name("board"),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js, reconnected: reconnected}, nil
}

func ConnectJetStreamWithRetry(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = timeout

	var client *Client
	err := backoff.Retry(func() error {
		c, err := ConnectJetStream(url)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, err)
	}
	return client, nil
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

type Publisher interface {
	Publish(subject string, payload []byte) error
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload)
	return err
}

// EventPublisher writes board events to their sharded subjects.
type EventPublisher struct {
	Publisher Publisher
	Log       logrus.FieldLogger
}

// Publish is fire-and-forget: a failed publish is logged and the local
// websocket fan-out is unaffected.
func (p EventPublisher) Publish(ev contracts.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.Log.WithError(err).WithField("event", ev.Event).Error("encode board event")
		return
	}
	if err := p.Publisher.Publish(sharding.EventSubject(ev), payload); err != nil {
		p.Log.WithError(err).WithField("event", ev.Event).Warn("publish board event")
	}
}

// StreamEvents delivers newly published board events to out until ctx is
// cancelled. onReady runs once the subscription is live and again after every
// reconnect; a full refresh there covers anything published before delivery
// started. Malformed payloads are terminated so they are not redelivered.
func (c *Client) StreamEvents(ctx context.Context, out chan<- contracts.Event, onReady func(context.Context) error, log logrus.FieldLogger) error {
	sub, err := c.JS.Subscribe(messaging.EventsSubjects, func(msg *nats.Msg) {
		var ev contracts.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.WithError(err).WithField("subject", msg.Subject).Warn("discarding invalid event payload")
			_ = msg.Term()
			return
		}
		select {
		case out <- ev:
			_ = msg.Ack()
		case <-ctx.Done():
			_ = msg.Nak()
		}
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()
	log.WithField("subject", sub.Subject).Info("listening for board events")

	ready := func(reason string) {
		if onReady == nil {
			return
		}
		if err := onReady(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("reason", reason).Warn("board refresh failed")
		}
	}
	ready("subscribed")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.reconnected:
			log.Info("nats connection restored")
			ready("reconnected")
		}
	}
}
