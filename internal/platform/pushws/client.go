// Package pushws subscribes to the board server's websocket push channel and
// keeps the subscription alive across disconnects.
package pushws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/contracts"
)

type Client struct {
	URL string
	// Token is read on every dial so a refreshed session is picked up.
	Token func() string
	// OnConnect runs after each successful dial, before events are read.
	// Callers use it to refetch state missed while disconnected.
	OnConnect func(ctx context.Context) error
	Log       logrus.FieldLogger
	// NewBackOff builds the reconnect schedule. It is reset after every
	// connection that delivered at least one event.
	NewBackOff func() backoff.BackOff
}

func NewClient(url string, token func() string, log logrus.FieldLogger) *Client {
	return &Client{
		URL:   url,
		Token: token,
		Log:   log,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run delivers events to out until ctx is cancelled or the server rejects
// the session token.
func (c *Client) Run(ctx context.Context, out chan<- contracts.Event) error {
	b := c.NewBackOff()
	for {
		delivered, err := c.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if delivered {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		c.Log.WithError(err).WithField("retry_in", wait.String()).Warn("push channel disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context, out chan<- contracts.Event) (bool, error) {
	header := http.Header{}
	if c.Token != nil {
		if token := c.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, backoff.Permanent(errors.New("push channel rejected the session token"))
		}
		return false, err
	}
	defer conn.CloseNow()
	c.Log.WithField("url", c.URL).Info("push channel connected")

	if c.OnConnect != nil {
		if err := c.OnConnect(ctx); err != nil {
			c.Log.WithError(err).Warn("push reconnect refresh failed")
		}
	}

	delivered := false
	for {
		var ev contracts.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return delivered, err
		}
		select {
		case out <- ev:
			delivered = true
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return delivered, ctx.Err()
		}
	}
}
