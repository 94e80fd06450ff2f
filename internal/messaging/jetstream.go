// Package messaging owns the JetStream layout used to fan board events out
// beyond a single server process.
package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventsStream = "BOARD_EVENTS"
	// EventsSubjects matches every subject built by sharding.EventSubject.
	EventsSubjects = "board.event.>"

	eventsMaxAge = 24 * time.Hour
)

// EnsureStreams creates the events stream when it does not exist yet.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(EventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      EventsStream,
			Subjects:  []string{EventsSubjects},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    eventsMaxAge,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
