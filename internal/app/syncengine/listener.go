package syncengine

import (
	"errors"
	"fmt"

	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/contracts"
)

var ErrUnknownEvent = errors.New("unknown push event")
var ErrMalformedEvent = errors.New("malformed push event")

// Listener applies push-channel events to the state. Every handler is
// idempotent: the server of record is authoritative, so records are replaced
// in arrival order without version checks.
type Listener struct {
	state *boardstate.State
}

func NewListener(state *boardstate.State) *Listener {
	return &Listener{state: state}
}

func (l *Listener) Apply(ev contracts.Event) error {
	switch ev.Event {
	case contracts.EventTaskAdded, contracts.EventTaskUpdated:
		if ev.Task == nil || ev.Task.ID == "" {
			return fmt.Errorf("%w: %s without task", ErrMalformedEvent, ev.Event)
		}
		l.state.Tasks.Upsert(*ev.Task)
	case contracts.EventTaskDeleted:
		if ev.TaskID == "" {
			return fmt.Errorf("%w: %s without taskId", ErrMalformedEvent, ev.Event)
		}
		// Absent is fine: an earlier event or refresh already removed it.
		l.state.Tasks.Remove(ev.TaskID)
	case contracts.EventActivityLogged:
		if ev.Activity == nil {
			return fmt.Errorf("%w: %s without activity", ErrMalformedEvent, ev.Event)
		}
		l.state.Activity.Prepend(*ev.Activity)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
	}
	return nil
}
