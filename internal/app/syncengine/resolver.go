package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/contracts"
)

var ErrNoConflict = errors.New("no conflict awaiting resolution")
var ErrResolutionInFlight = errors.New("conflict resolution already in progress")
var ErrUnknownStrategy = errors.New("unknown resolution strategy")

type Strategy string

const (
	// StrategyOverwrite resubmits the client's version.
	StrategyOverwrite Strategy = "overwrite"
	// StrategyMerge keeps the server's record with the client's title and
	// description.
	StrategyMerge Strategy = "merge"
	// StrategyDiscard resubmits the server's version unchanged.
	StrategyDiscard Strategy = "discard"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyOverwrite, StrategyMerge, StrategyDiscard:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
	}
}

type Origin string

const (
	OriginMove Origin = "move"
	OriginEdit Origin = "edit"
)

// ConflictContext pairs the record the client tried to write with the server's
// record at the moment of rejection.
type ConflictContext struct {
	TaskID   string
	Origin   Origin
	Client   contracts.Task
	Server   contracts.Task
	OpenedAt time.Time
}

// Resolve builds the record to submit for strategy. The result is always sent
// without a version token.
func Resolve(client, server contracts.Task, strategy Strategy) (contracts.Task, error) {
	switch strategy {
	case StrategyOverwrite:
		out := client
		out.ID = server.ID
		return out, nil
	case StrategyMerge:
		out := server
		out.Title = client.Title
		out.Description = client.Description
		return out, nil
	case StrategyDiscard:
		return server, nil
	default:
		return contracts.Task{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// Resolver holds the active conflict and the ones waiting behind it. Later
// conflicts queue in arrival order and are promoted one at a time, so no
// unresolved decision is dropped. It is owned by the engine loop.
type Resolver struct {
	active    *ConflictContext
	queue     []ConflictContext
	resolving bool
}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Open activates c, or queues it behind the active conflict. It reports
// whether c became active.
func (r *Resolver) Open(c ConflictContext) bool {
	if r.active == nil {
		r.active = &c
		return true
	}
	r.queue = append(r.queue, c)
	return false
}

func (r *Resolver) Active() (ConflictContext, bool) {
	if r.active == nil {
		return ConflictContext{}, false
	}
	return *r.active, true
}

func (r *Resolver) Queued() int {
	return len(r.queue)
}

// Pending counts the active conflict and every queued one.
func (r *Resolver) Pending() int {
	if r.active == nil {
		return 0
	}
	return 1 + len(r.queue)
}

// begin marks the active conflict as being resolved.
func (r *Resolver) begin() (ConflictContext, error) {
	if r.active == nil {
		return ConflictContext{}, ErrNoConflict
	}
	if r.resolving {
		return ConflictContext{}, ErrResolutionInFlight
	}
	r.resolving = true
	return *r.active, nil
}

// close drops the active conflict and promotes the next queued one.
func (r *Resolver) close() (ConflictContext, bool) {
	r.active = nil
	r.resolving = false
	if len(r.queue) == 0 {
		return ConflictContext{}, false
	}
	next := r.queue[0]
	r.queue = r.queue[1:]
	r.active = &next
	return next, true
}

func (e *Engine) openConflict(c ConflictContext) {
	c.OpenedAt = e.Now()
	activated := e.resolver.Open(c)
	pendingConflicts.Inc()

	entry := e.Log.WithFields(logrus.Fields{"task_id": c.TaskID, "origin": c.Origin})
	if activated {
		conflicts.WithLabelValues(conflictOpened).Inc()
		entry.Info("conflict opened")
		e.notify(NoticeConflict, c.TaskID, conflictMessage(c))
		return
	}
	conflicts.WithLabelValues(conflictQueued).Inc()
	entry.WithField("queued", e.resolver.Queued()).Info("conflict queued behind active conflict")
}

// Conflict returns the conflict awaiting a decision and how many wait behind
// it.
func (e *Engine) Conflict(ctx context.Context) (ConflictContext, int, bool, error) {
	if err := ctx.Err(); err != nil {
		return ConflictContext{}, 0, false, err
	}
	var (
		active ConflictContext
		queued int
		ok     bool
	)
	err := e.do(func() error {
		active, ok = e.resolver.Active()
		queued = e.resolver.Queued()
		return nil
	})
	return active, queued, ok, err
}

// ResolveConflict applies strategy to the active conflict and sends the result
// without a version token. The conflict is closed whatever the outcome. A
// failed request writes the server's record back and is reported as a
// generic error.
func (e *Engine) ResolveConflict(ctx context.Context, strategy Strategy) (contracts.Task, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Task{}, err
	}

	var target contracts.Task
	var active ConflictContext
	err := e.do(func() error {
		var err error
		active, err = e.resolver.begin()
		if err != nil {
			return err
		}
		target, err = Resolve(active.Client, active.Server, strategy)
		if err != nil {
			e.resolver.resolving = false
		}
		return err
	})
	if err != nil {
		return contracts.Task{}, err
	}

	updated, reqErr := e.api.UpdateTask(context.WithoutCancel(ctx), active.TaskID, contracts.InputFromTask(target))

	err = e.do(func() error {
		log := e.Log.WithFields(logrus.Fields{"task_id": active.TaskID, "strategy": strategy})
		if reqErr != nil {
			conflicts.WithLabelValues(conflictFailed).Inc()
			e.showServerRecord(active.TaskID, active.Server)
			log.WithError(reqErr).Warn("conflict resolution failed")
			e.notify(NoticeError, active.TaskID, "Failed to resolve conflict: "+userMessage(reqErr))
		} else {
			conflicts.WithLabelValues(string(strategy)).Inc()
			e.showServerRecord(active.TaskID, updated)
			log.Info("conflict resolved")
			e.notify(NoticeInfo, active.TaskID, "Conflict resolved.")
		}
		e.closeConflict()
		return reqErr
	})
	if err != nil {
		return contracts.Task{}, err
	}
	return updated, nil
}

// CancelConflict closes the active conflict without a request and shows the
// server's record, or whatever newer record has arrived since.
func (e *Engine) CancelConflict(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.do(func() error {
		active, err := e.resolver.begin()
		if err != nil {
			return err
		}
		conflicts.WithLabelValues(conflictCancelled).Inc()
		e.showServerRecord(active.TaskID, active.Server)
		e.Log.WithField("task_id", active.TaskID).Info("conflict cancelled")
		e.closeConflict()
		return nil
	})
}

// showServerRecord writes a record the server returned while the conflict
// was open, unless the store no longer holds the task or a push has since
// delivered a newer record.
func (e *Engine) showServerRecord(id string, task contracts.Task) {
	current, ok := e.state.Tasks.Get(id)
	if !ok || current.UpdatedAt.After(task.UpdatedAt) {
		return
	}
	e.state.Tasks.Upsert(task)
}

func (e *Engine) closeConflict() {
	pendingConflicts.Dec()
	if next, ok := e.resolver.close(); ok {
		e.Log.WithField("task_id", next.TaskID).Info("queued conflict promoted")
		e.notify(NoticeConflict, next.TaskID, conflictMessage(next))
	}
}

func conflictMessage(c ConflictContext) string {
	title := c.Server.Title
	if title == "" {
		title = c.Client.Title
	}
	return fmt.Sprintf("%q was changed by someone else. Choose overwrite, merge or discard.", title)
}
