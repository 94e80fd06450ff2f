// Package syncengine keeps a client's boardstate in step with the server of
// record.
//
// All writes to the shared state happen on the goroutine running Engine.Run:
// push events arrive on a channel, and mutation results are posted back to the
// loop as closures. HTTP requests never run on the loop, so a slow server only
// delays the caller that issued the request.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/boardapi"
	"github.com/todo-1m/board/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

var ErrStopped = errors.New("sync engine stopped")
var ErrAlreadyRunning = errors.New("sync engine already running")

const actionBuffer = 64

// TaskAPI is the server of record as seen by the engine. *boardapi.Client
// implements it.
type TaskAPI interface {
	ListTasks(ctx context.Context) ([]contracts.Task, error)
	ListActivity(ctx context.Context) ([]contracts.ActivityLogEntry, error)
	ListUsers(ctx context.Context) ([]contracts.User, error)
	CreateTask(ctx context.Context, in contracts.TaskInput) (contracts.Task, error)
	UpdateTask(ctx context.Context, id string, in contracts.TaskInput) (contracts.Task, error)
	DeleteTask(ctx context.Context, id string) error
	SmartAssign(ctx context.Context, id string) (boardapi.AssignResponse, error)
}

type Engine struct {
	// Notifier receives user-facing notices. It is called on the loop and
	// must not call back into the engine.
	Notifier Notifier
	Log      logrus.FieldLogger
	Now      func() time.Time

	api      TaskAPI
	state    *boardstate.State
	listener *Listener
	resolver *Resolver

	actions chan func()
	done    chan struct{}
	running sync.Once
	stopped sync.Once
}

func New(api TaskAPI, state *boardstate.State) *Engine {
	return &Engine{
		Notifier: NopNotifier{},
		Log:      logger.Discard(),
		Now:      func() time.Time { return time.Now().UTC() },
		api:      api,
		state:    state,
		listener: NewListener(state),
		resolver: NewResolver(),
		actions:  make(chan func(), actionBuffer),
		done:     make(chan struct{}),
	}
}

func (e *Engine) State() *boardstate.State {
	return e.state
}

// Run owns the state until ctx is cancelled. A closed events channel means the
// push channel is gone; the loop keeps serving mutations without it.
func (e *Engine) Run(ctx context.Context, events <-chan contracts.Event) error {
	started := false
	e.running.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}
	defer e.stopped.Do(func() { close(e.done) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				e.Log.Warn("push channel closed; waiting for refresh")
				events = nil
				continue
			}
			e.applyEvent(ev)
		case fn := <-e.actions:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) applyEvent(ev contracts.Event) {
	pushEvents.WithLabelValues(eventLabel(ev.Event)).Inc()
	if err := e.listener.Apply(ev); err != nil {
		e.Log.WithError(err).WithField("event", ev.Event).Warn("push event ignored")
		return
	}
	e.Log.WithFields(logrus.Fields{"event": ev.Event, "task_id": eventTaskID(ev)}).Debug("push event applied")
}

// do runs fn on the loop and waits for it. Once queued, fn runs even if the
// caller has given up, so results of in-flight requests are never lost.
func (e *Engine) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case e.actions <- func() { result <- fn() }:
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-e.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Refresh replaces tasks, activity and users with a fresh copy from the
// server of record. It runs at startup and on every push-channel (re)connect.
func (e *Engine) Refresh(ctx context.Context) error {
	var (
		tasks    []contracts.Task
		activity []contracts.ActivityLogEntry
		users    []contracts.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = e.api.ListTasks(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = e.api.ListActivity(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = e.api.ListUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		e.Log.WithError(err).Warn("refresh failed")
		return err
	}

	return e.do(func() error {
		e.state.Tasks.ReplaceAll(tasks)
		e.state.Activity.ReplaceAll(activity)
		e.state.Users.Replace(users)
		e.Log.WithFields(logrus.Fields{"tasks": len(tasks), "activity": len(activity), "users": len(users)}).Info("board refreshed")
		return nil
	})
}

func (e *Engine) notify(kind NoticeKind, taskID, message string) {
	e.Notifier.Notify(Notice{Kind: kind, TaskID: taskID, Message: message, At: e.Now()})
}

func eventTaskID(ev contracts.Event) string {
	if ev.Task != nil {
		return ev.Task.ID
	}
	return ev.TaskID
}
