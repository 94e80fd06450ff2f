package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/boardview"
	"github.com/todo-1m/board/internal/app/syncengine"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/metrics"
)

// boardPage serves the board and turns its form posts into engine calls.
// Request failures reach the page as engine notices; every action redirects back.
type boardPage struct {
	Engine    *syncengine.Engine
	Notices   *syncengine.NoticeLog
	UserEmail string
	Log       logrus.FieldLogger
}

func (b *boardPage) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", b.handleBoard)
	r.Handle("/static/*", boardview.StaticHandler())
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/actions", func(a chi.Router) {
		a.Post("/create", b.action(b.create))
		a.Post("/move", b.action(b.move))
		a.Post("/edit", b.action(b.edit))
		a.Post("/delete", b.action(b.remove))
		a.Post("/assign", b.action(b.assign))
		a.Post("/resolve", b.action(b.resolve))
		a.Post("/dismiss", b.action(func(*http.Request) error {
			b.Notices.Dismiss()
			return nil
		}))
	})
	return r
}

func (b *boardPage) handleBoard(w http.ResponseWriter, r *http.Request) {
	state := b.Engine.State()
	data := boardview.PageData{
		UserEmail: b.UserEmail,
		Board:     state.Projection.Current(),
		Users:     state.Users.List(),
		Activity:  state.Activity.Entries(),
		Notices:   b.Notices.Recent(),
	}
	if active, queued, ok, err := b.Engine.Conflict(r.Context()); err == nil && ok {
		data.Conflict = &active
		data.QueuedConflicts = queued
	}
	templ.Handler(boardview.Page(data)).ServeHTTP(w, r)
}

func (b *boardPage) action(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if err := fn(r); err != nil {
			b.Log.WithError(err).WithField("action", r.URL.Path).Debug("board action failed")
			if localValidation(err) {
				b.Notices.Notify(syncengine.Notice{Kind: syncengine.NoticeError, Message: err.Error(), At: time.Now().UTC()})
			}
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// localValidation reports errors raised before any request was sent; the
// engine leaves those to the caller.
func localValidation(err error) bool {
	return errors.Is(err, syncengine.ErrTitleRequired) ||
		errors.Is(err, syncengine.ErrInvalidStatus) ||
		errors.Is(err, syncengine.ErrInvalidPriority) ||
		errors.Is(err, syncengine.ErrUnknownStrategy)
}

func inputFromForm(r *http.Request) contracts.TaskInput {
	return contracts.TaskInput{
		Title:       r.PostForm.Get("title"),
		Description: r.PostForm.Get("description"),
		Status:      contracts.Status(r.PostForm.Get("status")),
		Priority:    contracts.Priority(r.PostForm.Get("priority")),
		AssignedTo:  r.PostForm.Get("assignedTo"),
	}
}

func (b *boardPage) create(r *http.Request) error {
	_, err := b.Engine.Create(r.Context(), inputFromForm(r))
	return err
}

func (b *boardPage) move(r *http.Request) error {
	return b.Engine.Move(r.Context(), r.PostForm.Get("id"), contracts.Status(r.PostForm.Get("status")))
}

// edit uses the version the form was rendered with so that a change made
// since then is reported as a conflict instead of being overwritten.
func (b *boardPage) edit(r *http.Request) error {
	base, ok := b.Engine.State().Tasks.Get(r.PostForm.Get("id"))
	if !ok {
		base = contracts.Task{ID: r.PostForm.Get("id")}
	}
	if raw := strings.TrimSpace(r.PostForm.Get("version")); raw != "" {
		if version, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			base.UpdatedAt = version
		}
	}
	_, err := b.Engine.Edit(r.Context(), base, inputFromForm(r))
	return err
}

func (b *boardPage) remove(r *http.Request) error {
	return b.Engine.Delete(r.Context(), r.PostForm.Get("id"))
}

func (b *boardPage) assign(r *http.Request) error {
	_, err := b.Engine.AutoAssign(r.Context(), r.PostForm.Get("id"))
	return err
}

func (b *boardPage) resolve(r *http.Request) error {
	raw := r.PostForm.Get("strategy")
	if raw == "cancel" {
		return b.Engine.CancelConflict(r.Context())
	}
	strategy, err := syncengine.ParseStrategy(raw)
	if err != nil {
		return err
	}
	_, err = b.Engine.ResolveConflict(r.Context(), strategy)
	return err
}
