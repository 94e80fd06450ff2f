package boardserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/identity"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/auth"
	"github.com/todo-1m/board/internal/platform/metrics"
)

// Accounts is the slice of identity.Service the handler needs.
type Accounts interface {
	Register(ctx context.Context, email, password string) (identity.AuthResponse, error)
	Login(ctx context.Context, email, password string) (identity.AuthResponse, error)
	Authenticate(ctx context.Context, token string) (contracts.User, error)
	Directory(ctx context.Context) ([]contracts.User, error)
}

type Handler struct {
	Service  *Service
	Accounts Accounts
	Hub      *Hub
	Log      logrus.FieldLogger
}

func NewHandler(service *Service, accounts Accounts, hub *Hub, log logrus.FieldLogger) *Handler {
	return &Handler{Service: service, Accounts: accounts, Hub: hub, Log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Get("/ws", h.Hub.ServeWS(h.Accounts))

	r.Route("/api", func(api chi.Router) {
		api.Use(h.logRequests)
		api.Post("/auth/signup", h.handleSignup)
		api.Post("/auth/login", h.handleLogin)

		api.Group(func(authR chi.Router) {
			authR.Use(h.authMiddleware)
			authR.Get("/auth/users", h.handleListUsers)
			authR.Get("/tasks", h.handleListTasks)
			authR.Post("/tasks", h.handleCreateTask)
			authR.Put("/tasks/{id}", h.handleUpdateTask)
			authR.Delete("/tasks/{id}", h.handleDeleteTask)
			authR.Post("/tasks/smart-assign/{id}", h.handleSmartAssign)
			authR.Get("/activity", h.handleListActivity)
		})
	})
	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type conflictResponse struct {
	Message       string         `json:"message"`
	ServerVersion contracts.Task `json:"serverVersion"`
}

type assignResponse struct {
	Message string         `json:"message"`
	Task    contracts.Task `json:"task"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrInvalidPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrDuplicateEmail):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.Directory(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Service.ListTasks(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListActivity(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in contracts.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Service.CreateTask(r.Context(), userFromContext(r.Context()), in)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var in contracts.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Service.UpdateTask(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTask(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted"})
}

func (h *Handler) handleSmartAssign(w http.ResponseWriter, r *http.Request) {
	task, message, err := h.Service.SmartAssign(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Message: message, Task: task})
}

func (h *Handler) writeTaskError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Message:       conflict.Error(),
			ServerVersion: conflict.Current,
		})
	case errors.Is(err, ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrDuplicateTitle),
		errors.Is(err, ErrReservedTitle),
		errors.Is(err, ErrUnknownAssignee),
		errors.Is(err, ErrNoAssignees),
		errors.Is(err, ErrTaskIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.Log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

type userContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := h.Accounts.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) contracts.User {
	user, _ := ctx.Value(userContextKey{}).(contracts.User)
	return user
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		requests.WithLabelValues(route, strconv.Itoa(wrapped.status)).Inc()
		h.Log.WithFields(logrus.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request completed")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
