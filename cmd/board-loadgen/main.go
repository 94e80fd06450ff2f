package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/app/syncengine"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/boardapi"
	"github.com/todo-1m/board/internal/platform/env"
	"github.com/todo-1m/board/internal/platform/logger"
	"github.com/todo-1m/board/internal/platform/metrics"
	"github.com/todo-1m/board/internal/platform/pushws"
	"golang.org/x/sync/errgroup"
)

type config struct {
	ServerURL        string
	Users            int
	SetupConcurrency int
	StartupWait      time.Duration
	Duration         time.Duration
	RampUp           time.Duration
	ActionInterval   time.Duration
	StaleEditPercent int
	RequestTimeout   time.Duration
	MetricsAddr      string
	Password         string
}

// virtualUser is one board client: its own session, engine and push channel.
type virtualUser struct {
	Index  int
	Email  string
	API    *boardapi.Client
	Engine *syncengine.Engine
	Log    logrus.FieldLogger

	// stale is a task snapshot kept from an earlier tick so edits made
	// from it race against everyone else's writes.
	mu    sync.Mutex
	stale *contracts.Task
	seq   int
}

type runner struct {
	cfg   config
	runID string
	log   *logrus.Entry

	actionsOK  atomic.Int64
	actionsErr atomic.Int64
	resolved   atomic.Int64
	activeVUs  atomic.Int64
}

var (
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "board_loadgen_actions_total",
		Help: "Board actions executed by virtual users.",
	}, []string{"action", "outcome"})

	resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "board_loadgen_resolutions_total",
		Help: "Conflicts settled by virtual users by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	virtualUsersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "board_loadgen_virtual_users",
		Help: "Current number of active virtual users sending actions.",
	})
)

func init() {
	metrics.Default.MustRegister(actionsTotal, resolutionsTotal, virtualUsersGauge)
}

func main() {
	log := logger.New("board-loadgen")
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, log)

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		log:   log,
	}
	if err := r.waitForServer(ctx); err != nil {
		log.WithError(err).Fatal("board server not ready")
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.WithFields(logrus.Fields{
		"users":    len(users),
		"duration": cfg.Duration.String(),
		"interval": cfg.ActionInterval.String(),
	}).Info("load generator initialized")

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u *virtualUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.WithFields(logrus.Fields{
		"actions_ok":     r.actionsOK.Load(),
		"actions_failed": r.actionsErr.Load(),
		"resolved":       r.resolved.Load(),
	}).Info("load test complete")
}

func loadConfig() config {
	return config{
		ServerURL:        strings.TrimRight(env.String("LOADGEN_SERVER_URL", "http://localhost:8080"), "/"),
		Users:            env.Int("LOADGEN_USERS", 20),
		SetupConcurrency: env.Int("LOADGEN_SETUP_CONCURRENCY", 5),
		StartupWait:      env.Duration("LOADGEN_STARTUP_WAIT", time.Minute),
		Duration:         env.Duration("LOADGEN_DURATION", 5*time.Minute),
		RampUp:           env.Duration("LOADGEN_RAMP_UP", 10*time.Second),
		ActionInterval:   env.Duration("LOADGEN_ACTION_INTERVAL", 2*time.Second),
		StaleEditPercent: env.Int("LOADGEN_STALE_EDIT_PERCENT", 30),
		RequestTimeout:   env.Duration("LOADGEN_REQUEST_TIMEOUT", env.DefaultRequestWait),
		MetricsAddr:      env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:         env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
	}
}

func (c config) apiURL() string { return c.ServerURL + "/api" }

func (c config) pushURL() string {
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://") + "/ws"
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://") + "/ws"
	default:
		return c.ServerURL + "/ws"
	}
}

func (r *runner) waitForServer(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = r.cfg.StartupWait

	client := &http.Client{Timeout: r.cfg.RequestTimeout}
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.ServerURL+"/healthz", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status=%d", resp.StatusCode)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

func (r *runner) setupUsers(ctx context.Context) []*virtualUser {
	users := make([]*virtualUser, r.cfg.Users)
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.SetupConcurrency, 1))
	for i := range users {
		idx := i
		g.Go(func() error {
			user, err := r.setupSingleUser(gctx, idx)
			if err != nil {
				failures.Add(1)
				r.log.WithError(err).WithField("user", idx).Warn("user setup failed")
				return nil
			}
			users[idx] = user
			return nil
		})
	}
	_ = g.Wait()

	ready := make([]*virtualUser, 0, len(users))
	for _, u := range users {
		if u != nil {
			ready = append(ready, u)
		}
	}
	r.log.WithFields(logrus.Fields{"success": len(ready), "failed": failures.Load()}).Info("user setup complete")
	return ready
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*virtualUser, error) {
	email := fmt.Sprintf("load-%s-%04d@loadgen.local", r.runID, idx)
	api := boardapi.NewClient(r.cfg.apiURL(), r.cfg.RequestTimeout)
	if _, err := api.Signup(ctx, email, r.cfg.Password); err != nil {
		return nil, fmt.Errorf("signup %s: %w", email, err)
	}

	log := r.log.WithField("user", email)
	engine := syncengine.New(api, boardstate.NewState())
	engine.Log = log
	return &virtualUser{Index: idx, Email: email, API: api, Engine: engine, Log: log}, nil
}

func (r *runner) runUser(ctx context.Context, user *virtualUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	events := make(chan contracts.Event, 64)
	go func() { _ = user.Engine.Run(ctx, events) }()

	push := pushws.NewClient(r.cfg.pushURL(), user.API.Token, user.Log)
	push.OnConnect = user.Engine.Refresh
	go func() {
		if err := push.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			user.Log.WithError(err).Warn("push channel stopped")
		}
	}()

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := max(r.cfg.ActionInterval, 25*time.Millisecond)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
			r.settleConflicts(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *virtualUser, rng *rand.Rand) {
	tasks := user.Engine.State().Tasks.List()
	if len(tasks) == 0 {
		r.record("create", r.create(ctx, user))
		return
	}
	task := tasks[rng.Intn(len(tasks))]

	choice := rng.Intn(100)
	switch {
	case choice < 30:
		r.record("create", r.create(ctx, user))
	case choice < 55:
		status := contracts.Statuses[rng.Intn(len(contracts.Statuses))]
		r.record("move", user.Engine.Move(ctx, task.ID, status))
	case choice < 85:
		r.record("edit", r.edit(ctx, user, rng, task))
	case choice < 95:
		_, err := user.Engine.AutoAssign(ctx, task.ID)
		r.record("assign", err)
	default:
		r.record("delete", user.Engine.Delete(ctx, task.ID))
	}
}

func (r *runner) create(ctx context.Context, user *virtualUser) error {
	user.mu.Lock()
	user.seq++
	title := fmt.Sprintf("load %s u%d #%d", r.runID, user.Index, user.seq)
	user.mu.Unlock()
	_, err := user.Engine.Create(ctx, contracts.TaskInput{Title: title, Description: "generated"})
	return err
}

// edit rewrites the description, sometimes from the snapshot kept at an
// earlier tick so the write carries an old version.
func (r *runner) edit(ctx context.Context, user *virtualUser, rng *rand.Rand, current contracts.Task) error {
	base := current
	user.mu.Lock()
	if user.stale != nil && rng.Intn(100) < r.cfg.StaleEditPercent {
		base = *user.stale
	}
	snapshot := current
	user.stale = &snapshot
	user.mu.Unlock()

	draft := contracts.InputFromTask(base)
	draft.Description = fmt.Sprintf("edited by %s at %s", user.Email, time.Now().UTC().Format(time.RFC3339Nano))
	_, err := user.Engine.Edit(ctx, base, draft)
	return err
}

// settleConflicts drains the user's conflict queue with random strategies.
func (r *runner) settleConflicts(ctx context.Context, user *virtualUser, rng *rand.Rand) {
	strategies := []syncengine.Strategy{syncengine.StrategyOverwrite, syncengine.StrategyMerge, syncengine.StrategyDiscard}
	for ctx.Err() == nil {
		if _, _, ok, err := user.Engine.Conflict(ctx); err != nil || !ok {
			return
		}
		strategy := strategies[rng.Intn(len(strategies))]
		// A failed request still closes the conflict, so the loop moves on
		// to whatever was queued behind it.
		if _, err := user.Engine.ResolveConflict(ctx, strategy); err != nil {
			resolutionsTotal.WithLabelValues(string(strategy), "error").Inc()
			if errors.Is(err, syncengine.ErrNoConflict) || errors.Is(err, syncengine.ErrResolutionInFlight) {
				return
			}
			continue
		}
		r.resolved.Add(1)
		resolutionsTotal.WithLabelValues(string(strategy), "ok").Inc()
	}
}

func (r *runner) record(action string, err error) {
	switch {
	case err == nil:
		r.actionsOK.Add(1)
		actionsTotal.WithLabelValues(action, "ok").Inc()
	case errors.Is(err, syncengine.ErrConflict):
		r.actionsErr.Add(1)
		actionsTotal.WithLabelValues(action, "conflict").Inc()
	default:
		r.actionsErr.Add(1)
		actionsTotal.WithLabelValues(action, "error").Inc()
	}
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.WithFields(logrus.Fields{
				"active_users":   r.activeVUs.Load(),
				"actions_ok":     r.actionsOK.Load(),
				"actions_failed": r.actionsErr.Load(),
				"resolved":       r.resolved.Load(),
			}).Info("progress")
		}
	}
}

func runMetricsServer(addr string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", addr).Info("load generator metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("load generator metrics server failed")
	}
}
