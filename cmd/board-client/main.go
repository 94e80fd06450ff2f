package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/app/syncengine"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/boardapi"
	"github.com/todo-1m/board/internal/platform/env"
	"github.com/todo-1m/board/internal/platform/logger"
	"github.com/todo-1m/board/internal/platform/natsutil"
	"github.com/todo-1m/board/internal/platform/pushws"
)

const (
	pushModeWS   = "ws"
	pushModeNATS = "nats"
)

func main() {
	log := logger.New("board-client")
	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("board-client stopped")
	}
}

func run(log *logrus.Entry) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiURL := env.String("BOARD_API_URL", env.DefaultAPIURL)
	pushURL := env.String("BOARD_PUSH_URL", env.DefaultPushURL)
	pushMode := env.String("BOARD_PUSH_MODE", pushModeWS)
	addr := env.String("BOARD_CLIENT_ADDR", env.DefaultClientAddr)
	requestTimeout := env.Duration("BOARD_REQUEST_TIMEOUT", env.DefaultRequestWait)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	api := boardapi.NewClient(apiURL, requestTimeout)
	email, err := authenticate(runCtx, api)
	if err != nil {
		return err
	}
	log = log.WithField("user", email)

	notices := syncengine.NewNoticeLog()
	engine := syncengine.New(api, boardstate.NewState())
	engine.Log = log.WithField("component", "engine")
	engine.Notifier = syncengine.Notifiers{syncengine.LogNotifier{Log: engine.Log}, notices}

	events := make(chan contracts.Event, 64)
	engineErr := make(chan error, 1)
	go func() { engineErr <- engine.Run(runCtx, events) }()

	if err := engine.Refresh(runCtx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	pushErr := make(chan error, 1)
	switch pushMode {
	case pushModeWS:
		push := pushws.NewClient(pushURL, api.Token, log.WithField("component", "push"))
		push.OnConnect = engine.Refresh
		go func() { pushErr <- push.Run(runCtx, events) }()
	case pushModeNATS:
		client, err := natsutil.ConnectJetStreamWithRetry(runCtx, env.String("NATS_URL", env.DefaultNATSURL), env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second))
		if err != nil {
			return err
		}
		defer client.Close()
		go func() { pushErr <- client.StreamEvents(runCtx, events, engine.Refresh, log.WithField("component", "nats")) }()
	default:
		return fmt.Errorf("unknown BOARD_PUSH_MODE %q", pushMode)
	}

	web := &boardPage{Engine: engine, Notices: notices, UserEmail: email, Log: log}
	server := &http.Server{
		Addr:              addr,
		Handler:           web.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithFields(logrus.Fields{"addr": addr, "push": pushMode}).Info("board client listening")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var exitErr error
	select {
	case exitErr = <-serverErr:
	case exitErr = <-engineErr:
	case exitErr = <-pushErr:
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	return exitErr
}

// authenticate installs a session token on api: BOARD_TOKEN when set,
// otherwise a login (or signup with BOARD_SIGNUP) with BOARD_EMAIL and
// BOARD_PASSWORD.
func authenticate(ctx context.Context, api *boardapi.Client) (string, error) {
	if token := env.String("BOARD_TOKEN", ""); token != "" {
		api.SetToken(token)
		return env.String("BOARD_EMAIL", ""), nil
	}

	email := env.String("BOARD_EMAIL", "")
	password := env.String("BOARD_PASSWORD", "")
	if email == "" || password == "" {
		return "", errors.New("set BOARD_TOKEN or BOARD_EMAIL and BOARD_PASSWORD")
	}
	login := api.Login
	if env.Bool("BOARD_SIGNUP", false) {
		login = api.Signup
	}
	resp, err := login(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("authenticate %s: %w", email, err)
	}
	return resp.User.Email, nil
}
