package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/app/boardserver"
	"github.com/todo-1m/board/internal/app/identity"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/auth"
	"github.com/todo-1m/board/internal/platform/dbpool"
	"github.com/todo-1m/board/internal/platform/env"
	"github.com/todo-1m/board/internal/platform/logger"
	"github.com/todo-1m/board/internal/platform/natsutil"
)

func main() {
	log := logger.New("board-server")
	if err := run(log); err != nil {
		log.WithError(err).Fatal("board-server stopped")
	}
}

func run(log *logrus.Entry) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("BOARD_SERVER_ADDR", env.DefaultServerAddr)
	pgURL := env.String("DATABASE_URL", "")
	natsURL := env.String("NATS_URL", "")
	jwtSecret := env.String("JWT_SECRET", env.DefaultJWTSecret)
	tokenTTL := env.Duration("TOKEN_TTL", 24*time.Hour)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	var (
		tasks boardserver.Repository = boardserver.NewMemoryRepository()
		users identity.Repository    = identity.NewMemoryRepository()
	)
	if pgURL != "" {
		pool, err := dbpool.Open(runCtx, pgURL, env.Duration("DB_CONNECT_TIMEOUT", 30*time.Second))
		if err != nil {
			return err
		}
		defer pool.Close()
		tasks = boardserver.NewPostgresRepository(pool)
		users = identity.NewPostgresRepository(pool)
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}
	for _, repo := range []interface{ EnsureSchema(context.Context) error }{tasks, users} {
		if err := repo.EnsureSchema(runCtx); err != nil {
			return err
		}
	}

	accounts := identity.NewService(users, auth.NewManager(jwtSecret, tokenTTL))
	hub := boardserver.NewHub(log.WithField("component", "hub"))
	publish := hub.Broadcast

	if natsURL != "" {
		client, err := natsutil.ConnectJetStreamWithRetry(runCtx, natsURL, env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second))
		if err != nil {
			return err
		}
		defer client.Close()
		events := natsutil.EventPublisher{
			Publisher: natsutil.JetStreamPublisher{JS: client.JS},
			Log:       log.WithField("component", "nats"),
		}
		publish = func(ev contracts.Event) {
			hub.Broadcast(ev)
			events.Publish(ev)
		}
		log.WithField("url", natsURL).Info("publishing board events to jetstream")
	}

	service := boardserver.NewService(tasks, accounts, publish)
	handler := boardserver.NewHandler(service, accounts, hub, log)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithField("addr", addr).Info("board server listening")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	return nil
}
