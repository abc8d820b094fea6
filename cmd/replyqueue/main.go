// Command replyqueue runs the Avito reply task server.
//
// Configuration comes from replyqueue.toml, .env and the environment; see
// package config for the variable names.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vinayprograms/replyqueue/activity"
	"github.com/vinayprograms/replyqueue/bus"
	"github.com/vinayprograms/replyqueue/completion"
	"github.com/vinayprograms/replyqueue/config"
	"github.com/vinayprograms/replyqueue/confirm"
	"github.com/vinayprograms/replyqueue/httpapi"
	"github.com/vinayprograms/replyqueue/logging"
	"github.com/vinayprograms/replyqueue/ratelimit"
	"github.com/vinayprograms/replyqueue/shutdown"
	"github.com/vinayprograms/replyqueue/tasks"
	"github.com/vinayprograms/replyqueue/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replyqueue: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New().WithComponent("main")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	activityLog, err := activity.New(cfg.LogDir)
	if err != nil {
		store.Close()
		return err
	}

	b, err := openBus(cfg, logger)
	if err != nil {
		store.Close()
		return err
	}

	limiter := ratelimit.NewMemoryLimiter()
	if cfg.ClaimRate > 0 {
		limiter.SetDefault(cfg.ClaimRate, cfg.ClaimRateWindow)
	}

	oracle := confirm.New(cfg.LogDir,
		confirm.WithSegments(cfg.LogSegments),
		confirm.WithTailBytes(cfg.LogTailBytes),
		confirm.WithRadius(cfg.ProximityRadius),
		confirm.WithLogger(logger),
	)

	streams, endStreams := context.WithCancel(ctx)
	defer endStreams()

	app := &httpapi.App{
		Store:     store,
		Oracle:    oracle,
		Completer: completion.New(store, oracle, logger),
		Webhook: webhook.New(store, activityLog, b, webhook.Config{
			Secret:          cfg.WebhookSecret,
			DefaultReply:    cfg.DefaultReply,
			DefaultAccount:  cfg.DefaultAccount,
			OnlyFirstSystem: cfg.OnlyFirstSystem,
		}, logger),
		Bus:          b,
		Limiter:      limiter,
		TaskKey:      cfg.TaskKey,
		DefaultReply: cfg.DefaultReply,
		Streams:      streams,
		Logger:       logger,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(endStreams)

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cfg.ShutdownTimeout,
		ContinueOnError: true,
	}, logger)
	coord.RegisterFunc("http", shutdown.PhaseHTTP, srv.Shutdown)
	coord.RegisterWithPhase("bus", shutdown.Closer(b), shutdown.PhaseBus)
	coord.RegisterWithPhase("ratelimit", shutdown.Closer(limiter), shutdown.PhaseBus)
	coord.RegisterWithPhase("tasks", shutdown.Closer(store), shutdown.PhaseStores)
	coord.HandleSignals()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		_ = coord.ShutdownWithTimeout()
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	logger.Info("starting", map[string]interface{}{
		"addr":              srv.Addr,
		"log_dir":           absPath(cfg.LogDir),
		"task_backend":      cfg.TaskBackend,
		"task_dir":          absPath(cfg.TaskDir),
		"only_first_system": cfg.OnlyFirstSystem,
		"claim_window":      cfg.ClaimWindow,
		"nats":              cfg.NATSURL != "",
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			coord.Trigger()
		}
	}()

	<-coord.Done()
	_ = logger.Sync()

	select {
	case err := <-serveErr:
		return err
	default:
	}
	return coord.Err()
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (tasks.Store, error) {
	opts := []tasks.Option{
		tasks.WithWindow(cfg.ClaimWindow),
		tasks.WithLogger(logger),
	}
	if cfg.TaskBackend == config.BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		opts = append(opts, tasks.WithKeyPrefix(cfg.RedisPrefix))
		return tasks.NewRedisStore(ctx, rdb, opts...)
	}
	return tasks.NewFileStore(cfg.TaskDir, opts...)
}

func openBus(cfg *config.Config, logger *logging.Logger) (bus.MessageBus, error) {
	if cfg.NATSURL == "" {
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
	nc := bus.DefaultNATSConfig()
	nc.URL = cfg.NATSURL
	nc.Logger = logger
	return bus.NewNATSBus(nc)
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
