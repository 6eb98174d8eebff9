package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	routerv1 "go-leadchat/cmd/api/router/v1"
	"go-leadchat/internal/infrastructure/logging"
	queueadapter "go-leadchat/internal/infrastructure/queue/adapter"
	"go-leadchat/internal/pkg/chat/application/task"
	chathttp "go-leadchat/internal/pkg/chat/presentation/http"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cobra.Command {
	f := NewAppFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and the realtime websocket gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(f.Log.Level, f.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, f, logger)
		},
	}

	f.Log.BindFlags(cmd.Flags())
	f.DB.BindFlags(cmd.Flags())
	f.Redis.BindFlags(cmd.Flags())
	f.Queue.BindFlags(cmd.Flags())
	f.Chat.BindFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, f *AppFlags, logger *zap.Logger) error {
	a, err := newApp(ctx, f, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.runBridge(ctx)
	if f.Chat.InlineWorker {
		if err := startWorker(ctx, a, f); err != nil {
			return err
		}
	}

	if f.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), routerv1.AccessLog(logger))
	routerv1.RegisterRoutes(r, chathttp.Deps{
		Repo:        a.repo,
		Sessions:    a.sessions,
		Registry:    a.registry,
		Auth:        a.authn,
		Queue:       a.queue,
		Logger:      logger,
		IdleTimeout: f.Chat.IdleTimeout,
	}, a.healthChecks())

	srv := &http.Server{
		Addr:              f.Chat.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", f.Chat.ListenAddr), zap.String("node_id", f.Chat.NodeID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Hijacked websocket connections are not tracked by http.Server.
	a.registry.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startWorker runs the task worker inside this process.
func startWorker(ctx context.Context, a *app, f *AppFlags) error {
	if f.Redis.RedisURL == "" {
		return errors.New("config: the task worker requires --redis-url")
	}
	srv, err := queueadapter.NewAsynqServer(f.Redis.RedisURL, f.Queue.Concurrency, f.Queue.Queues, a.logger)
	if err != nil {
		return err
	}
	task.RegisterSendMessageTask(srv, a.sessions, a.logger)
	go func() {
		if err := srv.Run(ctx); err != nil {
			a.logger.Error("task worker stopped", zap.Error(err))
		}
	}()
	return nil
}
