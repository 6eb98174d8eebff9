package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-leadchat/internal/infrastructure/logging"
	queueadapter "go-leadchat/internal/infrastructure/queue/adapter"
	"go-leadchat/internal/pkg/chat/application/task"
)

func NewWorkerCommand() *cobra.Command {
	f := NewAppFlags()

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background worker for deferred message sends.",
		Long: `The worker persists queued messages and pushes them to recipients.
It holds no websocket connections itself; events reach recipients through the
cross-node bridge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				return err
			}
			if f.Redis.RedisURL == "" {
				return errors.New("config: the worker requires --redis-url")
			}
			logger, err := logging.New(f.Log.Level, f.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, f, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := queueadapter.NewAsynqServer(f.Redis.RedisURL, f.Queue.Concurrency, f.Queue.Queues, logger)
			if err != nil {
				return err
			}
			task.RegisterSendMessageTask(srv, a.sessions, logger)
			logger.Info("worker started")
			return srv.Run(ctx)
		},
	}

	f.Log.BindFlags(cmd.Flags())
	f.DB.BindFlags(cmd.Flags())
	f.Redis.BindFlags(cmd.Flags())
	f.Queue.BindFlags(cmd.Flags())
	f.Chat.BindFlags(cmd.Flags())
	return cmd
}
