package port

import (
	"context"
	"errors"
	"time"
)

// ErrSkipRetry marks a handler failure that retrying cannot fix. Wrap it to
// archive the task instead of rescheduling it.
var ErrSkipRetry = errors.New("queue: skip retry")

// Task is a background job: a stable type name plus an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks the backend to retry.
// Handlers must tolerate redelivery.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behavior; zero values mean unspecified.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	MaxRetry  int
	Timeout   time.Duration
	UniqueTTL time.Duration
}

// Client enqueues tasks for background processing.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs workers for registered task types until Run's context ends.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
