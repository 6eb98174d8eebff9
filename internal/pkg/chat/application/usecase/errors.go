package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	chat "go-leadchat/internal/pkg/chat/application/domain"
)

// ErrPersistence indicates an infrastructure/repository failure inside a use case
var ErrPersistence = errors.New("chat use case persistence error")

// ErrPersistenceTimeout indicates the store did not answer within the caller's deadline.
// Callers must not assume a write behind this error was applied or dropped.
var ErrPersistenceTimeout = errors.New("chat use case persistence timeout")

// ErrInvalidInput flags a request missing required identifiers.
var ErrInvalidInput = errors.New("chat use case invalid input")

const (
	readAttempts = 3
	readBackoff  = 50 * time.Millisecond
)

// persistenceErr classifies a repository error. Domain errors pass through.
func persistenceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrConversationMissing),
		errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidConversation):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// withRetry runs an idempotent store operation, retrying a bounded number of
// times on ErrPersistence. Timeouts and domain errors are returned at once.
func withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		err = persistenceErr(op(ctx))
		if err == nil || !errors.Is(err, ErrPersistence) || attempt == readAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return persistenceErr(ctx.Err())
		case <-time.After(time.Duration(attempt) * readBackoff):
		}
	}
	return err
}
