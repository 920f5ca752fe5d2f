package command

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventstore"
)

// RetryPolicy configures ExecuteWithRetry's backoff.
type RetryPolicy struct {
	// MaxElapsedTime bounds total retry time. Zero means
	// backoff.DefaultMaxElapsedTime (15m).
	MaxElapsedTime time.Duration
	// MaxRetries caps the number of attempts after the first. Zero means
	// unlimited (bounded only by MaxElapsedTime).
	MaxRetries uint64
}

// execer is satisfied by both Executor and BlockingExecutor.
type execer[I any] interface {
	Execute(ctx context.Context, input I, cmdCtx envelope.CommandContext) (ExecuteResult, error)
}

// ExecuteWithRetry retries ex.Execute while, and only while, the store
// rejects the append on an optimistic-concurrency conflict
// (eventstore.IntegrityConflictError): another writer's events matched
// this command's query after the position it read from (spec.md §5's
// "a caller that wants at-least-once retry-on-conflict semantics wraps
// Execute in its own loop; the executor itself never retries").
//
// Every retry replans from scratch: input is re-validated, history is
// re-read, and the handler is re-run against the new head, exactly as a
// fresh Execute call would.
func ExecuteWithRetry[I any](ctx context.Context, ex execer[I], input I, cmdCtx envelope.CommandContext, policy RetryPolicy) (ExecuteResult, error) {
	b := backoff.NewExponentialBackOff()
	if policy.MaxElapsedTime > 0 {
		b.MaxElapsedTime = policy.MaxElapsedTime
	}

	var bo backoff.BackOff = b
	if policy.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(b, policy.MaxRetries)
	}
	bo = backoff.WithContext(bo, ctx)

	var result ExecuteResult
	err := backoff.Retry(func() error {
		var err error
		result, err = ex.Execute(ctx, input, cmdCtx)
		if err == nil {
			return nil
		}
		if eventstore.IsIntegrityConflictError(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, bo)

	if err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}
