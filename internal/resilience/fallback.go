package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every replica in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all replicas failed")

// FallbackConfig configures the per-replica circuit breaker created for each
// member of a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type replica[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more standby replicas of the same
// backend. Calls go to the first replica whose breaker admits them; on failure
// the next one is tried in registration order.
//
// Replicas must be registered before the group is shared between goroutines.
// After that, FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	replicas []replica[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as its first replica.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a standby replica tried after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.replicas = append(fg.replicas, replica[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of replicas in the group.
func (fg *FallbackGroup[T]) Len() int { return len(fg.replicas) }

// States returns each replica's breaker state keyed by replica name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.replicas))
	for i := range fg.replicas {
		out[fg.replicas[i].name] = fg.replicas[i].breaker.State()
	}
	return out
}

// Healthy reports whether at least one replica's breaker is not open.
func (fg *FallbackGroup[T]) Healthy() bool {
	for i := range fg.replicas {
		if fg.replicas[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute runs fn against each replica in order until one succeeds. Replicas
// with an open breaker are skipped. It stops early when ctx is done. If every
// replica fails the result wraps [ErrAllFailed] and the last error.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a function because methods cannot declare type parameters.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.replicas {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		r := &fg.replicas[i]
		var result R
		err := r.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, r.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping replica, circuit open", "replica", r.name)
		case ctx.Err() != nil:
			return zero, err
		default:
			slog.Warn("replica failed, trying next", "replica", r.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
