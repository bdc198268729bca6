package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Verdict tells a [FallbackGroup] how to treat an error.
type Verdict int

const (
	// Retry counts the error against the entry's breaker and tries the next
	// entry.
	Retry Verdict = iota

	// Skip tries the next entry without penalising this one. Used for
	// errors such as "operation not supported".
	Skip

	// Abort returns the error at once. Used for cancellation and for input
	// errors that every entry would reject the same way.
	Abort
)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Classify maps an error to a [Verdict]. Nil uses [DefaultClassify].
	Classify func(error) Verdict
}

// DefaultClassify aborts on context cancellation and retries everything else.
func DefaultClassify(err error) Verdict {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Abort
	}
	return Retry
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. Entries are tried in registration order; entries whose
// breaker is open are skipped.
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	cfg      FallbackConfig
	classify func(error) Verdict
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	classify := cfg.Classify
	if classify == nil {
		classify = DefaultClassify
	}
	fg := &FallbackGroup[T]{cfg: cfg, classify: classify}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones. Not safe to call
// concurrently with [ExecuteWithResult].
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Breaker returns the breaker guarding the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// ExecuteWithResult tries fn against each entry until one succeeds. It is a
// package-level function because Go methods cannot declare type parameters.
// When every entry fails the returned error wraps [ErrAllFailed] and the last
// underlying error.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var (
			result  R
			spared  error
			aborted bool
		)
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			if innerErr == nil {
				return nil
			}
			switch fg.classify(innerErr) {
			case Skip:
				spared = innerErr
				return nil
			case Abort:
				spared, aborted = innerErr, true
				return nil
			}
			return innerErr
		})
		switch {
		case aborted:
			return zero, spared
		case err == nil && spared == nil:
			return result, nil
		case spared != nil:
			lastErr = spared
			slog.Debug("provider skipped", "provider", entry.name, "err", spared)
		case errors.Is(err, ErrCircuitOpen):
			lastErr = err
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		default:
			lastErr = err
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
