// Package retry provides the one-shot retry used by song selection.
package retry

import (
	"context"

	zlog "github.com/rs/zerolog/log"
)

// Op is a single attempt. Returning ok=false with a nil error is a soft failure
// ("no result"); a non-nil error is a hard failure.
type Op[T any] func(ctx context.Context) (value T, ok bool, err error)

// Once runs primary and, only if it produced no result, runs retry exactly once.
// An error from either attempt is returned immediately without running the other.
// A context cancelled between attempts stops the retry.
func Once[T any](ctx context.Context, name string, primary, retry Op[T]) (T, bool, error) {
	var zero T

	v, ok, err := primary(ctx)
	if err != nil {
		return zero, false, err
	}
	if ok {
		return v, true, nil
	}

	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	zlog.Debug().Msgf("retrying after soft failure: op=%s", name)
	v, ok, err = retry(ctx)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

// Twice is Once with the same operation used for both attempts.
func Twice[T any](ctx context.Context, name string, op Op[T]) (T, bool, error) {
	return Once(ctx, name, op, op)
}
