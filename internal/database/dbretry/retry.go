package dbretry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	maxElapsedTime  = 30 * time.Second
	initialInterval = 500 * time.Millisecond
	maxInterval     = 5 * time.Second
	maxRetries      = uint64(5)
)

// retryableClasses are SQLSTATE classes that describe transient conditions:
// connection exceptions, transaction rollbacks, insufficient resources and
// operator intervention.
var retryableClasses = []string{"08", "40", "53", "57"} //nolint:gochecknoglobals // -

// retryableCodes are individual SQLSTATE codes outside those classes.
var retryableCodes = map[string]struct{}{ //nolint:gochecknoglobals // -
	"55006": {}, // object_in_use
	"55P03": {}, // lock_not_available
}

// networkErrors are substrings of driver errors caused by a broken connection.
var networkErrors = []string{ //nolint:gochecknoglobals // -
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"i/o timeout",
	"unexpected EOF",
}

// IsUniqueViolation reports whether the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgerr pgdriver.Error
	if errors.As(err, &pgerr) {
		return pgerr.Field('C') == "23505"
	}

	return false
}

// IsRetryableError checks if the given error is worth retrying.
// Context cancellation is never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgerr pgdriver.Error
	if errors.As(err, &pgerr) {
		code := pgerr.Field('C')
		if _, ok := retryableCodes[code]; ok {
			return true
		}

		for _, class := range retryableClasses {
			if strings.HasPrefix(code, class) {
				return true
			}
		}

		return false
	}

	msg := err.Error()
	for _, fragment := range networkErrors {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// newBackOff builds the retry schedule shared by every database call.
func newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
	)

	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Operation runs a database call that returns a value, retrying transient failures.
func Operation[T any](ctx context.Context, operation func(context.Context) (T, error)) (T, error) {
	result, err := backoff.RetryWithData(func() (T, error) {
		result, err := operation(ctx)
		if err != nil && !IsRetryableError(err) {
			return result, backoff.Permanent(err)
		}

		return result, err
	}, newBackOff(ctx))
	if err != nil {
		return result, fmt.Errorf("database operation failed: %w", err)
	}

	return result, nil
}

// NoResult runs a database call that only returns an error.
func NoResult(ctx context.Context, operation func(context.Context) error) error {
	_, err := Operation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})

	return err
}

// Transaction runs fn inside a transaction, retrying the whole transaction
// when it fails for a transient reason.
func Transaction(ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) error) error {
	return NoResult(ctx, func(ctx context.Context) error {
		return db.RunInTx(ctx, nil, fn)
	})
}
