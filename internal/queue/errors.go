package queue

import (
	"errors"
	"fmt"
)

var ErrNilRun = errors.New("job Run is nil")

// NoRetry marks an error as non-retryable.
//
// Units of work can wrap permanent failures with NoRetry so the queue drops the
// job right away instead of spending its retries:
//
//	return queue.NoRetry(fmt.Errorf("source gone: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
