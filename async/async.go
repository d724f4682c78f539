// Package async provides functionality for interacting with async
// operations: bounded retries and polling a status until it reaches a
// terminal state.
package async

import (
	"time"

	"github.com/pkg/errors"
)

// Retry retries the given function until it doesn't fail. It doubles the
// period between attempts each time.
func Retry(attempts int, sleep time.Duration, fn func() error) error {
	start := time.Now()
	if err := innerRetry(attempts, sleep, fn); err != nil {
		return errors.Wrapf(err,
			"failed after %d attempts and %s total duration",
			attempts, time.Since(start))
	}
	return nil
}

func innerRetry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts > 1 {
			time.Sleep(sleep)
			return innerRetry(attempts-1, 2*sleep, fn)
		}
		return err
	}
	return nil
}
