package async_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-protocol/voltgate/async"
)

const pollInterval = time.Millisecond

func TestPollerReachesTerminalStatus(t *testing.T) {
	t.Parallel()

	statuses := []string{"pending", "pending", "processing", "done"}
	var fetches int32
	var changes int32
	var terminals int32
	terminalCh := make(chan string, 1)

	poller := async.Poller{
		Interval:    pollInterval,
		MaxAttempts: 100,
		Fetch: func() (string, error) {
			i := atomic.AddInt32(&fetches, 1) - 1
			if int(i) >= len(statuses) {
				return "done", nil
			}
			return statuses[i], nil
		},
		IsTerminal: func(status string) bool { return status == "done" },
		OnChange:   func(string) { atomic.AddInt32(&changes, 1) },
		OnTerminal: func(status string) {
			atomic.AddInt32(&terminals, 1)
			terminalCh <- status
		},
		OnError: func(err error) { t.Errorf("unexpected poll error: %v", err) },
	}
	stop := poller.Start()
	defer stop()

	select {
	case status := <-terminalCh:
		assert.Equal(t, "done", status)
	case <-time.After(time.Second):
		t.Fatal("poller never reached terminal status")
	}

	// give a would-be duplicate callback time to fire
	time.Sleep(10 * pollInterval)
	assert.Equal(t, int32(1), atomic.LoadInt32(&terminals))
	// pending -> processing -> done
	assert.Equal(t, int32(3), atomic.LoadInt32(&changes))
}

func TestPollerStopsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	const maxAttempts = 150
	var fetches int32
	errCh := make(chan error, 1)

	poller := async.Poller{
		Interval:    pollInterval,
		MaxAttempts: maxAttempts,
		Fetch: func() (string, error) {
			atomic.AddInt32(&fetches, 1)
			return "pending", nil
		},
		IsTerminal: func(string) bool { return false },
		OnTerminal: func(string) { t.Error("terminal callback fired for non-terminal status") },
		OnError:    func(err error) { errCh <- err },
	}
	stop := poller.Start()
	defer stop()

	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, async.ErrPollLimit))
	case <-time.After(5 * time.Second):
		t.Fatal("poller never gave up")
	}
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&fetches))
}

func TestPollerFetchErrorsCountTowardsCeiling(t *testing.T) {
	t.Parallel()

	var fetches int32
	errCh := make(chan error, 1)

	poller := async.Poller{
		Interval:    pollInterval,
		MaxAttempts: 5,
		Fetch: func() (string, error) {
			atomic.AddInt32(&fetches, 1)
			return "", errors.New("connection refused")
		},
		IsTerminal: func(string) bool { return false },
		OnError:    func(err error) { errCh <- err },
	}
	stop := poller.Start()
	defer stop()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, async.ErrPollLimit))
	case <-time.After(time.Second):
		t.Fatal("poller never gave up")
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&fetches))
}

func TestPollerStop(t *testing.T) {
	t.Parallel()

	var fetches int32
	poller := async.Poller{
		InitialDelay: 50 * time.Millisecond,
		Interval:     50 * time.Millisecond,
		MaxAttempts:  100,
		Fetch: func() (string, error) {
			atomic.AddInt32(&fetches, 1)
			return "pending", nil
		},
		IsTerminal: func(string) bool { return false },
	}
	stop := poller.Start()

	// stop before the first scheduled fetch
	stop()
	// stopping twice must be safe
	stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetches))
}
