package async

import (
	"errors"
	"sync"
	"time"
)

// ErrPollLimit is returned through OnError when a Poller exhausts its
// attempt ceiling without observing a terminal status.
var ErrPollLimit = errors.New("status did not reach a terminal state within the poll limit")

// Poller repeatedly fetches a status string until a terminal state is
// reached. Both the bridge monitor and the invoice watcher are built on
// this: they only differ in the status fetcher and the terminal-state
// predicate.
//
// Timing contract: the first fetch happens after InitialDelay (Interval
// if unset), subsequent fetches every Interval. A fetch error is not
// fatal, it just doubles the wait before the next attempt, once. Every
// fetch, failed or not, counts against MaxAttempts.
type Poller struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// MaxAttempts bounds the number of fetches. This is an iteration
	// ceiling, not a wall-clock deadline: slow fetches stretch the
	// real-world duration beyond MaxAttempts*Interval.
	MaxAttempts int

	Fetch      func() (string, error)
	IsTerminal func(status string) bool

	// OnChange fires whenever the fetched status differs from the
	// previously observed one, including the terminal status.
	OnChange func(status string)
	// OnTerminal fires exactly once, when a terminal status is observed.
	OnTerminal func(status string)
	// OnError fires exactly once if MaxAttempts is exhausted, with
	// ErrPollLimit.
	OnError func(err error)
}

// Start launches the poll loop and returns a stop function. Stopping is
// cooperative: it prevents the next scheduled fetch, but cannot abort a
// fetch already in flight. Callers must invoke the stop function when
// they lose interest, or the loop keeps hitting the provider until a
// terminal status or the attempt ceiling.
func (p Poller) Start() (stop func()) {
	stopCh := make(chan struct{})
	var once sync.Once
	go p.run(stopCh)
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

func (p Poller) run(stopCh <-chan struct{}) {
	delay := p.InitialDelay
	if delay == 0 {
		delay = p.Interval
	}

	var lastStatus string
	seenStatus := false
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}

		status, err := p.Fetch()
		if err != nil {
			// transient provider failure: try again next tick, with a
			// single doubled interval
			delay = 2 * p.Interval
			continue
		}
		delay = p.Interval

		if !seenStatus || status != lastStatus {
			seenStatus = true
			lastStatus = status
			if p.OnChange != nil {
				p.OnChange(status)
			}
		}

		if p.IsTerminal(status) {
			if p.OnTerminal != nil {
				p.OnTerminal(status)
			}
			return
		}
	}

	if p.OnError != nil {
		p.OnError(ErrPollLimit)
	}
}
