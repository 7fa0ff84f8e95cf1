package conversation

import (
	"sync"
	"time"
)

// DefaultTimerInterval is how often the pending timer samples the clock.
const DefaultTimerInterval = 100 * time.Millisecond

// PendingTimer measures how long the current reply has been outstanding.
// It only runs between Start and Stop; both reset the sampled value to zero.
// The value is cosmetic and has no effect on the protocol.
type PendingTimer struct {
	mu       sync.Mutex
	interval time.Duration
	started  time.Time
	elapsed  time.Duration
	onTick   func(time.Duration)
	stop     chan struct{}
	stopped  chan struct{}
}

// NewPendingTimer creates a timer sampling every interval. onTick, if not
// nil, is called from the timer goroutine after each sample.
func NewPendingTimer(interval time.Duration, onTick func(time.Duration)) *PendingTimer {
	if interval <= 0 {
		interval = DefaultTimerInterval
	}
	return &PendingTimer{interval: interval, onTick: onTick}
}

// Start resets the counter and begins sampling. Starting a running timer
// restarts it from zero.
func (pt *PendingTimer) Start() {
	pt.Stop()

	pt.mu.Lock()
	pt.started = time.Now()
	pt.elapsed = 0
	pt.stop = make(chan struct{})
	pt.stopped = make(chan struct{})
	stop, stopped := pt.stop, pt.stopped
	pt.mu.Unlock()

	go pt.run(stop, stopped)
}

// Stop halts sampling and resets the counter to zero.
func (pt *PendingTimer) Stop() {
	pt.mu.Lock()
	stop, stopped := pt.stop, pt.stopped
	pt.stop, pt.stopped = nil, nil
	pt.elapsed = 0
	pt.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

// Running reports whether the timer is sampling.
func (pt *PendingTimer) Running() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.stop != nil
}

// Elapsed returns the last sampled duration.
func (pt *PendingTimer) Elapsed() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.elapsed
}

// Seconds returns the elapsed time in whole seconds.
func (pt *PendingTimer) Seconds() int {
	return int(pt.Elapsed() / time.Second)
}

func (pt *PendingTimer) run(stop, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			pt.mu.Lock()
			if pt.stop != stop {
				pt.mu.Unlock()
				return
			}
			pt.elapsed = now.Sub(pt.started)
			elapsed := pt.elapsed
			pt.mu.Unlock()

			if pt.onTick != nil {
				pt.onTick(elapsed)
			}
		}
	}
}
