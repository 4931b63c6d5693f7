package poller

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ElapsedInterval is the refresh cadence of the elapsed indicator
const ElapsedInterval = time.Second

// ElapsedTracker reports whole seconds elapsed since a fixed reference instant,
// ticking only while started. Stopping freezes the reported value.
type ElapsedTracker struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	ref     time.Time
	frozen  time.Duration
	running bool
	cancel  context.CancelFunc
}

// NewElapsedTracker creates a stopped tracker
func NewElapsedTracker() *ElapsedTracker {
	return &ElapsedTracker{
		interval: ElapsedInterval,
		now:      time.Now,
	}
}

// Start begins ticking from ref, replacing any previous run. onTick, if set,
// receives the formatted value once per interval.
func (e *ElapsedTracker) Start(ref time.Time, onTick func(elapsed string)) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.ref = ref
	e.frozen = 0
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed, live := e.tickValue(ctx)
				if !live {
					return
				}
				if onTick != nil {
					onTick(elapsed)
				}
			}
		}
	}()
}

// Stop halts ticking and freezes the elapsed value. Safe to call repeatedly.
func (e *ElapsedTracker) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.frozen = e.sinceLocked()
	e.running = false
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Reset stops the tracker and clears the reference so it reports 0:00 again
func (e *ElapsedTracker) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.running = false
	e.ref = time.Time{}
	e.frozen = 0
}

// tickValue reads the value for a tick of the run owning ctx, reporting false once that run has ended
func (e *ElapsedTracker) tickValue(ctx context.Context) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || ctx.Err() != nil {
		return "", false
	}
	return FormatElapsed(e.sinceLocked()), true
}

// Running reports whether the tracker is ticking
func (e *ElapsedTracker) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Elapsed returns the floored elapsed duration
func (e *ElapsedTracker) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return e.frozen
	}
	return e.sinceLocked()
}

// String returns the elapsed duration as m:ss
func (e *ElapsedTracker) String() string {
	return FormatElapsed(e.Elapsed())
}

func (e *ElapsedTracker) sinceLocked() time.Duration {
	if e.ref.IsZero() {
		return 0
	}
	d := e.now().Sub(e.ref)
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

// FormatElapsed renders minutes and zero-padded seconds, e.g. 1:05 or 12:00.
// There is no hour component; 75 minutes renders as 75:00.
func FormatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
