// Package poller keeps a single audit job fresh while it is processing.
//
// A Poller owns at most one interval timer. Start always tears down the
// previous cycle first, and every cycle ends either because a tick observed a
// terminal status (or an error that makes progress impossible) or because its
// Handle or the Poller was stopped.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"defiaudit-desktop/internal/defi"
)

// DefaultInterval is the fixed cadence between status fetches
const DefaultInterval = 5 * time.Second

// State is the lifecycle of a polling cycle
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TickFunc re-fetches the tracked job and reports the status it observed
type TickFunc func(ctx context.Context) (defi.Status, error)

// Poller drives TickFunc on a fixed interval for one job at a time
type Poller struct {
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	state  State
	jobID  string
	gen    uint64
	cancel context.CancelFunc
}

// New creates an idle poller with the default interval
func New() *Poller {
	return NewWithInterval(DefaultInterval)
}

// NewWithInterval creates an idle poller ticking every interval.
// Each tick gets a deadline equal to the interval.
func NewWithInterval(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		timeout:  interval,
	}
}

// Handle is the owner's reference to one polling cycle
type Handle struct {
	p     *Poller
	gen   uint64
	jobID string
	done  chan struct{}
}

// JobID returns the job this cycle polls
func (h *Handle) JobID() string { return h.jobID }

// Done is closed once the cycle's goroutine has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop ends this cycle. It is a no-op if the poller has since moved on to another cycle.
func (h *Handle) Stop() {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.gen == h.gen {
		h.p.stopLocked()
	}
}

// Start begins polling jobID, stopping any cycle already running
func (p *Poller) Start(jobID string, onTick TickFunc) *Handle {
	p.mu.Lock()
	p.stopLocked()

	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{p: p, gen: p.gen, jobID: jobID, done: make(chan struct{})}
	p.state = StatePolling
	p.jobID = jobID
	p.cancel = cancel
	p.mu.Unlock()

	logrus.WithField("job_id", jobID).Debug("Polling started")
	go p.run(ctx, h, onTick)
	return h
}

// Stop cancels the active cycle, if any. Safe to call repeatedly.
// A tick already in flight has its context cancelled and schedules nothing further.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// JobID returns the job of the current or most recent cycle
func (p *Poller) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.state == StatePolling {
		p.state = StateStopped
	}
}

// finish marks the cycle stopped if it is still the current one
func (p *Poller) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.stopLocked()
	}
}

func (p *Poller) run(ctx context.Context, h *Handle, onTick TickFunc) {
	defer close(h.done)
	log := logrus.WithField("job_id", h.jobID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}

			tickCtx, cancel := context.WithTimeout(ctx, p.timeout)
			status, err := safeTick(tickCtx, onTick)
			cancel()

			// Stopped while the fetch was in flight
			if ctx.Err() != nil {
				return
			}

			if err != nil {
				if defi.IsTerminalError(err) {
					log.WithError(err).Warn("Polling stopped: job can no longer be refreshed")
					p.finish(h.gen)
					return
				}
				log.WithError(err).Warn("Poll tick failed, will retry on next tick")
				continue
			}

			if status.Terminal() {
				log.WithField("status", status).Info("Polling finished")
				p.finish(h.gen)
				return
			}
		}
	}
}

// safeTick turns a panicking tick into a transient failure so the cycle survives it
func safeTick(ctx context.Context, onTick TickFunc) (status defi.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = "", fmt.Errorf("%w: panic during poll tick: %v", defi.ErrTransient, r)
		}
	}()
	return onTick(ctx)
}
