package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/poller"
)

// ErrNoReportOpen is returned by refreshes on a session with no open report
var ErrNoReportOpen = errors.New("no audit report is open")

// Fetcher re-reads a job or report by id
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*defi.Report, error)
}

// EmitFunc pushes a named event to the page shell
type EmitFunc func(event string, payload interface{})

// SessionHooks are optional callbacks fired outside the session lock
type SessionHooks struct {
	Emit           EmitFunc
	OnReport       func(report *defi.Report)
	OnUnauthorized func(err error)
}

// Snapshot is the render state of a report view
type Snapshot struct {
	SessionID  string          `json:"session_id"`
	JobID      string          `json:"job_id"`
	Status     defi.Status     `json:"status"`
	Report     *defi.Report    `json:"report,omitempty"`
	Breakdowns defi.Breakdowns `json:"breakdowns"`
	Elapsed    string          `json:"elapsed"`
	Polling    bool            `json:"polling"`
	Gone       bool            `json:"gone"`
	LastError  string          `json:"last_error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Session is the state behind one mounted report view. It owns exactly one
// poller and one elapsed tracker; Open replaces the previous job and Close
// tears both down so that late responses are discarded.
type Session struct {
	id      string
	fetcher Fetcher
	hooks   SessionHooks
	poller  *poller.Poller
	elapsed *poller.ElapsedTracker
	now     func() time.Time

	mu        sync.Mutex
	gen       uint64
	jobID     string
	handle    *poller.Handle
	report    *defi.Report
	lastErr   error
	gone      bool
	updatedAt time.Time
}

// NewSession creates an idle session
func NewSession(fetcher Fetcher, hooks SessionHooks) *Session {
	return &Session{
		id:      uuid.New().String(),
		fetcher: fetcher,
		hooks:   hooks,
		poller:  poller.New(),
		elapsed: poller.NewElapsedTracker(),
		now:     time.Now,
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// JobID returns the job currently open, or "" when closed
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// Open switches the session to jobID. Any cycle for a previous job is stopped
// first. The initial fetch is a foreground refresh: its error is returned.
// Polling starts whenever the job is not known to be terminal.
func (s *Session) Open(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: audit id is required", defi.ErrValidation)
	}

	s.mu.Lock()
	s.teardownLocked()
	s.elapsed.Reset()
	s.gen++
	gen := s.gen
	s.jobID = jobID
	s.report = nil
	s.lastErr = nil
	s.gone = false
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.id, "job_id": jobID}).Info("Opening audit report")

	status, err := s.refresh(ctx, gen, true)
	if err != nil && defi.IsTerminalError(err) {
		return err
	}
	if !status.Terminal() {
		s.startCycle(gen)
	}
	return err
}

// RefreshForeground re-fetches on user request and returns any failure
func (s *Session) RefreshForeground(ctx context.Context) error {
	s.mu.Lock()
	gen, open := s.gen, s.jobID != ""
	s.mu.Unlock()
	if !open {
		return ErrNoReportOpen
	}

	status, err := s.refresh(ctx, gen, true)
	if err == nil && !status.Terminal() && s.poller.State() != poller.StatePolling {
		s.startCycle(gen)
	}
	return err
}

// RefreshSilently re-fetches in the background. Failures are logged, never returned.
func (s *Session) RefreshSilently(ctx context.Context) {
	s.mu.Lock()
	gen, open := s.gen, s.jobID != ""
	s.mu.Unlock()
	if !open {
		return
	}
	s.refresh(ctx, gen, false)
}

// Close stops polling and the elapsed tracker synchronously. A fetch still in
// flight is discarded when it resolves.
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	s.jobID = ""
	s.mu.Unlock()
}

// StopIfTracking closes the session when it has jobID open and reports whether it did
func (s *Session) StopIfTracking(jobID string) bool {
	if s.JobID() != jobID || jobID == "" {
		return false
	}
	s.Close()
	return true
}

// Snapshot returns the current render state including breakdowns
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		JobID:      s.jobID,
		Report:     s.report,
		Breakdowns: defi.ComputeBreakdowns(s.report),
		Elapsed:    s.elapsed.String(),
		Polling:    s.handle != nil && s.poller.State() == poller.StatePolling,
		Gone:       s.gone,
		UpdatedAt:  s.updatedAt,
	}
	if s.report != nil {
		snap.Status = s.report.Status
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Session) startCycle(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	ref := s.now()
	if s.report != nil && !s.report.CreatedAt.IsZero() {
		ref = s.report.CreatedAt
	}

	s.handle = s.poller.Start(s.jobID, func(ctx context.Context) (defi.Status, error) {
		return s.refresh(ctx, gen, false)
	})
	s.elapsed.Start(ref, func(elapsed string) {
		s.emitElapsed(gen, elapsed)
	})
}

// refresh fetches once and applies the result if the session has not moved on
func (s *Session) refresh(ctx context.Context, gen uint64, foreground bool) (defi.Status, error) {
	s.mu.Lock()
	jobID := s.jobID
	stale := s.gen != gen || jobID == ""
	s.mu.Unlock()
	if stale {
		return "", context.Canceled
	}

	report, err := s.fetcher.Fetch(ctx, jobID)
	return s.apply(gen, jobID, report, err, foreground)
}

func (s *Session) apply(gen uint64, jobID string, report *defi.Report, err error, foreground bool) (defi.Status, error) {
	log := logrus.WithFields(logrus.Fields{"session_id": s.id, "job_id": jobID})
	if err == nil && report == nil {
		err = fmt.Errorf("%w: empty response for audit %s", defi.ErrTransient, jobID)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		log.Debug("Discarding response for a closed or replaced report view")
		return "", context.Canceled
	}

	var unauthorized bool
	if err != nil {
		switch {
		case errors.Is(err, defi.ErrNotFound):
			s.gone = true
			s.stopCycleLocked(foreground)
		case errors.Is(err, defi.ErrUnauthorized):
			unauthorized = true
			s.stopCycleLocked(foreground)
		}
		if foreground || defi.IsTerminalError(err) {
			s.lastErr = err
		} else {
			log.WithError(err).Warn("Background refresh failed")
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if unauthorized && s.hooks.OnUnauthorized != nil {
			s.hooks.OnUnauthorized(err)
		}
		s.emitSnapshot(snap)

		status := defi.Status("")
		if snap.Report != nil {
			status = snap.Report.Status
		}
		return status, err
	}

	// Terminal statuses never revert; a stale processing response cannot overwrite one.
	if s.report != nil && s.report.Status.Terminal() && !report.Status.Terminal() {
		status := s.report.Status
		s.mu.Unlock()
		return status, nil
	}

	s.report = report
	s.lastErr = nil
	s.updatedAt = s.now()
	if report.Status.Terminal() {
		s.stopCycleLocked(foreground)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.hooks.OnReport != nil {
		s.hooks.OnReport(report)
	}
	s.emitSnapshot(snap)
	return report.Status, nil
}

// stopCycleLocked stops the elapsed tracker. Background ticks leave the poller
// to stop itself on the status they return; foreground refreshes stop it here.
func (s *Session) stopCycleLocked(foreground bool) {
	s.elapsed.Stop()
	if foreground && s.handle != nil {
		s.handle.Stop()
	}
}

func (s *Session) teardownLocked() {
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
	s.poller.Stop()
	s.elapsed.Stop()
}

func (s *Session) emitSnapshot(snap Snapshot) {
	if s.hooks.Emit == nil || snap.JobID == "" {
		return
	}
	s.hooks.Emit(fmt.Sprintf("audit:%s", snap.JobID), snap)
}

func (s *Session) emitElapsed(gen uint64, elapsed string) {
	s.mu.Lock()
	jobID := s.jobID
	current := s.gen == gen && s.elapsed.Running()
	s.mu.Unlock()
	if !current || s.hooks.Emit == nil {
		return
	}
	s.hooks.Emit(fmt.Sprintf("audit:%s:elapsed", jobID), elapsed)
}
