package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/history"
	"defiaudit-desktop/internal/models"
)

// JobAPI is the subset of the audit REST client used by the service
type JobAPI interface {
	Create(ctx context.Context, req defi.CreateRequest) (*defi.Job, error)
	Fetch(ctx context.Context, id string) (*defi.Report, error)
	Remove(ctx context.Context, id string) error
	Export(ctx context.Context, id string, format defi.ExportFormat) (*defi.Artifact, error)
}

// Service handles DeFi audit lifecycle operations for the page shell
type Service struct {
	client         JobAPI
	store          *history.Store
	emit           EmitFunc
	onUnauthorized func(error)

	sessionsMu sync.Mutex
	sessions   map[string]*Session
}

// NewService creates a new audit service. store and emit may be nil.
func NewService(client JobAPI, store *history.Store, emit EmitFunc, onUnauthorized func(error)) *Service {
	return &Service{
		client:         client,
		store:          store,
		emit:           emit,
		onUnauthorized: onUnauthorized,
		sessions:       make(map[string]*Session),
	}
}

// CreateAudit submits a wallet scan and records it locally
func (s *Service) CreateAudit(ctx context.Context, req defi.CreateRequest) (*defi.Job, error) {
	req = req.Normalize()
	job, err := s.client.Create(ctx, req)
	if err != nil {
		s.checkUnauthorized(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"job_id": job.ID,
		"chains": job.Chains,
	}).Info("Audit created")

	if s.store != nil {
		if err := s.store.Record(job, req.WalletAddress); err != nil {
			logrus.WithError(err).Warn("Failed to record audit history")
		}
	}
	return job, nil
}

// NewSession creates a report view session wired to history and events.
// It stays registered for delete notifications until ReleaseSession.
func (s *Service) NewSession() *Session {
	session := NewSession(s.client, SessionHooks{
		Emit:           s.emit,
		OnReport:       s.persistReport,
		OnUnauthorized: s.onUnauthorized,
	})

	s.sessionsMu.Lock()
	s.sessions[session.ID()] = session
	s.sessionsMu.Unlock()
	return session
}

// DeleteAudit deletes the job on the server, stops every session tracking it
// and drops the local record
func (s *Service) DeleteAudit(ctx context.Context, id string) error {
	if err := s.client.Remove(ctx, id); err != nil {
		s.checkUnauthorized(err)
		// Already gone on the server: still clean up locally
		if !errors.Is(err, defi.ErrNotFound) {
			return err
		}
		logrus.WithField("job_id", id).Warn("Audit already removed on server")
	}

	stopped := 0
	for _, session := range s.liveSessions() {
		if session.StopIfTracking(id) {
			stopped++
		}
	}

	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			logrus.WithError(err).Warn("Failed to delete audit history")
		}
	}

	logrus.WithFields(logrus.Fields{"job_id": id, "sessions_stopped": stopped}).Info("Audit deleted")
	return nil
}

// ExportReport downloads the CSV or PDF artifact into dir and returns the written path
func (s *Service) ExportReport(ctx context.Context, id string, format defi.ExportFormat, dir string) (string, error) {
	artifact, err := s.client.Export(ctx, id, format)
	if err != nil {
		s.checkUnauthorized(err)
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create export directory: %w", defi.ErrExportFailed, err)
	}

	name := filepath.Base(artifact.Filename)
	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = fmt.Sprintf("audit-report-%s.%s", id, format)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write %s: %w", defi.ErrExportFailed, path, err)
	}

	logrus.WithFields(logrus.Fields{"job_id": id, "path": path, "bytes": len(artifact.Data)}).Info("Audit report exported")
	return path, nil
}

// ListAudits returns the local audit history, newest first
func (s *Service) ListAudits(limit int) ([]models.AuditRecord, error) {
	if s.store == nil {
		return []models.AuditRecord{}, nil
	}
	return s.store.List(limit)
}

// CachedReport returns the stored snapshot of a completed audit with its breakdowns
func (s *Service) CachedReport(id string) (*Snapshot, error) {
	if s.store == nil {
		return nil, history.ErrNoSnapshot
	}
	report, err := s.store.LoadReport(id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		JobID:      report.ID,
		Status:     report.Status,
		Report:     report,
		Breakdowns: defi.ComputeBreakdowns(report),
		Elapsed:    "0:00",
	}, nil
}

func (s *Service) persistReport(report *defi.Report) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveReport(report); err != nil {
		logrus.WithError(err).WithField("job_id", report.ID).Warn("Failed to persist audit report")
	}
}

func (s *Service) checkUnauthorized(err error) {
	if errors.Is(err, defi.ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized(err)
	}
}

// ReleaseSession closes a session and drops it from the service
func (s *Service) ReleaseSession(session *Session) {
	session.Close()
	s.sessionsMu.Lock()
	delete(s.sessions, session.ID())
	s.sessionsMu.Unlock()
}

func (s *Service) liveSessions() []*Session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
