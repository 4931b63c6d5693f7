package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"defiaudit-desktop/internal/bootstrap"
	"defiaudit-desktop/internal/config"
	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/logging"
	"defiaudit-desktop/internal/models"
	"defiaudit-desktop/internal/services/audit"
	"defiaudit-desktop/internal/services/scheduler"
)

// configPathEnv points at an optional YAML config file
const configPathEnv = "DEFI_AUDIT_CONFIG"

// App struct - main application state
type App struct {
	ctx              context.Context
	stack            *bootstrap.Stack
	auditService     *audit.Service
	schedulerService *scheduler.Service
	view             *audit.Session // the single mounted report view
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load(os.Getenv(configPathEnv))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Setup(cfg.LogLevel)
	logrus.Info("Application starting up...")

	stack, err := bootstrap.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	a.stack = stack

	a.auditService = audit.NewService(stack.Client, stack.History, a.emit, a.handleUnauthorized)
	a.view = a.auditService.NewSession()
	logrus.Info("Audit service initialized")

	a.schedulerService = scheduler.NewService(stack.DB, ctx, a.auditService)
	if err := a.schedulerService.Start(); err != nil {
		logrus.WithError(err).Warn("Failed to start scheduler")
	} else {
		logrus.Info("Scheduler service initialized and started")
	}

	logrus.Info("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	logrus.Info("Application shutting down...")

	if a.view != nil {
		a.auditService.ReleaseSession(a.view)
	}
	if a.schedulerService != nil {
		a.schedulerService.Stop()
	}
	if a.stack != nil {
		if err := a.stack.Close(); err != nil {
			logrus.WithError(err).Error("Error closing database")
		}
	}

	logrus.Info("Shutdown complete")
}

func (a *App) emit(event string, payload interface{}) {
	runtime.EventsEmit(a.ctx, event, payload)
}

// handleUnauthorized tells the page shell to re-authenticate
func (a *App) handleUnauthorized(err error) {
	logrus.WithError(err).Warn("API rejected credentials")
	runtime.EventsEmit(a.ctx, "session:unauthorized", map[string]interface{}{
		"message": err.Error(),
	})
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// SetAPIToken replaces the bearer token, e.g. after the shell re-authenticates
func (a *App) SetAPIToken(token string) {
	a.stack.API.SetToken(strings.TrimSpace(token))
}

// Audit Methods

// CreateAudit submits a new wallet audit
func (a *App) CreateAudit(req defi.CreateRequest) (*defi.Job, error) {
	return a.auditService.CreateAudit(a.ctx, req)
}

// OpenReport mounts the report view on jobID. Progress arrives as audit:<id> events.
func (a *App) OpenReport(jobID string) (*audit.Snapshot, error) {
	if err := a.view.Open(a.ctx, jobID); err != nil {
		return nil, err
	}
	snap := a.view.Snapshot()
	return &snap, nil
}

// RefreshReport re-fetches the open report and surfaces any failure
func (a *App) RefreshReport() (*audit.Snapshot, error) {
	if err := a.view.RefreshForeground(a.ctx); err != nil {
		return nil, err
	}
	snap := a.view.Snapshot()
	return &snap, nil
}

// CloseReport unmounts the report view
func (a *App) CloseReport() {
	a.view.Close()
}

// DeleteAudit deletes an audit on the server and locally
func (a *App) DeleteAudit(jobID string) error {
	return a.auditService.DeleteAudit(a.ctx, jobID)
}

// ExportReport downloads a CSV or PDF export into the configured export directory
func (a *App) ExportReport(jobID string, format string) (string, error) {
	f := defi.ExportFormat(strings.ToLower(format))
	if f != defi.FormatCSV && f != defi.FormatPDF {
		return "", fmt.Errorf("%w: unsupported export format %q", defi.ErrValidation, format)
	}
	return a.auditService.ExportReport(a.ctx, jobID, f, a.stack.Config.ExportDir)
}

// ListAudits returns the local audit history
func (a *App) ListAudits(limit int) ([]models.AuditRecord, error) {
	return a.auditService.ListAudits(limit)
}

// GetCachedReport returns the stored snapshot of a completed audit for offline viewing
func (a *App) GetCachedReport(jobID string) (*audit.Snapshot, error) {
	return a.auditService.CachedReport(jobID)
}

// Scheduler Methods

// ListSchedules returns all recurring audits
func (a *App) ListSchedules() ([]scheduler.ScheduleListResponse, error) {
	return a.schedulerService.ListSchedules()
}

// UpsertSchedule creates or updates a recurring audit
func (a *App) UpsertSchedule(req scheduler.UpsertScheduleRequest) (string, error) {
	return a.schedulerService.UpsertSchedule(req)
}

// DeleteSchedule removes a recurring audit
func (a *App) DeleteSchedule(scheduleID string) error {
	return a.schedulerService.DeleteSchedule(scheduleID)
}
