package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/models"
)

// runTimeout bounds a single scheduled CreateAudit call
const runTimeout = 30 * time.Second

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service runs recurring wallet audits on cron schedules
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	creator   Creator
	entries   map[string]cron.EntryID // schedule ID -> cron entry ID
	entriesMu sync.RWMutex
	now       func() time.Time
}

// NewService creates a new scheduler service
func NewService(db *gorm.DB, ctx context.Context, creator Creator) *Service {
	return &Service{
		db:      db,
		ctx:     ctx,
		cron:    cron.New(cron.WithParser(cronParser)),
		creator: creator,
		entries: make(map[string]cron.EntryID),
		now:     time.Now,
	}
}

// Start loads enabled schedules from the database and starts the cron runner
func (s *Service) Start() error {
	logrus.Info("Starting audit scheduler...")

	if err := s.db.AutoMigrate(&models.ScheduledAudit{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_audits table: %w", err)
	}

	s.cron.Start()

	var schedules []models.ScheduledAudit
	if err := s.db.Where("enabled = ?", true).Find(&schedules).Error; err != nil {
		return fmt.Errorf("failed to load scheduled audits: %w", err)
	}

	for i := range schedules {
		sa := &schedules[i]
		if err := s.register(sa); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"schedule": sa.Name, "id": sa.ID}).Warn("Failed to register scheduled audit")
			continue
		}
		logrus.WithFields(logrus.Fields{"schedule": sa.Name, "cron": sa.Cron, "timezone": sa.Timezone}).Info("Scheduled audit registered")
	}

	logrus.Infof("Audit scheduler started with %d enabled schedules", len(schedules))
	return nil
}

// Stop waits for running audits to return and stops the cron runner
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		logrus.Info("Audit scheduler stopped")
	}
}

// ListSchedules retrieves all scheduled audits
func (s *Service) ListSchedules() ([]ScheduleListResponse, error) {
	var schedules []models.ScheduledAudit
	if err := s.db.Order("created_at DESC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	responses := make([]ScheduleListResponse, len(schedules))
	for i := range schedules {
		responses[i] = toListResponse(&schedules[i])
	}
	return responses, nil
}

// UpsertSchedule creates or updates a scheduled audit by name and returns its ID
func (s *Service) UpsertSchedule(req UpsertScheduleRequest) (string, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.Cron) == "" {
		return "", fmt.Errorf("%w: name and cron are required", defi.ErrValidation)
	}

	normalized, err := normalizeCron(req.Cron)
	if err != nil {
		return "", fmt.Errorf("%w: %w", defi.ErrValidation, err)
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return "", fmt.Errorf("%w: unknown timezone %q", defi.ErrValidation, req.Timezone)
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = DefaultLookbackDays
	}

	// Wallet and chains must pass the same checks a real run would apply
	probe := auditRequest(req.WalletAddress, req.Chains, req.LookbackDays, s.now().In(loc))
	if err := probe.Validate(); err != nil {
		return "", err
	}

	var sa models.ScheduledAudit
	result := s.db.Where("name = ?", req.Name).First(&sa)
	isNew := errors.Is(result.Error, gorm.ErrRecordNotFound)
	if result.Error != nil && !isNew {
		return "", fmt.Errorf("failed to query schedule: %w", result.Error)
	}

	sa.Name = req.Name
	sa.WalletAddress = probe.WalletAddress
	sa.Chains = strings.Join(probe.Chains, ",")
	sa.Cron = normalized
	sa.Timezone = req.Timezone
	sa.LookbackDays = req.LookbackDays
	sa.Enabled = req.Enabled

	schedule, err := cronParser.Parse(cronSpec(&sa))
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(s.now())
	sa.NextRunAt = &nextRun

	if isNew {
		err = s.db.Create(&sa).Error
	} else {
		err = s.db.Save(&sa).Error
	}
	if err != nil {
		return "", fmt.Errorf("failed to save schedule: %w", err)
	}

	if err := s.reschedule(sa.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule audit: %w", err)
	}
	return sa.ID, nil
}

// DeleteSchedule removes a scheduled audit
func (s *Service) DeleteSchedule(id string) error {
	s.unregister(id)

	if err := s.db.Delete(&models.ScheduledAudit{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// register adds an enabled schedule to the cron runner, replacing any existing entry
func (s *Service) register(sa *models.ScheduledAudit) error {
	s.unregister(sa.ID)
	if !sa.Enabled {
		return nil
	}

	id := sa.ID
	entryID, err := s.cron.AddFunc(cronSpec(sa), func() {
		s.run(id)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	s.entriesMu.Lock()
	s.entries[id] = entryID
	s.entriesMu.Unlock()
	return nil
}

func (s *Service) unregister(id string) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	if entryID, exists := s.entries[id]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// reschedule reloads a schedule from the database and re-registers it
func (s *Service) reschedule(id string) error {
	var sa models.ScheduledAudit
	if err := s.db.First(&sa, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unregister(id)
			return nil
		}
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	return s.register(&sa)
}

// run creates one audit for a schedule firing and records the outcome
func (s *Service) run(id string) {
	log := logrus.WithField("schedule_id", id)

	var sa models.ScheduledAudit
	if err := s.db.First(&sa, "id = ?", id).Error; err != nil {
		log.WithError(err).Error("Failed to load scheduled audit")
		return
	}
	log = log.WithField("schedule", sa.Name)

	loc, err := time.LoadLocation(sa.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := s.now()
	updates := map[string]interface{}{"last_run_at": now}
	if schedule, err := cronParser.Parse(cronSpec(&sa)); err == nil {
		updates["next_run_at"] = schedule.Next(now)
	} else {
		log.WithError(err).Warn("Failed to parse cron for next run")
	}

	ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
	defer cancel()

	req := auditRequest(sa.WalletAddress, sa.ChainList(), sa.LookbackDays, now.In(loc))
	job, err := s.creator.CreateAudit(ctx, req)
	if err != nil {
		log.WithError(err).Error("Scheduled audit failed to start")
	} else {
		updates["last_job_id"] = job.ID
		log.WithFields(logrus.Fields{"job_id": job.ID, "start": req.StartDate, "end": req.EndDate}).Info("Scheduled audit started")
	}

	if err := s.db.Model(&models.ScheduledAudit{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.WithError(err).Warn("Failed to update schedule run times")
	}
}

// auditRequest builds the request for a run on the given local date
func auditRequest(wallet string, chains []string, lookbackDays int, at time.Time) defi.CreateRequest {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return defi.CreateRequest{
		WalletAddress: wallet,
		Chains:        chains,
		StartDate:     at.AddDate(0, 0, -lookbackDays).Format(defi.DateLayout),
		EndDate:       at.Format(defi.DateLayout),
	}.Normalize()
}

// cronSpec prefixes the stored expression with its timezone for the cron runner
func cronSpec(sa *models.ScheduledAudit) string {
	if sa.Timezone == "" {
		return sa.Cron
	}
	return fmt.Sprintf("CRON_TZ=%s %s", sa.Timezone, sa.Cron)
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow"
// 6-field: "second minute hour day month dow"
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		return cronExpr, nil
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		// Run at second 0 of the minute
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func toListResponse(sa *models.ScheduledAudit) ScheduleListResponse {
	resp := ScheduleListResponse{
		ID:            sa.ID,
		Name:          sa.Name,
		WalletAddress: sa.WalletAddress,
		Chains:        sa.ChainList(),
		Cron:          sa.Cron,
		Timezone:      sa.Timezone,
		LookbackDays:  sa.LookbackDays,
		Enabled:       sa.Enabled,
		LastJobID:     sa.LastJobID,
		CreatedAt:     sa.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     sa.UpdatedAt.Format(time.RFC3339),
	}

	if sa.LastRunAt != nil {
		lastRun := sa.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}
	if sa.NextRunAt != nil {
		nextRun := sa.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}
	return resp
}
