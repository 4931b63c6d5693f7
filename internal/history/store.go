// Package history keeps a local record of audits created from this device,
// with an encrypted copy of each completed report for offline viewing.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"defiaudit-desktop/internal/crypto"
	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/models"
)

// ErrNoSnapshot is returned when no completed report is stored for an id
var ErrNoSnapshot = errors.New("no stored report snapshot")

// Store persists audit records with gorm
type Store struct {
	db     *gorm.DB
	sealer *crypto.Sealer
	now    func() time.Time
}

// NewStore creates a store; sealer may be nil, in which case snapshots are not kept
func NewStore(db *gorm.DB, sealer *crypto.Sealer) *Store {
	return &Store{db: db, sealer: sealer, now: time.Now}
}

// Record inserts or refreshes the history entry for a newly created job
func (s *Store) Record(job *defi.Job, wallet string) error {
	record := models.AuditRecord{
		ID:            job.ID,
		WalletAddress: wallet,
		Chains:        strings.Join(job.Chains, ","),
		Status:        string(job.Status),
		StartDate:     job.Period.Start,
		EndDate:       job.Period.End,
	}
	if !job.CreatedAt.IsZero() {
		record.CreatedAt = job.CreatedAt
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wallet_address", "chains", "start_date", "end_date", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to record audit %s: %w", job.ID, err)
	}
	return nil
}

// UpdateStatus stores an observed status. A terminal status is never overwritten by processing.
func (s *Store) UpdateStatus(id string, status defi.Status) error {
	now := s.now()
	query := s.db.Model(&models.AuditRecord{}).Where("id = ?", id)
	if !status.Terminal() {
		query = query.Where("status NOT IN ?", []string{string(defi.StatusCompleted), string(defi.StatusFailed)})
	}

	if err := query.Updates(map[string]interface{}{
		"status":          string(status),
		"last_checked_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to update audit %s: %w", id, err)
	}
	return nil
}

// SaveReport records the report's status and, for completed reports, an encrypted snapshot
func (s *Store) SaveReport(report *defi.Report) error {
	if err := s.UpdateStatus(report.ID, report.Status); err != nil {
		return err
	}
	if report.Status != defi.StatusCompleted || s.sealer == nil {
		return nil
	}

	sealed, err := s.sealer.SealJSON(report)
	if err != nil {
		return fmt.Errorf("failed to seal report %s: %w", report.ID, err)
	}
	if err := s.db.Model(&models.AuditRecord{}).Where("id = ?", report.ID).Update("report_enc", sealed).Error; err != nil {
		return fmt.Errorf("failed to store report %s: %w", report.ID, err)
	}
	return nil
}

// LoadReport returns the stored snapshot for id
func (s *Store) LoadReport(id string) (*defi.Report, error) {
	record, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !record.HasSnapshot() || s.sealer == nil {
		return nil, ErrNoSnapshot
	}

	var report defi.Report
	if err := s.sealer.OpenJSON(record.ReportEnc, &report); err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", id, err)
	}
	return &report, nil
}

// Get returns a single record
func (s *Store) Get(id string) (*models.AuditRecord, error) {
	var record models.AuditRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", defi.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load audit %s: %w", id, err)
	}
	return &record, nil
}

// List returns the most recent records, newest first
func (s *Store) List(limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []models.AuditRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	return records, nil
}

// Delete removes the record and its snapshot
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(&models.AuditRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete audit %s: %w", id, err)
	}
	return nil
}
