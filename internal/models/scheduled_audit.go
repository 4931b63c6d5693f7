package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduledAudit re-runs a wallet audit on a cron schedule
type ScheduledAudit struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"unique;not null" json:"name"`
	WalletAddress string     `gorm:"not null;column:wallet_address" json:"wallet_address"`
	Chains        string     `gorm:"not null" json:"chains"`  // comma-joined
	Cron          string     `gorm:"not null" json:"cron"`    // 6-field cron expression
	Timezone      string     `gorm:"default:UTC" json:"timezone"`
	LookbackDays  int        `gorm:"default:30;column:lookback_days" json:"lookback_days"` // audit window ending on the run date
	Enabled       bool       `gorm:"not null" json:"enabled"`
	LastRunAt     *time.Time `gorm:"column:last_run_at" json:"last_run_at"`
	NextRunAt     *time.Time `gorm:"column:next_run_at" json:"next_run_at"`
	LastJobID     string     `gorm:"column:last_job_id" json:"last_job_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (sa *ScheduledAudit) BeforeCreate(tx *gorm.DB) error {
	if sa.ID == "" {
		sa.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (ScheduledAudit) TableName() string {
	return "scheduled_audits"
}

// ChainList splits the stored chain set
func (sa ScheduledAudit) ChainList() []string {
	if sa.Chains == "" {
		return []string{}
	}
	return strings.Split(sa.Chains, ",")
}
