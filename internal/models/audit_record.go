package models

import (
	"strings"
	"time"
)

// AuditRecord is the local history entry for a server-side audit job
type AuditRecord struct {
	ID            string     `gorm:"primaryKey" json:"id"` // server job id
	WalletAddress string     `gorm:"not null;index;column:wallet_address" json:"wallet_address"`
	Chains        string     `gorm:"not null" json:"chains"` // comma-joined, declared order
	Status        string     `gorm:"not null;default:processing" json:"status"`
	StartDate     string     `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate       string     `gorm:"column:end_date" json:"end_date,omitempty"`
	LastCheckedAt *time.Time `gorm:"column:last_checked_at" json:"last_checked_at"`
	ReportEnc     string     `gorm:"type:text;column:report_enc" json:"-"` // encrypted report snapshot, never exposed
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (AuditRecord) TableName() string {
	return "audit_records"
}

// ChainList splits the stored chain set
func (r AuditRecord) ChainList() []string {
	if r.Chains == "" {
		return []string{}
	}
	return strings.Split(r.Chains, ",")
}

// HasSnapshot reports whether an encrypted report is stored
func (r AuditRecord) HasSnapshot() bool {
	return r.ReportEnc != ""
}
