package scheduler

import (
	"context"

	"defiaudit-desktop/internal/defi"
)

// DefaultLookbackDays is the audit window used when a schedule does not set one
const DefaultLookbackDays = 30

// Creator submits audit jobs on behalf of a schedule
type Creator interface {
	CreateAudit(ctx context.Context, req defi.CreateRequest) (*defi.Job, error)
}

// ScheduleListResponse represents a scheduled audit in list responses
type ScheduleListResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	WalletAddress string   `json:"wallet_address"`
	Chains        []string `json:"chains"`
	Cron          string   `json:"cron"`
	Timezone      string   `json:"timezone"`
	LookbackDays  int      `json:"lookback_days"`
	Enabled       bool     `json:"enabled"`
	LastRunAt     *string  `json:"last_run_at"` // ISO 8601 format
	NextRun       *string  `json:"next_run"`    // ISO 8601 format
	LastJobID     string   `json:"last_job_id"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// UpsertScheduleRequest represents a request to create or update a scheduled audit
type UpsertScheduleRequest struct {
	Name          string   `json:"name"`
	WalletAddress string   `json:"wallet_address"`
	Chains        []string `json:"chains"`
	Cron          string   `json:"cron"` // 5 or 6 fields
	Timezone      string   `json:"timezone"`
	LookbackDays  int      `json:"lookback_days"`
	Enabled       bool     `json:"enabled"`
}
