package defi

import (
	"strings"
	"time"
)

// Status is the server-reported lifecycle state of an audit job
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can occur
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExportFormat selects the export artifact type
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// Period bounds the scanned range of a job
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Job is the server-owned unit of work, observed but never mutated by the client
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Period    Period    `json:"period"`
	Chains    []string  `json:"chains"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error,omitempty"`
}

// Summary holds report-wide totals
type Summary struct {
	TotalTransactions int     `json:"total_transactions"`
	TotalVolumeUSD    float64 `json:"total_volume_usd"`
	TotalGainsUSD     float64 `json:"total_gains_usd"`
	TotalLossesUSD    float64 `json:"total_losses_usd"`
	TotalFeesUSD      float64 `json:"total_fees_usd"`
	NetGainLossUSD    float64 `json:"net_gain_loss_usd"`
	ShortTermGainsUSD float64 `json:"short_term_gains_usd"`
	LongTermGainsUSD  float64 `json:"long_term_gains_usd"`
	OrdinaryIncomeUSD float64 `json:"ordinary_income_usd"`
}

// ProtocolUsage is the per-protocol activity reported by the server
type ProtocolUsage struct {
	Transactions int     `json:"transactions"`
	VolumeUSD    float64 `json:"volume_usd"`
}

// Transaction is a single classified on-chain transaction
type Transaction struct {
	Hash        string    `json:"hash"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"` // swap, stake, lp_add, ...
	Protocol    string    `json:"protocol"`
	Chain       string    `json:"chain"`
	ValueUSD    float64   `json:"value_usd"`
	GainLossUSD float64   `json:"gain_loss_usd"`
	FeeUSD      float64   `json:"fee_usd"`
	TokenIn     string    `json:"token_in,omitempty"`
	AmountIn    *float64  `json:"amount_in,omitempty"`
	TokenOut    string    `json:"token_out,omitempty"`
	AmountOut   *float64  `json:"amount_out,omitempty"`
}

// hasInLeg reports whether the transaction carries an inbound token leg
func (t Transaction) hasInLeg() bool {
	return t.TokenIn != "" && t.AmountIn != nil
}

// hasOutLeg reports whether the transaction carries an outbound token leg
func (t Transaction) hasOutLeg() bool {
	return t.TokenOut != "" && t.AmountOut != nil
}

// Report is a Job plus the computed results, populated once completed.
// Transactions may be empty even for a completed job.
type Report struct {
	Job
	Summary       Summary                  `json:"summary"`
	ProtocolsUsed map[string]ProtocolUsage `json:"protocols_used,omitempty"`
	Transactions  []Transaction            `json:"transactions,omitempty"`
}

// CreateRequest is the job creation payload
type CreateRequest struct {
	WalletAddress string   `json:"wallet_address"`
	Chains        []string `json:"chains"`
	StartDate     string   `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate       string   `json:"end_date,omitempty"`   // YYYY-MM-DD
}

// Normalize trims whitespace and drops blank or duplicate chain identifiers
func (r CreateRequest) Normalize() CreateRequest {
	out := CreateRequest{
		WalletAddress: strings.TrimSpace(r.WalletAddress),
		StartDate:     strings.TrimSpace(r.StartDate),
		EndDate:       strings.TrimSpace(r.EndDate),
	}
	seen := make(map[string]bool, len(r.Chains))
	for _, c := range r.Chains {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Chains = append(out.Chains, c)
	}
	return out
}

// Artifact is an opaque export payload
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}
