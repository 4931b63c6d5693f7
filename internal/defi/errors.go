package defi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Error kinds returned by the audit client. Every error the client returns wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("audit not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransient    = errors.New("transient fetch error")
	ErrExportFailed = errors.New("export failed")
)

// IsTerminalError reports whether err makes further polling of the same job pointless
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrValidation)
}

// DateLayout is the wire format of audit period dates
const DateLayout = "2006-01-02"

// Validate checks a creation request before any network call
func (r CreateRequest) Validate() error {
	if r.WalletAddress == "" {
		return fmt.Errorf("%w: wallet address is required", ErrValidation)
	}
	if strings.HasPrefix(strings.ToLower(r.WalletAddress), "0x") && !common.IsHexAddress(r.WalletAddress) {
		return fmt.Errorf("%w: invalid EVM wallet address %q", ErrValidation, r.WalletAddress)
	}
	if len(r.Chains) == 0 {
		return fmt.Errorf("%w: at least one chain must be selected", ErrValidation)
	}

	var start, end time.Time
	var err error
	if r.StartDate != "" {
		if start, err = time.Parse(DateLayout, r.StartDate); err != nil {
			return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrValidation)
		}
	}
	if r.EndDate != "" {
		if end, err = time.Parse(DateLayout, r.EndDate); err != nil {
			return fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrValidation)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}
	return nil
}
