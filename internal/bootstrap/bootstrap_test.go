package bootstrap

import (
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defiaudit-desktop/internal/config"
	"defiaudit-desktop/internal/crypto"
	"defiaudit-desktop/internal/defi"
)

func TestNew(t *testing.T) {
	t.Setenv(crypto.KeyEnv, base64.StdEncoding.EncodeToString(make([]byte, 32)))

	cfg := &config.Config{
		APIBaseURL:      "https://api.example.test",
		RequestTimeout:  time.Second,
		DatabaseURL:     "sqlite://" + filepath.Join(t.TempDir(), "stack.db"),
		LogLevel:        "warn",
		ReportCacheSize: 4,
	}

	stack, err := New(cfg)
	require.NoError(t, err)
	defer stack.Close()

	assert.NotNil(t, stack.Client)
	assert.NotNil(t, stack.API)

	job := &defi.Job{ID: "job-1", Status: defi.StatusProcessing, Chains: []string{"ethereum"}}
	require.NoError(t, stack.History.Record(job, "0xabc"))

	report := &defi.Report{Job: *job}
	report.Status = defi.StatusCompleted
	require.NoError(t, stack.History.SaveReport(report))

	loaded, err := stack.History.LoadReport("job-1")
	require.NoError(t, err)
	assert.Equal(t, defi.StatusCompleted, loaded.Status)
}
