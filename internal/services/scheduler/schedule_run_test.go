package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/models"
)

const testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

// mockCreator records scheduled audit submissions
type mockCreator struct {
	mu       sync.Mutex
	requests []defi.CreateRequest
	jobID    string
	err      error
}

func (m *mockCreator) CreateAudit(ctx context.Context, req defi.CreateRequest) (*defi.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &defi.Job{ID: m.jobID, Status: defi.StatusProcessing, Chains: req.Chains}, nil
}

func newTestService(t *testing.T, creator Creator) *Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScheduledAudit{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	s := NewService(db, context.Background(), creator)
	s.now = func() time.Time { return time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC) }
	return s
}

func TestUpsertSchedule(t *testing.T) {
	s := newTestService(t, &mockCreator{jobID: "job-1"})

	id, err := s.UpsertSchedule(UpsertScheduleRequest{
		Name:          "Weekly treasury",
		WalletAddress: "  " + testWallet + " ",
		Chains:        []string{"ethereum", " polygon", "Ethereum", ""},
		Cron:          "0 2 * * 1",
		Enabled:       true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list, err := s.ListSchedules()
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, testWallet, got.WalletAddress)
	assert.Equal(t, []string{"ethereum", "polygon"}, got.Chains)
	assert.Equal(t, "0 0 2 * * 1", got.Cron)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Equal(t, DefaultLookbackDays, got.LookbackDays)
	require.NotNil(t, got.NextRun)
	assert.Equal(t, "2025-03-17T02:00:00Z", *got.NextRun)

	s.entriesMu.RLock()
	_, registered := s.entries[id]
	s.entriesMu.RUnlock()
	assert.True(t, registered)

	t.Run("Should update an existing schedule by name", func(t *testing.T) {
		again, err := s.UpsertSchedule(UpsertScheduleRequest{
			Name:          "Weekly treasury",
			WalletAddress: testWallet,
			Chains:        []string{"arbitrum"},
			Cron:          "0 0 3 * * *",
			LookbackDays:  7,
			Enabled:       false,
		})
		require.NoError(t, err)
		assert.Equal(t, id, again)

		list, err := s.ListSchedules()
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, []string{"arbitrum"}, list[0].Chains)
		assert.Equal(t, 7, list[0].LookbackDays)
		assert.False(t, list[0].Enabled)

		s.entriesMu.RLock()
		_, registered := s.entries[id]
		s.entriesMu.RUnlock()
		assert.False(t, registered, "disabled schedules are not registered")
	})
}

func TestUpsertScheduleCronForms(t *testing.T) {
	// Fixed clock: Saturday 2025-03-15 20:00 UTC
	tests := []struct {
		name     string
		cron     string
		timezone string
		stored   string
		nextRun  time.Time
	}{
		{
			name:    "five fields run at second zero",
			cron:    "30 6 * * *",
			stored:  "0 30 6 * * *",
			nextRun: time.Date(2025, 3, 16, 6, 30, 0, 0, time.UTC),
		},
		{
			name:    "six fields are kept as given",
			cron:    "15 0 7 * * 1-5",
			stored:  "15 0 7 * * 1-5",
			nextRun: time.Date(2025, 3, 17, 7, 0, 15, 0, time.UTC),
		},
		{
			name:    "surrounding whitespace is trimmed",
			cron:    "  */10 * * * *  ",
			stored:  "0 */10 * * * *",
			nextRun: time.Date(2025, 3, 15, 20, 10, 0, 0, time.UTC),
		},
		{
			name:     "timezone shifts the next run",
			cron:     "0 9 * * *",
			timezone: "Asia/Tokyo",
			stored:   "0 0 9 * * *",
			// 05:00 on the 16th in Tokyo, so 09:00 JST the same day
			nextRun: time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, &mockCreator{})

			id, err := s.UpsertSchedule(UpsertScheduleRequest{
				Name:          "cadence",
				WalletAddress: testWallet,
				Chains:        []string{"ethereum"},
				Cron:          tt.cron,
				Timezone:      tt.timezone,
				Enabled:       true,
			})
			require.NoError(t, err)

			var sa models.ScheduledAudit
			require.NoError(t, s.db.First(&sa, "id = ?", id).Error)
			assert.Equal(t, tt.stored, sa.Cron)
			require.NotNil(t, sa.NextRunAt)
			assert.True(t, tt.nextRun.Equal(*sa.NextRunAt), "next run %s, want %s", sa.NextRunAt, tt.nextRun)

			_, err = cronParser.Parse(cronSpec(&sa))
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeCron(t *testing.T) {
	t.Run("Should reject malformed expressions", func(t *testing.T) {
		for _, expr := range []string{"", "* * *", "60 * * * *", "0 0 25 * * *", "@every 5m"} {
			_, err := normalizeCron(expr)
			require.Error(t, err, expr)
			assert.Contains(t, err.Error(), "invalid cron expression", expr)
		}
	})
}

func TestUpsertScheduleValidation(t *testing.T) {
	s := newTestService(t, &mockCreator{})

	tests := []struct {
		name string
		req  UpsertScheduleRequest
	}{
		{"missing name", UpsertScheduleRequest{WalletAddress: testWallet, Chains: []string{"ethereum"}, Cron: "0 2 * * *"}},
		{"missing cron", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{"ethereum"}}},
		{"bad cron", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{"ethereum"}, Cron: "0 2 * *"}},
		{"bad timezone", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{"ethereum"}, Cron: "0 2 * * *", Timezone: "Mars/Olympus"}},
		{"bad wallet", UpsertScheduleRequest{Name: "a", WalletAddress: "0x1234", Chains: []string{"ethereum"}, Cron: "0 2 * * *"}},
		{"no chains", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{" "}, Cron: "0 2 * * *"}},
		{"out of range seconds", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{"ethereum"}, Cron: "61 0 2 * * *"}},
		{"seven fields", UpsertScheduleRequest{Name: "a", WalletAddress: testWallet, Chains: []string{"ethereum"}, Cron: "0 0 2 * * * 2025"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpsertSchedule(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, defi.ErrValidation)
		})
	}

	list, err := s.ListSchedules()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestScheduledRun(t *testing.T) {
	creator := &mockCreator{jobID: "job-42"}
	s := newTestService(t, creator)

	id, err := s.UpsertSchedule(UpsertScheduleRequest{
		Name:          "Tokyo desk",
		WalletAddress: testWallet,
		Chains:        []string{"ethereum"},
		Cron:          "0 9 * * *",
		Timezone:      "Asia/Tokyo",
		LookbackDays:  14,
		Enabled:       true,
	})
	require.NoError(t, err)

	s.run(id)

	require.Len(t, creator.requests, 1)
	req := creator.requests[0]
	// 20:00 UTC on the 15th is already the 16th in Tokyo
	assert.Equal(t, "2025-03-16", req.EndDate)
	assert.Equal(t, "2025-03-02", req.StartDate)
	assert.Equal(t, []string{"ethereum"}, req.Chains)
	assert.Equal(t, testWallet, req.WalletAddress)

	list, err := s.ListSchedules()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "job-42", list[0].LastJobID)
	assert.NotNil(t, list[0].LastRunAt)

	t.Run("Should keep the previous job id when creation fails", func(t *testing.T) {
		creator.err = errors.New("boom")
		s.run(id)

		list, err := s.ListSchedules()
		require.NoError(t, err)
		assert.Equal(t, "job-42", list[0].LastJobID)
		assert.Len(t, creator.requests, 2)
	})
}

func TestDeleteSchedule(t *testing.T) {
	s := newTestService(t, &mockCreator{})

	id, err := s.UpsertSchedule(UpsertScheduleRequest{
		Name:          "Daily",
		WalletAddress: testWallet,
		Chains:        []string{"base"},
		Cron:          "0 1 * * *",
		Enabled:       true,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSchedule(id))

	list, err := s.ListSchedules()
	require.NoError(t, err)
	assert.Empty(t, list)

	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()
	assert.Empty(t, s.entries)
}

func TestCronSpec(t *testing.T) {
	assert.Equal(t, "0 0 2 * * *", cronSpec(&models.ScheduledAudit{Cron: "0 0 2 * * *"}))
	assert.Equal(t, "CRON_TZ=Europe/Berlin 0 0 2 * * *", cronSpec(&models.ScheduledAudit{Cron: "0 0 2 * * *", Timezone: "Europe/Berlin"}))

	_, err := cronParser.Parse(cronSpec(&models.ScheduledAudit{Cron: "0 0 2 * * *", Timezone: "Europe/Berlin"}))
	assert.NoError(t, err)
}

func TestAuditRequestWindow(t *testing.T) {
	at := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	req := auditRequest(testWallet, []string{"ethereum"}, 0, at)
	assert.Equal(t, "2024-12-11", req.StartDate)
	assert.Equal(t, "2025-01-10", req.EndDate)
	assert.NoError(t, req.Validate())
}
