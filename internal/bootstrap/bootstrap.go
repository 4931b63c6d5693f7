// Package bootstrap wires the shared client stack used by the desktop shell and auditctl.
package bootstrap

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"defiaudit-desktop/internal/api"
	"defiaudit-desktop/internal/config"
	"defiaudit-desktop/internal/crypto"
	"defiaudit-desktop/internal/database"
	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/history"
)

// Stack holds the initialized components
type Stack struct {
	Config  *config.Config
	DB      *gorm.DB
	API     *api.Client
	Client  *defi.Client
	History *history.Store
}

// New opens the database, resolves the snapshot key and builds the audit client.
// A missing encryption key disables report snapshots but is not fatal.
func New(cfg *config.Config) (*Stack, error) {
	db, err := database.Init(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var sealer *crypto.Sealer
	if key, err := crypto.LoadKey(); err != nil {
		logrus.WithError(err).Warn("Report snapshots disabled: no encryption key available")
	} else if sealer, err = crypto.NewSealer(key); err != nil {
		logrus.WithError(err).Warn("Report snapshots disabled: invalid encryption key")
		sealer = nil
	}

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.RequestTimeout)

	logrus.WithFields(logrus.Fields{
		"api":       cfg.APIBaseURL,
		"timeout":   cfg.RequestTimeout,
		"snapshots": sealer != nil,
	}).Info("Audit client initialized")

	return &Stack{
		Config:  cfg,
		DB:      db,
		API:     apiClient,
		Client:  defi.NewClient(apiClient, cfg.ReportCacheSize),
		History: history.NewStore(db, sealer),
	}, nil
}

// Close releases the database connection
func (s *Stack) Close() error {
	return database.Close()
}
