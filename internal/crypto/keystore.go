package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// keychainSlot names an OS keychain entry
type keychainSlot struct {
	service string
	user    string
}

// snapshotKeySlot holds the key that seals cached audit reports
var snapshotKeySlot = keychainSlot{service: "defiaudit-desktop", user: "report-snapshot-key"}

// loadOrCreate returns the key in the slot, generating and storing one on first use.
// created is true when the key did not exist before this call.
func (s keychainSlot) loadOrCreate() (key []byte, created bool, err error) {
	stored, err := keyring.Get(s.service, s.user)
	switch {
	case err == nil && stored != "":
		return DeriveKey(stored), false, nil
	case err != nil && !errors.Is(err, keyring.ErrNotFound):
		logrus.WithError(err).Warn("Keychain lookup failed, generating a new snapshot key")
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate snapshot key: %w", err)
	}

	if err := keyring.Set(s.service, s.user, base64.StdEncoding.EncodeToString(key)); err != nil {
		// Linux without a secret service: snapshots from this run are unreadable after a restart
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, false, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
		logrus.WithError(err).Warn("Snapshot key not persisted, cached reports will not survive a restart")
	}
	return key, true, nil
}
