package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealer, err := NewSealer(key)
	require.NoError(t, err)
	return sealer
}

func TestEncryptDecrypt(t *testing.T) {
	sealer := newTestSealer(t)

	t.Run("Should encrypt and decrypt successfully", func(t *testing.T) {
		encrypted, err := sealer.Encrypt([]byte("0xabc wallet report"))
		require.NoError(t, err)
		assert.NotEmpty(t, encrypted)

		decrypted, err := sealer.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "0xabc wallet report", string(decrypted))
	})

	t.Run("Should produce different ciphertexts for same plaintext", func(t *testing.T) {
		encrypted1, err := sealer.Encrypt([]byte("same"))
		require.NoError(t, err)
		encrypted2, err := sealer.Encrypt([]byte("same"))
		require.NoError(t, err)

		assert.NotEqual(t, encrypted1, encrypted2)
	})

	t.Run("Should fail gracefully with invalid ciphertext", func(t *testing.T) {
		_, err := sealer.Decrypt("invalid-base64-data!!!")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode base64")
	})

	t.Run("Should fail with ciphertext too short", func(t *testing.T) {
		_, err := sealer.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("Should fail to decrypt with a different key", func(t *testing.T) {
		encrypted, err := sealer.Encrypt([]byte("secret"))
		require.NoError(t, err)

		_, err = newTestSealer(t).Decrypt(encrypted)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decrypt")
	})
}

func TestSealJSON(t *testing.T) {
	sealer := newTestSealer(t)

	type snapshot struct {
		ID     string  `json:"id"`
		Volume float64 `json:"volume"`
	}

	sealed, err := sealer.SealJSON(snapshot{ID: "job-1", Volume: 1000})
	require.NoError(t, err)

	var out snapshot
	require.NoError(t, sealer.OpenJSON(sealed, &out))
	assert.Equal(t, snapshot{ID: "job-1", Volume: 1000}, out)
}

func TestNewSealer(t *testing.T) {
	t.Run("Should reject keys that are not 32 bytes", func(t *testing.T) {
		_, err := NewSealer([]byte("too-short"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be 32 bytes")
	})
}

func TestDeriveKey(t *testing.T) {
	t.Run("Should use a 32-byte base64 key as-is", func(t *testing.T) {
		raw := make([]byte, 32)
		_, err := rand.Read(raw)
		require.NoError(t, err)

		assert.Equal(t, raw, DeriveKey(base64.StdEncoding.EncodeToString(raw)))
	})

	t.Run("Should hash arbitrary strings to 32 bytes", func(t *testing.T) {
		key := DeriveKey("not base64 at all!")
		assert.Len(t, key, 32)
		assert.Equal(t, key, DeriveKey("not base64 at all!"))
	})
}

func TestLoadKey(t *testing.T) {
	t.Run("Should prefer the environment variable", func(t *testing.T) {
		t.Setenv(KeyEnv, "dev-key")
		key, err := LoadKey()
		require.NoError(t, err)
		assert.Equal(t, DeriveKey("dev-key"), key)
	})
}

func (s keychainSlot) stored() bool {
	_, err := keyring.Get(s.service, s.user)
	return err == nil
}

func (s keychainSlot) forget() error {
	err := keyring.Delete(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func TestKeychainSlot(t *testing.T) {
	keyring.MockInit()
	slot := keychainSlot{service: "defiaudit-desktop-test", user: "snapshot"}

	t.Run("Should generate, store and reload the same key", func(t *testing.T) {
		assert.False(t, slot.stored())

		first, created, err := slot.loadOrCreate()
		require.NoError(t, err)
		assert.True(t, created)
		assert.Len(t, first, 32)
		assert.True(t, slot.stored())

		second, created, err := slot.loadOrCreate()
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)
	})

	t.Run("Should forget the key", func(t *testing.T) {
		require.NoError(t, slot.forget())
		assert.False(t, slot.stored())
		assert.NoError(t, slot.forget(), "forgetting twice is not an error")
	})

	t.Run("Should fall back to the keychain without the env override", func(t *testing.T) {
		t.Setenv(KeyEnv, "")
		defer snapshotKeySlot.forget()

		key, err := LoadKey()
		require.NoError(t, err)
		again, err := LoadKey()
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})
}
