package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// KeyEnv overrides the keychain-held key (development/testing)
const KeyEnv = "ENCRYPTION_KEY"

// Sealer encrypts report snapshots at rest with AES-256-GCM
type Sealer struct {
	gcm cipher.AEAD
}

// LoadKey resolves the snapshot key: ENCRYPTION_KEY if set, otherwise the OS
// keychain, which is seeded with a random key on first launch.
func LoadKey() ([]byte, error) {
	if keyString := os.Getenv(KeyEnv); keyString != "" {
		return DeriveKey(keyString), nil
	}

	key, created, err := snapshotKeySlot.loadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}
	if created {
		logrus.Info("Generated a new report snapshot key")
	}
	return key, nil
}

// DeriveKey turns an operator-supplied string into a 32-byte key.
// A base64 string decoding to 32 bytes is used as-is; anything else is hashed.
func DeriveKey(keyString string) []byte {
	keyBytes, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		hash := sha256.Sum256([]byte(keyString))
		return hash[:]
	}
	if len(keyBytes) != 32 {
		hash := sha256.Sum256(keyBytes)
		return hash[:]
	}
	return keyBytes
}

// NewSealer creates a sealer for a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext)
func (s *Sealer) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func (s *Sealer) Decrypt(ciphertextB64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// SealJSON marshals v and encrypts the result
func (s *Sealer) SealJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return s.Encrypt(data)
}

// OpenJSON decrypts and unmarshals into v
func (s *Sealer) OpenJSON(ciphertextB64 string, v interface{}) error {
	data, err := s.Decrypt(ciphertextB64)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}
