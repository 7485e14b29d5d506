package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"studychat/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// keyDerivationSalt is fixed so the same secret always yields the same
// key; the archive must stay readable across restarts.
const keyDerivationSalt = "studychat-store-v1"

// encryptor provides optional at-rest encryption for archive fields.
// When no secret is configured, all operations are pass-through.
type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor() (*encryptor, error) {
	secret := os.Getenv(constants.StoreSecretEnvVar)
	if secret == "" {
		return &encryptor{gcm: nil}, nil
	}

	key := pbkdf2.Key([]byte(secret), []byte(keyDerivationSalt),
		constants.PBKDF2Iterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// EncryptIfEnabled seals a value with a random nonce prepended to the
// ciphertext, base64-encoded for TEXT column storage.
func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptIfEnabled reverses EncryptIfEnabled.
func (e *encryptor) DecryptIfEnabled(value string) (string, error) {
	if value == "" || e.gcm == nil {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("failed to decode stored value: %w", err)
	}
	if len(raw) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("stored value too short")
	}

	nonce := raw[:constants.EncryptionNonceSize]
	plaintext, err := e.gcm.Open(nil, nonce, raw[constants.EncryptionNonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt stored value: %w", err)
	}
	return string(plaintext), nil
}
