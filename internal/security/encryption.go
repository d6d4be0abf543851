package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters, OWASP recommended minimums for AES-256 key derivation.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	nonceSize    = 12
	saltSize     = 32
)

// payloadVersion guards the on-disk envelope format.
const payloadVersion = 1

// encryptedPayload is the envelope written to disk around an encrypted
// license record.
type encryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encrypt seals plaintext with AES-256-GCM under a key derived from the
// secret via scrypt with a fresh random salt.
func Encrypt(plaintext, secret []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(secret) < 16 {
		return nil, errors.New("encryption secret must be at least 16 bytes")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := deriveGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	payload := encryptedPayload{
		Version:    payloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}

	return json.Marshal(payload)
}

// Decrypt opens an envelope produced by Encrypt. Tampered or truncated data
// fails authentication and returns an error.
func Decrypt(data, secret []byte) ([]byte, error) {
	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid encrypted payload: %w", err)
	}

	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", payload.Version)
	}
	if len(payload.Nonce) != nonceSize {
		return nil, errors.New("invalid nonce length")
	}

	gcm, err := deriveGCM(secret, payload.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// deriveGCM builds the AEAD from the secret and salt.
func deriveGCM(secret, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
