// Package envelope implements the transport contract between the authnzerver
// and its callers: JSON envelopes encrypted with AES-256-GCM under a
// pre-shared key and carried as base64 blobs. Decryption fails closed on any
// tamper.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeySize is the required pre-shared key length (AES-256).
const KeySize = 32

// ErrDecryptFailed covers every decryption failure: wrong key, truncated
// blob, bad base64, or tampered ciphertext. Callers get no further detail.
var ErrDecryptFailed = errors.New("envelope decryption failed")

// Request is the post-decryption request envelope.
type Request struct {
	ReqID   int64           `json:"reqid"`
	Request string          `json:"request"`
	Body    json.RawMessage `json:"body"`
}

// Response is the uniform response envelope.
type Response struct {
	Success  bool     `json:"success"`
	ReqID    int64    `json:"reqid"`
	Response any      `json:"response"`
	Messages []string `json:"message"`
}

// Encrypt serializes v to JSON, encrypts it with AES-256-GCM under key using
// a fresh random nonce, and returns base64(nonce || ciphertext).
func Encrypt(v any, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("envelope key must be %d bytes", KeySize)
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt into v. Any failure is reported as
// ErrDecryptFailed with no distinguishing detail.
func Decrypt(blob string, key []byte, v any) error {
	if len(key) != KeySize {
		return ErrDecryptFailed
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return ErrDecryptFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return ErrDecryptFailed
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return ErrDecryptFailed
	}

	if len(raw) < aesgcm.NonceSize() {
		return ErrDecryptFailed
	}
	nonce, ciphertext := raw[:aesgcm.NonceSize()], raw[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptFailed
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryptFailed
	}
	return nil
}

// GenerateKey returns a fresh random pre-shared key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeyFile reads a base64-encoded pre-shared key from path, refusing
// key files with group/other permission bits set.
func LoadKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("secret file %s is readable by group/other", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("secret file %s is not valid base64: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret file %s must decode to %d bytes", path, KeySize)
	}
	return key, nil
}

// WriteKeyFile writes a base64-encoded key to path with owner-only
// permissions.
func WriteKeyFile(path string, key []byte) error {
	encoded := base64.StdEncoding.EncodeToString(key)
	return os.WriteFile(path, []byte(encoded+"\n"), 0o600)
}
