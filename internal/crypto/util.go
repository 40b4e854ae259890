package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/essamgouda97/pdf-secure/internal/misc"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrOpen is returned by OpenX when the ciphertext does not authenticate.
var ErrOpen = errors.New("message authentication failed")

// SealX encrypts plaintext with XChaCha20-Poly1305 under a fresh random
// 192-bit nonce. Output layout: [24 bytes nonce][ciphertext + 16 bytes tag]
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+aead.Overhead())
	copy(out, nonce)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// OpenX reverses SealX. Any tag mismatch or truncated input yields ErrOpen.
func OpenX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(ciphertext) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrOpen, len(ciphertext))
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSizeX:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// DeriveSubKey expands the master key into an independent key for one purpose.
func DeriveSubKey(master []byte, info string) ([]byte, error) {
	sub := make([]byte, misc.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), sub); err != nil {
		return nil, fmt.Errorf("failed to derive %q key: %w", info, err)
	}
	return sub, nil
}

// DeriveKeyFromPassphrase turns a provisioning passphrase into a master key
// with Argon2id. The salt is part of the provisioning, not a secret.
func DeriveKeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	if len(salt) < misc.SaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", misc.SaltSize)
	}
	return argon2.IDKey(
		[]byte(passphrase),
		salt,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	), nil
}

// ParseKeyFile decodes the provisioning file format: 64 hex characters of key,
// optionally followed by the 48 hex characters of a legacy fixed nonce which
// is ignored since every object now carries its own nonce.
func ParseKeyFile(contents []byte) ([]byte, error) {
	text := make([]byte, 0, len(contents))
	for _, b := range contents {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		text = append(text, b)
	}

	const keyHex = misc.KeySize * 2
	if len(text) < keyHex {
		return nil, fmt.Errorf("key file too short: need %d hex characters, got %d", keyHex, len(text))
	}
	if rest := len(text) - keyHex; rest != 0 && rest != chacha20poly1305.NonceSizeX*2 {
		return nil, fmt.Errorf("key file has %d unexpected trailing characters", rest)
	}

	key := make([]byte, misc.KeySize)
	if _, err := hex.Decode(key, text[:keyHex]); err != nil {
		return nil, fmt.Errorf("key file is not valid hex: %w", err)
	}
	return key, nil
}

// GenerateKey returns a new random master key in provisioning-file encoding.
func GenerateKey() ([]byte, error) {
	key := make([]byte, misc.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	encoded := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(encoded, key)
	return append(encoded, '\n'), nil
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func IsWeakKey(key []byte) bool {
	if len(key) < misc.KeySize {
		return true
	}

	allSame := true
	for _, b := range key[1:] {
		if b != key[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Should have reasonable variety (at least 16 different byte values)
	uniqueBytes := make(map[byte]struct{})
	for _, b := range key {
		uniqueBytes[b] = struct{}{}
	}
	return len(uniqueBytes) < 16
}
