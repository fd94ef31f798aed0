// Package cryptox implements the authenticated symmetric encryption used to
// wrap locally cached secrets, plus key derivation helpers.
//
// All payloads are sealed with AES-256-GCM. The wire layout is the 12-byte
// nonce followed by the ciphertext, so any valid payload is strictly longer
// than NonceSize bytes. Every content class carries its own associated-data
// tag to prevent ciphertext reuse across unrelated payload kinds (item
// content vs. vault content vs. item keys vs. file data).
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"passvault.dev/passvault/internal/common"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// KeySize is the symmetric key length in bytes (AES-256).
const KeySize = 32

// AssociatedData is a domain-separation tag mixed into authenticated
// encryption.
type AssociatedData string

const (
	ADItemContent  AssociatedData = "itemcontent"
	ADItemKey      AssociatedData = "itemkey"
	ADVaultContent AssociatedData = "vaultcontent"
	ADShareKey     AssociatedData = "sharekey"
	ADFileData     AssociatedData = "filedata"
)

func (a AssociatedData) bytes() []byte {
	return []byte("passvault;v1;" + string(a))
}

// Seal encrypts plaintext with key under the given associated-data tag and
// returns nonce||ciphertext. A fresh random nonce is generated per call.
func Seal(key, plaintext []byte, ad AssociatedData) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, ad.bytes()), nil
}

// Open decrypts a nonce||ciphertext payload produced by Seal. Payloads not
// longer than the nonce cannot contain any data and fail with
// common.ErrCiphertextTooShort.
func Open(key, data []byte, ad AssociatedData) ([]byte, error) {
	if len(data) <= NonceSize {
		return nil, common.ErrCiphertextTooShort
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], ad.bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return aead, nil
}

// DeriveSessionKey derives the process-wide local symmetric key from the
// unlocked session secret. Argon2id parameters match the profile used for
// on-device key derivation.
func DeriveSessionKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
