// Package keys holds the in-memory cryptographic key hierarchy: the
// process-wide local symmetric key, the asymmetric decryption capability, and
// the manager that resolves per-share and per-item keys by rotation.
package keys

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"

	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
)

// SymmetricKeyProvider supplies the process-wide symmetric key derived from
// the unlocked session. It is stable for the lifetime of an unlocked session;
// when unavailable every encrypt/decrypt call fails and the caller is
// expected to force re-authentication.
type SymmetricKeyProvider interface {
	SymmetricKey(ctx context.Context) ([]byte, error)
}

// SessionKeyProvider derives the local symmetric key once from the session
// secret and guards it in a memguard enclave.
type SessionKeyProvider struct {
	enclave *memguard.Enclave
}

// NewSessionKeyProvider derives the key with argon2id and seals it. The
// secret and salt slices are consumed.
func NewSessionKeyProvider(secret, salt []byte) *SessionKeyProvider {
	key := cryptox.DeriveSessionKey(secret, salt)
	memguard.WipeBytes(secret)
	memguard.WipeBytes(salt)
	return &SessionKeyProvider{enclave: memguard.NewEnclave(key)}
}

// SymmetricKey opens the enclave and returns a copy of the key bytes.
func (p *SessionKeyProvider) SymmetricKey(ctx context.Context) ([]byte, error) {
	if p.enclave == nil {
		return nil, common.ErrMissingSymmetricKey
	}
	buf, err := p.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
