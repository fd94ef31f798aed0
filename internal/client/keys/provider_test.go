package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passvault.dev/passvault/internal/cryptox"
)

func TestSessionKeyProvider(t *testing.T) {
	ctx := context.Background()

	secret := []byte("correct horse battery staple")
	salt := []byte("0123456789abcdef")

	want := cryptox.DeriveSessionKey([]byte("correct horse battery staple"), salt)

	p := NewSessionKeyProvider(secret, salt)

	got, err := p.SymmetricKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, 32)

	// Both input buffers are wiped after derivation.
	assert.NotEqual(t, []byte("correct horse battery staple"), secret)
	assert.NotEqual(t, []byte("0123456789abcdef"), salt)

	// Repeated opens return the same key.
	again, err := p.SymmetricKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestSessionKeyProvider_Empty(t *testing.T) {
	p := &SessionKeyProvider{}
	_, err := p.SymmetricKey(context.Background())
	assert.Error(t, err)
}
