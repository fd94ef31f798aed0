package keys

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

type fixedKeyProvider struct {
	key []byte
}

func (p *fixedKeyProvider) SymmetricKey(ctx context.Context) ([]byte, error) {
	return p.key, nil
}

type fakeShareKeySource struct {
	keys  []models.SymmetricallyEncryptedShareKey
	calls int
}

func (f *fakeShareKeySource) GetKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error) {
	f.calls++
	return f.keys, nil
}

type fakeItemKeyRemote struct {
	latest models.ItemKey
	all    []models.ItemKey
}

func (f *fakeItemKeyRemote) GetLatestItemKey(ctx context.Context, userID, shareID, itemID string) (models.ItemKey, error) {
	return f.latest, nil
}

func (f *fakeItemKeyRemote) GetItemKeys(ctx context.Context, userID, shareID, itemID string) ([]models.ItemKey, error) {
	return f.all, nil
}

func sealShareKey(t *testing.T, symKey, raw []byte, shareID string, rotation int64) models.SymmetricallyEncryptedShareKey {
	t.Helper()
	encrypted, err := cryptox.Seal(symKey, []byte(base64.StdEncoding.EncodeToString(raw)), cryptox.ADShareKey)
	require.NoError(t, err)
	return models.SymmetricallyEncryptedShareKey{
		UserID:       "user1",
		ShareID:      shareID,
		KeyRotation:  rotation,
		EncryptedKey: encrypted,
	}
}

func newTestKeys(t *testing.T) (symKey []byte) {
	t.Helper()
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	return symKey
}

func TestManager_ShareKey_DecryptsAndCaches(t *testing.T) {
	ctx := context.Background()
	symKey := newTestKeys(t)
	raw, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	source := &fakeShareKeySource{keys: []models.SymmetricallyEncryptedShareKey{
		sealShareKey(t, symKey, raw, "share1", 1),
	}}
	m := NewManager(source, nil, &fixedKeyProvider{key: symKey}, logging.Discard())

	key, err := m.ShareKey(ctx, "user1", "share1", 1)
	require.NoError(t, err)
	assert.Equal(t, raw, key.Key)
	assert.Equal(t, int64(1), key.KeyRotation)

	// Second resolution is served from the enclave cache.
	key2, err := m.ShareKey(ctx, "user1", "share1", 1)
	require.NoError(t, err)
	assert.Equal(t, raw, key2.Key)
	assert.Equal(t, 1, source.calls)
}

func TestManager_ShareKey_UnknownRotation(t *testing.T) {
	ctx := context.Background()
	symKey := newTestKeys(t)
	raw, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	source := &fakeShareKeySource{keys: []models.SymmetricallyEncryptedShareKey{
		sealShareKey(t, symKey, raw, "share1", 1),
	}}
	m := NewManager(source, nil, &fixedKeyProvider{key: symKey}, logging.Discard())

	_, err = m.ShareKey(ctx, "user1", "share1", 9)
	assert.ErrorIs(t, err, common.ErrKeysNotFound)
}

func TestManager_LatestShareKey_PicksHighestRotation(t *testing.T) {
	ctx := context.Background()
	symKey := newTestKeys(t)
	raw1, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	raw3, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	source := &fakeShareKeySource{keys: []models.SymmetricallyEncryptedShareKey{
		sealShareKey(t, symKey, raw3, "share1", 3),
		sealShareKey(t, symKey, raw1, "share1", 1),
	}}
	m := NewManager(source, nil, &fixedKeyProvider{key: symKey}, logging.Discard())

	key, err := m.LatestShareKey(ctx, "user1", "share1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), key.KeyRotation)
	assert.Equal(t, raw3, key.Key)
}

func TestManager_LatestShareKey_NoKeys(t *testing.T) {
	m := NewManager(&fakeShareKeySource{}, nil, &fixedKeyProvider{key: newTestKeys(t)}, logging.Discard())

	_, err := m.LatestShareKey(context.Background(), "user1", "share1")
	assert.ErrorIs(t, err, common.ErrKeysNotFound)
}

func TestManager_LatestItemKey_Unwraps(t *testing.T) {
	ctx := context.Background()
	symKey := newTestKeys(t)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	itemKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	wrapped, err := cryptox.Seal(shareKey, itemKey, cryptox.ADItemKey)
	require.NoError(t, err)

	source := &fakeShareKeySource{keys: []models.SymmetricallyEncryptedShareKey{
		sealShareKey(t, symKey, shareKey, "share1", 2),
	}}
	remote := &fakeItemKeyRemote{latest: models.ItemKey{
		Key:         base64.StdEncoding.EncodeToString(wrapped),
		KeyRotation: 2,
	}}
	m := NewManager(source, remote, &fixedKeyProvider{key: symKey}, logging.Discard())

	got, err := m.LatestItemKey(ctx, "user1", "share1", "item1")
	require.NoError(t, err)
	assert.Equal(t, itemKey, got.Key)
	assert.Equal(t, int64(2), got.KeyRotation)
	assert.Equal(t, "item1", got.ItemID)
}
