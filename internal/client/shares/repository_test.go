package shares

import (
	"context"
	"database/sql"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/migrations"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

type fixedKeyProvider struct {
	key []byte
}

func (p *fixedKeyProvider) SymmetricKey(ctx context.Context) ([]byte, error) {
	return p.key, nil
}

// fakeKeyManager serves share keys from a map; shares listed in inactive
// fail with an InactiveUserKeyError.
type fakeKeyManager struct {
	keys     map[string][]byte
	inactive map[string]bool
}

func (f *fakeKeyManager) ShareKey(ctx context.Context, userID, shareID string, keyRotation int64) (keys.DecryptedShareKey, error) {
	if f.inactive[shareID] {
		return keys.DecryptedShareKey{}, &common.InactiveUserKeyError{UserKeyID: "uk-old"}
	}
	key, ok := f.keys[shareID]
	if !ok {
		return keys.DecryptedShareKey{}, common.ErrKeysNotFound
	}
	return keys.DecryptedShareKey{ShareID: shareID, KeyRotation: keyRotation, Key: key}, nil
}

func (f *fakeKeyManager) LatestShareKey(ctx context.Context, userID, shareID string) (keys.DecryptedShareKey, error) {
	return f.ShareKey(ctx, userID, shareID, 1)
}

func newTestRepo(t *testing.T, db *sql.DB, km KeyManager, symKey []byte) Repository {
	t.Helper()
	return NewRepository(NewLocalDatasource(db), nil, km, nil, nil,
		&fixedKeyProvider{key: symKey}, logging.Discard())
}

func vaultShare(t *testing.T, shareKey []byte, shareID string, content models.VaultContent) models.Share {
	t.Helper()
	serialized, err := content.Serialize()
	require.NoError(t, err)
	sealed, err := cryptox.Seal(shareKey, serialized, cryptox.ADVaultContent)
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString(sealed)
	rotation := int64(1)
	return models.Share{
		ShareID:            shareID,
		VaultID:            "vault-" + shareID,
		AddressID:          "addr1",
		ShareType:          models.ShareTypeVault,
		Content:            &encoded,
		ContentKeyRotation: &rotation,
		ShareRoleID:        models.ShareRoleAdmin,
		Owner:              true,
	}
}

func TestUpsertShares_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	km := &fakeKeyManager{keys: map[string][]byte{"share1": shareKey}}
	repo := newTestRepo(t, db, km, symKey)

	content := models.VaultContent{Name: "Personal", Description: "main", Color: 2, Icon: 5}
	encrypted, skipped, err := repo.UpsertShares(ctx, "user1", []models.Share{
		vaultShare(t, shareKey, "share1", content),
	})
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, encrypted, 1)

	// The stored envelope decrypts back to the original vault metadata.
	stored, err := repo.GetShare(ctx, "user1", "share1")
	require.NoError(t, err)
	got, err := stored.VaultContent(symKey)
	require.NoError(t, err)
	assert.Equal(t, &content, got)
}

func TestUpsertShares_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	km := &fakeKeyManager{keys: map[string][]byte{"share1": shareKey}}
	repo := newTestRepo(t, db, km, symKey)

	share := vaultShare(t, shareKey, "share1", models.VaultContent{Name: "Work"})
	for range 2 {
		_, _, err := repo.UpsertShares(ctx, "user1", []models.Share{share})
		require.NoError(t, err)
	}

	all, err := repo.GetShares(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, all, 1)

	vault, err := all[0].ToVault(symKey)
	require.NoError(t, err)
	assert.Equal(t, "Work", vault.Name)
}

func TestUpsertShares_InactiveKeySkipsShare(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	km := &fakeKeyManager{
		keys:     map[string][]byte{"share1": shareKey, "share2": shareKey, "share3": shareKey},
		inactive: map[string]bool{"share2": true},
	}
	repo := newTestRepo(t, db, km, symKey)

	encrypted, skipped, err := repo.UpsertShares(ctx, "user1", []models.Share{
		vaultShare(t, shareKey, "share1", models.VaultContent{Name: "A"}),
		vaultShare(t, shareKey, "share2", models.VaultContent{Name: "B"}),
		vaultShare(t, shareKey, "share3", models.VaultContent{Name: "C"}),
	})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "share2", skipped[0].Share.ShareID)
	require.Len(t, encrypted, 2)

	// Only the readable shares were persisted.
	all, err := repo.GetShares(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = repo.GetShare(ctx, "user1", "share2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpsertShares_OtherCryptoErrorAborts(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	wrongKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	// Key manager hands out the wrong key, so decryption fails.
	km := &fakeKeyManager{keys: map[string][]byte{"share1": wrongKey}}
	repo := newTestRepo(t, db, km, symKey)

	_, _, err = repo.UpsertShares(ctx, "user1", []models.Share{
		vaultShare(t, shareKey, "share1", models.VaultContent{Name: "A"}),
	})
	require.Error(t, err)
	assert.False(t, common.IsInactiveUserKey(err))
}

func TestUpsertShares_NilContentStaysNil(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	repo := newTestRepo(t, db, &fakeKeyManager{}, symKey)

	share := models.Share{
		ShareID:     "share1",
		VaultID:     "vault1",
		AddressID:   "addr1",
		ShareType:   models.ShareTypeItem,
		ShareRoleID: models.ShareRoleRead,
	}
	encrypted, skipped, err := repo.UpsertShares(ctx, "user1", []models.Share{share})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, encrypted, 1)
	assert.Nil(t, encrypted[0].EncryptedContent)

	stored, err := repo.GetShare(ctx, "user1", "share1")
	require.NoError(t, err)
	assert.Nil(t, stored.EncryptedContent)

	content, err := stored.VaultContent(symKey)
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestUpsertShares_TooShortContentIsCorrupted(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	repo := newTestRepo(t, db, &fakeKeyManager{keys: map[string][]byte{"share1": shareKey}}, symKey)

	// 12 bytes decoded: nonce alone, no ciphertext.
	short := base64.StdEncoding.EncodeToString(make([]byte, 12))
	rotation := int64(1)
	share := models.Share{
		ShareID:            "share1",
		ShareType:          models.ShareTypeVault,
		Content:            &short,
		ContentKeyRotation: &rotation,
	}

	_, _, err = repo.UpsertShares(ctx, "user1", []models.Share{share})
	var corrupted *common.CorruptedContentError
	require.ErrorAs(t, err, &corrupted)
	assert.Equal(t, "share1", corrupted.ShareID)
}

func TestGetVaults_ProjectsVaultShares(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	km := &fakeKeyManager{keys: map[string][]byte{"share1": shareKey, "share2": shareKey}}
	repo := newTestRepo(t, db, km, symKey)

	_, _, err = repo.UpsertShares(ctx, "user1", []models.Share{
		vaultShare(t, shareKey, "share1", models.VaultContent{Name: "Personal"}),
		{ShareID: "share2", ShareType: models.ShareTypeItem},
	})
	require.NoError(t, err)

	vaults, err := repo.GetVaults(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, "Personal", vaults[0].Name)
	assert.Equal(t, "share1", vaults[0].ShareID)
}
