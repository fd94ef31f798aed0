package items

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
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

type fakeKeyManager struct {
	keys map[string][]byte
}

func (f *fakeKeyManager) ShareKey(ctx context.Context, userID, shareID string, keyRotation int64) (keys.DecryptedShareKey, error) {
	key, ok := f.keys[shareID]
	if !ok {
		return keys.DecryptedShareKey{}, common.ErrKeysNotFound
	}
	return keys.DecryptedShareKey{ShareID: shareID, KeyRotation: keyRotation, Key: key}, nil
}

func (f *fakeKeyManager) LatestShareKey(ctx context.Context, userID, shareID string) (keys.DecryptedShareKey, error) {
	return f.ShareKey(ctx, userID, shareID, 1)
}

func (f *fakeKeyManager) ItemKeys(ctx context.Context, userID, shareID, itemID string) ([]keys.DecryptedItemKey, error) {
	return nil, nil
}

type fakeEventCursor struct {
	forceCalls int
}

func (f *fakeEventCursor) LastEventID(ctx context.Context, userID, shareID string, forceRefresh bool) (string, error) {
	if forceRefresh {
		f.forceCalls++
	}
	return "evt-0", nil
}

type fakeRemote struct {
	Remote

	items []models.Item

	trashCalls  int
	deleteCalls int
	moveCalls   int
}

func (f *fakeRemote) GetItems(ctx context.Context, userID, shareID string) ([]models.Item, error) {
	return f.items, nil
}

func (f *fakeRemote) TrashItems(ctx context.Context, userID, shareID string, items []ItemRevision) ([]models.ModifiedItem, error) {
	f.trashCalls++
	modified := make([]models.ModifiedItem, 0, len(items))
	for _, it := range items {
		modified = append(modified, models.ModifiedItem{
			ItemID:       it.ItemID,
			Revision:     it.Revision + 1,
			State:        models.ItemStateTrashed,
			ModifyTime:   1700000100,
			RevisionTime: 1700000100,
		})
	}
	return modified, nil
}

func (f *fakeRemote) DeleteItems(ctx context.Context, userID, shareID string, items []ItemRevision, skipTrash bool) error {
	f.deleteCalls++
	return nil
}

// Move echoes the request back as new item revisions with fresh ids.
func (f *fakeRemote) Move(ctx context.Context, userID, fromShareID string, req MoveItemsRequest) ([]models.Item, error) {
	f.moveCalls++
	moved := make([]models.Item, 0, len(req.Items))
	for _, mi := range req.Items {
		moved = append(moved, models.Item{
			ItemID:      "moved-" + mi.ItemID,
			Revision:    1,
			KeyRotation: mi.KeyRotation,
			Content:     mi.Content,
			State:       models.ItemStateActive,
		})
	}
	return moved, nil
}

func remoteItem(t *testing.T, shareKey []byte, itemID string, content *models.ItemContent) models.Item {
	t.Helper()
	serialized, err := content.Serialize()
	require.NoError(t, err)
	sealed, err := cryptox.Seal(shareKey, serialized, cryptox.ADItemContent)
	require.NoError(t, err)
	return models.Item{
		ItemID:      itemID,
		Revision:    1,
		KeyRotation: 1,
		Content:     base64.StdEncoding.EncodeToString(sealed),
		State:       models.ItemStateActive,
	}
}

type testEnv struct {
	db      *sql.DB
	repo    Repository
	remote  *fakeRemote
	cursor  *fakeEventCursor
	symKey  []byte
	keyByID map[string][]byte
}

func newTestEnv(t *testing.T, shareKeys map[string][]byte) *testEnv {
	t.Helper()
	db := setupDB(t)
	symKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)

	km := &fakeKeyManager{keys: shareKeys}
	provider := &fixedKeyProvider{key: symKey}
	remote := &fakeRemote{}
	cursor := &fakeEventCursor{}
	repo := NewRepository(NewLocalDatasource(db), remote, NewCrypto(km, provider),
		km, cursor, provider, logging.Discard())
	return &testEnv{db: db, repo: repo, remote: remote, cursor: cursor, symKey: symKey, keyByID: shareKeys}
}

func TestRefreshItems_RoundTrip(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	login := &models.ItemContent{
		Title: "mail",
		Type:  models.ItemTypeLogin,
		Login: &models.LoginData{Username: "bob", Password: "correct-horse-battery"},
	}
	note := &models.ItemContent{Title: "memo", Note: "text", Type: models.ItemTypeNote}
	env.remote.items = []models.Item{
		remoteItem(t, shareKey, "item1", login),
		remoteItem(t, shareKey, "item2", note),
	}

	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	stored, err := env.repo.GetItem(ctx, "user1", "shareA", "item1")
	require.NoError(t, err)
	assert.True(t, stored.IsLogInItem)

	content, err := stored.Content(env.symKey)
	require.NoError(t, err)
	assert.Equal(t, login, content)
}

func TestRefreshItems_FailureKeepsOldListing(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	good := remoteItem(t, shareKey, "item1", &models.ItemContent{Title: "old", Type: models.ItemTypeNote})
	env.remote.items = []models.Item{good}
	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	// Second refresh fails on the last item of the batch.
	bad := remoteItem(t, shareKey, "item3", &models.ItemContent{Title: "new", Type: models.ItemTypeNote})
	bad.Content = "%%% not base64 %%%"
	env.remote.items = []models.Item{
		remoteItem(t, shareKey, "item2", &models.ItemContent{Title: "new", Type: models.ItemTypeNote}),
		bad,
	}
	require.Error(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	// The old listing is intact: no partial replace happened.
	stored, err := env.repo.GetItems(ctx, "user1", "shareA")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "item1", stored[0].Item.ItemID)
}

func TestRefreshItems_ForceRefreshesEventCursor(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	env.remote.items = []models.Item{
		remoteItem(t, shareKey, "item1", &models.ItemContent{Title: "memo", Type: models.ItemTypeNote}),
	}
	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))
	assert.Equal(t, 1, env.cursor.forceCalls)

	// A failed refresh aborts before the listing is replaced, so the cursor
	// must not move either.
	bad := remoteItem(t, shareKey, "item2", &models.ItemContent{Title: "memo", Type: models.ItemTypeNote})
	bad.Content = "%%% not base64 %%%"
	env.remote.items = []models.Item{bad}
	require.Error(t, env.repo.RefreshItems(ctx, "user1", "shareA"))
	assert.Equal(t, 1, env.cursor.forceCalls)
}

func TestUpsertItems_Idempotent(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	login := remoteItem(t, shareKey, "item1", &models.ItemContent{
		Title: "mail",
		Type:  models.ItemTypeLogin,
		Login: &models.LoginData{Username: "bob", Password: "correct-horse-battery"},
	})

	for range 2 {
		_, err := env.repo.UpsertItems(ctx, "user1", "shareA", []models.Item{login})
		require.NoError(t, err)
	}

	stored, err := env.repo.GetItems(ctx, "user1", "shareA")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "item1", stored[0].Item.ItemID)
	assert.True(t, stored[0].IsLogInItem)
}

func envelopes(shareID string, n int) []models.SymmetricallyEncryptedItem {
	out := make([]models.SymmetricallyEncryptedItem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.SymmetricallyEncryptedItem{
			UserID:  "user1",
			ShareID: shareID,
			Item:    models.Item{ItemID: fmt.Sprintf("item%d", i), Revision: 1},
		})
	}
	return out
}

func TestTrashItems_Chunking(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		items     int
		wantCalls int
	}{
		{99, 1},
		{100, 1},
		{101, 2},
	} {
		env := newTestEnv(t, nil)
		require.NoError(t, env.repo.TrashItems(ctx, "user1", envelopes("shareA", tc.items)))
		assert.Equal(t, tc.wantCalls, env.remote.trashCalls, "items=%d", tc.items)
	}
}

func TestDeleteItems_Chunking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	require.NoError(t, env.repo.DeleteItems(ctx, "user1", envelopes("shareA", 101), false))
	assert.Equal(t, 2, env.remote.deleteCalls)
}

func TestTrashItems_AppliesServerMetadata(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	env.remote.items = []models.Item{
		remoteItem(t, shareKey, "item1", &models.ItemContent{Title: "a", Type: models.ItemTypeNote}),
	}
	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	stored, err := env.repo.GetItem(ctx, "user1", "shareA", "item1")
	require.NoError(t, err)
	require.NoError(t, env.repo.TrashItems(ctx, "user1", []models.SymmetricallyEncryptedItem{stored}))

	// The local row now carries the server-confirmed revision and state.
	trashed, err := env.repo.GetItem(ctx, "user1", "shareA", "item1")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStateTrashed, trashed.Item.State)
	assert.Equal(t, int64(2), trashed.Item.Revision)
}

func TestMoveItems_Chunking(t *testing.T) {
	ctx := context.Background()
	shareKeyA, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKeyB, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKeyA, "shareB": shareKeyB})

	// Build real envelopes so the chunk moves can decrypt them.
	var batch []models.SymmetricallyEncryptedItem
	for i := 0; i < 101; i++ {
		content := &models.ItemContent{Title: fmt.Sprintf("n%d", i), Type: models.ItemTypeNote}
		serialized, err := content.Serialize()
		require.NoError(t, err)
		sealed, err := cryptox.Seal(env.symKey, serialized, cryptox.ADItemContent)
		require.NoError(t, err)
		batch = append(batch, models.SymmetricallyEncryptedItem{
			UserID:           "user1",
			ShareID:          "shareA",
			Item:             models.Item{ItemID: fmt.Sprintf("item%d", i), Revision: 1, KeyRotation: 1},
			EncryptedContent: sealed,
		})
	}

	require.NoError(t, env.repo.MoveItems(ctx, "user1", batch, "shareB"))
	assert.Equal(t, 2, env.remote.moveCalls)
}

func TestMoveItems_EmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.repo.MoveItems(context.Background(), "user1", nil, "shareB")
	assert.ErrorIs(t, err, common.ErrEmptyItems)
}

func TestMove_Consistency(t *testing.T) {
	ctx := context.Background()
	shareKeyA, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	shareKeyB, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKeyA, "shareB": shareKeyB})

	content := &models.ItemContent{Title: "movable", Note: "keep me", Type: models.ItemTypeNote}
	env.remote.items = []models.Item{remoteItem(t, shareKeyA, "item1", content)}
	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	stored, err := env.repo.GetItem(ctx, "user1", "shareA", "item1")
	require.NoError(t, err)

	moved, err := env.repo.Move(ctx, "user1", stored, "shareB")
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, "shareB", moved.ShareID)

	// Gone from the source share.
	_, err = env.repo.GetItem(ctx, "user1", "shareA", "item1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Present in the destination with identical decrypted content.
	got, err := env.repo.GetItem(ctx, "user1", "shareB", moved.Item.ItemID)
	require.NoError(t, err)
	gotContent, err := got.Content(env.symKey)
	require.NoError(t, err)
	assert.Equal(t, content, gotContent)
}

func TestTOTPCreationDateThreshold(t *testing.T) {
	ctx := context.Background()
	shareKey, err := cryptox.RandomBytes(cryptox.KeySize)
	require.NoError(t, err)
	env := newTestEnv(t, map[string][]byte{"shareA": shareKey})

	withTOTP := func(id string, createTime int64) models.Item {
		item := remoteItem(t, shareKey, id, &models.ItemContent{
			Title: id,
			Type:  models.ItemTypeLogin,
			Login: &models.LoginData{Username: "u", Password: "p", TOTPURI: "otpauth://totp/x?secret=A"},
		})
		item.CreateTime = createTime
		return item
	}
	withoutTOTP := remoteItem(t, shareKey, "plain", &models.ItemContent{
		Title: "plain",
		Type:  models.ItemTypeLogin,
		Login: &models.LoginData{Username: "u", Password: "p"},
	})

	// The oldest TOTP login sits in the trash; it still counts towards the
	// threshold.
	trashed := withTOTP("t-trashed", 50)
	trashed.State = models.ItemStateTrashed

	env.remote.items = []models.Item{
		withTOTP("t-late", 300),
		withoutTOTP,
		trashed,
		withTOTP("t-early", 100),
		withTOTP("t-mid", 200),
	}
	require.NoError(t, env.repo.RefreshItems(ctx, "user1", "shareA"))

	// Second-oldest TOTP login was created at 100.
	got, err := env.repo.TOTPCreationDateThreshold(ctx, "user1", 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), *got)

	got, err = env.repo.TOTPCreationDateThreshold(ctx, "user1", 4)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(300), *got)

	// Fewer TOTP logins than requested: no threshold.
	got, err = env.repo.TOTPCreationDateThreshold(ctx, "user1", 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}
