package keys

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

// DecryptedShareKey is a share key generation with its raw key bytes.
// Exists only in memory.
type DecryptedShareKey struct {
	ShareID     string
	KeyRotation int64
	Key         []byte
}

// DecryptedItemKey is a per-item key with its raw key bytes.
type DecryptedItemKey struct {
	ShareID     string
	ItemID      string
	KeyRotation int64
	Key         []byte
}

// ShareKeySource supplies the symmetrically re-encrypted share keys for a
// share, refreshing from remote on cache miss.
type ShareKeySource interface {
	GetKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error)
}

// ItemKeyRemote fetches wrapped per-item keys.
type ItemKeyRemote interface {
	GetLatestItemKey(ctx context.Context, userID, shareID, itemID string) (models.ItemKey, error)
	GetItemKeys(ctx context.Context, userID, shareID, itemID string) ([]models.ItemKey, error)
}

// Manager resolves decryption/encryption keys by share and rotation. Raw key
// bytes are cached in memguard enclaves; all state is guarded by an internal
// mutex so the manager is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	cache map[shareKeyID]*memguard.Enclave

	shareKeys   ShareKeySource
	itemKeys    ItemKeyRemote
	symProvider SymmetricKeyProvider
	log         logging.Logger
}

type shareKeyID struct {
	shareID     string
	keyRotation int64
}

func NewManager(shareKeys ShareKeySource, itemKeys ItemKeyRemote, symProvider SymmetricKeyProvider, log logging.Logger) *Manager {
	return &Manager{
		cache:       make(map[shareKeyID]*memguard.Enclave),
		shareKeys:   shareKeys,
		itemKeys:    itemKeys,
		symProvider: symProvider,
		log:         log,
	}
}

// ShareKey returns the share key of the given rotation.
//
// Do not add per-call logging here: this is on the hot path of bulk item
// decryption.
func (m *Manager) ShareKey(ctx context.Context, userID, shareID string, keyRotation int64) (DecryptedShareKey, error) {
	if key, ok := m.cached(shareID, keyRotation); ok {
		return key, nil
	}

	encryptedKeys, err := m.shareKeys.GetKeys(ctx, userID, shareID)
	if err != nil {
		return DecryptedShareKey{}, err
	}
	for _, ek := range encryptedKeys {
		if ek.KeyRotation == keyRotation {
			return m.decryptAndCache(ctx, ek)
		}
	}
	return DecryptedShareKey{}, fmt.Errorf("share %s rotation %d: %w", shareID, keyRotation, common.ErrKeysNotFound)
}

// LatestShareKey returns the share key with the highest rotation.
func (m *Manager) LatestShareKey(ctx context.Context, userID, shareID string) (DecryptedShareKey, error) {
	encryptedKeys, err := m.shareKeys.GetKeys(ctx, userID, shareID)
	if err != nil {
		return DecryptedShareKey{}, err
	}
	if len(encryptedKeys) == 0 {
		return DecryptedShareKey{}, fmt.Errorf("share %s: %w", shareID, common.ErrKeysNotFound)
	}

	latest := encryptedKeys[0]
	for _, ek := range encryptedKeys[1:] {
		if ek.KeyRotation > latest.KeyRotation {
			latest = ek
		}
	}
	if key, ok := m.cached(latest.ShareID, latest.KeyRotation); ok {
		return key, nil
	}
	return m.decryptAndCache(ctx, latest)
}

// LatestItemKey fetches and unwraps the latest per-item key.
func (m *Manager) LatestItemKey(ctx context.Context, userID, shareID, itemID string) (DecryptedItemKey, error) {
	m.log.Debug(ctx, "getting latest item key", "shareId", shareID, "itemId", itemID)

	wrapped, err := m.itemKeys.GetLatestItemKey(ctx, userID, shareID, itemID)
	if err != nil {
		return DecryptedItemKey{}, err
	}
	return m.unwrapItemKey(ctx, userID, shareID, itemID, wrapped)
}

// ItemKeys fetches and unwraps all per-item keys of an item.
func (m *Manager) ItemKeys(ctx context.Context, userID, shareID, itemID string) ([]DecryptedItemKey, error) {
	wrapped, err := m.itemKeys.GetItemKeys(ctx, userID, shareID, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]DecryptedItemKey, 0, len(wrapped))
	for _, w := range wrapped {
		key, err := m.unwrapItemKey(ctx, userID, shareID, itemID, w)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

func (m *Manager) unwrapItemKey(ctx context.Context, userID, shareID, itemID string, wrapped models.ItemKey) (DecryptedItemKey, error) {
	shareKey, err := m.ShareKey(ctx, userID, shareID, wrapped.KeyRotation)
	if err != nil {
		return DecryptedItemKey{}, err
	}

	blob, err := base64.StdEncoding.DecodeString(wrapped.Key)
	if err != nil {
		return DecryptedItemKey{}, common.ErrBase64Decode
	}

	raw, err := cryptox.Open(shareKey.Key, blob, cryptox.ADItemKey)
	if err != nil {
		return DecryptedItemKey{}, fmt.Errorf("failed to unwrap item key: %w", err)
	}
	return DecryptedItemKey{
		ShareID:     shareID,
		ItemID:      itemID,
		KeyRotation: wrapped.KeyRotation,
		Key:         raw,
	}, nil
}

func (m *Manager) cached(shareID string, keyRotation int64) (DecryptedShareKey, bool) {
	m.mu.Lock()
	enclave, ok := m.cache[shareKeyID{shareID, keyRotation}]
	m.mu.Unlock()
	if !ok {
		return DecryptedShareKey{}, false
	}

	buf, err := enclave.Open()
	if err != nil {
		return DecryptedShareKey{}, false
	}
	defer buf.Destroy()

	key := make([]byte, len(buf.Bytes()))
	copy(key, buf.Bytes())
	return DecryptedShareKey{ShareID: shareID, KeyRotation: keyRotation, Key: key}, true
}

func (m *Manager) decryptAndCache(ctx context.Context, ek models.SymmetricallyEncryptedShareKey) (DecryptedShareKey, error) {
	symKey, err := m.symProvider.SymmetricKey(ctx)
	if err != nil {
		return DecryptedShareKey{}, err
	}

	b64, err := cryptox.Open(symKey, ek.EncryptedKey, cryptox.ADShareKey)
	if err != nil {
		return DecryptedShareKey{}, fmt.Errorf("failed to decrypt cached share key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return DecryptedShareKey{}, common.ErrBase64Decode
	}

	key := DecryptedShareKey{ShareID: ek.ShareID, KeyRotation: ek.KeyRotation, Key: raw}

	cached := make([]byte, len(raw))
	copy(cached, raw)
	m.mu.Lock()
	m.cache[shareKeyID{ek.ShareID, ek.KeyRotation}] = memguard.NewEnclave(cached)
	m.mu.Unlock()

	m.log.Debug(ctx, "decrypted and cached share key", "shareId", ek.ShareID, "keyRotation", ek.KeyRotation)
	return key, nil
}
