package items

import (
	"context"
	"encoding/base64"
	"fmt"

	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
)

// KeyManager resolves decrypted share and item keys.
type KeyManager interface {
	ShareKey(ctx context.Context, userID, shareID string, keyRotation int64) (keys.DecryptedShareKey, error)
	LatestShareKey(ctx context.Context, userID, shareID string) (keys.DecryptedShareKey, error)
	ItemKeys(ctx context.Context, userID, shareID, itemID string) ([]keys.DecryptedItemKey, error)
}

// Crypto converts item revisions between their remote encryption (share key)
// and the local cache envelope (process symmetric key).
type Crypto struct {
	keyManager  KeyManager
	symProvider keys.SymmetricKeyProvider
}

func NewCrypto(keyManager KeyManager, symProvider keys.SymmetricKeyProvider) *Crypto {
	return &Crypto{keyManager: keyManager, symProvider: symProvider}
}

// SymmetricallyEncrypt decrypts a remote item revision with its share key and
// re-wraps the content under the local symmetric key.
func (c *Crypto) SymmetricallyEncrypt(ctx context.Context, userID, shareID string, item models.Item) (models.SymmetricallyEncryptedItem, error) {
	var e models.SymmetricallyEncryptedItem

	shareKey, err := c.keyManager.ShareKey(ctx, userID, shareID, item.KeyRotation)
	if err != nil {
		return e, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(item.Content)
	if err != nil {
		return e, common.ErrBase64Decode
	}
	plain, err := cryptox.Open(shareKey.Key, ciphertext, cryptox.ADItemContent)
	if err != nil {
		return e, fmt.Errorf("failed to decrypt item %s: %w", item.ItemID, err)
	}

	content, err := models.ParseItemContent(plain)
	if err != nil {
		return e, fmt.Errorf("failed to parse item %s: %w", item.ItemID, err)
	}

	symKey, err := c.symProvider.SymmetricKey(ctx)
	if err != nil {
		return e, err
	}
	encrypted, err := cryptox.Seal(symKey, plain, cryptox.ADItemContent)
	if err != nil {
		return e, err
	}

	return models.SymmetricallyEncryptedItem{
		UserID:           userID,
		ShareID:          shareID,
		Item:             item,
		EncryptedContent: encrypted,
		IsLogInItem:      content.IsLogin(),
	}, nil
}

// EncryptForCreation seals serialized content with the latest share key and
// wraps a fresh per-item key alongside it.
func (c *Crypto) EncryptForCreation(ctx context.Context, userID, shareID string, content *models.ItemContent) (CreateItemRequest, error) {
	shareKey, err := c.keyManager.LatestShareKey(ctx, userID, shareID)
	if err != nil {
		return CreateItemRequest{}, err
	}

	serialized, err := content.Serialize()
	if err != nil {
		return CreateItemRequest{}, err
	}
	encryptedContent, err := cryptox.Seal(shareKey.Key, serialized, cryptox.ADItemContent)
	if err != nil {
		return CreateItemRequest{}, err
	}

	itemKey, err := cryptox.RandomBytes(cryptox.KeySize)
	if err != nil {
		return CreateItemRequest{}, err
	}
	wrappedKey, err := cryptox.Seal(shareKey.Key, itemKey, cryptox.ADItemKey)
	if err != nil {
		return CreateItemRequest{}, err
	}

	return CreateItemRequest{
		KeyRotation:          shareKey.KeyRotation,
		ContentFormatVersion: 1,
		Content:              base64.StdEncoding.EncodeToString(encryptedContent),
		ItemKey:              base64.StdEncoding.EncodeToString(wrappedKey),
	}, nil
}

// EncryptForUpdate seals updated content with the latest share key, pinning
// the update to the revision it was based on.
func (c *Crypto) EncryptForUpdate(ctx context.Context, userID, shareID string, lastRevision int64, content *models.ItemContent) (UpdateItemRequest, error) {
	shareKey, err := c.keyManager.LatestShareKey(ctx, userID, shareID)
	if err != nil {
		return UpdateItemRequest{}, err
	}

	serialized, err := content.Serialize()
	if err != nil {
		return UpdateItemRequest{}, err
	}
	encryptedContent, err := cryptox.Seal(shareKey.Key, serialized, cryptox.ADItemContent)
	if err != nil {
		return UpdateItemRequest{}, err
	}

	return UpdateItemRequest{
		KeyRotation:          shareKey.KeyRotation,
		LastRevision:         lastRevision,
		ContentFormatVersion: 1,
		Content:              base64.StdEncoding.EncodeToString(encryptedContent),
	}, nil
}

// RewrapItemKeys re-wraps all per-item keys of an item with the destination
// share's latest key, producing the key set a move request needs.
func (c *Crypto) RewrapItemKeys(ctx context.Context, userID, shareID, itemID string, destKey keys.DecryptedShareKey) ([]MoveItemKey, error) {
	itemKeys, err := c.keyManager.ItemKeys(ctx, userID, shareID, itemID)
	if err != nil {
		return nil, err
	}

	rewrapped := make([]MoveItemKey, 0, len(itemKeys))
	for _, ik := range itemKeys {
		wrapped, err := cryptox.Seal(destKey.Key, ik.Key, cryptox.ADItemKey)
		if err != nil {
			return nil, err
		}
		rewrapped = append(rewrapped, MoveItemKey{
			Key:         base64.StdEncoding.EncodeToString(wrapped),
			KeyRotation: destKey.KeyRotation,
		})
	}
	return rewrapped, nil
}
