package models

import (
	"passvault.dev/passvault/internal/cryptox"
)

// ItemState is the 2-state lifecycle of an item.
type ItemState int64

const (
	ItemStateActive  ItemState = 1
	ItemStateTrashed ItemState = 2
)

// Item is a versioned item revision as returned by the server. Immutable per
// revision; every mutating operation yields a new revision.
type Item struct {
	ItemID               string
	Revision             int64
	ContentFormatVersion int64

	// KeyRotation identifies the share key generation that encrypted Content.
	KeyRotation int64

	// Content is the base64 encoded, share-key encrypted content blob.
	Content string

	// ItemKey is the base64 encoded per-item key wrapped with the share key
	// at KeyRotation. Empty for shares without per-item keys.
	ItemKey string

	State      ItemState
	Pinned     bool
	AliasEmail string

	CreateTime   int64
	ModifyTime   int64
	LastUseTime  int64
	RevisionTime int64
}

// ModifiedItem is the authoritative post-mutation metadata returned by batch
// endpoints (trash/untrash). Local records are updated from these values, not
// from the submitted ones.
type ModifiedItem struct {
	ItemID       string
	Revision     int64
	State        ItemState
	ModifyTime   int64
	RevisionTime int64
}

// SymmetricallyEncryptedItem is the local cache envelope of an item: the
// remote revision plus its decrypted content re-encrypted under the local
// symmetric key.
type SymmetricallyEncryptedItem struct {
	UserID  string
	ShareID string

	// Item is the original revision object as returned by the server.
	Item Item

	// EncryptedContent wraps the serialized decrypted content under the
	// local symmetric key.
	EncryptedContent []byte

	// IsLogInItem mirrors the content type tag for fast filtering.
	IsLogInItem bool
}

// Content decrypts the local envelope with the process symmetric key.
func (e *SymmetricallyEncryptedItem) Content(symmetricKey []byte) (*ItemContent, error) {
	plain, err := cryptox.Open(symmetricKey, e.EncryptedContent, cryptox.ADItemContent)
	if err != nil {
		return nil, err
	}
	return ParseItemContent(plain)
}

// ItemRef identifies an item within a share.
type ItemRef struct {
	ShareID string
	ItemID  string
}

// Ref returns the identifier pair of the envelope.
func (e *SymmetricallyEncryptedItem) Ref() ItemRef {
	return ItemRef{ShareID: e.ShareID, ItemID: e.Item.ItemID}
}
