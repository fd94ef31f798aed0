package items

import (
	"context"

	"passvault.dev/passvault/internal/client/models"
)

// CreateItemRequest carries a new item to the server: content encrypted with
// the share key at KeyRotation, plus a fresh per-item key wrapped with the
// same share key.
type CreateItemRequest struct {
	KeyRotation          int64
	ContentFormatVersion int64
	Content              string
	ItemKey              string
}

// CreateAliasRequest creates an alias item together with its alias address.
type CreateAliasRequest struct {
	Prefix       string
	SignedSuffix string
	MailboxIDs   []int64
	Item         CreateItemRequest
}

// CreateAliasAndItemRequest atomically creates an alias item and a second
// item referencing it (e.g. a login using the alias as username).
type CreateAliasAndItemRequest struct {
	Alias CreateAliasRequest
	Item  CreateItemRequest
}

// UpdateItemRequest carries a content update for an existing item. LastRevision
// is the revision the update was based on; the server rejects stale writes.
type UpdateItemRequest struct {
	KeyRotation          int64
	LastRevision         int64
	ContentFormatVersion int64
	Content              string
}

// ItemRevision identifies one item revision in a batch mutation.
type ItemRevision struct {
	ItemID   string
	Revision int64
}

// MoveItemKey is a per-item key re-wrapped with the destination share's key.
type MoveItemKey struct {
	Key         string
	KeyRotation int64
}

// MoveItem is one item of a move batch: content re-encrypted with the
// destination share's latest key, plus all per-item keys re-wrapped for the
// destination.
type MoveItem struct {
	ItemID               string
	ContentFormatVersion int64
	Content              string
	KeyRotation          int64
	ItemKeys             []MoveItemKey
}

// MoveItemsRequest moves a batch of items into the destination share.
type MoveItemsRequest struct {
	ShareID string
	Items   []MoveItem
}

// AliasAndItem pairs the two items returned by the combined alias creation.
type AliasAndItem struct {
	Alias models.Item
	Item  models.Item
}

// Remote is the server API surface the repository depends on. Implementations
// handle paging internally; GetItems returns the full listing.
type Remote interface {
	GetItems(ctx context.Context, userID, shareID string) ([]models.Item, error)

	CreateItem(ctx context.Context, userID, shareID string, req CreateItemRequest) (models.Item, error)
	CreateAlias(ctx context.Context, userID, shareID string, req CreateAliasRequest) (models.Item, error)
	CreateAliasAndItem(ctx context.Context, userID, shareID string, req CreateAliasAndItemRequest) (AliasAndItem, error)
	UpdateItem(ctx context.Context, userID, shareID, itemID string, req UpdateItemRequest) (models.Item, error)
	UpdateLastUseTime(ctx context.Context, userID, shareID, itemID string) (models.Item, error)

	TrashItems(ctx context.Context, userID, shareID string, items []ItemRevision) ([]models.ModifiedItem, error)
	UntrashItems(ctx context.Context, userID, shareID string, items []ItemRevision) ([]models.ModifiedItem, error)

	// DeleteItems permanently deletes. With skipTrash the items need not be
	// trashed first.
	DeleteItems(ctx context.Context, userID, shareID string, items []ItemRevision, skipTrash bool) error

	Move(ctx context.Context, userID, fromShareID string, req MoveItemsRequest) ([]models.Item, error)
}
