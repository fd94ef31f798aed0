// Package items implements the item cache and its sync pipeline: full-share
// refresh, creation, batched trash/untrash/delete, updates and cross-share
// moves. Item content arrives encrypted with a share key and is stored
// re-wrapped under the local symmetric key.
package items

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"passvault.dev/passvault/internal/broadcast"
	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

// batchPageSize is the ceiling the remote batch endpoints accept per call.
const batchPageSize = 100

// AliasInfo is the address part of an alias creation.
type AliasInfo struct {
	Prefix       string
	SignedSuffix string
	MailboxIDs   []int64
}

// Repository gives access to locally cached items and the item sync pipeline.
type Repository interface {
	// RefreshItems fetches the full item listing of a share, re-encrypts it
	// and atomically replaces the local listing of that share.
	RefreshItems(ctx context.Context, userID, shareID string) error

	// UpsertItems re-encrypts the given remote revisions and merges them into
	// the cache.
	UpsertItems(ctx context.Context, userID, shareID string, remoteItems []models.Item) ([]models.SymmetricallyEncryptedItem, error)

	GetAllItems(ctx context.Context, userID string, state *models.ItemState) ([]models.SymmetricallyEncryptedItem, error)
	GetItems(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedItem, error)
	GetItem(ctx context.Context, userID, shareID, itemID string) (models.SymmetricallyEncryptedItem, error)
	GetItemContent(ctx context.Context, userID, shareID, itemID string) (*models.ItemContent, error)
	GetAliasItem(ctx context.Context, userID, email string) (models.SymmetricallyEncryptedItem, error)
	GetActiveLogInItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error)
	GetPinnedItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error)

	CreateItem(ctx context.Context, userID, shareID string, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error)
	CreateAlias(ctx context.Context, userID, shareID string, info AliasInfo, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error)
	CreateAliasAndOtherItem(ctx context.Context, userID, shareID string, info AliasInfo, aliasContent, otherContent *models.ItemContent) (alias, other *models.SymmetricallyEncryptedItem, err error)

	UpdateItem(ctx context.Context, userID, shareID, itemID string, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error)
	UpdateLastUseTime(ctx context.Context, userID, shareID, itemID string) error

	TrashItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem) error
	UntrashItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem) error
	DeleteItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem, skipTrash bool) error

	Move(ctx context.Context, userID string, item models.SymmetricallyEncryptedItem, toShareID string) (*models.SymmetricallyEncryptedItem, error)
	MoveItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem, toShareID string) error
	MoveAll(ctx context.Context, userID, fromShareID, toShareID string) error

	DeleteItemsLocally(ctx context.Context, userID, shareID string, itemIDs []string) error
	DeleteAllItemsForShareLocally(ctx context.Context, userID, shareID string) error
	DeleteAllItemsLocally(ctx context.Context, userID string) error

	TOTPCreationDateThreshold(ctx context.Context, userID string, numberOfTOTP int) (*int64, error)

	// ItemsUpdated emits the refs of items changed by any mutation, so views
	// can reload.
	ItemsUpdated() *broadcast.Signal[[]models.ItemRef]

	// Progress emits SyncProgressDecryptItems events during full refreshes.
	Progress() *broadcast.Signal[models.SyncProgress]
}

// EventCursor force-refreshes a share's event cursor. A full item refresh
// incorporates the latest server state, so the cursor must jump forward or
// the next incremental pass would replay events the refresh already applied.
type EventCursor interface {
	LastEventID(ctx context.Context, userID, shareID string, forceRefresh bool) (string, error)
}

type repository struct {
	local       *LocalDatasource
	remote      Remote
	crypto      *Crypto
	keyManager  KeyManager
	events      EventCursor
	symProvider keys.SymmetricKeyProvider
	log         logging.Logger

	updated  *broadcast.Signal[[]models.ItemRef]
	progress *broadcast.Signal[models.SyncProgress]
}

func NewRepository(local *LocalDatasource, remote Remote, crypto *Crypto,
	keyManager KeyManager, events EventCursor, symProvider keys.SymmetricKeyProvider,
	log logging.Logger) Repository {
	return &repository{
		local:       local,
		remote:      remote,
		crypto:      crypto,
		keyManager:  keyManager,
		events:      events,
		symProvider: symProvider,
		log:         log,
		updated:     broadcast.NewSignal[[]models.ItemRef](),
		progress:    broadcast.NewSignal[models.SyncProgress](),
	}
}

func (r *repository) ItemsUpdated() *broadcast.Signal[[]models.ItemRef] {
	return r.updated
}

func (r *repository) Progress() *broadcast.Signal[models.SyncProgress] {
	return r.progress
}

func (r *repository) RefreshItems(ctx context.Context, userID, shareID string) error {
	r.log.Debug(ctx, "refreshing items", "shareId", shareID)

	remoteItems, err := r.remote.GetItems(ctx, userID, shareID)
	if err != nil {
		return fmt.Errorf("failed to fetch items: %w", err)
	}

	encrypted := make([]models.SymmetricallyEncryptedItem, 0, len(remoteItems))
	for i, item := range remoteItems {
		e, err := r.crypto.SymmetricallyEncrypt(ctx, userID, shareID, item)
		if err != nil {
			return err
		}
		encrypted = append(encrypted, e)
		r.progress.Send(models.SyncProgress{
			Kind:      models.SyncProgressDecryptItems,
			ShareID:   shareID,
			Total:     len(remoteItems),
			Decrypted: i + 1,
		})
	}

	if err := r.local.ReplaceAllForShare(ctx, userID, shareID, encrypted); err != nil {
		return err
	}

	// The listing now matches the server, so mark the share as caught up.
	if _, err := r.events.LastEventID(ctx, userID, shareID, true); err != nil {
		return fmt.Errorf("failed to refresh event cursor: %w", err)
	}

	r.log.Debug(ctx, "refreshed items", "shareId", shareID, "count", len(encrypted))
	r.notify(encrypted)
	return nil
}

func (r *repository) UpsertItems(ctx context.Context, userID, shareID string, remoteItems []models.Item) ([]models.SymmetricallyEncryptedItem, error) {
	encrypted := make([]models.SymmetricallyEncryptedItem, 0, len(remoteItems))
	for _, item := range remoteItems {
		e, err := r.crypto.SymmetricallyEncrypt(ctx, userID, shareID, item)
		if err != nil {
			return nil, err
		}
		encrypted = append(encrypted, e)
	}
	if err := r.local.UpsertItems(ctx, encrypted); err != nil {
		return nil, err
	}
	r.notify(encrypted)
	return encrypted, nil
}

func (r *repository) GetAllItems(ctx context.Context, userID string, state *models.ItemState) ([]models.SymmetricallyEncryptedItem, error) {
	return r.local.GetAllItems(ctx, userID, state)
}

func (r *repository) GetItems(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedItem, error) {
	return r.local.GetItems(ctx, userID, shareID)
}

func (r *repository) GetItem(ctx context.Context, userID, shareID, itemID string) (models.SymmetricallyEncryptedItem, error) {
	return r.local.GetItem(ctx, userID, shareID, itemID)
}

func (r *repository) GetItemContent(ctx context.Context, userID, shareID, itemID string) (*models.ItemContent, error) {
	item, err := r.local.GetItem(ctx, userID, shareID, itemID)
	if err != nil {
		return nil, err
	}
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}
	return item.Content(symKey)
}

func (r *repository) GetAliasItem(ctx context.Context, userID, email string) (models.SymmetricallyEncryptedItem, error) {
	return r.local.GetAliasItem(ctx, userID, email)
}

func (r *repository) GetActiveLogInItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error) {
	return r.local.GetActiveLogInItems(ctx, userID)
}

func (r *repository) GetPinnedItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error) {
	return r.local.GetPinnedItems(ctx, userID)
}

func (r *repository) CreateItem(ctx context.Context, userID, shareID string, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error) {
	r.log.Debug(ctx, "creating item", "shareId", shareID)

	req, err := r.crypto.EncryptForCreation(ctx, userID, shareID, content)
	if err != nil {
		return nil, err
	}
	created, err := r.remote.CreateItem(ctx, userID, shareID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return r.cacheOne(ctx, userID, shareID, created)
}

func (r *repository) CreateAlias(ctx context.Context, userID, shareID string, info AliasInfo, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error) {
	r.log.Debug(ctx, "creating alias", "shareId", shareID)

	itemReq, err := r.crypto.EncryptForCreation(ctx, userID, shareID, content)
	if err != nil {
		return nil, err
	}
	created, err := r.remote.CreateAlias(ctx, userID, shareID, CreateAliasRequest{
		Prefix:       info.Prefix,
		SignedSuffix: info.SignedSuffix,
		MailboxIDs:   info.MailboxIDs,
		Item:         itemReq,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create alias: %w", err)
	}
	return r.cacheOne(ctx, userID, shareID, created)
}

func (r *repository) CreateAliasAndOtherItem(ctx context.Context, userID, shareID string, info AliasInfo, aliasContent, otherContent *models.ItemContent) (*models.SymmetricallyEncryptedItem, *models.SymmetricallyEncryptedItem, error) {
	r.log.Debug(ctx, "creating alias and other item", "shareId", shareID)

	aliasReq, err := r.crypto.EncryptForCreation(ctx, userID, shareID, aliasContent)
	if err != nil {
		return nil, nil, err
	}
	otherReq, err := r.crypto.EncryptForCreation(ctx, userID, shareID, otherContent)
	if err != nil {
		return nil, nil, err
	}

	created, err := r.remote.CreateAliasAndItem(ctx, userID, shareID, CreateAliasAndItemRequest{
		Alias: CreateAliasRequest{
			Prefix:       info.Prefix,
			SignedSuffix: info.SignedSuffix,
			MailboxIDs:   info.MailboxIDs,
			Item:         aliasReq,
		},
		Item: otherReq,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create alias and item: %w", err)
	}

	encrypted, err := r.UpsertItems(ctx, userID, shareID, []models.Item{created.Alias, created.Item})
	if err != nil {
		return nil, nil, err
	}
	return &encrypted[0], &encrypted[1], nil
}

func (r *repository) UpdateItem(ctx context.Context, userID, shareID, itemID string, content *models.ItemContent) (*models.SymmetricallyEncryptedItem, error) {
	r.log.Debug(ctx, "updating item", "shareId", shareID, "itemId", itemID)

	current, err := r.local.GetItem(ctx, userID, shareID, itemID)
	if err != nil {
		return nil, err
	}
	req, err := r.crypto.EncryptForUpdate(ctx, userID, shareID, current.Item.Revision, content)
	if err != nil {
		return nil, err
	}
	updated, err := r.remote.UpdateItem(ctx, userID, shareID, itemID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return r.cacheOne(ctx, userID, shareID, updated)
}

func (r *repository) UpdateLastUseTime(ctx context.Context, userID, shareID, itemID string) error {
	updated, err := r.remote.UpdateLastUseTime(ctx, userID, shareID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update last use time: %w", err)
	}
	_, err = r.cacheOne(ctx, userID, shareID, updated)
	return err
}

func (r *repository) cacheOne(ctx context.Context, userID, shareID string, item models.Item) (*models.SymmetricallyEncryptedItem, error) {
	encrypted, err := r.UpsertItems(ctx, userID, shareID, []models.Item{item})
	if err != nil {
		return nil, err
	}
	return &encrypted[0], nil
}

func (r *repository) TrashItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem) error {
	r.log.Debug(ctx, "trashing items", "count", len(items))
	return r.mutateBatched(ctx, userID, items, r.remote.TrashItems)
}

func (r *repository) UntrashItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem) error {
	r.log.Debug(ctx, "untrashing items", "count", len(items))
	return r.mutateBatched(ctx, userID, items, r.remote.UntrashItems)
}

// mutateBatched groups items by share, chunks each group and applies the
// remote batch endpoint. Local rows are updated from the server-returned
// metadata, which carries the authoritative new revisions.
func (r *repository) mutateBatched(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem,
	call func(ctx context.Context, userID, shareID string, items []ItemRevision) ([]models.ModifiedItem, error)) error {

	var refs []models.ItemRef
	for shareID, group := range groupByShare(items) {
		for _, page := range chunk(revisions(group), batchPageSize) {
			modified, err := call(ctx, userID, shareID, page)
			if err != nil {
				return err
			}
			if err := r.local.UpdateItems(ctx, userID, shareID, modified); err != nil {
				return err
			}
			for _, m := range modified {
				refs = append(refs, models.ItemRef{ShareID: shareID, ItemID: m.ItemID})
			}
		}
	}
	if len(refs) > 0 {
		r.updated.Send(refs)
	}
	return nil
}

func (r *repository) DeleteItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem, skipTrash bool) error {
	r.log.Debug(ctx, "deleting items", "count", len(items))

	var refs []models.ItemRef
	for shareID, group := range groupByShare(items) {
		for _, page := range chunk(group, batchPageSize) {
			if err := r.remote.DeleteItems(ctx, userID, shareID, revisions(page), skipTrash); err != nil {
				return err
			}
			ids := make([]string, 0, len(page))
			for _, e := range page {
				ids = append(ids, e.Item.ItemID)
				refs = append(refs, e.Ref())
			}
			if err := r.local.DeleteItems(ctx, userID, shareID, ids); err != nil {
				return err
			}
		}
	}
	if len(refs) > 0 {
		r.updated.Send(refs)
	}
	return nil
}

func (r *repository) Move(ctx context.Context, userID string, item models.SymmetricallyEncryptedItem, toShareID string) (*models.SymmetricallyEncryptedItem, error) {
	destKey, err := r.keyManager.LatestShareKey(ctx, userID, toShareID)
	if err != nil {
		return nil, err
	}
	moved, err := r.moveChunk(ctx, userID, item.ShareID, toShareID, destKey, []models.SymmetricallyEncryptedItem{item})
	if err != nil {
		return nil, err
	}
	if len(moved) != 1 {
		return nil, fmt.Errorf("move of item %s returned %d items", item.Item.ItemID, len(moved))
	}
	r.updated.Send([]models.ItemRef{item.Ref(), moved[0].Ref()})
	return &moved[0], nil
}

// MoveItems moves items into the destination share, chunked and with the
// chunks running concurrently. A chunk failure aborts the whole call; chunks
// that already completed stay moved and are reconciled by the next full sync.
func (r *repository) MoveItems(ctx context.Context, userID string, items []models.SymmetricallyEncryptedItem, toShareID string) error {
	if len(items) == 0 {
		return common.ErrEmptyItems
	}
	r.log.Debug(ctx, "moving items", "count", len(items), "toShareId", toShareID)

	destKey, err := r.keyManager.LatestShareKey(ctx, userID, toShareID)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var refs []models.ItemRef

	g, gctx := errgroup.WithContext(ctx)
	for shareID, group := range groupByShare(items) {
		for _, page := range chunk(group, batchPageSize) {
			g.Go(func() error {
				moved, err := r.moveChunk(gctx, userID, shareID, toShareID, destKey, page)
				if err != nil {
					return err
				}
				mu.Lock()
				for _, e := range page {
					refs = append(refs, e.Ref())
				}
				for _, e := range moved {
					refs = append(refs, e.Ref())
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.updated.Send(refs)
	return nil
}

func (r *repository) MoveAll(ctx context.Context, userID, fromShareID, toShareID string) error {
	items, err := r.local.GetItems(ctx, userID, fromShareID)
	if err != nil {
		return err
	}
	return r.MoveItems(ctx, userID, items, toShareID)
}

// moveChunk performs one remote move call: re-encrypt each item's content and
// keys for the destination, call remote, cache the returned revisions and
// drop the old rows.
func (r *repository) moveChunk(ctx context.Context, userID, fromShareID, toShareID string,
	destKey keys.DecryptedShareKey, page []models.SymmetricallyEncryptedItem) ([]models.SymmetricallyEncryptedItem, error) {

	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}

	req := MoveItemsRequest{ShareID: toShareID}
	oldIDs := make([]string, 0, len(page))
	for _, e := range page {
		plain, err := cryptox.Open(symKey, e.EncryptedContent, cryptox.ADItemContent)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt item %s for move: %w", e.Item.ItemID, err)
		}
		sealed, err := cryptox.Seal(destKey.Key, plain, cryptox.ADItemContent)
		if err != nil {
			return nil, err
		}

		var itemKeys []MoveItemKey
		if e.Item.ItemKey != "" {
			itemKeys, err = r.crypto.RewrapItemKeys(ctx, userID, fromShareID, e.Item.ItemID, destKey)
			if err != nil {
				return nil, err
			}
		}

		req.Items = append(req.Items, MoveItem{
			ItemID:               e.Item.ItemID,
			ContentFormatVersion: e.Item.ContentFormatVersion,
			Content:              base64.StdEncoding.EncodeToString(sealed),
			KeyRotation:          destKey.KeyRotation,
			ItemKeys:             itemKeys,
		})
		oldIDs = append(oldIDs, e.Item.ItemID)
	}

	movedItems, err := r.remote.Move(ctx, userID, fromShareID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to move items: %w", err)
	}

	encrypted := make([]models.SymmetricallyEncryptedItem, 0, len(movedItems))
	for _, item := range movedItems {
		e, err := r.crypto.SymmetricallyEncrypt(ctx, userID, toShareID, item)
		if err != nil {
			return nil, err
		}
		encrypted = append(encrypted, e)
	}

	if err := r.local.DeleteItems(ctx, userID, fromShareID, oldIDs); err != nil {
		return nil, err
	}
	if err := r.local.UpsertItems(ctx, encrypted); err != nil {
		return nil, err
	}
	return encrypted, nil
}

func (r *repository) DeleteItemsLocally(ctx context.Context, userID, shareID string, itemIDs []string) error {
	if err := r.local.DeleteItems(ctx, userID, shareID, itemIDs); err != nil {
		return err
	}
	refs := make([]models.ItemRef, 0, len(itemIDs))
	for _, id := range itemIDs {
		refs = append(refs, models.ItemRef{ShareID: shareID, ItemID: id})
	}
	r.updated.Send(refs)
	return nil
}

func (r *repository) DeleteAllItemsForShareLocally(ctx context.Context, userID, shareID string) error {
	return r.local.DeleteAllItemsForShare(ctx, userID, shareID)
}

func (r *repository) DeleteAllItemsLocally(ctx context.Context, userID string) error {
	return r.local.DeleteAllItems(ctx, userID)
}

func (r *repository) notify(items []models.SymmetricallyEncryptedItem) {
	if len(items) == 0 {
		return
	}
	refs := make([]models.ItemRef, 0, len(items))
	for _, e := range items {
		refs = append(refs, e.Ref())
	}
	r.updated.Send(refs)
}

func groupByShare(items []models.SymmetricallyEncryptedItem) map[string][]models.SymmetricallyEncryptedItem {
	groups := make(map[string][]models.SymmetricallyEncryptedItem)
	for _, e := range items {
		groups[e.ShareID] = append(groups[e.ShareID], e)
	}
	return groups
}

func revisions(items []models.SymmetricallyEncryptedItem) []ItemRevision {
	out := make([]ItemRevision, 0, len(items))
	for _, e := range items {
		out = append(out, ItemRevision{ItemID: e.Item.ItemID, Revision: e.Item.Revision})
	}
	return out
}

func chunk[T any](in []T, size int) [][]T {
	if len(in) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(in)+size-1)/size)
	for size < len(in) {
		out = append(out, in[:size])
		in = in[size:]
	}
	return append(out, in)
}
