package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/dbx"
)

// LocalDatasource persists re-encrypted items in SQLite.
type LocalDatasource struct {
	db *sql.DB
}

func NewLocalDatasource(db *sql.DB) *LocalDatasource {
	return &LocalDatasource{db: db}
}

const itemColumns = `share_id, item_id, user_id, revision, content_format_version,
	key_rotation, content, item_key, state, pinned, alias_email,
	create_time, modify_time, last_use_time, revision_time, encrypted_content, is_login`

func scanItem(scan func(dest ...any) error) (models.SymmetricallyEncryptedItem, error) {
	var e models.SymmetricallyEncryptedItem
	var pinned, isLogin int64
	err := scan(&e.ShareID, &e.Item.ItemID, &e.UserID, &e.Item.Revision, &e.Item.ContentFormatVersion,
		&e.Item.KeyRotation, &e.Item.Content, &e.Item.ItemKey, &e.Item.State, &pinned, &e.Item.AliasEmail,
		&e.Item.CreateTime, &e.Item.ModifyTime, &e.Item.LastUseTime, &e.Item.RevisionTime, &e.EncryptedContent, &isLogin)
	if err != nil {
		return e, err
	}
	e.Item.Pinned = pinned != 0
	e.IsLogInItem = isLogin != 0
	return e, nil
}

func (d *LocalDatasource) queryItems(ctx context.Context, query string, args ...any) ([]models.SymmetricallyEncryptedItem, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []models.SymmetricallyEncryptedItem
	for rows.Next() {
		e, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAllItems returns every cached item of a user, optionally filtered by state.
func (d *LocalDatasource) GetAllItems(ctx context.Context, userID string, state *models.ItemState) ([]models.SymmetricallyEncryptedItem, error) {
	if state != nil {
		return d.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE user_id = ? AND state = ?`, userID, *state)
	}
	return d.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE user_id = ?`, userID)
}

// GetItems returns the cached items of one share.
func (d *LocalDatasource) GetItems(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedItem, error) {
	return d.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE user_id = ? AND share_id = ?`, userID, shareID)
}

// GetItem returns one cached item, or common.ErrNotFound.
func (d *LocalDatasource) GetItem(ctx context.Context, userID, shareID, itemID string) (models.SymmetricallyEncryptedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ? AND share_id = ? AND item_id = ?`
	e, err := scanItem(d.db.QueryRowContext(ctx, query, userID, shareID, itemID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return e, common.ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("failed to select item: %w", err)
	}
	return e, nil
}

// GetAliasItem returns the item owning the given alias address.
func (d *LocalDatasource) GetAliasItem(ctx context.Context, userID, email string) (models.SymmetricallyEncryptedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ? AND alias_email = ?`
	e, err := scanItem(d.db.QueryRowContext(ctx, query, userID, email).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return e, common.ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("failed to select alias item: %w", err)
	}
	return e, nil
}

// GetActiveLogInItems returns all active items tagged as logins.
func (d *LocalDatasource) GetActiveLogInItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ? AND is_login = 1 AND state = ?`
	return d.queryItems(ctx, query, userID, models.ItemStateActive)
}

// GetPinnedItems returns all pinned items of a user.
func (d *LocalDatasource) GetPinnedItems(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedItem, error) {
	return d.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE user_id = ? AND pinned = 1`, userID)
}

const upsertItemQuery = `INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(share_id, item_id) DO UPDATE SET
		user_id = excluded.user_id,
		revision = excluded.revision,
		content_format_version = excluded.content_format_version,
		key_rotation = excluded.key_rotation,
		content = excluded.content,
		item_key = excluded.item_key,
		state = excluded.state,
		pinned = excluded.pinned,
		alias_email = excluded.alias_email,
		create_time = excluded.create_time,
		modify_time = excluded.modify_time,
		last_use_time = excluded.last_use_time,
		revision_time = excluded.revision_time,
		encrypted_content = excluded.encrypted_content,
		is_login = excluded.is_login`

func upsertItem(ctx context.Context, tx dbx.DBTX, e models.SymmetricallyEncryptedItem) error {
	_, err := tx.ExecContext(ctx, upsertItemQuery,
		e.ShareID, e.Item.ItemID, e.UserID, e.Item.Revision, e.Item.ContentFormatVersion,
		e.Item.KeyRotation, e.Item.Content, e.Item.ItemKey, e.Item.State, e.Item.Pinned, e.Item.AliasEmail,
		e.Item.CreateTime, e.Item.ModifyTime, e.Item.LastUseTime, e.Item.RevisionTime, e.EncryptedContent, e.IsLogInItem)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// UpsertItems writes a batch of items in a single transaction.
func (d *LocalDatasource) UpsertItems(ctx context.Context, batch []models.SymmetricallyEncryptedItem) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, e := range batch {
			if err := upsertItem(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAllForShare swaps the cached item listing of a share for the given
// one in a single transaction, so readers never observe a half-refreshed
// share.
func (d *LocalDatasource) ReplaceAllForShare(ctx context.Context, userID, shareID string, items []models.SymmetricallyEncryptedItem) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE user_id = ? AND share_id = ?`, userID, shareID); err != nil {
			return fmt.Errorf("failed to clear share items: %w", err)
		}
		for _, e := range items {
			if err := upsertItem(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateItems applies server-confirmed mutation results to the cached rows.
func (d *LocalDatasource) UpdateItems(ctx context.Context, userID, shareID string, modified []models.ModifiedItem) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE items SET revision = ?, state = ?, modify_time = ?, revision_time = ?
			WHERE user_id = ? AND share_id = ? AND item_id = ?`
		for _, m := range modified {
			if _, err := tx.ExecContext(ctx, query,
				m.Revision, m.State, m.ModifyTime, m.RevisionTime, userID, shareID, m.ItemID); err != nil {
				return fmt.Errorf("failed to update item: %w", err)
			}
		}
		return nil
	})
}

// DeleteItems removes the given items of a share from the cache.
func (d *LocalDatasource) DeleteItems(ctx context.Context, userID, shareID string, itemIDs []string) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, itemID := range itemIDs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM items WHERE user_id = ? AND share_id = ? AND item_id = ?`, userID, shareID, itemID); err != nil {
				return fmt.Errorf("failed to delete item: %w", err)
			}
		}
		return nil
	})
}

// DeleteAllItemsForShare removes every cached item of one share.
func (d *LocalDatasource) DeleteAllItemsForShare(ctx context.Context, userID, shareID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM items WHERE user_id = ? AND share_id = ?`, userID, shareID); err != nil {
		return fmt.Errorf("failed to delete share items: %w", err)
	}
	return nil
}

// DeleteAllItems removes every cached item of a user.
func (d *LocalDatasource) DeleteAllItems(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}
