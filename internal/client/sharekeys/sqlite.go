package sharekeys

import (
	"context"
	"database/sql"
	"fmt"

	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/dbx"
)

// LocalDatasource persists re-encrypted share keys in SQLite.
type LocalDatasource struct {
	db *sql.DB
}

func NewLocalDatasource(db *sql.DB) *LocalDatasource {
	return &LocalDatasource{db: db}
}

// GetKeys returns the cached keys of a share ordered by rotation.
func (d *LocalDatasource) GetKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error) {
	query := `SELECT user_id, share_id, key_rotation, user_key_id, remote_key, create_time, encrypted_key
		FROM share_keys WHERE user_id = ? AND share_id = ? ORDER BY key_rotation`
	rows, err := d.db.QueryContext(ctx, query, userID, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to select share keys: %w", err)
	}
	defer rows.Close()

	var result []models.SymmetricallyEncryptedShareKey
	for rows.Next() {
		var k models.SymmetricallyEncryptedShareKey
		if err := rows.Scan(&k.UserID, &k.ShareID, &k.KeyRotation,
			&k.ShareKey.UserKeyID, &k.ShareKey.Key, &k.ShareKey.CreateTime, &k.EncryptedKey); err != nil {
			return nil, err
		}
		k.ShareKey.KeyRotation = k.KeyRotation
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertKeys writes a batch of keys in a single transaction.
func (d *LocalDatasource) UpsertKeys(ctx context.Context, batch []models.SymmetricallyEncryptedShareKey) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `INSERT INTO share_keys (user_id, share_id, key_rotation, user_key_id, remote_key, create_time, encrypted_key)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(share_id, key_rotation) DO UPDATE SET
				user_id = excluded.user_id,
				user_key_id = excluded.user_key_id,
				remote_key = excluded.remote_key,
				create_time = excluded.create_time,
				encrypted_key = excluded.encrypted_key`
		for _, k := range batch {
			_, err := tx.ExecContext(ctx, query,
				k.UserID, k.ShareID, k.KeyRotation,
				k.ShareKey.UserKeyID, k.ShareKey.Key, k.ShareKey.CreateTime, k.EncryptedKey)
			if err != nil {
				return fmt.Errorf("failed to upsert share key: %w", err)
			}
		}
		return nil
	})
}

// DeleteAllKeys removes every cached key of a user.
func (d *LocalDatasource) DeleteAllKeys(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM share_keys WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete share keys: %w", err)
	}
	return nil
}
