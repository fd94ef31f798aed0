package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/dbx"
)

// LocalDatasource persists re-encrypted shares in SQLite.
type LocalDatasource struct {
	db *sql.DB
}

func NewLocalDatasource(db *sql.DB) *LocalDatasource {
	return &LocalDatasource{db: db}
}

const shareColumns = `share_id, user_id, vault_id, address_id, share_type,
	content, content_key_rotation, content_format_version, owner, share_role_id,
	target_type, target_id, permission, target_members, target_max_members,
	pending_invites, new_user_invites_ready, shared, expire_time, create_time,
	encrypted_content`

func scanShare(scan func(dest ...any) error) (models.SymmetricallyEncryptedShare, error) {
	var s models.SymmetricallyEncryptedShare
	var owner, shared int64
	err := scan(&s.Share.ShareID, &s.UserID, &s.Share.VaultID, &s.Share.AddressID, &s.Share.ShareType,
		&s.Share.Content, &s.Share.ContentKeyRotation, &s.Share.ContentFormatVersion, &owner, &s.Share.ShareRoleID,
		&s.Share.TargetType, &s.Share.TargetID, &s.Share.Permission, &s.Share.TargetMembers, &s.Share.TargetMaxMembers,
		&s.Share.PendingInvites, &s.Share.NewUserInvitesReady, &shared, &s.Share.ExpireTime, &s.Share.CreateTime,
		&s.EncryptedContent)
	if err != nil {
		return s, err
	}
	s.Share.Owner = owner != 0
	s.Share.Shared = shared != 0
	return s, nil
}

// GetAllShares returns every cached share of a user.
func (d *LocalDatasource) GetAllShares(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedShare, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE user_id = ?`
	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select shares: %w", err)
	}
	defer rows.Close()

	var result []models.SymmetricallyEncryptedShare
	for rows.Next() {
		s, err := scanShare(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetShare returns one cached share, or common.ErrNotFound.
func (d *LocalDatasource) GetShare(ctx context.Context, userID, shareID string) (models.SymmetricallyEncryptedShare, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE user_id = ? AND share_id = ?`
	s, err := scanShare(d.db.QueryRowContext(ctx, query, userID, shareID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, common.ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("failed to select share: %w", err)
	}
	return s, nil
}

// UpsertShares writes a batch of shares in a single transaction. Either the
// whole batch lands or none of it does.
func (d *LocalDatasource) UpsertShares(ctx context.Context, batch []models.SymmetricallyEncryptedShare) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `INSERT INTO shares (` + shareColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(share_id) DO UPDATE SET
				user_id = excluded.user_id,
				vault_id = excluded.vault_id,
				address_id = excluded.address_id,
				share_type = excluded.share_type,
				content = excluded.content,
				content_key_rotation = excluded.content_key_rotation,
				content_format_version = excluded.content_format_version,
				owner = excluded.owner,
				share_role_id = excluded.share_role_id,
				target_type = excluded.target_type,
				target_id = excluded.target_id,
				permission = excluded.permission,
				target_members = excluded.target_members,
				target_max_members = excluded.target_max_members,
				pending_invites = excluded.pending_invites,
				new_user_invites_ready = excluded.new_user_invites_ready,
				shared = excluded.shared,
				expire_time = excluded.expire_time,
				create_time = excluded.create_time,
				encrypted_content = excluded.encrypted_content`
		for _, s := range batch {
			_, err := tx.ExecContext(ctx, query,
				s.Share.ShareID, s.UserID, s.Share.VaultID, s.Share.AddressID, s.Share.ShareType,
				s.Share.Content, s.Share.ContentKeyRotation, s.Share.ContentFormatVersion, s.Share.Owner, s.Share.ShareRoleID,
				s.Share.TargetType, s.Share.TargetID, s.Share.Permission, s.Share.TargetMembers, s.Share.TargetMaxMembers,
				s.Share.PendingInvites, s.Share.NewUserInvitesReady, s.Share.Shared, s.Share.ExpireTime, s.Share.CreateTime,
				s.EncryptedContent)
			if err != nil {
				return fmt.Errorf("failed to upsert share: %w", err)
			}
		}
		return nil
	})
}

// DeleteShare removes one cached share.
func (d *LocalDatasource) DeleteShare(ctx context.Context, userID, shareID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM shares WHERE user_id = ? AND share_id = ?`, userID, shareID); err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

// DeleteAllShares removes every cached share of a user.
func (d *LocalDatasource) DeleteAllShares(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM shares WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete shares: %w", err)
	}
	return nil
}
