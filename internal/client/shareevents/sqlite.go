package shareevents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passvault.dev/passvault/internal/common"
)

// LocalDatasource persists event cursors in SQLite.
type LocalDatasource struct {
	db *sql.DB
}

func NewLocalDatasource(db *sql.DB) *LocalDatasource {
	return &LocalDatasource{db: db}
}

// GetLastEventID returns the cached cursor, or common.ErrNotFound when the
// share has no cursor yet.
func (d *LocalDatasource) GetLastEventID(ctx context.Context, userID, shareID string) (string, error) {
	query := `SELECT last_event_id FROM share_events WHERE user_id = ? AND share_id = ?`
	var eventID string
	err := d.db.QueryRowContext(ctx, query, userID, shareID).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to select last event id: %w", err)
	}
	return eventID, nil
}

func (d *LocalDatasource) UpsertLastEventID(ctx context.Context, userID, shareID, eventID string) error {
	query := `INSERT INTO share_events (share_id, user_id, last_event_id) VALUES (?, ?, ?)
		ON CONFLICT(share_id) DO UPDATE SET user_id = excluded.user_id, last_event_id = excluded.last_event_id`
	if _, err := d.db.ExecContext(ctx, query, shareID, userID, eventID); err != nil {
		return fmt.Errorf("failed to upsert last event id: %w", err)
	}
	return nil
}

// DeleteAll removes every cursor of a user.
func (d *LocalDatasource) DeleteAll(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM share_events WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete event cursors: %w", err)
	}
	return nil
}
