// Package shareevents tracks the last consumed sync-event id per share. The
// event id is an opaque server cursor; the sync loop reads it to fetch only
// what changed since the previous pass.
package shareevents

import (
	"context"
	"errors"

	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/logging"
)

// Remote fetches the current event cursor of a share from the server.
type Remote interface {
	GetLastEventID(ctx context.Context, userID, shareID string) (string, error)
}

// Repository is the cache-aside store of per-share event cursors.
type Repository interface {
	// LastEventID returns the cached cursor of a share. With forceRefresh, or
	// when nothing is cached, the cursor is fetched from remote and stored.
	LastEventID(ctx context.Context, userID, shareID string, forceRefresh bool) (string, error)

	// UpsertLastEventID stores a new cursor for a share.
	UpsertLastEventID(ctx context.Context, userID, shareID, eventID string) error
}

type repository struct {
	local  *LocalDatasource
	remote Remote
	log    logging.Logger
}

func NewRepository(local *LocalDatasource, remote Remote, log logging.Logger) Repository {
	return &repository{local: local, remote: remote, log: log}
}

func (r *repository) LastEventID(ctx context.Context, userID, shareID string, forceRefresh bool) (string, error) {
	if !forceRefresh {
		cached, err := r.local.GetLastEventID(ctx, userID, shareID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return "", err
		}
	}

	r.log.Debug(ctx, "fetching last event id", "shareId", shareID)
	eventID, err := r.remote.GetLastEventID(ctx, userID, shareID)
	if err != nil {
		return "", err
	}
	if err := r.local.UpsertLastEventID(ctx, userID, shareID, eventID); err != nil {
		return "", err
	}
	return eventID, nil
}

func (r *repository) UpsertLastEventID(ctx context.Context, userID, shareID, eventID string) error {
	return r.local.UpsertLastEventID(ctx, userID, shareID, eventID)
}
