// Package sync reconciles the local cache with the server: a full pass
// discovers new and vanished shares, an incremental pass applies per-share
// event feeds (updated share metadata, item upserts, item deletions, key
// rotations) until the cursor catches up.
package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"passvault.dev/passvault/internal/client/items"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/client/shareevents"
	"passvault.dev/passvault/internal/client/sharekeys"
	"passvault.dev/passvault/internal/client/shares"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/logging"
)

// ShareEvents is one page of a share's event feed.
type ShareEvents struct {
	// LatestEventID is the cursor to persist after applying this page.
	LatestEventID string

	// FullRefresh signals that the feed cannot express the delta; the caller
	// must re-fetch the whole share.
	FullRefresh bool

	UpdatedShare   *models.Share
	UpdatedItems   []models.Item
	DeletedItemIDs []string

	// NewKeyRotation is set when the share's key was rotated since the last
	// cursor.
	NewKeyRotation *int64

	// EventsPending reports that more pages are available.
	EventsPending bool
}

// EventsRemote fetches a share's event feed.
type EventsRemote interface {
	GetShareEvents(ctx context.Context, userID, shareID, sinceEventID string) (ShareEvents, error)
}

// ShareVerifier confirms whether a share still exists remotely.
type ShareVerifier interface {
	GetShare(ctx context.Context, userID, shareID string) (models.Share, error)
}

// Synchronizer drives full and incremental sync over the repositories.
type Synchronizer struct {
	shares    shares.Repository
	items     items.Repository
	shareKeys sharekeys.Repository
	events    shareevents.Repository
	remote    EventsRemote
	verifier  ShareVerifier
	log       logging.Logger

	// generation lets a restarted full sync supersede an in-flight one.
	generation atomic.Uint64
}

func NewSynchronizer(sharesRepo shares.Repository, itemsRepo items.Repository,
	shareKeys sharekeys.Repository, events shareevents.Repository,
	remote EventsRemote, verifier ShareVerifier, log logging.Logger) *Synchronizer {
	return &Synchronizer{
		shares:    sharesRepo,
		items:     itemsRepo,
		shareKeys: shareKeys,
		events:    events,
		remote:    remote,
		verifier:  verifier,
		log:       log,
	}
}

// SyncAll runs one full reconciliation pass: refresh the share listing, fully
// fetch shares seen for the first time, apply event feeds to known shares and
// drop shares the server confirms as gone. Per-share work runs concurrently.
func (s *Synchronizer) SyncAll(ctx context.Context, userID string) error {
	gen := s.generation.Add(1)
	s.log.Info(ctx, "starting full sync", "userId", userID)

	before, err := s.shares.GetShares(ctx, userID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(before))
	for _, es := range before {
		known[es.Share.ShareID] = true
	}

	encrypted, skipped, err := s.shares.RefreshShares(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to refresh shares: %w", err)
	}

	remoteIDs := make(map[string]bool, len(encrypted)+len(skipped))
	for _, es := range encrypted {
		remoteIDs[es.Share.ShareID] = true
	}
	for _, sk := range skipped {
		remoteIDs[sk.Share.ShareID] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, es := range encrypted {
		shareID := es.Share.ShareID
		g.Go(func() error {
			if s.generation.Load() != gen {
				return nil
			}
			if known[shareID] {
				return s.SyncShare(gctx, userID, shareID)
			}
			return s.fetchShare(gctx, userID, shareID)
		})
	}
	for shareID := range known {
		if remoteIDs[shareID] {
			continue
		}
		g.Go(func() error {
			return s.reconcileMissingShare(gctx, userID, shareID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info(ctx, "full sync done", "userId", userID, "shares", len(encrypted), "skipped", len(skipped))
	return nil
}

// fetchShare fully loads a share first seen on this device: keys plus items.
// The item refresh also force-refreshes the event cursor, so the next pass
// can go incremental.
func (s *Synchronizer) fetchShare(ctx context.Context, userID, shareID string) error {
	s.log.Debug(ctx, "fetching new share", "shareId", shareID)

	if _, err := s.shareKeys.RefreshKeys(ctx, userID, shareID); err != nil {
		return err
	}
	return s.items.RefreshItems(ctx, userID, shareID)
}

// SyncShare applies the event feed of one share until no events are pending.
func (s *Synchronizer) SyncShare(ctx context.Context, userID, shareID string) error {
	cursor, err := s.events.LastEventID(ctx, userID, shareID, false)
	if err != nil {
		return err
	}

	for {
		events, err := s.remote.GetShareEvents(ctx, userID, shareID, cursor)
		if common.HasAPICode(err, common.CodeDisabledShare) {
			s.log.Info(ctx, "share disabled, dropping local copy", "shareId", shareID)
			return s.dropShareLocally(ctx, userID, shareID)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch share events: %w", err)
		}

		if events.FullRefresh {
			s.log.Debug(ctx, "event feed requires full refresh", "shareId", shareID)
			if err := s.fetchShare(ctx, userID, shareID); err != nil {
				return err
			}
			return s.events.UpsertLastEventID(ctx, userID, shareID, events.LatestEventID)
		}

		if err := s.apply(ctx, userID, shareID, events); err != nil {
			return err
		}
		if err := s.events.UpsertLastEventID(ctx, userID, shareID, events.LatestEventID); err != nil {
			return err
		}
		cursor = events.LatestEventID

		if !events.EventsPending {
			return nil
		}
	}
}

func (s *Synchronizer) apply(ctx context.Context, userID, shareID string, events ShareEvents) error {
	if events.NewKeyRotation != nil {
		s.log.Debug(ctx, "share key rotated", "shareId", shareID, "rotation", *events.NewKeyRotation)
		if _, err := s.shareKeys.RefreshKeys(ctx, userID, shareID); err != nil {
			return err
		}
	}
	if events.UpdatedShare != nil {
		if _, _, err := s.shares.UpsertShares(ctx, userID, []models.Share{*events.UpdatedShare}); err != nil {
			return err
		}
	}
	if len(events.UpdatedItems) > 0 {
		if _, err := s.items.UpsertItems(ctx, userID, shareID, events.UpdatedItems); err != nil {
			return err
		}
	}
	if len(events.DeletedItemIDs) > 0 {
		if err := s.items.DeleteItemsLocally(ctx, userID, shareID, events.DeletedItemIDs); err != nil {
			return err
		}
	}
	return nil
}

// reconcileMissingShare handles a share present locally but absent from the
// remote listing. Only a server-confirmed disabled share is dropped; any
// other answer keeps the local copy for the next pass.
func (s *Synchronizer) reconcileMissingShare(ctx context.Context, userID, shareID string) error {
	_, err := s.verifier.GetShare(ctx, userID, shareID)
	if err == nil {
		return nil
	}
	if common.HasAPICode(err, common.CodeDisabledShare) {
		s.log.Info(ctx, "share no longer accessible, dropping local copy", "shareId", shareID)
		return s.dropShareLocally(ctx, userID, shareID)
	}
	return fmt.Errorf("failed to verify share %s: %w", shareID, err)
}

func (s *Synchronizer) dropShareLocally(ctx context.Context, userID, shareID string) error {
	if err := s.items.DeleteAllItemsForShareLocally(ctx, userID, shareID); err != nil {
		return err
	}
	return s.shares.DeleteShareLocally(ctx, userID, shareID)
}
