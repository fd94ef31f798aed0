// Package invites handles pending vault-share invitations: listing, accepting
// and rejecting. Accepted invites materialize as new shares in the local
// cache. A known staleness class (accepting an already-revoked invite) is
// self-healed by dropping the stale invite and reloading before the error is
// surfaced.
package invites

import (
	"context"
	"fmt"
	"sync/atomic"

	"passvault.dev/passvault/internal/broadcast"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/client/shares"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/logging"
)

// InviteVaultData is the encrypted vault preview attached to an invite.
type InviteVaultData struct {
	Content              string
	ContentKeyRotation   int64
	ContentFormatVersion int64
	MemberCount          int64
	ItemCount            int64
}

// Invite is a pending invitation to join a vault.
type Invite struct {
	InviteToken      string
	InviterEmail     string
	InvitedAddressID string
	TargetType       int64
	TargetID         string
	RemindersSent    int64
	VaultData        InviteVaultData
	CreateTime       int64
}

// Remote is the server API surface for invitations.
type Remote interface {
	GetInvites(ctx context.Context, userID string) ([]Invite, error)

	// AcceptInvite redeems the invite and returns the share it grants.
	AcceptInvite(ctx context.Context, userID, inviteToken string) (models.Share, error)

	RejectInvite(ctx context.Context, userID, inviteToken string) error
}

// ShareUpserter caches the share an accepted invite grants.
type ShareUpserter interface {
	UpsertShares(ctx context.Context, userID string, remoteShares []models.Share) ([]models.SymmetricallyEncryptedShare, []shares.SkippedShare, error)
}

// Repository lists and resolves pending invites.
type Repository interface {
	// Invites replays the latest invite listing to subscribers.
	Invites() *broadcast.Value[[]Invite]

	// Refresh reloads the invite listing from remote. Concurrent refreshes
	// are last-writer-wins: an older in-flight refresh never overwrites a
	// newer one.
	Refresh(ctx context.Context, userID string) error

	// AcceptInvite redeems an invite and caches the granted share. If the
	// server reports the invite as no longer valid, the stale local invite
	// is dropped and the listing reloaded before the error is returned.
	AcceptInvite(ctx context.Context, userID string, invite Invite) (*models.SymmetricallyEncryptedShare, error)

	RejectInvite(ctx context.Context, userID string, invite Invite) error
}

type repository struct {
	remote     Remote
	shares     ShareUpserter
	log        logging.Logger
	invites    *broadcast.Value[[]Invite]
	generation atomic.Uint64
}

func NewRepository(remote Remote, shares ShareUpserter, log logging.Logger) Repository {
	return &repository{
		remote:  remote,
		shares:  shares,
		log:     log,
		invites: broadcast.NewValue[[]Invite](nil),
	}
}

func (r *repository) Invites() *broadcast.Value[[]Invite] {
	return r.invites
}

func (r *repository) Refresh(ctx context.Context, userID string) error {
	gen := r.generation.Add(1)

	fetched, err := r.remote.GetInvites(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch invites: %w", err)
	}

	// A newer refresh started while this one was in flight; its result wins.
	if r.generation.Load() != gen {
		return nil
	}
	r.invites.Send(fetched)
	return nil
}

func (r *repository) AcceptInvite(ctx context.Context, userID string, invite Invite) (*models.SymmetricallyEncryptedShare, error) {
	r.log.Debug(ctx, "accepting invite", "targetId", invite.TargetID)

	share, err := r.remote.AcceptInvite(ctx, userID, invite.InviteToken)
	if err != nil {
		if common.HasAPICode(err, common.CodeInvalidValue) {
			r.repairStaleInvite(ctx, userID, invite)
		}
		return nil, fmt.Errorf("failed to accept invite: %w", err)
	}

	encrypted, skipped, err := r.shares.UpsertShares(ctx, userID, []models.Share{share})
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 || len(encrypted) != 1 {
		return nil, fmt.Errorf("failed to cache accepted share %s: %w", share.ShareID, common.ErrKeysNotFound)
	}

	if err := r.Refresh(ctx, userID); err != nil {
		r.log.Warn(ctx, "failed to reload invites after accept", "error", err)
	}
	return &encrypted[0], nil
}

// repairStaleInvite drops the invite from the local listing and kicks off a
// reload. The accept error is still surfaced by the caller.
func (r *repository) repairStaleInvite(ctx context.Context, userID string, stale Invite) {
	r.log.Warn(ctx, "dropping stale invite", "targetId", stale.TargetID)

	current := r.invites.Current()
	remaining := make([]Invite, 0, len(current))
	for _, inv := range current {
		if inv.InviteToken != stale.InviteToken {
			remaining = append(remaining, inv)
		}
	}
	r.invites.Send(remaining)

	if err := r.Refresh(ctx, userID); err != nil {
		r.log.Warn(ctx, "failed to reload invites after repair", "error", err)
	}
}

func (r *repository) RejectInvite(ctx context.Context, userID string, invite Invite) error {
	if err := r.remote.RejectInvite(ctx, userID, invite.InviteToken); err != nil {
		return fmt.Errorf("failed to reject invite: %w", err)
	}
	return r.Refresh(ctx, userID)
}
