// Package shares caches the user's shares (vaults and item-sharing grants).
// Share content arrives encrypted with a share key; the repository decrypts
// it once per refresh and stores it re-wrapped under the local symmetric key.
package shares

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"passvault.dev/passvault/internal/broadcast"
	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/client/session"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

// KeyManager resolves decrypted share keys.
type KeyManager interface {
	ShareKey(ctx context.Context, userID, shareID string, keyRotation int64) (keys.DecryptedShareKey, error)
	LatestShareKey(ctx context.Context, userID, shareID string) (keys.DecryptedShareKey, error)
}

// SkippedShare is a share whose content could not be re-encrypted because its
// key chain is currently unusable (e.g. addressed to an inactive user key).
// Skipped shares are reported, not persisted, so a later refresh can retry.
type SkippedShare struct {
	Share models.Share
	Err   error
}

// Repository gives access to locally cached shares and vault operations.
type Repository interface {
	GetShares(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedShare, error)
	GetShare(ctx context.Context, userID, shareID string) (models.SymmetricallyEncryptedShare, error)

	// GetRemoteShares returns the authoritative share listing without
	// touching the local cache.
	GetRemoteShares(ctx context.Context, userID string) ([]models.Share, error)

	// RefreshShares fetches all shares from remote and upserts them locally.
	RefreshShares(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedShare, []SkippedShare, error)

	// UpsertShares re-encrypts the given remote shares for local storage and
	// persists them atomically. Shares whose keys are unusable are returned
	// as skipped instead of failing the batch.
	UpsertShares(ctx context.Context, userID string, remoteShares []models.Share) ([]models.SymmetricallyEncryptedShare, []SkippedShare, error)

	GetVaults(ctx context.Context, userID string) ([]models.Vault, error)
	GetVault(ctx context.Context, userID, shareID string) (*models.Vault, error)

	CreateVault(ctx context.Context, userID string, content models.VaultContent) (*models.SymmetricallyEncryptedShare, error)
	EditVault(ctx context.Context, userID, shareID string, content models.VaultContent) error

	// DeleteVault deletes the vault remotely first, then drops the local
	// copy. A remote failure leaves the cache untouched.
	DeleteVault(ctx context.Context, userID, shareID string) error

	// DeleteShare revokes an item-sharing grant remotely, then drops the
	// local copy.
	DeleteShare(ctx context.Context, userID, shareID string) error

	DeleteShareLocally(ctx context.Context, userID, shareID string) error
	DeleteAllSharesLocally(ctx context.Context, userID string) error

	TransferVaultOwnership(ctx context.Context, userID, vaultShareID, newOwnerShareID string) error
	GetUsersLinked(ctx context.Context, userID, shareID string) ([]VaultUser, error)
	SetUserPermission(ctx context.Context, userID, shareID, memberShareID string, role models.ShareRole) error
	RevokeUserAccess(ctx context.Context, userID, shareID, memberShareID string) error

	// Progress emits a SyncProgressDecryptedShare event per re-encrypted
	// share during refreshes.
	Progress() *broadcast.Signal[models.SyncProgress]
}

type repository struct {
	local       *LocalDatasource
	remote      Remote
	keyManager  KeyManager
	sessions    session.Manager
	encryptor   keys.Encryptor
	symProvider keys.SymmetricKeyProvider
	log         logging.Logger
	progress    *broadcast.Signal[models.SyncProgress]
}

func NewRepository(local *LocalDatasource, remote Remote, keyManager KeyManager,
	sessions session.Manager, encryptor keys.Encryptor,
	symProvider keys.SymmetricKeyProvider, log logging.Logger) Repository {
	return &repository{
		local:       local,
		remote:      remote,
		keyManager:  keyManager,
		sessions:    sessions,
		encryptor:   encryptor,
		symProvider: symProvider,
		log:         log,
		progress:    broadcast.NewSignal[models.SyncProgress](),
	}
}

func (r *repository) Progress() *broadcast.Signal[models.SyncProgress] {
	return r.progress
}

func (r *repository) GetShares(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedShare, error) {
	return r.local.GetAllShares(ctx, userID)
}

func (r *repository) GetShare(ctx context.Context, userID, shareID string) (models.SymmetricallyEncryptedShare, error) {
	return r.local.GetShare(ctx, userID, shareID)
}

func (r *repository) GetRemoteShares(ctx context.Context, userID string) ([]models.Share, error) {
	return r.remote.GetShares(ctx, userID)
}

func (r *repository) RefreshShares(ctx context.Context, userID string) ([]models.SymmetricallyEncryptedShare, []SkippedShare, error) {
	r.log.Debug(ctx, "refreshing shares", "userId", userID)
	remoteShares, err := r.remote.GetShares(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch shares: %w", err)
	}
	return r.UpsertShares(ctx, userID, remoteShares)
}

func (r *repository) UpsertShares(ctx context.Context, userID string, remoteShares []models.Share) ([]models.SymmetricallyEncryptedShare, []SkippedShare, error) {
	encrypted, skipped, err := r.reencryptAll(ctx, userID, remoteShares)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range skipped {
		r.log.Warn(ctx, "skipping share with unusable keys", "shareId", s.Share.ShareID, "error", s.Err)
	}
	if err := r.local.UpsertShares(ctx, encrypted); err != nil {
		return nil, nil, err
	}
	for i := range encrypted {
		r.progress.Send(models.SyncProgress{
			Kind:    models.SyncProgressDecryptedShare,
			ShareID: encrypted[i].Share.ShareID,
			Share:   &encrypted[i].Share,
		})
	}
	return encrypted, skipped, nil
}

// reencryptAll re-encrypts shares concurrently, preserving input order.
// Inactive-user-key failures partition the share into skipped; any other
// failure aborts the batch.
func (r *repository) reencryptAll(ctx context.Context, userID string, remoteShares []models.Share) ([]models.SymmetricallyEncryptedShare, []SkippedShare, error) {
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	results := make([]*models.SymmetricallyEncryptedShare, len(remoteShares))
	var mu sync.Mutex
	var skipped []SkippedShare

	g, gctx := errgroup.WithContext(ctx)
	for i, share := range remoteShares {
		g.Go(func() error {
			es, err := r.reencrypt(gctx, userID, symKey, share)
			if common.IsInactiveUserKey(err) {
				mu.Lock()
				skipped = append(skipped, SkippedShare{Share: share, Err: err})
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &es
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	encrypted := make([]models.SymmetricallyEncryptedShare, 0, len(remoteShares))
	for _, es := range results {
		if es != nil {
			encrypted = append(encrypted, *es)
		}
	}
	return encrypted, skipped, nil
}

// reencrypt turns one remote share into its local cache envelope. Shares
// without content keep a nil envelope.
func (r *repository) reencrypt(ctx context.Context, userID string, symKey []byte, share models.Share) (models.SymmetricallyEncryptedShare, error) {
	es := models.SymmetricallyEncryptedShare{UserID: userID, Share: share}
	if share.Content == nil || share.ContentKeyRotation == nil {
		return es, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(*share.Content)
	if err != nil || len(ciphertext) <= cryptox.NonceSize {
		return es, &common.CorruptedContentError{ShareID: share.ShareID}
	}

	shareKey, err := r.keyManager.ShareKey(ctx, userID, share.ShareID, *share.ContentKeyRotation)
	if err != nil {
		return es, err
	}

	raw, err := cryptox.Open(shareKey.Key, ciphertext, cryptox.ADVaultContent)
	if err != nil {
		return es, fmt.Errorf("failed to decrypt content of share %s: %w", share.ShareID, err)
	}

	es.EncryptedContent, err = cryptox.Seal(symKey, []byte(base64.StdEncoding.EncodeToString(raw)), cryptox.ADVaultContent)
	if err != nil {
		return es, err
	}
	return es, nil
}

func (r *repository) GetVaults(ctx context.Context, userID string) ([]models.Vault, error) {
	shares, err := r.local.GetAllShares(ctx, userID)
	if err != nil {
		return nil, err
	}
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}

	vaults := make([]models.Vault, 0, len(shares))
	for i := range shares {
		vault, err := shares[i].ToVault(symKey)
		if err != nil {
			return nil, err
		}
		if vault != nil {
			vaults = append(vaults, *vault)
		}
	}
	return vaults, nil
}

func (r *repository) GetVault(ctx context.Context, userID, shareID string) (*models.Vault, error) {
	share, err := r.local.GetShare(ctx, userID, shareID)
	if err != nil {
		return nil, err
	}
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}
	vault, err := share.ToVault(symKey)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, common.ErrNotFound
	}
	return vault, nil
}

func (r *repository) CreateVault(ctx context.Context, userID string, content models.VaultContent) (*models.SymmetricallyEncryptedShare, error) {
	r.log.Debug(ctx, "creating vault", "userId", userID)

	user, err := r.sessions.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	addressKey, err := primaryActiveKey(user)
	if err != nil {
		return nil, err
	}

	vaultKey, err := cryptox.RandomBytes(cryptox.KeySize)
	if err != nil {
		return nil, err
	}
	serialized, err := content.Serialize()
	if err != nil {
		return nil, err
	}
	encryptedContent, err := cryptox.Seal(vaultKey, serialized, cryptox.ADVaultContent)
	if err != nil {
		return nil, err
	}
	encryptedVaultKey, err := r.encryptor.EncryptAndSign(ctx, vaultKey, addressKey.PublicKey,
		[]keys.DecryptionKey{{PrivateKey: addressKey.PrivateKey, Passphrase: addressKey.Passphrase}})
	if err != nil {
		return nil, err
	}

	share, err := r.remote.CreateVault(ctx, userID, CreateVaultRequest{
		AddressID:            addressKey.KeyID,
		Content:              base64.StdEncoding.EncodeToString(encryptedContent),
		ContentFormatVersion: 1,
		EncryptedVaultKey:    base64.StdEncoding.EncodeToString(encryptedVaultKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}

	encrypted, skipped, err := r.UpsertShares(ctx, userID, []models.Share{share})
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 || len(encrypted) != 1 {
		return nil, fmt.Errorf("failed to cache created vault %s: %w", share.ShareID, common.ErrKeysNotFound)
	}
	return &encrypted[0], nil
}

func (r *repository) EditVault(ctx context.Context, userID, shareID string, content models.VaultContent) error {
	r.log.Debug(ctx, "editing vault", "shareId", shareID)

	shareKey, err := r.keyManager.LatestShareKey(ctx, userID, shareID)
	if err != nil {
		return err
	}
	serialized, err := content.Serialize()
	if err != nil {
		return err
	}
	encryptedContent, err := cryptox.Seal(shareKey.Key, serialized, cryptox.ADVaultContent)
	if err != nil {
		return err
	}

	share, err := r.remote.UpdateVault(ctx, userID, shareID, UpdateVaultRequest{
		Content:              base64.StdEncoding.EncodeToString(encryptedContent),
		ContentFormatVersion: 1,
		KeyRotation:          shareKey.KeyRotation,
	})
	if err != nil {
		return fmt.Errorf("failed to update vault: %w", err)
	}

	_, _, err = r.UpsertShares(ctx, userID, []models.Share{share})
	return err
}

func (r *repository) DeleteVault(ctx context.Context, userID, shareID string) error {
	r.log.Debug(ctx, "deleting vault", "shareId", shareID)
	if err := r.remote.DeleteVault(ctx, userID, shareID); err != nil {
		return fmt.Errorf("failed to delete vault: %w", err)
	}
	return r.local.DeleteShare(ctx, userID, shareID)
}

func (r *repository) DeleteShare(ctx context.Context, userID, shareID string) error {
	r.log.Debug(ctx, "deleting share", "shareId", shareID)
	if err := r.remote.DeleteShare(ctx, userID, shareID); err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return r.local.DeleteShare(ctx, userID, shareID)
}

func (r *repository) DeleteShareLocally(ctx context.Context, userID, shareID string) error {
	return r.local.DeleteShare(ctx, userID, shareID)
}

func (r *repository) DeleteAllSharesLocally(ctx context.Context, userID string) error {
	return r.local.DeleteAllShares(ctx, userID)
}

func (r *repository) TransferVaultOwnership(ctx context.Context, userID, vaultShareID, newOwnerShareID string) error {
	return r.remote.TransferVaultOwnership(ctx, userID, vaultShareID, newOwnerShareID)
}

func (r *repository) GetUsersLinked(ctx context.Context, userID, shareID string) ([]VaultUser, error) {
	return r.remote.GetUsersLinked(ctx, userID, shareID)
}

func (r *repository) SetUserPermission(ctx context.Context, userID, shareID, memberShareID string, role models.ShareRole) error {
	return r.remote.UpdateUserPermission(ctx, userID, shareID, memberShareID, role)
}

func (r *repository) RevokeUserAccess(ctx context.Context, userID, shareID, memberShareID string) error {
	return r.remote.DeleteUserShare(ctx, userID, shareID, memberShareID)
}

func primaryActiveKey(user *session.User) (*session.UserKey, error) {
	for i := range user.Keys {
		if user.Keys[i].Active {
			return &user.Keys[i], nil
		}
	}
	return nil, fmt.Errorf("user %s has no active key: %w", user.ID, common.ErrKeysNotFound)
}
