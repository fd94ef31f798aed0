// Package sharekeys caches the per-share key rotations. Keys arrive from the
// server asymmetrically encrypted to one of the user's address keys; the
// repository decrypts them once and stores them re-wrapped under the local
// symmetric key, so later reads never need the slow asymmetric path.
package sharekeys

import (
	"context"
	"encoding/base64"
	"fmt"

	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/models"
	"passvault.dev/passvault/internal/client/session"
	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
	"passvault.dev/passvault/internal/logging"
)

// Remote fetches share keys from the server.
type Remote interface {
	GetKeys(ctx context.Context, userID, shareID string) ([]models.ShareKey, error)
}

// Repository gives access to locally cached share keys.
type Repository interface {
	// GetKeys returns all cached key rotations of a share, refreshing from
	// remote when the cache is empty.
	GetKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error)

	// RefreshKeys fetches all key rotations from remote, re-encrypts them for
	// local storage and replaces the cache. Results come back in server order.
	RefreshKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error)

	// DeleteAllKeys removes every cached key of the user.
	DeleteAllKeys(ctx context.Context, userID string) error
}

type repository struct {
	local       *LocalDatasource
	remote      Remote
	sessions    session.Manager
	decryptor   keys.Decryptor
	symProvider keys.SymmetricKeyProvider
	log         logging.Logger
}

func NewRepository(local *LocalDatasource, remote Remote, sessions session.Manager,
	decryptor keys.Decryptor, symProvider keys.SymmetricKeyProvider, log logging.Logger) Repository {
	return &repository{
		local:       local,
		remote:      remote,
		sessions:    sessions,
		decryptor:   decryptor,
		symProvider: symProvider,
		log:         log,
	}
}

func (r *repository) GetKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error) {
	cached, err := r.local.GetKeys(ctx, userID, shareID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		r.log.Debug(ctx, "found cached share keys", "shareId", shareID, "count", len(cached))
		return cached, nil
	}
	r.log.Debug(ctx, "no cached share keys, refreshing", "shareId", shareID)
	return r.RefreshKeys(ctx, userID, shareID)
}

func (r *repository) RefreshKeys(ctx context.Context, userID, shareID string) ([]models.SymmetricallyEncryptedShareKey, error) {
	r.log.Debug(ctx, "refreshing share keys", "shareId", shareID)

	remoteKeys, err := r.remote.GetKeys(ctx, userID, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch share keys: %w", err)
	}

	user, err := r.sessions.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	symKey, err := r.symProvider.SymmetricKey(ctx)
	if err != nil {
		return nil, err
	}

	reencrypted := make([]models.SymmetricallyEncryptedShareKey, 0, len(remoteKeys))
	for _, rk := range remoteKeys {
		ek, err := r.reencrypt(ctx, user, symKey, shareID, rk)
		if err != nil {
			return nil, err
		}
		reencrypted = append(reencrypted, ek)
	}

	if err := r.local.UpsertKeys(ctx, reencrypted); err != nil {
		return nil, err
	}
	r.log.Debug(ctx, "refreshed share keys", "shareId", shareID, "count", len(reencrypted))
	return reencrypted, nil
}

// reencrypt decrypts one remote share key with the user's address keys and
// wraps the result under the local symmetric key. The key must be addressed
// to an active user key; a missing or inactive user key fails the whole
// refresh so a stale cache is never written.
func (r *repository) reencrypt(ctx context.Context, user *session.User, symKey []byte,
	shareID string, rk models.ShareKey) (models.SymmetricallyEncryptedShareKey, error) {

	var userKey *session.UserKey
	for i := range user.Keys {
		if user.Keys[i].KeyID == rk.UserKeyID {
			userKey = &user.Keys[i]
			break
		}
	}
	if userKey == nil || !userKey.Active {
		return models.SymmetricallyEncryptedShareKey{},
			&common.InactiveUserKeyError{UserKeyID: rk.UserKeyID}
	}

	blob, err := base64.StdEncoding.DecodeString(rk.Key)
	if err != nil {
		return models.SymmetricallyEncryptedShareKey{}, common.ErrBase64Decode
	}

	decryptionKeys := make([]keys.DecryptionKey, 0, len(user.Keys))
	verificationKeys := make([][]byte, 0, len(user.Keys))
	for _, uk := range user.Keys {
		decryptionKeys = append(decryptionKeys, keys.DecryptionKey{
			PrivateKey: uk.PrivateKey,
			Passphrase: uk.Passphrase,
		})
		verificationKeys = append(verificationKeys, uk.PublicKey)
	}

	raw, err := r.decryptor.DecryptAndVerify(ctx, blob, decryptionKeys, verificationKeys)
	if err != nil {
		return models.SymmetricallyEncryptedShareKey{},
			fmt.Errorf("failed to decrypt share key rotation %d: %w", rk.KeyRotation, err)
	}

	encrypted, err := cryptox.Seal(symKey, []byte(base64.StdEncoding.EncodeToString(raw)), cryptox.ADShareKey)
	if err != nil {
		return models.SymmetricallyEncryptedShareKey{}, err
	}

	return models.SymmetricallyEncryptedShareKey{
		UserID:       user.ID,
		ShareID:      shareID,
		KeyRotation:  rk.KeyRotation,
		EncryptedKey: encrypted,
		ShareKey:     rk,
	}, nil
}

func (r *repository) DeleteAllKeys(ctx context.Context, userID string) error {
	return r.local.DeleteAllKeys(ctx, userID)
}
