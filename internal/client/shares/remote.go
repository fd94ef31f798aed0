package shares

import (
	"context"

	"passvault.dev/passvault/internal/client/models"
)

// CreateVaultRequest carries a new vault to the server: the vault metadata
// encrypted with a fresh vault key, and the vault key encrypted to the
// user's address key.
type CreateVaultRequest struct {
	AddressID            string
	Content              string
	ContentFormatVersion int64
	EncryptedVaultKey    string
}

// UpdateVaultRequest carries re-encrypted vault metadata under the share's
// latest key rotation.
type UpdateVaultRequest struct {
	Content              string
	ContentFormatVersion int64
	KeyRotation          int64
}

// VaultUser is a member or pending member of a shared vault.
type VaultUser struct {
	ShareID     string
	UserName    string
	UserEmail   string
	ShareRoleID models.ShareRole
	Owner       bool
	ExpireTime  *int64
	CreateTime  int64
}

// Remote is the server API surface the repository depends on.
type Remote interface {
	GetShares(ctx context.Context, userID string) ([]models.Share, error)
	GetShare(ctx context.Context, userID, shareID string) (models.Share, error)

	CreateVault(ctx context.Context, userID string, req CreateVaultRequest) (models.Share, error)
	UpdateVault(ctx context.Context, userID, shareID string, req UpdateVaultRequest) (models.Share, error)
	DeleteVault(ctx context.Context, userID, shareID string) error
	DeleteShare(ctx context.Context, userID, shareID string) error

	TransferVaultOwnership(ctx context.Context, userID, vaultShareID, newOwnerShareID string) error
	GetUsersLinked(ctx context.Context, userID, shareID string) ([]VaultUser, error)
	UpdateUserPermission(ctx context.Context, userID, shareID, memberShareID string, role models.ShareRole) error
	DeleteUserShare(ctx context.Context, userID, shareID, memberShareID string) error
}
