package models

import (
	"encoding/base64"

	"passvault.dev/passvault/internal/common"
	"passvault.dev/passvault/internal/cryptox"
)

// ShareType distinguishes vault shares from single-item sharing grants.
type ShareType int64

const (
	ShareTypeVault ShareType = 1
	ShareTypeItem  ShareType = 2
)

// ShareRole is the backend's role identifier for a share member.
type ShareRole string

const (
	ShareRoleAdmin ShareRole = "1"
	ShareRoleWrite ShareRole = "2"
	ShareRoleRead  ShareRole = "3"
)

// Share is the server-side container representing a vault or an item-sharing
// grant.
type Share struct {
	ShareID   string
	VaultID   string
	AddressID string
	ShareType ShareType

	// Content is the base64 encoded, share-key encrypted vault metadata.
	// Nil for share types without content.
	Content *string

	// ContentKeyRotation identifies the key generation that encrypted
	// Content. Nil whenever Content is nil.
	ContentKeyRotation   *int64
	ContentFormatVersion int64

	Owner       bool
	ShareRoleID ShareRole
	TargetType  int64
	TargetID    string
	Permission  int64

	TargetMembers       int64
	TargetMaxMembers    int64
	PendingInvites      int64
	NewUserInvitesReady int64

	Shared     bool
	ExpireTime *int64
	CreateTime int64
}

// IsVaultRepresentation reports whether the share stands for a vault.
func (s *Share) IsVaultRepresentation() bool {
	return s.ShareType == ShareTypeVault
}

// SymmetricallyEncryptedShare is the local cache envelope of a share.
// EncryptedContent is non-nil exactly when the remote share carries content.
type SymmetricallyEncryptedShare struct {
	UserID string
	Share  Share

	// EncryptedContent decrypts (with the local symmetric key) to the base64
	// of the share's decrypted vault content bytes. Nil when the remote
	// share has no content.
	EncryptedContent []byte
}

// VaultContent decrypts the cached vault metadata with the local symmetric
// key. Returns nil for non-vault shares and shares without content.
func (s *SymmetricallyEncryptedShare) VaultContent(symmetricKey []byte) (*VaultContent, error) {
	if s.Share.ShareType != ShareTypeVault || s.EncryptedContent == nil {
		return nil, nil
	}
	b64, err := cryptox.Open(symmetricKey, s.EncryptedContent, cryptox.ADVaultContent)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return nil, common.ErrBase64Decode
	}
	return ParseVaultContent(raw)
}

// Vault is the domain projection of a vault-type share; derived on read,
// never persisted separately.
type Vault struct {
	ShareID     string
	VaultID     string
	AddressID   string
	Name        string
	Description string
	Color       int32
	Icon        int32

	Owner          bool
	ShareRoleID    ShareRole
	Shared         bool
	Members        int64
	MaxMembers     int64
	PendingInvites int64
}

// ToVault projects the encrypted share into a Vault view model. Returns
// (nil, nil) for shares that do not represent a vault.
func (s *SymmetricallyEncryptedShare) ToVault(symmetricKey []byte) (*Vault, error) {
	if !s.Share.IsVaultRepresentation() {
		return nil, nil
	}
	content, err := s.VaultContent(symmetricKey)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, nil
	}
	return &Vault{
		ShareID:        s.Share.ShareID,
		VaultID:        s.Share.VaultID,
		AddressID:      s.Share.AddressID,
		Name:           content.Name,
		Description:    content.Description,
		Color:          content.Color,
		Icon:           content.Icon,
		Owner:          s.Share.Owner,
		ShareRoleID:    s.Share.ShareRoleID,
		Shared:         s.Share.Shared,
		Members:        s.Share.TargetMembers,
		MaxMembers:     s.Share.TargetMaxMembers,
		PendingInvites: s.Share.PendingInvites,
	}, nil
}
