package models

// ShareKey is one key-rotation generation of a share's encryption key, as
// issued by the server. Immutable; multiple rotations coexist per share.
type ShareKey struct {
	KeyRotation int64

	// Key is the base64 encoded key blob, asymmetrically encrypted to the
	// user key identified by UserKeyID.
	Key       string
	UserKeyID string

	CreateTime int64
}

// SymmetricallyEncryptedShareKey is the local cache entity of a share key:
// the decrypted raw key bytes, base64 encoded and re-wrapped under the local
// symmetric key. The asymmetrically decrypted key never hits disk in the
// clear.
type SymmetricallyEncryptedShareKey struct {
	UserID      string
	ShareID     string
	KeyRotation int64

	// EncryptedKey decrypts (with the local symmetric key) to the base64 of
	// the raw share key bytes.
	EncryptedKey []byte

	// ShareKey is the source remote record.
	ShareKey ShareKey
}

// ItemKey is a per-item key wrapped with a share key, as returned by the
// server for shares that use per-item keys.
type ItemKey struct {
	// Key is the base64 encoded item key blob, AES-GCM encrypted with the
	// share key at KeyRotation.
	Key         string
	KeyRotation int64
}

// SyncProgressKind labels a progress event emitted during full sync.
type SyncProgressKind int

const (
	// SyncProgressDecryptedShare marks one share as re-encrypted for the
	// local cache.
	SyncProgressDecryptedShare SyncProgressKind = iota + 1
	// SyncProgressDecryptItems reports item decryption progress for a share.
	SyncProgressDecryptItems
)

// SyncProgress is a progressive feedback event for UI consumption during
// refresh operations.
type SyncProgress struct {
	Kind    SyncProgressKind
	ShareID string

	// Share is set for SyncProgressDecryptedShare events.
	Share *Share

	// Total and Decrypted are set for SyncProgressDecryptItems events.
	Total     int
	Decrypted int
}
