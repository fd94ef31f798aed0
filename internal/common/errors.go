// Package common defines shared sentinel and typed errors used across the
// data layer. Callers match sentinel values with errors.Is and typed errors
// with errors.As.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound     = errors.New("not found")
	ErrKeysNotFound = errors.New("share keys not found")

	// Crypto errors that are not tied to a specific share or user key.
	ErrBase64Decode        = errors.New("failed to base64 decode")
	ErrCiphertextTooShort  = errors.New("ciphertext too short")
	ErrMissingSymmetricKey = errors.New("symmetric key unavailable")

	// State errors (invalid flow control).
	ErrEmptyItems = errors.New("empty item list")
)

// Remote API error codes the data layer pattern-matches for local cache
// repair. Values follow the backend's numeric error code scheme.
const (
	CodeInvalidValue  = 2001
	CodeDisabledShare = 300004
)

// InactiveUserKeyError reports that a payload was encrypted with a user key
// that has since been deactivated (e.g. after a password reset). During bulk
// share re-encryption this error is downgraded to a skip; everywhere else it
// is fatal to the operation.
type InactiveUserKeyError struct {
	UserKeyID string
}

func (e *InactiveUserKeyError) Error() string {
	return fmt.Sprintf("inactive user key %s", e.UserKeyID)
}

// IsInactiveUserKey reports whether err (or anything it wraps) is an
// InactiveUserKeyError.
func IsInactiveUserKey(err error) bool {
	var target *InactiveUserKeyError
	return errors.As(err, &target)
}

// CorruptedContentError reports that a share's encrypted content is too short
// or otherwise malformed to ever decrypt.
type CorruptedContentError struct {
	ShareID string
}

func (e *CorruptedContentError) Error() string {
	return fmt.Sprintf("corrupted content for share %s", e.ShareID)
}

// APIError is a remote error carrying the backend's numeric error code.
// Repositories match on Code to trigger local cache repair before rethrowing.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// HasAPICode reports whether err wraps an APIError with the given code.
func HasAPICode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
