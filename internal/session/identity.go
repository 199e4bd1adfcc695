// Package session holds the signed-in identity for verivox.
//
// A Store is the single source of truth for "who is logged in". It is
// restored once at startup from durable storage and written through on
// every login and logout. Consumers never mutate the identity; they read
// it through Current and react to changes through Subscribe.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Errors returned by the session store.
var (
	ErrSessionActive   = errors.New("an identity is already signed in; log out first")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrNotWatchable    = errors.New("session storage cannot be watched")
)

// Role is the kind of principal signed in.
type Role string

const (
	RoleStandard Role = "standard"
	RoleGuest    Role = "guest"
)

// Backend user_type values.
const (
	userTypeStandard = "user"
	userTypeGuest    = "guest"
)

// RoleFromUserType maps the backend's user_type onto a Role.
func RoleFromUserType(userType string) (Role, error) {
	switch userType {
	case userTypeStandard:
		return RoleStandard, nil
	case userTypeGuest:
		return RoleGuest, nil
	default:
		return "", fmt.Errorf("%w: unknown user_type %q", ErrInvalidIdentity, userType)
	}
}

// UserType returns the backend spelling of the role.
func (r Role) UserType() string {
	if r == RoleGuest {
		return userTypeGuest
	}
	return userTypeStandard
}

// Identity is the signed-in principal.
type Identity struct {
	DisplayName string
	Email       string
	Role        Role
	Credential  string
}

// IsGuest reports whether the identity is a guest.
func (i Identity) IsGuest() bool {
	return i.Role == RoleGuest
}

// Fingerprint returns the credential's fingerprint.
func (i Identity) Fingerprint() string {
	return Fingerprint(i.Credential)
}

// Validate checks that the identity can be signed in.
func (i Identity) Validate() error {
	if i.Credential == "" {
		return fmt.Errorf("%w: empty credential", ErrInvalidIdentity)
	}
	if i.Role != RoleStandard && i.Role != RoleGuest {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, i.Role)
	}
	return nil
}

// String never includes the credential.
func (i Identity) String() string {
	name := i.DisplayName
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s [%s]", name, i.Role)
}

// Fingerprint returns the SHA-256 hex digest of a credential. It identifies
// a credential in caches and logs without retaining the credential itself.
// Empty credentials have an empty fingerprint.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the first 12 hex characters of Fingerprint,
// suitable for log correlation.
func ShortFingerprint(credential string) string {
	fp := Fingerprint(credential)
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
