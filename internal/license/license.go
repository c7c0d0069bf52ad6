// Package license implements license key validation, device binding, and
// the admin lifecycle operations for keygate.
package license

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no license matches a key hash.
	ErrNotFound = errors.New("license not found")
	// ErrConflict is returned when creating a license whose key hash already exists.
	ErrConflict = errors.New("license already exists")
	// ErrInvalidKey is returned when an admin operation receives an unusable key.
	ErrInvalidKey = errors.New("invalid license key")
	// ErrContention is returned when concurrent mutations kept invalidating a
	// validation's conditional update. It is transient.
	ErrContention = errors.New("license changed concurrently")
)

// Status is the outcome of a validation request.
type Status string

const (
	// StatusInvalid means no license matches the presented key.
	StatusInvalid Status = "invalid"
	// StatusBanned means the license exists but has been deactivated.
	StatusBanned Status = "banned"
	// StatusOK means the license is active and bound to the presented HWID.
	StatusOK Status = "ok"
	// StatusHWIDMismatch means the license is bound to a different device.
	StatusHWIDMismatch Status = "hwid_mismatch"
)

// Statuses returns every validation outcome.
func Statuses() []Status {
	return []Status{StatusInvalid, StatusBanned, StatusOK, StatusHWIDMismatch}
}

// License is a stored license record. The plaintext key is never kept.
type License struct {
	ID        uuid.UUID
	KeyHash   string
	Label     string
	HWID      *string
	Active    bool
	LastSeen  *time.Time
	BoundAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLicense returns an active, unbound license for the given key hash.
func NewLicense(keyHash, label string, now time.Time) *License {
	return &License{
		ID:        uuid.New(),
		KeyHash:   keyHash,
		Label:     label,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsBound reports whether the license has been bound to a device.
func (l *License) IsBound() bool {
	return l.HWID != nil
}

// KeyID returns the short display identifier for the license.
func (l *License) KeyID() string {
	return ShortID(l.KeyHash)
}

// Stats summarises the license table for reporting.
type Stats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
	Bound  int64 `json:"bound"`
	Online int64 `json:"online"`
}

// Store is the persistence contract the license core relies on. Conditional
// methods report false when their guard did not match, which is not an error.
type Store interface {
	GetLicenseByHash(ctx context.Context, keyHash string) (*License, error)
	// BindLicense sets hwid and last_seen only if the license is active and unbound.
	BindLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error)
	// TouchLicense advances last_seen only if the license is active and bound to hwid.
	TouchLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error)
	CreateLicense(ctx context.Context, lic *License) error
	SetLicenseActive(ctx context.Context, keyHash string, active, clearHWID bool) error
	DeleteLicense(ctx context.Context, keyHash string) error
	ListLicenses(ctx context.Context) ([]*License, error)
	LicenseStats(ctx context.Context, onlineSince time.Time) (*Stats, error)
}
