package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxLabelLength is the longest label accepted for a license.
const MaxLabelLength = 200

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	Store          Store
	StoreTimeout   time.Duration
	PresenceWindow time.Duration
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Manager performs the admin lifecycle operations on licenses. Callers are
// responsible for authorizing the admin before invoking it.
type Manager struct {
	store   Store
	timeout time.Duration
	window  time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.PresenceWindow <= 0 {
		cfg.PresenceWindow = DefaultPresenceWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:   cfg.Store,
		timeout: cfg.StoreTimeout,
		window:  cfg.PresenceWindow,
		now:     cfg.Now,
		logger:  cfg.Logger.With().Str("component", "license_manager").Logger(),
	}
}

// CreateResult describes a newly created license.
type CreateResult struct {
	License *License
	// Key is the plaintext key. It is only ever available here.
	Key string
	// Generated is true when the key was generated by the server.
	Generated bool
}

// Create inserts a new active, unbound license. An empty rawKey asks the
// server to generate one. Returns ErrConflict if the key already exists; the
// existing record is left untouched.
func (m *Manager) Create(ctx context.Context, rawKey, label string) (*CreateResult, error) {
	label = strings.TrimSpace(label)
	if len(label) > MaxLabelLength {
		return nil, fmt.Errorf("%w: label exceeds %d characters", ErrInvalidKey, MaxLabelLength)
	}

	generated := false
	if rawKey == "" {
		key, err := GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		rawKey = key
		generated = true
	}
	if strings.TrimSpace(rawKey) == "" {
		return nil, ErrInvalidKey
	}

	lic := NewLicense(HashKey(rawKey), label, m.now())

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.CreateLicense(ctx, lic); err != nil {
		if errors.Is(err, ErrConflict) {
			m.logger.Info().Str("key_id", lic.KeyID()).Msg("license create rejected, key exists")
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create license: %w", err)
	}

	m.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("key_id", lic.KeyID()).
		Bool("generated", generated).
		Msg("license created")

	return &CreateResult{License: lic, Key: rawKey, Generated: generated}, nil
}

// Ban deactivates a license. The device binding and last_seen are kept.
func (m *Manager) Ban(ctx context.Context, rawKey string) error {
	return m.setActive(ctx, rawKey, false, false, "license banned")
}

// Unban reactivates a license and clears its device binding, so the next
// validation binds afresh.
func (m *Manager) Unban(ctx context.Context, rawKey string) error {
	return m.setActive(ctx, rawKey, true, true, "license unbanned")
}

func (m *Manager) setActive(ctx context.Context, rawKey string, active, clearHWID bool, msg string) error {
	keyHash := HashKey(rawKey)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.SetLicenseActive(ctx, keyHash, active, clearHWID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set license active: %w", err)
	}

	m.logger.Info().Str("key_id", ShortID(keyHash)).Msg(msg)
	return nil
}

// Delete removes a license. Deleting an unknown key is not an error.
func (m *Manager) Delete(ctx context.Context, rawKey string) error {
	keyHash := HashKey(rawKey)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.DeleteLicense(ctx, keyHash); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}

	m.logger.Info().Str("key_id", ShortID(keyHash)).Msg("license deleted")
	return nil
}

// View is the admin-facing representation of a license.
type View struct {
	ID        uuid.UUID  `json:"id"`
	KeyID     string     `json:"key_id"`
	Label     string     `json:"label,omitempty"`
	HWID      *string    `json:"hwid"`
	Active    bool       `json:"active"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen"`
	BoundAt   *time.Time `json:"bound_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Listing is the admin license overview.
type Listing struct {
	Licenses    []View `json:"licenses"`
	OnlineCount int    `json:"online_count"`
}

// List returns every license with its presence state.
func (m *Manager) List(ctx context.Context) (*Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	licenses, err := m.store.ListLicenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	now := m.now()
	listing := &Listing{Licenses: make([]View, 0, len(licenses))}
	for _, lic := range licenses {
		online := IsOnline(lic.LastSeen, now, m.window)
		if online {
			listing.OnlineCount++
		}
		listing.Licenses = append(listing.Licenses, newView(lic, online))
	}
	return listing, nil
}

// Describe returns the admin view of a single license as of now.
func (m *Manager) Describe(lic *License) View {
	return newView(lic, IsOnline(lic.LastSeen, m.now(), m.window))
}

func newView(lic *License, online bool) View {
	return View{
		ID:        lic.ID,
		KeyID:     lic.KeyID(),
		Label:     lic.Label,
		HWID:      lic.HWID,
		Active:    lic.Active,
		Online:    online,
		LastSeen:  lic.LastSeen,
		BoundAt:   lic.BoundAt,
		CreatedAt: lic.CreatedAt,
	}
}

// Stats returns aggregate license counts, using the presence window for the
// online figure.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	stats, err := m.store.LicenseStats(ctx, OnlineSince(m.now(), m.window))
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return stats, nil
}
