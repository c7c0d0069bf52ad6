package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultStoreTimeout bounds every store call made by the license core.
	DefaultStoreTimeout = 5 * time.Second

	// maxValidateAttempts bounds how often a validation re-reads a license
	// after its conditional update lost to a concurrent change.
	maxValidateAttempts = 3
)

// ValidatorConfig holds configuration for the Validator.
type ValidatorConfig struct {
	Store        Store
	StoreTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Validator decides the outcome of client validation requests and performs
// the one-time device binding.
type Validator struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{
		store:   cfg.Store,
		timeout: cfg.StoreTimeout,
		now:     cfg.Now,
		logger:  cfg.Logger.With().Str("component", "license_validator").Logger(),
	}
}

// Validate evaluates a key and HWID pair. Business outcomes are returned as a
// Status with a nil error; a non-nil error always means the store failed and
// no outcome could be decided.
//
// Binding and heartbeats are conditional updates, so two first contacts for
// the same key cannot both bind: the loser re-reads the record and is judged
// against the winner's HWID.
func (v *Validator) Validate(ctx context.Context, rawKey, hwid string) (Status, error) {
	keyHash := HashKey(rawKey)
	log := v.logger.With().Str("key_id", ShortID(keyHash)).Logger()

	for attempt := 1; attempt <= maxValidateAttempts; attempt++ {
		lic, err := v.lookup(ctx, keyHash)
		if errors.Is(err, ErrNotFound) {
			return StatusInvalid, nil
		}
		if err != nil {
			return "", err
		}

		if !lic.Active {
			return StatusBanned, nil
		}

		now := v.now()

		if !lic.IsBound() {
			bound, err := v.bind(ctx, lic, hwid, now)
			if err != nil {
				return "", err
			}
			if bound {
				log.Info().Str("license_id", lic.ID.String()).Msg("license bound to device")
				return StatusOK, nil
			}
			log.Debug().Int("attempt", attempt).Msg("bind lost to concurrent update, re-reading license")
			continue
		}

		if *lic.HWID != hwid {
			return StatusHWIDMismatch, nil
		}

		touched, err := v.touch(ctx, lic, hwid, now)
		if err != nil {
			return "", err
		}
		if touched {
			return StatusOK, nil
		}
		log.Debug().Int("attempt", attempt).Msg("heartbeat guard failed, re-reading license")
	}

	return "", ErrContention
}

func (v *Validator) lookup(ctx context.Context, keyHash string) (*License, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	lic, err := v.store.GetLicenseByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup license: %w", err)
	}
	return lic, nil
}

func (v *Validator) bind(ctx context.Context, lic *License, hwid string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok, err := v.store.BindLicense(ctx, lic.ID, hwid, now)
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return ok, nil
}

func (v *Validator) touch(ctx context.Context, lic *License, hwid string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok, err := v.store.TouchLicense(ctx, lic.ID, hwid, now)
	if err != nil {
		return false, fmt.Errorf("touch license: %w", err)
	}
	return ok, nil
}
