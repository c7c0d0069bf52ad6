package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/license"
)

const licenseColumns = `id, key_hash, label, hwid, active, last_seen, bound_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*license.License, error) {
	var lic license.License
	err := row.Scan(
		&lic.ID, &lic.KeyHash, &lic.Label, &lic.HWID, &lic.Active,
		&lic.LastSeen, &lic.BoundAt, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// GetLicenseByHash returns the license with the given key hash.
func (db *DB) GetLicenseByHash(ctx context.Context, keyHash string) (*license.License, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key_hash = $1`, keyHash)
	lic, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// BindLicense binds hwid to an active, unbound license. It reports false
// without error when the license was no longer unbound or active.
func (db *DB) BindLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET hwid = $2, bound_at = $3, last_seen = $3, updated_at = $3
		WHERE id = $1 AND hwid IS NULL AND active
	`, id, hwid, seenAt)
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLicense records a heartbeat from the bound device. last_seen never
// moves backwards.
func (db *DB) TouchLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET last_seen = GREATEST(COALESCE(last_seen, $3), $3)
		WHERE id = $1 AND hwid = $2 AND active
	`, id, hwid, seenAt)
	if err != nil {
		return false, fmt.Errorf("touch license: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateLicense inserts a new license. An existing key hash yields
// license.ErrConflict and leaves the stored record untouched.
func (db *DB) CreateLicense(ctx context.Context, lic *license.License) error {
	var id uuid.UUID
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO licenses (id, key_hash, label, hwid, active, last_seen, bound_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key_hash) DO NOTHING
		RETURNING id
	`, lic.ID, lic.KeyHash, lic.Label, lic.HWID, lic.Active,
		lic.LastSeen, lic.BoundAt, lic.CreatedAt, lic.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgErrorCode(err) == pgUniqueViolation {
			return license.ErrConflict
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// SetLicenseActive bans or unbans a license. clearHWID also resets the
// device binding.
func (db *DB) SetLicenseActive(ctx context.Context, keyHash string, active, clearHWID bool) error {
	query := `UPDATE licenses SET active = $2, updated_at = NOW() WHERE key_hash = $1`
	if clearHWID {
		query = `UPDATE licenses SET active = $2, hwid = NULL, bound_at = NULL, updated_at = NOW() WHERE key_hash = $1`
	}
	tag, err := db.Pool.Exec(ctx, query, keyHash, active)
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrNotFound
	}
	return nil
}

// DeleteLicense removes a license. Deleting an absent key is not an error.
func (db *DB) DeleteLicense(ctx context.Context, keyHash string) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM licenses WHERE key_hash = $1`, keyHash); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	return nil
}

// ListLicenses returns every license, newest first.
func (db *DB) ListLicenses(ctx context.Context) ([]*license.License, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*license.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}
	return licenses, nil
}

// LicenseStats returns aggregate counts. A license is online when last_seen
// is strictly after onlineSince.
func (db *DB) LicenseStats(ctx context.Context, onlineSince time.Time) (*license.Stats, error) {
	var stats license.Stats
	err := db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE hwid IS NOT NULL),
			COUNT(*) FILTER (WHERE last_seen > $1)
		FROM licenses
	`, onlineSince).Scan(&stats.Total, &stats.Active, &stats.Bound, &stats.Online)
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return &stats, nil
}
