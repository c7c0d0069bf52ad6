// Package sqlitestore implements the license and update-pointer stores on an
// embedded SQLite database for single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/updates"
)

// Timestamps are stored as INTEGER unix nanoseconds so that MAX() and range
// comparisons stay numeric.
const schema = `
	CREATE TABLE IF NOT EXISTS licenses (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		label TEXT NOT NULL DEFAULT '',
		hwid TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER,
		bound_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_licenses_last_seen ON licenses(last_seen);
	CREATE INDEX IF NOT EXISTS idx_licenses_created_at ON licenses(created_at);

	CREATE TABLE IF NOT EXISTS update_pointers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL,
		url TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
`

const licenseColumns = `id, key_hash, label, hwid, active, last_seen, bound_at, created_at, updated_at`

// Store implements license.Store and updates.Store using SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers, so conditional updates never
	// observe SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("license database initialized")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Health returns basic information about the database.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           "sqlite",
		"path":             s.path,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"wait_count":       stats.WaitCount,
	}
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nanosPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(row scanner) (*license.License, error) {
	var (
		lic                  license.License
		id                   string
		hwid                 sql.NullString
		lastSeen, boundAt    sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &lic.KeyHash, &lic.Label, &hwid, &lic.Active,
		&lastSeen, &boundAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse license id: %w", err)
	}
	lic.ID = parsed
	if hwid.Valid {
		lic.HWID = &hwid.String
	}
	lic.LastSeen = nanosPtr(lastSeen)
	lic.BoundAt = nanosPtr(boundAt)
	lic.CreatedAt = fromNanos(createdAt)
	lic.UpdatedAt = fromNanos(updatedAt)
	return &lic, nil
}

// GetLicenseByHash returns the license with the given key hash.
func (s *Store) GetLicenseByHash(ctx context.Context, keyHash string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key_hash = ?`, keyHash)
	lic, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// BindLicense binds hwid to an active, unbound license.
func (s *Store) BindLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET hwid = ?, bound_at = ?, last_seen = ?, updated_at = ?
		WHERE id = ? AND hwid IS NULL AND active = 1
	`, hwid, toNanos(seenAt), toNanos(seenAt), toNanos(seenAt), id.String())
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return affectedOne(res)
}

// TouchLicense records a heartbeat from the bound device.
func (s *Store) TouchLicense(ctx context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	seen := toNanos(seenAt)
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET last_seen = MAX(COALESCE(last_seen, ?), ?)
		WHERE id = ? AND hwid = ? AND active = 1
	`, seen, seen, id.String(), hwid)
	if err != nil {
		return false, fmt.Errorf("touch license: %w", err)
	}
	return affectedOne(res)
}

// CreateLicense inserts a new license, returning license.ErrConflict when the
// key hash already exists.
func (s *Store) CreateLicense(ctx context.Context, lic *license.License) error {
	var hwid sql.NullString
	if lic.HWID != nil {
		hwid = sql.NullString{String: *lic.HWID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key_hash) DO NOTHING
	`, lic.ID.String(), lic.KeyHash, lic.Label, hwid, lic.Active,
		nullNanos(lic.LastSeen), nullNanos(lic.BoundAt),
		toNanos(lic.CreatedAt), toNanos(lic.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	inserted, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !inserted {
		return license.ErrConflict
	}
	return nil
}

// SetLicenseActive bans or unbans a license.
func (s *Store) SetLicenseActive(ctx context.Context, keyHash string, active, clearHWID bool) error {
	query := `UPDATE licenses SET active = ?, updated_at = ? WHERE key_hash = ?`
	if clearHWID {
		query = `UPDATE licenses SET active = ?, updated_at = ?, hwid = NULL, bound_at = NULL WHERE key_hash = ?`
	}
	res, err := s.db.ExecContext(ctx, query, active, toNanos(time.Now()), keyHash)
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	updated, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !updated {
		return license.ErrNotFound
	}
	return nil
}

// DeleteLicense removes a license if present.
func (s *Store) DeleteLicense(ctx context.Context, keyHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE key_hash = ?`, keyHash); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	return nil
}

// ListLicenses returns every license, newest first.
func (s *Store) ListLicenses(ctx context.Context) ([]*license.License, error) {
	rows, err := s.db.QueryContext(ctx,
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

// LicenseStats returns aggregate counts.
func (s *Store) LicenseStats(ctx context.Context, onlineSince time.Time) (*license.Stats, error) {
	var stats license.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN hwid IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_seen > ? THEN 1 ELSE 0 END), 0)
		FROM licenses
	`, toNanos(onlineSince)).Scan(&stats.Total, &stats.Active, &stats.Bound, &stats.Online)
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return &stats, nil
}

// LatestUpdate returns the update pointer with the highest id.
func (s *Store) LatestUpdate(ctx context.Context) (*updates.Pointer, error) {
	var (
		p         updates.Pointer
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, url, sha256, created_at
		FROM update_pointers
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&p.ID, &p.Version, &p.URL, &p.SHA256, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, updates.ErrNoUpdate
		}
		return nil, fmt.Errorf("get latest update: %w", err)
	}
	p.CreatedAt = fromNanos(createdAt)
	return &p, nil
}

// PublishUpdate stores a new pointer and sets its id.
func (s *Store) PublishUpdate(ctx context.Context, p *updates.Pointer) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO update_pointers (version, url, sha256, created_at)
		VALUES (?, ?, ?, ?)
	`, p.Version, p.URL, p.SHA256, toNanos(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read update id: %w", err)
	}
	p.ID = id
	return nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
