package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/updates"
)

// LatestUpdate returns the update pointer with the highest id.
func (db *DB) LatestUpdate(ctx context.Context) (*updates.Pointer, error) {
	var p updates.Pointer
	err := db.Pool.QueryRow(ctx, `
		SELECT id, version, url, sha256, created_at
		FROM update_pointers
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&p.ID, &p.Version, &p.URL, &p.SHA256, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, updates.ErrNoUpdate
		}
		return nil, fmt.Errorf("get latest update: %w", err)
	}
	return &p, nil
}

// PublishUpdate stores a new pointer and sets its id.
func (db *DB) PublishUpdate(ctx context.Context, p *updates.Pointer) error {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO update_pointers (version, url, sha256, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.Version, p.URL, p.SHA256, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}
