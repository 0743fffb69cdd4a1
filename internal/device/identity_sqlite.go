package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteIndexProvider persists the index handed to each base path in the
// device_identities table. New base paths are seeded with StableIndex, so
// switching schemes does not move existing devices.
type SQLiteIndexProvider struct {
	db *sql.DB
}

// NewSQLiteIndexProvider creates a provider over a migrated database.
func NewSQLiteIndexProvider(db *sql.DB) *SQLiteIndexProvider {
	return &SQLiteIndexProvider{db: db}
}

// Index implements IndexProvider.
func (p *SQLiteIndexProvider) Index(ctx context.Context, basePath string, deviceType string) (int, error) {
	var idx int
	err := p.db.QueryRowContext(ctx,
		`SELECT local_index FROM device_identities WHERE base_path = ?`, basePath,
	).Scan(&idx)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("querying device identity: %w", err)
	}

	idx = StableIndex(basePath)
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO device_identities (base_path, device_type, local_index, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (base_path) DO NOTHING`,
		basePath, deviceType, idx, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, fmt.Errorf("inserting device identity: %w", err)
	}

	// Re-read in case another writer inserted first.
	if err := p.db.QueryRowContext(ctx,
		`SELECT local_index FROM device_identities WHERE base_path = ?`, basePath,
	).Scan(&idx); err != nil {
		return 0, fmt.Errorf("re-reading device identity: %w", err)
	}
	return idx, nil
}

// Known returns every persisted base path and its index.
func (p *SQLiteIndexProvider) Known(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT base_path, local_index FROM device_identities`)
	if err != nil {
		return nil, fmt.Errorf("listing device identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			path string
			idx  int
		)
		if err := rows.Scan(&path, &idx); err != nil {
			return nil, fmt.Errorf("scanning device identity: %w", err)
		}
		out[path] = idx
	}
	return out, rows.Err()
}
