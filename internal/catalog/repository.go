package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists the latest list of each resource.
type Repository interface {
	// Save stores payload as the current list for resource, replacing any previous one.
	Save(ctx context.Context, resource Resource, payload json.RawMessage) error

	// LoadAll returns every stored list keyed by resource.
	LoadAll(ctx context.Context) (map[Resource]json.RawMessage, error)
}

// SQLiteRepository implements Repository on the catalog_cache table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Save upserts the list for resource.
func (r *SQLiteRepository) Save(ctx context.Context, resource Resource, payload json.RawMessage) error {
	query := `
		INSERT INTO catalog_cache (resource, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		string(resource),
		string(payload),
		r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", resource, err)
	}
	return nil
}

// LoadAll reads every cached list. Rows for resources this build does not
// know are skipped.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[Resource]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT resource, payload FROM catalog_cache`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog cache: %w", err)
	}
	defer rows.Close()

	out := make(map[Resource]json.RawMessage)
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scanning catalog cache: %w", err)
		}
		resource, err := ParseResource(name)
		if err != nil {
			continue
		}
		out[resource] = json.RawMessage(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog cache: %w", err)
	}
	return out, nil
}
