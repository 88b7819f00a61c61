package graph

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "pgx" database/sql driver, matching the teacher's
	// convention of reaching Postgres through database/sql rather than a
	// pgxpool handle.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresTagStore is the production TagStore, backed by a single table
// keyed by the full scope plus tag name.
type PostgresTagStore struct {
	db *sql.DB
}

// OpenPostgresTagStore opens a pgx-backed connection pool against dsn and
// ensures the tags table exists.
func OpenPostgresTagStore(ctx context.Context, dsn string) (*PostgresTagStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres tag store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres tag store: %w", err)
	}
	store := &PostgresTagStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresTagStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS graph_tags (
	tenant_id  TEXT NOT NULL,
	project_id TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	graph_id   TEXT NOT NULL,
	tag        TEXT NOT NULL,
	commit_id  TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, project_id, namespace, graph_id, tag)
)`)
	if err != nil {
		return fmt.Errorf("ensure graph_tags schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresTagStore) Close() error {
	return s.db.Close()
}

func (s *PostgresTagStore) Set(ctx context.Context, scope Scope, name, commitID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO graph_tags (tenant_id, project_id, namespace, graph_id, tag, commit_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (tenant_id, project_id, namespace, graph_id, tag)
DO UPDATE SET commit_id = EXCLUDED.commit_id, updated_at = now()`,
		scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID, name, commitID)
	if err != nil {
		return fmt.Errorf("set tag %s: %w", name, err)
	}
	return nil
}

func (s *PostgresTagStore) Delete(ctx context.Context, scope Scope, name string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM graph_tags
WHERE tenant_id = $1 AND project_id = $2 AND namespace = $3 AND graph_id = $4 AND tag = $5`,
		scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID, name)
	if err != nil {
		return fmt.Errorf("delete tag %s: %w", name, err)
	}
	return nil
}

func (s *PostgresTagStore) List(ctx context.Context, scope Scope) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tag, commit_id FROM graph_tags
WHERE tenant_id = $1 AND project_id = $2 AND namespace = $3 AND graph_id = $4`,
		scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var tag, commitID string
		if err := rows.Scan(&tag, &commitID); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		out[tag] = commitID
	}
	return out, rows.Err()
}
