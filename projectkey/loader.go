package projectkey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultProjectKey is used when a request carries no X-Project-Key
// header.
const DefaultProjectKey = "default"

// ErrNotFound is returned by a Loader when projectKey has no matching
// project row.
var ErrNotFound = errors.New("projectkey: unknown project key")

// StoreLoader builds a Loader backed by the projects table.
func StoreLoader(db *sql.DB) Loader {
	return func(ctx context.Context, projectKey string) (Secret, error) {
		row := db.QueryRowContext(ctx,
			`SELECT id, hmac_secret FROM projects WHERE project_key = ?`, projectKey)

		var s Secret
		if err := row.Scan(&s.ProjectID, &s.HMACSecret); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return Secret{}, ErrNotFound
			}
			return Secret{}, fmt.Errorf("projectkey: load %s: %w", projectKey, err)
		}
		return s, nil
	}
}

// EnsureDefaultProject inserts the default project row if it does
// not already exist, so a fresh deployment can authenticate requests
// with no X-Project-Key header using auth.hmac_secret.
func EnsureDefaultProject(ctx context.Context, db *sql.DB, secret string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projects (id, project_key, hmac_secret, created_at)
		VALUES ('default', ?, ?, strftime('%s','now') * 1000)
		ON CONFLICT(project_key) DO UPDATE SET hmac_secret = excluded.hmac_secret
	`, DefaultProjectKey, secret)
	if err != nil {
		return fmt.Errorf("projectkey: ensure default project: %w", err)
	}
	return nil
}
