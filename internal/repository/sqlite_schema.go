package repository

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
)

// sqliteMigrations mirror postgresMigrations with SQLite column types.
// Timestamps are RFC 3339 text, booleans are integers.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS workflow_templates (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS workflow_template_stages (
		template_id TEXT NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
		stage_order INTEGER NOT NULL CHECK (stage_order > 0),
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		PRIMARY KEY (template_id, stage_order)
	);
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		workflow_template_id TEXT REFERENCES workflow_templates(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		project_id TEXT REFERENCES projects(id),
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		final_approved_by TEXT,
		final_approved_at TEXT,
		final_approval_notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS reviewer_assignments (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		stage_order INTEGER NOT NULL CHECK (stage_order > 0),
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (project_id, stage_order, user_id)
	);
	CREATE TABLE IF NOT EXISTS stage_progress (
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		stage_order INTEGER NOT NULL CHECK (stage_order > 0),
		stage_name TEXT NOT NULL,
		stage_color TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'in_review', 'approved', 'changes_requested', 'pending_final_approval')),
		approvals_required INTEGER NOT NULL CHECK (approvals_required >= 0),
		approvals_received INTEGER NOT NULL CHECK (approvals_received >= 0),
		cycle INTEGER NOT NULL,
		version INTEGER NOT NULL,
		reviewed_by TEXT,
		reviewed_at TEXT,
		notes TEXT,
		notification_sent INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (asset_id, stage_order),
		CHECK (approvals_received <= approvals_required)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS stage_progress_one_in_review
		ON stage_progress (asset_id) WHERE status = 'in_review';
	CREATE TABLE IF NOT EXISTS user_approvals (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		stage_order INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('approve', 'request_changes')),
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (asset_id, stage_order, user_id, cycle)
	);`,
}

// Migrate applies pending schema migrations. A file lock next to the database
// keeps concurrent processes from migrating at the same time.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteError("begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(sqliteMigrations); i++ {
		if _, err := tx.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", i+1,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}

	return sqliteError("commit migration", tx.Commit())
}
