package repository

import (
	"context"
	"fmt"
)

// postgresMigrations are applied in order; the index+1 is the schema version.
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS workflow_templates (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS workflow_template_stages (
		template_id TEXT NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
		stage_order INT NOT NULL CHECK (stage_order > 0),
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
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		project_id TEXT REFERENCES projects(id),
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		final_approved_by TEXT,
		final_approved_at TIMESTAMPTZ,
		final_approval_notes TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS reviewer_assignments (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		stage_order INT NOT NULL CHECK (stage_order > 0),
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project_id, stage_order, user_id)
	);
	CREATE TABLE IF NOT EXISTS stage_progress (
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		stage_order INT NOT NULL CHECK (stage_order > 0),
		stage_name TEXT NOT NULL,
		stage_color TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'in_review', 'approved', 'changes_requested', 'pending_final_approval')),
		approvals_required INT NOT NULL CHECK (approvals_required >= 0),
		approvals_received INT NOT NULL CHECK (approvals_received >= 0),
		cycle INT NOT NULL,
		version INT NOT NULL,
		reviewed_by TEXT,
		reviewed_at TIMESTAMPTZ,
		notes TEXT,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (asset_id, stage_order),
		CHECK (approvals_received <= approvals_required)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS stage_progress_one_in_review
		ON stage_progress (asset_id) WHERE status = 'in_review';
	CREATE TABLE IF NOT EXISTS user_approvals (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		stage_order INT NOT NULL,
		user_id TEXT NOT NULL,
		cycle INT NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('approve', 'request_changes')),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (asset_id, stage_order, user_id, cycle)
	);`,
}

// migrationLockKey serializes concurrent migrators through an advisory lock.
const migrationLockKey = 7_204_113

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(postgresMigrations); i++ {
		if _, err := tx.Exec(ctx, postgresMigrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", i+1); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
