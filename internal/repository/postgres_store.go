package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"asset-approval/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
// Workflow transitions run in SERIALIZABLE transactions that lock the asset row.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping checks the connection to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// pgError maps driver errors onto the repository sentinels.
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// GetOrganizationByDomain looks up a tenant by email domain.
func (s *PostgresStore) GetOrganizationByDomain(ctx context.Context, domain string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM organizations WHERE domain = $1", domain,
	).Scan(&org.ID, &org.Name, &org.Domain, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, pgError("get organization", err)
	}
	return &org, nil
}

// CreateOrganization inserts a tenant.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	stamp(&org.CreatedAt, &org.UpdatedAt)
	_, err := s.db.Exec(ctx,
		"INSERT INTO organizations (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		org.ID, org.Name, org.Domain, org.CreatedAt, org.UpdatedAt,
	)
	return pgError("create organization", err)
}

// CreateTemplate saves a template and its stages.
func (s *PostgresStore) CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	stamp(&template.CreatedAt, &template.UpdatedAt)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return pgError("begin create template", err)
	}
	defer tx.Rollback(ctx)

	if template.IsDefault {
		if _, err := tx.Exec(ctx,
			"UPDATE workflow_templates SET is_default = FALSE, updated_at = $2 WHERE organization_id = $1 AND is_default",
			template.OrganizationID, template.UpdatedAt,
		); err != nil {
			return pgError("clear default template", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflow_templates (id, organization_id, name, is_default, is_archived, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		template.ID, template.OrganizationID, template.Name, template.IsDefault, template.IsArchived,
		template.CreatedAt, template.UpdatedAt,
	); err != nil {
		return pgError("insert template", err)
	}

	for _, stage := range template.Stages {
		if _, err := tx.Exec(ctx,
			"INSERT INTO workflow_template_stages (template_id, stage_order, name, color) VALUES ($1, $2, $3, $4)",
			template.ID, stage.Order, stage.Name, string(stage.Color),
		); err != nil {
			return pgError("insert template stage", err)
		}
	}

	return pgError("commit create template", tx.Commit(ctx))
}

// GetTemplate retrieves a template with its stages in order.
func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return pgGetTemplate(ctx, s.db, id)
}

// ListTemplates returns an organization's templates ordered by name.
func (s *PostgresStore) ListTemplates(ctx context.Context, organizationID string, includeArchived bool) ([]*models.WorkflowTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, organization_id, name, is_default, is_archived, created_at, updated_at
		 FROM workflow_templates
		 WHERE organization_id = $1 AND ($2 OR NOT is_archived)
		 ORDER BY name, id`,
		organizationID, includeArchived,
	)
	if err != nil {
		return nil, pgError("list templates", err)
	}
	defer rows.Close()

	var templates []*models.WorkflowTemplate
	for rows.Next() {
		var t models.WorkflowTemplate
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.IsDefault, &t.IsArchived, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, pgError("scan template", err)
		}
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("list templates", err)
	}

	for _, t := range templates {
		stages, err := pgTemplateStages(ctx, s.db, t.ID)
		if err != nil {
			return nil, err
		}
		t.Stages = stages
	}
	return templates, nil
}

// ArchiveTemplate hides a template from new projects.
func (s *PostgresStore) ArchiveTemplate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_templates SET is_archived = TRUE, is_default = FALSE, updated_at = $2 WHERE id = $1",
		id, time.Now().UTC(),
	)
	if err != nil {
		return pgError("archive template", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archive template: %w", ErrNotFound)
	}
	return nil
}

// CreateProject inserts a project.
func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	stamp(&project.CreatedAt, &project.UpdatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, organization_id, name, owner_id, workflow_template_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.OrganizationID, project.Name, project.OwnerID, project.WorkflowTemplateID,
		project.CreatedAt, project.UpdatedAt,
	)
	return pgError("create project", err)
}

// GetProject retrieves a project by its ID.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return pgGetProject(ctx, s.db, id)
}

// CreateAsset inserts an asset.
func (s *PostgresStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	stamp(&asset.CreatedAt, &asset.UpdatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO assets (id, organization_id, project_id, name, kind, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		asset.ID, asset.OrganizationID, asset.ProjectID, asset.Name, string(asset.Kind), asset.OwnerID,
		asset.CreatedAt, asset.UpdatedAt,
	)
	return pgError("create asset", err)
}

// GetAsset retrieves an asset by its ID.
func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return pgGetAsset(ctx, s.db, id, false)
}

// AddReviewer assigns a user to a project stage.
func (s *PostgresStore) AddReviewer(ctx context.Context, assignment *models.ReviewerAssignment) error {
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO reviewer_assignments (project_id, stage_order, user_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, stage_order, user_id) DO NOTHING`,
		assignment.ProjectID, assignment.StageOrder, assignment.UserID, assignment.CreatedAt,
	)
	return pgError("add reviewer", err)
}

// RemoveReviewer drops an assignment.
func (s *PostgresStore) RemoveReviewer(ctx context.Context, projectID string, stageOrder int, userID string) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM reviewer_assignments WHERE project_id = $1 AND stage_order = $2 AND user_id = $3",
		projectID, stageOrder, userID,
	)
	if err != nil {
		return pgError("remove reviewer", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove reviewer: %w", ErrNotFound)
	}
	return nil
}

// ListReviewers returns the user IDs assigned to a project stage.
func (s *PostgresStore) ListReviewers(ctx context.Context, projectID string, stageOrder int) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT user_id FROM reviewer_assignments WHERE project_id = $1 AND stage_order = $2 ORDER BY user_id",
		projectID, stageOrder,
	)
	if err != nil {
		return nil, pgError("list reviewers", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, pgError("list reviewers", err)
	}
	return users, nil
}

// ListStageProgress returns the asset's stage rows.
func (s *PostgresStore) ListStageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	return pgStageProgress(ctx, s.db, assetID, false)
}

// ListApprovals returns the asset's full ledger.
func (s *PostgresStore) ListApprovals(ctx context.Context, assetID string) ([]*models.UserApproval, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, asset_id, stage_order, user_id, cycle, action, notes, created_at, updated_at
		 FROM user_approvals WHERE asset_id = $1
		 ORDER BY stage_order, cycle, created_at, user_id`,
		assetID,
	)
	if err != nil {
		return nil, pgError("list approvals", err)
	}
	defer rows.Close()

	var approvals []*models.UserApproval
	for rows.Next() {
		var a models.UserApproval
		var action string
		if err := rows.Scan(&a.ID, &a.AssetID, &a.StageOrder, &a.UserID, &a.Cycle, &action, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, pgError("scan approval", err)
		}
		a.Action = models.DecisionAction(action)
		approvals = append(approvals, &a)
	}
	return approvals, pgError("list approvals", rows.Err())
}

// MarkNotified flags the stage visit as notified.
func (s *PostgresStore) MarkNotified(ctx context.Context, assetID string, stageOrder, cycle int) error {
	_, err := s.db.Exec(ctx,
		"UPDATE stage_progress SET notification_sent = TRUE WHERE asset_id = $1 AND stage_order = $2 AND cycle = $3",
		assetID, stageOrder, cycle,
	)
	return pgError("mark notified", err)
}

// WithinTx runs fn in a SERIALIZABLE transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return pgError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{q: tx}); err != nil {
		return err
	}
	return pgError("commit tx", tx.Commit(ctx))
}

func pgGetProject(ctx context.Context, q pgQuerier, id string) (*models.Project, error) {
	var p models.Project
	err := q.QueryRow(ctx,
		`SELECT id, organization_id, name, owner_id, workflow_template_id, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.OwnerID, &p.WorkflowTemplateID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, pgError("get project", err)
	}
	return &p, nil
}

func pgGetTemplate(ctx context.Context, q pgQuerier, id string) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := q.QueryRow(ctx,
		`SELECT id, organization_id, name, is_default, is_archived, created_at, updated_at
		 FROM workflow_templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.IsDefault, &t.IsArchived, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, pgError("get template", err)
	}
	stages, err := pgTemplateStages(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.Stages = stages
	return &t, nil
}

func pgTemplateStages(ctx context.Context, q pgQuerier, templateID string) ([]models.Stage, error) {
	rows, err := q.Query(ctx,
		"SELECT stage_order, name, color FROM workflow_template_stages WHERE template_id = $1 ORDER BY stage_order",
		templateID,
	)
	if err != nil {
		return nil, pgError("list template stages", err)
	}
	defer rows.Close()

	stages := []models.Stage{}
	for rows.Next() {
		var stage models.Stage
		var color string
		if err := rows.Scan(&stage.Order, &stage.Name, &color); err != nil {
			return nil, pgError("scan template stage", err)
		}
		stage.Color = models.StageColor(color)
		stages = append(stages, stage)
	}
	return stages, pgError("list template stages", rows.Err())
}

func pgGetAsset(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*models.Asset, error) {
	query := `SELECT id, organization_id, project_id, name, kind, owner_id,
		final_approved_by, final_approved_at, final_approval_notes, created_at, updated_at
		FROM assets WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var a models.Asset
	var kind string
	err := q.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.OrganizationID, &a.ProjectID, &a.Name, &kind, &a.OwnerID,
		&a.FinalApprovedBy, &a.FinalApprovedAt, &a.FinalApprovalNotes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, pgError("get asset", err)
	}
	a.Kind = models.AssetKind(kind)
	return &a, nil
}

const pgStageColumns = `asset_id, stage_order, stage_name, stage_color, status, approvals_required,
	approvals_received, cycle, version, reviewed_by, reviewed_at, notes, notification_sent, created_at, updated_at`

func pgStageProgress(ctx context.Context, q pgQuerier, assetID string, forUpdate bool) ([]*models.StageProgress, error) {
	query := "SELECT " + pgStageColumns + " FROM stage_progress WHERE asset_id = $1 ORDER BY stage_order"
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, assetID)
	if err != nil {
		return nil, pgError("list stage progress", err)
	}
	defer rows.Close()

	var stages []*models.StageProgress
	for rows.Next() {
		var p models.StageProgress
		var color, status string
		if err := rows.Scan(
			&p.AssetID, &p.StageOrder, &p.StageName, &color, &status, &p.ApprovalsRequired,
			&p.ApprovalsReceived, &p.Cycle, &p.Version, &p.ReviewedBy, &p.ReviewedAt, &p.Notes,
			&p.NotificationSent, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, pgError("scan stage progress", err)
		}
		p.StageColor = models.StageColor(color)
		p.Status = models.StageStatus(status)
		stages = append(stages, &p)
	}
	return stages, pgError("list stage progress", rows.Err())
}
