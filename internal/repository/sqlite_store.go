package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"asset-approval/backend/pkg/models"
)

// SQLiteStore is a single-file implementation of the Repository interface for
// development and tests. Transactions begin IMMEDIATE, so every workflow
// transition holds the database write lock for its whole duration.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path. Call Migrate
// before use.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: path is required")
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Ping checks the connection to the database.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// GetOrganizationByDomain looks up a tenant by email domain.
func (s *SQLiteStore) GetOrganizationByDomain(ctx context.Context, domain string) (*models.Organization, error) {
	var (
		org              models.Organization
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM organizations WHERE domain = ?", domain,
	).Scan(&org.ID, &org.Name, &org.Domain, &created, &updated)
	if err != nil {
		return nil, sqliteError("get organization", err)
	}
	org.CreatedAt, _ = parseTimeString(created)
	org.UpdatedAt, _ = parseTimeString(updated)
	return &org, nil
}

// CreateOrganization inserts a tenant.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	stamp(&org.CreatedAt, &org.UpdatedAt)
	_, err := s.execWithRetry(ctx,
		"INSERT INTO organizations (id, name, domain, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		org.ID, org.Name, org.Domain, formatTime(org.CreatedAt), formatTime(org.UpdatedAt),
	)
	return sqliteError("create organization", err)
}

// CreateTemplate saves a template and its stages.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	stamp(&template.CreatedAt, &template.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteError("begin create template", err)
	}
	defer tx.Rollback()

	if template.IsDefault {
		if _, err := tx.ExecContext(ctx,
			"UPDATE workflow_templates SET is_default = 0, updated_at = ? WHERE organization_id = ? AND is_default = 1",
			formatTime(template.UpdatedAt), template.OrganizationID,
		); err != nil {
			return sqliteError("clear default template", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_templates (id, organization_id, name, is_default, is_archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		template.ID, template.OrganizationID, template.Name, boolToInt(template.IsDefault), boolToInt(template.IsArchived),
		formatTime(template.CreatedAt), formatTime(template.UpdatedAt),
	); err != nil {
		return sqliteError("insert template", err)
	}

	for _, stage := range template.Stages {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO workflow_template_stages (template_id, stage_order, name, color) VALUES (?, ?, ?, ?)",
			template.ID, stage.Order, stage.Name, string(stage.Color),
		); err != nil {
			return sqliteError("insert template stage", err)
		}
	}

	return sqliteError("commit create template", tx.Commit())
}

// GetTemplate retrieves a template with its stages in order.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return sqliteGetTemplate(ctx, s.db, id)
}

// ListTemplates returns an organization's templates ordered by name.
func (s *SQLiteStore) ListTemplates(ctx context.Context, organizationID string, includeArchived bool) ([]*models.WorkflowTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, name, is_default, is_archived, created_at, updated_at
		 FROM workflow_templates
		 WHERE organization_id = ? AND (? = 1 OR is_archived = 0)
		 ORDER BY name, id`,
		organizationID, boolToInt(includeArchived),
	)
	if err != nil {
		return nil, sqliteError("list templates", err)
	}
	defer rows.Close()

	var templates []*models.WorkflowTemplate
	for rows.Next() {
		t, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("list templates", err)
	}
	rows.Close()

	for _, t := range templates {
		stages, err := sqliteTemplateStages(ctx, s.db, t.ID)
		if err != nil {
			return nil, err
		}
		t.Stages = stages
	}
	return templates, nil
}

// ArchiveTemplate hides a template from new projects.
func (s *SQLiteStore) ArchiveTemplate(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE workflow_templates SET is_archived = 1, is_default = 0, updated_at = ? WHERE id = ?",
		formatTime(time.Now()), id,
	)
	if err != nil {
		return sqliteError("archive template", err)
	}
	return requireAffected("archive template", res)
}

// CreateProject inserts a project.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *models.Project) error {
	stamp(&project.CreatedAt, &project.UpdatedAt)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO projects (id, organization_id, name, owner_id, workflow_template_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.OrganizationID, project.Name, project.OwnerID, nullableString(project.WorkflowTemplateID),
		formatTime(project.CreatedAt), formatTime(project.UpdatedAt),
	)
	return sqliteError("create project", err)
}

// GetProject retrieves a project by its ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return sqliteGetProject(ctx, s.db, id)
}

// CreateAsset inserts an asset.
func (s *SQLiteStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	stamp(&asset.CreatedAt, &asset.UpdatedAt)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO assets (id, organization_id, project_id, name, kind, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.OrganizationID, nullableString(asset.ProjectID), asset.Name, string(asset.Kind), asset.OwnerID,
		formatTime(asset.CreatedAt), formatTime(asset.UpdatedAt),
	)
	return sqliteError("create asset", err)
}

// GetAsset retrieves an asset by its ID.
func (s *SQLiteStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return sqliteGetAsset(ctx, s.db, id)
}

// AddReviewer assigns a user to a project stage.
func (s *SQLiteStore) AddReviewer(ctx context.Context, assignment *models.ReviewerAssignment) error {
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO reviewer_assignments (project_id, stage_order, user_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (project_id, stage_order, user_id) DO NOTHING`,
		assignment.ProjectID, assignment.StageOrder, assignment.UserID, formatTime(assignment.CreatedAt),
	)
	return sqliteError("add reviewer", err)
}

// RemoveReviewer drops an assignment.
func (s *SQLiteStore) RemoveReviewer(ctx context.Context, projectID string, stageOrder int, userID string) error {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM reviewer_assignments WHERE project_id = ? AND stage_order = ? AND user_id = ?",
		projectID, stageOrder, userID,
	)
	if err != nil {
		return sqliteError("remove reviewer", err)
	}
	return requireAffected("remove reviewer", res)
}

// ListReviewers returns the user IDs assigned to a project stage.
func (s *SQLiteStore) ListReviewers(ctx context.Context, projectID string, stageOrder int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM reviewer_assignments WHERE project_id = ? AND stage_order = ? ORDER BY user_id",
		projectID, stageOrder,
	)
	if err != nil {
		return nil, sqliteError("list reviewers", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, sqliteError("scan reviewer", err)
		}
		users = append(users, user)
	}
	return users, sqliteError("list reviewers", rows.Err())
}

// ListStageProgress returns the asset's stage rows.
func (s *SQLiteStore) ListStageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	return sqliteStageProgress(ctx, s.db, assetID)
}

// ListApprovals returns the asset's full ledger.
func (s *SQLiteStore) ListApprovals(ctx context.Context, assetID string) ([]*models.UserApproval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, stage_order, user_id, cycle, action, notes, created_at, updated_at
		 FROM user_approvals WHERE asset_id = ?
		 ORDER BY stage_order, cycle, created_at, user_id`,
		assetID,
	)
	if err != nil {
		return nil, sqliteError("list approvals", err)
	}
	defer rows.Close()

	var approvals []*models.UserApproval
	for rows.Next() {
		var (
			a                        models.UserApproval
			action, created, updated string
			notes                    sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.AssetID, &a.StageOrder, &a.UserID, &a.Cycle, &action, &notes, &created, &updated); err != nil {
			return nil, sqliteError("scan approval", err)
		}
		a.Action = models.DecisionAction(action)
		a.Notes = nullStringPtr(notes)
		a.CreatedAt, _ = parseTimeString(created)
		a.UpdatedAt, _ = parseTimeString(updated)
		approvals = append(approvals, &a)
	}
	return approvals, sqliteError("list approvals", rows.Err())
}

// MarkNotified flags the stage visit as notified.
func (s *SQLiteStore) MarkNotified(ctx context.Context, assetID string, stageOrder, cycle int) error {
	_, err := s.execWithRetry(ctx,
		"UPDATE stage_progress SET notification_sent = 1 WHERE asset_id = ? AND stage_order = ? AND cycle = ?",
		assetID, stageOrder, cycle,
	)
	return sqliteError("mark notified", err)
}

// WithinTx runs fn in an IMMEDIATE transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteError("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}
	return sqliteError("commit tx", tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTemplate(row rowScanner) (*models.WorkflowTemplate, error) {
	var (
		t                     models.WorkflowTemplate
		isDefault, isArchived int
		created, updated      string
	)
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &isDefault, &isArchived, &created, &updated); err != nil {
		return nil, sqliteError("get template", err)
	}
	t.IsDefault = isDefault != 0
	t.IsArchived = isArchived != 0
	t.CreatedAt, _ = parseTimeString(created)
	t.UpdatedAt, _ = parseTimeString(updated)
	return &t, nil
}

func sqliteGetTemplate(ctx context.Context, q sqlQuerier, id string) (*models.WorkflowTemplate, error) {
	t, err := scanSQLiteTemplate(q.QueryRowContext(ctx,
		`SELECT id, organization_id, name, is_default, is_archived, created_at, updated_at
		 FROM workflow_templates WHERE id = ?`, id,
	))
	if err != nil {
		return nil, err
	}
	stages, err := sqliteTemplateStages(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.Stages = stages
	return t, nil
}

func sqliteTemplateStages(ctx context.Context, q sqlQuerier, templateID string) ([]models.Stage, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT stage_order, name, color FROM workflow_template_stages WHERE template_id = ? ORDER BY stage_order",
		templateID,
	)
	if err != nil {
		return nil, sqliteError("list template stages", err)
	}
	defer rows.Close()

	stages := []models.Stage{}
	for rows.Next() {
		var stage models.Stage
		var color string
		if err := rows.Scan(&stage.Order, &stage.Name, &color); err != nil {
			return nil, sqliteError("scan template stage", err)
		}
		stage.Color = models.StageColor(color)
		stages = append(stages, stage)
	}
	return stages, sqliteError("list template stages", rows.Err())
}

func sqliteGetProject(ctx context.Context, q sqlQuerier, id string) (*models.Project, error) {
	var (
		p                models.Project
		templateID       sql.NullString
		created, updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, organization_id, name, owner_id, workflow_template_id, created_at, updated_at
		 FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.OwnerID, &templateID, &created, &updated)
	if err != nil {
		return nil, sqliteError("get project", err)
	}
	p.WorkflowTemplateID = nullStringPtr(templateID)
	p.CreatedAt, _ = parseTimeString(created)
	p.UpdatedAt, _ = parseTimeString(updated)
	return &p, nil
}

func sqliteGetAsset(ctx context.Context, q sqlQuerier, id string) (*models.Asset, error) {
	var (
		a                                           models.Asset
		kind, created, updated                      string
		projectID, approvedBy, approvedAt, appNotes sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, organization_id, project_id, name, kind, owner_id,
			final_approved_by, final_approved_at, final_approval_notes, created_at, updated_at
		 FROM assets WHERE id = ?`, id,
	).Scan(
		&a.ID, &a.OrganizationID, &projectID, &a.Name, &kind, &a.OwnerID,
		&approvedBy, &approvedAt, &appNotes, &created, &updated,
	)
	if err != nil {
		return nil, sqliteError("get asset", err)
	}
	a.Kind = models.AssetKind(kind)
	a.ProjectID = nullStringPtr(projectID)
	a.FinalApprovedBy = nullStringPtr(approvedBy)
	a.FinalApprovedAt = parseNullTime(approvedAt)
	a.FinalApprovalNotes = nullStringPtr(appNotes)
	a.CreatedAt, _ = parseTimeString(created)
	a.UpdatedAt, _ = parseTimeString(updated)
	return &a, nil
}

const sqliteStageColumns = `asset_id, stage_order, stage_name, stage_color, status, approvals_required,
	approvals_received, cycle, version, reviewed_by, reviewed_at, notes, notification_sent, created_at, updated_at`

func sqliteStageProgress(ctx context.Context, q sqlQuerier, assetID string) ([]*models.StageProgress, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+sqliteStageColumns+" FROM stage_progress WHERE asset_id = ? ORDER BY stage_order", assetID,
	)
	if err != nil {
		return nil, sqliteError("list stage progress", err)
	}
	defer rows.Close()

	var stages []*models.StageProgress
	for rows.Next() {
		var (
			p                                 models.StageProgress
			color, status, created, updated   string
			reviewedBy, reviewedAt, noteValue sql.NullString
			notified                          int
		)
		if err := rows.Scan(
			&p.AssetID, &p.StageOrder, &p.StageName, &color, &status, &p.ApprovalsRequired,
			&p.ApprovalsReceived, &p.Cycle, &p.Version, &reviewedBy, &reviewedAt, &noteValue,
			&notified, &created, &updated,
		); err != nil {
			return nil, sqliteError("scan stage progress", err)
		}
		p.StageColor = models.StageColor(color)
		p.Status = models.StageStatus(status)
		p.ReviewedBy = nullStringPtr(reviewedBy)
		p.ReviewedAt = parseNullTime(reviewedAt)
		p.Notes = nullStringPtr(noteValue)
		p.NotificationSent = notified != 0
		p.CreatedAt, _ = parseTimeString(created)
		p.UpdatedAt, _ = parseTimeString(updated)
		stages = append(stages, &p)
	}
	return stages, sqliteError("list stage progress", rows.Err())
}
