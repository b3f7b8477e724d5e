package repository

import (
	"context"
	"fmt"
	"time"

	"asset-approval/backend/pkg/models"
)

// postgresTx implements Tx on top of a pgx transaction.
type postgresTx struct {
	q pgQuerier
}

func (t *postgresTx) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return pgGetProject(ctx, t.q, id)
}

func (t *postgresTx) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return pgGetTemplate(ctx, t.q, id)
}

func (t *postgresTx) LockAsset(ctx context.Context, id string) (*models.Asset, error) {
	return pgGetAsset(ctx, t.q, id, true)
}

func (t *postgresTx) SetAssetProject(ctx context.Context, assetID string, projectID *string) error {
	tag, err := t.q.Exec(ctx,
		"UPDATE assets SET project_id = $2, updated_at = $3 WHERE id = $1",
		assetID, projectID, time.Now().UTC(),
	)
	if err != nil {
		return pgError("set asset project", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set asset project: %w", ErrNotFound)
	}
	return nil
}

func (t *postgresTx) SetFinalApproval(ctx context.Context, assetID string, approvedBy *string, approvedAt *time.Time, notes *string) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE assets SET final_approved_by = $2, final_approved_at = $3, final_approval_notes = $4, updated_at = $5
		 WHERE id = $1`,
		assetID, approvedBy, approvedAt, notes, time.Now().UTC(),
	)
	if err != nil {
		return pgError("set final approval", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set final approval: %w", ErrNotFound)
	}
	return nil
}

func (t *postgresTx) CountReviewers(ctx context.Context, projectID string, stageOrder int) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		"SELECT COUNT(DISTINCT user_id) FROM reviewer_assignments WHERE project_id = $1 AND stage_order = $2",
		projectID, stageOrder,
	).Scan(&n)
	return n, pgError("count reviewers", err)
}

func (t *postgresTx) IsReviewer(ctx context.Context, projectID string, stageOrder int, userID string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviewer_assignments WHERE project_id = $1 AND stage_order = $2 AND user_id = $3)`,
		projectID, stageOrder, userID,
	).Scan(&ok)
	return ok, pgError("check reviewer", err)
}

func (t *postgresTx) StageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	return pgStageProgress(ctx, t.q, assetID, true)
}

func (t *postgresTx) DeleteWorkflowState(ctx context.Context, assetID string) error {
	if _, err := t.q.Exec(ctx, "DELETE FROM user_approvals WHERE asset_id = $1", assetID); err != nil {
		return pgError("delete approvals", err)
	}
	if _, err := t.q.Exec(ctx, "DELETE FROM stage_progress WHERE asset_id = $1", assetID); err != nil {
		return pgError("delete stage progress", err)
	}
	return nil
}

func (t *postgresTx) InsertStageProgress(ctx context.Context, p *models.StageProgress) error {
	stamp(&p.CreatedAt, &p.UpdatedAt)
	_, err := t.q.Exec(ctx,
		"INSERT INTO stage_progress ("+pgStageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.AssetID, p.StageOrder, p.StageName, string(p.StageColor), string(p.Status), p.ApprovalsRequired,
		p.ApprovalsReceived, p.Cycle, p.Version, p.ReviewedBy, p.ReviewedAt, p.Notes,
		p.NotificationSent, p.CreatedAt, p.UpdatedAt,
	)
	return pgError("insert stage progress", err)
}

func (t *postgresTx) UpdateStageProgress(ctx context.Context, p *models.StageProgress) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := t.q.Exec(ctx,
		`UPDATE stage_progress
		 SET status = $3, approvals_required = $4, approvals_received = $5, cycle = $6,
		     reviewed_by = $7, reviewed_at = $8, notes = $9, notification_sent = $10,
		     updated_at = $11, version = version + 1
		 WHERE asset_id = $1 AND stage_order = $2 AND version = $12`,
		p.AssetID, p.StageOrder, string(p.Status), p.ApprovalsRequired, p.ApprovalsReceived, p.Cycle,
		p.ReviewedBy, p.ReviewedAt, p.Notes, p.NotificationSent, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return pgError("update stage progress", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update stage progress %s/%d: %w", p.AssetID, p.StageOrder, ErrConflict)
	}
	p.Version++
	return nil
}

func (t *postgresTx) UpsertApproval(ctx context.Context, a *models.UserApproval) error {
	stamp(&a.CreatedAt, &a.UpdatedAt)
	err := t.q.QueryRow(ctx,
		`INSERT INTO user_approvals (id, asset_id, stage_order, user_id, cycle, action, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (asset_id, stage_order, user_id, cycle)
		 DO UPDATE SET action = EXCLUDED.action, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		a.ID, a.AssetID, a.StageOrder, a.UserID, a.Cycle, string(a.Action), a.Notes, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	return pgError("upsert approval", err)
}

func (t *postgresTx) CountApprovals(ctx context.Context, assetID string, stageOrder, cycle int) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_approvals
		 WHERE asset_id = $1 AND stage_order = $2 AND cycle = $3 AND action = $4`,
		assetID, stageOrder, cycle, string(models.ActionApprove),
	).Scan(&n)
	return n, pgError("count approvals", err)
}
