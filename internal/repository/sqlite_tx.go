package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"asset-approval/backend/pkg/models"
)

// sqliteTx implements Tx on top of an IMMEDIATE database/sql transaction. The
// transaction already holds the write lock, so LockAsset is a plain read.
type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return sqliteGetProject(ctx, t.q, id)
}

func (t *sqliteTx) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return sqliteGetTemplate(ctx, t.q, id)
}

func (t *sqliteTx) LockAsset(ctx context.Context, id string) (*models.Asset, error) {
	return sqliteGetAsset(ctx, t.q, id)
}

func (t *sqliteTx) SetAssetProject(ctx context.Context, assetID string, projectID *string) error {
	res, err := t.q.ExecContext(ctx,
		"UPDATE assets SET project_id = ?, updated_at = ? WHERE id = ?",
		nullableString(projectID), formatTime(time.Now()), assetID,
	)
	if err != nil {
		return sqliteError("set asset project", err)
	}
	return requireAffected("set asset project", res)
}

func (t *sqliteTx) SetFinalApproval(ctx context.Context, assetID string, approvedBy *string, approvedAt *time.Time, notes *string) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE assets SET final_approved_by = ?, final_approved_at = ?, final_approval_notes = ?, updated_at = ?
		 WHERE id = ?`,
		nullableString(approvedBy), nullableTime(approvedAt), nullableString(notes), formatTime(time.Now()), assetID,
	)
	if err != nil {
		return sqliteError("set final approval", err)
	}
	return requireAffected("set final approval", res)
}

func (t *sqliteTx) CountReviewers(ctx context.Context, projectID string, stageOrder int) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT user_id) FROM reviewer_assignments WHERE project_id = ? AND stage_order = ?",
		projectID, stageOrder,
	).Scan(&n)
	return n, sqliteError("count reviewers", err)
}

func (t *sqliteTx) IsReviewer(ctx context.Context, projectID string, stageOrder int, userID string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviewer_assignments WHERE project_id = ? AND stage_order = ? AND user_id = ?",
		projectID, stageOrder, userID,
	).Scan(&n)
	return n > 0, sqliteError("check reviewer", err)
}

func (t *sqliteTx) StageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	return sqliteStageProgress(ctx, t.q, assetID)
}

func (t *sqliteTx) DeleteWorkflowState(ctx context.Context, assetID string) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM user_approvals WHERE asset_id = ?", assetID); err != nil {
		return sqliteError("delete approvals", err)
	}
	if _, err := t.q.ExecContext(ctx, "DELETE FROM stage_progress WHERE asset_id = ?", assetID); err != nil {
		return sqliteError("delete stage progress", err)
	}
	return nil
}

func (t *sqliteTx) InsertStageProgress(ctx context.Context, p *models.StageProgress) error {
	stamp(&p.CreatedAt, &p.UpdatedAt)
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO stage_progress ("+sqliteStageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.AssetID, p.StageOrder, p.StageName, string(p.StageColor), string(p.Status), p.ApprovalsRequired,
		p.ApprovalsReceived, p.Cycle, p.Version, nullableString(p.ReviewedBy), nullableTime(p.ReviewedAt),
		nullableString(p.Notes), boolToInt(p.NotificationSent), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return sqliteError("insert stage progress", err)
}

func (t *sqliteTx) UpdateStageProgress(ctx context.Context, p *models.StageProgress) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := t.q.ExecContext(ctx,
		`UPDATE stage_progress
		 SET status = ?, approvals_required = ?, approvals_received = ?, cycle = ?,
		     reviewed_by = ?, reviewed_at = ?, notes = ?, notification_sent = ?,
		     updated_at = ?, version = version + 1
		 WHERE asset_id = ? AND stage_order = ? AND version = ?`,
		string(p.Status), p.ApprovalsRequired, p.ApprovalsReceived, p.Cycle,
		nullableString(p.ReviewedBy), nullableTime(p.ReviewedAt), nullableString(p.Notes), boolToInt(p.NotificationSent),
		formatTime(p.UpdatedAt), p.AssetID, p.StageOrder, p.Version,
	)
	if err != nil {
		return sqliteError("update stage progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sqliteError("update stage progress", err)
	}
	if n == 0 {
		return fmt.Errorf("update stage progress %s/%d: %w", p.AssetID, p.StageOrder, ErrConflict)
	}
	p.Version++
	return nil
}

func (t *sqliteTx) UpsertApproval(ctx context.Context, a *models.UserApproval) error {
	stamp(&a.CreatedAt, &a.UpdatedAt)
	var created string
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO user_approvals (id, asset_id, stage_order, user_id, cycle, action, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (asset_id, stage_order, user_id, cycle)
		 DO UPDATE SET action = excluded.action, notes = excluded.notes, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		a.ID, a.AssetID, a.StageOrder, a.UserID, a.Cycle, string(a.Action), nullableString(a.Notes),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	).Scan(&a.ID, &created)
	if err != nil {
		return sqliteError("upsert approval", err)
	}
	if parsed, err := parseTimeString(created); err == nil {
		a.CreatedAt = parsed
	}
	return nil
}

func (t *sqliteTx) CountApprovals(ctx context.Context, assetID string, stageOrder, cycle int) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_approvals
		 WHERE asset_id = ? AND stage_order = ? AND cycle = ? AND action = ?`,
		assetID, stageOrder, cycle, string(models.ActionApprove),
	).Scan(&n)
	return n, sqliteError("count approvals", err)
}

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*PostgresStore)(nil)
	_ Tx         = (*sqliteTx)(nil)
	_ Tx         = (*postgresTx)(nil)
	_ sqlQuerier = (*sql.Tx)(nil)
)
