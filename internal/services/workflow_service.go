package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/pkg/models"
)

// WorkflowRepository is the slice of the store the workflow service needs.
type WorkflowRepository interface {
	repository.WorkflowStore
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
}

// WorkflowConfig bounds the retry loop around contended transactions.
type WorkflowConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultWorkflowConfig matches the configuration defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{MaxRetries: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}
}

// Decision is one reviewer's verdict on a stage. Cycle is optional: when set,
// the decision only applies if the stage is still in that review cycle.
type Decision struct {
	AssetID    string
	StageOrder int
	Cycle      int
	UserID     string
	Action     models.DecisionAction
	Notes      *string
}

// DecisionResult reports the decided stage after the transition and whether
// it reached quorum.
type DecisionResult struct {
	Progress *models.StageProgress   `json:"progress"`
	Advanced bool                    `json:"advanced"`
	Reset    bool                    `json:"reset"`
	Stages   []*models.StageProgress `json:"stages"`
}

// WorkflowService drives assets through their review stages. Every operation
// runs in one store transaction that locks the asset, and is retried with
// backoff when the store reports a concurrent update.
type WorkflowService struct {
	repo      WorkflowRepository
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	cfg       WorkflowConfig
	now       func() time.Time
}

// Option customizes a WorkflowService.
type Option func(*WorkflowService)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *WorkflowService) { s.logger = logger }
}

// WithMetrics sets the instruments.
func WithMetrics(m *Metrics) Option {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithConfig sets retry bounds.
func WithConfig(cfg WorkflowConfig) Option {
	return func(s *WorkflowService) { s.cfg = cfg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) { s.now = now }
}

// NewWorkflowService creates a new WorkflowService. A nil publisher discards
// events.
func NewWorkflowService(repo WorkflowRepository, publisher Publisher, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		repo:      repo,
		publisher: publisher,
		logger:    slog.New(slog.DiscardHandler),
		cfg:       DefaultWorkflowConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = discardPublisher{}
	}
	if s.metrics == nil {
		s.metrics = defaultMetrics()
	}
	return s
}

// InitializeWorkflow discards any workflow state of the asset and creates one
// stage row per template stage of the project, with stage 1 in review.
func (s *WorkflowService) InitializeWorkflow(ctx context.Context, assetID, projectID string) ([]*models.StageProgress, error) {
	const op = "initialize workflow"
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var state *workflowState
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state = nil
		asset, project, err := lockAssetAndProject(ctx, tx, op, assetID, projectID)
		if err != nil {
			return err
		}
		if project.WorkflowTemplateID == nil {
			return errorf(KindConfig, op, "project %s has no workflow template", project.ID)
		}
		if asset.ProjectID == nil || *asset.ProjectID != project.ID {
			if err := tx.SetAssetProject(ctx, asset.ID, &project.ID); err != nil {
				return storeError(op, "asset", err)
			}
		}
		state, err = s.initialize(ctx, tx, op, asset, project)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.publish(state)
	return state.snapshot(), nil
}

// AssignAssetToProject moves the asset to projectID (empty to detach it). Any
// previous workflow state and final approval are discarded, and a new workflow
// starts when the project has a template.
func (s *WorkflowService) AssignAssetToProject(ctx context.Context, assetID, projectID string) ([]*models.StageProgress, error) {
	return s.assign(ctx, "assign asset to project", assetID, projectID, "")
}

// ReassignAsset is AssignAssetToProject on behalf of userID, who must own the
// asset or the project it currently belongs to.
func (s *WorkflowService) ReassignAsset(ctx context.Context, assetID, projectID, userID string) ([]*models.StageProgress, error) {
	if userID == "" {
		return nil, errorf(KindUnauthorized, "reassign asset", "no user")
	}
	return s.assign(ctx, "reassign asset", assetID, projectID, userID)
}

// assign checks ownership when actor is set.
func (s *WorkflowService) assign(ctx context.Context, op, assetID, projectID, actor string) ([]*models.StageProgress, error) {
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var state *workflowState
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state = nil
		var (
			asset   *models.Asset
			project *models.Project
			err     error
		)
		if projectID == "" {
			if asset, err = tx.LockAsset(ctx, assetID); err != nil {
				return storeError(op, "asset", err)
			}
		} else if asset, project, err = lockAssetAndProject(ctx, tx, op, assetID, projectID); err != nil {
			return err
		}
		if actor != "" {
			if err := checkManager(ctx, tx, op, actor, asset); err != nil {
				return err
			}
		}

		var target *string
		if project != nil {
			target = &project.ID
		}
		if err := tx.SetAssetProject(ctx, asset.ID, target); err != nil {
			return storeError(op, "asset", err)
		}

		if project == nil || project.WorkflowTemplateID == nil {
			if err := tx.SetFinalApproval(ctx, asset.ID, nil, nil, nil); err != nil {
				return storeError(op, "asset", err)
			}
			return storeError(op, "workflow", tx.DeleteWorkflowState(ctx, asset.ID))
		}
		state, err = s.initialize(ctx, tx, op, asset, project)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	if state == nil {
		s.logger.Info("asset assigned without workflow", "asset_id", assetID, "project_id", projectID)
		return []*models.StageProgress{}, nil
	}
	s.publish(state)
	return state.snapshot(), nil
}

// RestartWorkflow re-initializes the workflow from the asset's current
// project on behalf of userID, who must own the asset or that project.
func (s *WorkflowService) RestartWorkflow(ctx context.Context, assetID, userID string) ([]*models.StageProgress, error) {
	const op = "restart workflow"
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var state *workflowState
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state = nil
		asset, project, err := lockAssignedAsset(ctx, tx, op, assetID)
		if err != nil {
			return err
		}
		if !isOwner(userID, asset, project) {
			return errorf(KindUnauthorized, op, "%s does not own asset %s", userID, asset.ID)
		}
		if project.WorkflowTemplateID == nil {
			return errorf(KindConfig, op, "project %s has no workflow template", project.ID)
		}
		state, err = s.initialize(ctx, tx, op, asset, project)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.publish(state)
	s.logger.Info("workflow restarted", "asset_id", assetID, "user_id", userID, "cycle", state.cycle())
	return state.snapshot(), nil
}

// initialize replaces the asset's workflow rows inside tx. The new rows
// continue the cycle numbering of the rows they replace.
func (s *WorkflowService) initialize(ctx context.Context, tx repository.Tx, op string, asset *models.Asset, project *models.Project) (*workflowState, error) {
	template, err := tx.GetTemplate(ctx, *project.WorkflowTemplateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindConfig, op, "project workflow template is missing", err)
		}
		return nil, storeError(op, "template", err)
	}
	if err := models.ValidateStages(template.Stages); err != nil {
		return nil, newError(KindConfig, op, "template "+template.ID+" cannot start a workflow", err)
	}

	existing, err := tx.StageProgress(ctx, asset.ID)
	if err != nil {
		return nil, storeError(op, "workflow", err)
	}
	cycle := 1
	for _, stage := range existing {
		if stage.Cycle >= cycle {
			cycle = stage.Cycle + 1
		}
	}

	if err := tx.DeleteWorkflowState(ctx, asset.ID); err != nil {
		return nil, storeError(op, "workflow", err)
	}
	if err := tx.SetFinalApproval(ctx, asset.ID, nil, nil, nil); err != nil {
		return nil, storeError(op, "asset", err)
	}

	count := s.reviewerCounter(ctx, tx, op, project.ID)
	now := s.now().UTC()
	stages := make([]*models.StageProgress, 0, len(template.Stages))
	for _, stage := range models.SortedStages(template.Stages) {
		required, err := count(stage.Order)
		if err != nil {
			return nil, err
		}
		stages = append(stages, &models.StageProgress{
			AssetID:           asset.ID,
			StageOrder:        stage.Order,
			StageName:         stage.Name,
			StageColor:        stage.Color,
			Status:            models.StageStatusPending,
			ApprovalsRequired: required,
			Cycle:             cycle,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	state := newWorkflowState(asset.ID, project.ID, nil, now)
	state.stages = stages
	state.enter(stages[0], stages[0].ApprovalsRequired)
	completed, err := state.settle(count)
	if err != nil {
		return nil, err
	}
	if err := state.flush(ctx, tx); err != nil {
		return nil, storeError(op, "workflow", err)
	}

	s.metrics.advanced(ctx, len(completed))
	s.logger.Info("workflow initialized",
		"asset_id", asset.ID,
		"project_id", project.ID,
		"template_id", template.ID,
		"stages", len(stages),
		"cycle", cycle,
		"auto_passed", len(completed),
	)
	return state, nil
}

// SubmitDecision records a reviewer's decision on the stage in review and
// applies its consequence: quorum advances the workflow, request_changes
// resets it to stage 1.
func (s *WorkflowService) SubmitDecision(ctx context.Context, d Decision) (*DecisionResult, error) {
	const op = "submit decision"
	ctx, span := s.startSpan(ctx, op, d.AssetID)
	defer span.End()
	span.SetAttributes(attribute.Int("stage_order", d.StageOrder), attribute.String("action", string(d.Action)))

	if !d.Action.Valid() {
		return nil, s.fail(span, errorf(KindValidation, op, "unknown action %q", d.Action))
	}
	if d.UserID == "" {
		return nil, s.fail(span, errorf(KindUnauthorized, op, "decision has no user"))
	}

	var (
		state     *workflowState
		completed []int
		reset     bool
	)
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state, completed, reset = nil, nil, false

		asset, err := tx.LockAsset(ctx, d.AssetID)
		if err != nil {
			return storeError(op, "asset", err)
		}
		if asset.ProjectID == nil {
			return errorf(KindConfig, op, "asset %s is not assigned to a project", asset.ID)
		}
		stages, err := tx.StageProgress(ctx, asset.ID)
		if err != nil {
			return storeError(op, "workflow", err)
		}
		if len(stages) == 0 {
			return errorf(KindConfig, op, "asset %s has no workflow", asset.ID)
		}

		ok, err := tx.IsReviewer(ctx, *asset.ProjectID, d.StageOrder, d.UserID)
		if err != nil {
			return storeError(op, "reviewer", err)
		}
		if !ok {
			return errorf(KindUnauthorized, op, "%s is not a reviewer of stage %d", d.UserID, d.StageOrder)
		}

		state = newWorkflowState(asset.ID, *asset.ProjectID, stages, s.now().UTC())
		cur := state.current()
		if cur == nil || cur.StageOrder != d.StageOrder {
			return errorf(KindInvalidStage, op, "stage %d is not in review", d.StageOrder)
		}
		if d.Cycle != 0 && d.Cycle != cur.Cycle {
			return errorf(KindInvalidStage, op, "stage %d is in review cycle %d, not %d", d.StageOrder, cur.Cycle, d.Cycle)
		}

		if err := tx.UpsertApproval(ctx, &models.UserApproval{
			ID:         uuid.NewString(),
			AssetID:    asset.ID,
			StageOrder: cur.StageOrder,
			UserID:     d.UserID,
			Cycle:      cur.Cycle,
			Action:     d.Action,
			Notes:      d.Notes,
			CreatedAt:  state.now,
			UpdatedAt:  state.now,
		}); err != nil {
			return storeError(op, "approval", err)
		}

		count := s.reviewerCounter(ctx, tx, op, *asset.ProjectID)
		if d.Action == models.ActionRequestChanges {
			reset = true
			completed, err = state.reset(count)
			if err != nil {
				return err
			}
		} else {
			received, err := tx.CountApprovals(ctx, asset.ID, cur.StageOrder, cur.Cycle)
			if err != nil {
				return storeError(op, "approvals", err)
			}
			cur.ApprovalsReceived = clampReceived(received, cur.ApprovalsRequired)
			user, at := d.UserID, state.now
			cur.ReviewedBy, cur.ReviewedAt, cur.Notes = &user, &at, d.Notes
			if completed, err = state.settle(count); err != nil {
				return err
			}
		}
		return storeError(op, "workflow", state.flush(ctx, tx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.metrics.decision(ctx, string(d.Action))
	s.metrics.advanced(ctx, len(completed))
	if reset {
		s.metrics.reset(ctx, "request_changes")
	}
	s.publish(state)

	decided := state.stage(d.StageOrder).Clone()
	advanced := len(completed) > 0 && completed[0] == d.StageOrder && !reset
	s.logger.Info("decision recorded",
		"asset_id", d.AssetID,
		"stage_order", d.StageOrder,
		"cycle", decided.Cycle,
		"user_id", d.UserID,
		"action", string(d.Action),
		"advanced", advanced,
		"reset", reset,
	)
	return &DecisionResult{Progress: decided, Advanced: advanced, Reset: reset, Stages: state.snapshot()}, nil
}

// RecordFinalApproval closes out a workflow whose last stage awaits final
// approval. Only the project owner or the asset owner may sign off.
func (s *WorkflowService) RecordFinalApproval(ctx context.Context, assetID, userID string, notes *string) (*models.Asset, error) {
	const op = "record final approval"
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var asset *models.Asset
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		var err error
		var project *models.Project
		if asset, project, err = lockAssignedAsset(ctx, tx, op, assetID); err != nil {
			return err
		}
		if !isOwner(userID, asset, project) {
			return errorf(KindUnauthorized, op, "%s does not own asset %s", userID, asset.ID)
		}

		stages, err := tx.StageProgress(ctx, asset.ID)
		if err != nil {
			return storeError(op, "workflow", err)
		}
		state := newWorkflowState(asset.ID, project.ID, stages, s.now().UTC())
		last := state.last()
		if last == nil || last.Status != models.StageStatusPendingFinalApproval {
			return errorf(KindPrecondition, op, "asset %s is not awaiting final approval", asset.ID)
		}

		user, at := userID, state.now
		if err := tx.SetFinalApproval(ctx, asset.ID, &user, &at, notes); err != nil {
			return storeError(op, "asset", err)
		}
		asset.FinalApprovedBy, asset.FinalApprovedAt, asset.FinalApprovalNotes = &user, &at, notes
		asset.UpdatedAt = at

		last.Status = models.StageStatusApproved
		last.ReviewedBy, last.ReviewedAt, last.Notes = &user, &at, notes
		return storeError(op, "workflow", state.flush(ctx, tx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.metrics.finalApproval(ctx)
	s.logger.Info("final approval recorded", "asset_id", assetID, "user_id", userID)
	return asset, nil
}

// ResetWorkflow sends the asset back to stage 1 on the owner's request and
// withdraws any final approval.
func (s *WorkflowService) ResetWorkflow(ctx context.Context, assetID, userID string) ([]*models.StageProgress, error) {
	const op = "reset workflow"
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var (
		state     *workflowState
		completed []int
	)
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state, completed = nil, nil
		asset, project, err := lockAssignedAsset(ctx, tx, op, assetID)
		if err != nil {
			return err
		}
		if !isOwner(userID, asset, project) {
			return errorf(KindUnauthorized, op, "%s does not own asset %s", userID, asset.ID)
		}
		stages, err := tx.StageProgress(ctx, asset.ID)
		if err != nil {
			return storeError(op, "workflow", err)
		}
		if len(stages) == 0 {
			return errorf(KindPrecondition, op, "asset %s has no workflow", asset.ID)
		}

		state = newWorkflowState(asset.ID, project.ID, stages, s.now().UTC())
		if completed, err = state.reset(s.reviewerCounter(ctx, tx, op, project.ID)); err != nil {
			return err
		}
		if err := tx.SetFinalApproval(ctx, asset.ID, nil, nil, nil); err != nil {
			return storeError(op, "asset", err)
		}
		return storeError(op, "workflow", state.flush(ctx, tx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.metrics.reset(ctx, "manual")
	s.metrics.advanced(ctx, len(completed))
	s.publish(state)
	s.logger.Info("workflow reset", "asset_id", assetID, "user_id", userID, "cycle", state.cycle())
	return state.snapshot(), nil
}

// GetWorkflowState returns the asset's stage rows in order.
func (s *WorkflowService) GetWorkflowState(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	const op = "get workflow state"
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, storeError(op, "asset", err)
	}
	stages, err := s.repo.ListStageProgress(ctx, assetID)
	if err != nil {
		return nil, storeError(op, "workflow", err)
	}
	if stages == nil {
		stages = []*models.StageProgress{}
	}
	return stages, nil
}

// ApprovalHistory returns every ledger row of the asset across all cycles.
func (s *WorkflowService) ApprovalHistory(ctx context.Context, assetID string) ([]*models.UserApproval, error) {
	const op = "approval history"
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, storeError(op, "asset", err)
	}
	approvals, err := s.repo.ListApprovals(ctx, assetID)
	if err != nil {
		return nil, storeError(op, "approvals", err)
	}
	if approvals == nil {
		approvals = []*models.UserApproval{}
	}
	return approvals, nil
}

// ReconcileCounters recomputes every stage counter of the current cycle from
// the ledger and repairs any drift. A stage in review whose corrected counter
// meets quorum advances.
func (s *WorkflowService) ReconcileCounters(ctx context.Context, assetID string) ([]*models.StageProgress, error) {
	const op = "reconcile counters"
	ctx, span := s.startSpan(ctx, op, assetID)
	defer span.End()

	var (
		state     *workflowState
		completed []int
	)
	err := s.transact(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		state, completed = nil, nil
		asset, err := tx.LockAsset(ctx, assetID)
		if err != nil {
			return storeError(op, "asset", err)
		}
		stages, err := tx.StageProgress(ctx, asset.ID)
		if err != nil {
			return storeError(op, "workflow", err)
		}
		projectID := ""
		if asset.ProjectID != nil {
			projectID = *asset.ProjectID
		}
		state = newWorkflowState(asset.ID, projectID, stages, s.now().UTC())

		for _, stage := range stages {
			want := 0
			if stage.Status != models.StageStatusPending {
				n, err := tx.CountApprovals(ctx, asset.ID, stage.StageOrder, stage.Cycle)
				if err != nil {
					return storeError(op, "approvals", err)
				}
				want = clampReceived(n, stage.ApprovalsRequired)
			}
			if want != stage.ApprovalsReceived {
				s.logger.Warn("approval counter drift repaired",
					"asset_id", asset.ID,
					"stage_order", stage.StageOrder,
					"cycle", stage.Cycle,
					"stored", stage.ApprovalsReceived,
					"ledger", want,
				)
				stage.ApprovalsReceived = want
			}
		}

		if projectID != "" {
			if completed, err = state.settle(s.reviewerCounter(ctx, tx, op, projectID)); err != nil {
				return err
			}
		}
		return storeError(op, "workflow", state.flush(ctx, tx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.metrics.advanced(ctx, len(completed))
	s.publish(state)
	return state.snapshot(), nil
}

// transact runs fn in a store transaction, retrying with exponential backoff
// while the store reports ErrConflict.
func (s *WorkflowService) transact(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.cfg.MaxRetries, 0))), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.repo.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, repository.ErrConflict) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		s.metrics.contention(ctx, op)
		s.logger.Debug("transaction conflict, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}, policy)

	if err != nil && errors.Is(err, repository.ErrConflict) {
		return newError(KindContention, op, "", err)
	}
	return err
}

func (s *WorkflowService) reviewerCounter(ctx context.Context, tx repository.Tx, op, projectID string) reviewerCounter {
	return func(stageOrder int) (int, error) {
		n, err := tx.CountReviewers(ctx, projectID, stageOrder)
		if err != nil {
			return 0, storeError(op, "reviewers", err)
		}
		return n, nil
	}
}

func (s *WorkflowService) publish(state *workflowState) {
	if state == nil {
		return
	}
	for _, ev := range state.events {
		if !s.publisher.Publish(ev) {
			s.logger.Debug("notification not queued",
				"kind", string(ev.Kind),
				"asset_id", ev.AssetID,
				"stage_order", ev.StageOrder,
			)
		}
	}
}

func (s *WorkflowService) startSpan(ctx context.Context, op, assetID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow."+op, trace.WithAttributes(attribute.String("asset_id", assetID)))
}

func (s *WorkflowService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
	return err
}

func lockAssetAndProject(ctx context.Context, tx repository.Tx, op, assetID, projectID string) (*models.Asset, *models.Project, error) {
	asset, err := tx.LockAsset(ctx, assetID)
	if err != nil {
		return nil, nil, storeError(op, "asset", err)
	}
	project, err := tx.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, storeError(op, "project", err)
	}
	if project.OrganizationID != asset.OrganizationID {
		return nil, nil, errorf(KindValidation, op, "asset and project belong to different organizations")
	}
	return asset, project, nil
}

func lockAssignedAsset(ctx context.Context, tx repository.Tx, op, assetID string) (*models.Asset, *models.Project, error) {
	asset, err := tx.LockAsset(ctx, assetID)
	if err != nil {
		return nil, nil, storeError(op, "asset", err)
	}
	if asset.ProjectID == nil {
		return nil, nil, errorf(KindPrecondition, op, "asset %s is not assigned to a project", asset.ID)
	}
	project, err := tx.GetProject(ctx, *asset.ProjectID)
	if err != nil {
		return nil, nil, storeError(op, "project", err)
	}
	return asset, project, nil
}

// checkManager allows the asset owner and the owner of the asset's current
// project.
func checkManager(ctx context.Context, tx repository.Tx, op, userID string, asset *models.Asset) error {
	if userID == asset.OwnerID {
		return nil
	}
	if asset.ProjectID != nil {
		current, err := tx.GetProject(ctx, *asset.ProjectID)
		if err != nil {
			return storeError(op, "project", err)
		}
		if isOwner(userID, asset, current) {
			return nil
		}
	}
	return errorf(KindUnauthorized, op, "%s does not own asset %s", userID, asset.ID)
}

func isOwner(userID string, asset *models.Asset, project *models.Project) bool {
	return userID != "" && (userID == project.OwnerID || userID == asset.OwnerID)
}
