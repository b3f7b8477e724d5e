package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/internal/testsupport"
	"asset-approval/backend/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) take() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

type workflowHarness struct {
	repo      *repository.SQLiteStore
	svc       *WorkflowService
	publisher *recordingPublisher
	fx        testsupport.Fixture
}

func newHarness(t *testing.T, stageReviewers ...[]string) *workflowHarness {
	t.Helper()
	repo := testsupport.OpenSQLite(t)
	publisher := &recordingPublisher{}
	return &workflowHarness{
		repo:      repo,
		svc:       NewWorkflowService(repo, publisher),
		publisher: publisher,
		fx:        testsupport.Seed(t, repo, stageReviewers...),
	}
}

func (h *workflowHarness) start(t *testing.T) []*models.StageProgress {
	t.Helper()
	stages, err := h.svc.AssignAssetToProject(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	require.NoError(t, err)
	return stages
}

func (h *workflowHarness) decide(t *testing.T, user string, stage int, action models.DecisionAction) *DecisionResult {
	t.Helper()
	res, err := h.svc.SubmitDecision(context.Background(), Decision{
		AssetID: h.fx.Asset.ID, StageOrder: stage, UserID: user, Action: action,
	})
	require.NoError(t, err)
	return res
}

func (h *workflowHarness) state(t *testing.T) []*models.StageProgress {
	t.Helper()
	stages, err := h.svc.GetWorkflowState(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	return stages
}

// assertInvariants checks the properties every committed state must hold.
func (h *workflowHarness) assertInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	stages := h.state(t)

	inReview := 0
	for i, stage := range stages {
		assert.Equal(t, i+1, stage.StageOrder, "stage orders are contiguous from 1")
		assert.LessOrEqual(t, stage.ApprovalsReceived, stage.ApprovalsRequired)
		assert.Equal(t, stages[0].Cycle, stage.Cycle, "all stages share one cycle")
		if stage.Status == models.StageStatusInReview {
			inReview++
		}
	}
	assert.LessOrEqual(t, inReview, 1)

	err := h.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, stage := range stages {
			if stage.Status == models.StageStatusPending {
				continue
			}
			n, err := tx.CountApprovals(ctx, stage.AssetID, stage.StageOrder, stage.Cycle)
			require.NoError(t, err)
			assert.Equal(t, clampReceived(n, stage.ApprovalsRequired), stage.ApprovalsReceived,
				"stage %d counter matches the ledger", stage.StageOrder)
		}
		return nil
	})
	require.NoError(t, err)
}

func statuses(stages []*models.StageProgress) []models.StageStatus {
	out := make([]models.StageStatus, len(stages))
	for i, stage := range stages {
		out[i] = stage.Status
	}
	return out
}

func TestInitializeSnapshotsReviewerCounts(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2), testsupport.Reviewers("b", 1), testsupport.Reviewers("c", 3))

	stages := h.start(t)
	require.Len(t, stages, 3)
	assert.Equal(t, []models.StageStatus{models.StageStatusInReview, models.StageStatusPending, models.StageStatusPending}, statuses(stages))
	assert.Equal(t, []int{2, 1, 3}, []int{stages[0].ApprovalsRequired, stages[1].ApprovalsRequired, stages[2].ApprovalsRequired})
	assert.Equal(t, 1, stages[0].Cycle)
	assert.Equal(t, "Stage 1", stages[0].StageName)

	events := h.publisher.take()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventReviewersPending, AssetID: h.fx.Asset.ID, ProjectID: h.fx.Project.ID, StageOrder: 1, Cycle: 1}, events[0])
	h.assertInvariants(t)
}

func TestQuorumAdvancesToNextStage(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2), testsupport.Reviewers("b", 1), testsupport.Reviewers("c", 3))
	h.start(t)
	h.publisher.take()

	first := h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	assert.False(t, first.Advanced)
	assert.Equal(t, 1, first.Progress.ApprovalsReceived)
	assert.Equal(t, models.StageStatusInReview, first.Progress.Status)
	require.NotNil(t, first.Progress.ReviewedBy)
	assert.Equal(t, "a1@acme.test", *first.Progress.ReviewedBy)
	assert.Empty(t, h.publisher.take())

	second := h.decide(t, "a2@acme.test", 1, models.ActionApprove)
	assert.True(t, second.Advanced)
	assert.Equal(t, models.StageStatusApproved, second.Progress.Status)
	assert.Equal(t, 2, second.Progress.ApprovalsReceived)

	stages := h.state(t)
	assert.Equal(t, models.StageStatusInReview, stages[1].Status)
	assert.Equal(t, 1, stages[1].ApprovalsRequired)
	assert.Equal(t, 0, stages[1].ApprovalsReceived)

	events := h.publisher.take()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].StageOrder)
	h.assertInvariants(t)
}

func TestSingleStageWithoutReviewersAwaitsFinalApproval(t *testing.T) {
	h := newHarness(t, []string{})

	stages := h.start(t)
	require.Len(t, stages, 1)
	assert.Equal(t, models.StageStatusPendingFinalApproval, stages[0].Status)
	assert.Equal(t, 0, stages[0].ApprovalsRequired)

	events := h.publisher.take()
	require.Len(t, events, 1)
	assert.Equal(t, EventOwnerPending, events[0].Kind)
	h.assertInvariants(t)
}

func TestZeroReviewerStageIsSkipped(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1), []string{}, testsupport.Reviewers("c", 1))
	h.start(t)

	res := h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	assert.True(t, res.Advanced)
	assert.Equal(t,
		[]models.StageStatus{models.StageStatusApproved, models.StageStatusApproved, models.StageStatusInReview},
		statuses(h.state(t)))
	h.assertInvariants(t)
}

func TestRequestChangesOnLastStageResetsEverything(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1), testsupport.Reviewers("b", 2))
	h.start(t)
	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	h.decide(t, "b1@acme.test", 2, models.ActionApprove)
	h.publisher.take()

	notes := "logo is too small"
	res, err := h.svc.SubmitDecision(context.Background(), Decision{
		AssetID: h.fx.Asset.ID, StageOrder: 2, UserID: "b2@acme.test", Action: models.ActionRequestChanges, Notes: &notes,
	})
	require.NoError(t, err)
	assert.True(t, res.Reset)
	assert.False(t, res.Advanced)

	stages := h.state(t)
	assert.Equal(t, []models.StageStatus{models.StageStatusInReview, models.StageStatusPending}, statuses(stages))
	for _, stage := range stages {
		assert.Zero(t, stage.ApprovalsReceived)
		assert.Nil(t, stage.ReviewedBy)
		assert.Nil(t, stage.Notes)
		assert.Equal(t, 2, stage.Cycle)
	}
	assert.Equal(t, 1, stages[0].ApprovalsRequired)

	history, err := h.svc.ApprovalHistory(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3, "ledger rows survive a reset")

	events := h.publisher.take()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].StageOrder)
	assert.Equal(t, 2, events[0].Cycle)
	h.assertInvariants(t)
}

func TestEditedDecisionInvalidatesStaleCycle(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2))
	h.start(t)

	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	res := h.decide(t, "a1@acme.test", 1, models.ActionRequestChanges)
	assert.True(t, res.Reset)
	assert.Equal(t, 2, res.Progress.Cycle)

	_, err := h.svc.SubmitDecision(context.Background(), Decision{
		AssetID: h.fx.Asset.ID, StageOrder: 1, Cycle: 1, UserID: "a2@acme.test", Action: models.ActionApprove,
	})
	assert.ErrorIs(t, err, ErrInvalidStage)

	stages := h.state(t)
	assert.Zero(t, stages[0].ApprovalsReceived, "rejected decision leaves no trace")
	h.assertInvariants(t)
}

func TestApprovalsFromEarlierCycleDoNotCount(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2))
	h.start(t)

	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	h.decide(t, "a2@acme.test", 1, models.ActionRequestChanges)

	res := h.decide(t, "a2@acme.test", 1, models.ActionApprove)
	assert.False(t, res.Advanced)
	assert.Equal(t, 1, res.Progress.ApprovalsReceived, "a1 must approve again in the new cycle")
	h.assertInvariants(t)
}

func TestRepeatedApprovalIsIdempotent(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 3))
	h.start(t)

	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	res := h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	assert.Equal(t, 1, res.Progress.ApprovalsReceived)

	history, err := h.svc.ApprovalHistory(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	h.assertInvariants(t)
}

func TestDecisionRejections(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1), testsupport.Reviewers("b", 1))
	h.start(t)
	ctx := context.Background()

	_, err := h.svc.SubmitDecision(ctx, Decision{AssetID: h.fx.Asset.ID, StageOrder: 1, UserID: "stranger@acme.test", Action: models.ActionApprove})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.svc.SubmitDecision(ctx, Decision{AssetID: h.fx.Asset.ID, StageOrder: 2, UserID: "b1@acme.test", Action: models.ActionApprove})
	assert.ErrorIs(t, err, ErrInvalidStage)

	_, err = h.svc.SubmitDecision(ctx, Decision{AssetID: h.fx.Asset.ID, StageOrder: 1, UserID: "a1@acme.test", Action: "maybe"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.svc.SubmitDecision(ctx, Decision{AssetID: "missing", StageOrder: 1, UserID: "a1@acme.test", Action: models.ActionApprove})
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := h.svc.ApprovalHistory(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, models.StageStatusInReview, h.state(t)[0].Status)
}

func TestDecisionOnUnassignedAsset(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))

	_, err := h.svc.SubmitDecision(context.Background(), Decision{AssetID: h.fx.Asset.ID, StageOrder: 1, UserID: "a1@acme.test", Action: models.ActionApprove})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestInitializeRejectsTemplateWithoutStages(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.InitializeWorkflow(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = h.svc.AssignAssetToProject(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	assert.ErrorIs(t, err, ErrConfig)

	asset, err := h.repo.GetAsset(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Nil(t, asset.ProjectID, "failed assignment is rolled back")
}

func TestProjectWithoutTemplate(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))
	bare := testsupport.NewProject(t, h.repo, h.fx.Org.ID, nil)
	ctx := context.Background()

	_, err := h.svc.InitializeWorkflow(ctx, h.fx.Asset.ID, bare.ID)
	assert.ErrorIs(t, err, ErrConfig)

	h.start(t)
	stages, err := h.svc.AssignAssetToProject(ctx, h.fx.Asset.ID, bare.ID)
	require.NoError(t, err)
	assert.Empty(t, stages)
	assert.Empty(t, h.state(t), "moving to a project without workflow drops the old state")

	asset, err := h.repo.GetAsset(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	require.NotNil(t, asset.ProjectID)
	assert.Equal(t, bare.ID, *asset.ProjectID)
}

func TestInitializeWorkflowAttachesAsset(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))

	stages, err := h.svc.InitializeWorkflow(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)

	asset, err := h.repo.GetAsset(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	require.NotNil(t, asset.ProjectID)
	assert.Equal(t, h.fx.Project.ID, *asset.ProjectID)
}

func TestReassignmentStartsOverWithNextCycle(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2), testsupport.Reviewers("b", 1))
	h.start(t)
	h.decide(t, "a1@acme.test", 1, models.ActionApprove)

	other := testsupport.NewProject(t, h.repo, h.fx.Org.ID, &h.fx.Template.ID)
	require.NoError(t, h.repo.AddReviewer(context.Background(), &models.ReviewerAssignment{ProjectID: other.ID, StageOrder: 1, UserID: "z@acme.test"}))

	stages, err := h.svc.AssignAssetToProject(context.Background(), h.fx.Asset.ID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stages[0].Cycle)
	assert.Equal(t, 1, stages[0].ApprovalsRequired)
	assert.Equal(t, 0, stages[1].ApprovalsRequired)

	history, err := h.svc.ApprovalHistory(context.Background(), h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	h.assertInvariants(t)
}

func TestReviewerChangesApplyOnStageEntry(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1), testsupport.Reviewers("b", 1))
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.repo.AddReviewer(ctx, &models.ReviewerAssignment{ProjectID: h.fx.Project.ID, StageOrder: 1, UserID: "late@acme.test"}))
	require.NoError(t, h.repo.AddReviewer(ctx, &models.ReviewerAssignment{ProjectID: h.fx.Project.ID, StageOrder: 2, UserID: "b2@acme.test"}))

	res := h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	assert.True(t, res.Advanced, "stage 1 keeps its snapshot of one reviewer")

	stages := h.state(t)
	assert.Equal(t, 2, stages[1].ApprovalsRequired, "stage 2 is re-counted on entry")
}

func TestFinalApproval(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))
	h.start(t)
	ctx := context.Background()

	_, err := h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, testsupport.ProjectOwner, nil)
	assert.ErrorIs(t, err, ErrPrecondition)

	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	assert.Equal(t, models.StageStatusPendingFinalApproval, h.state(t)[0].Status)

	_, err = h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, "a1@acme.test", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	notes := "ship it"
	asset, err := h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, testsupport.ProjectOwner, &notes)
	require.NoError(t, err)
	assert.True(t, asset.IsFinalApproved())
	assert.Equal(t, testsupport.ProjectOwner, *asset.FinalApprovedBy)
	assert.Equal(t, "ship it", *asset.FinalApprovalNotes)

	stages := h.state(t)
	assert.Equal(t, models.StageStatusApproved, stages[0].Status)
	assert.Equal(t, testsupport.ProjectOwner, *stages[0].ReviewedBy)

	_, err = h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, testsupport.ProjectOwner, nil)
	assert.ErrorIs(t, err, ErrPrecondition, "final approval is terminal")

	_, err = h.svc.SubmitDecision(ctx, Decision{AssetID: h.fx.Asset.ID, StageOrder: 1, UserID: "a1@acme.test", Action: models.ActionApprove})
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestAssetOwnerMayGiveFinalApproval(t *testing.T) {
	h := newHarness(t, []string{})
	h.start(t)

	asset, err := h.svc.RecordFinalApproval(context.Background(), h.fx.Asset.ID, testsupport.AssetOwner, nil)
	require.NoError(t, err)
	assert.Equal(t, testsupport.AssetOwner, *asset.FinalApprovedBy)
}

func TestManualResetWithdrawsFinalApproval(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1), testsupport.Reviewers("b", 1))
	h.start(t)
	ctx := context.Background()
	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	h.decide(t, "b1@acme.test", 2, models.ActionApprove)
	_, err := h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, testsupport.ProjectOwner, nil)
	require.NoError(t, err)

	_, err = h.svc.ResetWorkflow(ctx, h.fx.Asset.ID, "a1@acme.test")
	assert.ErrorIs(t, err, ErrUnauthorized)

	stages, err := h.svc.ResetWorkflow(ctx, h.fx.Asset.ID, testsupport.ProjectOwner)
	require.NoError(t, err)
	assert.Equal(t, []models.StageStatus{models.StageStatusInReview, models.StageStatusPending}, statuses(stages))

	asset, err := h.repo.GetAsset(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.False(t, asset.IsFinalApproved())
	h.assertInvariants(t)
}

func TestRestartAndReassignRequireOwner(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))
	h.start(t)
	ctx := context.Background()
	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	_, err := h.svc.RecordFinalApproval(ctx, h.fx.Asset.ID, testsupport.ProjectOwner, nil)
	require.NoError(t, err)

	_, err = h.svc.RestartWorkflow(ctx, h.fx.Asset.ID, "a1@acme.test")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.ReassignAsset(ctx, h.fx.Asset.ID, h.fx.Project.ID, "a1@acme.test")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.ReassignAsset(ctx, h.fx.Asset.ID, "", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	asset, err := h.repo.GetAsset(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.True(t, asset.IsFinalApproved())
	history, err := h.svc.ApprovalHistory(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stages, err := h.svc.RestartWorkflow(ctx, h.fx.Asset.ID, testsupport.ProjectOwner)
	require.NoError(t, err)
	assert.Equal(t, []models.StageStatus{models.StageStatusInReview}, statuses(stages))

	stages, err = h.svc.ReassignAsset(ctx, h.fx.Asset.ID, "", testsupport.AssetOwner)
	require.NoError(t, err)
	assert.Empty(t, stages)

	_, err = h.svc.RestartWorkflow(ctx, h.fx.Asset.ID, testsupport.AssetOwner)
	assert.ErrorIs(t, err, ErrPrecondition)
	h.assertInvariants(t)
}

func TestResetRequiresWorkflow(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))

	_, err := h.svc.ResetWorkflow(context.Background(), h.fx.Asset.ID, testsupport.ProjectOwner)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestReconcileCountersRepairsDrift(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 2), testsupport.Reviewers("b", 1))
	h.start(t)
	h.decide(t, "a1@acme.test", 1, models.ActionApprove)
	ctx := context.Background()

	// Corrupt the counter behind the service's back.
	err := h.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stages, err := tx.StageProgress(ctx, h.fx.Asset.ID)
		require.NoError(t, err)
		stages[0].ApprovalsReceived = 0
		return tx.UpdateStageProgress(ctx, stages[0])
	})
	require.NoError(t, err)

	stages, err := h.svc.ReconcileCounters(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stages[0].ApprovalsReceived)
	assert.Equal(t, models.StageStatusInReview, stages[0].Status)

	// The next approval recounts from the ledger and completes the stage.
	h.decide(t, "a2@acme.test", 1, models.ActionApprove)
	stages, err = h.svc.ReconcileCounters(ctx, h.fx.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInReview, stages[1].Status)
	h.assertInvariants(t)
}

func TestReadsOfUnknownAsset(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))

	_, err := h.svc.GetWorkflowState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.svc.ApprovalHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	stages := h.state(t)
	assert.NotNil(t, stages)
	assert.Empty(t, stages)
}

func TestConcurrentApprovalsAdvanceOnce(t *testing.T) {
	reviewers := testsupport.Reviewers("a", 6)
	h := newHarness(t, reviewers, testsupport.Reviewers("b", 1))
	h.start(t)
	h.publisher.take()

	var (
		wg       sync.WaitGroup
		advanced atomic.Int32
		failures atomic.Int32
	)
	for _, user := range reviewers {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			res, err := h.svc.SubmitDecision(context.Background(), Decision{
				AssetID: h.fx.Asset.ID, StageOrder: 1, UserID: user, Action: models.ActionApprove,
			})
			if err != nil {
				failures.Add(1)
				return
			}
			if res.Advanced {
				advanced.Add(1)
			}
		}(user)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, int32(1), advanced.Load(), "exactly one decision completes the stage")

	stages := h.state(t)
	assert.Equal(t, 6, stages[0].ApprovalsReceived)
	assert.Equal(t, models.StageStatusApproved, stages[0].Status)
	assert.Equal(t, models.StageStatusInReview, stages[1].Status)
	assert.Len(t, h.publisher.take(), 1)
	h.assertInvariants(t)
}

// conflictingRepo fails the first n transactions with ErrConflict.
type conflictingRepo struct {
	WorkflowRepository
	remaining atomic.Int32
	calls     atomic.Int32
}

func (r *conflictingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	r.calls.Add(1)
	if r.remaining.Add(-1) >= 0 {
		return repository.ErrConflict
	}
	return r.WorkflowRepository.WithinTx(ctx, fn)
}

func TestContentionIsRetried(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))
	repo := &conflictingRepo{WorkflowRepository: h.repo}
	repo.remaining.Store(2)
	svc := NewWorkflowService(repo, nil, WithConfig(WorkflowConfig{MaxRetries: 3, InitialBackoff: 1, MaxBackoff: 2}))

	stages, err := svc.AssignAssetToProject(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 1)
	assert.Equal(t, int32(3), repo.calls.Load())
}

func TestContentionExhaustsRetries(t *testing.T) {
	h := newHarness(t, testsupport.Reviewers("a", 1))
	repo := &conflictingRepo{WorkflowRepository: h.repo}
	repo.remaining.Store(100)
	svc := NewWorkflowService(repo, nil, WithConfig(WorkflowConfig{MaxRetries: 2, InitialBackoff: 1, MaxBackoff: 2}))

	_, err := svc.AssignAssetToProject(context.Background(), h.fx.Asset.ID, h.fx.Project.ID)
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, int32(3), repo.calls.Load())
}

func TestFailedNotificationsDoNotFailTransitions(t *testing.T) {
	repo := testsupport.OpenSQLite(t)
	fx := testsupport.Seed(t, repo, testsupport.Reviewers("a", 1))

	notifier := &mockNotifier{}
	notifier.On("NotifyReviewers", anyCtx, 1, fx.Project.ID, fx.Asset.ID).Return(assert.AnError)
	dispatcher := NewDispatcher(notifier, repo, DispatcherConfig{Workers: 1, QueueSize: 4}, nil, nil)
	dispatcher.Start(context.Background())

	svc := NewWorkflowService(repo, dispatcher)
	stages, err := svc.AssignAssetToProject(context.Background(), fx.Asset.ID, fx.Project.ID)
	require.NoError(t, err)
	require.NoError(t, dispatcher.Close())

	assert.Equal(t, models.StageStatusInReview, stages[0].Status)
	notifier.AssertExpectations(t)

	stored, err := repo.ListStageProgress(context.Background(), fx.Asset.ID)
	require.NoError(t, err)
	assert.False(t, stored[0].NotificationSent)
}
