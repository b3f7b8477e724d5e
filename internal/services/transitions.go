package services

import (
	"context"
	"reflect"
	"time"

	"asset-approval/backend/internal/repository"
	"asset-approval/backend/pkg/models"
)

// reviewerCounter returns the current number of reviewers assigned to a stage.
type reviewerCounter func(stageOrder int) (int, error)

// workflowState is the in-memory copy of one asset's stage rows that a
// transition mutates before flushing the changed rows back in one go.
type workflowState struct {
	assetID   string
	projectID string
	stages    []*models.StageProgress
	loaded    map[int]*models.StageProgress
	now       time.Time
	events    []Event
}

func newWorkflowState(assetID, projectID string, stages []*models.StageProgress, now time.Time) *workflowState {
	loaded := make(map[int]*models.StageProgress, len(stages))
	for _, stage := range stages {
		loaded[stage.StageOrder] = stage.Clone()
	}
	return &workflowState{
		assetID:   assetID,
		projectID: projectID,
		stages:    stages,
		loaded:    loaded,
		now:       now,
	}
}

// current returns the stage in review, or nil when none is.
func (w *workflowState) current() *models.StageProgress {
	for _, stage := range w.stages {
		if stage.Status == models.StageStatusInReview {
			return stage
		}
	}
	return nil
}

func (w *workflowState) stage(order int) *models.StageProgress {
	for _, stage := range w.stages {
		if stage.StageOrder == order {
			return stage
		}
	}
	return nil
}

func (w *workflowState) last() *models.StageProgress {
	if len(w.stages) == 0 {
		return nil
	}
	return w.stages[len(w.stages)-1]
}

func (w *workflowState) cycle() int {
	if len(w.stages) == 0 {
		return 0
	}
	return w.stages[0].Cycle
}

// enter puts a stage into review with a fresh quorum snapshot.
func (w *workflowState) enter(stage *models.StageProgress, required int) {
	stage.Status = models.StageStatusInReview
	stage.ApprovalsRequired = required
	stage.ApprovalsReceived = 0
	stage.NotificationSent = false
	clearReview(stage)
}

// settle completes the stage in review while its quorum is met. A completed
// stage hands over to the next one, or parks in pending_final_approval when it
// was the last. Zero-reviewer stages pass straight through. It returns the
// orders of the stages it completed.
func (w *workflowState) settle(count reviewerCounter) ([]int, error) {
	var completed []int
	for {
		cur := w.current()
		if cur == nil || cur.ApprovalsReceived < cur.ApprovalsRequired {
			break
		}
		completed = append(completed, cur.StageOrder)

		next := w.stage(cur.StageOrder + 1)
		if next == nil {
			cur.Status = models.StageStatusPendingFinalApproval
			w.emit(EventOwnerPending, cur)
			break
		}

		cur.Status = models.StageStatusApproved
		required, err := count(next.StageOrder)
		if err != nil {
			return completed, err
		}
		w.enter(next, required)
	}

	if cur := w.current(); cur != nil && w.entered(cur) {
		w.emit(EventReviewersPending, cur)
	}
	return completed, nil
}

// reset sends every stage back to pending under a new cycle and re-enters
// stage 1. Ledger rows are left alone; the new cycle makes them inert.
func (w *workflowState) reset(count reviewerCounter) ([]int, error) {
	cycle := w.cycle() + 1
	for _, stage := range w.stages {
		stage.Status = models.StageStatusPending
		stage.ApprovalsReceived = 0
		stage.Cycle = cycle
		stage.NotificationSent = false
		clearReview(stage)
	}
	if len(w.stages) == 0 {
		return nil, nil
	}
	required, err := count(w.stages[0].StageOrder)
	if err != nil {
		return nil, err
	}
	w.enter(w.stages[0], required)
	return w.settle(count)
}

// entered reports whether the stage came into review during this transition.
func (w *workflowState) entered(stage *models.StageProgress) bool {
	before, ok := w.loaded[stage.StageOrder]
	return !ok || before.Status != models.StageStatusInReview || before.Cycle != stage.Cycle
}

func (w *workflowState) emit(kind EventKind, stage *models.StageProgress) {
	w.events = append(w.events, Event{
		Kind:       kind,
		AssetID:    w.assetID,
		ProjectID:  w.projectID,
		StageOrder: stage.StageOrder,
		Cycle:      stage.Cycle,
	})
}

// changed returns the rows that differ from what was loaded, with rows leaving
// review ahead of the row entering it so the one-in-review index holds after
// every statement.
func (w *workflowState) changed() []*models.StageProgress {
	var leaving, entering []*models.StageProgress
	for _, stage := range w.stages {
		before, ok := w.loaded[stage.StageOrder]
		if ok && reflect.DeepEqual(before, stage) {
			continue
		}
		if stage.Status == models.StageStatusInReview {
			entering = append(entering, stage)
		} else {
			leaving = append(leaving, stage)
		}
	}
	return append(leaving, entering...)
}

// flush writes the changed rows through tx.
func (w *workflowState) flush(ctx context.Context, tx repository.Tx) error {
	for _, stage := range w.changed() {
		if _, ok := w.loaded[stage.StageOrder]; ok {
			if err := tx.UpdateStageProgress(ctx, stage); err != nil {
				return err
			}
			continue
		}
		if err := tx.InsertStageProgress(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

func (w *workflowState) snapshot() []*models.StageProgress {
	out := make([]*models.StageProgress, len(w.stages))
	for i, stage := range w.stages {
		out[i] = stage.Clone()
	}
	return out
}

func clearReview(stage *models.StageProgress) {
	stage.ReviewedBy = nil
	stage.ReviewedAt = nil
	stage.Notes = nil
}

func clampReceived(received, required int) int {
	if received > required {
		return required
	}
	if received < 0 {
		return 0
	}
	return received
}
