package services

import (
	"context"
)

// Notifier delivers workflow notifications to people. Implementations may be
// slow or fail; the workflow never waits on them.
type Notifier interface {
	// NotifyReviewers tells the reviewers of a stage that a review is pending.
	NotifyReviewers(ctx context.Context, stageOrder int, projectID, assetID string) error
	// NotifyOwner tells the project or asset owner that final approval is needed.
	NotifyOwner(ctx context.Context, assetID string) error
}

// EventKind names what happened to a workflow.
type EventKind string

const (
	EventReviewersPending EventKind = "reviewers_pending"
	EventOwnerPending     EventKind = "owner_pending"
)

// Event is emitted by the workflow service after a transition has committed.
type Event struct {
	Kind       EventKind
	AssetID    string
	ProjectID  string
	StageOrder int
	Cycle      int
}

// Publisher accepts events for asynchronous delivery. Publish must not block.
type Publisher interface {
	Publish(ev Event) bool
}

type discardPublisher struct{}

func (discardPublisher) Publish(Event) bool { return false }
