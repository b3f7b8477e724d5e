package repository

import (
	"context"
	"errors"
	"time"

	"asset-approval/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a transient failure caused by a concurrent writer
	// (serialization failure, deadlock, busy database, stale row version).
	// Callers may retry the whole transaction.
	ErrConflict = errors.New("concurrent update conflict")
)

// OrganizationStore persists tenants.
type OrganizationStore interface {
	GetOrganizationByDomain(ctx context.Context, domain string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
}

// TemplateStore persists workflow templates and their stages.
type TemplateStore interface {
	// CreateTemplate saves a template. A default template clears the
	// organization's previous default.
	CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, organizationID string, includeArchived bool) ([]*models.WorkflowTemplate, error)
	ArchiveTemplate(ctx context.Context, id string) error
}

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// AssetStore persists assets.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
}

// ReviewerStore persists (project, stage, user) reviewer assignments.
type ReviewerStore interface {
	// AddReviewer is idempotent.
	AddReviewer(ctx context.Context, assignment *models.ReviewerAssignment) error
	RemoveReviewer(ctx context.Context, projectID string, stageOrder int, userID string) error
	ListReviewers(ctx context.Context, projectID string, stageOrder int) ([]string, error)
}

// WorkflowStore exposes read access to workflow state and the transactional
// unit every state transition runs in.
type WorkflowStore interface {
	ListStageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error)
	ListApprovals(ctx context.Context, assetID string) ([]*models.UserApproval, error)
	// MarkNotified records a delivered notification for the stage visit
	// identified by cycle. It does not bump the row version.
	MarkNotified(ctx context.Context, assetID string, stageOrder, cycle int) error
	// WithinTx runs fn in a single transaction and commits when fn returns
	// nil. Transient conflicts are reported as ErrConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository is the full persistence surface of the service.
type Repository interface {
	OrganizationStore
	TemplateStore
	ProjectStore
	AssetStore
	ReviewerStore
	WorkflowStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

// Tx is the set of reads and writes the workflow orchestrator performs inside
// one transaction.
type Tx interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)

	// LockAsset loads the asset and holds a write lock on it until the
	// transaction ends; all workflow transitions of one asset serialize here.
	LockAsset(ctx context.Context, id string) (*models.Asset, error)
	SetAssetProject(ctx context.Context, assetID string, projectID *string) error
	// SetFinalApproval writes the final approval fields; nil values clear them.
	SetFinalApproval(ctx context.Context, assetID string, approvedBy *string, approvedAt *time.Time, notes *string) error

	CountReviewers(ctx context.Context, projectID string, stageOrder int) (int, error)
	IsReviewer(ctx context.Context, projectID string, stageOrder int, userID string) (bool, error)

	// StageProgress returns the asset's stage rows ordered by stage order.
	StageProgress(ctx context.Context, assetID string) ([]*models.StageProgress, error)
	// DeleteWorkflowState removes every stage row and ledger row of the asset.
	DeleteWorkflowState(ctx context.Context, assetID string) error
	InsertStageProgress(ctx context.Context, progress *models.StageProgress) error
	// UpdateStageProgress writes progress if its Version still matches the
	// stored row and increments Version; a mismatch is ErrConflict.
	UpdateStageProgress(ctx context.Context, progress *models.StageProgress) error

	// UpsertApproval inserts the ledger row or overwrites the existing row
	// for the same (asset, stage, user, cycle).
	UpsertApproval(ctx context.Context, approval *models.UserApproval) error
	// CountApprovals counts approve rows for one stage within one cycle.
	CountApprovals(ctx context.Context, assetID string, stageOrder, cycle int) (int, error)
}
