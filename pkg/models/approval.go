package models

import (
	"time"
)

// StageStatus is the lifecycle state of one StageProgress row.
type StageStatus string

const (
	StageStatusPending              StageStatus = "pending"
	StageStatusInReview             StageStatus = "in_review"
	StageStatusApproved             StageStatus = "approved"
	StageStatusChangesRequested     StageStatus = "changes_requested"
	StageStatusPendingFinalApproval StageStatus = "pending_final_approval"
)

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusPending, StageStatusInReview, StageStatusApproved,
		StageStatusChangesRequested, StageStatusPendingFinalApproval:
		return true
	}
	return false
}

// StageProgress tracks one stage of one asset's workflow. Cycle is shared by
// every stage of the asset and increases on each reset.
type StageProgress struct {
	AssetID           string      `json:"asset_id"`
	StageOrder        int         `json:"stage_order"`
	StageName         string      `json:"stage_name"`
	StageColor        StageColor  `json:"stage_color"`
	Status            StageStatus `json:"status"`
	ApprovalsRequired int         `json:"approvals_required"`
	ApprovalsReceived int         `json:"approvals_received"`
	Cycle             int         `json:"cycle"`
	Version           int         `json:"version"`
	ReviewedBy        *string     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time  `json:"reviewed_at,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
	NotificationSent  bool        `json:"notification_sent"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Clone returns a copy that does not share pointer fields with p.
func (p *StageProgress) Clone() *StageProgress {
	out := *p
	if p.ReviewedBy != nil {
		v := *p.ReviewedBy
		out.ReviewedBy = &v
	}
	if p.ReviewedAt != nil {
		v := *p.ReviewedAt
		out.ReviewedAt = &v
	}
	if p.Notes != nil {
		v := *p.Notes
		out.Notes = &v
	}
	return &out
}

// DecisionAction is what a reviewer decided for a stage.
type DecisionAction string

const (
	ActionApprove        DecisionAction = "approve"
	ActionRequestChanges DecisionAction = "request_changes"
)

// Valid reports whether a is a known decision action.
func (a DecisionAction) Valid() bool {
	return a == ActionApprove || a == ActionRequestChanges
}

// UserApproval is one reviewer's decision for a stage within a cycle. There is
// at most one row per (asset, stage, user, cycle); a later decision in the
// same cycle overwrites the earlier one.
type UserApproval struct {
	ID         string         `json:"id"`
	AssetID    string         `json:"asset_id"`
	StageOrder int            `json:"stage_order"`
	UserID     string         `json:"user_id"`
	Cycle      int            `json:"cycle"`
	Action     DecisionAction `json:"action"`
	Notes      *string        `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
