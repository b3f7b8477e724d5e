package models

import (
	"time"
)

// AssetKind distinguishes what an asset was created from.
type AssetKind string

const (
	AssetKindCardMockup AssetKind = "card_mockup"
	AssetKindLogo       AssetKind = "logo"
	AssetKindDocument   AssetKind = "document"
)

// Valid reports whether k is a known asset kind.
func (k AssetKind) Valid() bool {
	return k == AssetKindCardMockup || k == AssetKindLogo || k == AssetKindDocument
}

// Asset is the reviewable artifact. The final approval fields are written only
// by the final approval operation.
type Asset struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	ProjectID          *string    `json:"project_id,omitempty"`
	Name               string     `json:"name"`
	Kind               AssetKind  `json:"kind"`
	OwnerID            string     `json:"owner_id"`
	FinalApprovedBy    *string    `json:"final_approved_by,omitempty"`
	FinalApprovedAt    *time.Time `json:"final_approved_at,omitempty"`
	FinalApprovalNotes *string    `json:"final_approval_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsFinalApproved reports whether final sign-off has been recorded.
func (a *Asset) IsFinalApproved() bool {
	return a.FinalApprovedAt != nil
}
