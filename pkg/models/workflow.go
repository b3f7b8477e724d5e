package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StageColor tags a stage for rendering. Only the values below are accepted.
type StageColor string

const (
	StageColorGray   StageColor = "gray"
	StageColorBlue   StageColor = "blue"
	StageColorGreen  StageColor = "green"
	StageColorYellow StageColor = "yellow"
	StageColorOrange StageColor = "orange"
	StageColorRed    StageColor = "red"
	StageColorPurple StageColor = "purple"
	StageColorPink   StageColor = "pink"
)

// Valid reports whether c is one of the known color tags.
func (c StageColor) Valid() bool {
	switch c {
	case StageColorGray, StageColorBlue, StageColorGreen, StageColorYellow,
		StageColorOrange, StageColorRed, StageColorPurple, StageColorPink:
		return true
	}
	return false
}

// Stage is one named step of a WorkflowTemplate. Orders start at 1.
type Stage struct {
	Order int        `json:"order" yaml:"order"`
	Name  string     `json:"name" yaml:"name"`
	Color StageColor `json:"color" yaml:"color"`
}

// WorkflowTemplate is a reusable, ordered list of review stages owned by an
// organization. Projects reference a template by ID.
type WorkflowTemplate struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Stages         []Stage   `json:"stages"`
	IsDefault      bool      `json:"is_default"`
	IsArchived     bool      `json:"is_archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrNoStages is returned by Validate for a template without stages.
var ErrNoStages = errors.New("workflow template has no stages")

// Validate checks that the template has at least one stage, that stage orders
// are unique and contiguous starting at 1, and that every stage has a name and
// a known color.
func (t *WorkflowTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("workflow template name is required")
	}
	return ValidateStages(t.Stages)
}

// ValidateStages applies the stage rules of Validate to a bare stage list.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return ErrNoStages
	}
	sorted := SortedStages(stages)
	for i, stage := range sorted {
		if stage.Order != i+1 {
			return fmt.Errorf("stage orders must be contiguous from 1: expected %d, got %d", i+1, stage.Order)
		}
		if strings.TrimSpace(stage.Name) == "" {
			return fmt.Errorf("stage %d: name is required", stage.Order)
		}
		if !stage.Color.Valid() {
			return fmt.Errorf("stage %d: unknown color %q", stage.Order, stage.Color)
		}
	}
	return nil
}

// SortedStages returns a copy of stages in ascending order.
func SortedStages(stages []Stage) []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// HasStage reports whether the template defines the given stage order.
func (t *WorkflowTemplate) HasStage(order int) bool {
	for _, stage := range t.Stages {
		if stage.Order == order {
			return true
		}
	}
	return false
}

// Project groups assets and optionally points at a workflow template. The
// owner performs final approval.
type Project struct {
	ID                 string    `json:"id"`
	OrganizationID     string    `json:"organization_id"`
	Name               string    `json:"name"`
	OwnerID            string    `json:"owner_id"`
	WorkflowTemplateID *string   `json:"workflow_template_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ReviewerAssignment authorizes a user to decide on one stage of a project.
type ReviewerAssignment struct {
	ProjectID  string    `json:"project_id"`
	StageOrder int       `json:"stage_order"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}
