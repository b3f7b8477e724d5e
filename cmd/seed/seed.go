package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"asset-approval/backend/internal/services"
	"asset-approval/backend/pkg/models"
)

// seedFile is the YAML layout accepted by the seeder. Templates, projects and
// assets refer to each other by name.
type seedFile struct {
	Organization struct {
		Domain string `yaml:"domain"`
	} `yaml:"organization"`
	Templates []struct {
		Name    string         `yaml:"name"`
		Default bool           `yaml:"default"`
		Stages  []models.Stage `yaml:"stages"`
	} `yaml:"templates"`
	Projects []struct {
		Name      string           `yaml:"name"`
		Owner     string           `yaml:"owner"`
		Template  string           `yaml:"template"`
		Reviewers map[int][]string `yaml:"reviewers"`
	} `yaml:"projects"`
	Assets []struct {
		Name    string           `yaml:"name"`
		Kind    models.AssetKind `yaml:"kind"`
		Owner   string           `yaml:"owner"`
		Project string           `yaml:"project"`
	} `yaml:"assets"`
}

func parseSeed(data []byte) (*seedFile, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if strings.TrimSpace(file.Organization.Domain) == "" {
		return nil, errors.New("seed file: organization.domain is required")
	}
	return &file, nil
}

// seedNamespace derives stable ids so re-running the seeder skips records it
// created before.
var seedNamespace = uuid.MustParse("6f1c2f8e-3b7a-4d5e-9c1a-2b8e4f7d9a10")

func seedID(kind, orgID, name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(kind+"/"+orgID+"/"+name)).String()
}

type seeder struct {
	admin    *services.AdminService
	workflow *services.WorkflowService
	logger   *slog.Logger
}

func (s *seeder) apply(ctx context.Context, file *seedFile) error {
	org, err := s.admin.EnsureOrganization(ctx, file.Organization.Domain)
	if err != nil {
		return err
	}
	s.logger.Info("Using organization", "id", org.ID, "domain", org.Domain)

	existing, err := s.admin.ListTemplates(ctx, org.ID, true)
	if err != nil {
		return err
	}
	templates := make(map[string]string, len(existing))
	for _, t := range existing {
		templates[t.Name] = t.ID
	}

	for _, t := range file.Templates {
		if id, ok := templates[t.Name]; ok {
			s.logger.Info("Skipping existing template", "name", t.Name, "id", id)
			continue
		}
		template := &models.WorkflowTemplate{Name: t.Name, Stages: t.Stages, IsDefault: t.Default}
		if err := s.admin.CreateTemplate(ctx, org.ID, template); err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
		templates[t.Name] = template.ID
		s.logger.Info("Seeded template", "name", t.Name, "id", template.ID)
	}

	projects := make(map[string]string, len(file.Projects))
	for _, p := range file.Projects {
		id := seedID("project", org.ID, p.Name)
		projects[p.Name] = id
		if _, err := s.admin.GetProject(ctx, org.ID, id); err == nil {
			s.logger.Info("Skipping existing project", "name", p.Name, "id", id)
			continue
		} else if !errors.Is(err, services.ErrNotFound) {
			return err
		}

		project := &models.Project{ID: id, Name: p.Name, OwnerID: strings.ToLower(p.Owner)}
		if p.Template != "" {
			templateID, ok := templates[p.Template]
			if !ok {
				return fmt.Errorf("project %q: unknown template %q", p.Name, p.Template)
			}
			project.WorkflowTemplateID = &templateID
		}
		if err := s.admin.CreateProject(ctx, org.ID, project); err != nil {
			return fmt.Errorf("project %q: %w", p.Name, err)
		}
		for stage, users := range p.Reviewers {
			for _, user := range users {
				if err := s.admin.AddReviewer(ctx, org.ID, id, stage, strings.ToLower(user)); err != nil {
					return fmt.Errorf("project %q stage %d reviewer %s: %w", p.Name, stage, user, err)
				}
			}
		}
		s.logger.Info("Seeded project", "name", p.Name, "id", id)
	}

	for _, a := range file.Assets {
		id := seedID("asset", org.ID, a.Name)
		if _, err := s.admin.GetAsset(ctx, org.ID, id); err == nil {
			s.logger.Info("Skipping existing asset", "name", a.Name, "id", id)
			continue
		} else if !errors.Is(err, services.ErrNotFound) {
			return err
		}

		asset := &models.Asset{ID: id, Name: a.Name, Kind: a.Kind, OwnerID: strings.ToLower(a.Owner)}
		if err := s.admin.CreateAsset(ctx, org.ID, asset); err != nil {
			return fmt.Errorf("asset %q: %w", a.Name, err)
		}
		if a.Project != "" {
			projectID, ok := projects[a.Project]
			if !ok {
				return fmt.Errorf("asset %q: unknown project %q", a.Name, a.Project)
			}
			stages, err := s.workflow.AssignAssetToProject(ctx, id, projectID)
			if err != nil {
				return fmt.Errorf("asset %q: %w", a.Name, err)
			}
			s.logger.Info("Seeded asset", "name", a.Name, "id", id, "project", a.Project, "stages", len(stages))
			continue
		}
		s.logger.Info("Seeded asset", "name", a.Name, "id", id)
	}
	return nil
}
