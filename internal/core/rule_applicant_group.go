package core

import (
	"context"
	"fmt"

	"rua/pkg/domain"
)

// ApplicantGroupRule allows at most one non-retired RUA-origin project per
// applicant group, regardless of applicant order.
func ApplicantGroupRule() domain.Rule {
	return applicantGroupRule{}
}

type applicantGroupRule struct{}

func (applicantGroupRule) Name() string { return "applicant_group" }

func (applicantGroupRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[domain.ApplicantGroup]struct{})
	for _, change := range changes {
		if project, ok := change.After.(domain.Project); ok && project.Source == domain.SourceRUA {
			touched[project.Group()] = struct{}{}
		}
	}
	res := domain.Result{}
	if len(touched) == 0 {
		return res, nil
	}
	holders := make(map[domain.ApplicantGroup]int64)
	for _, project := range view.ListProjects() {
		if project.Source != domain.SourceRUA || project.Status.IsRetired() {
			continue
		}
		group := project.Group()
		if _, ok := touched[group]; !ok {
			continue
		}
		if other, dup := holders[group]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "applicant_group",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("applicants %s already hold active RUA project %d (project %d)", groupLabel(group), other, project.ID),
				Entity:   domain.EntityProject,
				EntityID: project.ID,
			})
			continue
		}
		holders[group] = project.ID
	}
	return res, nil
}

func groupLabel(g domain.ApplicantGroup) string {
	if g.Second == "" {
		return g.First
	}
	return g.First + "+" + g.Second
}
