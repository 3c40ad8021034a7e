package core

import (
	"context"
	"fmt"

	"rua/pkg/domain"
)

// OrderNumberRule requires the order number and its assignment date to be set
// together and keeps order numbers unique among non-retired projects.
func OrderNumberRule() domain.Rule {
	return orderNumberRule{}
}

type orderNumberRule struct{}

func (orderNumberRule) Name() string { return "order_number" }

func (orderNumberRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	owners := make(map[string]int64)
	for _, project := range view.ListProjects() {
		hasNumber := project.OrderNumber != ""
		hasDate := project.OrderAssignedAt != nil
		if hasNumber != hasDate {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "order_number",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("project %d must carry both an order number and its assignment date", project.ID),
				Entity:   domain.EntityProject,
				EntityID: project.ID,
			})
		}
		if !hasNumber || project.Status.IsRetired() {
			continue
		}
		if other, dup := owners[project.OrderNumber]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "order_number",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("order number %s is held by projects %d and %d", project.OrderNumber, other, project.ID),
				Entity:   domain.EntityProject,
				EntityID: project.ID,
			})
			continue
		}
		owners[project.OrderNumber] = project.ID
	}
	return res, nil
}
