package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rua/pkg/domain"
)

// TransitionPayload carries the event-specific inputs of a project transition.
type TransitionPayload struct {
	Actor       string `json:"actor,omitempty" validate:"max=64"`
	Comment     string `json:"comment,omitempty" validate:"max=4000"`
	Notify      bool   `json:"notify,omitempty"`
	Observation string `json:"observation,omitempty" validate:"max=4000"`
	// Subregistros replaces the project's eligibility flags when supplied.
	Subregistros   []domain.Subregistro `json:"subregistros,omitempty" validate:"omitempty,unique,dive,subregistro"`
	Evaluators     []string             `json:"evaluators,omitempty" validate:"omitempty,max=3,unique,dive,required"`
	InterviewAt    *time.Time           `json:"interview_at,omitempty"`
	EvaluationTags []string             `json:"evaluation_tags,omitempty" validate:"omitempty,unique,dive,required"`
	ReviewDate     *time.Time           `json:"review_date,omitempty"`
	BajaStatus     domain.ProjectStatus `json:"baja_status,omitempty"`
}

// notifiable events have applicant-visible consequences: the caller chooses
// between notifying the applicants and recording an internal observation.
var notifiable = map[domain.ProjectEvent]bool{
	domain.EventRequestUpdate:    true,
	domain.EventApprove:          true,
	domain.EventDeclareViable:    true,
	domain.EventSuspend:          true,
	domain.EventDeclareNotViable: true,
}

// TransitionProject applies a workflow event to a project, appending the
// history row and running the event's side effects in the same transaction.
func (s *Service) TransitionProject(ctx context.Context, projectID int64, event domain.ProjectEvent, payload TransitionPayload, opts ...MutationOption) (domain.Project, domain.Result, error) {
	cfg := newMutationConfig(opts)
	var updated domain.Project
	res, err := s.mutate(ctx, "transition_project", func(tx domain.Transaction, fx *effects) error {
		if event.IsInternal() {
			return domain.Validationf("event %s is reserved for folder and unification workflows", event)
		}
		if err := s.checkStruct("transition payload", payload); err != nil {
			return err
		}
		view := tx.Snapshot()
		project, ok := view.FindProject(projectID)
		if !ok {
			return domain.NotFound(domain.EntityProject, projectID)
		}
		if err := cfg.check(domain.EntityProject, projectID, project.Version); err != nil {
			return err
		}
		if _, err := domain.NextProjectStatus(project.Status, event, payload.BajaStatus); err != nil {
			return err
		}

		actor := actorOr(ctx, payload.Actor)
		apply, err := s.prepareEvent(tx, view, project, event, payload, actor)
		if err != nil {
			return err
		}
		updated, _, err = moveProject(tx, projectID, projectMove{
			event:      event,
			withdrawTo: payload.BajaStatus,
			actor:      actor,
			comment:    payload.Comment,
			apply:      apply,
		})
		if err != nil {
			return err
		}
		if err := cascadeEvent(tx, view, updated, event, actor); err != nil {
			return err
		}
		if updated, err = s.prepareUnification(tx, fx, updated, actor); err != nil {
			return err
		}
		return recordOutcome(tx, fx, updated, event, payload, actor)
	})
	return updated, res, err
}

// prepareEvent checks the event's preconditions and returns the mutation it
// applies alongside the status change.
func (s *Service) prepareEvent(tx domain.Transaction, view domain.TransactionView, p domain.Project, event domain.ProjectEvent, payload TransitionPayload, actor string) (func(*domain.Project, time.Time) error, error) {
	now := tx.Now()
	switch event {
	case domain.EventAcceptInvitation:
		if !p.Kind.IsCouple() || actor == "" || actor != p.Login2 {
			return nil, domain.Unauthorized("only the invited partner can accept the invitation of project %d", p.ID)
		}
		return func(p *domain.Project, _ time.Time) error {
			p.PartnerAccepted = true
			return nil
		}, nil

	case domain.EventRequestReview:
		flags := p.Subregistros
		if len(payload.Subregistros) > 0 {
			flags = payload.Subregistros
		}
		if len(flags) == 0 {
			return nil, domain.Validationf("at least one subregistro must be selected before requesting review")
		}
		if p.Kind.IsCouple() {
			if !p.PartnerAccepted {
				return nil, domain.Validationf("the partner has not accepted the invitation yet")
			}
			if !p.HasDocument(domain.DocConvivencia) {
				return nil, domain.Validationf("the %s document is required", domain.DocConvivencia)
			}
		}
		return replaceSubregistros(flags), nil

	case domain.EventApprove:
		if p.HasOrderNumber() {
			return nil, nil
		}
		number := nextOrderNumber(view.ListProjects())
		return func(p *domain.Project, now time.Time) error {
			assigned := now
			p.OrderNumber = number
			p.OrderAssignedAt = &assigned
			return nil
		}, nil

	case domain.EventAssignEvaluators, domain.EventReassignEvaluators:
		if err := checkEvaluators(view, payload.Evaluators); err != nil {
			return nil, err
		}
		evaluators := slices.Clone(payload.Evaluators)
		return func(p *domain.Project, _ time.Time) error {
			p.Evaluators = evaluators
			return nil
		}, nil

	case domain.EventScheduleInterview:
		if payload.InterviewAt == nil {
			return nil, domain.Validationf("an interview date is required")
		}
		at := payload.InterviewAt.UTC()
		if !at.After(now) {
			return nil, domain.Validationf("interview date %s is in the past", at.Format(time.RFC3339))
		}
		previous := view.ListInterviews(p.ID)
		if n := len(previous); n > 0 && !at.After(previous[n-1].ScheduledAt) {
			return nil, domain.Validationf("interview must be scheduled after the last one (%s)", previous[n-1].ScheduledAt.Format(time.RFC3339))
		}
		if err := s.policy.checkEvaluationTags(previous, payload.EvaluationTags); err != nil {
			return nil, err
		}
		if _, err := tx.CreateInterview(domain.Interview{
			ProjectID:      p.ID,
			ScheduledAt:    at,
			EvaluationTags: slices.Clone(payload.EvaluationTags),
			Comment:        payload.Comment,
			CreatedBy:      actor,
		}); err != nil {
			return nil, err
		}
		return nil, nil

	case domain.EventRequestValuation:
		if !p.HasDocument(domain.DocInformeEvaluacion) {
			return nil, domain.Validationf("the %s document is required", domain.DocInformeEvaluacion)
		}
		return nil, nil

	case domain.EventDeclareViable:
		if len(payload.Subregistros) == 0 {
			return nil, domain.Validationf("declaring a project viable requires its subregistros")
		}
		replace := replaceSubregistros(payload.Subregistros)
		return func(p *domain.Project, now time.Time) error {
			p.ReviewDate = nil
			return replace(p, now)
		}, nil

	case domain.EventSuspend:
		if payload.ReviewDate == nil || !payload.ReviewDate.After(now) {
			return nil, domain.Validationf("suspension requires a future review date")
		}
		review := payload.ReviewDate.UTC()
		return func(p *domain.Project, _ time.Time) error {
			p.ReviewDate = &review
			return nil
		}, nil

	case domain.EventDeclareNotViable:
		return func(p *domain.Project, _ time.Time) error {
			p.ReviewDate = nil
			return nil
		}, nil

	case domain.EventRegisterVinculacion:
		if !p.HasDocument(domain.DocDictamen) {
			return nil, domain.Validationf("the %s document is required", domain.DocDictamen)
		}
		return nil, nil

	case domain.EventGrantGuarda:
		if !p.HasDocument(domain.DocSentenciaGuarda) {
			return nil, domain.Validationf("the %s document is required", domain.DocSentenciaGuarda)
		}
		return nil, nil

	case domain.EventGrantAdoption:
		if !p.HasDocument(domain.DocSentenciaAdopcion) {
			return nil, domain.Validationf("the %s document is required", domain.DocSentenciaAdopcion)
		}
		return nil, nil
	}
	return nil, nil
}

func replaceSubregistros(flags []domain.Subregistro) func(*domain.Project, time.Time) error {
	replaced := slices.Clone(flags)
	return func(p *domain.Project, _ time.Time) error {
		p.Subregistros = replaced
		return nil
	}
}

// cascadeEvent moves the children of the folder in which the project was
// selected along with post-placement events.
func cascadeEvent(tx domain.Transaction, view domain.TransactionView, p domain.Project, event domain.ProjectEvent, actor string) error {
	var to domain.ChildStatus
	switch {
	case event == domain.EventGrantGuarda:
		to = domain.ChildGuardaProvisoria
	case event == domain.EventConfirmGuarda:
		to = domain.ChildGuardaConfirmada
	case event == domain.EventGrantAdoption:
		to = domain.ChildAdopcionDefinitiva
	case event == domain.EventWithdraw && p.Status == domain.ProjectBajaInterrupcion:
		to = domain.ChildInterrupcion
	default:
		return nil
	}
	comment := fmt.Sprintf("proyecto %d: %s", p.ID, event)
	for _, folder := range view.ListFolders() {
		if folder.Status != domain.FolderProyectoSeleccionado || !folder.HasProject(p.ID) {
			continue
		}
		for _, member := range folder.Children {
			c, ok := view.FindChild(member.ChildID)
			if !ok || c.Status.IsTerminal() {
				continue
			}
			if _, err := moveChild(tx, c.ID, to, actor, comment); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordOutcome queues the applicant notification or, for notifiable events
// the caller chose not to notify, records an internal observation.
func recordOutcome(tx domain.Transaction, fx *effects, p domain.Project, event domain.ProjectEvent, payload TransitionPayload, actor string) error {
	if payload.Notify {
		fx.notifications = append(fx.notifications, domain.Notification{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			Event:      event,
			Status:     p.Status,
			Recipients: p.Applicants(),
			Message:    payload.Comment,
			Actor:      actor,
			At:         tx.Now(),
		})
		return nil
	}
	if !notifiable[event] {
		return nil
	}
	text := payload.Observation
	if text == "" {
		text = fmt.Sprintf("%s registrado sin notificar a los pretensos", event)
	}
	_, err := tx.CreateObservation(domain.Observation{ProjectID: p.ID, Author: actor, Text: text})
	return err
}

func checkEvaluators(view domain.TransactionView, logins []string) error {
	if len(logins) < 1 || len(logins) > 3 {
		return domain.Validationf("between 1 and 3 evaluators are required, got %d", len(logins))
	}
	var details []string
	seen := make(map[string]struct{}, len(logins))
	for _, login := range logins {
		if _, dup := seen[login]; dup {
			details = append(details, fmt.Sprintf("%s is listed twice", login))
			continue
		}
		seen[login] = struct{}{}
		staff, ok := view.FindStaff(login)
		switch {
		case !ok:
			details = append(details, fmt.Sprintf("%s is not a registered staff member", login))
		case staff.Role != domain.RoleProfessional:
			details = append(details, fmt.Sprintf("%s has role %s, not %s", login, staff.Role, domain.RoleProfessional))
		case !staff.Active:
			details = append(details, fmt.Sprintf("%s is inactive", login))
		}
	}
	if len(details) > 0 {
		return domain.Validationf("invalid evaluators").WithDetails(details...)
	}
	return nil
}

// nextOrderNumber returns one more than the highest numeric order number of
// fewer than five digits, starting at 1.
func nextOrderNumber(projects []domain.Project) string {
	highest := 0
	for _, p := range projects {
		if p.OrderNumber == "" || len(p.OrderNumber) >= 5 {
			continue
		}
		n, err := strconv.Atoi(p.OrderNumber)
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return strconv.Itoa(highest + 1)
}

// checkEvaluationTags enforces the configured evaluation order: each interview
// must cover the next pending tags of the sequence without skipping any.
func (p Policy) checkEvaluationTags(previous []domain.Interview, tags []string) error {
	if !p.StrictEvaluationSequence {
		return nil
	}
	if len(tags) == 0 {
		return domain.Validationf("the interview must name the evaluations it covers")
	}
	done := make(map[string]struct{})
	for _, interview := range previous {
		for _, tag := range interview.EvaluationTags {
			done[tag] = struct{}{}
		}
	}
	var pending []string
	for _, tag := range p.EvaluationSequence {
		if _, ok := done[tag]; !ok {
			pending = append(pending, tag)
		}
	}
	for i, tag := range tags {
		if i >= len(pending) {
			return domain.Validationf("evaluation %q is not pending in the configured sequence", tag)
		}
		if pending[i] != tag {
			return domain.Validationf("evaluation %q is out of sequence; %q comes next", tag, pending[i])
		}
	}
	return nil
}
