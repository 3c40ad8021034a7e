package core

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rua/internal/blob"
	"rua/pkg/domain"
)

// uploadDateLayout is the format of the fecha attribute of upload entries.
const uploadDateLayout = "2006-01-02 15:04"

// ChildInput describes a child being registered.
type ChildInput struct {
	DNI             string             `json:"dni" validate:"required,max=20"`
	FirstName       string             `json:"first_name" validate:"required,max=120"`
	LastName        string             `json:"last_name" validate:"required,max=120"`
	BirthDate       time.Time          `json:"birth_date"`
	Status          domain.ChildStatus `json:"status,omitempty"`
	SiblingsGroupID *int64             `json:"siblings_group_id,omitempty"`
}

// ProjectInput describes a project being submitted. Status is only honoured
// for projects that do not enter through the self-service flow.
type ProjectInput struct {
	Kind         domain.ProjectKind   `json:"kind" validate:"required,project_kind"`
	Source       domain.ProjectSource `json:"source" validate:"required,project_source"`
	Login1       string               `json:"login_1" validate:"required,max=64"`
	Login2       string               `json:"login_2,omitempty" validate:"omitempty,max=64,nefield=Login1"`
	Subregistros []domain.Subregistro `json:"subregistros,omitempty" validate:"omitempty,unique,dive,subregistro"`
	Status       domain.ProjectStatus `json:"status,omitempty"`
}

// StaffInput describes a staff member.
type StaffInput struct {
	Login    string           `json:"login" validate:"required,max=64"`
	FullName string           `json:"full_name" validate:"required,max=200"`
	Role     domain.StaffRole `json:"role" validate:"required,oneof=profesional supervision administracion"`
	Active   bool             `json:"active"`
}

// CreateChild registers a child and records its initial status.
func (s *Service) CreateChild(ctx context.Context, in ChildInput) (domain.Child, domain.Result, error) {
	var created domain.Child
	res, err := s.mutate(ctx, "create_child", func(tx domain.Transaction, _ *effects) error {
		if err := s.checkStruct("child", in); err != nil {
			return err
		}
		status := in.Status
		if status == "" {
			status = domain.ChildSinFichaSinSentencia
		}
		if !status.Valid() {
			return domain.Validationf("unknown child status %q", status)
		}
		if status.InFolder() {
			return domain.Validationf("status %s is only reachable through a folder", status)
		}
		dni := strings.TrimSpace(in.DNI)
		if dni == "" {
			return domain.Validationf("child DNI is blank")
		}
		for _, existing := range tx.Snapshot().ListChildren() {
			if existing.DNI == dni {
				return domain.Validationf("a child with DNI %s is already registered (id %d)", dni, existing.ID)
			}
		}
		var err error
		created, err = tx.CreateChild(domain.Child{
			DNI:             dni,
			FirstName:       strings.TrimSpace(in.FirstName),
			LastName:        strings.TrimSpace(in.LastName),
			BirthDate:       in.BirthDate,
			Status:          status,
			SiblingsGroupID: in.SiblingsGroupID,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendChildHistory(domain.ChildHistoryEntry{ChildID: created.ID, To: status, Comment: "alta", Actor: ActorFromContext(ctx)})
		return err
	})
	return created, res, err
}

// GetChild returns a child by id.
func (s *Service) GetChild(ctx context.Context, id int64) (domain.Child, error) {
	var child domain.Child
	err := s.view(ctx, "get_child", func(v domain.TransactionView) error {
		var ok bool
		if child, ok = v.FindChild(id); !ok {
			return domain.NotFound(domain.EntityChild, id)
		}
		return nil
	})
	return child, err
}

// ListChildren returns every registered child.
func (s *Service) ListChildren(ctx context.Context) ([]domain.Child, error) {
	var out []domain.Child
	err := s.view(ctx, "list_children", func(v domain.TransactionView) error {
		out = v.ListChildren()
		return nil
	})
	return out, err
}

// CorrectChildStatus applies a manual status correction. Children held by an
// unresolved folder and folder-managed statuses are left to the folder engine.
func (s *Service) CorrectChildStatus(ctx context.Context, id int64, to domain.ChildStatus, comment string) (domain.Child, domain.Result, error) {
	var updated domain.Child
	res, err := s.mutate(ctx, "correct_child_status", func(tx domain.Transaction, _ *effects) error {
		if !to.Valid() {
			return domain.Validationf("unknown child status %q", to)
		}
		if to.InFolder() {
			return domain.Validationf("status %s is only reachable through a folder", to)
		}
		if strings.TrimSpace(comment) == "" {
			return domain.Validationf("a comment is required for manual corrections")
		}
		view := tx.Snapshot()
		if _, ok := view.FindChild(id); !ok {
			return domain.NotFound(domain.EntityChild, id)
		}
		for _, folder := range view.ListFolders() {
			if folder.Status.IsTerminal() {
				continue
			}
			for _, member := range folder.Children {
				if member.ChildID == id {
					return domain.Validationf("child %d is attached to folder %d", id, folder.ID)
				}
			}
		}
		var err error
		updated, err = moveChild(tx, id, to, ActorFromContext(ctx), comment)
		return err
	})
	return updated, res, err
}

// CreateProject submits a project. Self-service projects start in
// invitacion_pendiente (couples) or confeccionando; others default to viable.
func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (domain.Project, domain.Result, error) {
	var created domain.Project
	res, err := s.mutate(ctx, "create_project", func(tx domain.Transaction, _ *effects) error {
		if err := s.checkStruct("project", in); err != nil {
			return err
		}
		switch {
		case in.Kind.IsCouple() && in.Login2 == "":
			return domain.Validationf("a %s project needs two applicants", in.Kind)
		case !in.Kind.IsCouple() && in.Login2 != "":
			return domain.Validationf("a %s project has a single applicant", in.Kind)
		}
		status, err := initialProjectStatus(in)
		if err != nil {
			return err
		}
		created, err = tx.CreateProject(domain.Project{
			Kind:         in.Kind,
			Source:       in.Source,
			Login1:       in.Login1,
			Login2:       in.Login2,
			Status:       status,
			Subregistros: append([]domain.Subregistro(nil), in.Subregistros...),
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendProjectHistory(domain.ProjectHistoryEntry{ProjectID: created.ID, To: status, Comment: "alta", Actor: ActorFromContext(ctx)})
		return err
	})
	return created, res, err
}

func initialProjectStatus(in ProjectInput) (domain.ProjectStatus, error) {
	if in.Source == domain.SourceRUA {
		if in.Status != "" {
			return "", domain.Validationf("self-service projects cannot choose their initial status")
		}
		if in.Kind.IsCouple() {
			return domain.ProjectInvitacionPendiente, nil
		}
		return domain.ProjectConfeccionando, nil
	}
	if in.Status == "" {
		return domain.ProjectViable, nil
	}
	if !in.Status.Valid() || in.Status.IsTerminal() || in.Status == domain.ProjectEnCarpeta {
		return "", domain.Validationf("%s is not a valid initial status", in.Status)
	}
	return in.Status, nil
}

// GetProject returns a project by id.
func (s *Service) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var project domain.Project
	err := s.view(ctx, "get_project", func(v domain.TransactionView) error {
		var ok bool
		if project, ok = v.FindProject(id); !ok {
			return domain.NotFound(domain.EntityProject, id)
		}
		return nil
	})
	return project, err
}

// ListProjects returns every project.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	err := s.view(ctx, "list_projects", func(v domain.TransactionView) error {
		out = v.ListProjects()
		return nil
	})
	return out, err
}

// ProjectHistory returns a project's status history, oldest first.
func (s *Service) ProjectHistory(ctx context.Context, id int64) ([]domain.ProjectHistoryEntry, error) {
	var out []domain.ProjectHistoryEntry
	err := s.view(ctx, "project_history", func(v domain.TransactionView) error {
		if _, ok := v.FindProject(id); !ok {
			return domain.NotFound(domain.EntityProject, id)
		}
		out = v.ProjectHistory(id)
		return nil
	})
	return out, err
}

// ChildHistory returns a child's status history, oldest first.
func (s *Service) ChildHistory(ctx context.Context, id int64) ([]domain.ChildHistoryEntry, error) {
	var out []domain.ChildHistoryEntry
	err := s.view(ctx, "child_history", func(v domain.TransactionView) error {
		if _, ok := v.FindChild(id); !ok {
			return domain.NotFound(domain.EntityChild, id)
		}
		out = v.ChildHistory(id)
		return nil
	})
	return out, err
}

// RegisterStaff creates or replaces a staff member.
func (s *Service) RegisterStaff(ctx context.Context, in StaffInput) (domain.Staff, domain.Result, error) {
	var stored domain.Staff
	res, err := s.mutate(ctx, "register_staff", func(tx domain.Transaction, _ *effects) error {
		if err := s.checkStruct("staff member", in); err != nil {
			return err
		}
		var err error
		stored, err = tx.PutStaff(domain.Staff{Login: in.Login, FullName: in.FullName, Role: in.Role, Active: in.Active})
		return err
	})
	return stored, res, err
}

// ListInterviews returns a project's interviews in schedule order.
func (s *Service) ListInterviews(ctx context.Context, projectID int64) ([]domain.Interview, error) {
	var out []domain.Interview
	err := s.view(ctx, "list_interviews", func(v domain.TransactionView) error {
		if _, ok := v.FindProject(projectID); !ok {
			return domain.NotFound(domain.EntityProject, projectID)
		}
		out = v.ListInterviews(projectID)
		return nil
	})
	return out, err
}

// ListObservations returns the internal notes recorded on a project.
func (s *Service) ListObservations(ctx context.Context, projectID int64) ([]domain.Observation, error) {
	var out []domain.Observation
	err := s.view(ctx, "list_observations", func(v domain.TransactionView) error {
		if _, ok := v.FindProject(projectID); !ok {
			return domain.NotFound(domain.EntityProject, projectID)
		}
		out = v.ListObservations(projectID)
		return nil
	})
	return out, err
}

// AuditTrail returns audit events, optionally restricted to one entity.
// An empty entity type returns the full trail.
func (s *Service) AuditTrail(ctx context.Context, entity domain.EntityType, id int64) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := s.view(ctx, "audit_trail", func(v domain.TransactionView) error {
		for _, e := range v.ListAuditEvents() {
			if entity == "" || (e.Entity == entity && e.EntityID == id) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// PendingMerges lists unification markers that never completed.
func (s *Service) PendingMerges(ctx context.Context) ([]domain.PendingMerge, error) {
	var out []domain.PendingMerge
	err := s.view(ctx, "pending_merges", func(v domain.TransactionView) error {
		out = v.ListPendingMerges()
		return nil
	})
	return out, err
}

// UploadDocument stores a file and appends it to a project's document slot.
// The blob is removed again if the slot update does not commit.
func (s *Service) UploadDocument(ctx context.Context, projectID int64, field domain.DocumentField, filename string, r io.Reader, actor string) (domain.Project, domain.Result, error) {
	var updated domain.Project
	var res domain.Result
	err := s.run(ctx, "upload_document", func(ctx context.Context) error {
		if !field.Valid() {
			return domain.Validationf("unknown document field %q", field)
		}
		err := s.store.View(ctx, func(v domain.TransactionView) error {
			if _, ok := v.FindProject(projectID); !ok {
				return domain.NotFound(domain.EntityProject, projectID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		key := blob.DocumentKey(projectID, string(field), filename)
		info, err := s.blobs.Put(ctx, key, r, blob.PutOptions{
			ContentType: mime.TypeByExtension(path.Ext(filename)),
			Metadata: map[string]string{
				"project_id":    strconv.FormatInt(projectID, 10),
				"field":         string(field),
				"original_name": path.Base(filename),
			},
		})
		if err != nil {
			return domain.Fatal(err, "store document")
		}
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateProject(projectID, func(p *domain.Project) error {
				if p.Status.IsRetired() {
					return domain.Validationf("project %d is retired (%s)", p.ID, p.Status)
				}
				if p.Documents == nil {
					p.Documents = make(map[domain.DocumentField]domain.DocumentSlot)
				}
				p.Documents[field] = p.Document(field).Append(domain.UploadEntry{
					Path:       info.Key,
					UploadedAt: tx.Now().Format(uploadDateLayout),
				})
				return nil
			})
			if err != nil {
				return err
			}
			return appendAudit(tx, "documento_subido", actorOr(ctx, actor), domain.EntityProject, projectID,
				fmt.Sprintf("%s: %s", field, path.Base(filename)))
		})
		if err != nil {
			if _, derr := s.blobs.Delete(ctx, info.Key); derr != nil {
				s.log.Error().Err(derr).Str("key", info.Key).Msg("orphaned document after failed upload")
			}
		}
		return err
	})
	return updated, res, err
}

// moveChild sets a child's status and records the change. Unchanged statuses
// leave no history row.
func moveChild(tx domain.Transaction, id int64, to domain.ChildStatus, actor, comment string) (domain.Child, error) {
	var from domain.ChildStatus
	updated, err := tx.UpdateChild(id, func(c *domain.Child) error {
		from = c.Status
		c.Status = to
		return nil
	})
	if err != nil || from == to {
		return updated, err
	}
	_, err = tx.AppendChildHistory(domain.ChildHistoryEntry{ChildID: id, From: from, To: to, Comment: comment, Actor: actor})
	return updated, err
}

type projectMove struct {
	event      domain.ProjectEvent
	withdrawTo domain.ProjectStatus
	actor      string
	comment    string
	apply      func(p *domain.Project, now time.Time) error
}

// moveProject applies a workflow event to a project and appends the history row.
func moveProject(tx domain.Transaction, id int64, mv projectMove) (domain.Project, domain.ProjectStatus, error) {
	var from domain.ProjectStatus
	updated, err := tx.UpdateProject(id, func(p *domain.Project) error {
		next, err := domain.NextProjectStatus(p.Status, mv.event, mv.withdrawTo)
		if err != nil {
			return err
		}
		if mv.apply != nil {
			if err := mv.apply(p, tx.Now()); err != nil {
				return err
			}
		}
		from = p.Status
		p.Status = next
		return nil
	})
	if err != nil {
		return domain.Project{}, "", err
	}
	entry := domain.ProjectHistoryEntry{
		ProjectID: id,
		From:      from,
		To:        updated.Status,
		Comment:   mv.comment,
		Actor:     mv.actor,
	}
	if from == updated.Status {
		entry.Milestone = string(mv.event)
	}
	_, err = tx.AppendProjectHistory(entry)
	return updated, from, err
}

func appendAudit(tx domain.Transaction, action, actor string, entity domain.EntityType, id int64, summary string) error {
	_, err := tx.AppendAuditEvent(domain.AuditEvent{
		ID:       uuid.NewString(),
		Action:   action,
		Actor:    actor,
		Entity:   entity,
		EntityID: id,
		Summary:  summary,
	})
	return err
}
