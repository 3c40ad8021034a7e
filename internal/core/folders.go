package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"rua/pkg/domain"
)

// MilestoneSentToCourt marks the history row written for each project of a
// folder submitted to court.
const MilestoneSentToCourt = "enviada_a_juzgado"

// CreateFolder bundles viable projects and assignable children into a new
// folder and moves every member into its in-folder status.
func (s *Service) CreateFolder(ctx context.Context, projectIDs, childIDs []int64) (domain.Folder, domain.Result, error) {
	var created domain.Folder
	res, err := s.mutate(ctx, "create_folder", func(tx domain.Transaction, _ *effects) error {
		if len(projectIDs) == 0 && len(childIDs) == 0 {
			return domain.Validationf("must supply at least one project or child")
		}
		if err := checkMembers(tx.Snapshot(), projectIDs, childIDs); err != nil {
			return err
		}
		now := tx.Now()
		folder := domain.Folder{Status: domain.FolderPreparandoCarpeta}
		for _, id := range projectIDs {
			folder.Projects = append(folder.Projects, domain.FolderProject{ProjectID: id, AssignedAt: now})
		}
		for _, id := range childIDs {
			folder.Children = append(folder.Children, domain.FolderChild{ChildID: id, AssignedAt: now})
		}
		var err error
		if created, err = tx.CreateFolder(folder); err != nil {
			return err
		}
		actor := ActorFromContext(ctx)
		if err := attachMembers(tx, created.ID, projectIDs, childIDs, actor); err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_creada", actor, domain.EntityFolder, created.ID, membershipSummary(created))
	})
	return created, res, err
}

// UpdateFolder replaces a folder's membership. Only newly added members are
// validated; removed members return to their available statuses.
func (s *Service) UpdateFolder(ctx context.Context, id int64, projectIDs, childIDs []int64, opts ...MutationOption) (domain.Folder, domain.Result, error) {
	cfg := newMutationConfig(opts)
	var updated domain.Folder
	res, err := s.mutate(ctx, "update_folder", func(tx domain.Transaction, _ *effects) error {
		view := tx.Snapshot()
		folder, err := loadFolder(view, id, cfg)
		if err != nil {
			return err
		}
		if folder.Status != domain.FolderVacia && folder.Status != domain.FolderPreparandoCarpeta {
			return domain.Validationf("folder %d is %s and its membership can no longer change", id, folder.Status)
		}
		if err := checkUnique(projectIDs, childIDs); err != nil {
			return err
		}
		addedProjects, removedProjects := diffIDs(folder.ProjectIDs(), projectIDs)
		addedChildren, removedChildren := diffIDs(folder.ChildIDs(), childIDs)
		if err := checkMembers(view, addedProjects, addedChildren); err != nil {
			return err
		}

		actor := ActorFromContext(ctx)
		comment := fmt.Sprintf("retirado de la carpeta %d", id)
		for _, pid := range removedProjects {
			if p, ok := view.FindProject(pid); ok && p.Status == domain.ProjectEnCarpeta {
				if _, _, err := moveProject(tx, pid, projectMove{event: domain.EventRemoveFromFolder, actor: actor, comment: comment}); err != nil {
					return err
				}
			}
		}
		for _, cid := range removedChildren {
			if c, ok := view.FindChild(cid); ok && c.Status.InFolder() {
				if _, err := moveChild(tx, cid, domain.ChildDisponible, actor, comment); err != nil {
					return err
				}
			}
		}
		if err := attachMembers(tx, id, addedProjects, addedChildren, actor); err != nil {
			return err
		}

		updated, err = tx.UpdateFolder(id, func(f *domain.Folder) error {
			now := tx.Now()
			projects := make([]domain.FolderProject, 0, len(projectIDs))
			for _, pid := range projectIDs {
				row := domain.FolderProject{ProjectID: pid, AssignedAt: now}
				if i := slices.IndexFunc(f.Projects, func(m domain.FolderProject) bool { return m.ProjectID == pid }); i >= 0 {
					row = f.Projects[i]
				}
				projects = append(projects, row)
			}
			children := make([]domain.FolderChild, 0, len(childIDs))
			for _, cid := range childIDs {
				row := domain.FolderChild{ChildID: cid, AssignedAt: now}
				if i := slices.IndexFunc(f.Children, func(m domain.FolderChild) bool { return m.ChildID == cid }); i >= 0 {
					row = f.Children[i]
				}
				children = append(children, row)
			}
			f.Projects, f.Children = projects, children
			f.Status = domain.FolderPreparandoCarpeta
			if f.IsEmpty() {
				f.Status = domain.FolderVacia
			}
			return nil
		})
		if err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_actualizada", actor, domain.EntityFolder, id, membershipSummary(updated))
	})
	return updated, res, err
}

// SendFolderToCourt submits a folder with at least one project and one child.
// Project statuses are unchanged; each project gets a milestone history row.
func (s *Service) SendFolderToCourt(ctx context.Context, id int64, opts ...MutationOption) (domain.Folder, domain.Result, error) {
	cfg := newMutationConfig(opts)
	var updated domain.Folder
	res, err := s.mutate(ctx, "send_folder_to_court", func(tx domain.Transaction, _ *effects) error {
		view := tx.Snapshot()
		folder, err := loadFolder(view, id, cfg)
		if err != nil {
			return err
		}
		if len(folder.Projects) == 0 || len(folder.Children) == 0 {
			return domain.Validationf("folder %d needs at least one project and one child to be sent to court", id)
		}
		if !domain.FolderTransitionAllowed(folder.Status, domain.FolderEnviadaAJuzgado) || folder.Status == domain.FolderEnviadaAJuzgado {
			return domain.Validationf("folder %d is %s and cannot be sent to court", id, folder.Status)
		}

		names := make([]string, 0, len(folder.Children))
		for _, member := range folder.Children {
			if c, ok := view.FindChild(member.ChildID); ok {
				names = append(names, c.FullName())
			}
		}
		comment := fmt.Sprintf("Carpeta %d enviada a juzgado con %d proyecto(s). NNA: %s", id, len(folder.Projects), strings.Join(names, ", "))
		actor := ActorFromContext(ctx)
		for _, member := range folder.Projects {
			p, ok := view.FindProject(member.ProjectID)
			if !ok {
				return domain.NotFound(domain.EntityProject, member.ProjectID)
			}
			if _, err := tx.AppendProjectHistory(domain.ProjectHistoryEntry{
				ProjectID: p.ID,
				From:      p.Status,
				To:        p.Status,
				Milestone: MilestoneSentToCourt,
				Comment:   comment,
				Actor:     actor,
			}); err != nil {
				return err
			}
		}
		for _, member := range folder.Children {
			if c, ok := view.FindChild(member.ChildID); ok && c.Status == domain.ChildPreparandoCarpeta {
				if _, err := moveChild(tx, c.ID, domain.ChildEnviadaAJuzgado, actor, comment); err != nil {
					return err
				}
			}
		}
		updated, err = tx.UpdateFolder(id, func(f *domain.Folder) error {
			f.Status = domain.FolderEnviadaAJuzgado
			return nil
		})
		if err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_enviada", actor, domain.EntityFolder, id, membershipSummary(updated))
	})
	return updated, res, err
}

// ReturnFolderToPreparation reverts a folder sent to court.
func (s *Service) ReturnFolderToPreparation(ctx context.Context, id int64, opts ...MutationOption) (domain.Folder, domain.Result, error) {
	cfg := newMutationConfig(opts)
	var updated domain.Folder
	res, err := s.mutate(ctx, "return_folder_to_preparation", func(tx domain.Transaction, _ *effects) error {
		view := tx.Snapshot()
		folder, err := loadFolder(view, id, cfg)
		if err != nil {
			return err
		}
		if folder.Status != domain.FolderEnviadaAJuzgado {
			return domain.Validationf("folder %d is %s; only folders sent to court can return to preparation", id, folder.Status)
		}
		actor := ActorFromContext(ctx)
		comment := fmt.Sprintf("carpeta %d devuelta a preparación", id)
		for _, member := range folder.Children {
			if c, ok := view.FindChild(member.ChildID); ok && c.Status == domain.ChildEnviadaAJuzgado {
				if _, err := moveChild(tx, c.ID, domain.ChildPreparandoCarpeta, actor, comment); err != nil {
					return err
				}
			}
		}
		updated, err = tx.UpdateFolder(id, func(f *domain.Folder) error {
			f.Status = domain.FolderPreparandoCarpeta
			return nil
		})
		if err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_devuelta", actor, domain.EntityFolder, id, membershipSummary(updated))
	})
	return updated, res, err
}

// ResolveFolder applies the court's dictamen. With a selected project the
// winner moves to vinculacion together with the children and every other
// project is released; without one the folder is declared desierto.
func (s *Service) ResolveFolder(ctx context.Context, id int64, selected *int64, opts ...MutationOption) (domain.Folder, domain.Result, error) {
	cfg := newMutationConfig(opts)
	var updated domain.Folder
	res, err := s.mutate(ctx, "resolve_folder", func(tx domain.Transaction, fx *effects) error {
		view := tx.Snapshot()
		folder, err := loadFolder(view, id, cfg)
		if err != nil {
			return err
		}
		if folder.Status.IsTerminal() {
			return domain.Validationf("folder %d is already resolved (%s)", id, folder.Status)
		}
		if folder.Status == domain.FolderVacia {
			return domain.Validationf("folder %d is empty", id)
		}
		if selected != nil && !folder.HasProject(*selected) {
			return domain.Validationf("project %d is not attached to folder %d", *selected, id)
		}

		actor := ActorFromContext(ctx)
		released := fmt.Sprintf("liberado por dictamen de la carpeta %d", id)
		for _, member := range folder.Projects {
			if selected != nil && member.ProjectID == *selected {
				continue
			}
			if p, ok := view.FindProject(member.ProjectID); ok && p.Status == domain.ProjectEnCarpeta {
				if _, _, err := moveProject(tx, p.ID, projectMove{event: domain.EventRemoveFromFolder, actor: actor, comment: released}); err != nil {
					return err
				}
			}
		}

		childStatus := domain.ChildDisponible
		target := domain.FolderDesierto
		if selected != nil {
			childStatus = domain.ChildVinculacion
			target = domain.FolderProyectoSeleccionado
			winner, _, err := moveProject(tx, *selected, projectMove{
				event:   domain.EventSelectInFolder,
				actor:   actor,
				comment: fmt.Sprintf("seleccionado por dictamen de la carpeta %d", id),
			})
			if err != nil {
				return err
			}
			if _, err := s.prepareUnification(tx, fx, winner, actor); err != nil {
				return err
			}
		}
		for _, member := range folder.Children {
			c, ok := view.FindChild(member.ChildID)
			if !ok || !c.Status.InFolder() {
				continue
			}
			if _, err := moveChild(tx, c.ID, childStatus, actor, fmt.Sprintf("dictamen de la carpeta %d", id)); err != nil {
				return err
			}
		}

		updated, err = tx.UpdateFolder(id, func(f *domain.Folder) error {
			var kept []domain.FolderProject
			for _, member := range f.Projects {
				if selected != nil && member.ProjectID == *selected {
					kept = append(kept, member)
				}
			}
			f.Projects = kept
			f.Status = target
			return nil
		})
		if err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_resuelta", actor, domain.EntityFolder, id,
			fmt.Sprintf("%s; %s", target, membershipSummary(updated)))
	})
	return updated, res, err
}

// DeleteEmptyFolder removes a folder that is vacia and has no members.
func (s *Service) DeleteEmptyFolder(ctx context.Context, id int64, opts ...MutationOption) (domain.Result, error) {
	cfg := newMutationConfig(opts)
	return s.mutate(ctx, "delete_empty_folder", func(tx domain.Transaction, _ *effects) error {
		folder, err := loadFolder(tx.Snapshot(), id, cfg)
		if err != nil {
			return err
		}
		if folder.Status != domain.FolderVacia || !folder.IsEmpty() {
			return domain.Validationf("folder %d is %s with %d project(s) and %d child(ren); only empty folders can be deleted",
				id, folder.Status, len(folder.Projects), len(folder.Children))
		}
		if err := tx.DeleteFolder(id); err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_eliminada", ActorFromContext(ctx), domain.EntityFolder, id, "carpeta vacía eliminada")
	})
}

// DeleteSelectedFolder undoes a selection on request of one of the selected
// project's applicants: the project returns to viable, the children to
// disponible and the folder is removed with its membership.
func (s *Service) DeleteSelectedFolder(ctx context.Context, id int64, requesterDNI string, opts ...MutationOption) (domain.Result, error) {
	cfg := newMutationConfig(opts)
	return s.mutate(ctx, "delete_selected_folder", func(tx domain.Transaction, _ *effects) error {
		view := tx.Snapshot()
		folder, err := loadFolder(view, id, cfg)
		if err != nil {
			return err
		}
		if folder.Status != domain.FolderProyectoSeleccionado {
			return domain.Validationf("folder %d is %s, not %s", id, folder.Status, domain.FolderProyectoSeleccionado)
		}
		if len(folder.Projects) != 1 || len(folder.Children) == 0 {
			return domain.Validationf("folder %d must hold exactly one project and at least one child", id)
		}
		project, ok := view.FindProject(folder.Projects[0].ProjectID)
		if !ok {
			return domain.NotFound(domain.EntityProject, folder.Projects[0].ProjectID)
		}
		if !project.HasApplicant(strings.TrimSpace(requesterDNI)) {
			return domain.Unauthorized("requester is not an applicant of project %d", project.ID)
		}
		if project.Status != domain.ProjectVinculacion {
			return domain.Validationf("project %d is %s; only a selection in vinculacion can be undone", project.ID, project.Status)
		}

		actor := actorOr(ctx, requesterDNI)
		comment := fmt.Sprintf("carpeta %d eliminada", id)
		if _, _, err := moveProject(tx, project.ID, projectMove{event: domain.EventReleaseFromFolder, actor: actor, comment: comment}); err != nil {
			return err
		}
		for _, member := range folder.Children {
			if c, ok := view.FindChild(member.ChildID); ok && c.Status.InFolder() {
				if _, err := moveChild(tx, c.ID, domain.ChildDisponible, actor, comment); err != nil {
					return err
				}
			}
		}
		if err := tx.DeleteFolder(id); err != nil {
			return err
		}
		return appendAudit(tx, "carpeta_seleccionada_eliminada", actor, domain.EntityFolder, id, membershipSummary(folder))
	})
}

// GetFolder returns a folder by id.
func (s *Service) GetFolder(ctx context.Context, id int64) (domain.Folder, error) {
	var folder domain.Folder
	err := s.view(ctx, "get_folder", func(v domain.TransactionView) error {
		var ok bool
		if folder, ok = v.FindFolder(id); !ok {
			return domain.NotFound(domain.EntityFolder, id)
		}
		return nil
	})
	return folder, err
}

// ListFolders returns every folder.
func (s *Service) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	var out []domain.Folder
	err := s.view(ctx, "list_folders", func(v domain.TransactionView) error {
		out = v.ListFolders()
		return nil
	})
	return out, err
}

func loadFolder(view domain.TransactionView, id int64, cfg mutationConfig) (domain.Folder, error) {
	folder, ok := view.FindFolder(id)
	if !ok {
		return domain.Folder{}, domain.NotFound(domain.EntityFolder, id)
	}
	if err := cfg.check(domain.EntityFolder, id, folder.Version); err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

func checkUnique(projectIDs, childIDs []int64) error {
	seen := make(map[int64]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		if _, dup := seen[id]; dup {
			return domain.Validationf("project %d is listed twice", id)
		}
		seen[id] = struct{}{}
	}
	clear(seen)
	for _, id := range childIDs {
		if _, dup := seen[id]; dup {
			return domain.Validationf("child %d is listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// checkMembers validates candidate members, reporting every offender at once.
func checkMembers(view domain.TransactionView, projectIDs, childIDs []int64) error {
	if err := checkUnique(projectIDs, childIDs); err != nil {
		return err
	}
	var details []string
	for _, id := range projectIDs {
		p, ok := view.FindProject(id)
		if !ok {
			return domain.NotFound(domain.EntityProject, id)
		}
		if p.Status != domain.ProjectViable {
			details = append(details, fmt.Sprintf("project %d is %s, not viable", id, p.Status))
		}
	}
	for _, id := range childIDs {
		c, ok := view.FindChild(id)
		if !ok {
			return domain.NotFound(domain.EntityChild, id)
		}
		if !c.Status.AssignableToFolder() {
			details = append(details, fmt.Sprintf("child %d is %s and cannot join a folder", id, c.Status))
		}
	}
	if len(details) > 0 {
		return domain.Validationf("invalid folder members").WithDetails(details...)
	}
	return nil
}

func attachMembers(tx domain.Transaction, folderID int64, projectIDs, childIDs []int64, actor string) error {
	comment := fmt.Sprintf("incorporado a la carpeta %d", folderID)
	for _, id := range projectIDs {
		if _, _, err := moveProject(tx, id, projectMove{event: domain.EventAddToFolder, actor: actor, comment: comment}); err != nil {
			return err
		}
	}
	for _, id := range childIDs {
		if _, err := moveChild(tx, id, domain.ChildPreparandoCarpeta, actor, comment); err != nil {
			return err
		}
	}
	return nil
}

// diffIDs returns the ids of next missing from current and those of current
// missing from next, each in their list order.
func diffIDs(current, next []int64) (added, removed []int64) {
	for _, id := range next {
		if !slices.Contains(current, id) {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !slices.Contains(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func membershipSummary(f domain.Folder) string {
	return fmt.Sprintf("proyectos %v; nna %v", f.ProjectIDs(), f.ChildIDs())
}
