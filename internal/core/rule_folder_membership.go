package core

import (
	"context"
	"fmt"

	"rua/pkg/domain"
)

// FolderMembershipRule keeps folder membership consistent: a resolved folder
// with a selected project holds exactly that project, a project sits in at
// most one live folder and no folder lists a member twice.
func FolderMembershipRule() domain.Rule {
	return folderMembershipRule{}
}

type folderMembershipRule struct{}

func (folderMembershipRule) Name() string { return "folder_membership" }

func (folderMembershipRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(folderID int64, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "folder_membership",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityFolder,
			EntityID: folderID,
		})
	}

	liveFolderOf := make(map[int64]int64)
	for _, folder := range view.ListFolders() {
		if folder.Status == domain.FolderProyectoSeleccionado && len(folder.Projects) != 1 {
			block(folder.ID, "folder %d is %s with %d attached projects", folder.ID, folder.Status, len(folder.Projects))
		}

		seenProjects := make(map[int64]struct{}, len(folder.Projects))
		for _, member := range folder.Projects {
			if _, dup := seenProjects[member.ProjectID]; dup {
				block(folder.ID, "folder %d lists project %d twice", folder.ID, member.ProjectID)
				continue
			}
			seenProjects[member.ProjectID] = struct{}{}
			if _, ok := view.FindProject(member.ProjectID); !ok {
				block(folder.ID, "folder %d references missing project %d", folder.ID, member.ProjectID)
			}
			if folder.Status == domain.FolderDesierto {
				continue
			}
			if other, taken := liveFolderOf[member.ProjectID]; taken {
				block(folder.ID, "project %d is attached to folders %d and %d", member.ProjectID, other, folder.ID)
				continue
			}
			liveFolderOf[member.ProjectID] = folder.ID
		}

		seenChildren := make(map[int64]struct{}, len(folder.Children))
		for _, member := range folder.Children {
			if _, dup := seenChildren[member.ChildID]; dup {
				block(folder.ID, "folder %d lists child %d twice", folder.ID, member.ChildID)
				continue
			}
			seenChildren[member.ChildID] = struct{}{}
			if _, ok := view.FindChild(member.ChildID); !ok {
				block(folder.ID, "folder %d references missing child %d", folder.ID, member.ChildID)
			}
		}
	}
	return res, nil
}
