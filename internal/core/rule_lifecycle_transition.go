package core

import (
	"context"
	"fmt"

	"rua/pkg/domain"
)

// LifecycleTransitionRule blocks invalid statuses, moves out of terminal
// statuses and project or folder moves that the transition graph lacks.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	allowed   func(from, to string) bool
	extractor func(payload any) (id int64, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityProject: {
		entity: domain.EntityProject,
		label:  "project",
		terminal: toSet(
			string(domain.ProjectAdopcionDefinitiva),
			string(domain.ProjectBajaAnulacion),
			string(domain.ProjectBajaCaducidad),
			string(domain.ProjectBajaPorConvocatoria),
			string(domain.ProjectBajaRechazoInvitacion),
			string(domain.ProjectBajaInterrupcion),
		),
		valid: toSet(stringsOf(domain.ProjectStatuses)...),
		allowed: func(from, to string) bool {
			return domain.ProjectTransitionAllowed(domain.ProjectStatus(from), domain.ProjectStatus(to))
		},
		extractor: func(payload any) (int64, string, bool) {
			project, ok := payload.(domain.Project)
			if !ok {
				return 0, "", false
			}
			return project.ID, string(project.Status), true
		},
	},
	domain.EntityChild: {
		entity:   domain.EntityChild,
		label:    "child",
		terminal: toSet(string(domain.ChildAdopcionDefinitiva), string(domain.ChildMayorSinAdopcion)),
		valid:    toSet(stringsOf(domain.ChildStatuses)...),
		extractor: func(payload any) (int64, string, bool) {
			child, ok := payload.(domain.Child)
			if !ok {
				return 0, "", false
			}
			return child.ID, string(child.Status), true
		},
	},
	domain.EntityFolder: {
		entity:   domain.EntityFolder,
		label:    "folder",
		terminal: toSet(string(domain.FolderProyectoSeleccionado), string(domain.FolderDesierto)),
		valid:    toSet(stringsOf(domain.FolderStatuses)...),
		allowed: func(from, to string) bool {
			return domain.FolderTransitionAllowed(domain.FolderStatus(from), domain.FolderStatus(to))
		},
		extractor: func(payload any) (int64, string, bool) {
			folder, ok := payload.(domain.Folder)
			if !ok {
				return 0, "", false
			}
			return folder.ID, string(folder.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(machine lifecycleMachine, id int64, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   machine.entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}

		afterID, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if _, valid := machine.valid[afterState]; !valid {
			block(machine, afterID, fmt.Sprintf("%s %d is set to invalid state %s", machine.label, afterID, afterState))
			continue
		}

		_, beforeState, ok := machine.extractor(change.Before)
		if !ok || beforeState == afterState {
			continue
		}
		if _, terminal := machine.terminal[beforeState]; terminal {
			block(machine, afterID, fmt.Sprintf("cannot move %s %d from terminal state %s to %s", machine.label, afterID, beforeState, afterState))
			continue
		}
		if machine.allowed != nil && !machine.allowed(beforeState, afterState) {
			block(machine, afterID, fmt.Sprintf("%s %d cannot move from %s to %s", machine.label, afterID, beforeState, afterState))
		}
	}
	return res, nil
}
