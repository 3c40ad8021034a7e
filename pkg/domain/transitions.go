package domain

// ProjectEvent names a workflow event applied to a project.
type ProjectEvent string

// Workflow events accepted by the transition engine.
const (
	EventAcceptInvitation    ProjectEvent = "aceptar_invitacion"
	EventRequestReview       ProjectEvent = "solicitar_revision"
	EventRequestUpdate       ProjectEvent = "solicitar_actualizacion"
	EventApprove             ProjectEvent = "aprobar"
	EventAssignEvaluators    ProjectEvent = "asignar_profesionales"
	EventReassignEvaluators  ProjectEvent = "reasignar_profesionales"
	EventScheduleInterview   ProjectEvent = "agendar_entrevista"
	EventRequestValuation    ProjectEvent = "solicitar_valoracion"
	EventDeclareViable       ProjectEvent = "declarar_viable"
	EventSuspend             ProjectEvent = "suspender"
	EventDeclareNotViable    ProjectEvent = "declarar_no_viable"
	EventRegisterVinculacion ProjectEvent = "registrar_vinculacion"
	EventGrantGuarda         ProjectEvent = "otorgar_guarda"
	EventConfirmGuarda       ProjectEvent = "confirmar_guarda"
	EventGrantAdoption       ProjectEvent = "otorgar_adopcion"
	EventWithdraw            ProjectEvent = "dar_de_baja"
)

// Events emitted by the folder engine and the unification service only.
const (
	EventAddToFolder          ProjectEvent = "incorporar_a_carpeta"
	EventRemoveFromFolder     ProjectEvent = "retirar_de_carpeta"
	EventSelectInFolder       ProjectEvent = "seleccionar_en_carpeta"
	EventReleaseFromFolder    ProjectEvent = "liberar_de_carpeta"
	EventRetireByConvocatoria ProjectEvent = "retirar_por_convocatoria"
)

// IsInternal reports whether the event may only be raised by the core itself.
func (e ProjectEvent) IsInternal() bool {
	switch e {
	case EventAddToFolder, EventRemoveFromFolder, EventSelectInFolder, EventReleaseFromFolder, EventRetireByConvocatoria:
		return true
	}
	return false
}

// projectTransitions maps each event to its legal source statuses and the
// resulting status. A target equal to the source keeps the status unchanged.
var projectTransitions = map[ProjectEvent]map[ProjectStatus]ProjectStatus{
	EventAcceptInvitation: {
		ProjectInvitacionPendiente: ProjectConfeccionando,
	},
	EventRequestReview: {
		ProjectInvitacionPendiente: ProjectEnRevision,
		ProjectConfeccionando:      ProjectEnRevision,
		ProjectActualizando:        ProjectEnRevision,
	},
	EventRequestUpdate: {
		ProjectEnRevision: ProjectActualizando,
	},
	EventApprove: {
		ProjectEnRevision: ProjectAprobado,
	},
	EventAssignEvaluators: {
		ProjectAprobado: ProjectCalendarizando,
	},
	EventReassignEvaluators: {
		ProjectCalendarizando: ProjectCalendarizando,
		ProjectEntrevistando:  ProjectEntrevistando,
		ProjectParaValorar:    ProjectParaValorar,
	},
	EventScheduleInterview: {
		ProjectCalendarizando: ProjectEntrevistando,
		ProjectEntrevistando:  ProjectEntrevistando,
	},
	EventRequestValuation: {
		ProjectEntrevistando: ProjectParaValorar,
	},
	EventDeclareViable: {
		ProjectParaValorar: ProjectViable,
		ProjectEnSuspenso:  ProjectViable,
	},
	EventSuspend: {
		ProjectParaValorar: ProjectEnSuspenso,
	},
	EventDeclareNotViable: {
		ProjectParaValorar: ProjectNoViable,
		ProjectEnSuspenso:  ProjectNoViable,
	},
	EventRegisterVinculacion: {
		ProjectViable:    ProjectVinculacion,
		ProjectEnCarpeta: ProjectVinculacion,
	},
	EventGrantGuarda: {
		ProjectVinculacion: ProjectGuardaProvisoria,
	},
	EventConfirmGuarda: {
		ProjectGuardaProvisoria: ProjectGuardaConfirmada,
	},
	EventGrantAdoption: {
		ProjectGuardaProvisoria: ProjectAdopcionDefinitiva,
		ProjectGuardaConfirmada: ProjectAdopcionDefinitiva,
	},
	EventAddToFolder: {
		ProjectViable: ProjectEnCarpeta,
	},
	EventRemoveFromFolder: {
		ProjectEnCarpeta: ProjectViable,
	},
	EventSelectInFolder: {
		ProjectEnCarpeta: ProjectVinculacion,
	},
	EventReleaseFromFolder: {
		ProjectEnCarpeta:   ProjectViable,
		ProjectVinculacion: ProjectViable,
	},
	EventRetireByConvocatoria: {
		ProjectAprobado:       ProjectBajaPorConvocatoria,
		ProjectCalendarizando: ProjectBajaPorConvocatoria,
		ProjectEntrevistando:  ProjectBajaPorConvocatoria,
		ProjectParaValorar:    ProjectBajaPorConvocatoria,
		ProjectViable:         ProjectBajaPorConvocatoria,
	},
}

// WithdrawalTargets are the baja statuses staff may choose explicitly.
var WithdrawalTargets = []ProjectStatus{
	ProjectBajaAnulacion, ProjectBajaCaducidad, ProjectBajaRechazoInvitacion, ProjectBajaInterrupcion,
}

// ProjectEvents lists every event accepted by NextProjectStatus.
func ProjectEvents() []ProjectEvent {
	out := make([]ProjectEvent, 0, len(projectTransitions)+1)
	for e := range projectTransitions {
		out = append(out, e)
	}
	return append(out, EventWithdraw)
}

// NextProjectStatus resolves the status reached by applying event to a project
// in status from. Withdrawals additionally name the chosen baja target.
func NextProjectStatus(from ProjectStatus, event ProjectEvent, withdrawTo ProjectStatus) (ProjectStatus, error) {
	if event == EventWithdraw {
		return nextWithdrawal(from, withdrawTo)
	}
	table, ok := projectTransitions[event]
	if !ok {
		return "", Validationf("unknown project event %q", event)
	}
	to, ok := table[from]
	if !ok {
		return "", Validationf("event %s is not allowed from status %s", event, from)
	}
	return to, nil
}

func nextWithdrawal(from, to ProjectStatus) (ProjectStatus, error) {
	if from.IsTerminal() {
		return "", Validationf("project in terminal status %s cannot be withdrawn", from)
	}
	if from == ProjectEnCarpeta {
		return "", Validationf("project attached to a folder must be removed from it before withdrawal")
	}
	for _, target := range WithdrawalTargets {
		if target == to {
			return to, nil
		}
	}
	return "", Validationf("%q is not a valid withdrawal status", to)
}

// ProjectTransitionAllowed reports whether the status graph contains an edge
// from one status to another under any event.
func ProjectTransitionAllowed(from, to ProjectStatus) bool {
	if from == to {
		return true
	}
	for _, table := range projectTransitions {
		if table[from] == to {
			return true
		}
	}
	if _, err := nextWithdrawal(from, to); err == nil {
		return true
	}
	return false
}

var folderTransitions = map[FolderStatus][]FolderStatus{
	FolderVacia:             {FolderPreparandoCarpeta},
	FolderPreparandoCarpeta: {FolderVacia, FolderEnviadaAJuzgado, FolderProyectoSeleccionado, FolderDesierto},
	FolderEnviadaAJuzgado:   {FolderPreparandoCarpeta, FolderProyectoSeleccionado, FolderDesierto},
}

// FolderTransitionAllowed reports whether a folder may move between statuses.
func FolderTransitionAllowed(from, to FolderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range folderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
