package domain

// ProjectKind distinguishes single-applicant projects from couples.
type ProjectKind string

// Supported project kinds.
const (
	KindMonoparental      ProjectKind = "Monoparental"
	KindMatrimonio        ProjectKind = "Matrimonio"
	KindUnionConvivencial ProjectKind = "Unión convivencial"
)

// Valid reports whether k is a known project kind.
func (k ProjectKind) Valid() bool {
	switch k {
	case KindMonoparental, KindMatrimonio, KindUnionConvivencial:
		return true
	}
	return false
}

// IsCouple reports whether the kind requires two applicants.
func (k ProjectKind) IsCouple() bool {
	return k == KindMatrimonio || k == KindUnionConvivencial
}

// ProjectSource records how a project entered the registry.
type ProjectSource string

// Project sources.
const (
	SourceRUA          ProjectSource = "rua"
	SourceOficio       ProjectSource = "oficio"
	SourceConvocatoria ProjectSource = "convocatoria"
)

// Valid reports whether s is a known project source.
func (s ProjectSource) Valid() bool {
	switch s {
	case SourceRUA, SourceOficio, SourceConvocatoria:
		return true
	}
	return false
}

// ProjectStatus is the project's estado general.
type ProjectStatus string

// Project statuses.
const (
	ProjectInvitacionPendiente   ProjectStatus = "invitacion_pendiente"
	ProjectConfeccionando        ProjectStatus = "confeccionando"
	ProjectEnRevision            ProjectStatus = "en_revision"
	ProjectActualizando          ProjectStatus = "actualizando"
	ProjectAprobado              ProjectStatus = "aprobado"
	ProjectCalendarizando        ProjectStatus = "calendarizando"
	ProjectEntrevistando         ProjectStatus = "entrevistando"
	ProjectParaValorar           ProjectStatus = "para_valorar"
	ProjectViable                ProjectStatus = "viable"
	ProjectEnSuspenso            ProjectStatus = "en_suspenso"
	ProjectNoViable              ProjectStatus = "no_viable"
	ProjectEnCarpeta             ProjectStatus = "en_carpeta"
	ProjectVinculacion           ProjectStatus = "vinculacion"
	ProjectGuardaProvisoria      ProjectStatus = "guarda_provisoria"
	ProjectGuardaConfirmada      ProjectStatus = "guarda_confirmada"
	ProjectAdopcionDefinitiva    ProjectStatus = "adopcion_definitiva"
	ProjectBajaAnulacion         ProjectStatus = "baja_anulacion"
	ProjectBajaCaducidad         ProjectStatus = "baja_caducidad"
	ProjectBajaPorConvocatoria   ProjectStatus = "baja_por_convocatoria"
	ProjectBajaRechazoInvitacion ProjectStatus = "baja_rechazo_invitacion"
	ProjectBajaInterrupcion      ProjectStatus = "baja_interrupcion"
)

// ProjectStatuses lists every project status in workflow order.
var ProjectStatuses = []ProjectStatus{
	ProjectInvitacionPendiente, ProjectConfeccionando, ProjectEnRevision, ProjectActualizando,
	ProjectAprobado, ProjectCalendarizando, ProjectEntrevistando, ProjectParaValorar,
	ProjectViable, ProjectEnSuspenso, ProjectNoViable, ProjectEnCarpeta, ProjectVinculacion,
	ProjectGuardaProvisoria, ProjectGuardaConfirmada, ProjectAdopcionDefinitiva,
	ProjectBajaAnulacion, ProjectBajaCaducidad, ProjectBajaPorConvocatoria,
	ProjectBajaRechazoInvitacion, ProjectBajaInterrupcion,
}

// Valid reports whether s is a member of the closed status set.
func (s ProjectStatus) Valid() bool {
	for _, v := range ProjectStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsRetired reports whether the project left the registry through a baja.
func (s ProjectStatus) IsRetired() bool {
	switch s {
	case ProjectBajaAnulacion, ProjectBajaCaducidad, ProjectBajaPorConvocatoria,
		ProjectBajaRechazoInvitacion, ProjectBajaInterrupcion:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further ordinary transition.
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectAdopcionDefinitiva || s.IsRetired()
}

// IsActiveForUnification reports whether a RUA-origin project in this status
// is a merge candidate for a convocatoria project.
func (s ProjectStatus) IsActiveForUnification() bool {
	switch s {
	case ProjectAprobado, ProjectCalendarizando, ProjectEntrevistando, ProjectParaValorar, ProjectViable:
		return true
	}
	return false
}

// ChildStatus is the lifecycle state of a registered child.
type ChildStatus string

// Child statuses.
const (
	ChildSinFichaSinSentencia ChildStatus = "sin_ficha_sin_sentencia"
	ChildConFichaSinSentencia ChildStatus = "con_ficha_sin_sentencia"
	ChildSinFichaConSentencia ChildStatus = "sin_ficha_con_sentencia"
	ChildDisponible           ChildStatus = "disponible"
	ChildPreparandoCarpeta    ChildStatus = "preparando_carpeta"
	ChildEnviadaAJuzgado      ChildStatus = "enviada_a_juzgado"
	ChildVinculacion          ChildStatus = "vinculacion"
	ChildGuardaProvisoria     ChildStatus = "guarda_provisoria"
	ChildGuardaConfirmada     ChildStatus = "guarda_confirmada"
	ChildAdopcionDefinitiva   ChildStatus = "adopcion_definitiva"
	ChildInterrupcion         ChildStatus = "interrupcion"
	ChildEnConvocatoria       ChildStatus = "en_convocatoria"
	ChildMayorSinAdopcion     ChildStatus = "mayor_sin_adopcion"
	ChildNoDisponible         ChildStatus = "no_disponible"
)

// ChildStatuses lists every child status.
var ChildStatuses = []ChildStatus{
	ChildSinFichaSinSentencia, ChildConFichaSinSentencia, ChildSinFichaConSentencia,
	ChildDisponible, ChildPreparandoCarpeta, ChildEnviadaAJuzgado, ChildVinculacion,
	ChildGuardaProvisoria, ChildGuardaConfirmada, ChildAdopcionDefinitiva, ChildInterrupcion,
	ChildEnConvocatoria, ChildMayorSinAdopcion, ChildNoDisponible,
}

// Valid reports whether s is a member of the closed status set.
func (s ChildStatus) Valid() bool {
	for _, v := range ChildStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the child's case is closed.
func (s ChildStatus) IsTerminal() bool {
	return s == ChildAdopcionDefinitiva || s == ChildMayorSinAdopcion
}

// AssignableToFolder reports whether a child in this status may join a folder.
func (s ChildStatus) AssignableToFolder() bool {
	switch s {
	case ChildSinFichaSinSentencia, ChildConFichaSinSentencia, ChildSinFichaConSentencia, ChildDisponible:
		return true
	}
	return false
}

// InFolder reports whether the status is one held while attached to a live folder.
func (s ChildStatus) InFolder() bool {
	switch s {
	case ChildPreparandoCarpeta, ChildEnviadaAJuzgado, ChildVinculacion:
		return true
	}
	return false
}

// FolderStatus is the lifecycle state of a folder.
type FolderStatus string

// Folder statuses.
const (
	FolderVacia                FolderStatus = "vacia"
	FolderPreparandoCarpeta    FolderStatus = "preparando_carpeta"
	FolderEnviadaAJuzgado      FolderStatus = "enviada_a_juzgado"
	FolderProyectoSeleccionado FolderStatus = "proyecto_seleccionado"
	FolderDesierto             FolderStatus = "desierto"
)

// FolderStatuses lists every folder status.
var FolderStatuses = []FolderStatus{
	FolderVacia, FolderPreparandoCarpeta, FolderEnviadaAJuzgado, FolderProyectoSeleccionado, FolderDesierto,
}

// Valid reports whether s is a member of the closed status set.
func (s FolderStatus) Valid() bool {
	for _, v := range FolderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the folder has been resolved.
func (s FolderStatus) IsTerminal() bool {
	return s == FolderProyectoSeleccionado || s == FolderDesierto
}

// Subregistro is an eligibility flag describing which children an applicant
// is willing to adopt.
type Subregistro string

// Subregistro flags.
const (
	SubregistroEdad0a3              Subregistro = "edad_0_3"
	SubregistroEdad4a7              Subregistro = "edad_4_7"
	SubregistroEdad8a11             Subregistro = "edad_8_11"
	SubregistroEdad12a17            Subregistro = "edad_12_17"
	SubregistroHermanos2            Subregistro = "hermanos_2"
	SubregistroHermanos3OMas        Subregistro = "hermanos_3_o_mas"
	SubregistroDiscapacidad         Subregistro = "discapacidad"
	SubregistroEnfermedadCronica    Subregistro = "enfermedad_cronica"
	SubregistroEnfermedadGrave      Subregistro = "enfermedad_grave"
	SubregistroAdolescentesConHijos Subregistro = "adolescentes_con_hijos"
	SubregistroTransitoriaJuridica  Subregistro = "transitoria_juridica"
	SubregistroFlexibilidadEdad     Subregistro = "flexibilidad_edad"
)

// Subregistros lists every known flag.
var Subregistros = []Subregistro{
	SubregistroEdad0a3, SubregistroEdad4a7, SubregistroEdad8a11, SubregistroEdad12a17,
	SubregistroHermanos2, SubregistroHermanos3OMas, SubregistroDiscapacidad,
	SubregistroEnfermedadCronica, SubregistroEnfermedadGrave, SubregistroAdolescentesConHijos,
	SubregistroTransitoriaJuridica, SubregistroFlexibilidadEdad,
}

// Valid reports whether f is a known flag.
func (f Subregistro) Valid() bool {
	for _, v := range Subregistros {
		if v == f {
			return true
		}
	}
	return false
}
