// Package domain defines the persistent entities, closed status enums,
// transition tables, and rule evaluation primitives used by the adoption
// registry core.
package domain

import (
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the registry.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	EntityChild          EntityType = "child"
	EntityProject        EntityType = "project"
	EntityFolder         EntityType = "folder"
	EntityProjectHistory EntityType = "project_history"
	EntityChildHistory   EntityType = "child_history"
	EntityInterview      EntityType = "interview"
	EntityStaff          EntityType = "staff"
	EntityObservation    EntityType = "observation"
	EntityAuditEvent     EntityType = "audit_event"
	EntityPendingMerge   EntityType = "pending_merge"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for registry records with sequential identity.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Child is a registered NNA eligible to be matched with a project.
type Child struct {
	Base
	DNI             string      `json:"dni"`
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	BirthDate       time.Time   `json:"birth_date"`
	Status          ChildStatus `json:"status"`
	SiblingsGroupID *int64      `json:"siblings_group_id,omitempty"`
}

// FullName renders the child's display name.
func (c Child) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Project is an adoption application for one applicant or a couple.
type Project struct {
	Base
	Kind            ProjectKind                    `json:"kind"`
	Source          ProjectSource                  `json:"source"`
	Login1          string                         `json:"login_1"`
	Login2          string                         `json:"login_2,omitempty"`
	PartnerAccepted bool                           `json:"partner_accepted"`
	Status          ProjectStatus                  `json:"status"`
	OrderNumber     string                         `json:"order_number,omitempty"`
	OrderAssignedAt *time.Time                     `json:"order_assigned_at,omitempty"`
	Subregistros    []Subregistro                  `json:"subregistros,omitempty"`
	Evaluators      []string                       `json:"evaluators,omitempty"`
	ReviewDate      *time.Time                     `json:"review_date,omitempty"`
	Documents       map[DocumentField]DocumentSlot `json:"documents,omitempty"`
	Version         int64                          `json:"version"`
}

// Applicants returns the non-empty applicant identifiers of the project.
func (p Project) Applicants() []string {
	out := []string{p.Login1}
	if p.Login2 != "" {
		out = append(out, p.Login2)
	}
	return out
}

// HasApplicant reports whether login is one of the project's applicants.
func (p Project) HasApplicant(login string) bool {
	if login == "" {
		return false
	}
	return p.Login1 == login || p.Login2 == login
}

// Group returns the unordered applicant group key for the project.
func (p Project) Group() ApplicantGroup {
	return NewApplicantGroup(p.Login1, p.Login2)
}

// Document returns the slot stored for field, or an empty slot.
func (p Project) Document(field DocumentField) DocumentSlot {
	if p.Documents == nil {
		return DocumentSlot{}
	}
	return p.Documents[field]
}

// HasDocument reports whether the field holds at least one upload.
func (p Project) HasDocument(field DocumentField) bool {
	return !p.Document(field).Empty()
}

// HasOrderNumber reports whether either half of the order-number pair is set.
func (p Project) HasOrderNumber() bool {
	return p.OrderNumber != "" || p.OrderAssignedAt != nil
}

// ApplicantGroup is the order-independent identity of a project's applicants.
type ApplicantGroup struct {
	First  string
	Second string
}

// NewApplicantGroup normalises a login pair so that swapped applicants compare equal.
func NewApplicantGroup(login1, login2 string) ApplicantGroup {
	if login2 != "" && login2 < login1 {
		login1, login2 = login2, login1
	}
	return ApplicantGroup{First: login1, Second: login2}
}

// FolderProject is a project membership row carrying its assignment date.
type FolderProject struct {
	ProjectID  int64     `json:"project_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// FolderChild is a child membership row carrying its assignment date.
type FolderChild struct {
	ChildID    int64     `json:"child_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Folder bundles candidate projects and children for court submission. The
// folder exclusively owns its membership rows.
type Folder struct {
	Base
	Status   FolderStatus    `json:"status"`
	Projects []FolderProject `json:"projects,omitempty"`
	Children []FolderChild   `json:"children,omitempty"`
	Version  int64           `json:"version"`
}

// ProjectIDs lists attached project identifiers in membership order.
func (f Folder) ProjectIDs() []int64 {
	out := make([]int64, 0, len(f.Projects))
	for _, p := range f.Projects {
		out = append(out, p.ProjectID)
	}
	return out
}

// ChildIDs lists attached child identifiers in membership order.
func (f Folder) ChildIDs() []int64 {
	out := make([]int64, 0, len(f.Children))
	for _, c := range f.Children {
		out = append(out, c.ChildID)
	}
	return out
}

// HasProject reports whether the project is attached to the folder.
func (f Folder) HasProject(id int64) bool {
	return slices.Contains(f.ProjectIDs(), id)
}

// IsEmpty reports whether the folder has no members at all.
func (f Folder) IsEmpty() bool {
	return len(f.Projects) == 0 && len(f.Children) == 0
}

// ProjectHistoryEntry is an append-only record of a project status change.
// Milestone rows mark workflow events that leave the status untouched.
type ProjectHistoryEntry struct {
	ID        int64         `json:"id"`
	ProjectID int64         `json:"project_id"`
	From      ProjectStatus `json:"from"`
	To        ProjectStatus `json:"to"`
	Milestone string        `json:"milestone,omitempty"`
	Comment   string        `json:"comment,omitempty"`
	Actor     string        `json:"actor,omitempty"`
	At        time.Time     `json:"at"`
}

// ChildHistoryEntry is an append-only record of a child status change.
type ChildHistoryEntry struct {
	ID      int64       `json:"id"`
	ChildID int64       `json:"child_id"`
	From    ChildStatus `json:"from"`
	To      ChildStatus `json:"to"`
	Comment string      `json:"comment,omitempty"`
	Actor   string      `json:"actor,omitempty"`
	At      time.Time   `json:"at"`
}

// Interview is a scheduled evaluation meeting with the applicants.
type Interview struct {
	ID             int64     `json:"id"`
	ProjectID      int64     `json:"project_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	EvaluationTags []string  `json:"evaluation_tags,omitempty"`
	Comment        string    `json:"comment,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StaffRole classifies registry staff.
type StaffRole string

// Staff roles recognised by the transition engine.
const (
	RoleProfessional   StaffRole = "profesional"
	RoleSupervision    StaffRole = "supervision"
	RoleAdministration StaffRole = "administracion"
)

// Staff is a registry user able to act on projects.
type Staff struct {
	Login     string    `json:"login"`
	FullName  string    `json:"full_name"`
	Role      StaffRole `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Observation is an internal note recorded instead of notifying applicants.
type Observation struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// AuditEvent is an append-only operator-facing record of a core operation.
type AuditEvent struct {
	ID       string     `json:"id"`
	Action   string     `json:"action"`
	Actor    string     `json:"actor,omitempty"`
	Entity   EntityType `json:"entity"`
	EntityID int64      `json:"entity_id"`
	Summary  string     `json:"summary"`
	At       time.Time  `json:"at"`
}

// PendingMerge marks a unification whose document copies are being staged.
// It is deleted by the transaction that applies the merge; a marker that
// survives a crash is left for operator inspection.
type PendingMerge struct {
	ID                    string    `json:"id"`
	ConvocatoriaProjectID int64     `json:"convocatoria_project_id"`
	RUAProjectID          int64     `json:"rua_project_id"`
	Actor                 string    `json:"actor,omitempty"`
	// Copies lists the blob keys staged for the merge. They are only
	// referenced by a project once the merge commits.
	Copies                []string  `json:"copies,omitempty"`
	StartedAt             time.Time `json:"started_at"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured in the change log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
