package domain

import (
	"context"
	"time"
)

// Transaction exposes the registry operations that a persistence
// implementation must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateChild(Child) (Child, error)
	UpdateChild(id int64, mutator func(*Child) error) (Child, error)
	CreateProject(Project) (Project, error)
	UpdateProject(id int64, mutator func(*Project) error) (Project, error)
	CreateFolder(Folder) (Folder, error)
	UpdateFolder(id int64, mutator func(*Folder) error) (Folder, error)
	DeleteFolder(id int64) error
	AppendProjectHistory(ProjectHistoryEntry) (ProjectHistoryEntry, error)
	AppendChildHistory(ChildHistoryEntry) (ChildHistoryEntry, error)
	CreateInterview(Interview) (Interview, error)
	CreateObservation(Observation) (Observation, error)
	PutStaff(Staff) (Staff, error)
	AppendAuditEvent(AuditEvent) (AuditEvent, error)
	CreatePendingMerge(PendingMerge) (PendingMerge, error)
	DeletePendingMerge(id string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListChildren() []Child
	FindStaff(login string) (Staff, bool)
	ListStaff() []Staff
	ListInterviews(projectID int64) []Interview
	ListObservations(projectID int64) []Observation
	ProjectHistory(projectID int64) []ProjectHistoryEntry
	ChildHistory(childID int64) []ChildHistoryEntry
	AllProjectHistory() []ProjectHistoryEntry
	ListAuditEvents() []AuditEvent
	ListPendingMerges() []PendingMerge
	FindPendingMerge(id string) (PendingMerge, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
