// Package memory provides an in-memory implementation of the registry
// persistence store used for tests, ephemeral environments and as the
// transactional engine underneath the durable stores.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"rua/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Child aliases domain.Child for in-memory persistence operations.
	Child = domain.Child
	// Project aliases domain.Project.
	Project = domain.Project
	// Folder aliases domain.Folder.
	Folder = domain.Folder
	// ProjectHistoryEntry aliases domain.ProjectHistoryEntry.
	ProjectHistoryEntry = domain.ProjectHistoryEntry
	// ChildHistoryEntry aliases domain.ChildHistoryEntry.
	ChildHistoryEntry = domain.ChildHistoryEntry
	// Interview aliases domain.Interview.
	Interview = domain.Interview
	// Observation aliases domain.Observation.
	Observation = domain.Observation
	// Staff aliases domain.Staff.
	Staff = domain.Staff
	// AuditEvent aliases domain.AuditEvent.
	AuditEvent = domain.AuditEvent
	// PendingMerge aliases domain.PendingMerge.
	PendingMerge = domain.PendingMerge
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Sequences holds the next identifier handed out per entity.
type Sequences struct {
	Child          int64 `json:"child"`
	Project        int64 `json:"project"`
	Folder         int64 `json:"folder"`
	ProjectHistory int64 `json:"project_history"`
	ChildHistory   int64 `json:"child_history"`
	Interview      int64 `json:"interview"`
	Observation    int64 `json:"observation"`
}

type memoryState struct {
	children       map[int64]Child
	projects       map[int64]Project
	folders        map[int64]Folder
	interviews     map[int64]Interview
	observations   map[int64]Observation
	staff          map[string]Staff
	merges         map[string]PendingMerge
	projectHistory []ProjectHistoryEntry
	childHistory   []ChildHistoryEntry
	audit          []AuditEvent
	seq            Sequences
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Children       map[int64]Child         `json:"children"`
	Projects       map[int64]Project       `json:"projects"`
	Folders        map[int64]Folder        `json:"folders"`
	Interviews     map[int64]Interview     `json:"interviews"`
	Observations   map[int64]Observation   `json:"observations"`
	Staff          map[string]Staff        `json:"staff"`
	PendingMerges  map[string]PendingMerge `json:"pending_merges"`
	ProjectHistory []ProjectHistoryEntry   `json:"project_history"`
	ChildHistory   []ChildHistoryEntry     `json:"child_history"`
	AuditEvents    []AuditEvent            `json:"audit_events"`
	Sequences      Sequences               `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		children:     make(map[int64]Child),
		projects:     make(map[int64]Project),
		folders:      make(map[int64]Folder),
		interviews:   make(map[int64]Interview),
		observations: make(map[int64]Observation),
		staff:        make(map[string]Staff),
		merges:       make(map[string]PendingMerge),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Children:       c.children,
		Projects:       c.projects,
		Folders:        c.folders,
		Interviews:     c.interviews,
		Observations:   c.observations,
		Staff:          c.staff,
		PendingMerges:  c.merges,
		ProjectHistory: c.projectHistory,
		ChildHistory:   c.childHistory,
		AuditEvents:    c.audit,
		Sequences:      c.seq,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Children {
		state.children[k] = v
	}
	for k, v := range s.Projects {
		state.projects[k] = cloneProject(v)
	}
	for k, v := range s.Folders {
		state.folders[k] = cloneFolder(v)
	}
	for k, v := range s.Interviews {
		state.interviews[k] = cloneInterview(v)
	}
	for k, v := range s.Observations {
		state.observations[k] = v
	}
	for k, v := range s.Staff {
		state.staff[k] = v
	}
	for k, v := range s.PendingMerges {
		state.merges[k] = v
	}
	state.projectHistory = slices.Clone(s.ProjectHistory)
	state.childHistory = slices.Clone(s.ChildHistory)
	state.audit = slices.Clone(s.AuditEvents)
	state.seq = reconcileSequences(s.Sequences, state)
	return state
}

// reconcileSequences keeps imported counters ahead of every imported identifier,
// so snapshots written by hand (fixtures, migrations) never produce duplicate ids.
func reconcileSequences(seq Sequences, state memoryState) Sequences {
	for id := range state.children {
		seq.Child = max(seq.Child, id)
	}
	for id := range state.projects {
		seq.Project = max(seq.Project, id)
	}
	for id := range state.folders {
		seq.Folder = max(seq.Folder, id)
	}
	for id := range state.interviews {
		seq.Interview = max(seq.Interview, id)
	}
	for id := range state.observations {
		seq.Observation = max(seq.Observation, id)
	}
	for _, h := range state.projectHistory {
		seq.ProjectHistory = max(seq.ProjectHistory, h.ID)
	}
	for _, h := range state.childHistory {
		seq.ChildHistory = max(seq.ChildHistory, h.ID)
	}
	return seq
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.children {
		out.children[k] = cloneChild(v)
	}
	for k, v := range s.projects {
		out.projects[k] = cloneProject(v)
	}
	for k, v := range s.folders {
		out.folders[k] = cloneFolder(v)
	}
	for k, v := range s.interviews {
		out.interviews[k] = cloneInterview(v)
	}
	for k, v := range s.observations {
		out.observations[k] = v
	}
	for k, v := range s.staff {
		out.staff[k] = v
	}
	for k, v := range s.merges {
		v.Copies = slices.Clone(v.Copies)
		out.merges[k] = v
	}
	// history and audit rows are never mutated in place, a shallow copy is enough
	out.projectHistory = slices.Clone(s.projectHistory)
	out.childHistory = slices.Clone(s.childHistory)
	out.audit = slices.Clone(s.audit)
	out.seq = s.seq
	return out
}

func cloneChild(c Child) Child {
	if c.SiblingsGroupID != nil {
		v := *c.SiblingsGroupID
		c.SiblingsGroupID = &v
	}
	return c
}

func cloneProject(p Project) Project {
	p.Subregistros = slices.Clone(p.Subregistros)
	p.Evaluators = slices.Clone(p.Evaluators)
	p.Documents = domain.CloneDocuments(p.Documents)
	if p.OrderAssignedAt != nil {
		v := *p.OrderAssignedAt
		p.OrderAssignedAt = &v
	}
	if p.ReviewDate != nil {
		v := *p.ReviewDate
		p.ReviewDate = &v
	}
	return p
}

func cloneFolder(f Folder) Folder {
	f.Projects = slices.Clone(f.Projects)
	f.Children = slices.Clone(f.Children)
	return f
}

func cloneInterview(i Interview) Interview {
	i.EvaluationTags = slices.Clone(i.EvaluationTags)
	return i
}

// CommitHook receives the state a transaction is about to publish. A non-nil
// error aborts the commit and leaves the store state unchanged.
type CommitHook func(ctx context.Context, state Snapshot) error

// Store provides an in-memory transactional store for the registry.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	engine   *RulesEngine
	nowFn    func() time.Time
	onCommit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetCommitHook installs fn to run after the rules pass and before the new
// state becomes visible. Durable stores write through it.
func (s *Store) SetCommitHook(fn CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = fn
}

// SetNowFunc replaces the time provider; nil restores the wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Blocking rule violations discard the copy and surface a domain.RuleViolationError.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.onCommit != nil {
		if err := s.onCommit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp shared by every write of the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

// CreateChild stores a new child record.
func (tx *transaction) CreateChild(c Child) (Child, error) {
	if c.Status == "" {
		c.Status = domain.ChildSinFichaSinSentencia
	}
	if !c.Status.Valid() {
		return Child{}, fmt.Errorf("child status %q is not valid", c.Status)
	}
	tx.state.seq.Child++
	c.ID = tx.state.seq.Child
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.children[c.ID] = cloneChild(c)
	tx.recordChange(Change{Entity: domain.EntityChild, Action: domain.ActionCreate, After: cloneChild(c)})
	return cloneChild(c), nil
}

// UpdateChild mutates an existing child record.
func (tx *transaction) UpdateChild(id int64, mutator func(*Child) error) (Child, error) {
	current, ok := tx.state.children[id]
	if !ok {
		return Child{}, fmt.Errorf("child %d: %w", id, domain.ErrNotFound)
	}
	before := cloneChild(current)
	if err := mutator(&current); err != nil {
		return Child{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.children[id] = cloneChild(current)
	tx.recordChange(Change{Entity: domain.EntityChild, Action: domain.ActionUpdate, Before: before, After: cloneChild(current)})
	return cloneChild(current), nil
}

// CreateProject stores a new project record.
func (tx *transaction) CreateProject(p Project) (Project, error) {
	if !p.Status.Valid() {
		return Project{}, fmt.Errorf("project status %q is not valid", p.Status)
	}
	tx.state.seq.Project++
	p.ID = tx.state.seq.Project
	p.Version = 1
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.ID] = cloneProject(p)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: cloneProject(p)})
	return cloneProject(p), nil
}

// UpdateProject mutates an existing project record and bumps its version.
func (tx *transaction) UpdateProject(id int64, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %d: %w", id, domain.ErrNotFound)
	}
	before := cloneProject(current)
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.projects[id] = cloneProject(current)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: cloneProject(current)})
	return cloneProject(current), nil
}

// CreateFolder stores a new folder with its membership rows.
func (tx *transaction) CreateFolder(f Folder) (Folder, error) {
	if f.Status == "" {
		f.Status = domain.FolderVacia
	}
	if !f.Status.Valid() {
		return Folder{}, fmt.Errorf("folder status %q is not valid", f.Status)
	}
	tx.state.seq.Folder++
	f.ID = tx.state.seq.Folder
	f.Version = 1
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.folders[f.ID] = cloneFolder(f)
	tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionCreate, After: cloneFolder(f)})
	return cloneFolder(f), nil
}

// UpdateFolder mutates an existing folder and bumps its version.
func (tx *transaction) UpdateFolder(id int64, mutator func(*Folder) error) (Folder, error) {
	current, ok := tx.state.folders[id]
	if !ok {
		return Folder{}, fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
	}
	before := cloneFolder(current)
	if err := mutator(&current); err != nil {
		return Folder{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.folders[id] = cloneFolder(current)
	tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionUpdate, Before: before, After: cloneFolder(current)})
	return cloneFolder(current), nil
}

// DeleteFolder removes a folder and, with it, its membership rows.
func (tx *transaction) DeleteFolder(id int64) error {
	current, ok := tx.state.folders[id]
	if !ok {
		return fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
	}
	delete(tx.state.folders, id)
	tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionDelete, Before: cloneFolder(current)})
	return nil
}

// AppendProjectHistory records an immutable project status row.
func (tx *transaction) AppendProjectHistory(h ProjectHistoryEntry) (ProjectHistoryEntry, error) {
	if _, ok := tx.state.projects[h.ProjectID]; !ok {
		return ProjectHistoryEntry{}, fmt.Errorf("project %d: %w", h.ProjectID, domain.ErrNotFound)
	}
	tx.state.seq.ProjectHistory++
	h.ID = tx.state.seq.ProjectHistory
	if h.At.IsZero() {
		h.At = tx.now
	}
	tx.state.projectHistory = append(tx.state.projectHistory, h)
	tx.recordChange(Change{Entity: domain.EntityProjectHistory, Action: domain.ActionCreate, After: h})
	return h, nil
}

// AppendChildHistory records an immutable child status row.
func (tx *transaction) AppendChildHistory(h ChildHistoryEntry) (ChildHistoryEntry, error) {
	if _, ok := tx.state.children[h.ChildID]; !ok {
		return ChildHistoryEntry{}, fmt.Errorf("child %d: %w", h.ChildID, domain.ErrNotFound)
	}
	tx.state.seq.ChildHistory++
	h.ID = tx.state.seq.ChildHistory
	if h.At.IsZero() {
		h.At = tx.now
	}
	tx.state.childHistory = append(tx.state.childHistory, h)
	tx.recordChange(Change{Entity: domain.EntityChildHistory, Action: domain.ActionCreate, After: h})
	return h, nil
}

// CreateInterview stores a scheduled interview.
func (tx *transaction) CreateInterview(i Interview) (Interview, error) {
	if _, ok := tx.state.projects[i.ProjectID]; !ok {
		return Interview{}, fmt.Errorf("project %d: %w", i.ProjectID, domain.ErrNotFound)
	}
	tx.state.seq.Interview++
	i.ID = tx.state.seq.Interview
	i.CreatedAt = tx.now
	tx.state.interviews[i.ID] = cloneInterview(i)
	tx.recordChange(Change{Entity: domain.EntityInterview, Action: domain.ActionCreate, After: cloneInterview(i)})
	return cloneInterview(i), nil
}

// CreateObservation stores an internal project note.
func (tx *transaction) CreateObservation(o Observation) (Observation, error) {
	if _, ok := tx.state.projects[o.ProjectID]; !ok {
		return Observation{}, fmt.Errorf("project %d: %w", o.ProjectID, domain.ErrNotFound)
	}
	tx.state.seq.Observation++
	o.ID = tx.state.seq.Observation
	if o.At.IsZero() {
		o.At = tx.now
	}
	tx.state.observations[o.ID] = o
	tx.recordChange(Change{Entity: domain.EntityObservation, Action: domain.ActionCreate, After: o})
	return o, nil
}

// PutStaff creates or replaces a staff member keyed by login.
func (tx *transaction) PutStaff(st Staff) (Staff, error) {
	if st.Login == "" {
		return Staff{}, fmt.Errorf("staff login required")
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.staff[st.Login]; ok {
		action = domain.ActionUpdate
		before = existing
		st.CreatedAt = existing.CreatedAt
	} else {
		st.CreatedAt = tx.now
	}
	tx.state.staff[st.Login] = st
	tx.recordChange(Change{Entity: domain.EntityStaff, Action: action, Before: before, After: st})
	return st, nil
}

// AppendAuditEvent records an immutable audit row.
func (tx *transaction) AppendAuditEvent(e AuditEvent) (AuditEvent, error) {
	if e.ID == "" {
		return AuditEvent{}, fmt.Errorf("audit event id required")
	}
	if e.At.IsZero() {
		e.At = tx.now
	}
	tx.state.audit = append(tx.state.audit, e)
	tx.recordChange(Change{Entity: domain.EntityAuditEvent, Action: domain.ActionCreate, After: e})
	return e, nil
}

// CreatePendingMerge stores a unification marker.
func (tx *transaction) CreatePendingMerge(m PendingMerge) (PendingMerge, error) {
	if m.ID == "" {
		return PendingMerge{}, fmt.Errorf("pending merge id required")
	}
	if _, exists := tx.state.merges[m.ID]; exists {
		return PendingMerge{}, fmt.Errorf("pending merge %q already exists", m.ID)
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = tx.now
	}
	tx.state.merges[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityPendingMerge, Action: domain.ActionCreate, After: m})
	return m, nil
}

// DeletePendingMerge removes a unification marker.
func (tx *transaction) DeletePendingMerge(id string) error {
	current, ok := tx.state.merges[id]
	if !ok {
		return fmt.Errorf("pending merge %q: %w", id, domain.ErrNotFound)
	}
	delete(tx.state.merges, id)
	tx.recordChange(Change{Entity: domain.EntityPendingMerge, Action: domain.ActionDelete, Before: current})
	return nil
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool, clone func(V) V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func identity[V any](v V) V { return v }

// ListChildren returns every child ordered by id.
func (v transactionView) ListChildren() []Child {
	return sortedValues(v.state.children, func(a, b Child) bool { return a.ID < b.ID }, cloneChild)
}

// ListProjects returns every project ordered by id.
func (v transactionView) ListProjects() []Project {
	return sortedValues(v.state.projects, func(a, b Project) bool { return a.ID < b.ID }, cloneProject)
}

// ListFolders returns every folder ordered by id.
func (v transactionView) ListFolders() []Folder {
	return sortedValues(v.state.folders, func(a, b Folder) bool { return a.ID < b.ID }, cloneFolder)
}

// FindChild looks up a child by id.
func (v transactionView) FindChild(id int64) (Child, bool) {
	c, ok := v.state.children[id]
	if !ok {
		return Child{}, false
	}
	return cloneChild(c), true
}

// FindProject looks up a project by id.
func (v transactionView) FindProject(id int64) (Project, bool) {
	p, ok := v.state.projects[id]
	if !ok {
		return Project{}, false
	}
	return cloneProject(p), true
}

// FindFolder looks up a folder by id.
func (v transactionView) FindFolder(id int64) (Folder, bool) {
	f, ok := v.state.folders[id]
	if !ok {
		return Folder{}, false
	}
	return cloneFolder(f), true
}

// FindStaff looks up a staff member by login.
func (v transactionView) FindStaff(login string) (Staff, bool) {
	st, ok := v.state.staff[login]
	return st, ok
}

// ListStaff returns staff ordered by login.
func (v transactionView) ListStaff() []Staff {
	return sortedValues(v.state.staff, func(a, b Staff) bool { return a.Login < b.Login }, identity[Staff])
}

// ListInterviews returns a project's interviews in scheduling order.
func (v transactionView) ListInterviews(projectID int64) []Interview {
	out := make([]Interview, 0)
	for _, i := range v.state.interviews {
		if i.ProjectID == projectID {
			out = append(out, cloneInterview(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ScheduledAt.Equal(out[b].ScheduledAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].ScheduledAt.Before(out[b].ScheduledAt)
	})
	return out
}

// ListObservations returns a project's internal notes ordered by id.
func (v transactionView) ListObservations(projectID int64) []Observation {
	out := make([]Observation, 0)
	for _, o := range v.state.observations {
		if o.ProjectID == projectID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ProjectHistory returns the rows recorded for one project in append order.
func (v transactionView) ProjectHistory(projectID int64) []ProjectHistoryEntry {
	out := make([]ProjectHistoryEntry, 0)
	for _, h := range v.state.projectHistory {
		if h.ProjectID == projectID {
			out = append(out, h)
		}
	}
	return out
}

// ChildHistory returns the rows recorded for one child in append order.
func (v transactionView) ChildHistory(childID int64) []ChildHistoryEntry {
	out := make([]ChildHistoryEntry, 0)
	for _, h := range v.state.childHistory {
		if h.ChildID == childID {
			out = append(out, h)
		}
	}
	return out
}

// AllProjectHistory returns every project history row in append order.
func (v transactionView) AllProjectHistory() []ProjectHistoryEntry {
	return slices.Clone(v.state.projectHistory)
}

// ListAuditEvents returns the audit trail in append order.
func (v transactionView) ListAuditEvents() []AuditEvent {
	return slices.Clone(v.state.audit)
}

// ListPendingMerges returns unification markers ordered by start time.
func (v transactionView) ListPendingMerges() []PendingMerge {
	return sortedValues(v.state.merges, func(a, b PendingMerge) bool {
		if a.StartedAt.Equal(b.StartedAt) {
			return a.ID < b.ID
		}
		return a.StartedAt.Before(b.StartedAt)
	}, identity[PendingMerge])
}

// FindPendingMerge looks up a unification marker.
func (v transactionView) FindPendingMerge(id string) (PendingMerge, bool) {
	m, ok := v.state.merges[id]
	return m, ok
}

// GetProject returns a committed project by id.
func (s *Store) GetProject(id int64) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindProject(id)
}

// GetChild returns a committed child by id.
func (s *Store) GetChild(id int64) (Child, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindChild(id)
}

// GetFolder returns a committed folder by id.
func (s *Store) GetFolder(id int64) (Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindFolder(id)
}

// ListProjects returns committed projects ordered by id.
func (s *Store) ListProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListProjects()
}

// ListFolders returns committed folders ordered by id.
func (s *Store) ListFolders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListFolders()
}
