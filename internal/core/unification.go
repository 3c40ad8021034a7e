package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rua/internal/blob"
	"rua/pkg/domain"
)

// errMergeNotStaged aborts a transaction that reached a unification whose
// document copies do not exist yet. mutate stages them and runs it again.
var errMergeNotStaged = errors.New("unification documents not staged")

const maxStagingRounds = 3

// mergePlan describes the unification of one convocatoria project, as seen
// by the transaction that moved it into vinculacion.
type mergePlan struct {
	convID int64
	ruaID  int64
	actor  string
	// sources holds the RUA slots whose field is still empty on the
	// convocatoria project.
	sources map[domain.DocumentField]domain.DocumentSlot
}

// stagedMerge holds document copies made ahead of the transaction that
// references them, together with the marker that records them.
type stagedMerge struct {
	marker  domain.PendingMerge
	sources map[domain.DocumentField]domain.DocumentSlot
	copies  map[domain.DocumentField]domain.DocumentSlot
}

// covers reports whether st was staged from the same RUA documents plan needs.
func (st *stagedMerge) covers(plan mergePlan) bool {
	if st.marker.RUAProjectID != plan.ruaID {
		return false
	}
	for field, src := range plan.sources {
		staged, ok := st.sources[field]
		if !ok || !slices.Equal(slotKeys(staged), slotKeys(src)) {
			return false
		}
	}
	return true
}

type unifiedMerge struct {
	markerID    string
	convID      int64
	ruaID       int64
	fields      []domain.DocumentField
	orderCopied bool
}

// UnifyOnEnterVinculacion merges the applicants' active RUA-origin project into
// a convocatoria project that reached vinculacion. Projects of another source
// or status are left untouched. The transition engine runs the same check in
// the transaction that moves a project into vinculacion; the exported form
// covers projects that arrived there some other way.
func (s *Service) UnifyOnEnterVinculacion(ctx context.Context, projectID int64, actingLogin string) error {
	_, err := s.mutate(ctx, "unify_project", func(tx domain.Transaction, fx *effects) error {
		project, ok := tx.Snapshot().FindProject(projectID)
		if !ok {
			return domain.NotFound(domain.EntityProject, projectID)
		}
		_, err := s.prepareUnification(tx, fx, project, actorOr(ctx, actingLogin))
		return err
	})
	return err
}

// prepareUnification runs inside the transaction that moved p. Ambiguous
// matches abort it. With a single candidate the merge is applied in the same
// transaction once its document copies are staged; until then the plan is
// handed back to mutate through fx. It returns p as left by the merge.
func (s *Service) prepareUnification(tx domain.Transaction, fx *effects, p domain.Project, actor string) (domain.Project, error) {
	if p.Source != domain.SourceConvocatoria || p.Status != domain.ProjectVinculacion {
		return p, nil
	}
	view := tx.Snapshot()
	st := fx.staged[p.ID]
	for _, m := range view.ListPendingMerges() {
		if m.ConvocatoriaProjectID == p.ID && (st == nil || m.ID != st.marker.ID) {
			return p, domain.Conflict("unification of project %d is already in progress (marker %s)", p.ID, m.ID)
		}
	}
	candidates := unificationCandidates(view.ListProjects(), p)
	switch len(candidates) {
	case 0:
		return p, nil
	case 1:
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = fmt.Sprintf("project %d (%s)", c.ID, c.Status)
		}
		return p, domain.Conflict("applicants of project %d hold %d active RUA projects; manual review required", p.ID, len(candidates)).WithDetails(ids...)
	}
	rua := candidates[0]
	plan := mergePlan{convID: p.ID, ruaID: rua.ID, actor: actor, sources: missingDocuments(p, rua)}
	if st == nil && len(plan.sources) == 0 {
		st = &stagedMerge{marker: domain.PendingMerge{ConvocatoriaProjectID: p.ID, RUAProjectID: rua.ID, Actor: actor}}
	}
	if st == nil || !st.covers(plan) {
		fx.unstaged = append(fx.unstaged, plan)
		return p, nil
	}
	return applyMerge(tx, fx, st, plan, rua)
}

// unificationCandidates returns the active RUA-origin projects of p's
// applicant group. Couples match regardless of applicant order; a single
// applicant only matches single-applicant projects.
func unificationCandidates(projects []domain.Project, p domain.Project) []domain.Project {
	group := p.Group()
	var out []domain.Project
	for _, c := range projects {
		if c.ID == p.ID || c.Source != domain.SourceRUA || !c.Status.IsActiveForUnification() {
			continue
		}
		if c.Group() == group {
			out = append(out, c)
		}
	}
	return out
}

func missingDocuments(conv, rua domain.Project) map[domain.DocumentField]domain.DocumentSlot {
	out := make(map[domain.DocumentField]domain.DocumentSlot)
	for _, field := range domain.DocumentFields {
		src := rua.Document(field)
		if src.Empty() || !conv.Document(field).Empty() {
			continue
		}
		out[field] = src.Clone()
	}
	return out
}

// applyMerge copies the order number if absent, points the empty slots at
// the staged copies, retires the RUA project and drops the marker.
func applyMerge(tx domain.Transaction, fx *effects, st *stagedMerge, plan mergePlan, rua domain.Project) (domain.Project, error) {
	u := unifiedMerge{markerID: st.marker.ID, convID: plan.convID, ruaID: rua.ID}
	merged, err := tx.UpdateProject(plan.convID, func(p *domain.Project) error {
		u.fields, u.orderCopied = nil, false
		if !p.HasOrderNumber() && rua.OrderNumber != "" && rua.OrderAssignedAt != nil {
			assigned := *rua.OrderAssignedAt
			p.OrderNumber = rua.OrderNumber
			p.OrderAssignedAt = &assigned
			u.orderCopied = true
		}
		for _, field := range domain.DocumentFields {
			if _, ok := plan.sources[field]; !ok {
				continue
			}
			if p.Documents == nil {
				p.Documents = make(map[domain.DocumentField]domain.DocumentSlot)
			}
			p.Documents[field] = st.copies[field].Clone()
			u.fields = append(u.fields, field)
		}
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	if _, _, err := moveProject(tx, rua.ID, projectMove{
		event:   domain.EventRetireByConvocatoria,
		actor:   plan.actor,
		comment: fmt.Sprintf("unificado con el proyecto %d", plan.convID),
	}); err != nil {
		return domain.Project{}, err
	}
	summary := unificationSummary(rua.ID, u.orderCopied, rua.OrderNumber, u.fields)
	if err := appendAudit(tx, "unificacion_proyectos", plan.actor, domain.EntityProject, plan.convID, summary); err != nil {
		return domain.Project{}, err
	}
	if st.marker.ID != "" {
		if err := tx.DeletePendingMerge(st.marker.ID); err != nil {
			return domain.Project{}, err
		}
	}
	fx.unified = append(fx.unified, u)
	return merged, nil
}

// stageMerges copies the documents of every plan, replacing copies staged in
// an earlier round that no longer match.
func (s *Service) stageMerges(ctx context.Context, staged map[int64]*stagedMerge, plans []mergePlan) error {
	for _, plan := range plans {
		if old, ok := staged[plan.convID]; ok {
			s.releaseStaged(ctx, old)
			delete(staged, plan.convID)
		}
		st, err := s.stageMerge(ctx, plan)
		if err != nil {
			return err
		}
		staged[plan.convID] = st
	}
	return nil
}

// stageMerge records the marker first so a crash during the copies leaves
// the keys to clean up, then copies every source entry under a fresh key.
func (s *Service) stageMerge(ctx context.Context, plan mergePlan) (*stagedMerge, error) {
	st := &stagedMerge{
		sources: plan.sources,
		copies:  make(map[domain.DocumentField]domain.DocumentSlot, len(plan.sources)),
	}
	var keys []string
	for _, field := range domain.DocumentFields {
		src, ok := plan.sources[field]
		if !ok {
			continue
		}
		var dst domain.DocumentSlot
		for _, entry := range src.Entries {
			key := blob.DocumentKey(plan.convID, string(field), entry.Path)
			keys = append(keys, key)
			dst.Entries = append(dst.Entries, domain.UploadEntry{Path: key, UploadedAt: entry.UploadedAt})
		}
		st.copies[field] = dst
	}
	marker := domain.PendingMerge{
		ID:                    uuid.NewString(),
		ConvocatoriaProjectID: plan.convID,
		RUAProjectID:          plan.ruaID,
		Actor:                 plan.actor,
		Copies:                keys,
	}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		created, err := tx.CreatePendingMerge(marker)
		marker = created
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record pending merge: %w", err)
	}
	st.marker = marker

	for _, field := range domain.DocumentFields {
		dst, ok := st.copies[field]
		if !ok {
			continue
		}
		for i, entry := range dst.Entries {
			src := plan.sources[field].Entries[i].Path
			if _, err := blob.Copy(ctx, s.blobs, src, entry.Path); err != nil {
				s.releaseStaged(ctx, st)
				return nil, domain.Fatal(fmt.Errorf("copy %s: %w", field, err),
					"unification of project %d with project %d failed", plan.convID, plan.ruaID)
			}
		}
	}
	return st, nil
}

// releaseStaged deletes staged copies and their marker. Failures are logged;
// whatever cannot be removed stays listed on the marker.
func (s *Service) releaseStaged(ctx context.Context, st *stagedMerge) {
	if st.marker.ID == "" {
		return
	}
	if err := blob.DeleteAll(ctx, s.blobs, st.marker.Copies); err != nil {
		s.log.Error().Err(err).Str("marker", st.marker.ID).Msg("staged document copies not removed")
		return
	}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeletePendingMerge(st.marker.ID)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error().Err(err).Str("marker", st.marker.ID).Msg("pending merge marker left for inspection")
	}
}

// finishMerges runs after the request committed. Staged merges the commit did
// not use are released; copies of fields the convocatoria project filled in
// meanwhile are deleted.
func (s *Service) finishMerges(ctx context.Context, staged map[int64]*stagedMerge, unified []unifiedMerge) {
	done := make(map[string]unifiedMerge, len(unified))
	for _, u := range unified {
		if u.markerID != "" {
			done[u.markerID] = u
		}
		fields := make([]string, len(u.fields))
		for i, f := range u.fields {
			fields[i] = string(f)
		}
		s.log.Info().
			Int64("project_id", u.convID).
			Int64("rua_project_id", u.ruaID).
			Strs("documents", fields).
			Bool("order_number_copied", u.orderCopied).
			Msg("projects unified")
	}
	for _, st := range staged {
		u, ok := done[st.marker.ID]
		if !ok {
			s.releaseStaged(ctx, st)
			continue
		}
		var unused []string
		for field, slot := range st.copies {
			if !slices.Contains(u.fields, field) {
				unused = append(unused, slotKeys(slot)...)
			}
		}
		if err := blob.DeleteAll(ctx, s.blobs, unused); err != nil {
			s.log.Warn().Err(err).Int64("project_id", u.convID).Msg("unused document copies not removed")
		}
	}
}

func slotKeys(slot domain.DocumentSlot) []string {
	keys := make([]string, len(slot.Entries))
	for i, e := range slot.Entries {
		keys[i] = e.Path
	}
	return keys
}

func unificationSummary(ruaID int64, orderCopied bool, orderNumber string, fields []domain.DocumentField) string {
	var b strings.Builder
	b.WriteString("proyecto RUA ")
	b.WriteString(strconv.FormatInt(ruaID, 10))
	b.WriteString(" retirado por convocatoria")
	if orderCopied {
		b.WriteString("; nro de orden ")
		b.WriteString(orderNumber)
		b.WriteString(" copiado")
	}
	if len(fields) > 0 {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		b.WriteString("; documentos: ")
		b.WriteString(strings.Join(names, ", "))
	}
	return b.String()
}

// ResumePendingMerge cleans up after a crash that interrupted a unification
// before its transaction committed. The copies recorded on the marker are
// deleted with the marker, then the unification is attempted again; that is
// a no-op unless the convocatoria project is already in vinculacion.
func (s *Service) ResumePendingMerge(ctx context.Context, markerID string) error {
	var marker domain.PendingMerge
	err := s.run(ctx, "release_pending_merge", func(ctx context.Context) error {
		err := s.store.View(ctx, func(v domain.TransactionView) error {
			var ok bool
			if marker, ok = v.FindPendingMerge(markerID); !ok {
				return domain.NotFound(domain.EntityPendingMerge, markerID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := blob.DeleteAll(ctx, s.blobs, marker.Copies); err != nil {
			return domain.Fatal(err, "remove staged copies of marker %s", markerID)
		}
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeletePendingMerge(markerID)
		})
		return err
	})
	if err != nil {
		return err
	}
	return s.UnifyOnEnterVinculacion(ctx, marker.ConvocatoriaProjectID, marker.Actor)
}
