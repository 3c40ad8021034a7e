package core_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"rua/internal/blob"
	"rua/internal/core"
	notifymem "rua/internal/infra/notify/memory"
	"rua/internal/infra/persistence/memory"
	"rua/pkg/domain"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	blobs    blob.Store
	notifier *notifymem.Publisher
	svc      *core.Service
}

func newFixture(t *testing.T, opts ...core.Option) *fixture {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	store.SetNowFunc(func() time.Time { return fixedNow })
	f := &fixture{
		t:        t,
		ctx:      core.WithActor(context.Background(), "operador"),
		store:    store,
		blobs:    blob.NewMemory(),
		notifier: notifymem.New(),
	}
	base := []core.Option{core.WithBlobStore(f.blobs), core.WithNotifier(f.notifier)}
	f.svc = core.NewService(store, append(base, opts...)...)
	return f
}

// viableProject creates an oficio project, which enters the registry as viable.
func (f *fixture) viableProject(login string) domain.Project {
	f.t.Helper()
	p, _, err := f.svc.CreateProject(f.ctx, core.ProjectInput{
		Kind:   domain.KindMonoparental,
		Source: domain.SourceOficio,
		Login1: login,
	})
	if err != nil {
		f.t.Fatalf("create project %s: %v", login, err)
	}
	return p
}

func (f *fixture) child(dni string, status domain.ChildStatus) domain.Child {
	f.t.Helper()
	c, _, err := f.svc.CreateChild(f.ctx, core.ChildInput{DNI: dni, FirstName: "Nombre" + dni, LastName: "Apellido", Status: status})
	if err != nil {
		f.t.Fatalf("create child %s: %v", dni, err)
	}
	return c
}

// seedProject inserts a project bypassing the rules engine, the way legacy
// rows arrive from an import.
func (f *fixture) seedProject(p domain.Project) domain.Project {
	f.t.Helper()
	state := f.store.ExportState()
	p.ID = state.Sequences.Project + 1
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = fixedNow, fixedNow
	state.Projects[p.ID] = p
	state.Sequences.Project = p.ID
	f.store.ImportState(state)
	return p
}

func (f *fixture) putBlob(key, content string) {
	f.t.Helper()
	if _, err := f.blobs.Put(f.ctx, key, bytes.NewBufferString(content), blob.PutOptions{ContentType: "application/pdf"}); err != nil {
		f.t.Fatalf("put blob %s: %v", key, err)
	}
}

func (f *fixture) project(id int64) domain.Project {
	f.t.Helper()
	p, err := f.svc.GetProject(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get project %d: %v", id, err)
	}
	return p
}

func (f *fixture) childByID(id int64) domain.Child {
	f.t.Helper()
	c, err := f.svc.GetChild(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get child %d: %v", id, err)
	}
	return c
}

func (f *fixture) transition(id int64, event domain.ProjectEvent, payload core.TransitionPayload) domain.Project {
	f.t.Helper()
	p, _, err := f.svc.TransitionProject(f.ctx, id, event, payload)
	if err != nil {
		f.t.Fatalf("%s on project %d: %v", event, id, err)
	}
	return p
}

func expectKind(t *testing.T, err error, kind domain.ErrorKind) *domain.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *domain.Error, got %T", err)
	}
	return de
}

func docs(entries map[domain.DocumentField]string) map[domain.DocumentField]domain.DocumentSlot {
	out := make(map[domain.DocumentField]domain.DocumentSlot, len(entries))
	for field, path := range entries {
		out[field] = domain.SingleDocument(path)
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

var errBroker = errors.New("broker unavailable")
