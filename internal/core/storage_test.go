package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"rua/internal/core"
	"rua/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, closeFn, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StorageMemory}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closeFn() }()
	svc := core.NewService(store)
	if _, _, err := svc.CreateChild(context.Background(), core.ChildInput{DNI: "50001", FirstName: "Ana", LastName: "Sosa"}); err != nil {
		t.Fatalf("create child: %v", err)
	}
}

func TestOpenPersistentStoreSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rua.db")
	cfg := core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: path}
	store, closeFn, err := core.OpenPersistentStore(cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx := context.Background()
	svc := core.NewService(store)
	p, _, err := svc.CreateProject(ctx, core.ProjectInput{Kind: domain.KindMonoparental, Source: domain.SourceOficio, Login1: "20111"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, closeAgain, err := core.OpenPersistentStore(cfg, nil)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer func() { _ = closeAgain() }()
	got, err := core.NewService(reopened).GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project after reopen: %v", err)
	}
	if got.Status != domain.ProjectViable || got.Login1 != "20111" {
		t.Fatalf("unexpected project after reopen %+v", got)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, _, err := core.OpenPersistentStore(core.StorageConfig{Driver: "mongo"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
