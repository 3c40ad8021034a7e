package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rua/pkg/domain"
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var projectID int64
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.Snapshot().FindProject(99); ok {
			t.Fatalf("expected missing project lookup")
		}
		created, err := tx.CreateProject(domain.Project{Kind: domain.KindMonoparental, Source: domain.SourceRUA, Login1: "20111", Status: domain.ProjectConfeccionando})
		if err != nil {
			return err
		}
		if created.ID != 1 || created.Version != 1 {
			t.Fatalf("expected first sequential id and version 1, got %+v", created)
		}
		projectID = created.ID
		if len(tx.Snapshot().ListProjects()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		_, err = tx.AppendProjectHistory(domain.ProjectHistoryEntry{ProjectID: created.ID, To: created.Status})
		return err
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListProjects()) != 1 {
		t.Fatalf("expected persisted project")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListProjects()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if _, ok := store.GetProject(projectID); !ok {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateChild(domain.Child{FirstName: "Ana"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	err = store.View(context.Background(), func(v domain.TransactionView) error {
		if len(v.ListChildren()) != 0 {
			t.Fatalf("expected rollback to discard child")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCommitHookFailureKeepsPreviousState(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var seen int
	store.SetCommitHook(func(_ context.Context, state Snapshot) error {
		seen = len(state.Children)
		return fmt.Errorf("disk full")
	})
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{FirstName: "Ana"})
		return err
	})
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected hook error, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected hook to receive the pending child, saw %d", seen)
	}
	if got := len(store.ExportState().Children); got != 0 {
		t.Fatalf("expected failed commit to stay invisible, got %d children", got)
	}

	store.SetCommitHook(func(context.Context, Snapshot) error { return nil })
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{FirstName: "Ana"})
		return err
	}); err != nil {
		t.Fatalf("commit with accepting hook: %v", err)
	}
	if got := len(store.ExportState().Children); got != 1 {
		t.Fatalf("expected one child after accepted commit, got %d", got)
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateChild(domain.Child{FirstName: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ExportState().Children) != 0 {
		t.Fatalf("expected blocked transaction to leave state untouched")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestUpdateBumpsVersionAndKeepsIdentity(t *testing.T) {
	store := NewStore(nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		f, err := tx.CreateFolder(domain.Folder{})
		if err != nil {
			return err
		}
		if f.Status != domain.FolderVacia {
			t.Fatalf("expected default vacia status, got %s", f.Status)
		}
		updated, err := tx.UpdateFolder(f.ID, func(folder *domain.Folder) error {
			folder.ID = 42
			folder.Status = domain.FolderPreparandoCarpeta
			return nil
		})
		if err != nil {
			return err
		}
		if updated.ID != f.ID || updated.Version != 2 || !updated.UpdatedAt.Equal(fixed) {
			t.Fatalf("unexpected update result %+v", updated)
		}
		if _, err := tx.UpdateFolder(77, func(*domain.Folder) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := tx.UpdateProject(5, func(*domain.Project) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return tx.DeleteFolder(f.ID)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(store.ListFolders()) != 0 {
		t.Fatalf("expected folder deleted")
	}
}

func TestMutatorErrorAbortsUpdate(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateChild(domain.Child{FirstName: "Luz", Status: domain.ChildDisponible})
		if err != nil {
			return err
		}
		_, err = tx.UpdateChild(c.ID, func(*domain.Child) error { return fmt.Errorf("boom") })
		if err == nil {
			t.Fatalf("expected mutator error")
		}
		if _, err := tx.CreateChild(domain.Child{Status: "perdido"}); err == nil {
			t.Fatalf("expected invalid status rejection")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestImportReconcilesSequences(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Projects: map[int64]domain.Project{
			10: {Base: domain.Base{ID: 10}, Login1: "a", Status: domain.ProjectViable},
		},
	})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{Login1: "b", Status: domain.ProjectViable})
		if err != nil {
			return err
		}
		if p.ID != 11 {
			t.Fatalf("expected id after imported max, got %d", p.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestPendingMergeLifecycle(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreatePendingMerge(domain.PendingMerge{}); err == nil {
			t.Fatalf("expected id requirement")
		}
		_, err := tx.CreatePendingMerge(domain.PendingMerge{ID: "m1", ConvocatoriaProjectID: 1, RUAProjectID: 2})
		if err != nil {
			return err
		}
		if _, err := tx.CreatePendingMerge(domain.PendingMerge{ID: "m1"}); err == nil {
			t.Fatalf("expected duplicate marker rejection")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListPendingMerges()) != 1 {
			t.Fatalf("expected one marker")
		}
		return nil
	})
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeletePendingMerge("m1")
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.ExportState().PendingMerges["m1"]; ok {
		t.Fatalf("expected marker removed")
	}
}

func TestViewIsolation(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateProject(domain.Project{Login1: "a", Status: domain.ProjectViable, Subregistros: []domain.Subregistro{domain.SubregistroEdad0a3}})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		p, _ := v.FindProject(1)
		p.Subregistros[0] = domain.SubregistroDiscapacidad
		return nil
	})
	p, _ := store.GetProject(1)
	if p.Subregistros[0] != domain.SubregistroEdad0a3 {
		t.Fatalf("view mutation leaked into store")
	}
}
