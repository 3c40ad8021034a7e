package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"rua/internal/infra/persistence/postgres/testutil"
	"rua/pkg/domain"
)

func stubStore(t *testing.T) (*Store, *testutil.StubConn, *sql.DB) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restoreOpen := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	restoreMigrator := OverrideMigrator(func(*sql.DB) error { return nil })
	t.Cleanup(func() {
		restoreMigrator()
		restoreOpen()
	})
	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn, db
}

func TestRunInTransactionPersistsBucketsAndAppendsHistoryOnce(t *testing.T) {
	store, conn, _ := stubStore(t)
	ctx := context.Background()
	var projectID int64
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{Kind: domain.KindMonoparental, Source: domain.SourceRUA, Login1: "20111", Status: domain.ProjectViable})
		if err != nil {
			return err
		}
		projectID = p.ID
		_, err = tx.AppendProjectHistory(domain.ProjectHistoryEntry{ProjectID: p.ID, From: domain.ProjectParaValorar, To: domain.ProjectViable})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendAuditEvent(domain.AuditEvent{ID: "evt", Action: "merge", Entity: domain.EntityProject, EntityID: projectID})
		return err
	}); err != nil {
		t.Fatalf("second transaction: %v", err)
	}
	if got := conn.Count("state"); got != 8 {
		t.Fatalf("expected one row per bucket, got %d", got)
	}
	if got := conn.Count("project_history"); got != 1 {
		t.Fatalf("expected history appended once, got %d", got)
	}
	if got := conn.Count("audit_events"); got != 1 {
		t.Fatalf("expected one audit row, got %d", got)
	}
	if conn.Commits != 2 {
		t.Fatalf("expected two commits, got %d", conn.Commits)
	}
}

func TestNewStoreLoadsPersistedState(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restoreOpen := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restoreOpen()
	restoreMigrator := OverrideMigrator(func(*sql.DB) error { return nil })
	defer restoreMigrator()

	conn.Tables["state"] = []map[string]any{
		{"bucket": "projects", "payload": []byte(`{"4":{"id":4,"kind":"Monoparental","source":"rua","login_1":"20111","status":"viable","version":2}}`)},
		{"bucket": "sequences", "payload": []byte(`{"project":4}`)},
	}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	conn.Tables["project_history"] = []map[string]any{
		{"id": int64(1), "project_id": int64(4), "from_status": "para_valorar", "to_status": "viable", "milestone": "", "comment": "ok", "actor": "staff", "at": at},
	}

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	project, ok := store.GetProject(4)
	if !ok || project.Version != 2 {
		t.Fatalf("expected project 4 loaded, got %+v (found=%v)", project, ok)
	}
	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		history := v.ProjectHistory(4)
		if len(history) != 1 || !history[0].At.Equal(at) {
			t.Fatalf("unexpected history %+v", history)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{Kind: domain.KindMonoparental, Source: domain.SourceRUA, Login1: "20999", Status: domain.ProjectConfeccionando})
		if err == nil && p.ID != 5 {
			t.Fatalf("expected sequence to continue at 5, got %d", p.ID)
		}
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := conn.Count("project_history"); got != 1 {
		t.Fatalf("expected loaded history not re-inserted, got %d rows", got)
	}
}

func TestNewStoreErrors(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restoreOpen := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })

	restoreMigrator := OverrideMigrator(func(*sql.DB) error { return errors.New("boom") })
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected migration error")
	}
	restoreMigrator()

	conn.FailPing = true
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected ping error")
	}
	restoreOpen()

	restoreOpen = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	defer restoreOpen()
	if _, err := NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestPersistFailureSurfacesFatal(t *testing.T) {
	store, conn, _ := stubStore(t)
	conn.FailTables = map[string]bool{"state": true}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{DNI: "1"})
		return err
	})
	if !domain.IsKind(err, domain.KindFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected rollback on failed persist")
	}
	if got := len(store.ExportState().Children); got != 0 {
		t.Fatalf("expected failed persist to leave memory unchanged, got %d children", got)
	}
	conn.FailTables = nil
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateChild(domain.Child{DNI: "2"})
		return err
	}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := len(store.ExportState().Children); got != 1 {
		t.Fatalf("expected only the retried child, got %d", got)
	}
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("RUA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RUA_TEST_POSTGRES_DSN not set")
	}
	store, err := NewStore(dsn, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	var childID int64
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateChild(domain.Child{DNI: "55111222", FirstName: "Integration"})
		childID = c.ID
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	reloaded, err := NewStore(dsn, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close() }()
	if _, ok := reloaded.GetChild(childID); !ok {
		t.Fatalf("expected child %d after reload", childID)
	}
}
