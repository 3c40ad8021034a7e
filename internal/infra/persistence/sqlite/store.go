// Package sqlite persists the registry to a single SQLite database. Entity
// state is kept as JSON buckets while history and audit rows are appended to
// relational tables so they can be queried independently of the process.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"rua/internal/infra/persistence/buckets"
	"rua/internal/infra/persistence/memory"
	"rua/pkg/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "rua.db"

// Store writes every transaction's state to SQLite before it becomes visible
// in memory, so a failed write leaves both sides unchanged.
type Store struct {
	*memory.Store
	db     *sql.DB
	mu     sync.Mutex
	path   string
	cursor buckets.Cursor
}

// NewStore opens or creates the database at path, applies pending migrations
// and hydrates the in-memory store from any persisted state.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.SetCommitHook(s.persist)
	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	var snapshot memory.Snapshot
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := buckets.Decode(&snapshot, bucket, payload); err != nil {
			_ = rows.Close()
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate state: %w", err)
	}
	_ = rows.Close()
	if !found {
		return nil
	}
	if snapshot.ProjectHistory, err = loadProjectHistory(ctx, s.db); err != nil {
		return err
	}
	if snapshot.ChildHistory, err = loadChildHistory(ctx, s.db); err != nil {
		return err
	}
	if snapshot.AuditEvents, err = loadAuditEvents(ctx, s.db); err != nil {
		return err
	}
	s.ImportState(snapshot)
	s.cursor = buckets.CursorFor(snapshot)
	return nil
}

func loadProjectHistory(ctx context.Context, db *sql.DB) ([]domain.ProjectHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, project_id, from_status, to_status, milestone, comment, actor, at FROM project_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select project history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ProjectHistoryEntry
	for rows.Next() {
		var h domain.ProjectHistoryEntry
		var at string
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.From, &h.To, &h.Milestone, &h.Comment, &h.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan project history: %w", err)
		}
		if h.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func loadChildHistory(ctx context.Context, db *sql.DB) ([]domain.ChildHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, child_id, from_status, to_status, comment, actor, at FROM child_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select child history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ChildHistoryEntry
	for rows.Next() {
		var h domain.ChildHistoryEntry
		var at string
		if err := rows.Scan(&h.ID, &h.ChildID, &h.From, &h.To, &h.Comment, &h.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan child history: %w", err)
		}
		if h.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func loadAuditEvents(ctx context.Context, db *sql.DB) ([]domain.AuditEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, action, actor, entity, entity_id, summary, at FROM audit_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var at string
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.Entity, &e.EntityID, &e.Summary, &at); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if retErr != nil {
			retErr = domain.Fatal(retErr, "persist sqlite state")
		}
	}()
	encoded, err := buckets.Encode(snapshot)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets.Names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, encoded[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	pending := s.cursor.Pending(snapshot)
	for _, h := range pending.ProjectHistory {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_history(id, project_id, from_status, to_status, milestone, comment, actor, at) VALUES(?,?,?,?,?,?,?,?)`,
			h.ID, h.ProjectID, string(h.From), string(h.To), h.Milestone, h.Comment, h.Actor, formatTime(h.At)); err != nil {
			return fmt.Errorf("insert project history %d: %w", h.ID, err)
		}
	}
	for _, h := range pending.ChildHistory {
		if _, err := tx.ExecContext(ctx, `INSERT INTO child_history(id, child_id, from_status, to_status, comment, actor, at) VALUES(?,?,?,?,?,?,?)`,
			h.ID, h.ChildID, string(h.From), string(h.To), h.Comment, h.Actor, formatTime(h.At)); err != nil {
			return fmt.Errorf("insert child history %d: %w", h.ID, err)
		}
	}
	for i, e := range pending.AuditEvents {
		seq := s.cursor.AuditEvents + i + 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_events(id, seq, action, actor, entity, entity_id, summary, at) VALUES(?,?,?,?,?,?,?,?)`,
			e.ID, seq, e.Action, e.Actor, string(e.Entity), e.EntityID, e.Summary, formatTime(e.At)); err != nil {
			return fmt.Errorf("insert audit event %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.cursor = buckets.CursorFor(snapshot)
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
