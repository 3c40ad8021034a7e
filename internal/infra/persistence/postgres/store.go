// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while applying embedded schema migrations on startup.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"rua/internal/infra/persistence/buckets"
	"rua/internal/infra/persistence/memory"
	"rua/pkg/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/rua?sslmode=disable"
)

var (
	sqlOpen  = sql.Open
	migrator = applyMigrations
	openMu   sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db     *sql.DB
	mu     sync.Mutex
	cursor buckets.Cursor
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies pending migrations and hydrates the in-memory store from any
// existing state.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	migrateUp := migrator
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrateUp(db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db, cursor: buckets.CursorFor(snapshot)}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := buckets.Decode(&snapshot, bucket, payload); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	if snapshot.ProjectHistory, err = loadProjectHistory(ctx, db); err != nil {
		return memory.Snapshot{}, err
	}
	if snapshot.ChildHistory, err = loadChildHistory(ctx, db); err != nil {
		return memory.Snapshot{}, err
	}
	if snapshot.AuditEvents, err = loadAuditEvents(ctx, db); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
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
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.From, &h.To, &h.Milestone, &h.Comment, &h.Actor, &h.At); err != nil {
			return nil, fmt.Errorf("scan project history: %w", err)
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
		if err := rows.Scan(&h.ID, &h.ChildID, &h.From, &h.To, &h.Comment, &h.Actor, &h.At); err != nil {
			return nil, fmt.Errorf("scan child history: %w", err)
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
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.Entity, &e.EntityID, &e.Summary, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// persist runs as the memory store's commit hook: the transaction only
// becomes visible once Postgres has accepted it.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if retErr != nil {
			retErr = domain.Fatal(retErr, "persist postgres state")
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO state (bucket, payload) VALUES ($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, encoded[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	pending := s.cursor.Pending(snapshot)
	for _, h := range pending.ProjectHistory {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_history (id, project_id, from_status, to_status, milestone, comment, actor, at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			h.ID, h.ProjectID, string(h.From), string(h.To), h.Milestone, h.Comment, h.Actor, h.At.UTC()); err != nil {
			return fmt.Errorf("insert project history %d: %w", h.ID, err)
		}
	}
	for _, h := range pending.ChildHistory {
		if _, err := tx.ExecContext(ctx, `INSERT INTO child_history (id, child_id, from_status, to_status, comment, actor, at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			h.ID, h.ChildID, string(h.From), string(h.To), h.Comment, h.Actor, h.At.UTC()); err != nil {
			return fmt.Errorf("insert child history %d: %w", h.ID, err)
		}
	}
	for i, e := range pending.AuditEvents {
		seq := int64(s.cursor.AuditEvents + i + 1)
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_events (id, seq, action, actor, entity, entity_id, summary, at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ID, seq, e.Action, e.Actor, string(e.Entity), e.EntityID, e.Summary, e.At.UTC()); err != nil {
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// OverrideMigrator swaps the schema migrator for tests and returns a restore function.
func OverrideMigrator(fn func(*sql.DB) error) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := migrator
	migrator = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		migrator = prev
	}
}
