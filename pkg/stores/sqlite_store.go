package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/resource"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists applied state, runs, and events in a single SQLite
// database. It implements engine.StateStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// appliedRow is the column shape of the applied_resources table.
type appliedRow struct {
	id           string
	resourceType string
	providerID   string
	inputs       string
	hash         string
	outputs      string
	dependencies string
	lastRunID    string
	lastApplied  time.Time
}

// Get returns the applied record for a resource ID.
func (s *SQLiteStore) Get(id resource.ID) (*engine.AppliedResource, bool, error) {
	query := `
		SELECT id, resource_type, provider_id, inputs, hash, outputs, dependencies, last_run_id, last_applied
		FROM applied_resources
		WHERE id = ?
	`

	var row appliedRow
	err := s.db.QueryRowContext(context.Background(), query, string(id)).Scan(
		&row.id,
		&row.resourceType,
		&row.providerID,
		&row.inputs,
		&row.hash,
		&row.outputs,
		&row.dependencies,
		&row.lastRunID,
		&row.lastApplied,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get applied resource: %w", err)
	}

	rec, err := row.decode()
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// List returns all applied records ordered by resource ID.
func (s *SQLiteStore) List() ([]*engine.AppliedResource, error) {
	query := `
		SELECT id, resource_type, provider_id, inputs, hash, outputs, dependencies, last_run_id, last_applied
		FROM applied_resources
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied resources: %w", err)
	}
	defer rows.Close()

	recs := []*engine.AppliedResource{}
	for rows.Next() {
		var row appliedRow
		err := rows.Scan(
			&row.id,
			&row.resourceType,
			&row.providerID,
			&row.inputs,
			&row.hash,
			&row.outputs,
			&row.dependencies,
			&row.lastRunID,
			&row.lastApplied,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan applied resource: %w", err)
		}
		rec, err := row.decode()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applied resources: %w", err)
	}

	return recs, nil
}

// Upsert writes an applied record, replacing any existing one.
func (s *SQLiteStore) Upsert(rec *engine.AppliedResource) error {
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	deps, err := json.Marshal(rec.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}

	query := `
		INSERT INTO applied_resources (
			id, resource_type, provider_id, inputs, hash, outputs, dependencies, last_run_id, last_applied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			inputs = excluded.inputs,
			hash = excluded.hash,
			outputs = excluded.outputs,
			dependencies = excluded.dependencies,
			last_run_id = excluded.last_run_id,
			last_applied = excluded.last_applied
	`

	_, err = s.db.ExecContext(context.Background(), query,
		string(rec.ID),
		string(rec.Type),
		rec.ProviderID,
		string(inputs),
		rec.Hash,
		string(outputs),
		string(deps),
		rec.LastRunID,
		rec.LastApplied.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert applied resource: %w", err)
	}

	return nil
}

// Delete removes the applied record for a resource ID. Deleting a missing
// record is not an error.
func (s *SQLiteStore) Delete(id resource.ID) error {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM applied_resources WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete applied resource: %w", err)
	}
	return nil
}

// decode converts a database row back into the engine record.
func (r *appliedRow) decode() (*engine.AppliedResource, error) {
	rec := &engine.AppliedResource{
		ID:          resource.ID(r.id),
		Type:        resource.Type(r.resourceType),
		ProviderID:  r.providerID,
		Hash:        r.hash,
		LastRunID:   r.lastRunID,
		LastApplied: r.lastApplied,
	}
	if err := json.Unmarshal([]byte(r.inputs), &rec.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs for %s: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.outputs), &rec.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode outputs for %s: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.dependencies), &rec.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies for %s: %w", r.id, err)
	}
	return rec, nil
}

// SaveRun creates or updates a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, plan_id, status, started_at, completed_at, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			summary = excluded.summary,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		run.Status,
		run.StartedAt.UTC(),
		run.CompletedAt,
		run.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, plan_id, status, started_at, completed_at, summary, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.PlanID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Summary,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest-first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, plan_id, status, started_at, completed_at, summary, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.PlanID,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Summary,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends a new event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	query := `
		INSERT INTO events (run_id, resource_id, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.ResourceID,
		event.Type,
		event.Level,
		event.Message,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// ListEvents retrieves events with optional filters and pagination.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID, resourceID *string, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, run_id, resource_id, type, level, message, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR resource_id = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, resourceID, resourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.ResourceID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
