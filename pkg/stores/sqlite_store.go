package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/mocdown/mocdown/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore records runs, steps and cycles in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ engine.Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates the store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if s.path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.RunRecord) error {
	if err := run.Status.Validate(); err != nil {
		return engine.NewPermanentError("failed to create run", err).
			WithCode(engine.ErrCodeValidation)
	}

	query := `
		INSERT INTO runs (id, kind, deck, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Deck,
		string(run.Status),
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.RunRecord, error) {
	query := `
		SELECT id, kind, deck, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewPreconditionError(fmt.Sprintf("run not found: %s", id), err).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if err := status.Validate(); err != nil {
		return engine.NewPermanentError("failed to update run status", err).
			WithCode(engine.ErrCodeValidation)
	}

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, string(status), errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewPreconditionError(fmt.Sprintf("run not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	return nil
}

// ListRuns lists runs, most recent first, with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*engine.RunRecord, error) {
	query := `
		SELECT id, kind, deck, status, started_at, completed_at, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
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

// DeleteRun deletes a run with its steps and cycles.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewPreconditionError(fmt.Sprintf("run not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	return nil
}

// RecordStep stores a finished step. A restarted step replaces the earlier
// record of the same run, cycle and step.
func (s *SQLiteStore) RecordStep(ctx context.Context, step *engine.StepRecord) error {
	query := `
		INSERT OR REPLACE INTO steps (
			run_id, cycle, step, interval_days, rate, end_days, keff, keff_sigma,
			source, feedback_iterations, checkpoint, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		step.RunID,
		step.Cycle,
		step.Step,
		step.Interval,
		step.Rate,
		step.End,
		step.Keff,
		step.KeffSigma,
		step.Source,
		step.FeedbackIterations,
		step.Checkpoint,
		int64(step.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to record step %d of run %s: %w", step.Step, step.RunID, err)
	}

	return nil
}

// ListSteps returns the steps of a run ordered by cycle and step.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*engine.StepRecord, error) {
	query := `
		SELECT run_id, cycle, step, interval_days, rate, end_days, keff, keff_sigma,
			source, feedback_iterations, checkpoint, duration_ns
		FROM steps
		WHERE run_id = ?
		ORDER BY cycle, step
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*engine.StepRecord{}
	for rows.Next() {
		step := &engine.StepRecord{}
		var duration int64
		err := rows.Scan(
			&step.RunID,
			&step.Cycle,
			&step.Step,
			&step.Interval,
			&step.Rate,
			&step.End,
			&step.Keff,
			&step.KeffSigma,
			&step.Source,
			&step.FeedbackIterations,
			&step.Checkpoint,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Duration = time.Duration(duration)
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// RecordCycle stores a finished recycle cycle.
func (s *SQLiteStore) RecordCycle(ctx context.Context, cycle *engine.CycleRecord) error {
	query := `
		INSERT OR REPLACE INTO cycles (run_id, cycle, mode, isotopics_norm, keff, keff_sigma, converged)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cycle.RunID,
		cycle.Cycle,
		cycle.Mode,
		cycle.IsotopicsNorm,
		cycle.Keff,
		cycle.KeffSigma,
		cycle.Converged,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %d of run %s: %w", cycle.Cycle, cycle.RunID, err)
	}

	return nil
}

// ListCycles returns the cycles of a recycle run in order.
func (s *SQLiteStore) ListCycles(ctx context.Context, runID string) ([]*engine.CycleRecord, error) {
	query := `
		SELECT run_id, cycle, mode, isotopics_norm, keff, keff_sigma, converged
		FROM cycles
		WHERE run_id = ?
		ORDER BY cycle
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	cycles := []*engine.CycleRecord{}
	for rows.Next() {
		c := &engine.CycleRecord{}
		err := rows.Scan(
			&c.RunID,
			&c.Cycle,
			&c.Mode,
			&c.IsotopicsNorm,
			&c.Keff,
			&c.KeffSigma,
			&c.Converged,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return cycles, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.RunRecord, error) {
	run := &engine.RunRecord{}
	var status string
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Deck,
		&status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	return run, nil
}
