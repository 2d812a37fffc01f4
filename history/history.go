// Package history keeps a local SQLite record of generation attempts.
//
// Every query lives in a runnable file in the sql directory. Inputs are
// declared as `/* @param */` columns of a leading CTE (see the sqlparam
// package) so each file also works as an sqlx named statement.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rorycl/acegen/history/sqlparam"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	schemaSQL    = "schema.sql"
	runInsertSQL = "run_insert.sql"
	runsSQL      = "runs.sql"

	// timeLayout is fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Run is one recorded generation attempt.
type Run struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Prompt         string    `json:"prompt"`
	TaskType       string    `json:"task_type"`
	AudioFormat    string    `json:"audio_format"`
	BatchSize      int       `json:"batch_size"`
	Seed           int       `json:"seed"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	OutputDir      string    `json:"output_dir"`
	AudioPaths     []string  `json:"audio_paths"`
}

// runRow is the database shape of a Run.
type runRow struct {
	ID             string  `db:"id"`
	CreatedAt      string  `db:"created_at"`
	Prompt         string  `db:"prompt"`
	TaskType       string  `db:"task_type"`
	AudioFormat    string  `db:"audio_format"`
	BatchSize      int     `db:"batch_size"`
	Seed           int     `db:"seed"`
	Success        bool    `db:"success"`
	Error          string  `db:"error"`
	ElapsedSeconds float64 `db:"elapsed_seconds"`
	OutputDir      string  `db:"output_dir"`
	AudioPaths     string  `db:"audio_paths"`
}

func (r runRow) run() (Run, error) {
	createdAt, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s created_at: %w", r.ID, err)
	}
	paths := []string{}
	if r.AudioPaths != "" {
		if err := json.Unmarshal([]byte(r.AudioPaths), &paths); err != nil {
			return Run{}, fmt.Errorf("run %s audio_paths: %w", r.ID, err)
		}
	}
	return Run{
		ID:             r.ID,
		CreatedAt:      createdAt,
		Prompt:         r.Prompt,
		TaskType:       r.TaskType,
		AudioFormat:    r.AudioFormat,
		BatchSize:      r.BatchSize,
		Seed:           r.Seed,
		Success:        r.Success,
		Error:          r.Error,
		ElapsedSeconds: r.ElapsedSeconds,
		OutputDir:      r.OutputDir,
		AudioPaths:     paths,
	}, nil
}

// parameterizedStmt is an sql file prepared as an sqlx NamedStmt
// expecting args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs checks that args supplies every parameter of the statement.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf("argument length to %q incorrect: got %d want %d", p.sqlFile, got, want)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("argument %q to %q missing", a, p.sqlFile)
		}
	}
	return nil
}

// Store is the history database.
type Store struct {
	*sqlx.DB
	sqlFS fs.FS
	log   *slog.Logger
	now   func() time.Time

	runInsertStmt *parameterizedStmt
	runsStmt      *parameterizedStmt
}

// Open opens, or creates, the history database at dbPath, applies the
// schema and prepares the queries found in sqlFS. In-memory databases
// must use a shared cache, for example "file::memory:?cache=shared".
func Open(ctx context.Context, dbPath string, sqlFS fs.FS, logger *slog.Logger) (*Store, error) {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dataSource := dbPath
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dbPath)
		}
	} else {
		dataSource = withPragmas(dbPath)
		if err := os.MkdirAll(filepath.Dir(filePart(dbPath)), 0755); err != nil {
			return nil, fmt.Errorf("could not create history directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("could not open history database %q: %w", dbPath, err)
	}

	s := &Store{
		DB:    sqlx.NewDb(sqlDB, "sqlite"),
		sqlFS: sqlFS,
		log:   logger,
		now:   time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.prepareNamedStatements(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	return s, nil
}

// withPragmas adds the WAL and busy timeout pragmas to a database path or
// file: URI, which may already carry query parameters.
func withPragmas(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// filePart returns the file system path of a database path or file: URI.
func filePart(dbPath string) string {
	p, _, _ := strings.Cut(strings.TrimPrefix(dbPath, "file:"), "?")
	return p
}

// initSchema runs the idempotent schema file.
func (s *Store) initSchema(ctx context.Context) error {
	schema, err := fs.ReadFile(s.sqlFS, schemaSQL)
	if err != nil {
		return fmt.Errorf("could not read schema file %q: %w", schemaSQL, err)
	}
	if _, err := s.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

func (s *Store) prepareNamedStatements() error {
	var err error
	s.runInsertStmt, err = s.prepNamedStatement(runInsertSQL)
	if err != nil {
		return fmt.Errorf("run insert statement error: %w", err)
	}
	s.runsStmt, err = s.prepNamedStatement(runsSQL)
	if err != nil {
		return fmt.Errorf("runs statement error: %w", err)
	}
	return nil
}

func (s *Store) prepNamedStatement(filePath string) (*parameterizedStmt, error) {
	query, err := sqlparam.ParseFile(s.sqlFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}
	stmt, err := s.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{filePath, query.Parameters, stmt}, nil
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	var errs []error
	for _, stmt := range []*parameterizedStmt{s.runInsertStmt, s.runsStmt} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	errs = append(errs, s.DB.Close())
	return errors.Join(errs...)
}

// RecordRun saves run and returns it with its ID and CreatedAt filled in
// when they were empty.
func (s *Store) RecordRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.AudioPaths == nil {
		run.AudioPaths = []string{}
	}
	paths, err := json.Marshal(run.AudioPaths)
	if err != nil {
		return run, fmt.Errorf("could not encode audio paths: %w", err)
	}

	args := map[string]any{
		"ID":             run.ID,
		"CreatedAt":      run.CreatedAt.UTC().Format(timeLayout),
		"Prompt":         run.Prompt,
		"TaskType":       run.TaskType,
		"AudioFormat":    run.AudioFormat,
		"BatchSize":      run.BatchSize,
		"Seed":           run.Seed,
		"Success":        run.Success,
		"Error":          run.Error,
		"ElapsedSeconds": run.ElapsedSeconds,
		"OutputDir":      run.OutputDir,
		"AudioPaths":     string(paths),
	}
	if err := s.runInsertStmt.verifyArgs(args); err != nil {
		return run, err
	}
	_, err = s.runInsertStmt.ExecContext(ctx, args)
	s.logQuery(runInsertSQL, args, err)
	if err != nil {
		return run, fmt.Errorf("could not record run: %w", err)
	}
	return run, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}
	args := map[string]any{"RowLimit": limit}
	if err := s.runsStmt.verifyArgs(args); err != nil {
		return nil, err
	}

	var rows []runRow
	err := s.runsStmt.SelectContext(ctx, &rows, args)
	s.logQuery(runsSQL, args, err)
	if err != nil {
		return nil, fmt.Errorf("could not read runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) logQuery(name string, args map[string]any, err error) {
	if err != nil {
		s.log.Debug("sql error", "file", name, "args", args, "err", err)
		return
	}
	s.log.Debug("sql", "file", name)
}
