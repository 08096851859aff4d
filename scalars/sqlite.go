package scalars

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base filesystem and dialect in package state
var gooseMu sync.Mutex

// Migrate runs all pending scalar-store migrations on db
func Migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const defaultBatchSize = 256

// SQLiteSink appends scalars to a SQLite database, one run per sink
type SQLiteSink struct {
	mu      sync.Mutex
	db      *sql.DB
	runID   string
	pending []Record
	batch   int
}

// OpenSQLite opens (or creates) the database at path, migrates it and
// registers a new run called name.
func OpenSQLite(path, name string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	id := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`, id, name, time.Now().UTC()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &SQLiteSink{db: db, runID: id, batch: defaultBatchSize}, nil
}

// RunID returns the identifier of the run this sink writes to
func (s *SQLiteSink) RunID() string { return s.runID }

func (s *SQLiteSink) AddScalar(tag string, value float64, step int) error {
	s.mu.Lock()
	s.pending = append(s.pending, Record{Tag: tag, Value: value, Step: step, Time: time.Now().UTC()})
	full := len(s.pending) >= s.batch
	s.mu.Unlock()

	if full {
		return s.Flush()
	}
	return nil
}

// Flush writes pending scalars in a single transaction
func (s *SQLiteSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO scalars (run_id, tag, step, value, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.pending {
		// non-finite values are stored as NULL
		value := sql.NullFloat64{Float64: r.Value, Valid: !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)}
		if _, err := stmt.Exec(s.runID, r.Tag, r.Step, value, r.Time); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert scalar %s: %w", r.Tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scalars: %w", err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Close flushes, marks the run finished and closes the database
func (s *SQLiteSink) Close() error {
	if err := s.Flush(); err != nil {
		s.db.Close()
		return err
	}
	if _, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UTC(), s.runID); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return s.db.Close()
}

// Series returns the (step, value) pairs recorded under tag for the run,
// ordered by step. Non-finite values come back as NaN.
func (s *SQLiteSink) Series(tag string) ([]Record, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return querySeries(s.db, s.runID, tag)
}

// ReadSeries opens the database at path and reads tag for runID
func ReadSeries(path, runID, tag string) ([]Record, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	defer db.Close()
	return querySeries(db, runID, tag)
}

func querySeries(db *sql.DB, runID, tag string) ([]Record, error) {
	rows, err := db.Query(`SELECT step, value, recorded_at FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step, rowid`, runID, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query scalars: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			step  int
			value sql.NullFloat64
			at    time.Time
		)
		if err := rows.Scan(&step, &value, &at); err != nil {
			return nil, fmt.Errorf("failed to scan scalar: %w", err)
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		out = append(out, Record{Tag: tag, Value: v, Step: step, Time: at})
	}
	return out, rows.Err()
}
