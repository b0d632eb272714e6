// Package journal records command launches in a local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout has fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS launches (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	chord TEXT NOT NULL,
	command TEXT NOT NULL,
	argv TEXT NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	exit_code INTEGER,
	exited_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_launches_started_at ON launches(started_at DESC);
`

// ErrUnknownLaunch is returned by RecordExit for an id that was never recorded.
var ErrUnknownLaunch = errors.New("unknown launch id")

// Launch is one spawn attempt.
type Launch struct {
	ID        uuid.UUID
	StartedAt time.Time
	// Chord is the human-readable chord that triggered the launch.
	Chord   string
	Command string
	Argv    []string
	// PID is zero when the spawn failed.
	PID   int
	Error string
	// ExitCode and ExitedAt are nil until the child has been reaped.
	ExitCode *int
	ExitedAt *time.Time
}

// Journal is a launch log backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	dsn := "file:" + filepath.ToSlash(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordLaunch inserts a spawn attempt.
func (j *Journal) RecordLaunch(ctx context.Context, l Launch) error {
	argv, err := json.Marshal(l.Argv)
	if err != nil {
		return fmt.Errorf("encode argv: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO launches (id, started_at, chord, command, argv, pid, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(),
		l.StartedAt.UTC().Format(timeLayout),
		l.Chord,
		l.Command,
		string(argv),
		l.PID,
		l.Error,
	)
	if err != nil {
		return fmt.Errorf("record launch %s: %w", l.ID, err)
	}
	return nil
}

// RecordExit stores the exit status of a previously recorded launch.
func (j *Journal) RecordExit(ctx context.Context, id uuid.UUID, exitCode int, at time.Time) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE launches SET exit_code = ?, exited_at = ? WHERE id = ?`,
		exitCode, at.UTC().Format(timeLayout), id.String(),
	)
	if err != nil {
		return fmt.Errorf("record exit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record exit %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("record exit %s: %w", id, ErrUnknownLaunch)
	}
	return nil
}

// Recent returns up to limit launches, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Launch, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started_at, chord, command, argv, pid, error, exit_code, exited_at
		 FROM launches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	defer rows.Close()

	var out []Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query launches: %w", err)
	}
	return out, nil
}

func scanLaunch(rows *sql.Rows) (Launch, error) {
	var (
		l         Launch
		id        string
		startedAt string
		argv      string
		exitCode  sql.NullInt64
		exitedAt  sql.NullString
	)
	if err := rows.Scan(&id, &startedAt, &l.Chord, &l.Command, &argv, &l.PID, &l.Error, &exitCode, &exitedAt); err != nil {
		return l, fmt.Errorf("scan launch: %w", err)
	}
	var err error
	if l.ID, err = uuid.Parse(id); err != nil {
		return l, fmt.Errorf("parse launch id %q: %w", id, err)
	}
	if l.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return l, fmt.Errorf("parse launch time %q: %w", startedAt, err)
	}
	if err := json.Unmarshal([]byte(argv), &l.Argv); err != nil {
		return l, fmt.Errorf("decode argv of %s: %w", id, err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		l.ExitCode = &code
	}
	if exitedAt.Valid {
		at, err := time.Parse(timeLayout, exitedAt.String)
		if err != nil {
			return l, fmt.Errorf("parse exit time %q: %w", exitedAt.String, err)
		}
		l.ExitedAt = &at
	}
	return l, nil
}
