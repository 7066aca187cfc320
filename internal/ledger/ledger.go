// Package ledger records a local history of simulation runs in a
// SQLite database: which project, which spec, when it ran, how many
// steps, and how large the result slab was. It is the one part of the
// system that persists across process invocations.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Ledger is a handle on the run-history database.
type Ledger struct {
	db *sql.DB
}

// Run is one recorded simulation run.
type Run struct {
	ID          string
	ProjectName string
	SpecHash    string
	ModelName   string
	StartedAt   time.Time
	FinishedAt  time.Time
	StepCount   int
	ResultBytes int64
}

// Open opens (creating if necessary) the SQLite-backed ledger at path.
// Use ":memory:" for an ephemeral, process-local ledger.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: opening database")
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	spec_hash    TEXT NOT NULL,
	model_name   TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	step_count   INTEGER NOT NULL,
	result_bytes INTEGER NOT NULL
);`
	if _, err := l.db.Exec(schema); err != nil {
		return errors.Wrap(err, "ledger: migrating schema")
	}
	return nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SpecHash computes the stable identifier a Run ties a project snapshot
// to: the hex-encoded SHA-256 of the project's serialized source bytes.
func SpecHash(projectBytes []byte) string {
	sum := sha256.Sum256(projectBytes)
	return hex.EncodeToString(sum[:])
}

// RecordRun inserts a completed run into the ledger, assigning it a
// fresh UUID. Returns the assigned run ID.
func (l *Ledger) RecordRun(r Run) (string, error) {
	id := uuid.NewString()
	_, err := l.db.Exec(
		`INSERT INTO runs (id, project_name, spec_hash, model_name, started_at, finished_at, step_count, result_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.ProjectName, r.SpecHash, r.ModelName,
		r.StartedAt.Format(time.RFC3339Nano), r.FinishedAt.Format(time.RFC3339Nano),
		r.StepCount, r.ResultBytes,
	)
	if err != nil {
		return "", errors.Wrap(err, "ledger: recording run")
	}
	return id, nil
}

// RecentRuns returns the most recent limit runs for a project, newest
// first.
func (l *Ledger) RecentRuns(projectName string, limit int) ([]Run, error) {
	rows, err := l.db.Query(
		`SELECT id, project_name, spec_hash, model_name, started_at, finished_at, step_count, result_bytes
		 FROM runs WHERE project_name = ? ORDER BY started_at DESC LIMIT ?`,
		projectName, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: querying recent runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.ProjectName, &r.SpecHash, &r.ModelName, &started, &finished, &r.StepCount, &r.ResultBytes); err != nil {
			return nil, errors.Wrap(err, "ledger: scanning run row")
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ledger: iterating run rows")
	}
	return out, nil
}
