package db

import (
	"database/sql"
	"time"
)

// EntityRecord is the durable content entity, identified by its natural key.
// At most one record exists per natural key; a second run against the same
// input updates the record instead of creating a duplicate.
type EntityRecord struct {
	ID           string         `db:"id"`
	NaturalKey   string         `db:"natural_key"`
	DisplayName  string         `db:"display_name"`
	Payload      []byte         `db:"payload"` // profile.Payload as JSON
	Completeness float64        `db:"completeness"`
	MediaURLs    []byte         `db:"media_urls"` // []string as JSON, null until COMMIT #2
	MediaCount   int            `db:"media_count"`
	Status       string         `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	IndexedAt    sql.NullTime   `db:"indexed_at"`
	LastRunID    sql.NullString `db:"last_run_id"`
}

// RunRecord is the audit row for one pipeline run. Runs are never deleted.
type RunRecord struct {
	ID           string       `db:"id"`
	NaturalKey   string       `db:"natural_key"`
	Phase        string       `db:"phase"`
	Seq          int          `db:"seq"`
	Status       string       `db:"status"`
	Confidence   float64      `db:"confidence"`
	Completeness float64      `db:"completeness"`
	CostUSD      float64      `db:"cost_usd"`
	MediaCount   int          `db:"media_count"`
	Signals      []byte       `db:"signals"` // []string as JSON
	StartedAt    time.Time    `db:"started_at"`
	EndedAt      sql.NullTime `db:"ended_at"`
}

// PhaseRecord is one recorded phase transition. Seq is monotone per run and
// written before the phase's activities start, so a supervisor restarting the
// worker can resume from the last recorded phase.
type PhaseRecord struct {
	RunID      string    `db:"run_id"`
	NaturalKey string    `db:"natural_key"`
	Phase      string    `db:"phase"`
	Seq        int       `db:"seq"`
	CreatedAt  time.Time `db:"created_at"`
}
