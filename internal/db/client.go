// Package db is the persistence gateway. Entity upserts are synchronous and
// keyed by natural key; run and phase audit rows go through an async write
// queue so audit persistence never blocks the pipeline.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/prosemill/orchestrator/internal/config"
)

// WriteType tags an async audit write.
type WriteType int

const (
	WriteTypeRunStart WriteType = iota
	WriteTypeRunResult
	WriteTypePhase
)

func (wt WriteType) String() string {
	switch wt {
	case WriteTypeRunStart:
		return "RunStart"
	case WriteTypeRunResult:
		return "RunResult"
	case WriteTypePhase:
		return "Phase"
	default:
		return "Unknown"
	}
}

// WriteRequest is one queued audit write.
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

// Client manages the connection pool and the audit write queue.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger

	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// NewClient opens the store for the configured driver and starts the audit
// write workers.
func NewClient(cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	var dsn string
	switch driver {
	case "postgres":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
		)
	case "sqlite3":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database.path required for sqlite3 driver")
		}
		dsn = cfg.Path
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dbx, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	maxConns := cfg.MaxConnections
	if maxConns == 0 {
		maxConns = 25
	}
	idle := cfg.IdleConnections
	if idle == 0 {
		idle = 5
	}
	lifetime := cfg.MaxLifetime
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}
	dbx.SetMaxOpenConns(maxConns)
	dbx.SetMaxIdleConns(idle)
	dbx.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	c := &Client{
		db:         dbx,
		logger:     logger,
		writeQueue: make(chan WriteRequest, 256),
		workers:    2,
		stopCh:     make(chan struct{}),
	}
	c.startWorkers()
	return c, nil
}

// newClientWithDB wraps an existing connection; used by tests with sqlmock.
func newClientWithDB(dbx *sqlx.DB, logger *zap.Logger) *Client {
	c := &Client{
		db:         dbx,
		logger:     logger,
		writeQueue: make(chan WriteRequest, 256),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	c.startWorkers()
	return c
}

// Ping verifies the underlying connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close drains the audit queue and closes the pool.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	return c.db.Close()
}

// EnsureSchema creates the tables when they do not exist yet. Production
// deployments manage the schema externally; this keeps local sqlite runs and
// tests self-contained.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			natural_key TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
			media_urls TEXT,
			media_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			indexed_at TIMESTAMP,
			last_run_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			natural_key TEXT NOT NULL,
			phase TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			media_count INTEGER NOT NULL DEFAULT 0,
			signals TEXT,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_phases (
			run_id TEXT NOT NULL,
			natural_key TEXT NOT NULL,
			phase TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetEntity returns the entity for a natural key, or nil when none exists.
func (c *Client) GetEntity(ctx context.Context, naturalKey string) (*EntityRecord, error) {
	var rec EntityRecord
	query := c.db.Rebind(`SELECT * FROM entities WHERE natural_key = ?`)
	err := c.db.GetContext(ctx, &rec, query, naturalKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", naturalKey, err)
	}
	return &rec, nil
}

// UpsertEntity is COMMIT #1: first-writer-wins on creation through the
// store's key-uniqueness guarantee, last-writer-wins on the payload when the
// key already exists. Returns the entity id and whether this call created it.
func (c *Client) UpsertEntity(ctx context.Context, rec *EntityRecord) (string, bool, error) {
	now := time.Now().UTC()
	insert := c.db.Rebind(`
		INSERT INTO entities (id, natural_key, display_name, payload, completeness, media_count, status, created_at, updated_at, last_run_id)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (natural_key) DO NOTHING`)
	res, err := c.db.ExecContext(ctx, insert,
		rec.ID, rec.NaturalKey, rec.DisplayName, rec.Payload, rec.Completeness,
		rec.Status, now, now, rec.LastRunID,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert entity %s: %w", rec.NaturalKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return rec.ID, true, nil
	}

	// Concurrent or earlier writer won creation: update the payload fields.
	update := c.db.Rebind(`
		UPDATE entities
		SET display_name = ?, payload = ?, completeness = ?, status = ?, updated_at = ?, last_run_id = ?
		WHERE natural_key = ?`)
	if _, err := c.db.ExecContext(ctx, update,
		rec.DisplayName, rec.Payload, rec.Completeness, rec.Status, now, rec.LastRunID, rec.NaturalKey,
	); err != nil {
		return "", false, fmt.Errorf("update entity %s: %w", rec.NaturalKey, err)
	}

	var id string
	if err := c.db.GetContext(ctx, &id, c.db.Rebind(`SELECT id FROM entities WHERE natural_key = ?`), rec.NaturalKey); err != nil {
		return "", false, fmt.Errorf("lookup entity id %s: %w", rec.NaturalKey, err)
	}
	return id, false, nil
}

// PatchEntityMedia is COMMIT #2: attaches the generated media URLs and the
// final status. Last-writer-wins on these patch fields is acceptable.
func (c *Client) PatchEntityMedia(ctx context.Context, naturalKey string, mediaJSON []byte, mediaCount int, status string) error {
	query := c.db.Rebind(`
		UPDATE entities
		SET media_urls = ?, media_count = ?, status = ?, updated_at = ?
		WHERE natural_key = ?`)
	res, err := c.db.ExecContext(ctx, query, mediaJSON, mediaCount, status, time.Now().UTC(), naturalKey)
	if err != nil {
		return fmt.Errorf("patch entity media %s: %w", naturalKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("patch entity media %s: no entity row", naturalKey)
	}
	return nil
}

// MarkEntityIndexed records a successful knowledge-graph publication.
func (c *Client) MarkEntityIndexed(ctx context.Context, naturalKey string) error {
	query := c.db.Rebind(`UPDATE entities SET indexed_at = ? WHERE natural_key = ?`)
	if _, err := c.db.ExecContext(ctx, query, time.Now().UTC(), naturalKey); err != nil {
		return fmt.Errorf("mark entity indexed %s: %w", naturalKey, err)
	}
	return nil
}

// QueueWrite enqueues an async audit write. Returns an error only when the
// queue is full or shut down; audit loss is logged, never fatal to a run.
func (c *Client) QueueWrite(wt WriteType, data interface{}, callback func(error)) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("write queue closed")
	default:
	}
	select {
	case c.writeQueue <- WriteRequest{Type: wt, Data: data, Callback: callback}:
		return nil
	default:
		return fmt.Errorf("write queue full, dropping %s", wt)
	}
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go func() {
			defer c.workerWg.Done()
			for {
				select {
				case req := <-c.writeQueue:
					c.processWrite(req)
				case <-c.stopCh:
					// Drain remaining writes before exiting.
					for {
						select {
						case req := <-c.writeQueue:
							c.processWrite(req)
						default:
							return
						}
					}
				}
			}
		}()
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case WriteTypeRunStart:
		if rec, ok := req.Data.(*RunRecord); ok {
			err = c.insertRun(ctx, rec)
		} else {
			err = fmt.Errorf("unexpected data type for %s", req.Type)
		}
	case WriteTypeRunResult:
		if rec, ok := req.Data.(*RunRecord); ok {
			err = c.completeRun(ctx, rec)
		} else {
			err = fmt.Errorf("unexpected data type for %s", req.Type)
		}
	case WriteTypePhase:
		if rec, ok := req.Data.(*PhaseRecord); ok {
			err = c.insertPhase(ctx, rec)
		} else {
			err = fmt.Errorf("unexpected data type for %s", req.Type)
		}
	default:
		err = fmt.Errorf("unknown write type %d", req.Type)
	}

	if err != nil {
		c.logger.Warn("Audit write failed", zap.Stringer("type", req.Type), zap.Error(err))
	}
	if req.Callback != nil {
		req.Callback(err)
	}
}

func (c *Client) insertRun(ctx context.Context, rec *RunRecord) error {
	query := c.db.Rebind(`
		INSERT INTO pipeline_runs (id, natural_key, phase, seq, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.NaturalKey, rec.Phase, rec.Seq, rec.Status, rec.StartedAt)
	return err
}

func (c *Client) completeRun(ctx context.Context, rec *RunRecord) error {
	query := c.db.Rebind(`
		UPDATE pipeline_runs
		SET phase = ?, seq = ?, status = ?, confidence = ?, completeness = ?, cost_usd = ?, media_count = ?, signals = ?, ended_at = ?
		WHERE id = ?`)
	_, err := c.db.ExecContext(ctx, query,
		rec.Phase, rec.Seq, rec.Status, rec.Confidence, rec.Completeness,
		rec.CostUSD, rec.MediaCount, rec.Signals, time.Now().UTC(), rec.ID)
	return err
}

func (c *Client) insertPhase(ctx context.Context, rec *PhaseRecord) error {
	query := c.db.Rebind(`
		INSERT INTO pipeline_phases (run_id, natural_key, phase, seq, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID, rec.NaturalKey, rec.Phase, rec.Seq, time.Now().UTC())
	return err
}

// LastPhase returns the highest recorded phase sequence for a run, used by a
// supervisor to resume from the last recorded phase after a crash.
func (c *Client) LastPhase(ctx context.Context, runID string) (*PhaseRecord, error) {
	var rec PhaseRecord
	query := c.db.Rebind(`
		SELECT run_id, natural_key, phase, seq, created_at
		FROM pipeline_phases WHERE run_id = ?
		ORDER BY seq DESC LIMIT 1`)
	err := c.db.GetContext(ctx, &rec, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last phase %s: %w", runID, err)
	}
	return &rec, nil
}
