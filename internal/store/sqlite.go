package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			cost_ceiling_usd REAL NOT NULL DEFAULT 0,
			dedupe_key TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe ON jobs(dedupe_key) WHERE dedupe_key != ''`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS job_costs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_costs_job ON job_costs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_job_costs_ts ON job_costs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT 'info',
			message TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, job Job) (Job, bool, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusQueued
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, user_id, task_type, status, cost_ceiling_usd, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dedupe_key) WHERE dedupe_key != '' DO NOTHING`,
		job.ID, job.UserID, job.TaskType, string(job.Status), job.CostCeilingUSD, job.DedupeKey,
		job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Job{}, false, fmt.Errorf("create job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Job{}, false, err
	}
	if n > 0 {
		return job, false, nil
	}

	// Dedupe hit: return the existing row.
	existing, err := s.getJobByDedupeKey(ctx, job.DedupeKey)
	if err != nil {
		return Job{}, false, err
	}
	if existing == nil {
		return Job{}, false, fmt.Errorf("create job: conflict without existing dedupe row")
	}
	return *existing, true, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx,
		`SELECT job_id, user_id, task_type, status, cost_ceiling_usd, dedupe_key, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, id))
}

func (s *SQLiteStore) getJobByDedupeKey(ctx context.Context, key string) (*Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx,
		`SELECT job_id, user_id, task_type, status, cost_ceiling_usd, dedupe_key, created_at, updated_at
		 FROM jobs WHERE dedupe_key = ?`, key))
}

func (s *SQLiteStore) scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var status, created, updated string
	err := row.Scan(&j.ID, &j.UserID, &j.TaskType, &status, &j.CostCeilingUSD, &j.DedupeKey, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job status: job %s not found", id)
	}
	return nil
}

// Cost ledger

func (s *SQLiteStore) AppendCost(ctx context.Context, c JobCost) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_costs (job_id, provider, model, tokens_in, tokens_out, cost_usd, latency_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.JobID, c.Provider, c.Model, c.TokensIn, c.TokensOut, c.CostUSD, c.LatencyMs,
		c.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListJobCosts(ctx context.Context, jobID string) ([]JobCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, provider, model, tokens_in, tokens_out, cost_usd, latency_ms, timestamp
		 FROM job_costs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	return scanCosts(rows)
}

func (s *SQLiteStore) ListRecentCosts(ctx context.Context, limit, offset int) ([]JobCost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, provider, model, tokens_in, tokens_out, cost_usd, latency_ms, timestamp
		 FROM job_costs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanCosts(rows)
}

func scanCosts(rows *sql.Rows) ([]JobCost, error) {
	defer func() { _ = rows.Close() }()
	var costs []JobCost
	for rows.Next() {
		var c JobCost
		var ts string
		if err := rows.Scan(&c.ID, &c.JobID, &c.Provider, &c.Model, &c.TokensIn, &c.TokensOut,
			&c.CostUSD, &c.LatencyMs, &ts); err != nil {
			return nil, err
		}
		c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// Events

func (s *SQLiteStore) AppendEvent(ctx context.Context, e Event) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = "info"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (job_id, level, message, ts) VALUES (?, ?, ?, ?)`,
		e.JobID, e.Level, e.Message, e.TS.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListJobEvents(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, level, message, ts FROM events WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}
