package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const jobColumns = `id, status, audio_path, original_name, output_path, subtitle_path, progress, logs, error, created_at, updated_at`

var _ jobs.Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if exists > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, req jobs.NewJob) (*jobs.Job, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, audio_path, original_name, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id,
		string(jobs.StatusQueued),
		req.AudioPath,
		req.OriginalName,
		now.UnixNano(),
		now.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return nil, fmt.Errorf("%w: %s", jobs.ErrAlreadyExists, id)
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return &jobs.Job{
		ID:           id,
		Status:       jobs.StatusQueued,
		AudioPath:    req.AudioPath,
		OriginalName: req.OriginalName,
		CreatedAt:    time.Unix(0, now.UnixNano()).UTC(),
		UpdatedAt:    time.Unix(0, now.UnixNano()).UTC(),
	}, nil
}

// ClaimNextQueued is one UPDATE statement, so it runs under SQLite's write lock
// and two callers can never receive the same row.
func (s *SQLiteStore) ClaimNextQueued(ctx context.Context) (*jobs.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT 1
		 ) AND status = ?
		 RETURNING `+jobColumns,
		string(jobs.StatusProcessing),
		s.now().UTC().UnixNano(),
		string(jobs.StatusQueued),
		string(jobs.StatusQueued),
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status jobs.Status, fields jobs.Fields) error {
	from, err := checkUpdate(status, fields)
	if err != nil {
		return err
	}

	set, args := updateClause(status, fields, s.now().UTC().UnixNano(), "MAX", func(int) string { return "?" })
	where := make([]string, 0, len(from))
	args = append(args, id)
	for _, st := range statusStrings(from) {
		where = append(where, "?")
		args = append(args, st)
	}

	res, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND status IN (%s)`, set, strings.Join(where, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, current, status)
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id string, line string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET logs = logs || ?, updated_at = ? WHERE id = ?`,
		logLine(line),
		s.now().UTC().UnixNano(),
		id,
	)
	if err != nil {
		return fmt.Errorf("append log for job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return job, err
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error = ?, logs = logs || ?, updated_at = ? WHERE status = ?`,
		string(jobs.StatusFailed),
		reason,
		logLine("ERROR: "+reason),
		s.now().UTC().UnixNano(),
		string(jobs.StatusProcessing),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC`,
		string(jobs.StatusDone),
		string(jobs.StatusFailed),
		before.UTC().UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) MarkPurged(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET purged = 1 WHERE id = ? AND status IN (?, ?)`,
		id, string(jobs.StatusDone), string(jobs.StatusFailed))
	if err != nil {
		return fmt.Errorf("mark job %s purged: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrActive(ctx, id)
	}
	return nil
}

func (s *SQLiteStore) missingOrActive(ctx context.Context, id string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, current)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*jobs.Job, error) {
	var item jobs.Job
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(
		&item.ID,
		&status,
		&item.AudioPath,
		&item.OriginalName,
		&item.OutputPath,
		&item.SubtitlePath,
		&item.Progress,
		&item.Logs,
		&item.Error,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = jobs.Status(status)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &item, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]*jobs.Job, error) {
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
