package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

var _ jobs.Store = (*PostgresStore)(nil)

// PostgresStore lets several service instances share one job table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.Connect(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect: %w", err)
	}
	store := &PostgresStore{pool: pool, now: time.Now}
	if err := store.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var exists int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, m.version).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, req jobs.NewJob) (*jobs.Job, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO jobs (id, status, audio_path, original_name, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)`,
		id, string(jobs.StatusQueued), req.AudioPath, req.OriginalName, now,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
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
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ClaimNextQueued locks the oldest queued row with SKIP LOCKED so concurrent
// claimers move on to the next row instead of blocking or double-claiming.
func (s *PostgresStore) ClaimNextQueued(ctx context.Context) (*jobs.Job, error) {
	var job *jobs.Job
	err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
SELECT id FROM jobs
WHERE status = $1
ORDER BY created_at, seq
LIMIT 1
FOR UPDATE SKIP LOCKED`, string(jobs.StatusQueued)).Scan(&id)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 RETURNING `+jobColumns,
			string(jobs.StatusProcessing), s.now().UTC(), id)
		job, err = scanPostgresJob(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status jobs.Status, fields jobs.Fields) error {
	from, err := checkUpdate(status, fields)
	if err != nil {
		return err
	}

	set, args := updateClause(status, fields, s.now().UTC(), "GREATEST", func(n int) string { return fmt.Sprintf("$%d", n) })
	args = append(args, id, statusStrings(from))
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d AND status = ANY($%d)`, set, len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, current, status)
}

func (s *PostgresStore) AppendLog(ctx context.Context, id string, line string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET logs = logs || $1, updated_at = $2 WHERE id = $3`,
		logLine(line), s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("append log for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return job, err
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPostgresJobs(rows)
}

func (s *PostgresStore) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, logs = logs || $3, updated_at = $4 WHERE status = $5`,
		string(jobs.StatusFailed), reason, logLine("ERROR: "+reason), s.now().UTC(), string(jobs.StatusProcessing))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]*jobs.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ($1, $2) AND updated_at < $3 AND NOT purged ORDER BY updated_at ASC`,
		string(jobs.StatusDone), string(jobs.StatusFailed), before.UTC())
	if err != nil {
		return nil, err
	}
	return collectPostgresJobs(rows)
}

func (s *PostgresStore) MarkPurged(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET purged = TRUE WHERE id = $1 AND status IN ($2, $3)`,
		id, string(jobs.StatusDone), string(jobs.StatusFailed))
	if err != nil {
		return fmt.Errorf("mark job %s purged: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, current)
}

func scanPostgresJob(row pgx.Row) (*jobs.Job, error) {
	var item jobs.Job
	var status string
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
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = jobs.Status(status)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func collectPostgresJobs(rows pgx.Rows) ([]*jobs.Job, error) {
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanPostgresJob(rows)
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
