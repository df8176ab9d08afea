package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scripts (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	style       TEXT NOT NULL,
	content     TEXT NOT NULL,
	document    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS generation_jobs (
	id               TEXT PRIMARY KEY,
	script_id        TEXT NOT NULL,
	style            TEXT NOT NULL,
	options          JSONB NOT NULL DEFAULT '{}'::jsonb,
	status           TEXT NOT NULL,
	storyboard       JSONB NOT NULL,
	total_panels     INTEGER NOT NULL,
	completed_panels INTEGER NOT NULL DEFAULT 0,
	progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
	rendered         JSONB NOT NULL DEFAULT '[]'::jsonb,
	result_panels    JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_kind       TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_jobs_status_idx ON generation_jobs (status, created_at);
`

const jobColumns = `id, script_id, style, options, status, storyboard, total_panels, completed_panels,
	progress, rendered, result_panels, error_kind, error_message, attempts, created_at, updated_at`

// PostgresRepository serves both scripts and jobs from one pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	repo := &PostgresRepository{pool: pool}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply pg schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateScript(ctx context.Context, script *domain.Script) error {
	document, err := json.Marshal(script.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scripts (id, title, style, content, document, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		script.ID,
		script.Title,
		string(script.Style),
		script.Content,
		json.RawMessage(document),
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetScript(ctx context.Context, scriptID string) (*domain.Script, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, style, content, document, created_at, updated_at
		FROM scripts
		WHERE id = $1
	`, scriptID)
	script, err := scanPostgresScript(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query script: %w", err)
	}
	return script, nil
}

func (r *PostgresRepository) ListScripts(
	ctx context.Context,
	filter domain.ScriptListFilter,
) ([]*domain.Script, int, error) {
	filter = normalizeFilter(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scripts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scripts: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, title, style, content, document, created_at, updated_at
		FROM scripts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Script, 0)
	for rows.Next() {
		script, err := scanPostgresScript(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan script: %w", err)
		}
		items = append(items, script)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate scripts: %w", rows.Err())
	}
	return items, total, nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	docs, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		job.ID,
		job.ScriptID,
		string(job.Style),
		nonNilOptions(job.Options),
		string(job.Status),
		json.RawMessage(docs.Storyboard),
		job.TotalPanels,
		job.CompletedPanels,
		job.Progress,
		json.RawMessage(docs.Rendered),
		json.RawMessage(docs.Result),
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	docs, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}
	command, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $2,
			completed_panels = $3,
			progress = $4,
			rendered = $5,
			result_panels = $6,
			error_kind = $7,
			error_message = $8,
			attempts = $9,
			updated_at = $10
		WHERE id = $1
	`,
		job.ID,
		string(job.Status),
		job.CompletedPanels,
		job.Progress,
		json.RawMessage(docs.Rendered),
		json.RawMessage(docs.Result),
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID)
	job, err := scanPostgresJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs`
	args := make([]any, 0, 1)
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, nil
}

func scanPostgresScript(row pgx.Row) (*domain.Script, error) {
	var (
		script   domain.Script
		style    string
		document []byte
	)
	if err := row.Scan(
		&script.ID,
		&script.Title,
		&style,
		&script.Content,
		&document,
		&script.CreatedAt,
		&script.UpdatedAt,
	); err != nil {
		return nil, err
	}
	script.Style = domain.Style(style)
	if err := json.Unmarshal(document, &script.Document); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	script.Document.RawContent = script.Content
	return &script, nil
}

func scanPostgresJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		style     string
		status    string
		errorKind string
		options   []byte
		docs      jobDocuments
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.ScriptID,
		&style,
		&options,
		&status,
		&docs.Storyboard,
		&job.TotalPanels,
		&job.CompletedPanels,
		&job.Progress,
		&docs.Rendered,
		&docs.Result,
		&errorKind,
		&job.ErrorMessage,
		&job.Attempts,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	job.Style = domain.Style(style)
	job.Status = domain.JobStatus(status)
	job.ErrorKind = domain.ErrorKind(errorKind)
	job.Options = json.RawMessage(options)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	if err := decodeJobDocuments(&job, docs); err != nil {
		return nil, err
	}
	return &job, nil
}
