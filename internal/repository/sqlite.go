package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scripts (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	style       TEXT NOT NULL,
	content     TEXT NOT NULL,
	document    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS generation_jobs (
	id               TEXT PRIMARY KEY,
	script_id        TEXT NOT NULL,
	style            TEXT NOT NULL,
	options          TEXT NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL,
	storyboard       TEXT NOT NULL,
	total_panels     INTEGER NOT NULL,
	completed_panels INTEGER NOT NULL DEFAULT 0,
	progress         REAL NOT NULL DEFAULT 0,
	rendered         TEXT NOT NULL DEFAULT '[]',
	result_panels    TEXT NOT NULL DEFAULT '[]',
	error_kind       TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_jobs_status_idx ON generation_jobs (status, created_at);
`

// SQLiteRepository keeps scripts and jobs in a single local database file.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteRepository{db: db, path: path}, nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) CreateScript(ctx context.Context, script *domain.Script) error {
	document, err := json.Marshal(script.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scripts (id, title, style, content, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		script.ID,
		script.Title,
		string(script.Style),
		script.Content,
		string(document),
		formatTime(script.CreatedAt),
		formatTime(script.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetScript(ctx context.Context, scriptID string) (*domain.Script, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, style, content, document, created_at, updated_at
		FROM scripts WHERE id = ?
	`, scriptID)
	script, err := scanSQLiteScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}
	return script, nil
}

func (r *SQLiteRepository) ListScripts(
	ctx context.Context,
	filter domain.ScriptListFilter,
) ([]*domain.Script, int, error) {
	filter = normalizeFilter(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scripts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scripts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, style, content, document, created_at, updated_at
		FROM scripts
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Script, 0)
	for rows.Next() {
		script, err := scanSQLiteScript(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan script: %w", err)
		}
		items = append(items, script)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate scripts: %w", err)
	}
	return items, total, nil
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	docs, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.ScriptID,
		string(job.Style),
		string(nonNilOptions(job.Options)),
		string(job.Status),
		string(docs.Storyboard),
		job.TotalPanels,
		job.CompletedPanels,
		job.Progress,
		string(docs.Rendered),
		string(docs.Result),
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	docs, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = ?, completed_panels = ?, progress = ?, rendered = ?, result_panels = ?,
			error_kind = ?, error_message = ?, attempts = ?, updated_at = ?
		WHERE id = ?
	`,
		string(job.Status),
		job.CompletedPanels,
		job.Progress,
		string(docs.Rendered),
		string(docs.Result),
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteScript(row rowScanner) (*domain.Script, error) {
	var (
		script    domain.Script
		style     string
		document  string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&script.ID, &script.Title, &style, &script.Content, &document, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	script.Style = domain.Style(style)
	if err := json.Unmarshal([]byte(document), &script.Document); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	script.Document.RawContent = script.Content
	script.CreatedAt = parseTime(createdAt)
	script.UpdatedAt = parseTime(updatedAt)
	return &script, nil
}

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var (
		job        domain.Job
		style      string
		status     string
		errorKind  string
		options    string
		storyboard string
		rendered   string
		result     string
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&job.ID,
		&job.ScriptID,
		&style,
		&options,
		&status,
		&storyboard,
		&job.TotalPanels,
		&job.CompletedPanels,
		&job.Progress,
		&rendered,
		&result,
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
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	docs := jobDocuments{
		Storyboard: []byte(storyboard),
		Rendered:   []byte(rendered),
		Result:     []byte(result),
	}
	if err := decodeJobDocuments(&job, docs); err != nil {
		return nil, err
	}
	return &job, nil
}

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(sqliteTimeLayout)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
