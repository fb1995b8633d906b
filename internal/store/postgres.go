package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"boss-office/internal/audit"
	"boss-office/internal/models"
	"boss-office/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres wraps pgxpool for job and audit persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes the embedded SQL migrations in name order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `job_id, original_filename, file_type, file_size_bytes, file_storage_key, status,
	created_at, updated_at, submitted_at, last_attempt_at, failure_reason, tool_id, tool_html,
	qa_status, qa_report, callback_received_at, revision_count, revision_notes, state_version`

// CreateJob inserts a DRAFT job and its initial audit entry in one transaction.
func (s *Postgres) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, models.AuditEntry, error) {
	id := p.JobID
	if id == "" {
		id = uuid.New().String()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (job_id, original_filename, file_type, file_size_bytes, file_storage_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, p.OriginalFilename, string(p.FileType), p.FileSizeBytes, p.FileStorageKey, string(models.StatusDraft), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Job{}, models.AuditEntry{}, ErrJobExists
		}
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("insert job: %w", err)
	}

	entry, err := insertAudit(ctx, tx, models.InitialAuditEntry(id))
	if err != nil {
		return models.Job{}, models.AuditEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		JobID:            id,
		OriginalFilename: p.OriginalFilename,
		FileType:         p.FileType,
		FileSizeBytes:    p.FileSizeBytes,
		FileStorageKey:   p.FileStorageKey,
		Status:           models.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, entry, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Postgres) ListJobs(ctx context.Context, status models.Status) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != models.StatusNone {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, job_id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ApplyTransition updates the job row only if its status is still from, and
// appends the audit entry in the same transaction.
func (s *Postgres) ApplyTransition(ctx context.Context, from models.Status, job models.Job, entry models.NewAuditEntry) (models.Job, models.AuditEntry, error) {
	qaReport, err := marshalReport(job.QAReport)
	if err != nil {
		return models.Job{}, models.AuditEntry{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE jobs SET
			status               = $3,
			submitted_at         = $4,
			last_attempt_at      = $5,
			failure_reason       = $6,
			tool_id              = $7,
			tool_html            = $8,
			qa_status            = $9,
			qa_report            = $10,
			callback_received_at = $11,
			revision_count       = $12,
			revision_notes       = $13,
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE job_id = $1
		  AND status = $2
		RETURNING state_version, updated_at`,
		job.JobID, string(from), string(job.Status),
		job.SubmittedAt, job.LastAttemptAt, job.FailureReason,
		job.ToolID, job.ToolHTML, job.QAStatus, qaReport,
		job.CallbackReceivedAt, job.RevisionCount, job.RevisionNotes,
	).Scan(&job.StateVersion, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, job.JobID).Scan(&exists); err != nil {
			return models.Job{}, models.AuditEntry{}, fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return models.Job{}, models.AuditEntry{}, ErrJobNotFound
		}
		telemetry.StatusConflicts.Inc()
		return models.Job{}, models.AuditEntry{}, ErrStatusConflict
	}
	if err != nil {
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("update job status: %w", err)
	}

	appended, err := insertAudit(ctx, tx, entry)
	if err != nil {
		return models.Job{}, models.AuditEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, models.AuditEntry{}, fmt.Errorf("commit: %w", err)
	}
	return job, appended, nil
}

// Append adds an audit row outside of a job update.
func (s *Postgres) Append(ctx context.Context, entry models.NewAuditEntry) (models.AuditEntry, error) {
	return insertAudit(ctx, s.pool, entry)
}

// QueryByJob returns a job's entries oldest first.
func (s *Postgres) QueryByJob(ctx context.Context, jobID string) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, from_status, to_status, ts, actor, note
		FROM audit_log
		WHERE job_id = $1
		ORDER BY ts ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			id   int64
			e    models.AuditEntry
			from pgtype.Text
			to   string
			act  string
			note pgtype.Text
		)
		if err := rows.Scan(&id, &e.JobID, &from, &to, &e.Timestamp, &act, &note); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.ID = audit.FormatID(id)
		e.FromStatus = models.Status(from.String)
		e.ToStatus = models.Status(to)
		e.Actor = models.Actor(act)
		e.Note = note.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// ExistsForJob reports whether any audit row references the job.
func (s *Postgres) ExistsForJob(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audit_log WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check audit log: %w", err)
	}
	return exists, nil
}

func insertAudit(ctx context.Context, q queryRower, in models.NewAuditEntry) (models.AuditEntry, error) {
	var id int64
	var ts time.Time
	err := q.QueryRow(ctx, `
		INSERT INTO audit_log (job_id, from_status, to_status, actor, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, ts`,
		in.JobID, statusOrNull(in.FromStatus), string(in.ToStatus), string(in.Actor), emptyToNil(in.Note),
	).Scan(&id, &ts)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return models.AuditEntry{
		ID:         audit.FormatID(id),
		JobID:      in.JobID,
		FromStatus: in.FromStatus,
		ToStatus:   in.ToStatus,
		Timestamp:  ts.UTC(),
		Actor:      in.Actor,
		Note:       in.Note,
	}, nil
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job      models.Job
		fileType string
		status   string
		failure  pgtype.Text
		toolID   pgtype.Text
		toolHTML pgtype.Text
		qaStatus pgtype.Text
		qaReport []byte
		revision pgtype.Text
	)
	if err := row.Scan(
		&job.JobID, &job.OriginalFilename, &fileType, &job.FileSizeBytes, &job.FileStorageKey, &status,
		&job.CreatedAt, &job.UpdatedAt, &job.SubmittedAt, &job.LastAttemptAt, &failure, &toolID, &toolHTML,
		&qaStatus, &qaReport, &job.CallbackReceivedAt, &job.RevisionCount, &revision, &job.StateVersion,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.FileType = models.FileType(fileType)
	job.Status = models.Status(status)
	job.FailureReason = textPtr(failure)
	job.ToolID = textPtr(toolID)
	job.ToolHTML = textPtr(toolHTML)
	job.QAStatus = textPtr(qaStatus)
	job.RevisionNotes = textPtr(revision)
	if len(qaReport) > 0 {
		if err := json.Unmarshal(qaReport, &job.QAReport); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal qa_report: %w", err)
		}
	}
	return job, nil
}

func marshalReport(report map[string]any) ([]byte, error) {
	if report == nil {
		return nil, nil
	}
	b, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal qa_report: %w", err)
	}
	return b, nil
}

func statusOrNull(s models.Status) *string {
	if s == models.StatusNone {
		return nil
	}
	v := string(s)
	return &v
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
