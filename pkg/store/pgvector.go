package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
)

type PostgresConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	// Embedder, when set, embeds each extracted result for Similar.
	Embedder types.Embedder
	Logger   *slog.Logger
}

// PostgresJobStore persists jobs and their extracted fields in Postgres,
// with a pgvector column over the result text.
type PostgresJobStore struct {
	config PostgresConfig
	pool   *pgxpool.Pool
	log    *slog.Logger
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewPostgresWithConfig(ctx context.Context, config PostgresConfig) (*PostgresJobStore, error) {
	if config.TableName == "" {
		config.TableName = "jobs"
	}
	if !identifier.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresJobStore{
		config: config,
		pool:   pool,
		log:    log,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresJobStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT,
			title TEXT,
			description TEXT,
			company_name TEXT,
			error TEXT,
			extracted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d)
		)`, s.config.TableName, s.config.VectorDim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url, created_at DESC)`, s.config.TableName),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
			ON %[1]s
			USING hnsw (embedding vector_cosine_ops)`, s.config.TableName),
	}
	for _, stmt := range createIndexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job *models.Job) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, url, status, phase, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.config.TableName)

	_, err := s.pool.Exec(ctx, stmt,
		job.ID,
		job.URL,
		string(job.Status),
		job.Phase,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, url, status, COALESCE(phase, ''), COALESCE(title, ''), COALESCE(description, ''),
	COALESCE(company_name, ''), COALESCE(error, ''), extracted_at, created_at, updated_at`

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.config.TableName)
	return s.queryOne(ctx, query, id)
}

func (s *PostgresJobStore) FindActiveByURL(ctx context.Context, url string) (*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE url = $1 AND status <> $2
		ORDER BY created_at DESC
		LIMIT 1`, jobColumns, s.config.TableName)
	return s.queryOne(ctx, query, url, string(models.StatusFailed))
}

func (s *PostgresJobStore) queryOne(ctx context.Context, query string, args ...any) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job                             models.Job
		status                          string
		title, description, companyName string
		extractedAt                     *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.URL,
		&status,
		&job.Phase,
		&title,
		&description,
		&companyName,
		&job.Error,
		&extractedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if extractedAt != nil {
		job.Result = &models.ExtractionResult{
			URL:         job.URL,
			Title:       title,
			Description: description,
			CompanyName: companyName,
			ExtractedAt: *extractedAt,
		}
	}
	return &job, nil
}

// Update applies a status transition. Non-terminal updates to finished jobs
// are ignored, matching MemoryJobStore.
func (s *PostgresJobStore) Update(ctx context.Context, u models.JobUpdate) error {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now()
	}

	var (
		title, description, companyName *string
		extractedAt                     *time.Time
		embedding                       *pgvector.Vector
	)
	if r := u.Result; r != nil {
		t, d, c := sanitizeUTF8(r.Title), sanitizeUTF8(r.Description), sanitizeUTF8(r.CompanyName)
		title, description, companyName = &t, &d, &c
		at := r.ExtractedAt
		if at.IsZero() {
			at = u.UpdatedAt
		}
		extractedAt = &at
		embedding = s.embedResult(ctx, u.JobID, r)
	}
	var errText *string
	if u.Error != "" {
		e := sanitizeUTF8(u.Error)
		errText = &e
	}

	stmt := fmt.Sprintf(`
		UPDATE %s SET
			status = $2,
			phase = $3,
			title = COALESCE($4, title),
			description = COALESCE($5, description),
			company_name = COALESCE($6, company_name),
			extracted_at = COALESCE($7, extracted_at),
			embedding = COALESCE($8, embedding),
			error = COALESCE($9, error),
			updated_at = $10
		WHERE id = $1 AND (status NOT IN ($11, $12) OR $13)`, s.config.TableName)

	tag, err := s.pool.Exec(ctx, stmt,
		u.JobID,
		string(u.Status),
		u.Phase,
		title,
		description,
		companyName,
		extractedAt,
		embedding,
		errText,
		u.UpdatedAt,
		string(models.StatusSucceeded),
		string(models.StatusFailed),
		u.Status.Terminal(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, u.JobID); err != nil {
			return err
		}
	}
	return nil
}

// embedResult returns nil when no embedder is configured or embedding fails;
// a missing vector only excludes the job from Similar.
func (s *PostgresJobStore) embedResult(ctx context.Context, jobID string, r *models.ExtractionResult) *pgvector.Vector {
	if s.config.Embedder == nil {
		return nil
	}
	text := strings.TrimSpace(strings.Join([]string{r.Title, r.CompanyName, r.Description}, "\n"))
	if text == "" {
		return nil
	}
	vec, err := s.config.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		s.log.Warn("failed to embed job result", "job_id", jobID, "error", err)
		return nil
	}
	if len(vec) != s.config.VectorDim {
		s.log.Warn("embedding dimension mismatch", "job_id", jobID, "got", len(vec), "want", s.config.VectorDim)
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

// Similar returns up to limit finished jobs whose extracted result is
// nearest to that of job id, by cosine distance.
func (s *PostgresJobStore) Similar(ctx context.Context, id string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 5
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %[1]s
		FROM %[2]s
		WHERE id <> $1
		  AND embedding IS NOT NULL
		  AND (SELECT embedding FROM %[2]s WHERE id = $1) IS NOT NULL
		ORDER BY embedding <=> (SELECT embedding FROM %[2]s WHERE id = $1)
		LIMIT $2`, jobColumns, s.config.TableName)

	rows, err := s.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// sanitizeUTF8 drops invalid sequences and NUL bytes, which Postgres text rejects.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
