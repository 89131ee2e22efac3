package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Documents ---

const documentColumns = `id, owner_id, topic, language, target_words, provider, model, status, outline, content, created_at, updated_at`

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	var outline []byte
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Topic, &d.Language, &d.TargetWords, &d.Provider,
		&d.Model, &d.Status, &outline, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeOutline(outline, &d.Outline); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeOutline(raw []byte, out *[]models.SectionSpec) error {
	if len(raw) == 0 {
		*out = nil
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode outline: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	outline, err := json.Marshal(nonNilOutline(doc.Outline))
	if err != nil {
		return fmt.Errorf("encode outline: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		doc.ID, doc.OwnerID, doc.Topic, doc.Language, doc.TargetWords, doc.Provider, doc.Model,
		doc.Status, outline, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveOutline(ctx context.Context, id uuid.UUID, outline []models.SectionSpec) ([]models.SectionSpec, bool, error) {
	raw, err := json.Marshal(nonNilOutline(outline))
	if err != nil {
		return nil, false, fmt.Errorf("encode outline: %w", err)
	}

	// Conditional write: only the first caller sees an empty outline.
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET outline = $2, updated_at = NOW()
		 WHERE id = $1 AND jsonb_array_length(outline) = 0`, id, raw)
	if err != nil {
		return nil, false, fmt.Errorf("save outline: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return outline, true, nil
	}

	var existing []byte
	err = s.pool.QueryRow(ctx, `SELECT outline FROM documents WHERE id = $1`, id).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("get outline: %w", err)
	}
	var current []models.SectionSpec
	if err := decodeOutline(existing, &current); err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) SetDocumentContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content = $2, updated_at = NOW() WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("set document content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilOutline(o []models.SectionSpec) []models.SectionSpec {
	if o == nil {
		return []models.SectionSpec{}
	}
	return o
}

// --- Jobs ---

const jobColumns = `id, document_id, type, status, progress, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	var j models.GenerationJob
	if err := row.Scan(&j.ID, &j.DocumentID, &j.Type, &j.Status, &j.Progress, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetOrCreateJob(ctx context.Context, documentID uuid.UUID, jobType string, enqueue EnqueueFunc) (*models.GenerationJob, bool, error) {
	job, created, err := s.getOrCreateJobTx(ctx, documentID, jobType, enqueue)
	if errors.Is(err, ErrDuplicateKey) {
		// A concurrent trigger won the race between our read and our insert.
		existing, qerr := s.getLiveJob(ctx, documentID, jobType)
		if qerr != nil {
			return nil, false, fmt.Errorf("re-query live job after conflict: %w", qerr)
		}
		return existing, false, nil
	}
	return job, created, err
}

func (s *PostgresStore) getOrCreateJobTx(ctx context.Context, documentID uuid.UUID, jobType string, enqueue EnqueueFunc) (_ *models.GenerationJob, _ bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the document row so racing triggers are totally ordered.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
		return nil, false, err
	}
	if err != nil {
		err = fmt.Errorf("lock document: %w", err)
		return nil, false, err
	}

	existing, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE document_id = $1 AND type = $2 AND status IN ('queued', 'running')
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, documentID, jobType))
	switch {
	case err == nil:
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit: %w", err)
			return nil, false, err
		}
		return existing, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		err = fmt.Errorf("find live job: %w", err)
		return nil, false, err
	}

	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:         uuid.New(),
		DocumentID: documentID,
		Type:       jobType,
		Status:     models.JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO generation_jobs (id, document_id, type, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		job.ID, job.DocumentID, job.Type, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			err = ErrDuplicateKey
			return nil, false, err
		}
		err = fmt.Errorf("create job: %w", err)
		return nil, false, err
	}

	if enqueue != nil {
		if err = enqueue(ctx, job); err != nil {
			err = fmt.Errorf("enqueue job: %w", err)
			return nil, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			err = ErrDuplicateKey
			return nil, false, err
		}
		err = fmt.Errorf("commit: %w", err)
		return nil, false, err
	}
	return job, true, nil
}

func (s *PostgresStore) getLiveJob(ctx context.Context, documentID uuid.UUID, jobType string) (*models.GenerationJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE document_id = $1 AND type = $2 AND status IN ('queued', 'running')
		 ORDER BY created_at DESC LIMIT 1`, documentID, jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	from, ok := validTransitions[status]
	if !ok {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	query := `UPDATE generation_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", argIdx)
		args = append(args, clampProgress(*params.Progress))
		argIdx++
	}

	// The transition is validated in the same statement that applies it.
	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM generation_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET progress = $2, updated_at = NOW() WHERE id = $1`,
		id, clampProgress(progress))
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sections ---

const sectionColumns = `id, document_id, section_index, title, content, status, word_count, quality_score, quality_issues, error_message, created_at, updated_at`

func scanSection(row rowScanner) (*models.Section, error) {
	var sec models.Section
	if err := row.Scan(&sec.ID, &sec.DocumentID, &sec.Index, &sec.Title, &sec.Content, &sec.Status,
		&sec.WordCount, &sec.QualityScore, &sec.QualityIssues, &sec.ErrorMessage,
		&sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *PostgresStore) GetCompletedSection(ctx context.Context, documentID uuid.UUID, index int) (*models.Section, error) {
	sec, err := scanSection(s.pool.QueryRow(ctx,
		`SELECT `+sectionColumns+` FROM sections
		 WHERE document_id = $1 AND section_index = $2 AND status = 'completed'`, documentID, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get completed section: %w", err)
	}
	return sec, nil
}

func (s *PostgresStore) ListCompletedSections(ctx context.Context, documentID uuid.UUID) ([]*models.Section, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sectionColumns+` FROM sections
		 WHERE document_id = $1 AND status = 'completed' ORDER BY section_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list completed sections: %w", err)
	}
	defer rows.Close()

	var sections []*models.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func (s *PostgresStore) UpsertSection(ctx context.Context, section *models.Section) error {
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	issues := section.QualityIssues
	if issues == nil {
		issues = []string{}
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sections (`+sectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 ON CONFLICT (document_id, section_index) DO UPDATE SET
		   title = EXCLUDED.title,
		   content = EXCLUDED.content,
		   status = EXCLUDED.status,
		   word_count = EXCLUDED.word_count,
		   quality_score = EXCLUDED.quality_score,
		   quality_issues = EXCLUDED.quality_issues,
		   error_message = EXCLUDED.error_message,
		   updated_at = EXCLUDED.updated_at
		 WHERE sections.status <> 'completed'`,
		section.ID, section.DocumentID, section.Index, section.Title, section.Content, section.Status,
		section.WordCount, section.QualityScore, issues, section.ErrorMessage, now)
	if err != nil {
		return fmt.Errorf("upsert section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSectionCompleted
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
