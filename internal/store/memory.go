package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// MemoryStore is an in-process Store used by tests and local runs.
// A single mutex stands in for the row locks PostgresStore takes.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[uuid.UUID]*models.Document
	jobs      map[uuid.UUID]*models.GenerationJob
	sections  map[sectionKey]*models.Section
}

type sectionKey struct {
	documentID uuid.UUID
	index      int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[uuid.UUID]*models.Document),
		jobs:      make(map[uuid.UUID]*models.GenerationJob),
		sections:  make(map[sectionKey]*models.Section),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// --- Documents ---

func copyDocument(d *models.Document) *models.Document {
	c := *d
	c.Outline = slices.Clone(d.Outline)
	return &c
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return ErrDuplicateKey
	}
	s.documents[doc.ID] = copyDocument(doc)
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(d), nil
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveOutline(ctx context.Context, id uuid.UUID, outline []models.SectionSpec) ([]models.SectionSpec, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if len(d.Outline) > 0 {
		return slices.Clone(d.Outline), false, nil
	}
	d.Outline = slices.Clone(outline)
	d.UpdatedAt = time.Now().UTC()
	return slices.Clone(outline), true, nil
}

func (s *MemoryStore) SetDocumentContent(ctx context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	d.Content = content
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Jobs ---

func (s *MemoryStore) GetOrCreateJob(ctx context.Context, documentID uuid.UUID, jobType string, enqueue EnqueueFunc) (*models.GenerationJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, false, ErrNotFound
	}
	for _, j := range s.jobs {
		if j.DocumentID == documentID && j.Type == jobType && j.IsLive() {
			c := *j
			return &c, false, nil
		}
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
	if enqueue != nil {
		if err := enqueue(ctx, job); err != nil {
			return nil, false, fmt.Errorf("enqueue job: %w", err)
		}
	}
	stored := *job
	s.jobs[job.ID] = &stored
	return job, true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(validTransitions[status], j.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		j.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if params.Progress != nil {
		j.Progress = clampProgress(*params.Progress)
	}
	return nil
}

func (s *MemoryStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Progress = clampProgress(progress)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Sections ---

func copySection(sec *models.Section) *models.Section {
	c := *sec
	c.QualityIssues = slices.Clone(sec.QualityIssues)
	return &c
}

func (s *MemoryStore) GetCompletedSection(ctx context.Context, documentID uuid.UUID, index int) (*models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[sectionKey{documentID, index}]
	if !ok || sec.Status != models.SectionStatusCompleted {
		return nil, ErrNotFound
	}
	return copySection(sec), nil
}

func (s *MemoryStore) ListCompletedSections(ctx context.Context, documentID uuid.UUID) ([]*models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Section
	for k, sec := range s.sections {
		if k.documentID == documentID && sec.Status == models.SectionStatusCompleted {
			out = append(out, copySection(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) UpsertSection(ctx context.Context, section *models.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sectionKey{section.DocumentID, section.Index}
	now := time.Now().UTC()
	if existing, ok := s.sections[key]; ok {
		if existing.Status == models.SectionStatusCompleted {
			return ErrSectionCompleted
		}
		updated := copySection(section)
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		s.sections[key] = updated
		return nil
	}
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	created := copySection(section)
	created.CreatedAt = now
	created.UpdatedAt = now
	s.sections[key] = created
	return nil
}

// Sections returns every stored section for a document regardless of status,
// ordered by index.
func (s *MemoryStore) Sections(documentID uuid.UUID) []*models.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Section
	for k, sec := range s.sections {
		if k.documentID == documentID {
			out = append(out, copySection(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Jobs returns every stored job for a document.
func (s *MemoryStore) Jobs(documentID uuid.UUID) []*models.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range s.jobs {
		if j.DocumentID == documentID {
			c := *j
			out = append(out, &c)
		}
	}
	return out
}
