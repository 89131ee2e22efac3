package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/ai/mock"
	"github.com/kiranshivaraju/paperforge/internal/cache"
	"github.com/kiranshivaraju/paperforge/internal/checkpoint"
	"github.com/kiranshivaraju/paperforge/internal/notify"
	"github.com/kiranshivaraju/paperforge/internal/orchestrator"
	"github.com/kiranshivaraju/paperforge/internal/pipeline"
	"github.com/kiranshivaraju/paperforge/internal/quality"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveSections = "```json\n[" +
	`{"index":1,"title":"S1","target_words":300},` +
	`{"index":2,"title":"S2","target_words":300},` +
	`{"index":3,"title":"S3","target_words":300},` +
	`{"index":4,"title":"S4","target_words":300},` +
	`{"index":5,"title":"S5","target_words":300}` +
	"]\n```"

// --- fakes ---

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ctx context.Context, ownerID uuid.UUID, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func (r *recorder) OfType(t notify.EventType) []notify.Event {
	var out []notify.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeSections writes sections straight to the store, skipping completed ones
// like the real runner.
type fakeSections struct {
	store   *store.MemoryStore
	fail    map[int]error
	panicAt int
	delay   time.Duration

	mu  sync.Mutex
	ran []int
}

func (f *fakeSections) Run(ctx context.Context, doc *models.Document, spec models.SectionSpec) (pipeline.Outcome, error) {
	f.mu.Lock()
	f.ran = append(f.ran, spec.Index)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if spec.Index == f.panicAt {
		panic("kaboom")
	}
	if existing, err := f.store.GetCompletedSection(ctx, doc.ID, spec.Index); err == nil {
		return pipeline.Outcome{Section: existing, Skipped: true}, nil
	}
	sec := &models.Section{DocumentID: doc.ID, Index: spec.Index, Title: spec.Title}
	if err := f.fail[spec.Index]; err != nil {
		sec.Status = models.SectionStatusFailed
		_ = f.store.UpsertSection(ctx, sec)
		return pipeline.Outcome{Section: sec}, err
	}
	sec.Status = models.SectionStatusCompleted
	sec.Content = fmt.Sprintf("Body %d.", spec.Index)
	if err := f.store.UpsertSection(ctx, sec); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{Section: sec}, nil
}

func (f *fakeSections) Ran() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ran...)
}

type fakeExporter struct {
	err   error
	calls int
}

func (e *fakeExporter) Export(ctx context.Context, documentID uuid.UUID, format string) (string, error) {
	e.calls++
	return "documents/" + documentID.String() + "/paper.md", e.err
}

// --- harness ---

type harness struct {
	store       *store.MemoryStore
	cache       *cache.MemoryCache
	checkpoints *checkpoint.Manager
	events      *recorder
	gen         *mock.MockGenerator
	sections    *fakeSections
	exporter    *fakeExporter
	orch        *orchestrator.Orchestrator
	doc         *models.Document
	job         *models.GenerationJob
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		cache:    cache.NewMemoryCache(),
		events:   &recorder{},
		gen:      mock.NewMockGenerator(fiveSections),
		exporter: &fakeExporter{},
	}
	h.checkpoints = checkpoint.NewManager(h.cache)
	h.sections = &fakeSections{store: h.store, fail: map[int]error{}}
	h.orch = h.newOrchestrator(h.sections)

	ctx := context.Background()
	h.doc = &models.Document{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Topic:       "Federated learning",
		Language:    "en",
		TargetWords: 1500,
		Status:      models.DocumentStatusPaymentPending,
	}
	require.NoError(t, h.store.CreateDocument(ctx, h.doc))
	job, _, err := h.store.GetOrCreateJob(ctx, h.doc.ID, models.JobTypeDocumentGeneration, nil)
	require.NoError(t, err)
	h.job = job
	return h
}

func (h *harness) newOrchestrator(sections orchestrator.SectionRunner) *orchestrator.Orchestrator {
	return orchestrator.New(h.store, ai.NewStaticRegistry(h.gen), sections, h.checkpoints, h.events, h.exporter,
		orchestrator.Config{HeartbeatInterval: time.Hour, JobWaitAttempts: 2, JobWaitInterval: time.Millisecond})
}

func (h *harness) reload(t *testing.T) (*models.GenerationJob, *models.Document) {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), h.job.ID)
	require.NoError(t, err)
	doc, err := h.store.GetDocument(context.Background(), h.doc.ID)
	require.NoError(t, err)
	return job, doc
}

func completedIndexes(t *testing.T, s *store.MemoryStore, docID uuid.UUID) []int {
	t.Helper()
	list, err := s.ListCompletedSections(context.Background(), docID)
	require.NoError(t, err)
	out := []int{}
	for _, sec := range list {
		out = append(out, sec.Index)
	}
	return out
}

// --- tests ---

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.orch.Run(context.Background(), h.job.ID)

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	require.Len(t, doc.Outline, 5)
	assert.True(t, strings.HasPrefix(doc.Content, "## S1\n\nBody 1.\n\n## S2\n\nBody 2."), doc.Content)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.sections.Ran())
	assert.Equal(t, 1, h.gen.CallCount(), "outline generated once")
	assert.Equal(t, 1, h.exporter.calls)

	assert.Nil(t, h.checkpoints.Load(context.Background(), h.doc.ID), "checkpoint cleared on success")

	events := h.events.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, notify.EventJobStarted, events[0].Type)
	assert.Equal(t, notify.EventJobCompleted, events[len(events)-1].Type)
	assert.Equal(t, 100, events[len(events)-1].Progress)

	var progress []int
	for _, ev := range h.events.OfType(notify.EventSectionProgress) {
		progress = append(progress, ev.Progress)
		assert.Equal(t, models.SectionStatusCompleted, ev.SectionStatus)
	}
	assert.Equal(t, []int{23, 41, 59, 77, 95}, progress)
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	outline, err := orchestrator.ParseOutline(fiveSections, 1500)
	require.NoError(t, err)
	_, _, err = h.store.SaveOutline(ctx, h.doc.ID, outline)
	require.NoError(t, err)
	for _, idx := range []int{1, 2} {
		require.NoError(t, h.store.UpsertSection(ctx, &models.Section{
			DocumentID: h.doc.ID, Index: idx, Title: fmt.Sprintf("S%d", idx),
			Content: "Earlier.", Status: models.SectionStatusCompleted,
		}))
	}
	require.NoError(t, h.checkpoints.Save(ctx, h.doc.ID, 2, 5))

	h.orch.Run(ctx, h.job.ID)

	assert.Equal(t, []int{3, 4, 5}, h.sections.Ran())
	assert.Equal(t, 0, h.gen.CallCount(), "existing outline reused")
	resuming := h.events.OfType(notify.EventResuming)
	require.Len(t, resuming, 1)
	assert.Equal(t, 3, resuming[0].SectionIndex)

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, completedIndexes(t, h.store, h.doc.ID))
	assert.Contains(t, doc.Content, "## S1\n\nEarlier.")
}

func TestRun_SectionFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.sections.fail[3] = errors.New("quality threshold not met")

	h.orch.Run(context.Background(), h.job.ID)

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, []int{1, 2, 4, 5}, completedIndexes(t, h.store, h.doc.ID))
	assert.NotContains(t, doc.Content, "## S3")

	var failed []notify.Event
	for _, ev := range h.events.OfType(notify.EventSectionProgress) {
		if ev.SectionStatus == models.SectionStatusFailed {
			failed = append(failed, ev)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].SectionIndex)
	assert.Contains(t, failed[0].Message, "quality threshold")
}

func TestRun_AllSectionsFailFailsJob(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		h.sections.fail[i] = errors.New("provider down")
	}

	h.orch.Run(context.Background(), h.job.ID)

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, orchestrator.ErrNoSectionsCompleted.Error(), *job.ErrorMessage)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)
	assert.Len(t, h.events.OfType(notify.EventJobFailed), 1)
	assert.Equal(t, 0, h.exporter.calls)
}

func TestRun_PanicFailsJobAndKeepsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.sections.panicAt = 3

	assert.NotPanics(t, func() { h.orch.Run(context.Background(), h.job.ID) })

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "kaboom")
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)

	cp := h.checkpoints.Load(context.Background(), h.doc.ID)
	require.NotNil(t, cp, "checkpoint survives failure")
	assert.Equal(t, 2, cp.LastCompletedIndex)
	assert.Equal(t, 5, cp.TotalSections)
}

func TestRun_RetryAfterFailureResumes(t *testing.T) {
	h := newHarness(t)
	h.sections.panicAt = 3
	h.orch.Run(context.Background(), h.job.ID)

	next, created, err := h.store.GetOrCreateJob(context.Background(), h.doc.ID, models.JobTypeDocumentGeneration, nil)
	require.NoError(t, err)
	require.True(t, created)

	h.sections.panicAt = 0
	h.orch.Run(context.Background(), next.ID)

	assert.Equal(t, []int{1, 2, 3, 3, 4, 5}, h.sections.Ran())
	got, err := h.store.GetJob(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestRun_CheckpointStopsAtFailedSection(t *testing.T) {
	h := newHarness(t)
	h.sections.fail[3] = errors.New("quality threshold not met")
	h.sections.panicAt = 5
	h.orch.Run(context.Background(), h.job.ID)

	cp := h.checkpoints.Load(context.Background(), h.doc.ID)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.LastCompletedIndex, "checkpoint must not move past section 3")

	next, created, err := h.store.GetOrCreateJob(context.Background(), h.doc.ID, models.JobTypeDocumentGeneration, nil)
	require.NoError(t, err)
	require.True(t, created)

	delete(h.sections.fail, 3)
	h.sections.panicAt = 0
	h.orch.Run(context.Background(), next.ID)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 3, 4, 5}, h.sections.Ran())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, completedIndexes(t, h.store, h.doc.ID))
	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusFailed, job.Status, "first job stays failed")
	got, err := h.store.GetJob(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Contains(t, doc.Content, "## S3")
}

func TestRun_ErrorMessageTruncated(t *testing.T) {
	h := newHarness(t)
	h.gen = mock.NewFailingGenerator(errors.New(strings.Repeat("é", 400)))
	h.gen.Name_ = "mock"
	h.orch = h.newOrchestrator(h.sections)

	h.orch.Run(context.Background(), h.job.ID)

	job, _ := h.reload(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.LessOrEqual(t, len(*job.ErrorMessage), 500)
	assert.True(t, strings.HasPrefix(*job.ErrorMessage, "outline: generating outline: "))
	assert.NotContains(t, *job.ErrorMessage, "�")
}

func TestRun_InvalidOutlineFailsJob(t *testing.T) {
	h := newHarness(t)
	h.gen = mock.NewMockGenerator("I cannot produce an outline.")
	h.gen.Name_ = "mock"
	h.orch = h.newOrchestrator(h.sections)

	h.orch.Run(context.Background(), h.job.ID)

	job, _ := h.reload(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, *job.ErrorMessage, ai.ErrInvalidResponse.Error())
	assert.Empty(t, h.sections.Ran())
}

func TestRun_ExportFailureIsLoggedOnly(t *testing.T) {
	h := newHarness(t)
	h.exporter.err = errors.New("disk full")

	h.orch.Run(context.Background(), h.job.ID)

	job, _ := h.reload(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, h.exporter.calls)
}

func TestRun_SkipsJobThatIsNotQueued(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.UpdateJobStatus(context.Background(), h.job.ID, models.JobStatusRunning))

	h.orch.Run(context.Background(), h.job.ID)

	assert.Empty(t, h.sections.Ran())
	assert.Empty(t, h.events.Events())
}

func TestRun_MissingJobIsDropped(t *testing.T) {
	h := newHarness(t)
	assert.NotPanics(t, func() { h.orch.Run(context.Background(), uuid.New()) })
	assert.Empty(t, h.events.Events())
}

func TestRun_EmitsHeartbeats(t *testing.T) {
	h := newHarness(t)
	h.sections.delay = 30 * time.Millisecond
	orch := orchestrator.New(h.store, ai.NewStaticRegistry(h.gen), h.sections, h.checkpoints, h.events, nil,
		orchestrator.Config{HeartbeatInterval: 5 * time.Millisecond})

	orch.Run(context.Background(), h.job.ID)

	assert.NotEmpty(t, h.events.OfType(notify.EventHeartbeat))
	events := h.events.Events()
	assert.Equal(t, notify.EventJobCompleted, events[len(events)-1].Type, "no heartbeat after completion")
}

func TestRun_WithSectionPipeline(t *testing.T) {
	h := newHarness(t)
	body := strings.Repeat("analysis ", 140) + "[1] [2]\n\nMoreover, " + strings.Repeat("analysis ", 140) + "(Lee, 2021)"
	h.gen = &mock.MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
			switch {
			case strings.Contains(req.Prompt, "Create an outline"):
				return models.GenerationResult{Text: fiveSections}, nil
			case strings.HasPrefix(req.System, "You revise"):
				return models.GenerationResult{Text: strings.SplitN(req.Prompt, "\n\n", 2)[1]}, nil
			default:
				return models.GenerationResult{Text: body}, nil
			}
		},
	}
	gens := ai.NewStaticRegistry(h.gen)
	runner := pipeline.NewSectionRunner(h.store, gens, nil, quality.NewGate(2),
		pipeline.Config{BaseTemperature: 0.7, TemperatureStep: 0.1})
	orch := orchestrator.New(h.store, gens, runner, h.checkpoints, h.events, nil, orchestrator.Config{})

	orch.Run(context.Background(), h.job.ID)

	job, doc := h.reload(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, completedIndexes(t, h.store, h.doc.ID))
	assert.Equal(t, 5, strings.Count(doc.Content, "## S"))
}

// --- outline ---

func TestOutline_ConcurrentCallersPersistOnce(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	n := 0
	h.gen = &mock.MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			mu.Lock()
			n++
			title := fmt.Sprintf("Variant %d", n)
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return models.GenerationResult{Text: `[{"index":1,"title":"` + title + `"}]`}, nil
		},
	}
	// Two orchestrators stand in for two processes; each collapses its own callers.
	a := h.newOrchestrator(h.sections)
	b := h.newOrchestrator(h.sections)

	var wg sync.WaitGroup
	results := make([][]models.SectionSpec, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := a
			if i%2 == 1 {
				o = b
			}
			outline, err := o.Outline(context.Background(), h.doc)
			assert.NoError(t, err)
			results[i] = outline
		}(i)
	}
	wg.Wait()

	_, doc := h.reload(t)
	require.Len(t, doc.Outline, 1)
	for _, r := range results {
		assert.Equal(t, doc.Outline, r)
	}
	assert.LessOrEqual(t, h.gen.CallCount(), 8)
}

func TestParseOutline(t *testing.T) {
	outline, err := orchestrator.ParseOutline(
		"Here you go:\n[{\"index\":3,\"title\":\"Conclusion\"},{\"index\":1,\"title\":\" Intro \",\"target_words\":400,\"key_points\":[\"a\"]},{\"index\":2,\"title\":\"\"}]",
		1000)
	require.NoError(t, err)
	require.Len(t, outline, 2)
	assert.Equal(t, models.SectionSpec{Index: 1, Title: "Intro", TargetWords: 400, KeyPoints: []string{"a"}}, outline[0])
	assert.Equal(t, models.SectionSpec{Index: 2, Title: "Conclusion", TargetWords: 500}, outline[1])

	_, err = orchestrator.ParseOutline("no json here", 1000)
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
	_, err = orchestrator.ParseOutline(`[{"title":""}]`, 1000)
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
	_, err = orchestrator.ParseOutline(`[{"title": 5}]`, 1000)
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
}

func TestAssembleContent(t *testing.T) {
	got := orchestrator.AssembleContent([]*models.Section{
		{Index: 1, Title: "Intro", Content: "Hello.\n"},
		{Index: 2, Title: "End", Content: "Bye."},
	})
	assert.Equal(t, "## Intro\n\nHello.\n\n## End\n\nBye.", got)
	assert.Equal(t, "", orchestrator.AssembleContent(nil))
}
