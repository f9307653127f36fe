package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portfolio-pipeline/internal/cache"
	"portfolio-pipeline/internal/extract"
	"portfolio-pipeline/internal/generate"
	"portfolio-pipeline/internal/models"
	"portfolio-pipeline/internal/quality"
	"portfolio-pipeline/internal/ratelimit"
	"portfolio-pipeline/internal/store"
)

const testResume = `Jane Doe
Senior Backend Engineer

Summary:
Backend engineer with 8 years of experience.

Skills:
Go, Postgres, Kubernetes

Projects:
Ledger Service
- Double-entry bookkeeping service handling thousands of writes per second.
- Tech: Go, Postgres
`

func goodTagline() string {
	return "Building reliable backend systems for modern product teams every day"
}

func goodBio() string {
	var b strings.Builder
	b.WriteString("I build backend systems for payment platforms. ")
	for i := 0; i < 14; i++ {
		b.WriteString(fmt.Sprintf("My work on area %d taught me lessons about scale reliability and careful operational design choices. ", i))
	}
	return b.String()
}

func goodProjectDesc() string {
	words := make([]string, 0, 48)
	for i := 0; i < 48; i++ {
		words = append(words, fmt.Sprintf("detail%d", i))
	}
	return "Built a double-entry ledger service using Go and Postgres " + strings.Join(words, " ")
}

// routingProvider answers by prompt kind and counts calls per kind.
type routingProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	tagline  string
	bio      string
	project  string
	fail     error
	failKind string
}

func newRoutingProvider() *routingProvider {
	return &routingProvider{
		calls:   make(map[string]int),
		tagline: goodTagline(),
		bio:     goodBio(),
		project: goodProjectDesc(),
	}
}

func (p *routingProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := "project"
	switch {
	case strings.Contains(prompt, "hero tagline"):
		kind = "hero"
	case strings.Contains(prompt, "professional biography"):
		kind = "bio"
	}
	p.mu.Lock()
	p.calls[kind]++
	p.mu.Unlock()
	if p.fail != nil && (p.failKind == "" || p.failKind == kind) {
		return "", p.fail
	}
	switch kind {
	case "hero":
		return p.tagline, nil
	case "bio":
		return p.bio, nil
	default:
		return p.project, nil
	}
}

func (p *routingProvider) callCount(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

// recordingStore wraps Memory and captures progress checkpoints in order.
type recordingStore struct {
	*store.Memory
	mu          sync.Mutex
	checkpoints []int
}

func (r *recordingStore) SetProgress(ctx context.Context, id, status, stage string, progress int) error {
	r.mu.Lock()
	r.checkpoints = append(r.checkpoints, progress)
	r.mu.Unlock()
	return r.Memory.SetProgress(ctx, id, status, stage, progress)
}

type runnerFixture struct {
	runner   *Runner
	store    *recordingStore
	provider *routingProvider
	jobID    string
}

func newRunnerFixture(t *testing.T, opts Options) *runnerFixture {
	t.Helper()
	st := &recordingStore{Memory: store.NewMemory()}
	provider := newRoutingProvider()

	gate := quality.NewGate()
	core := generate.New(
		provider,
		ratelimit.NewSlidingWindow(100, time.Second),
		cache.NewMemory(time.Minute),
		gate,
		generate.Options{MaxRetries: 3, Timeout: time.Second, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		zerolog.Nop(),
	)
	runner := NewRunner(st, extract.New(nil, extract.Options{}), core, gate, &memorySink{}, opts, zerolog.Nop())

	job, err := st.CreateJob(context.Background(), models.Job{ID: uuid.New().String(), OriginalFilename: "resume.txt", FileType: "text/plain"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return &runnerFixture{runner: runner, store: st, provider: provider, jobID: job.ID}
}

// memorySink captures the saved portfolio.
type memorySink struct {
	mu    sync.Mutex
	saved map[string]*models.Portfolio
	err   error
}

func (m *memorySink) Save(_ context.Context, id string, p *models.Portfolio) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]*models.Portfolio)
	}
	m.saved[id] = p
	return "mem://" + id, nil
}

func textDoc() Document {
	return Document{Data: []byte(testResume), ContentType: "text/plain"}
}

func TestRunCompletesJob(t *testing.T) {
	f := newRunnerFixture(t, Options{})

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, err := f.store.GetJob(context.Background(), f.jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.StatusCompleted {
		t.Fatalf("status = %s, error = %s", job.Status, job.ErrorMessage)
	}
	if job.Progress != models.ProgressCompleted {
		t.Errorf("progress = %d", job.Progress)
	}
	if job.PortfolioID == nil || *job.PortfolioID == "" {
		t.Error("portfolio id not recorded")
	}
	if job.StartedAt == nil || job.CompletedAt == nil || job.DurationSeconds == nil {
		t.Errorf("timing fields: %+v", job)
	}
}

func TestRunSavesValidatedPortfolio(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	sink := &memorySink{}
	f.runner.sink = sink

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	p := sink.saved[*job.PortfolioID]
	if p == nil {
		t.Fatal("portfolio not saved through sink")
	}
	if p.Hero.Name != "Jane Doe" {
		t.Errorf("hero name = %q", p.Hero.Name)
	}
	if p.Validation == nil {
		t.Fatal("validation report not embedded")
	}
	if !p.Validation.Passed {
		t.Errorf("expected passing report, got %+v", p.Validation)
	}
	if len(p.Projects) != 1 || !p.Projects[0].Enhanced {
		t.Errorf("projects: %+v", p.Projects)
	}
}

func TestRunExtractionFailure(t *testing.T) {
	f := newRunnerFixture(t, Options{})

	err := f.runner.Run(context.Background(), f.jobID, Document{Data: []byte{0x50}, ContentType: "application/zip"})
	if err == nil {
		t.Fatal("expected failure")
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.CurrentStage != models.StageExtraction {
		t.Errorf("stage = %s", job.CurrentStage)
	}
	if job.ErrorKind != string(models.ErrExtraction) {
		t.Errorf("kind = %s", job.ErrorKind)
	}
	if f.provider.callCount("hero") != 0 {
		t.Error("generation ran after extraction failure")
	}
}

func TestRunHeroRejectionFailsJob(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	f.provider.tagline = "[Your Name] here"

	err := f.runner.Run(context.Background(), f.jobID, textDoc())
	if err == nil {
		t.Fatal("expected failure")
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.ErrorKind != string(models.ErrValidation) {
		t.Errorf("kind = %s", job.ErrorKind)
	}
	if job.CurrentStage != models.StageGeneration {
		t.Errorf("stage = %s", job.CurrentStage)
	}
	if f.provider.callCount("hero") != 3 {
		t.Errorf("hero attempts = %d, want full retry budget", f.provider.callCount("hero"))
	}
}

func TestRunProjectRejectionStillCompletes(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	sink := &memorySink{}
	f.runner.sink = sink
	f.provider.project = "Enhanced text with [TODO] markers left inside"

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	p := sink.saved[*job.PortfolioID]
	if p.Projects[0].Enhanced {
		t.Error("rejected enhancement should fall back to the original description")
	}
	if !strings.Contains(p.Projects[0].Description, "Double-entry") {
		t.Errorf("fallback description = %q", p.Projects[0].Description)
	}
}

func TestRunStrictValidationFails(t *testing.T) {
	f := newRunnerFixture(t, Options{StrictValidation: true})
	// Bio stays below its pass bar, is soft-accepted, and with the short
	// resume drags the aggregate under the acceptance threshold.
	f.provider.bio = "Written by [someone] else entirely and far too short overall."
	f.provider.project = "Enhanced text with [TODO] markers left inside"

	err := f.runner.Run(context.Background(), f.jobID, textDoc())
	if err == nil {
		t.Fatal("expected failure")
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.ErrorKind != string(models.ErrValidation) || job.CurrentStage != models.StageValidation {
		t.Errorf("kind=%s stage=%s", job.ErrorKind, job.CurrentStage)
	}
}

func TestRunSoftValidationCompletesLowScore(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	sink := &memorySink{}
	f.runner.sink = sink
	f.provider.bio = "Written by [someone] else entirely and far too short overall."
	f.provider.project = "Enhanced text with [TODO] markers left inside"

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	p := sink.saved[*job.PortfolioID]
	if p.Validation == nil || p.Validation.Passed {
		t.Errorf("report should record the failing score: %+v", p.Validation)
	}
}

func TestRunProgressMonotonic(t *testing.T) {
	f := newRunnerFixture(t, Options{})

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	prev := -1
	for _, p := range f.store.checkpoints {
		if p <= prev {
			t.Fatalf("progress not monotonic: %v", f.store.checkpoints)
		}
		prev = p
	}
	want := []int{models.ProgressExtracting, models.ProgressGenerating, models.ProgressValidating, models.ProgressSaving}
	if len(f.store.checkpoints) != len(want) {
		t.Fatalf("checkpoints = %v, want %v", f.store.checkpoints, want)
	}
	for i, p := range want {
		if f.store.checkpoints[i] != p {
			t.Fatalf("checkpoints = %v, want %v", f.store.checkpoints, want)
		}
	}
}

func TestRunFailedJobNeverReachesFull(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	f.provider.tagline = "[Your Name] here"

	_ = f.runner.Run(context.Background(), f.jobID, textDoc())

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Progress == models.ProgressCompleted {
		t.Error("failed job should not report 100 percent")
	}
}

func TestRunSinkFailureIsPersistenceError(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	f.runner.sink = &memorySink{err: errors.New("disk full")}

	err := f.runner.Run(context.Background(), f.jobID, textDoc())
	if err == nil {
		t.Fatal("expected failure")
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.ErrorKind != string(models.ErrPersistence) || job.CurrentStage != models.StageSaving {
		t.Errorf("kind=%s stage=%s", job.ErrorKind, job.CurrentStage)
	}
}

func TestRunCancelledContextLeavesNoFailure(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.runner.Run(ctx, f.jobID, textDoc())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status == models.StatusFailed {
		t.Error("cancelled run must not be recorded as failed")
	}
}

func TestRunLeavesCancelledJobUntouched(t *testing.T) {
	f := newRunnerFixture(t, Options{})
	if err := f.store.MarkCancelled(context.Background(), f.jobID); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	if err := f.runner.Run(context.Background(), f.jobID, textDoc()); err != nil {
		t.Fatalf("run against a finalized job must be a no-op, got %v", err)
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusCancelled {
		t.Errorf("cancelled job mutated: status = %s", job.Status)
	}
	if job.PortfolioID != nil {
		t.Error("cancelled job must not gain a portfolio reference")
	}
}

func TestRunTimeoutBecomesTimeoutFailure(t *testing.T) {
	f := newRunnerFixture(t, Options{JobTimeout: 30 * time.Millisecond})
	// Rebuild the core with a provider that outlives the job budget.
	f.runner.core = generate.New(
		&slowProvider{delay: 200 * time.Millisecond},
		ratelimit.NewSlidingWindow(100, time.Second),
		cache.NewMemory(time.Minute),
		quality.NewGate(),
		generate.Options{MaxRetries: 1, Timeout: time.Second, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		zerolog.Nop(),
	)

	err := f.runner.Run(context.Background(), f.jobID, textDoc())
	if err == nil {
		t.Fatal("expected failure")
	}

	job, _ := f.store.GetJob(context.Background(), f.jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.ErrorKind != string(models.ErrTimeout) {
		t.Errorf("kind = %s", job.ErrorKind)
	}
}

type slowProvider struct {
	delay time.Duration
}

func (s *slowProvider) Generate(ctx context.Context, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return goodTagline(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
