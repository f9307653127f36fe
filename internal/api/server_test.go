package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"portfolio-pipeline/internal/cache"
	"portfolio-pipeline/internal/config"
	"portfolio-pipeline/internal/extract"
	"portfolio-pipeline/internal/generate"
	"portfolio-pipeline/internal/models"
	"portfolio-pipeline/internal/pipeline"
	"portfolio-pipeline/internal/quality"
	"portfolio-pipeline/internal/ratelimit"
	"portfolio-pipeline/internal/store"
)

const testResume = `Jane Doe
Senior Backend Engineer

Skills:
Go, Postgres
`

// scriptedProvider returns canned content per prompt kind; an optional
// hold channel keeps generation in flight until released.
type scriptedProvider struct {
	hold chan struct{}
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if strings.Contains(prompt, "hero tagline") {
		return "Building reliable backend systems for modern product teams every day", nil
	}
	var b strings.Builder
	b.WriteString("I build backend systems for payment platforms. ")
	for i := 0; i < 14; i++ {
		fmt.Fprintf(&b, "My work on area %d taught me lessons about scale reliability and careful operational design choices. ", i)
	}
	return b.String(), nil
}

type sinkStub struct{}

func (sinkStub) Save(_ context.Context, id string, _ *models.Portfolio) (string, error) {
	return "mem://" + id, nil
}

func newTestServer(t *testing.T, provider generate.Provider) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	core := generate.New(
		provider,
		ratelimit.NewSlidingWindow(100, time.Second),
		cache.NewMemory(time.Minute),
		quality.NewGate(),
		generate.Options{MaxRetries: 2, Timeout: time.Second, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		zerolog.Nop(),
	)
	runner := pipeline.NewRunner(st, extract.New(nil, extract.Options{}), core, quality.NewGate(), sinkStub{}, pipeline.Options{}, zerolog.Nop())

	cfg := config.Config{MaxUploadBytes: 1 << 20, MaxConcurrentJobs: 2}
	return New(cfg, st, runner, zerolog.Nop()), st
}

func multipartUpload(t *testing.T, filename, contentType, body string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte(body)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, router http.Handler, body string) models.StatusResponse {
	t.Helper()
	buf, contentType := multipartUpload(t, "resume.txt", "text/plain", body)
	req := httptest.NewRequest(http.MethodPost, "/jobs", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func waitTerminal(t *testing.T, st *store.Memory, id string) models.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if models.Terminal(job.Status) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return models.Job{}
}

func TestUploadRunsJobToCompletion(t *testing.T) {
	srv, st := newTestServer(t, &scriptedProvider{})
	router := srv.Router()

	resp := postUpload(t, router, testResume)
	if resp.JobID == "" || resp.Status != models.StatusPending {
		t.Fatalf("upload response: %+v", resp)
	}

	job := waitTerminal(t, st, resp.JobID)
	if job.Status != models.StatusCompleted {
		t.Fatalf("status = %s, error = %s", job.Status, job.ErrorMessage)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+resp.JobID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != models.StatusCompleted || got.Progress != models.ProgressCompleted {
		t.Errorf("read model: %+v", got)
	}
	if got.PortfolioID == nil {
		t.Error("portfolio id missing from completed read model")
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})
	buf, contentType := multipartUpload(t, "empty.txt", "text/plain", "")
	req := httptest.NewRequest(http.MethodPost, "/jobs", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})
	for _, path := range []string{"/jobs/nope", "/jobs/nope/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestStatusLightVariant(t *testing.T) {
	srv, st := newTestServer(t, &scriptedProvider{})
	router := srv.Router()

	resp := postUpload(t, router, testResume)
	waitTerminal(t, st, resp.JobID)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+resp.JobID+"/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"job_id", "status", "progress_percentage", "current_stage"} {
		if _, ok := got[key]; !ok {
			t.Errorf("light status missing %q: %v", key, got)
		}
	}
	if _, ok := got["error"]; ok {
		t.Error("light status must not carry the error block")
	}
}

func TestCancelRunningJob(t *testing.T) {
	hold := make(chan struct{})
	srv, st := newTestServer(t, &scriptedProvider{hold: hold})
	router := srv.Router()

	resp := postUpload(t, router, testResume)

	// Wait until the job is actually in flight before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for {
		job, _ := st.GetJob(context.Background(), resp.JobID)
		if job.Status == models.StatusGenerating {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached generation")
		}
		time.Sleep(2 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+resp.JobID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}

	job := waitTerminal(t, st, resp.JobID)
	if job.Status != models.StatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}
	close(hold)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	srv, st := newTestServer(t, &scriptedProvider{})
	router := srv.Router()

	resp := postUpload(t, router, testResume)
	waitTerminal(t, st, resp.JobID)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+resp.JobID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
