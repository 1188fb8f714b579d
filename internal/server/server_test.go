package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tobysauze/BookByte-sub001/internal/store"
)

// fakeRunner advances jobs by flipping them to done, or fails.
type fakeRunner struct {
	err      error
	lastRef  *store.SourceRef
	lastID   string
	failJob  bool
	memStore *store.MemoryStore
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, ref *store.SourceRef) (*store.Job, error) {
	f.lastID = jobID
	f.lastRef = ref

	job, err := f.memStore.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		if f.failJob {
			status := store.StatusError
			msg := f.err.Error()
			job, _ = f.memStore.Update(ctx, jobID, store.Update{Status: &status, ErrorMessage: &msg})
			return job, f.err
		}
		return nil, f.err
	}
	status := store.StatusDone
	return f.memStore.Update(ctx, jobID, store.Update{Status: &status})
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *fakeRunner) {
	t.Helper()
	st := store.NewMemoryStore()
	runner := &fakeRunner{memStore: st}
	srv, err := New(Config{
		Secret:       "test-secret",
		DefaultModel: "deepseek-chat",
		Store:        st,
		Runner:       runner,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, st, runner
}

func doRequest(t *testing.T, srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestCreateJob(t *testing.T) {
	t.Run("creates queued job with default model", func(t *testing.T) {
		srv, st, _ := newTestServer(t)
		w := doRequest(t, srv, "POST", "/api/jobs", `{"source_url":"https://example.com/book.pdf"}`, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("unexpected status: %d (%s)", w.Code, w.Body.String())
		}

		var resp JobResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "queued" {
			t.Errorf("unexpected status: %s", resp.Status)
		}
		if resp.Model != "deepseek-chat" {
			t.Errorf("default model not applied: %s", resp.Model)
		}

		job, err := st.Get(context.Background(), resp.ID)
		if err != nil {
			t.Fatalf("job not persisted: %v", err)
		}
		if job.Source.URL != "https://example.com/book.pdf" {
			t.Errorf("source not persisted: %+v", job.Source)
		}
	})

	t.Run("rejects missing source", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		w := doRequest(t, srv, "POST", "/api/jobs", `{"model":"x"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("unexpected status: %d", w.Code)
		}
	})
}

func TestGetJob(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.Create(context.Background(), &store.Job{
		ID:                "job-1",
		Status:            store.StatusQueued,
		AccumulatedOutput: "hello world",
	})

	t.Run("found", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/jobs/job-1", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", w.Code)
		}
		var resp JobResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.OutputChars != len("hello world") {
			t.Errorf("output length not reported: %+v", resp)
		}
	})

	t.Run("not found", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/jobs/missing", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("unexpected status: %d", w.Code)
		}
	})
}

func TestProcessJob(t *testing.T) {
	secretHdr := map[string]string{"X-BookByte-Secret": "test-secret"}

	t.Run("rejects missing or wrong secret", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		for name, hdr := range map[string]map[string]string{
			"missing": nil,
			"wrong":   {"X-BookByte-Secret": "nope"},
		} {
			w := doRequest(t, srv, "POST", "/api/jobs/job-1/process", "", hdr)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s secret: expected 401, got %d", name, w.Code)
			}
		}
	})

	t.Run("advances the job", func(t *testing.T) {
		srv, st, runner := newTestServer(t)
		st.Create(context.Background(), &store.Job{ID: "job-1", Status: store.StatusQueued})

		w := doRequest(t, srv, "POST", "/api/jobs/job-1/process", "", secretHdr)
		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d (%s)", w.Code, w.Body.String())
		}
		var resp JobResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "done" {
			t.Errorf("unexpected status: %s", resp.Status)
		}
		if runner.lastID != "job-1" {
			t.Errorf("runner got wrong id: %s", runner.lastID)
		}
	})

	t.Run("passes the first-time source reference through", func(t *testing.T) {
		srv, st, runner := newTestServer(t)
		st.Create(context.Background(), &store.Job{ID: "job-1", Status: store.StatusQueued})

		body := `{"source_file_id":"drive-123","source_access_token":"tok"}`
		w := doRequest(t, srv, "POST", "/api/jobs/job-1/process", body, secretHdr)
		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", w.Code)
		}
		if runner.lastRef == nil || runner.lastRef.FileID != "drive-123" {
			t.Errorf("source reference not passed: %+v", runner.lastRef)
		}
	})

	t.Run("reads the source reference from a chunked body", func(t *testing.T) {
		srv, st, runner := newTestServer(t)
		st.Create(context.Background(), &store.Job{ID: "job-1", Status: store.StatusQueued})

		body := `{"source_file_id":"drive-456","source_access_token":"tok"}`
		req := httptest.NewRequest("POST", "/api/jobs/job-1/process", strings.NewReader(body))
		req.Header.Set("X-BookByte-Secret", "test-secret")
		// Transfer-Encoding: chunked leaves the length unknown.
		req.ContentLength = -1
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d (%s)", w.Code, w.Body.String())
		}
		if runner.lastRef == nil || runner.lastRef.FileID != "drive-456" {
			t.Errorf("source reference not passed: %+v", runner.lastRef)
		}
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		srv, st, _ := newTestServer(t)
		st.Create(context.Background(), &store.Job{ID: "job-1", Status: store.StatusQueued})

		w := doRequest(t, srv, "POST", "/api/jobs/job-1/process", `{"source_url":`, secretHdr)
		if w.Code != http.StatusBadRequest {
			t.Errorf("unexpected status: %d", w.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		w := doRequest(t, srv, "POST", "/api/jobs/missing/process", "", secretHdr)
		if w.Code != http.StatusNotFound {
			t.Errorf("unexpected status: %d", w.Code)
		}
	})

	t.Run("terminal failure surfaces the job error", func(t *testing.T) {
		srv, st, runner := newTestServer(t)
		st.Create(context.Background(), &store.Job{ID: "job-1", Status: store.StatusQueued})
		runner.err = errors.New("generation failed")
		runner.failJob = true

		w := doRequest(t, srv, "POST", "/api/jobs/job-1/process", "", secretHdr)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("unexpected status: %d", w.Code)
		}
		var resp JobResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "error" || resp.ErrorMessage == "" {
			t.Errorf("expected errored job payload, got %+v", resp)
		}
	})
}
