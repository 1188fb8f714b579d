package retryhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testPolicy(attempts uint) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, Deadline: 5 * time.Second}
}

func TestClient_Do(t *testing.T) {
	t.Run("retries transient errors then succeeds", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("payload"))
		}))
		defer server.Close()

		c := New(nil)
		body, err := c.Do(context.Background(), "test op", testPolicy(3), Request{
			Method: http.MethodGet,
			URL:    server.URL,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != "payload" {
			t.Errorf("unexpected body: %q", body)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
	})

	t.Run("does not retry non-recoverable status", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := New(nil)
		_, err := c.Do(context.Background(), "generation API (primary host)", testPolicy(3), Request{
			Method: http.MethodGet,
			URL:    server.URL,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("expected 1 attempt, got %d", got)
		}

		var opErr *OpError
		if !errors.As(err, &opErr) {
			t.Fatalf("expected *OpError, got %T", err)
		}
		if opErr.Op != "generation API (primary host)" {
			t.Errorf("unexpected op label: %q", opErr.Op)
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected wrapped 401 StatusError, got %v", err)
		}
	})

	t.Run("exhausted attempts carries op label and last error", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := New(nil)
		_, err := c.Do(context.Background(), "download source document", testPolicy(3), Request{
			Method: http.MethodGet,
			URL:    server.URL,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
		if !strings.Contains(err.Error(), "download source document") {
			t.Errorf("error should name the operation: %v", err)
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
			t.Errorf("expected wrapped 502 StatusError, got %v", err)
		}
	})

	t.Run("deadline aborts a hanging call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer server.Close()

		c := New(nil)
		pol := Policy{Attempts: 3, BaseDelay: time.Millisecond, Deadline: 50 * time.Millisecond}
		start := time.Now()
		_, err := c.Do(context.Background(), "slow op", pol, Request{
			Method: http.MethodGet,
			URL:    server.URL,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("deadline not enforced, took %v", elapsed)
		}
	})

	t.Run("custom retry status", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		c := New(nil)
		_, err := c.Do(context.Background(), "test op", testPolicy(2), Request{
			Method:      http.MethodGet,
			URL:         server.URL,
			RetryStatus: func(status int) bool { return status == http.StatusConflict },
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("expected 2 attempts, got %d", got)
		}
	})
}

func TestDefaultRetryStatus(t *testing.T) {
	cases := []struct {
		status int
		retry  bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		if got := defaultRetryStatus(tc.status); got != tc.retry {
			t.Errorf("status %d: expected retry=%v, got %v", tc.status, tc.retry, got)
		}
	}
}
