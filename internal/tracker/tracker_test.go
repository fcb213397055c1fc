package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var metricCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-42"})
	})
	mux.HandleFunc("/runs/run-42/metrics", func(w http.ResponseWriter, r *http.Request) {
		var payload metricsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		metricCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/runs/run-42/summary", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/runs/run-42/finish", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &metricCalls
}

func TestClientRoundTrip(t *testing.T) {
	server, metricCalls := newTestServer(t)

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "test-key", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx := context.Background()
	if err := client.Start(ctx, Run{Project: "w2v-did", Name: "test-run"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := client.LogMetrics(ctx, 10, map[string]float64{"train/loss": 1.5}); err != nil {
		t.Fatalf("LogMetrics failed: %v", err)
	}
	if err := client.LogSummary(ctx, map[string]float64{"eval/accuracy": 0.9}); err != nil {
		t.Fatalf("LogSummary failed: %v", err)
	}
	if err := client.Finish(ctx); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if metricCalls.Load() != 1 {
		t.Errorf("Expected 1 metric call, got %d", metricCalls.Load())
	}

	stats := client.GetStats()
	if stats.TotalRequests != 4 || stats.FailedRequests != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestClientRequiresStart(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost:0"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.LogMetrics(context.Background(), 1, nil); err == nil {
		t.Errorf("Expected error before Start")
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-42"})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, MaxRetries: 2, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.Start(context.Background(), Run{Project: "p", Name: "n"}); err != nil {
		t.Fatalf("Start should succeed after retry: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
	if stats := client.GetStats(); stats.TotalRetries != 1 {
		t.Errorf("Expected 1 recorded retry, got %d", stats.TotalRetries)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, MaxRetries: 3, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = client.Start(context.Background(), Run{Project: "p", Name: "n"})
	if err == nil {
		t.Fatalf("Expected error for HTTP 400")
	}
	if !strings.Contains(err.Error(), "HTTP error 400") {
		t.Errorf("Expected HTTP error in message, got %q", err.Error())
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected a single attempt for a 400, got %d", attempts.Load())
	}
}

func TestClientConfigValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Errorf("Expected error for empty endpoint")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	run := Run{Project: "w2v-did", Name: "local-run", Config: map[string]string{"epochs": "5"}}
	if err := store.Start(ctx, run); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := store.LogMetrics(ctx, 1, map[string]float64{"train/loss": 2.0}); err != nil {
		t.Fatalf("LogMetrics failed: %v", err)
	}
	if err := store.LogMetrics(ctx, 2, map[string]float64{"train/loss": 1.0}); err != nil {
		t.Fatalf("LogMetrics failed: %v", err)
	}
	if err := store.LogSummary(ctx, map[string]float64{"eval/accuracy": 0.75}); err != nil {
		t.Fatalf("LogSummary failed: %v", err)
	}

	history, err := store.MetricHistory(ctx, "train/loss")
	if err != nil {
		t.Fatalf("MetricHistory failed: %v", err)
	}
	if len(history) != 2 || history[1] != 2.0 || history[2] != 1.0 {
		t.Errorf("Unexpected history: %v", history)
	}

	if err := store.Finish(ctx); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestStoreRequiresStart(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.LogMetrics(context.Background(), 1, map[string]float64{"x": 1}); err == nil {
		t.Errorf("Expected error before Start")
	}
}

func TestMultiFansOut(t *testing.T) {
	server, metricCalls := newTestServer(t)
	client, err := NewClient(Config{Endpoint: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	multi := NewMulti(client, store)
	ctx := context.Background()

	if err := multi.Start(ctx, Run{Project: "p", Name: "n"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := multi.LogMetrics(ctx, 3, map[string]float64{"train/loss": 0.5}); err != nil {
		t.Fatalf("LogMetrics failed: %v", err)
	}
	if metricCalls.Load() != 1 {
		t.Errorf("Expected the HTTP sink to receive the metric")
	}
	history, err := store.MetricHistory(ctx, "train/loss")
	if err != nil || history[3] != 0.5 {
		t.Errorf("Expected the store sink to receive the metric, got %v (err=%v)", history, err)
	}
	if err := multi.Finish(ctx); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestNopTracker(t *testing.T) {
	var tr Tracker = Nop{}
	ctx := context.Background()
	if err := tr.Start(ctx, Run{}); err != nil {
		t.Errorf("Nop Start must not fail: %v", err)
	}
	if err := tr.LogMetrics(ctx, 0, nil); err != nil {
		t.Errorf("Nop LogMetrics must not fail: %v", err)
	}
	if err := tr.Finish(ctx); err != nil {
		t.Errorf("Nop Finish must not fail: %v", err)
	}
}
