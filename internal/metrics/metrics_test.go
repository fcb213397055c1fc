package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Synoon/w2v-did/internal/config"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("Failed to read scrape body: %v", err)
	}
	return string(body)
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.RecordStep(8, 1.25, 0.1)
	m.RecordStep(8, 0.75, 0.1)
	m.RecordEpoch(3, 0.0001)
	m.RecordEpochCompleted()
	m.RecordBatchLoaded(48000)
	m.RecordDecode(0.02, false)
	m.RecordDecode(0.02, true)
	m.RecordEval(0.9, 0.85, 2.0)
	m.RecordCheckpoint(0.5)
	m.RecordTrackerRequest(false)
	m.RecordTrackerRequest(true)

	out := scrape(t, m)

	checks := map[string]string{
		"steps counted":        "w2vdid_train_steps_total 2",
		"samples counted":      "w2vdid_train_samples_total 16",
		"last loss":            "w2vdid_train_batch_loss 0.75",
		"learning rate":        "w2vdid_train_learning_rate 0.0001",
		"current epoch":        "w2vdid_train_current_epoch 3",
		"decode failures":      "w2vdid_loader_decode_failures_total 1",
		"eval accuracy":        "w2vdid_eval_accuracy 0.9",
		"eval macro f1":        "w2vdid_eval_macro_f1 0.85",
		"checkpoints":          "w2vdid_checkpoints_saved_total 1",
		"tracker failures":     "w2vdid_tracker_failures_total 1",
	}
	for name, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("%s: scrape missing %q", name, want)
		}
	}
}

func TestNewMetricsIsRepeatable(t *testing.T) {
	// Private registries must not collide
	_ = NewMetrics()
	_ = NewMetrics()
}

func TestServerEndpoints(t *testing.T) {
	m := NewMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	statusFn := func() any {
		return map[string]int{"epoch": 2}
	}
	s := NewServer(config.MetricsConfig{Address: "127.0.0.1", Port: 0}, logger, m, statusFn)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode health response: %v", err)
		}
		if body["status"] != "healthy" {
			t.Errorf("Expected healthy status, got %v", body["status"])
		}
	})

	t.Run("status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode status response: %v", err)
		}
		if body["training"] == nil {
			t.Errorf("Expected training status in response")
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rec.Code)
		}
	})
}
