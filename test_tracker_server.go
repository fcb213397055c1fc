package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Standalone mock tracking server for local development:
//
//	go run test_tracker_server.go -port 8090
//
// Point tracker.endpoint (or W2VDID_TRACKER_ENDPOINT) at it and watch the
// metric stream in the console.

type runRecord struct {
	ID       string            `json:"id"`
	Project  string            `json:"project"`
	Entity   string            `json:"entity,omitempty"`
	Name     string            `json:"name"`
	Config   map[string]string `json:"config,omitempty"`
	Started  time.Time         `json:"started"`
	Finished *time.Time        `json:"finished,omitempty"`
	Metrics  int               `json:"metrics_logged"`
}

type trackerServer struct {
	mu     sync.Mutex
	nextID int
	runs   map[string]*runRecord
}

func newTrackerServer() *trackerServer {
	return &trackerServer{runs: make(map[string]*runRecord)}
}

func (s *trackerServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var run runRecord
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		http.Error(w, "Invalid run payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	run.ID = fmt.Sprintf("run-%d", s.nextID)
	run.Started = time.Now()
	s.runs[run.ID] = &run
	s.mu.Unlock()

	log.Printf("📊 RUN STARTED: %s project=%s name=%s config=%v", run.ID, run.Project, run.Name, run.Config)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"run_id": run.ID})
}

func (s *trackerServer) handleRunOps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path shape: /runs/{id}/{op}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	runID, op := parts[1], parts[2]

	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Unknown run", http.StatusNotFound)
		return
	}

	switch op {
	case "metrics":
		var payload struct {
			Step    int64              `json:"step"`
			Metrics map[string]float64 `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid metrics payload", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		run.Metrics += len(payload.Metrics)
		s.mu.Unlock()
		log.Printf("  📈 %s step=%d %v", runID, payload.Step, payload.Metrics)

	case "summary":
		var payload struct {
			Summary map[string]float64 `json:"summary"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid summary payload", http.StatusBadRequest)
			return
		}
		log.Printf("  🏁 %s summary %v", runID, payload.Summary)

	case "finish":
		now := time.Now()
		s.mu.Lock()
		run.Finished = &now
		s.mu.Unlock()
		log.Printf("✅ RUN FINISHED: %s after %s (%d metrics logged)", runID, now.Sub(run.Started).Round(time.Second), run.Metrics)

	default:
		http.NotFound(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *trackerServer) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runs := make([]*runRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func main() {
	port := flag.Int("port", 8090, "Port to listen on")
	flag.Parse()

	server := newTrackerServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", server.handleRuns)
	mux.HandleFunc("/runs/", server.handleRunOps)
	mux.HandleFunc("/list", server.handleList)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("🚀 Mock tracking server listening on %s", addr)
	log.Printf("   POST /runs, /runs/{id}/metrics, /runs/{id}/summary, /runs/{id}/finish")
	log.Printf("   GET  /list")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
