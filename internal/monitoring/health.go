// Package monitoring serves Prometheus metrics and the health of compiled
// graphs and their executions over HTTP.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/logger"
)

const (
	maxRuns   = 1000
	maxAlerts = 100

	// slowRun raises a warning alert.
	slowRun = 5 * time.Second
)

type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Graphs      []GraphInfo     `json:"graphs"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// GraphInfo describes one compiled graph.
type GraphInfo struct {
	Name         string `json:"name"`
	Operations   int    `json:"operations"`
	PlannedBytes int    `json:"planned_bytes"`
}

type PerformanceInfo struct {
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	ErrorRate    float64   `json:"error_rate"`
	LastRun      time.Time `json:"last_run"`
}

type Alert struct {
	Level     string    `json:"level"`     // info, warning, error, critical
	Component string    `json:"component"` // executor, planner, system
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

type runPoint struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// HealthMonitor collects executor runs as an exec.Observer and reports
// them. One monitor may observe many executors.
type HealthMonitor struct {
	exec.NopObserver

	startTime time.Time
	server    *http.Server

	mu      sync.RWMutex
	started map[*exec.LinearExecutor]time.Time
	graphs  []GraphInfo
	runs    []runPoint
	alerts  []Alert
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		started:   make(map[*exec.LinearExecutor]time.Time),
	}
}

// Handler serves /healthz, /status, /metrics and the alert admin endpoints.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)
	return mux
}

// Start serves Handler on addr until Stop. It returns nil after a clean
// shutdown.
func (hm *HealthMonitor) Start(addr string) error {
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Info("health monitor starting", "addr", addr)
	if err := hm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// RegisterGraph lists a compiled graph on /status.
func (hm *HealthMonitor) RegisterGraph(info GraphInfo) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.graphs = append(hm.graphs, info)
}

func (hm *HealthMonitor) JobBegin(e *exec.LinearExecutor) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.started[e] = time.Now()
}

func (hm *HealthMonitor) JobEnd(e *exec.LinearExecutor, err error) {
	hm.mu.Lock()
	start, ok := hm.started[e]
	delete(hm.started, e)
	hm.mu.Unlock()
	if !ok {
		return
	}
	hm.RecordRun(time.Since(start), err)
}

// RecordRun adds one execution to the performance history.
func (hm *HealthMonitor) RecordRun(duration time.Duration, err error) {
	hm.mu.Lock()
	hm.runs = append(hm.runs, runPoint{at: time.Now(), duration: duration, failed: err != nil})
	if len(hm.runs) > maxRuns {
		hm.runs = hm.runs[1:]
	}
	hm.mu.Unlock()

	if err != nil {
		hm.AddAlert("error", "executor", fmt.Sprintf("execution failed: %v", err))
	} else if duration > slowRun {
		hm.AddAlert("warning", "executor", fmt.Sprintf("slow execution: %s", duration))
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
	logger.Log.Warn("alert", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) ResolveAlert(index int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if index >= 0 && index < len(hm.alerts) {
		hm.alerts[index].Resolved = true
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hm.Status())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	alerts := slices.Clone(hm.alerts)
	hm.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alerts)
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// Status is critical with an unresolved critical alert, degraded with an
// unresolved error alert and healthy otherwise.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, a := range hm.alerts {
		if a.Resolved {
			continue
		}
		if a.Level == "critical" {
			status = "critical"
			break
		}
		if a.Level == "error" {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(hm.startTime).String(),
		System:      systemInfo(),
		Graphs:      slices.Clone(hm.graphs),
		Performance: hm.performance(),
		Alerts:      slices.Clone(hm.alerts),
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

// performance requires hm.mu.
func (hm *HealthMonitor) performance() PerformanceInfo {
	if len(hm.runs) == 0 {
		return PerformanceInfo{}
	}
	var total time.Duration
	failures := 0
	latencies := make([]float64, len(hm.runs))
	for i, p := range hm.runs {
		total += p.duration
		latencies[i] = float64(p.duration.Nanoseconds()) / 1e6
		if p.failed {
			failures++
		}
	}
	slices.Sort(latencies)
	p95 := min(int(float64(len(latencies))*0.95), len(latencies)-1)

	return PerformanceInfo{
		Runs:         len(hm.runs),
		Failures:     failures,
		AvgLatencyMs: float64(total.Nanoseconds()) / float64(len(hm.runs)) / 1e6,
		P95LatencyMs: latencies[p95],
		ErrorRate:    float64(failures) / float64(len(hm.runs)),
		LastRun:      hm.runs[len(hm.runs)-1].at,
	}
}
