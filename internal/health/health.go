// Package health exposes liveness and readiness endpoints backed by
// per-dependency checkers. Liveness always answers; readiness fails until
// every critical dependency check passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one dependency check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one dependency's reported state.
type CheckResult struct {
	Component string `json:"component"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Critical  bool   `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	// Critical failures make the whole service not ready.
	Critical() bool
}

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: 5 * time.Second, logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// Check probes every dependency and reports whether all critical ones passed.
func (m *Manager) Check(ctx context.Context) ([]CheckResult, bool) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make([]CheckResult, 0, len(checkers))
	ready := true
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := c.Check(cctx)
		cancel()

		res := CheckResult{
			Component: c.Name(),
			Status:    StatusHealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Critical:  c.Critical(),
		}
		if err != nil {
			res.Status = StatusUnhealthy
			res.Error = err.Error()
			if c.Critical() {
				ready = false
			}
			m.logger.Warn("Health check failed",
				zap.String("component", c.Name()), zap.Error(err))
		}
		results = append(results, res)
	}
	return results, ready
}

// RegisterRoutes mounts /health (liveness) and /readyz (readiness).
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results, ready := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ready":  ready,
			"checks": results,
		})
	})
}
