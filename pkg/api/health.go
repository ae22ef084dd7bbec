package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check probes one dependency and returns nil when it is usable
type Check func(ctx context.Context) error

// ComponentHealth is the result of one check
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Health is the body of the readiness endpoint
type Health struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Components []ComponentHealth `json:"components,omitempty"`
}

type namedCheck struct {
	name  string
	check Check
}

// HealthChecker runs the registered dependency checks
type HealthChecker struct {
	mu        sync.RWMutex
	version   string
	startTime time.Time
	timeout   time.Duration
	checks    []namedCheck
}

// NewHealthChecker creates a health checker. Each check is bounded by timeout.
func NewHealthChecker(version string, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// AddCheck registers a dependency check
func (hc *HealthChecker) AddCheck(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, namedCheck{name: name, check: check})
}

// GetHealth runs every check. Any failing check makes the service unhealthy.
func (hc *HealthChecker) GetHealth(ctx context.Context) Health {
	hc.mu.RLock()
	checks := make([]namedCheck, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	health := Health{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(hc.startTime).Round(time.Second).String(),
		Version:    hc.version,
		Components: make([]ComponentHealth, 0, len(checks)),
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
		start := time.Now()
		err := c.check(checkCtx)
		cancel()

		component := ComponentHealth{
			Name:    c.name,
			Status:  "healthy",
			Latency: time.Since(start).String(),
		}
		if err != nil {
			component.Status = "unhealthy"
			component.Message = err.Error()
			health.Status = "unhealthy"
		}
		health.Components = append(health.Components, component)
	}

	return health
}

// LivenessHandler returns 200 while the process is alive
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns 200 when every dependency check passes, 503 otherwise
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.GetHealth(r.Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
