// Package health provides liveness and readiness checks for the gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response is the body of a readiness check.
type Response struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
}

// Checker answers health probes against registered dependencies.
type Checker struct {
	pingers   map[string]Pinger
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewChecker creates a checker with no dependencies registered.
func NewChecker(version string) *Checker {
	return &Checker{
		pingers:   make(map[string]Pinger),
		version:   version,
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// Register adds a named dependency to the readiness check.
func (c *Checker) Register(name string, p Pinger) {
	c.pingers[name] = p
}

// Liveness reports that the process is up. It never touches dependencies.
func (c *Checker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Status:  "ok",
		Version: c.version,
		Uptime:  time.Since(c.startTime).Round(time.Second).String(),
	})
}

// Readiness pings every registered dependency. Any failure makes the whole
// check unavailable.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	status := http.StatusOK
	resp := Response{
		Status:     "ok",
		Components: make(map[string]string, len(c.pingers)),
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}

	for name, p := range c.pingers {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
