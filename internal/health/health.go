// Package health tracks the reachability of the wallet's collaborators.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) error

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus Status            `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Checker runs registered component checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	checks     map[string]CheckFunc
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewChecker creates a checker; each probe is bounded by timeout.
func NewChecker(version string, timeout time.Duration) *Checker {
	return &Checker{
		components: make(map[string]*ComponentHealth),
		checks:     make(map[string]CheckFunc),
		startTime:  time.Now(),
		version:    version,
		timeout:    timeout,
	}
}

// Register adds a component probe.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	c.checks[name] = check
}

// Update overrides a component's status, e.g. when a background task reports failures.
func (c *Checker) Update(name string, status Status, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if comp, ok := c.components[name]; ok {
		comp.Status = status
		comp.Message = message
		comp.LastCheck = time.Now()
	}
}

// Check runs every probe and returns the resulting health.
func (c *Checker) Check(ctx context.Context) *SystemHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, comp := range c.components {
		check := c.checks[name]
		if check == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		err := check(probeCtx)
		cancel()

		comp.Latency = time.Since(start)
		comp.LastCheck = time.Now()
		if err != nil {
			comp.Status = Unhealthy
			comp.Message = err.Error()
		} else {
			comp.Status = Healthy
			comp.Message = "OK"
		}
	}
	return c.snapshot()
}

// Health returns the last known status without probing.
func (c *Checker) Health() *SystemHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

func (c *Checker) snapshot() *SystemHealth {
	overall := Healthy
	components := make([]ComponentHealth, 0, len(c.components))
	for _, comp := range c.components {
		switch {
		case comp.Status == Unhealthy:
			overall = Unhealthy
		case comp.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		components = append(components, *comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(c.startTime),
		Version:       c.version,
	}
}
