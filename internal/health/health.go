// Package health implements liveness, readiness and startup probes over the
// gateway's dependencies.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"infergate/internal/core"
	"infergate/internal/observability"
)

// Status is the outcome of a single check or of a whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	// StatusSkipped marks a dependency that is not configured. It never
	// lowers the overall status.
	StatusSkipped Status = "skipped"
)

var allStatuses = []Status{StatusHealthy, StatusDegraded, StatusUnhealthy, StatusSkipped}

// Probe kinds, reported in X-Health-Check.
const (
	KindLive    = "live"
	KindReady   = "ready"
	KindStartup = "startup"
)

// Check names.
const (
	CheckSelf             = "self"
	CheckSecretStore      = "secret_store"
	CheckCacheStore       = "cache_store"
	CheckInferenceBackend = "inference_backend"
)

// DefaultProbeTimeout bounds each dependency probe.
const DefaultProbeTimeout = 3 * time.Second

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Report is the body returned by the health endpoints.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Probe is one dependency. A nil Pinger reports the check as skipped.
type Probe struct {
	Name     string
	Critical bool
	Pinger   core.Pinger
	// Reason is shown when the probe is skipped
	Reason string
}

// Config holds Checker settings.
type Config struct {
	ProbeTimeout time.Duration
	// MinProbeInterval rate-limits dependency probing; within the interval
	// the previous report is returned. Zero probes on every call.
	MinProbeInterval time.Duration
	Version          string
}

// Checker runs dependency probes. It is safe for concurrent use.
type Checker struct {
	cfg     Config
	probes  []Probe
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	last *Report
}

// New creates a Checker over probes.
func New(cfg Config, probes ...Probe) *Checker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "local"
	}
	c := &Checker{
		cfg:    cfg,
		probes: probes,
		now:    time.Now,
	}
	if cfg.MinProbeInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinProbeInterval), 1)
	}
	return c
}

// Liveness reports the process itself. It never touches a dependency.
func (c *Checker) Liveness() Report {
	return Report{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC(),
		Version:   c.cfg.Version,
		Checks:    map[string]CheckResult{CheckSelf: {Status: StatusHealthy}},
	}
}

// Readiness probes every dependency concurrently.
func (c *Checker) Readiness(ctx context.Context) Report {
	return c.probeAll(ctx)
}

// Startup reports the same dependency view as Readiness.
func (c *Checker) Startup(ctx context.Context) Report {
	return c.probeAll(ctx)
}

// probeAll returns the previous report while the limiter denies a new run.
func (c *Checker) probeAll(ctx context.Context) Report {
	if c.limiter != nil && !c.limiter.Allow() {
		c.mu.Lock()
		last := c.last
		c.mu.Unlock()
		if last != nil {
			return last.clone()
		}
	}

	results := make([]CheckResult, len(c.probes))
	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Go(func() {
			results[i] = c.runProbe(ctx, p)
		})
	}
	wg.Wait()

	report := Report{
		Timestamp: c.now().UTC(),
		Version:   c.cfg.Version,
		Checks:    make(map[string]CheckResult, len(c.probes)),
	}
	criticalFailed, otherFailed := false, false
	for i, p := range c.probes {
		r := results[i]
		report.Checks[p.Name] = r
		recordMetrics(p.Name, r)

		if r.Status == StatusHealthy || r.Status == StatusSkipped {
			continue
		}
		if p.Critical {
			criticalFailed = true
		} else {
			otherFailed = true
		}
	}

	switch {
	case criticalFailed:
		report.Status = StatusUnhealthy
	case otherFailed:
		report.Status = StatusDegraded
	default:
		report.Status = StatusHealthy
	}

	c.mu.Lock()
	c.last = &report
	c.mu.Unlock()

	return report.clone()
}

// runProbe pings one dependency. A Pinger that ignores its context is
// abandoned at the timeout.
func (c *Checker) runProbe(ctx context.Context, p Probe) CheckResult {
	if p.Pinger == nil {
		msg := p.Reason
		if msg == "" {
			msg = "not configured"
		}
		return CheckResult{Status: StatusSkipped, Message: msg}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := c.now()
	done := make(chan error, 1)
	go func() {
		done <- p.Pinger.Ping(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("probe timed out after %s", c.cfg.ProbeTimeout)
	}
	latency := c.now().Sub(start)

	if err != nil {
		slog.Warn("dependency probe failed", "check", p.Name, "critical", p.Critical, "error", err)
		return CheckResult{
			Status:    StatusUnhealthy,
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy, LatencyMs: latency.Milliseconds()}
}

func recordMetrics(check string, r CheckResult) {
	for _, s := range allStatuses {
		v := 0.0
		if s == r.Status {
			v = 1
		}
		observability.HealthCheckStatus.WithLabelValues(check, string(s)).Set(v)
	}
	if r.Status != StatusSkipped {
		observability.HealthCheckLatency.WithLabelValues(check).Set(float64(r.LatencyMs) / 1000)
	}
}

func (r *Report) clone() Report {
	out := *r
	out.Checks = make(map[string]CheckResult, len(r.Checks))
	for k, v := range r.Checks {
		out.Checks[k] = v
	}
	return out
}

// HTTPStatus maps a report to the probe response code: only an unhealthy
// report fails the probe.
func (r Report) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return 503
	}
	return 200
}
