// Package health is the process-wide import health observer: periodic
// sampling of store/queue/memory checks into a bounded ring, plus job
// throughput metrics sourced from the job store.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Status is the aggregate health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one probe. Critical check failures make the process unhealthy;
// non-critical failures only degrade it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// CheckResult is one probe's outcome within a snapshot.
type CheckResult struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Snapshot is one sampling round.
type Snapshot struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	SampledAt time.Time              `json:"sampled_at"`
}

// Monitor runs the sampling loop. The zero value is not usable; construct
// with NewMonitor.
type Monitor struct {
	mu       sync.Mutex
	checks   []Check
	interval time.Duration
	history  int
	ring     []Snapshot
	cancel   context.CancelFunc
	started  bool
}

// NewMonitor builds a monitor sampling the given checks every interval,
// keeping up to history snapshots.
func NewMonitor(interval time.Duration, history int, checks ...Check) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if history <= 0 {
		history = 60
	}
	return &Monitor{checks: checks, interval: interval, history: history}
}

// Start begins periodic sampling. Calling Start on a started monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.started = true
	go m.loop(ctx)
}

// Stop halts sampling and releases the timer. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.cancel()
	m.started = false
}

func (m *Monitor) loop(ctx context.Context) {
	m.sample(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) Snapshot {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap := Snapshot{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(m.checks)),
		SampledAt: time.Now().UTC(),
	}
	for _, c := range m.checks {
		res := CheckResult{Status: StatusHealthy}
		if err := c.Probe(probeCtx); err != nil {
			res.Detail = err.Error()
			if c.Critical {
				res.Status = StatusUnhealthy
				snap.Status = StatusUnhealthy
			} else {
				res.Status = StatusDegraded
				if snap.Status == StatusHealthy {
					snap.Status = StatusDegraded
				}
			}
		}
		snap.Checks[c.Name] = res
	}

	m.mu.Lock()
	m.ring = append(m.ring, snap)
	if len(m.ring) > m.history {
		m.ring = m.ring[len(m.ring)-m.history:]
	}
	m.mu.Unlock()
	return snap
}

// Health returns the latest snapshot. It is safe to call before Start: with
// no sampled history it runs the probes once, best effort.
func (m *Monitor) Health(ctx context.Context) Snapshot {
	m.mu.Lock()
	if n := len(m.ring); n > 0 {
		snap := m.ring[n-1]
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()
	return m.sample(ctx)
}

// History returns the sampled ring, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.ring))
	copy(out, m.ring)
	return out
}

// Pinger is anything with a reachability probe (store, queue, object store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a Pinger as a named check.
func PingCheck(name string, p Pinger, critical bool) Check {
	return Check{Name: name, Critical: critical, Probe: p.Ping}
}

// DepthReporter reports queue backlog.
type DepthReporter interface {
	ReadyDepth(ctx context.Context) (int64, error)
}

// QueueDepthCheck degrades when the dispatch backlog passes warnDepth.
func QueueDepthCheck(q DepthReporter, warnDepth int64) Check {
	return Check{
		Name: "processing",
		Probe: func(ctx context.Context) error {
			depth, err := q.ReadyDepth(ctx)
			if err != nil {
				return fmt.Errorf("queue depth: %w", err)
			}
			if depth > warnDepth {
				return fmt.Errorf("queue backlog %d exceeds threshold %d", depth, warnDepth)
			}
			return nil
		},
	}
}

// MemoryCheck degrades when heap allocation passes limitMB.
func MemoryCheck(limitMB int) Check {
	return Check{
		Name: "memory",
		Probe: func(context.Context) error {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			allocMB := int(ms.HeapAlloc / (1 << 20))
			if limitMB > 0 && allocMB > limitMB {
				return fmt.Errorf("heap %dMB exceeds limit %dMB", allocMB, limitMB)
			}
			return nil
		},
	}
}
