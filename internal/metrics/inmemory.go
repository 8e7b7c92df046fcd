package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	GateDecisions       map[string]uint64
	UsageResets         uint64
	Commits             map[string]uint64
	Inferences          map[string]uint64
	InferenceCount      uint64
	InferenceTotalNs    int64
	BillingEvents       map[string]uint64 // keyed by "type/outcome"
	CheckoutSessions    map[string]uint64
	RateLimitedRequests map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]map[string]uint64

	usageResets      uint64
	inferenceCount   uint64
	inferenceTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{counters: make(map[string]map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		GateDecisions:       m.copyOf("gate"),
		UsageResets:         atomic.LoadUint64(&m.usageResets),
		Commits:             m.copyOf("commit"),
		Inferences:          m.copyOf("inference"),
		InferenceCount:      atomic.LoadUint64(&m.inferenceCount),
		InferenceTotalNs:    atomic.LoadInt64(&m.inferenceTotalNs),
		BillingEvents:       m.copyOf("billing"),
		CheckoutSessions:    m.copyOf("checkout"),
		RateLimitedRequests: m.copyOf("ratelimit"),
	}
}

// IncGateDecision counts a gate decision.
func (m *InMemoryRecorder) IncGateDecision(outcome string) { m.inc("gate", outcome) }

// IncUsageReset counts a period rollover.
func (m *InMemoryRecorder) IncUsageReset() { atomic.AddUint64(&m.usageResets, 1) }

// IncCommit counts a commit attempt.
func (m *InMemoryRecorder) IncCommit(outcome string) { m.inc("commit", outcome) }

// IncInference counts an inference call.
func (m *InMemoryRecorder) IncInference(outcome string) { m.inc("inference", outcome) }

// ObserveInferenceDuration records inference latency.
func (m *InMemoryRecorder) ObserveInferenceDuration(duration time.Duration) {
	atomic.AddUint64(&m.inferenceCount, 1)
	atomic.AddInt64(&m.inferenceTotalNs, duration.Nanoseconds())
}

// IncBillingEvent counts a processed webhook event.
func (m *InMemoryRecorder) IncBillingEvent(eventType, outcome string) {
	m.inc("billing", eventType+"/"+outcome)
}

// IncCheckoutSession counts a checkout attempt.
func (m *InMemoryRecorder) IncCheckoutSession(outcome string) { m.inc("checkout", outcome) }

// IncRateLimited counts a rejected request.
func (m *InMemoryRecorder) IncRateLimited(route string) { m.inc("ratelimit", route) }

func (m *InMemoryRecorder) inc(name, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = make(map[string]uint64)
		m.counters[name] = c
	}
	c[label]++
}

func (m *InMemoryRecorder) copyOf(name string) map[string]uint64 {
	out := make(map[string]uint64, len(m.counters[name]))
	for k, v := range m.counters[name] {
		out[k] = v
	}
	return out
}
