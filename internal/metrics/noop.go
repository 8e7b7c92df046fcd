package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncGateDecision is a no-op.
func (n *NoopRecorder) IncGateDecision(outcome string) {}

// IncUsageReset is a no-op.
func (n *NoopRecorder) IncUsageReset() {}

// IncCommit is a no-op.
func (n *NoopRecorder) IncCommit(outcome string) {}

// IncInference is a no-op.
func (n *NoopRecorder) IncInference(outcome string) {}

// ObserveInferenceDuration is a no-op.
func (n *NoopRecorder) ObserveInferenceDuration(duration time.Duration) {}

// IncBillingEvent is a no-op.
func (n *NoopRecorder) IncBillingEvent(eventType, outcome string) {}

// IncCheckoutSession is a no-op.
func (n *NoopRecorder) IncCheckoutSession(outcome string) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(route string) {}
