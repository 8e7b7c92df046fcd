// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels shared by recorders.
const (
	OutcomeAllowed      = "allowed"
	OutcomeDenied       = "denied"
	OutcomeSuccess      = "success"
	OutcomeLimitReached = "limit_reached"
	OutcomeFailed       = "failed"
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Entitlement gate metrics
	IncGateDecision(outcome string) // outcome: "allowed" or "denied"
	IncUsageReset()
	IncCommit(outcome string) // outcome: "success", "limit_reached", "failed"

	// Inference metrics
	IncInference(outcome string) // outcome: "success" or "failed"
	ObserveInferenceDuration(duration time.Duration)

	// Billing metrics
	IncBillingEvent(eventType, outcome string) // outcome: "applied", "duplicate", "ignored", "failed"
	IncCheckoutSession(outcome string)

	// HTTP metrics
	IncRateLimited(route string)
}
