package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg)

	rec.IncGateDecision(OutcomeAllowed)
	rec.IncGateDecision(OutcomeAllowed)
	rec.IncGateDecision(OutcomeDenied)
	rec.IncUsageReset()
	rec.IncBillingEvent("checkout.session.completed", OutcomeApplied)
	rec.ObserveInferenceDuration(1500 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.gateDecisions.WithLabelValues(OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.gateDecisions.WithLabelValues(OutcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.usageResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.billingEvents.WithLabelValues("checkout.session.completed", OutcomeApplied)))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["macromini_gate_decisions_total"])
	assert.True(t, names["macromini_inference_duration_seconds"])
}

func TestInMemoryRecorder(t *testing.T) {
	rec := NewInMemory()

	rec.IncCommit(OutcomeSuccess)
	rec.IncCommit(OutcomeLimitReached)
	rec.IncCommit(OutcomeSuccess)
	rec.IncBillingEvent("invoice.payment_failed", OutcomeIgnored)
	rec.ObserveInferenceDuration(2 * time.Second)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(2), snap.Commits[OutcomeSuccess])
	assert.Equal(t, uint64(1), snap.Commits[OutcomeLimitReached])
	assert.Equal(t, uint64(1), snap.BillingEvents["invoice.payment_failed/ignored"])
	assert.Equal(t, uint64(1), snap.InferenceCount)
	assert.Equal(t, (2 * time.Second).Nanoseconds(), snap.InferenceTotalNs)
}

func TestNoopRecorder(t *testing.T) {
	var rec Recorder = NewNoop()
	rec.IncGateDecision(OutcomeAllowed)
	rec.IncRateLimited("analyze")
}
