package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/macromini/macromini/internal/metrics"
)

// EventLedger remembers provider event ids that were applied successfully.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// WebhookResult summarizes one webhook delivery.
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   Outcome
	Duplicate bool
}

// WebhookProcessor verifies, decodes and applies webhook deliveries.
type WebhookProcessor struct {
	verifier *Verifier
	decoder  *Decoder
	handler  *Handler
	ledger   EventLedger
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewWebhookProcessor creates a new WebhookProcessor. ledger may be nil.
func NewWebhookProcessor(verifier *Verifier, decoder *Decoder, handler *Handler, ledger EventLedger, recorder metrics.Recorder, logger *slog.Logger) *WebhookProcessor {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{
		verifier: verifier,
		decoder:  decoder,
		handler:  handler,
		ledger:   ledger,
		metrics:  recorder,
		logger:   logger.With("component", "billing_webhook"),
	}
}

// Process handles one delivery. Signature failures return ErrInvalidSignature
// before anything is read from or written to the store.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, sigHeader string) (WebhookResult, error) {
	event, err := p.verifier.Verify(payload, sigHeader)
	if err != nil {
		p.metrics.IncBillingEvent("unknown", metrics.OutcomeFailed)
		return WebhookResult{}, err
	}

	result := WebhookResult{EventID: event.ID, EventType: string(event.Type)}

	if p.seen(ctx, event.ID) {
		result.Duplicate = true
		result.Outcome = OutcomeIgnored
		p.metrics.IncBillingEvent(result.EventType, metrics.OutcomeDuplicate)
		p.logger.Info("billing_event_duplicate", "event_id", event.ID, "type", result.EventType)
		return result, nil
	}

	ev, err := p.decoder.Decode(ctx, event)
	if err != nil {
		p.metrics.IncBillingEvent(result.EventType, metrics.OutcomeFailed)
		return result, fmt.Errorf("decode event %s: %w", event.ID, err)
	}

	outcome, err := p.handler.Apply(ctx, ev)
	if err != nil {
		p.metrics.IncBillingEvent(result.EventType, metrics.OutcomeFailed)
		return result, fmt.Errorf("apply event %s: %w", event.ID, err)
	}
	result.Outcome = outcome

	if outcome == OutcomeApplied {
		p.metrics.IncBillingEvent(result.EventType, metrics.OutcomeApplied)
	} else {
		p.metrics.IncBillingEvent(result.EventType, metrics.OutcomeIgnored)
	}

	p.mark(ctx, event.ID)
	return result, nil
}

// seen fails open: a ledger outage reprocesses the event, which every arm tolerates.
func (p *WebhookProcessor) seen(ctx context.Context, eventID string) bool {
	if p.ledger == nil || eventID == "" {
		return false
	}
	processed, err := p.ledger.IsEventProcessed(ctx, eventID)
	if err != nil {
		p.logger.Warn("event_ledger_read_failed", "event_id", eventID, "error", err)
		return false
	}
	return processed
}

func (p *WebhookProcessor) mark(ctx context.Context, eventID string) {
	if p.ledger == nil || eventID == "" {
		return
	}
	if err := p.ledger.MarkEventProcessed(ctx, eventID); err != nil {
		p.logger.Warn("event_ledger_write_failed", "event_id", eventID, "error", err)
	}
}
