package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// Options bound the retry budget. The exact constants are tunable and not
// load-bearing for correctness; enforcement never depends on delivery.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	return o
}

// Dispatcher signs and delivers webhook events, keeping one log row per
// attempt and shuffling failed deliveries through the retry queue into the
// dead-letter table.
type Dispatcher struct {
	webhooks repository.WebhookRepository
	keys     repository.APIKeyRepository
	node     *snowflake.Node
	client   *http.Client
	logger   *zap.Logger
	tracer   trace.Tracer
	opts     Options
}

// NewDispatcher wires dependencies. A nil client gets a default with the
// configured timeout.
func NewDispatcher(webhooks repository.WebhookRepository, keys repository.APIKeyRepository, node *snowflake.Node, client *http.Client, logger *zap.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Dispatcher{
		webhooks: webhooks,
		keys:     keys,
		node:     node,
		client:   client,
		logger:   logger,
		tracer:   otel.Tracer("github.com/onesub/vendor-gateway/internal/webhook"),
		opts:     opts,
	}
}

// DispatchRevocation builds the entitlement.revoked envelope and performs the
// first delivery attempt. Failures land in the retry queue; they are never
// surfaced to the caller as errors that could block the revocation itself.
func (d *Dispatcher) DispatchRevocation(ctx context.Context, toolID, userID string) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.DispatchRevocation")
	defer span.End()

	target, err := d.keys.GetWebhookTarget(ctx, toolID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Debug("no webhook target for tool", zap.String("tool_id", toolID))
			return nil
		}
		return fmt.Errorf("load webhook target: %w", err)
	}
	if !target.Configured() {
		return nil
	}

	event := domain.WebhookEvent{
		ID:      uuid.NewString(),
		Type:    domain.EventEntitlementRevoked,
		Created: time.Now().Unix(),
		Data:    domain.WebhookEventData{OneSubUserID: userID, ToolID: toolID},
	}
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	if d.attempt(ctx, target, event.ID, event.Type, payload, 1) {
		return nil
	}

	entry := domain.WebhookRetryEntry{
		ID:            d.node.Generate().Int64(),
		ToolID:        toolID,
		EventID:       event.ID,
		EventType:     event.Type,
		Payload:       payload,
		NextAttemptAt: time.Now().Add(d.backoff(1)),
		AttemptCount:  1,
	}
	if err := d.webhooks.EnqueueRetry(ctx, entry); err != nil {
		return fmt.Errorf("enqueue webhook retry: %w", err)
	}
	return nil
}

// ProcessDue claims retry entries whose next attempt is due and works each
// one to success, reschedule, or dead letter.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	entries, err := d.webhooks.DueRetries(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("load due retries: %w", err)
	}

	for _, entry := range entries {
		if err := d.retry(ctx, entry); err != nil {
			d.logger.Error("webhook retry processing failed",
				zap.String("event_id", entry.EventID),
				zap.Error(err),
			)
		}
	}
	return len(entries), nil
}

func (d *Dispatcher) retry(ctx context.Context, entry domain.WebhookRetryEntry) error {
	attempt := entry.AttemptCount + 1

	target, err := d.keys.GetWebhookTarget(ctx, entry.ToolID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load webhook target: %w", err)
	}

	delivered := target.Configured() && d.attempt(ctx, target, entry.EventID, entry.EventType, entry.Payload, attempt)
	if delivered {
		return d.webhooks.DeleteRetry(ctx, entry.ID)
	}

	if attempt >= d.opts.MaxAttempts {
		return d.deadLetter(ctx, entry)
	}

	next := time.Now().Add(d.backoff(attempt))
	return d.webhooks.RescheduleRetry(ctx, entry.ID, next, attempt)
}

func (d *Dispatcher) deadLetter(ctx context.Context, entry domain.WebhookRetryEntry) error {
	logs, err := d.webhooks.ListLogsByEvent(ctx, entry.EventID)
	if err != nil {
		return fmt.Errorf("load attempt history: %w", err)
	}
	history := make([]domain.WebhookFailure, 0, len(logs))
	for _, log := range logs {
		if log.Success {
			continue
		}
		history = append(history, domain.WebhookFailure{
			AttemptNumber: log.AttemptNumber,
			StatusCode:    log.StatusCode,
			OccurredAt:    log.CreatedAt,
		})
	}

	letter := domain.WebhookDeadLetter{
		ID:             d.node.Generate().Int64(),
		ToolID:         entry.ToolID,
		EventID:        entry.EventID,
		EventType:      entry.EventType,
		Payload:        entry.Payload,
		FailureHistory: history,
	}
	if err := d.webhooks.InsertDeadLetter(ctx, letter); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if err := d.webhooks.DeleteRetry(ctx, entry.ID); err != nil {
		return fmt.Errorf("remove exhausted retry: %w", err)
	}

	d.logger.Warn("webhook delivery exhausted, dead-lettered",
		zap.String("event_id", entry.EventID),
		zap.String("tool_id", entry.ToolID),
		zap.Int("attempts", entry.AttemptCount+1),
	)
	return nil
}

// attempt performs one signed delivery and records its log row. Returns true
// on a 2xx response.
func (d *Dispatcher) attempt(ctx context.Context, target domain.WebhookTarget, eventID, eventType string, payload []byte, attempt int) bool {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	statusCode := 0

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, Sign(target.Secret, start, payload))

		resp, doErr := d.client.Do(req)
		if doErr == nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
			resp.Body.Close()
			statusCode = resp.StatusCode
		}
	}

	success := statusCode >= 200 && statusCode < 300
	entry := domain.WebhookLogEntry{
		ID:             d.node.Generate().Int64(),
		EventID:        eventID,
		ToolID:         target.ToolID,
		EventType:      eventType,
		URL:            target.URL,
		Success:        success,
		StatusCode:     statusCode,
		DeliveryTimeMs: time.Since(start).Milliseconds(),
		AttemptNumber:  attempt,
	}
	if logErr := d.webhooks.InsertLog(context.WithoutCancel(ctx), entry); logErr != nil {
		d.logger.Error("record webhook attempt failed", zap.String("event_id", eventID), zap.Error(logErr))
	}

	if !success {
		d.logger.Info("webhook delivery failed",
			zap.String("event_id", eventID),
			zap.String("tool_id", target.ToolID),
			zap.Int("status", statusCode),
			zap.Int("attempt", attempt),
		)
	}
	return success
}

// backoff returns the delay before attempt n+1: base doubled per failure,
// capped at MaxBackoff.
func (d *Dispatcher) backoff(failures int) time.Duration {
	delay := d.opts.BaseBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	if delay > d.opts.MaxBackoff {
		return d.opts.MaxBackoff
	}
	return delay
}
