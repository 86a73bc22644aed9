// Package webhook delivers signed lifecycle events to integration endpoints.
// Delivery is best effort: one attempt, outcome written to the integration's
// rolling log, nothing returned to the emitting operation.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recipient identifies whose integration receives an event.
type Recipient struct {
	Type entity.RecipientType `json:"type"`
	ID   uuid.UUID            `json:"id"`
}

func UserRecipient(id uuid.UUID) Recipient {
	return Recipient{Type: entity.RecipientUser, ID: id}
}

func GarageRecipient(id uuid.UUID) Recipient {
	return Recipient{Type: entity.RecipientGarage, ID: id}
}

// Event is a lifecycle event before it is addressed to a recipient.
type Event struct {
	Type      string
	BookingID *uuid.UUID
	Data      any
}

// Task is the queued unit of work: one event for one recipient.
type Task struct {
	Recipient  Recipient       `json:"recipient"`
	Event      string          `json:"event"`
	BookingID  *uuid.UUID      `json:"bookingId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Emitter is what lifecycle services depend on.
type Emitter interface {
	Emit(ctx context.Context, to Recipient, ev Event)
}

type Dispatcher struct {
	integrations repository.IntegrationRepository
	publisher    message.Publisher
	client       *http.Client
	cfg          utils.WebhookConfig
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time
}

func NewDispatcher(
	integrations repository.IntegrationRepository,
	publisher message.Publisher,
	cfg utils.WebhookConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ResponseExcerpt <= 0 {
		cfg.ResponseExcerpt = 512
	}

	return &Dispatcher{
		integrations: integrations,
		publisher:    publisher,
		client:       &http.Client{Timeout: cfg.Timeout},
		cfg:          cfg,
		metrics:      m,
		log:          log.With(zap.String("component", "webhook")),
		now:          time.Now,
	}
}

// Emit queues ev for to. Failures are logged and swallowed.
func (d *Dispatcher) Emit(ctx context.Context, to Recipient, ev Event) {
	if to.ID == uuid.Nil {
		return
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		d.log.Error("Failed to encode webhook data", zap.String("event", ev.Type), zap.Error(err))
		return
	}

	payload, err := json.Marshal(Task{
		Recipient:  to,
		Event:      ev.Type,
		BookingID:  ev.BookingID,
		OccurredAt: d.now().UTC(),
		Data:       data,
	})
	if err != nil {
		d.log.Error("Failed to encode webhook task", zap.String("event", ev.Type), zap.Error(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", ev.Type)

	if err := d.publisher.Publish(Topic, msg); err != nil {
		d.log.Warn("Failed to queue webhook task",
			zap.String("event", ev.Type),
			zap.String("recipient_type", string(to.Type)),
			zap.String("recipient_id", to.ID.String()),
			zap.Error(err),
		)
	}
}

// Run consumes queued tasks with cfg.Workers concurrent deliveries until ctx
// is cancelled or the subscription closes.
func (d *Dispatcher) Run(ctx context.Context, subscriber message.Subscriber) error {
	messages, err := subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	tasks := make(chan Task)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				d.safeDeliver(ctx, task)
			}
		}()
	}

	defer func() {
		close(tasks)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var task Task
			if err := json.Unmarshal(msg.Payload, &task); err != nil {
				d.log.Error("Dropping malformed webhook task", zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			// single attempt: acked before delivery so it is never redelivered
			msg.Ack()

			select {
			case tasks <- task:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (d *Dispatcher) safeDeliver(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("PANIC in webhook delivery",
				zap.Any("error", r),
				zap.String("event", task.Event),
				zap.Stack("stack"),
			)
		}
	}()
	d.Deliver(ctx, task)
}

// Deliver performs one delivery attempt synchronously. It returns the log
// entry written, or nil when the recipient has no active integration.
func (d *Dispatcher) Deliver(ctx context.Context, task Task) *entity.DeliveryLog {
	log := d.log.With(
		zap.String("event", task.Event),
		zap.String("recipient_type", string(task.Recipient.Type)),
		zap.String("recipient_id", task.Recipient.ID.String()),
	)

	integration, err := d.integrations.FindActiveByOwner(ctx, task.Recipient.Type, task.Recipient.ID)
	if err != nil {
		log.Warn("Webhook integration lookup failed", zap.Error(err))
		return nil
	}
	if integration == nil {
		return nil
	}

	entry := &entity.DeliveryLog{
		IntegrationID: integration.ID,
		Event:         task.Event,
	}

	body, err := FormatFor(integration.PayloadFormat).Encode(task)
	if err != nil {
		entry.Error = fmt.Sprintf("encode payload: %v", err)
		d.record(ctx, log, entry, 0)
		return entry
	}

	start := d.now()
	status, excerpt, err := d.post(ctx, integration, task, body)
	latency := d.now().Sub(start)

	entry.StatusCode = status
	entry.LatencyMS = latency.Milliseconds()
	entry.ResponseExcerpt = excerpt
	entry.Success = err == nil && status >= 200 && status < 300
	if err != nil {
		entry.Error = utils.Truncate(err.Error(), d.cfg.ResponseExcerpt)
	} else if !entry.Success {
		entry.Error = fmt.Sprintf("non-2xx response: %d", status)
	}

	d.record(ctx, log, entry, latency)
	return entry
}

func (d *Dispatcher) post(ctx context.Context, integration *entity.Integration, task Task, body []byte) (int, string, error) {
	timestamp := strconv.FormatInt(d.now().Unix(), 10)

	// the delivery gets its own deadline, detached from the caller's lifetime
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, integration.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "roadside-dispatch-webhooks/1")
	req.Header.Set(HeaderEvent, task.Event)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, SignatureHeader(integration.Secret, timestamp, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.ResponseExcerpt)))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, string(excerpt), nil
}

func (d *Dispatcher) record(ctx context.Context, log *zap.Logger, entry *entity.DeliveryLog, latency time.Duration) {
	entry.CreatedAt = d.now().UTC()

	if d.metrics != nil {
		d.metrics.RecordWebhook(entry.Event, entry.Success, latency.Seconds())
	}

	if entry.Success {
		log.Debug("Webhook delivered", zap.Int("status", entry.StatusCode), zap.Int64("latency_ms", entry.LatencyMS))
	} else {
		log.Warn("Webhook delivery failed",
			zap.Int("status", entry.StatusCode),
			zap.Int64("latency_ms", entry.LatencyMS),
			zap.String("error", entry.Error),
		)
	}

	if err := d.integrations.AppendLog(context.WithoutCancel(ctx), entry, d.cfg.LogSize); err != nil {
		log.Error("Failed to write webhook delivery log", zap.Error(err))
	}
}
