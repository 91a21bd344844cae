// Package queue runs deferred payment work on asynq. The only task today is
// the relink of a checkout session whose first link write failed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoice/internal/invoice"
)

const (
	// TypeRelinkSession is the asynq task type for delayed session links.
	TypeRelinkSession = "invoice:relink_session"
	// PaymentsQueue is the queue payment tasks are routed to.
	PaymentsQueue = "payments"

	defaultRelinkRetries = 8
	defaultRelinkDelay   = 5 * time.Second
)

// RelinkPayload is the JSON body of a relink task.
type RelinkPayload struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	// Previous is the session id the invoice carried when the session was
	// created. A relink applies only while it is still there.
	Previous  string    `json:"previous_session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (p RelinkPayload) link(at time.Time) invoice.SessionLink {
	prev := p.Previous
	return invoice.SessionLink{
		InvoiceID:      p.InvoiceID,
		SessionID:      p.SessionID,
		CheckoutURL:    p.CheckoutURL,
		At:             at,
		ExpectPrevious: &prev,
	}
}

// RelinkTaskID is unique per invoice and session so a duplicate enqueue is
// rejected by asynq rather than scheduled twice.
func RelinkTaskID(invoiceID uuid.UUID, sessionID string) string {
	return "relink:" + invoiceID.String() + ":" + sessionID
}

// NewRelinkTask builds the task for link.
func NewRelinkTask(link invoice.SessionLink, opts ...asynq.Option) (*asynq.Task, error) {
	if link.InvoiceID == uuid.Nil || link.SessionID == "" {
		return nil, errors.New("queue: relink requires invoice and session ids")
	}
	payload := RelinkPayload{
		InvoiceID:   link.InvoiceID,
		SessionID:   link.SessionID,
		CheckoutURL: link.CheckoutURL,
		CreatedAt:   link.At,
	}
	if link.ExpectPrevious != nil {
		payload.Previous = *link.ExpectPrevious
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode relink payload: %w", err)
	}
	return asynq.NewTask(TypeRelinkSession, raw, opts...), nil
}

// Enqueuer is the part of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client schedules payment tasks.
type Client struct {
	Asynq    Enqueuer
	Queue    string
	MaxRetry int
	Delay    time.Duration
	Logger   zerolog.Logger
}

// EnqueueRelink schedules a guarded retry of link.
func (c *Client) EnqueueRelink(ctx context.Context, link invoice.SessionLink) error {
	if c == nil || c.Asynq == nil {
		return errors.New("queue: client not configured")
	}
	task, err := NewRelinkTask(link)
	if err != nil {
		return err
	}
	info, err := c.Asynq.EnqueueContext(ctx, task,
		asynq.Queue(c.queue()),
		asynq.TaskID(RelinkTaskID(link.InvoiceID, link.SessionID)),
		asynq.MaxRetry(c.maxRetry()),
		asynq.ProcessIn(c.delay()),
	)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		QueueEnqueuedTotal.WithLabelValues(TypeRelinkSession, "duplicate").Inc()
		return nil
	case err != nil:
		QueueEnqueuedTotal.WithLabelValues(TypeRelinkSession, "error").Inc()
		return fmt.Errorf("queue: enqueue relink: %w", err)
	}
	QueueEnqueuedTotal.WithLabelValues(TypeRelinkSession, "ok").Inc()
	c.Logger.Info().
		Str("task_id", info.ID).
		Str("invoice_id", link.InvoiceID.String()).
		Str("session_id", link.SessionID).
		Msg("session relink scheduled")
	return nil
}

func (c *Client) queue() string {
	if c.Queue == "" {
		return PaymentsQueue
	}
	return c.Queue
}

func (c *Client) maxRetry() int {
	if c.MaxRetry <= 0 {
		return defaultRelinkRetries
	}
	return c.MaxRetry
}

func (c *Client) delay() time.Duration {
	if c.Delay <= 0 {
		return defaultRelinkDelay
	}
	return c.Delay
}

// RelinkHandler applies relink tasks against the invoice store.
type RelinkHandler struct {
	Store  invoice.Store
	Logger zerolog.Logger
	Now    func() time.Time
}

// ProcessTask implements asynq.Handler. Outcomes that a later attempt cannot
// change are returned wrapped in asynq.SkipRetry.
func (h *RelinkHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload RelinkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("queue: decode relink payload: %v: %w", err, asynq.SkipRetry)
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	log := h.Logger.With().
		Str("invoice_id", payload.InvoiceID.String()).
		Str("session_id", payload.SessionID).
		Logger()

	err := h.Store.AttachSession(ctx, payload.link(now()))
	switch {
	case err == nil:
		log.Info().Msg("checkout session relinked")
		return nil
	case errors.Is(err, invoice.ErrAlreadyPaid),
		errors.Is(err, invoice.ErrSessionSuperseded),
		errors.Is(err, invoice.ErrNotFound),
		errors.Is(err, invoice.ErrNotPayable):
		log.Info().Err(err).Msg("session relink dropped")
		return fmt.Errorf("queue: relink: %w: %w", err, asynq.SkipRetry)
	default:
		retried, _ := asynq.GetRetryCount(ctx)
		log.Warn().Err(err).Int("retry", retried).Msg("session relink failed")
		return fmt.Errorf("queue: relink: %w", err)
	}
}
