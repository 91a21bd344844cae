package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
)

// EventCheckoutSessionCompleted is the only event type that changes invoice state.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// ErrMalformedEvent is returned when the top-level event envelope is not valid JSON.
var ErrMalformedEvent = errors.New("payment: malformed event")

// Event is a decoded webhook delivery. Implementations are
// CheckoutSessionCompleted and IgnoredEvent.
type Event interface {
	EventID() string
	EventType() string
}

// CheckoutSessionCompleted carries the fields of a completed hosted checkout.
// Session is nil when data.object is absent or not a checkout session.
type CheckoutSessionCompleted struct {
	ID      string
	Session *CompletedSession
}

// CompletedSession is the payment outcome extracted from the session object.
type CompletedSession struct {
	ID              string
	PaymentIntentID string
	AmountTotal     int64
	Metadata        map[string]string
}

// IgnoredEvent is any event type this service acknowledges without acting on.
type IgnoredEvent struct {
	ID   string
	Type string
}

func (e CheckoutSessionCompleted) EventID() string { return e.ID }
func (CheckoutSessionCompleted) EventType() string { return EventCheckoutSessionCompleted }
func (e IgnoredEvent) EventID() string             { return e.ID }
func (e IgnoredEvent) EventType() string           { return e.Type }

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook body. Only a malformed envelope is an
// error; a completed-session event whose object cannot be read yields a nil
// Session so the caller can acknowledge it.
func ParseEvent(body []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type != EventCheckoutSessionCompleted {
		return IgnoredEvent{ID: env.ID, Type: env.Type}, nil
	}
	evt := CheckoutSessionCompleted{ID: env.ID}
	raw := strings.TrimSpace(string(env.Data.Object))
	if raw == "" || raw == "null" {
		return evt, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(env.Data.Object, &session); err != nil {
		return evt, nil
	}
	if strings.TrimSpace(session.ID) == "" {
		return evt, nil
	}
	completed := &CompletedSession{
		ID:          session.ID,
		AmountTotal: session.AmountTotal,
		Metadata:    session.Metadata,
	}
	if session.PaymentIntent != nil {
		completed.PaymentIntentID = session.PaymentIntent.ID
	}
	evt.Session = completed
	return evt, nil
}
