package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-invoice/internal/invoice"
)

// memoryStore is an in-memory invoice.Store whose MarkPaid is a mutex-guarded
// compare-and-swap like the SQL statement.
type memoryStore struct {
	mu        sync.Mutex
	invoices  map[uuid.UUID]*invoice.Invoice
	events    map[string]invoice.EventRecord
	markCalls int
	paidWrite int

	getErr    error
	attachErr error
	markErr   error
	recordErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices: make(map[uuid.UUID]*invoice.Invoice),
		events:   make(map[string]invoice.EventRecord),
	}
}

func (m *memoryStore) put(inv invoice.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := inv
	m.invoices[inv.ID] = &cp
}

func (m *memoryStore) snapshot(id uuid.UUID) invoice.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.invoices[id]
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return invoice.Invoice{}, m.getErr
	}
	inv, ok := m.invoices[id]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return *inv, nil
}

func (m *memoryStore) GetBySessionID(_ context.Context, sessionID string) (invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return invoice.Invoice{}, m.getErr
	}
	for _, inv := range m.invoices {
		if sessionID != "" && inv.StripeSessionID == sessionID {
			return *inv, nil
		}
	}
	return invoice.Invoice{}, invoice.ErrNotFound
}

func (m *memoryStore) AttachSession(_ context.Context, link invoice.SessionLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	inv, ok := m.invoices[link.InvoiceID]
	if !ok {
		return invoice.ErrNotFound
	}
	if inv.Status == invoice.StatusPaid {
		return invoice.ErrAlreadyPaid
	}
	if !inv.Status.CanTransition(invoice.StatusSent) {
		return fmt.Errorf("%w: %s", invoice.ErrNotPayable, inv.Status)
	}
	if link.ExpectPrevious != nil && inv.StripeSessionID != *link.ExpectPrevious {
		if inv.StripeSessionID == link.SessionID {
			return nil
		}
		return invoice.ErrSessionSuperseded
	}
	inv.StripeSessionID = link.SessionID
	inv.StripeCheckoutURL = link.CheckoutURL
	inv.Status = invoice.StatusSent
	inv.UpdatedAt = link.At
	return nil
}

func (m *memoryStore) MarkPaid(_ context.Context, p invoice.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.markErr != nil {
		return false, m.markErr
	}
	inv, ok := m.invoices[p.InvoiceID]
	if !ok || inv.Status == invoice.StatusPaid {
		return false, nil
	}
	paidAt := p.PaidAt
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &paidAt
	inv.StripePaymentIntentID = p.PaymentIntentID
	inv.AmountPaidCents = p.AmountPaidCents
	inv.PaidAmount = inv.Total
	inv.UpdatedAt = paidAt
	m.paidWrite++
	return true, nil
}

func (m *memoryStore) RecordEvent(_ context.Context, rec invoice.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	if _, ok := m.events[rec.EventID]; !ok {
		m.events[rec.EventID] = rec
	}
	return nil
}

// fakeProvider records calls and returns a canned session or error.
type fakeProvider struct {
	mu       sync.Mutex
	calls    []SessionRequest
	session  Session
	err      error
	sequence int
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req SessionRequest) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return Session{}, f.err
	}
	if f.session.ID != "" {
		return f.session, nil
	}
	f.sequence++
	id := fmt.Sprintf("cs_test_%d", f.sequence)
	return Session{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingRelinker struct {
	mu    sync.Mutex
	links []invoice.SessionLink
	err   error
}

func (r *recordingRelinker) EnqueueRelink(_ context.Context, link invoice.SessionLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link)
	return r.err
}

type mapSeenCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMapSeenCache() *mapSeenCache { return &mapSeenCache{seen: map[string]bool{}} }

func (c *mapSeenCache) Seen(_ context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id]
}

func (c *mapSeenCache) Mark(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = true
}

var errStoreDown = errors.New("store unavailable")
