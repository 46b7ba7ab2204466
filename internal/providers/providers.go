package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/retry"
)

// Outcome is the normalized verdict of a provider callback.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Event is a provider callback in normalized form. Signature verification has
// already happened by the time an Event exists; adapters never emit events for
// payloads that fail verification.
type Event struct {
	Provider      enums.PaymentProvider
	TransactionID uuid.UUID
	EventID       string
	ProviderRef   string
	Amount        decimal.Decimal
	Code          string
	Message       string
	Outcome       Outcome
	Raw           json.RawMessage
	OccurredAt    time.Time
}

// RefundRequest identifies the payment to reverse. ProviderRef is the
// reference issued at initiation and ProviderTxnID is the provider-assigned
// payment id recorded when the payment completed; each gateway keys refunds
// on one or both.
type RefundRequest struct {
	TransactionID uuid.UUID
	ProviderRef   string
	ProviderTxnID string
	Amount        decimal.Decimal
	Reason        string
}

// InitiationRequest carries what an adapter needs to start a payment.
type InitiationRequest struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	OrderInfo     string
	ClientIP      string
	Locale        string
	BankCode      string
}

// Initiation is the provider-specific payload returned to the client.
type Initiation struct {
	PaymentURL  string
	ProviderRef string
	Extra       map[string]string
}

// Adapter hides one payment provider behind a uniform surface. QueryStatus
// pulls the provider's current verdict for a payment whose callback may have
// been lost; the event it returns goes through the same arbitration path as
// a live callback.
type Adapter interface {
	Name() enums.PaymentProvider
	Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error)
	ParseCallback(ctx context.Context, params url.Values) (*Event, error)
	QueryStatus(ctx context.Context, providerRef string) (*Event, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// OutboundPolicy governs retries of gateway HTTP calls: exponential backoff
// with jitter, transient failures only.
func OutboundPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Retryable:   IsTransient,
	}
}

// IsTransient reports whether err is a temporary gateway failure worth
// another attempt: a transport error, a timeout, or a 408/429/5xx reply.
// Adapters classify those as provider-unavailable when they build the error.
func IsTransient(err error) bool {
	coded := apperrors.As(err)
	return coded != nil && coded.Code() == apperrors.CodeProviderUnavailable
}

// TransientStatus reports whether a gateway HTTP status is worth retrying.
func TransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// Registry resolves adapters by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[enums.PaymentProvider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[enums.PaymentProvider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Resolve(provider enums.PaymentProvider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unsupported payment provider %q", provider))
	}
	return adapter, nil
}

// Names lists the registered providers.
func (r *Registry) Names() []enums.PaymentProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]enums.PaymentProvider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
