package providers

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
)

type stubAdapter struct {
	name enums.PaymentProvider
}

func (s stubAdapter) Name() enums.PaymentProvider { return s.name }

func (s stubAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	return &Initiation{PaymentURL: "https://pay.example/" + string(s.name)}, nil
}

func (s stubAdapter) ParseCallback(ctx context.Context, params url.Values) (*Event, error) {
	return &Event{Provider: s.name}, nil
}

func (s stubAdapter) QueryStatus(ctx context.Context, providerRef string) (*Event, error) {
	return &Event{Provider: s.name, ProviderRef: providerRef, Outcome: OutcomePending}, nil
}

func (s stubAdapter) Refund(ctx context.Context, req RefundRequest) error {
	return nil
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry(stubAdapter{name: enums.PaymentProviderVNPay}, stubAdapter{name: enums.PaymentProviderMoMo})

	adapter, err := registry.Resolve(enums.PaymentProviderVNPay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.Name() != enums.PaymentProviderVNPay {
		t.Fatalf("resolved wrong adapter %q", adapter.Name())
	}

	if got := len(registry.Names()); got != 2 {
		t.Fatalf("expected 2 registered providers, got %d", got)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve(enums.PaymentProviderPayPal)
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	if appErr := apperrors.As(err); appErr == nil || appErr.Code() != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransientStatus(t *testing.T) {
	transient := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable}
	for _, status := range transient {
		if !TransientStatus(status) {
			t.Fatalf("expected %d to be transient", status)
		}
	}
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict} {
		if TransientStatus(status) {
			t.Fatalf("expected %d to be final", status)
		}
	}
}

func TestIsTransientMatchesProviderUnavailable(t *testing.T) {
	if !IsTransient(apperrors.New(apperrors.CodeProviderUnavailable, "gateway down")) {
		t.Fatal("provider unavailable errors must be retried")
	}
	if IsTransient(apperrors.New(apperrors.CodeValidation, "bad signature")) {
		t.Fatal("validation errors must not be retried")
	}
	if IsTransient(nil) {
		t.Fatal("nil is not transient")
	}
}

func TestOutboundPolicyRetriesTransientFailures(t *testing.T) {
	policy := OutboundPolicy()
	if policy.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", policy.MaxAttempts)
	}
	if !policy.Retryable(apperrors.New(apperrors.CodeProviderUnavailable, "gateway down")) {
		t.Fatal("outbound policy must retry unavailable gateways")
	}
}
