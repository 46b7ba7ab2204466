package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/retry"
)

const defaultCurrency = "USD"

// Adapter drives the PayPal Orders v2 API. Initiate creates an order and
// returns the approval link; the callback captures the approved order and the
// capture result is the settlement verdict. Trust comes from the capture call
// to PayPal itself, not from the redirect parameters.
type Adapter struct {
	cfg     config.PayPalConfig
	client  *http.Client
	backoff retry.Policy
	now     func() time.Time

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg config.PayPalConfig) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("paypal client id and secret required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		backoff: providers.OutboundPolicy(),
		now:     time.Now,
	}, nil
}

func (a *Adapter) Name() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string      `json:"reference_id"`
	Description string      `json:"description,omitempty"`
	Amount      orderAmount `json:"amount"`
}

type orderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type orderLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type captureDetail struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount orderAmount `json:"amount"`
}

type capturedPayments struct {
	Captures []captureDetail `json:"captures"`
}

type capturedUnit struct {
	ReferenceID string           `json:"reference_id"`
	Payments    capturedPayments `json:"payments"`
}

type orderResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []orderLink    `json:"links"`
	PurchaseUnits []capturedUnit `json:"purchase_units"`
}

// Initiate creates a CAPTURE-intent order carrying the transaction id as the
// purchase unit reference.
func (a *Adapter) Initiate(ctx context.Context, req providers.InitiationRequest) (*providers.Initiation, error) {
	if req.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("transaction id required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	payload := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.TransactionID.String(),
			Description: req.OrderInfo,
			Amount: orderAmount{
				CurrencyCode: currency,
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}

	var created orderResponse
	if err := a.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, &created); err != nil {
		return nil, err
	}

	approveURL := ""
	for _, link := range created.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, apperrors.New(apperrors.CodeDependency, "paypal order missing approve link")
	}

	return &providers.Initiation{
		PaymentURL:  approveURL,
		ProviderRef: created.ID,
	}, nil
}

// ParseCallback captures the approved order named by the redirect token and
// normalizes the capture result.
func (a *Adapter) ParseCallback(ctx context.Context, values url.Values) (*providers.Event, error) {
	orderID := values.Get("token")
	if orderID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "missing paypal order token")
	}

	var captured orderResponse
	if err := a.call(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &captured); err != nil {
		return nil, err
	}

	if len(captured.PurchaseUnits) == 0 {
		return nil, apperrors.New(apperrors.CodeDependency, "paypal capture missing purchase units")
	}
	unit := captured.PurchaseUnits[0]

	transactionID, err := uuid.Parse(unit.ReferenceID)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid paypal reference id %q", unit.ReferenceID))
	}

	amount := decimal.Zero
	captureID := ""
	if len(unit.Payments.Captures) > 0 {
		capture := unit.Payments.Captures[0]
		captureID = capture.ID
		amount, err = decimal.NewFromString(capture.Amount.Value)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid paypal amount %q", capture.Amount.Value))
		}
	}
	if captureID == "" {
		captureID = captured.ID + ":" + captured.Status
	}

	providerTxnID := captured.ID
	if len(unit.Payments.Captures) > 0 {
		providerTxnID = unit.Payments.Captures[0].ID
	}
	raw, _ := json.Marshal(captured)

	return &providers.Event{
		Provider:      enums.PaymentProviderPayPal,
		TransactionID: transactionID,
		EventID:       captureID,
		ProviderRef:   providerTxnID,
		Amount:        amount,
		Code:          captured.Status,
		Message:       "paypal capture " + strings.ToLower(captured.Status),
		Outcome:       outcomeForStatus(captured.Status),
		Raw:           raw,
		OccurredAt:    a.now(),
	}, nil
}

// QueryStatus reads the order named by the provider ref and normalizes its
// current state. An approved-but-uncaptured order reports pending; capture
// happens only on the callback path.
func (a *Adapter) QueryStatus(ctx context.Context, providerRef string) (*providers.Event, error) {
	if providerRef == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "paypal order id required")
	}

	var order orderResponse
	if err := a.call(ctx, http.MethodGet, "/v2/checkout/orders/"+providerRef, nil, &order); err != nil {
		return nil, err
	}

	transactionID := uuid.Nil
	amount := decimal.Zero
	captureID := ""
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		if parsed, err := uuid.Parse(unit.ReferenceID); err == nil {
			transactionID = parsed
		}
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			captureID = capture.ID
			if parsed, err := decimal.NewFromString(capture.Amount.Value); err == nil {
				amount = parsed
			}
		}
	}
	if captureID == "" {
		captureID = order.ID + ":" + order.Status
	}

	providerTxnID := order.ID
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		providerTxnID = order.PurchaseUnits[0].Payments.Captures[0].ID
	}
	raw, _ := json.Marshal(order)
	return &providers.Event{
		Provider:      enums.PaymentProviderPayPal,
		TransactionID: transactionID,
		EventID:       captureID,
		ProviderRef:   providerTxnID,
		Amount:        amount,
		Code:          order.Status,
		Message:       "paypal order " + strings.ToLower(order.Status),
		Outcome:       outcomeForStatus(order.Status),
		Raw:           raw,
		OccurredAt:    a.now(),
	}, nil
}

type refundRequest struct {
	Amount      orderAmount `json:"amount"`
	NoteToPayer string      `json:"note_to_payer,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund returns a captured payment, keyed on the capture id recorded when
// the callback settled the transaction.
func (a *Adapter) Refund(ctx context.Context, req providers.RefundRequest) error {
	if req.ProviderTxnID == "" {
		return apperrors.New(apperrors.CodeValidation, "paypal capture id required")
	}
	payload := refundRequest{
		Amount: orderAmount{
			CurrencyCode: defaultCurrency,
			Value:        req.Amount.StringFixed(2),
		},
		NoteToPayer: req.Reason,
	}
	var refunded refundResponse
	if err := a.call(ctx, http.MethodPost, "/v2/payments/captures/"+req.ProviderTxnID+"/refund", payload, &refunded); err != nil {
		return err
	}
	if !strings.EqualFold(refunded.Status, "COMPLETED") && !strings.EqualFold(refunded.Status, "PENDING") {
		return apperrors.New(apperrors.CodeDependency, fmt.Sprintf("paypal refund status %s", refunded.Status))
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, method, path string, payload, out any) error {
	return retry.Do(ctx, a.backoff, func(ctx context.Context) error {
		return a.do(ctx, method, path, payload, out)
	})
}

func (a *Adapter) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader = http.NoBody
	if payload != nil {
		body, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Errorf("marshal paypal request: %w", marshalErr)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeProviderUnavailable, err, "paypal request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read paypal response: %w", err)
	}

	if providers.TransientStatus(resp.StatusCode) {
		return apperrors.New(apperrors.CodeProviderUnavailable, fmt.Sprintf("paypal returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.New(apperrors.CodeDependency, fmt.Sprintf("paypal rejected request: %d %s", resp.StatusCode, string(respBody)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode paypal response: %w", err)
		}
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.accessToken != "" && a.now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build paypal token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.Secret)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeProviderUnavailable, err, "paypal token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.CodeProviderUnavailable, fmt.Sprintf("paypal token returned status %d", resp.StatusCode))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if token.AccessToken == "" {
		return "", apperrors.New(apperrors.CodeProviderUnavailable, "paypal token response missing access token")
	}

	a.accessToken = token.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(token.ExpiresIn) * time.Second).Add(-time.Minute)
	return a.accessToken, nil
}

func outcomeForStatus(status string) providers.Outcome {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return providers.OutcomeCompleted
	case "APPROVED", "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return providers.OutcomePending
	case "VOIDED":
		return providers.OutcomeCancelled
	default:
		return providers.OutcomeFailed
	}
}
