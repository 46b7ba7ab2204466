package momo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/retry"
)

const (
	requestType = "captureWallet"

	// Result codes from the MoMo gateway.
	CodeSuccess   = 0
	CodePending   = 9000
	CodeCancelled = 1006
)

// Adapter talks to the MoMo v2 gateway. Requests and IPN callbacks are signed
// with HMAC-SHA256 over an alphabetically ordered field string.
type Adapter struct {
	cfg     config.MoMoConfig
	client  *http.Client
	backoff retry.Policy
	now     func() time.Time
}

func New(cfg config.MoMoConfig) (*Adapter, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("momo partner code, access key and secret key required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		backoff: providers.OutboundPolicy(),
		now:     time.Now,
	}, nil
}

func (a *Adapter) Name() enums.PaymentProvider {
	return enums.PaymentProviderMoMo
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
	Deeplink   string `json:"deeplink"`
	QRCodeURL  string `json:"qrCodeUrl"`
}

// Initiate creates a capture-wallet payment and returns the hosted pay URL.
func (a *Adapter) Initiate(ctx context.Context, req providers.InitiationRequest) (*providers.Initiation, error) {
	if req.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("transaction id required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}

	amount := req.Amount.Truncate(0).IntPart()
	orderID := req.TransactionID.String()
	requestID := orderID

	rawSignature := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		a.cfg.AccessKey, amount, "", a.cfg.IPNURL, orderID, req.OrderInfo,
		a.cfg.PartnerCode, a.cfg.RedirectURL, requestID, requestType,
	)

	payload := createRequest{
		PartnerCode: a.cfg.PartnerCode,
		RequestID:   requestID,
		Amount:      amount,
		OrderID:     orderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: a.cfg.RedirectURL,
		IPNURL:      a.cfg.IPNURL,
		RequestType: requestType,
		ExtraData:   "",
		Lang:        "vi",
		Signature:   a.sign(rawSignature),
	}

	var created createResponse
	if err := a.call(ctx, "/create", payload, &created); err != nil {
		return nil, err
	}
	if created.ResultCode != CodeSuccess {
		return nil, apperrors.New(apperrors.CodeDependency, fmt.Sprintf("momo create rejected: %d %s", created.ResultCode, created.Message))
	}

	return &providers.Initiation{
		PaymentURL:  created.PayURL,
		ProviderRef: orderID,
		Extra: map[string]string{
			"deeplink":  created.Deeplink,
			"qrCodeUrl": created.QRCodeURL,
		},
	}, nil
}

// ParseCallback verifies and normalizes an IPN callback delivered as query
// parameters.
func (a *Adapter) ParseCallback(ctx context.Context, values url.Values) (*providers.Event, error) {
	received := values.Get("signature")
	if received == "" {
		return nil, apperrors.New(apperrors.CodeUntrustedCallback, "missing momo signature")
	}

	rawSignature := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%s&resultCode=%s&transId=%s",
		a.cfg.AccessKey, values.Get("amount"), values.Get("extraData"), values.Get("message"),
		values.Get("orderId"), values.Get("orderInfo"), values.Get("orderType"), values.Get("partnerCode"),
		values.Get("payType"), values.Get("requestId"), values.Get("responseTime"),
		values.Get("resultCode"), values.Get("transId"),
	)
	expected := a.sign(rawSignature)
	if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return nil, apperrors.New(apperrors.CodeUntrustedCallback, "invalid momo signature")
	}

	orderID := values.Get("orderId")
	transactionID, err := uuid.Parse(orderID)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid momo order id %q", orderID))
	}

	amount, err := decimal.NewFromString(values.Get("amount"))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid momo amount %q", values.Get("amount")))
	}

	code := values.Get("resultCode")
	raw, _ := json.Marshal(flatten(values))

	return &providers.Event{
		Provider:      enums.PaymentProviderMoMo,
		TransactionID: transactionID,
		EventID:       eventID(values, orderID, code),
		ProviderRef:   values.Get("transId"),
		Amount:        amount,
		Code:          code,
		Message:       values.Get("message"),
		Outcome:       outcomeForCode(code),
		Raw:           raw,
		OccurredAt:    a.now(),
	}, nil
}

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type queryResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	TransID    int64  `json:"transId"`
}

// QueryStatus pulls the gateway's verdict for one payment. The provider ref
// is the orderId issued at initiation, which is the transaction id.
func (a *Adapter) QueryStatus(ctx context.Context, providerRef string) (*providers.Event, error) {
	transactionID, err := uuid.Parse(providerRef)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid momo order id %q", providerRef))
	}

	requestID := uuid.NewString()
	rawSignature := fmt.Sprintf(
		"accessKey=%s&orderId=%s&partnerCode=%s&requestId=%s",
		a.cfg.AccessKey, providerRef, a.cfg.PartnerCode, requestID,
	)
	payload := queryRequest{
		PartnerCode: a.cfg.PartnerCode,
		RequestID:   requestID,
		OrderID:     providerRef,
		Lang:        "vi",
		Signature:   a.sign(rawSignature),
	}

	var reply queryResponse
	if err := a.call(ctx, "/query", payload, &reply); err != nil {
		return nil, err
	}

	code := fmt.Sprintf("%d", reply.ResultCode)
	raw, _ := json.Marshal(reply)
	return &providers.Event{
		Provider:      enums.PaymentProviderMoMo,
		TransactionID: transactionID,
		EventID:       queryEventID(reply, providerRef, code),
		ProviderRef:   fmt.Sprintf("%d", reply.TransID),
		Amount:        decimal.NewFromInt(reply.Amount),
		Code:          code,
		Message:       reply.Message,
		Outcome:       outcomeForCode(code),
		Raw:           raw,
		OccurredAt:    a.now(),
	}, nil
}

type refundRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	Lang        string `json:"lang"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
}

// Refund reverses a captured payment, keyed on the gateway transId recorded
// when the payment completed.
func (a *Adapter) Refund(ctx context.Context, req providers.RefundRequest) error {
	transID, err := strconv.ParseInt(req.ProviderTxnID, 10, 64)
	if err != nil {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid momo trans id %q", req.ProviderTxnID))
	}
	if !req.Amount.IsPositive() {
		return apperrors.New(apperrors.CodeValidation, "refund amount must be positive")
	}

	requestID := uuid.NewString()
	orderID := requestID
	amt := req.Amount.Truncate(0).IntPart()
	rawSignature := fmt.Sprintf(
		"accessKey=%s&amount=%d&description=%s&orderId=%s&partnerCode=%s&requestId=%s&transId=%d",
		a.cfg.AccessKey, amt, req.Reason, orderID, a.cfg.PartnerCode, requestID, transID,
	)
	payload := refundRequest{
		PartnerCode: a.cfg.PartnerCode,
		OrderID:     orderID,
		RequestID:   requestID,
		Amount:      amt,
		TransID:     transID,
		Lang:        "vi",
		Description: req.Reason,
		Signature:   a.sign(rawSignature),
	}

	var reply queryResponse
	if err := a.call(ctx, "/refund", payload, &reply); err != nil {
		return err
	}
	if reply.ResultCode != CodeSuccess {
		return apperrors.New(apperrors.CodeDependency, fmt.Sprintf("momo refund rejected: %d %s", reply.ResultCode, reply.Message))
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, path string, payload, out any) error {
	return retry.Do(ctx, a.backoff, func(ctx context.Context) error {
		return a.post(ctx, path, payload, out)
	})
}

func (a *Adapter) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal momo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build momo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeProviderUnavailable, err, "momo api request failed")
	}
	defer resp.Body.Close()

	if providers.TransientStatus(resp.StatusCode) {
		return apperrors.New(apperrors.CodeProviderUnavailable, fmt.Sprintf("momo returned status %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read momo response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode momo response: %w", err)
	}
	return nil
}

func queryEventID(reply queryResponse, orderID, code string) string {
	if reply.TransID != 0 {
		return fmt.Sprintf("%d", reply.TransID)
	}
	return orderID + ":" + code
}

func (a *Adapter) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func flatten(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return params
}

func eventID(values url.Values, orderID, code string) string {
	if transID := values.Get("transId"); transID != "" {
		return transID
	}
	return orderID + ":" + code
}

func outcomeForCode(code string) providers.Outcome {
	switch code {
	case "0":
		return providers.OutcomeCompleted
	case "9000":
		return providers.OutcomePending
	case "1006":
		return providers.OutcomeCancelled
	default:
		return providers.OutcomeFailed
	}
}
