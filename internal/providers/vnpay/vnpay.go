package vnpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
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
	version  = "2.1.0"
	command  = "pay"
	currency = "VND"

	// Response codes from the VNPay gateway.
	CodeSuccess          = "00"
	CodePending          = "01"
	CodeFailed           = "02"
	CodeExpired          = "11"
	CodeCancelled        = "24"
	CodeInvalidSignature = "97"

	timeFormat = "20060102150405"
)

// Adapter signs payment URLs and verifies VNPay callbacks with HMAC-SHA512.
// Status queries and refunds go through the merchant web API, where requests
// are signed over a pipe-joined field string instead of sorted query params.
type Adapter struct {
	cfg     config.VNPayConfig
	client  *http.Client
	backoff retry.Policy
	now     func() time.Time
}

func New(cfg config.VNPayConfig) (*Adapter, error) {
	if cfg.TmnCode == "" {
		return nil, fmt.Errorf("vnpay tmn code required")
	}
	if cfg.HashSecret == "" {
		return nil, fmt.Errorf("vnpay hash secret required")
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
	return enums.PaymentProviderVNPay
}

// Initiate builds a signed redirect URL for the hosted payment page. The
// amount is sent in VNPay's minor unit, one hundredth of a dong.
func (a *Adapter) Initiate(ctx context.Context, req providers.InitiationRequest) (*providers.Initiation, error) {
	if req.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("transaction id required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}

	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}

	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    command,
		"vnp_TmnCode":    a.cfg.TmnCode,
		"vnp_Amount":     wireAmount(req.Amount),
		"vnp_CurrCode":   currency,
		"vnp_TxnRef":     req.TransactionID.String(),
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  a.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": a.now().Format(timeFormat),
	}
	if req.BankCode != "" {
		params["vnp_BankCode"] = req.BankCode
	}

	hash := a.sign(params)
	query := buildQuery(params) + "&vnp_SecureHash=" + hash

	return &providers.Initiation{
		PaymentURL:  a.cfg.PayURL + "?" + query,
		ProviderRef: req.TransactionID.String(),
	}, nil
}

// ParseCallback verifies the secure hash and normalizes the callback. A bad
// or missing signature is rejected before anything else is read.
func (a *Adapter) ParseCallback(ctx context.Context, values url.Values) (*providers.Event, error) {
	params := flatten(values)

	received := params["vnp_SecureHash"]
	if received == "" {
		return nil, apperrors.New(apperrors.CodeUntrustedCallback, "missing vnpay secure hash")
	}
	delete(params, "vnp_SecureHash")
	delete(params, "vnp_SecureHashType")

	expected := a.sign(params)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(received)), []byte(expected)) != 1 {
		return nil, apperrors.New(apperrors.CodeUntrustedCallback, "invalid vnpay signature")
	}

	txnRef := params["vnp_TxnRef"]
	transactionID, err := uuid.Parse(txnRef)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid vnpay txn ref %q", txnRef))
	}

	amount, err := parseWireAmount(params["vnp_Amount"])
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid vnpay amount %q", params["vnp_Amount"]))
	}

	code := params["vnp_ResponseCode"]
	raw, _ := json.Marshal(params)

	event := &providers.Event{
		Provider:      enums.PaymentProviderVNPay,
		TransactionID: transactionID,
		EventID:       eventID(params, txnRef),
		ProviderRef:   params["vnp_TransactionNo"],
		Amount:        amount,
		Code:          code,
		Message:       responseMessage(code),
		Outcome:       outcomeForCode(code),
		Raw:           raw,
		OccurredAt:    a.now(),
	}
	return event, nil
}

type apiResponse struct {
	ResponseCode    string `json:"vnp_ResponseCode"`
	Message         string `json:"vnp_Message"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          string `json:"vnp_Amount"`
	TransactionNo   string `json:"vnp_TransactionNo"`
	TransactionType string `json:"vnp_TransactionType"`
}

// QueryStatus asks the merchant API for the current state of a payment. The
// provider ref is the vnp_TxnRef issued at initiation, which is the
// transaction id itself.
func (a *Adapter) QueryStatus(ctx context.Context, providerRef string) (*providers.Event, error) {
	transactionID, err := uuid.Parse(providerRef)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid vnpay txn ref %q", providerRef))
	}

	requestID := uuid.NewString()
	createDate := a.now().Format(timeFormat)
	orderInfo := "query " + providerRef
	hashData := strings.Join([]string{
		requestID, version, "querydr", a.cfg.TmnCode, providerRef, createDate, createDate, "", orderInfo,
	}, "|")

	payload := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TxnRef":          providerRef,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": createDate,
		"vnp_CreateDate":      createDate,
		"vnp_SecureHash":      a.signRaw(hashData),
	}

	var reply apiResponse
	if err := a.call(ctx, payload, &reply); err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if reply.Amount != "" {
		if amount, err = parseWireAmount(reply.Amount); err != nil {
			return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid vnpay amount %q", reply.Amount))
		}
	}

	raw, _ := json.Marshal(reply)
	return &providers.Event{
		Provider:      enums.PaymentProviderVNPay,
		TransactionID: transactionID,
		EventID:       queryEventID(reply, providerRef),
		ProviderRef:   reply.TransactionNo,
		Amount:        amount,
		Code:          reply.ResponseCode,
		Message:       responseMessage(reply.ResponseCode),
		Outcome:       outcomeForCode(reply.ResponseCode),
		Raw:           raw,
		OccurredAt:    a.now(),
	}, nil
}

// Refund submits a full refund through the merchant API. The merchant TxnRef
// identifies the payment; the gateway transaction number rides along when the
// completion callback recorded one.
func (a *Adapter) Refund(ctx context.Context, req providers.RefundRequest) error {
	if req.ProviderRef == "" {
		return apperrors.New(apperrors.CodeValidation, "vnpay txn ref required")
	}
	if !req.Amount.IsPositive() {
		return apperrors.New(apperrors.CodeValidation, "refund amount must be positive")
	}

	requestID := uuid.NewString()
	createDate := a.now().Format(timeFormat)
	orderInfo := req.Reason
	if orderInfo == "" {
		orderInfo = "refund " + req.ProviderRef
	}
	transactionType := "02" // full refund
	hashData := strings.Join([]string{
		requestID, version, "refund", a.cfg.TmnCode, transactionType, req.ProviderRef,
		wireAmount(req.Amount), req.ProviderTxnID, createDate, "system", createDate, "", orderInfo,
	}, "|")

	payload := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "refund",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TransactionType": transactionType,
		"vnp_TxnRef":          req.ProviderRef,
		"vnp_Amount":          wireAmount(req.Amount),
		"vnp_TransactionDate": createDate,
		"vnp_CreateBy":        "system",
		"vnp_CreateDate":      createDate,
		"vnp_OrderInfo":       orderInfo,
		"vnp_SecureHash":      a.signRaw(hashData),
	}
	if req.ProviderTxnID != "" {
		payload["vnp_TransactionNo"] = req.ProviderTxnID
	}

	var reply apiResponse
	if err := a.call(ctx, payload, &reply); err != nil {
		return err
	}
	if reply.ResponseCode != CodeSuccess {
		return apperrors.New(apperrors.CodeDependency,
			fmt.Sprintf("vnpay refund rejected: %s %s", reply.ResponseCode, responseMessage(reply.ResponseCode)))
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, payload map[string]string, out *apiResponse) error {
	return retry.Do(ctx, a.backoff, func(ctx context.Context) error {
		return a.post(ctx, payload, out)
	})
}

func (a *Adapter) post(ctx context.Context, payload map[string]string, out *apiResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal vnpay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build vnpay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeProviderUnavailable, err, "vnpay api request failed")
	}
	defer resp.Body.Close()

	if providers.TransientStatus(resp.StatusCode) {
		return apperrors.New(apperrors.CodeProviderUnavailable, fmt.Sprintf("vnpay returned status %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read vnpay response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode vnpay response: %w", err)
	}
	return nil
}

func queryEventID(reply apiResponse, txnRef string) string {
	if reply.TransactionNo != "" {
		return reply.TransactionNo
	}
	return txnRef + ":" + reply.ResponseCode
}

func (a *Adapter) signRaw(data string) string {
	mac := hmac.New(sha512.New, []byte(a.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) sign(params map[string]string) string {
	return a.signRaw(hashData(params))
}

// hashData sorts non-empty fields and url-encodes values, matching the
// gateway's signing convention.
func hashData(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func buildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func flatten(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return params
}

// wireAmount renders the amount in VNPay's wire format, the VND value
// multiplied by one hundred.
func wireAmount(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Truncate(0).String()
}

func parseWireAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	wire, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return wire.Div(decimal.NewFromInt(100)), nil
}

func eventID(params map[string]string, txnRef string) string {
	if no := params["vnp_TransactionNo"]; no != "" {
		return no
	}
	return txnRef + ":" + params["vnp_ResponseCode"]
}

func outcomeForCode(code string) providers.Outcome {
	switch code {
	case CodeSuccess:
		return providers.OutcomeCompleted
	case CodePending:
		return providers.OutcomePending
	case CodeCancelled:
		return providers.OutcomeCancelled
	default:
		return providers.OutcomeFailed
	}
}

func responseMessage(code string) string {
	switch code {
	case CodeSuccess:
		return "Transaction successful"
	case CodePending:
		return "Transaction pending"
	case "07":
		return "Deduct money successfully, transaction is suspected"
	case "09":
		return "Card/account has not registered for InternetBanking"
	case "10":
		return "Authentication failed more than 3 times"
	case CodeExpired:
		return "Payment deadline has expired"
	case "12":
		return "Card/account is locked"
	case "13":
		return "Incorrect transaction authentication password"
	case CodeCancelled:
		return "Transaction cancelled"
	case "51":
		return "Insufficient balance"
	case "65":
		return "Daily transaction limit exceeded"
	case "75":
		return "Payment bank is under maintenance"
	case "79":
		return "Payment password entered incorrectly too many times"
	case CodeInvalidSignature:
		return "Invalid signature"
	default:
		return "Unknown transaction status"
	}
}
