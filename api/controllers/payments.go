package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/api/middleware"
	"github.com/smartrent/smartrent-backend/api/responses"
	"github.com/smartrent/smartrent-backend/api/validators"
	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	pkgerrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type createPaymentRequest struct {
	Purpose      string  `json:"purpose" validate:"required"`
	Provider     string  `json:"provider" validate:"required"`
	PackageID    *string `json:"package_id,omitempty"`
	ListingID    *string `json:"listing_id,omitempty"`
	VipType      string  `json:"vip_type,omitempty"`
	DurationDays int     `json:"duration_days,omitempty" validate:"omitempty,min=1,max=365"`
	Quantity     int     `json:"quantity,omitempty" validate:"omitempty,min=1,max=100"`
	Amount       string  `json:"amount,omitempty"`
	OrderInfo    string  `json:"order_info,omitempty" validate:"omitempty,max=255"`
	BankCode     string  `json:"bank_code,omitempty" validate:"omitempty,max=32"`
	Locale       string  `json:"locale,omitempty" validate:"omitempty,max=8"`
}

type transactionResponse struct {
	ID            string     `json:"id"`
	Purpose       string     `json:"purpose"`
	Status        string     `json:"status"`
	Provider      string     `json:"provider"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	ReferenceID   *string    `json:"reference_id,omitempty"`
	PackageID     *string    `json:"package_id,omitempty"`
	ProviderRef   *string    `json:"provider_ref,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type createPaymentResponse struct {
	Transaction transactionResponse `json:"transaction"`
	PaymentURL  string              `json:"payment_url,omitempty"`
	ProviderRef string              `json:"provider_ref,omitempty"`
	Extra       map[string]string   `json:"extra,omitempty"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:            txn.ID.String(),
		Purpose:       txn.Purpose.String(),
		Status:        txn.Status.String(),
		Provider:      txn.Provider.String(),
		Amount:        txn.Amount.String(),
		Currency:      txn.Currency,
		ProviderRef:   txn.ProviderRef,
		FailureReason: txn.FailureReason,
		ExpiresAt:     txn.ExpiresAt,
		CompletedAt:   txn.CompletedAt,
		RefundedAt:    txn.RefundedAt,
		CreatedAt:     txn.CreatedAt,
	}
	if txn.ReferenceID != nil {
		id := txn.ReferenceID.String()
		resp.ReferenceID = &id
	}
	if txn.PackageID != nil {
		id := txn.PackageID.String()
		resp.PackageID = &id
	}
	return resp
}

// CreatePayment opens a pending transaction and returns the provider redirect.
func CreatePayment(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toCreateInput(userID, clientAddr(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := createPaymentResponse{Transaction: newTransactionResponse(result.Transaction)}
		if result.Initiation != nil {
			resp.PaymentURL = result.Initiation.PaymentURL
			resp.ProviderRef = result.Initiation.ProviderRef
			resp.Extra = result.Initiation.Extra
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// PaymentDetail returns one of the caller's transactions.
func PaymentDetail(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txnID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Get(r.Context(), userID, txnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// PaymentHistory lists the caller's transactions newest first.
func PaymentHistory(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 10000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := transactions.ListFilter{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(r.URL.Query().Get("purpose")); raw != "" {
			purpose, parseErr := enums.ParseTransactionPurpose(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid purpose filter"))
				return
			}
			filter.Purpose = &purpose
		}

		txns, err := svc.History(r.Context(), userID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]transactionResponse, 0, len(txns))
		for i := range txns {
			items = append(items, newTransactionResponse(&txns[i]))
		}
		responses.WriteSuccess(w, items)
	}
}

// PaymentCallback handles the browser redirect after the user leaves the
// provider's payment page. The outcome settles through the same arbitration
// path as the IPN; whichever arrives first wins the status transition.
func PaymentCallback(svc transactions.Service, registry *providers.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := parseProviderEvent(r, registry)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.ApplyProviderEvent(r.Context(), event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// PaymentIPN handles the provider's server-to-server notification. Providers
// retry until acknowledged, so replays are expected and must be harmless.
func PaymentIPN(svc transactions.Service, registry *providers.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := parseProviderEvent(r, registry)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.ApplyProviderEvent(r.Context(), event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"status":         "acknowledged",
			"transaction_id": txn.ID.String(),
		})
	}
}

// RefundPayment reverses a completed transaction into the caller's wallet.
func RefundPayment(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txnID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload struct {
			Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
		}
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		txn, err := svc.Refund(r.Context(), transactions.RefundInput{
			UserID:        userID,
			TransactionID: txnID,
			Reason:        validators.SanitizeString(payload.Reason, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// CancelPayment abandons a pending transaction before the provider settles it.
func CancelPayment(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txnID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Cancel(r.Context(), userID, txnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

func (p createPaymentRequest) toCreateInput(userID uuid.UUID, clientIP string) (transactions.CreateInput, error) {
	purpose, err := enums.ParseTransactionPurpose(strings.TrimSpace(p.Purpose))
	if err != nil {
		return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purpose")
	}
	provider, err := enums.ParsePaymentProvider(strings.TrimSpace(p.Provider))
	if err != nil {
		return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider")
	}

	input := transactions.CreateInput{
		UserID:       userID,
		Purpose:      purpose,
		Provider:     provider,
		DurationDays: p.DurationDays,
		Quantity:     p.Quantity,
		OrderInfo:    validators.SanitizeString(p.OrderInfo, 255),
		ClientIP:     clientIP,
		BankCode:     strings.TrimSpace(p.BankCode),
		Locale:       strings.TrimSpace(p.Locale),
	}

	if p.PackageID != nil {
		id, parseErr := uuid.Parse(*p.PackageID)
		if parseErr != nil {
			return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid package id")
		}
		input.PackageID = &id
	}
	if p.ListingID != nil {
		id, parseErr := uuid.Parse(*p.ListingID)
		if parseErr != nil {
			return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid listing id")
		}
		input.ListingID = &id
	}
	if raw := strings.TrimSpace(p.VipType); raw != "" {
		vipType, parseErr := enums.ParseVipType(raw)
		if parseErr != nil {
			return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid vip type")
		}
		input.VipType = vipType
	}
	if raw := strings.TrimSpace(p.Amount); raw != "" {
		amount, parseErr := decimal.NewFromString(raw)
		if parseErr != nil {
			return transactions.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid amount")
		}
		input.DeclaredAmount = amount
	}
	return input, nil
}

func parseProviderEvent(r *http.Request, registry *providers.Registry) (*providers.Event, error) {
	name := strings.TrimSpace(chi.URLParam(r, "provider"))
	provider, err := enums.ParsePaymentProvider(name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment provider")
	}
	adapter, err := registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed callback payload")
		}
		params = r.Form
	}
	return adapter.ParseCallback(r.Context(), params)
}

func authenticatedUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return userID, nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param)
	}
	return id, nil
}

func clientAddr(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		if idx := strings.IndexByte(header, ','); idx > 0 {
			return strings.TrimSpace(header[:idx])
		}
		return strings.TrimSpace(header)
	}
	if idx := strings.LastIndexByte(r.RemoteAddr, ':'); idx > 0 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
