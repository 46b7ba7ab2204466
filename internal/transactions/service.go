package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/listings"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/pricing"
	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/internal/wallet"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/metrics"
	"github.com/smartrent/smartrent-backend/pkg/redis"
)

const (
	expiredPendingReason = "payment window expired"
	expireBatchSize      = 200
)

// Settler applies a completed transaction's benefits right after the
// callback commits. Failures here are retried by the settlement worker,
// never surfaced to the provider.
type Settler interface {
	Dispatch(ctx context.Context, transactionID uuid.UUID) error
}

// Service is the transaction engine: it prices and creates payment intents,
// arbitrates provider callbacks into exactly one status transition, and
// drives refunds, cancellations, and pending expiry.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Transaction, error)
	History(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error)
	ApplyProviderEvent(ctx context.Context, event *providers.Event) (*models.Transaction, error)
	Cancel(ctx context.Context, userID, id uuid.UUID) (*models.Transaction, error)
	Refund(ctx context.Context, input RefundInput) (*models.Transaction, error)
	ExpirePending(ctx context.Context) (int64, error)
}

// CreateInput describes a payment intent. DeclaredAmount is what the client
// believes it owes; when set, it must match the authoritative price.
type CreateInput struct {
	UserID         uuid.UUID
	Purpose        enums.TransactionPurpose
	Provider       enums.PaymentProvider
	PackageID      *uuid.UUID
	ListingID      *uuid.UUID
	VipType        enums.VipType
	DurationDays   int
	Quantity       int
	DeclaredAmount decimal.Decimal
	OrderInfo      string
	ClientIP       string
	BankCode       string
	Locale         string
}

// CreateResult pairs the pending transaction with the provider redirect.
type CreateResult struct {
	Transaction *models.Transaction
	Initiation  *providers.Initiation
}

// RefundInput requests a refund of a completed transaction.
type RefundInput struct {
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Reason        string
}

// ServiceParams carries the dependencies of the transaction engine.
type ServiceParams struct {
	DB          *db.Client
	Repo        Repository
	Registry    *providers.Registry
	Memberships memberships.Service
	Listings    listings.Service
	Wallet      wallet.Service
	Redis       *redis.Client
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
	Payment     config.PaymentConfig
}

type service struct {
	db          *db.Client
	repo        Repository
	registry    *providers.Registry
	memberships memberships.Service
	listings    listings.Service
	wallet      wallet.Service
	redis       *redis.Client
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	cfg         config.PaymentConfig
	settler     Settler
	now         func() time.Time
}

// NewService builds the transaction engine and validates its dependencies.
func NewService(params ServiceParams) (*ServiceHandle, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transactions: database client is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions: repository is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("transactions: provider registry is required")
	}
	if params.Memberships == nil {
		return nil, fmt.Errorf("transactions: membership service is required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("transactions: listing service is required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("transactions: wallet service is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("transactions: logger is required")
	}
	return &ServiceHandle{&service{
		db:          params.DB,
		repo:        params.Repo,
		registry:    params.Registry,
		memberships: params.Memberships,
		listings:    params.Listings,
		wallet:      params.Wallet,
		redis:       params.Redis,
		metrics:     params.Metrics,
		logg:        params.Logger,
		cfg:         params.Payment,
		now:         time.Now,
	}}, nil
}

// ServiceHandle is the constructed engine. The settler is attached after
// construction because settlement is built on top of the engine's repo.
type ServiceHandle struct {
	*service
}

// AttachSettler wires the inline settlement dispatcher.
func (h *ServiceHandle) AttachSettler(settler Settler) {
	h.service.settler = settler
}

// PricingSnapshot is stored on the transaction at creation time and read
// back by settlement to know what a completed payment bought.
type PricingSnapshot struct {
	Purpose      string     `json:"purpose"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	PackageID    *uuid.UUID `json:"package_id,omitempty"`
	ListingID    *uuid.UUID `json:"listing_id,omitempty"`
	VipType      string     `json:"vip_type,omitempty"`
	DurationDays int        `json:"duration_days,omitempty"`
	Quantity     int        `json:"quantity,omitempty"`
	PricedAt     time.Time  `json:"priced_at"`
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if input.UserID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if !input.Purpose.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid transaction purpose %q", input.Purpose))
	}
	adapter, err := s.registry.Resolve(input.Provider)
	if err != nil {
		return nil, err
	}

	amount, snapshot, err := s.price(ctx, input)
	if err != nil {
		return nil, err
	}
	if !input.DeclaredAmount.IsZero() && !input.DeclaredAmount.Equal(amount) {
		return nil, apperrors.New(apperrors.CodePricingMismatch,
			fmt.Sprintf("declared amount %s does not match price %s", input.DeclaredAmount.StringFixed(0), amount.StringFixed(0)))
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode pricing snapshot")
	}

	now := s.now()
	txn := &models.Transaction{
		ID:              uuid.New(),
		UserID:          input.UserID,
		Purpose:         input.Purpose,
		Status:          enums.TransactionStatusPending,
		Provider:        input.Provider,
		Amount:          amount,
		Currency:        pricing.DefaultCurrency,
		ReferenceID:     input.ListingID,
		PackageID:       input.PackageID,
		PricingSnapshot: snapshotJSON,
		ExpiresAt:       now.Add(s.cfg.PendingTTL),
	}
	if err := s.repo.Insert(ctx, txn); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create transaction")
	}

	initiation, err := adapter.Initiate(ctx, providers.InitiationRequest{
		TransactionID: txn.ID,
		Amount:        amount,
		Currency:      txn.Currency,
		OrderInfo:     orderInfo(input),
		ClientIP:      input.ClientIP,
		Locale:        input.Locale,
		BankCode:      input.BankCode,
	})
	if err != nil {
		// The pending row stays; expiry will fail it if never paid.
		return nil, err
	}
	if initiation.ProviderRef != "" {
		ref := initiation.ProviderRef
		if _, err := s.repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusPending,
			map[string]any{"provider_ref": ref}); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to store provider reference")
		}
		txn.ProviderRef = &ref
	}

	s.logg.Info(s.logg.WithTransactionID(ctx, txn.ID.String()), "payment intent created")
	return &CreateResult{Transaction: txn, Initiation: initiation}, nil
}

func (s *service) price(ctx context.Context, input CreateInput) (decimal.Decimal, *PricingSnapshot, error) {
	snapshot := &PricingSnapshot{
		Purpose:      input.Purpose.String(),
		Currency:     pricing.DefaultCurrency,
		PackageID:    input.PackageID,
		ListingID:    input.ListingID,
		VipType:      input.VipType.String(),
		DurationDays: input.DurationDays,
		Quantity:     input.Quantity,
		PricedAt:     s.now(),
	}

	var amount decimal.Decimal
	switch input.Purpose {
	case enums.TransactionPurposeMembership:
		if input.PackageID == nil {
			return decimal.Zero, nil, apperrors.New(apperrors.CodeValidation, "package id is required for membership purchase")
		}
		pkg, err := s.memberships.GetPackage(ctx, *input.PackageID)
		if err != nil {
			return decimal.Zero, nil, err
		}
		if !pkg.Active {
			return decimal.Zero, nil, apperrors.New(apperrors.CodeValidation, "membership package is not for sale")
		}
		active, err := s.memberships.HasActiveMembership(ctx, input.UserID)
		if err != nil {
			return decimal.Zero, nil, err
		}
		if active {
			return decimal.Zero, nil, apperrors.New(apperrors.CodeStateConflict, "user already has an active membership")
		}
		amount = pkg.Price
	case enums.TransactionPurposePostFee:
		if err := s.assertListing(ctx, input); err != nil {
			return decimal.Zero, nil, err
		}
		fee, err := pricing.PostFee(input.VipType, input.DurationDays)
		if err != nil {
			return decimal.Zero, nil, err
		}
		amount = fee
	case enums.TransactionPurposePushFee:
		if err := s.assertListing(ctx, input); err != nil {
			return decimal.Zero, nil, err
		}
		fee, err := pricing.PushFee(quantityOrOne(input.Quantity))
		if err != nil {
			return decimal.Zero, nil, err
		}
		amount = fee
	case enums.TransactionPurposeBoostFee:
		if err := s.assertListing(ctx, input); err != nil {
			return decimal.Zero, nil, err
		}
		fee, err := pricing.BoostFee(quantityOrOne(input.Quantity))
		if err != nil {
			return decimal.Zero, nil, err
		}
		amount = fee
	default:
		return decimal.Zero, nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unpriceable purpose %q", input.Purpose))
	}

	snapshot.Amount = amount.StringFixed(2)
	return amount, snapshot, nil
}

func (s *service) assertListing(ctx context.Context, input CreateInput) error {
	if input.ListingID == nil {
		return apperrors.New(apperrors.CodeValidation, "listing id is required for listing fees")
	}
	_, err := s.listings.AssertOwnership(ctx, *input.ListingID, input.UserID)
	return err
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeUnknownTransaction, "transaction not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load transaction")
	}
	return txn, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	txns, err := s.repo.List(ctx, userID, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list transactions")
	}
	return txns, nil
}

// ApplyProviderEvent is the idempotency boundary for provider callbacks.
// Exactly one caller wins the pending transition; everyone else observes the
// settled row. The winning completion enqueues the settlement activation in
// the same database transaction.
func (s *service) ApplyProviderEvent(ctx context.Context, event *providers.Event) (*models.Transaction, error) {
	if event == nil {
		return nil, apperrors.New(apperrors.CodeValidation, "provider event is required")
	}
	if event.TransactionID == uuid.Nil {
		// Some gateways identify the payment only by our initiation
		// reference; resolve it before arbitration.
		if event.ProviderRef == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "provider event carries no transaction reference")
		}
		byRef, err := s.repo.GetByProviderRef(ctx, event.Provider, event.ProviderRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.incCallback(event.Provider, "unknown")
				return nil, apperrors.New(apperrors.CodeUnknownTransaction, "callback references an unknown transaction")
			}
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load transaction")
		}
		event.TransactionID = byRef.ID
	}
	ctx = s.logg.WithTransactionID(s.logg.WithProvider(ctx, event.Provider.String()), event.TransactionID.String())

	txn, err := s.repo.Get(ctx, event.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.incCallback(event.Provider, "unknown")
			return nil, apperrors.New(apperrors.CodeUnknownTransaction, "callback references an unknown transaction")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load transaction")
	}

	guarded, err := s.markEventSeen(ctx, event)
	if err == nil && !guarded {
		s.incCallback(event.Provider, "duplicate")
		s.logg.Info(ctx, "duplicate provider event ignored")
		return txn, nil
	}

	if txn.Status.IsTerminal() {
		s.incCallback(event.Provider, "replay")
		return txn, nil
	}

	if event.Outcome == providers.OutcomeCompleted && event.Amount.IsPositive() && !event.Amount.Equal(txn.Amount) {
		return s.failAmountMismatch(ctx, txn, event)
	}

	target, ok := targetStatus(event.Outcome)
	if !ok {
		// Still pending at the provider; keep the row open and audit the event.
		if err := s.repo.InsertProviderEvent(ctx, providerEventRow(txn.ID, event)); err != nil {
			s.logg.Warn(ctx, "failed to record pending provider event")
		}
		s.incCallback(event.Provider, "pending")
		return txn, nil
	}

	won := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		updates := transitionUpdates(event, target, s.now())

		var casErr error
		won, casErr = repoTx.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, target, updates)
		if casErr != nil {
			return casErr
		}
		if !won {
			return nil
		}
		if target == enums.TransactionStatusCompleted {
			if insErr := repoTx.InsertActivation(ctx, s.activationRow(txn)); insErr != nil && !db.IsUniqueViolation(insErr, "uq_activation_txn") {
				return insErr
			}
		}
		return repoTx.InsertProviderEvent(ctx, providerEventRow(txn.ID, event))
	})
	if err != nil {
		s.clearEventSeen(ctx, event)
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to apply provider event")
	}

	if !won {
		// Lost the race; the winner settled the row.
		s.incCallback(event.Provider, "replay")
		return s.reload(ctx, txn.ID)
	}

	s.incCallback(event.Provider, string(event.Outcome))
	s.incTransition(enums.TransactionStatusPending, target)
	s.logg.Info(ctx, fmt.Sprintf("transaction settled as %s", target))

	settled, err := s.reload(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if target == enums.TransactionStatusCompleted && s.settler != nil {
		if dispatchErr := s.settler.Dispatch(ctx, txn.ID); dispatchErr != nil {
			s.logg.Warn(ctx, "inline settlement failed; worker will retry")
		}
	}
	return settled, nil
}

func (s *service) failAmountMismatch(ctx context.Context, txn *models.Transaction, event *providers.Event) (*models.Transaction, error) {
	reason := fmt.Sprintf("amount mismatch: provider reported %s, expected %s",
		event.Amount.StringFixed(2), txn.Amount.StringFixed(2))

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		won, casErr := repoTx.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusFailed,
			map[string]any{"failure_reason": reason, "provider_code": event.Code})
		if casErr != nil {
			return casErr
		}
		if !won {
			return nil
		}
		s.incTransition(enums.TransactionStatusPending, enums.TransactionStatusFailed)
		return repoTx.InsertProviderEvent(ctx, providerEventRow(txn.ID, event))
	})
	if err != nil {
		s.clearEventSeen(ctx, event)
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to fail mismatched transaction")
	}

	s.incCallback(event.Provider, "amount_mismatch")
	s.logg.Warn(ctx, reason)
	return nil, apperrors.New(apperrors.CodeAmountMismatch, reason)
}

func (s *service) Cancel(ctx context.Context, userID, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == enums.TransactionStatusCancelled {
		return txn, nil
	}

	won, err := s.repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusCancelled, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to cancel transaction")
	}
	if !won {
		current, reloadErr := s.reload(ctx, txn.ID)
		if reloadErr != nil {
			return nil, reloadErr
		}
		if current.Status == enums.TransactionStatusCancelled {
			return current, nil
		}
		return nil, apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot cancel a %s transaction", current.Status))
	}

	s.incTransition(enums.TransactionStatusPending, enums.TransactionStatusCancelled)
	return s.reload(ctx, txn.ID)
}

// Refund reverses a completed transaction: provider-side when the adapter
// supports it, then the status flip and the wallet credit in one database
// transaction. Granted benefits are not clawed back.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Transaction, error) {
	txn, err := s.Get(ctx, input.UserID, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != enums.TransactionStatusCompleted {
		return nil, apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot refund a %s transaction", txn.Status))
	}

	adapter, err := s.registry.Resolve(txn.Provider)
	if err != nil {
		return nil, err
	}
	if txn.ProviderRef != nil || txn.ProviderTxnID != nil {
		refundReq := providers.RefundRequest{
			TransactionID: txn.ID,
			Amount:        txn.Amount,
			Reason:        input.Reason,
		}
		if txn.ProviderRef != nil {
			refundReq.ProviderRef = *txn.ProviderRef
		}
		if txn.ProviderTxnID != nil {
			refundReq.ProviderTxnID = *txn.ProviderTxnID
		}
		if refundErr := adapter.Refund(ctx, refundReq); refundErr != nil {
			return nil, refundErr
		}
	}

	now := s.now()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		won, casErr := repoTx.UpdateStatus(ctx, txn.ID, enums.TransactionStatusCompleted, enums.TransactionStatusRefunded,
			map[string]any{"refunded_at": now})
		if casErr != nil {
			return casErr
		}
		if !won {
			return apperrors.New(apperrors.CodeInvalidTransition, "transaction is no longer refundable")
		}
		_, creditErr := s.wallet.WithTx(tx).RefundCredit(ctx, wallet.MovementInput{
			UserID:        txn.UserID,
			Amount:        txn.Amount,
			TransactionID: txn.ID,
			Description:   refundDescription(txn, input.Reason),
		})
		return creditErr
	})
	if err != nil {
		if apperrors.As(err) != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to refund transaction")
	}

	s.incTransition(enums.TransactionStatusCompleted, enums.TransactionStatusRefunded)
	s.logg.Info(s.logg.WithTransactionID(ctx, txn.ID.String()), "transaction refunded to wallet")
	return s.reload(ctx, txn.ID)
}

// ExpirePending sweeps pending transactions whose payment window has closed.
// Each one is reconciled against its provider first, since the callback for a
// finished payment may have been lost; the provider's verdict wins over the
// clock. Only when the provider reports nothing final does the row fail as
// expired.
func (s *service) ExpirePending(ctx context.Context) (int64, error) {
	due, err := s.repo.ListExpiredPending(ctx, s.now(), expireBatchSize)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list expired pending transactions")
	}

	var expired int64
	for i := range due {
		txn := &due[i]
		if s.reconcileWithProvider(ctx, txn) {
			continue
		}
		won, casErr := s.repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusFailed,
			map[string]any{"failure_reason": expiredPendingReason, "updated_at": s.now()})
		if casErr != nil {
			s.logg.Error(s.logg.WithTransactionID(ctx, txn.ID.String()), "failed to expire pending transaction", casErr)
			continue
		}
		if !won {
			continue
		}
		s.incTransition(enums.TransactionStatusPending, enums.TransactionStatusFailed)
		expired++
	}
	if expired > 0 {
		s.logg.Info(ctx, fmt.Sprintf("expired %d pending transactions", expired))
	}
	return expired, nil
}

// reconcileWithProvider asks the provider for its verdict on an overdue
// pending transaction. A terminal verdict is settled through the same
// arbitration path as a live callback. It reports whether the row should be
/// left alone: either the provider resolved it, or applying the verdict failed
// and the next sweep must retry instead of failing a paid transaction.
func (s *service) reconcileWithProvider(ctx context.Context, txn *models.Transaction) bool {
	if txn.ProviderRef == nil {
		return false
	}
	adapter, err := s.registry.Resolve(txn.Provider)
	if err != nil {
		return false
	}
	event, err := adapter.QueryStatus(ctx, *txn.ProviderRef)
	if err != nil {
		s.logg.Warn(s.logg.WithTransactionID(ctx, txn.ID.String()), "provider status query failed; expiring on schedule")
		return false
	}
	if event == nil {
		return false
	}
	if _, terminal := targetStatus(event.Outcome); !terminal {
		return false
	}
	event.TransactionID = txn.ID
	if _, applyErr := s.ApplyProviderEvent(ctx, event); applyErr != nil {
		s.logg.Error(s.logg.WithTransactionID(ctx, txn.ID.String()), "failed to apply reconciled provider event", applyErr)
		return true
	}
	return true
}

func (s *service) reload(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload transaction")
	}
	return txn, nil
}

func (s *service) activationRow(txn *models.Transaction) *models.Activation {
	return &models.Activation{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Purpose:       txn.Purpose,
		Status:        enums.ActivationStatusPending,
		NextAttemptAt: s.now(),
	}
}

func (s *service) markEventSeen(ctx context.Context, event *providers.Event) (bool, error) {
	if s.redis == nil || event.EventID == "" {
		return true, nil
	}
	fresh, err := s.redis.MarkEventSeen(ctx, event.Provider.String(), event.EventID, s.cfg.EventGuardTTL)
	if err != nil {
		// Redis being down must not block settlement; the CAS still protects us.
		s.logg.Warn(ctx, "event guard unavailable; relying on status arbitration")
		return true, nil
	}
	return fresh, nil
}

func (s *service) clearEventSeen(ctx context.Context, event *providers.Event) {
	if s.redis == nil || event.EventID == "" {
		return
	}
	if err := s.redis.ClearEventSeen(ctx, event.Provider.String(), event.EventID); err != nil {
		s.logg.Warn(ctx, "failed to clear event guard")
	}
}

func (s *service) incCallback(provider enums.PaymentProvider, outcome string) {
	if s.metrics != nil {
		s.metrics.IncCallback(provider.String(), outcome)
	}
}

func (s *service) incTransition(from, to enums.TransactionStatus) {
	if s.metrics != nil {
		s.metrics.IncTransition(from.String(), to.String())
	}
}

func targetStatus(outcome providers.Outcome) (enums.TransactionStatus, bool) {
	switch outcome {
	case providers.OutcomeCompleted:
		return enums.TransactionStatusCompleted, true
	case providers.OutcomeFailed:
		return enums.TransactionStatusFailed, true
	case providers.OutcomeCancelled:
		return enums.TransactionStatusCancelled, true
	default:
		return "", false
	}
}

func transitionUpdates(event *providers.Event, target enums.TransactionStatus, now time.Time) map[string]any {
	updates := map[string]any{"provider_code": event.Code}
	// provider_ref is the reference issued at initiation and never changes;
	// the provider-assigned id lands in its own column.
	if event.ProviderRef != "" {
		updates["provider_txn_id"] = event.ProviderRef
	}
	switch target {
	case enums.TransactionStatusCompleted:
		updates["completed_at"] = now
	case enums.TransactionStatusFailed:
		updates["failure_reason"] = event.Message
	}
	return updates
}

func providerEventRow(transactionID uuid.UUID, event *providers.Event) *models.ProviderEvent {
	row := &models.ProviderEvent{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Provider:      event.Provider,
		ProviderCode:  event.Code,
		Outcome:       string(event.Outcome),
		Payload:       event.Raw,
	}
	if event.ProviderRef != "" {
		ref := event.ProviderRef
		row.ProviderRef = &ref
	}
	return row
}

func orderInfo(input CreateInput) string {
	if input.OrderInfo != "" {
		return input.OrderInfo
	}
	return fmt.Sprintf("smartrent %s payment", input.Purpose)
}

func refundDescription(txn *models.Transaction, reason string) string {
	if reason != "" {
		return fmt.Sprintf("refund of %s payment: %s", txn.Purpose, reason)
	}
	return fmt.Sprintf("refund of %s payment", txn.Purpose)
}

func quantityOrOne(quantity int) int {
	if quantity <= 0 {
		return 1
	}
	return quantity
}
