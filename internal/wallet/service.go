package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

// Service exposes wallet balances and idempotent movements. Every movement
// writes a ledger entry carrying the balance before and after; movements
// tied to a transaction are deduplicated on the transaction id.
type Service interface {
	WithTx(tx *gorm.DB) Service
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, input MovementInput) (*models.WalletEntry, error)
	Debit(ctx context.Context, input MovementInput) (*models.WalletEntry, error)
	RefundCredit(ctx context.Context, input MovementInput) (*models.WalletEntry, error)
	Entries(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletEntry, error)
}

// MovementInput describes one wallet credit or debit.
type MovementInput struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	TransactionID uuid.UUID
	Description   string
}

// ServiceParams carries the dependencies of the wallet service.
type ServiceParams struct {
	DB     *db.Client
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	db   *db.Client
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds a wallet service and validates its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("wallet: db client is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet: repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("wallet: logger is required")
	}
	return &service{
		db:   params.DB,
		repo: params.Repo,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		db:   nil,
		repo: s.repo.WithTx(tx),
		logg: s.logg,
		now:  s.now,
	}
}

// inTx runs a movement against a transaction-bound repository so the ledger
// entry and the balance move commit or roll back together. When the service
// is already bound to a caller's transaction it joins that one instead.
func (s *service) inTx(ctx context.Context, fn func(repo Repository) error) error {
	if s.db == nil {
		return fn(s.repo)
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.repo.WithTx(tx))
	})
}

func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load wallet")
	}

	fresh := &models.Wallet{UserID: userID, Balance: decimal.Zero}
	if createErr := s.repo.Create(ctx, fresh); createErr != nil {
		// Lost a create race; the winner's row is the wallet.
		if db.IsUniqueViolation(createErr, "uq_wallet_user") {
			return s.repo.GetByUserID(ctx, userID)
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, createErr, "failed to create wallet")
	}
	return fresh, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.GetOrCreate(ctx, userID)
}

// Credit adds funds and records a credit entry. Replays keyed on the same
// transaction id return the original entry without moving the balance.
func (s *service) Credit(ctx context.Context, input MovementInput) (*models.WalletEntry, error) {
	return s.credit(ctx, input, enums.WalletEntryTypeCredit)
}

// RefundCredit returns a settled fee to the wallet as its own entry type
// so refunds stay distinguishable from top-ups in the ledger.
func (s *service) RefundCredit(ctx context.Context, input MovementInput) (*models.WalletEntry, error) {
	return s.credit(ctx, input, enums.WalletEntryTypeRefundCredit)
}

func (s *service) credit(ctx context.Context, input MovementInput, entryType enums.WalletEntryType) (*models.WalletEntry, error) {
	if err := validateMovement(input); err != nil {
		return nil, err
	}
	wallet, err := s.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if existing, found, err := s.replayedEntry(ctx, input.TransactionID); err != nil {
		return nil, err
	} else if found {
		s.logg.Info(s.logg.WithTransactionID(ctx, input.TransactionID.String()), "duplicate wallet credit ignored")
		return existing, nil
	}

	entry := s.newEntry(wallet, input, entryType, wallet.Balance.Add(input.Amount))
	err = s.inTx(ctx, func(repo Repository) error {
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := repo.Credit(ctx, wallet.ID, input.Amount); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to credit wallet")
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "uq_wallet_entry_txn") {
			return s.repo.FindEntryByTransactionID(ctx, input.TransactionID)
		}
		if apperrors.As(err) != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record wallet entry")
	}
	return entry, nil
}

// Debit withdraws funds with an in-database balance guard. A replay keyed
// on the same transaction id returns the original entry; a balance short of
// the amount fails with an insufficient balance error.
func (s *service) Debit(ctx context.Context, input MovementInput) (*models.WalletEntry, error) {
	if err := validateMovement(input); err != nil {
		return nil, err
	}
	wallet, err := s.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if existing, found, err := s.replayedEntry(ctx, input.TransactionID); err != nil {
		return nil, err
	} else if found {
		s.logg.Info(s.logg.WithTransactionID(ctx, input.TransactionID.String()), "duplicate wallet debit ignored")
		return existing, nil
	}

	// The entry insert and the guarded balance decrement share one
	// transaction: a balance short of the amount rolls the entry back out
	// instead of leaving a phantom debit in the ledger.
	entry := s.newEntry(wallet, input, enums.WalletEntryTypeDebit, wallet.Balance.Sub(input.Amount))
	err = s.inTx(ctx, func(repo Repository) error {
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return err
		}
		debited, err := repo.Debit(ctx, wallet.ID, input.Amount)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to debit wallet")
		}
		if !debited {
			return apperrors.New(apperrors.CodeInsufficientBalance,
				fmt.Sprintf("wallet balance below %s", input.Amount.StringFixed(2)))
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "uq_wallet_entry_txn") {
			return s.repo.FindEntryByTransactionID(ctx, input.TransactionID)
		}
		if apperrors.As(err) != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record wallet entry")
	}
	return entry, nil
}

func (s *service) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletEntry, error) {
	wallet, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, wallet.ID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list wallet entries")
	}
	return entries, nil
}

func (s *service) replayedEntry(ctx context.Context, transactionID uuid.UUID) (*models.WalletEntry, bool, error) {
	if transactionID == uuid.Nil {
		return nil, false, nil
	}
	entry, err := s.repo.FindEntryByTransactionID(ctx, transactionID)
	if err == nil {
		return entry, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to check wallet entry replay")
}

func (s *service) newEntry(wallet *models.Wallet, input MovementInput, entryType enums.WalletEntryType, after decimal.Decimal) *models.WalletEntry {
	entry := &models.WalletEntry{
		ID:            uuid.New(),
		WalletID:      wallet.ID,
		Type:          entryType,
		Amount:        input.Amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		Description:   input.Description,
		CreatedAt:     s.now(),
	}
	if input.TransactionID != uuid.Nil {
		txnID := input.TransactionID
		entry.TransactionID = &txnID
	}
	return entry
}

func validateMovement(input MovementInput) error {
	if input.UserID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}
	return nil
}
