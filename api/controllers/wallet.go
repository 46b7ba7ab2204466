package controllers

import (
	"net/http"
	"time"

	"github.com/smartrent/smartrent-backend/api/responses"
	"github.com/smartrent/smartrent-backend/api/validators"
	"github.com/smartrent/smartrent-backend/internal/wallet"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type walletResponse struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type walletEntryResponse struct {
	ID            string    `json:"id"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// WalletBalance returns the caller's wallet, provisioning it on first read.
func WalletBalance(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.GetOrCreate(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			Balance:  account.Balance.String(),
			Currency: account.Currency,
		})
	}
}

// WalletEntries lists the caller's ledger, newest first.
func WalletEntries(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.Entries(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]walletEntryResponse, 0, len(entries))
		for _, entry := range entries {
			item := walletEntryResponse{
				ID:            entry.ID.String(),
				Type:          string(entry.Type),
				Amount:        entry.Amount.String(),
				BalanceBefore: entry.BalanceBefore.String(),
				BalanceAfter:  entry.BalanceAfter.String(),
				Description:   entry.Description,
				CreatedAt:     entry.CreatedAt,
			}
			if entry.TransactionID != nil {
				id := entry.TransactionID.String()
				item.TransactionID = &id
			}
			items = append(items, item)
		}
		responses.WriteSuccess(w, items)
	}
}
