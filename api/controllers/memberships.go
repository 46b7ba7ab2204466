package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/api/responses"
	"github.com/smartrent/smartrent-backend/api/validators"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	pkgerrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type membershipPackageResponse struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Level          string                     `json:"level"`
	DurationMonths int                        `json:"duration_months"`
	Price          string                     `json:"price"`
	Benefits       []packageBenefitResponse   `json:"benefits"`
}

type packageBenefitResponse struct {
	Benefit          string `json:"benefit"`
	QuantityPerMonth int    `json:"quantity_per_month"`
}

type membershipGrantResponse struct {
	ID        string    `json:"id"`
	PackageID string    `json:"package_id"`
	Status    string    `json:"status"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

func newPackageResponse(pkg *models.MembershipPackage) membershipPackageResponse {
	benefits := make([]packageBenefitResponse, 0, len(pkg.Benefits))
	for _, benefit := range pkg.Benefits {
		benefits = append(benefits, packageBenefitResponse{
			Benefit:          benefit.Benefit.String(),
			QuantityPerMonth: benefit.QuantityPerMonth,
		})
	}
	return membershipPackageResponse{
		ID:             pkg.ID.String(),
		Name:           pkg.Name,
		Level:          string(pkg.Level),
		DurationMonths: pkg.DurationMonths,
		Price:          pkg.Price.String(),
		Benefits:       benefits,
	}
}

// ListMembershipPackages returns the purchasable membership catalog.
func ListMembershipPackages(svc memberships.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		packages, err := svc.ListPackages(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]membershipPackageResponse, 0, len(packages))
		for i := range packages {
			items = append(items, newPackageResponse(&packages[i]))
		}
		responses.WriteSuccess(w, items)
	}
}

type purchaseMembershipRequest struct {
	PackageID string `json:"package_id" validate:"required"`
	Provider  string `json:"provider" validate:"required"`
	Amount    string `json:"amount,omitempty"`
	BankCode  string `json:"bank_code,omitempty" validate:"omitempty,max=32"`
	Locale    string `json:"locale,omitempty" validate:"omitempty,max=8"`
}

// PurchaseMembership opens a membership payment through the transaction engine.
func PurchaseMembership(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseMembershipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		packageID, err := uuid.Parse(strings.TrimSpace(payload.PackageID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid package id"))
			return
		}
		provider, err := enums.ParsePaymentProvider(strings.TrimSpace(payload.Provider))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}

		input := transactions.CreateInput{
			UserID:    userID,
			Purpose:   enums.TransactionPurposeMembership,
			Provider:  provider,
			PackageID: &packageID,
			ClientIP:  clientAddr(r),
			BankCode:  strings.TrimSpace(payload.BankCode),
			Locale:    strings.TrimSpace(payload.Locale),
		}
		if raw := strings.TrimSpace(payload.Amount); raw != "" {
			amount, parseErr := decimal.NewFromString(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid amount"))
				return
			}
			input.DeclaredAmount = amount
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

// MyMembership returns the caller's active grant, if any.
func MyMembership(svc memberships.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		grant, err := svc.ActiveGrant(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, membershipGrantResponse{
			ID:        grant.ID.String(),
			PackageID: grant.PackageID.String(),
			Status:    string(grant.Status),
			StartsAt:  grant.StartsAt,
			EndsAt:    grant.EndsAt,
		})
	}
}
