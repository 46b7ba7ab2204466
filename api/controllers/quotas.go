package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/api/responses"
	"github.com/smartrent/smartrent-backend/api/validators"
	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	pkgerrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type quotaBalanceResponse struct {
	ID        string    `json:"id"`
	Benefit   string    `json:"benefit"`
	Granted   int       `json:"granted"`
	Used      int       `json:"used"`
	Available int       `json:"available"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QuotaStatuses lists the caller's active quota balances.
func QuotaStatuses(svc quotas.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balances, err := svc.Balances(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]quotaBalanceResponse, 0, len(balances))
		for _, balance := range balances {
			items = append(items, quotaBalanceResponse{
				ID:        balance.ID.String(),
				Benefit:   balance.Benefit.String(),
				Granted:   balance.Granted,
				Used:      balance.Used,
				Available: balance.Remaining(),
				ExpiresAt: balance.ExpiresAt,
			})
		}
		responses.WriteSuccess(w, items)
	}
}

// QuotaStatus reports the caller's aggregate standing for one benefit.
func QuotaStatus(svc quotas.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		benefit, err := benefitParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		availability, err := svc.CheckAvailability(r.Context(), userID, benefit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

type consumeQuotaRequest struct {
	Quantity   int      `json:"quantity,omitempty" validate:"omitempty,min=1,max=100"`
	BenefitIDs []string `json:"benefit_ids,omitempty" validate:"omitempty,dive,required"`
}

// ConsumeQuota spends allowance for one benefit. When the caller names
// specific buckets, each listed balance is decremented by one; otherwise the
// oldest-expiring balances cover the quantity.
func ConsumeQuota(svc quotas.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticatedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		benefit, err := benefitParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload consumeQuotaRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if len(payload.BenefitIDs) > 0 {
			ids := make([]uuid.UUID, 0, len(payload.BenefitIDs))
			for _, raw := range payload.BenefitIDs {
				id, parseErr := uuid.Parse(strings.TrimSpace(raw))
				if parseErr != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid benefit id"))
					return
				}
				ids = append(ids, id)
			}
			if err := svc.ConsumeByBenefitIDs(r.Context(), userID, ids, benefit); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		} else {
			quantity := payload.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			if err := svc.Consume(r.Context(), userID, benefit, quantity); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		availability, err := svc.CheckAvailability(r.Context(), userID, benefit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

func benefitParam(r *http.Request) (enums.BenefitType, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "benefitType"))
	benefit, err := enums.ParseBenefitType(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid benefit type")
	}
	return benefit, nil
}
