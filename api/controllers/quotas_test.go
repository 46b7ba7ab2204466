package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	pkgerrors "github.com/smartrent/smartrent-backend/pkg/errors"
)

type fakeQuotaCtrlService struct {
	balancesFn     func(ctx context.Context, userID uuid.UUID) ([]models.QuotaBalance, error)
	consumeFn      func(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, quantity int) error
	consumeByIDsFn func(ctx context.Context, userID uuid.UUID, benefitIDs []uuid.UUID, expected enums.BenefitType) error
	availabilityFn func(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (*quotas.Availability, error)
}

func (f *fakeQuotaCtrlService) WithTx(tx *gorm.DB) quotas.Service {
	return f
}

func (f *fakeQuotaCtrlService) Grant(ctx context.Context, input quotas.GrantInput) (*models.QuotaBalance, error) {
	return &models.QuotaBalance{}, nil
}

func (f *fakeQuotaCtrlService) Consume(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, quantity int) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, userID, benefit, quantity)
	}
	return nil
}

func (f *fakeQuotaCtrlService) ConsumeByBenefitIDs(ctx context.Context, userID uuid.UUID, benefitIDs []uuid.UUID, expected enums.BenefitType) error {
	if f.consumeByIDsFn != nil {
		return f.consumeByIDsFn(ctx, userID, benefitIDs, expected)
	}
	return nil
}

func (f *fakeQuotaCtrlService) Balances(ctx context.Context, userID uuid.UUID) ([]models.QuotaBalance, error) {
	if f.balancesFn != nil {
		return f.balancesFn(ctx, userID)
	}
	return []models.QuotaBalance{}, nil
}

func (f *fakeQuotaCtrlService) CheckAvailability(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (*quotas.Availability, error) {
	if f.availabilityFn != nil {
		return f.availabilityFn(ctx, userID, benefit)
	}
	return &quotas.Availability{Benefit: benefit}, nil
}

func (f *fakeQuotaCtrlService) Remaining(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (int, error) {
	return 0, nil
}

func (f *fakeQuotaCtrlService) ExpireDue(ctx context.Context) (int64, error) {
	return 0, nil
}

func (f *fakeQuotaCtrlService) ExpireCohort(ctx context.Context, sourceKey string) (int64, error) {
	return 0, nil
}

func TestQuotaStatusesListsBalances(t *testing.T) {
	userID := uuid.New()
	svc := &fakeQuotaCtrlService{
		balancesFn: func(ctx context.Context, uid uuid.UUID) ([]models.QuotaBalance, error) {
			return []models.QuotaBalance{{
				ID:        uuid.New(),
				UserID:    uid,
				Benefit:   enums.BenefitTypePostGold,
				Granted:   10,
				Used:      3,
				Status:    enums.QuotaStatusActive,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/quotas", nil, userID)
	resp := httptest.NewRecorder()
	QuotaStatuses(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	data := decodeData[[]quotaBalanceResponse](t, resp)
	if len(data) != 1 {
		t.Fatalf("expected one balance got %d", len(data))
	}
	if data[0].Benefit != "post_gold" || data[0].Available != 7 {
		t.Fatalf("unexpected balance payload: %+v", data[0])
	}
}

func TestQuotaStatusParsesBenefitParam(t *testing.T) {
	var captured enums.BenefitType
	svc := &fakeQuotaCtrlService{
		availabilityFn: func(ctx context.Context, uid uuid.UUID, benefit enums.BenefitType) (*quotas.Availability, error) {
			captured = benefit
			return &quotas.Availability{Benefit: benefit, Granted: 5, Used: 1, Available: 4}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/quotas/push", nil, uuid.New())
	req = withPathParam(req, "benefitType", "push")
	resp := httptest.NewRecorder()
	QuotaStatus(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if captured != enums.BenefitTypePush {
		t.Fatalf("expected push benefit got %s", captured)
	}
	data := decodeData[quotas.Availability](t, resp)
	if data.Available != 4 {
		t.Fatalf("expected available 4 got %d", data.Available)
	}
}

func TestQuotaStatusRejectsUnknownBenefit(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/v1/quotas/super_boost", nil, uuid.New())
	req = withPathParam(req, "benefitType", "super_boost")
	resp := httptest.NewRecorder()
	QuotaStatus(&fakeQuotaCtrlService{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown benefit got %d", resp.Code)
	}
}

func TestConsumeQuotaDefaultsToOne(t *testing.T) {
	var capturedQty int
	svc := &fakeQuotaCtrlService{
		consumeFn: func(ctx context.Context, uid uuid.UUID, benefit enums.BenefitType, quantity int) error {
			capturedQty = quantity
			return nil
		},
	}

	req := authedRequest(http.MethodPost, "/api/v1/quotas/boost/consume", nil, uuid.New())
	req = withPathParam(req, "benefitType", "boost")
	resp := httptest.NewRecorder()
	ConsumeQuota(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if capturedQty != 1 {
		t.Fatalf("expected default quantity 1 got %d", capturedQty)
	}
}

func TestConsumeQuotaByBenefitIDs(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	var capturedIDs []uuid.UUID
	var capturedBenefit enums.BenefitType
	svc := &fakeQuotaCtrlService{
		consumeByIDsFn: func(ctx context.Context, uid uuid.UUID, benefitIDs []uuid.UUID, expected enums.BenefitType) error {
			capturedIDs = benefitIDs
			capturedBenefit = expected
			return nil
		},
	}

	body := strings.NewReader(`{"benefit_ids": ["` + idA.String() + `", "` + idB.String() + `"]}`)
	req := authedRequest(http.MethodPost, "/api/v1/quotas/post_gold/consume", body, uuid.New())
	req = withPathParam(req, "benefitType", "post_gold")
	resp := httptest.NewRecorder()
	ConsumeQuota(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(capturedIDs) != 2 || capturedIDs[0] != idA || capturedIDs[1] != idB {
		t.Fatalf("expected both benefit ids to reach the service")
	}
	if capturedBenefit != enums.BenefitTypePostGold {
		t.Fatalf("expected post_gold benefit got %s", capturedBenefit)
	}
}

func TestConsumeQuotaSurfacesExhaustion(t *testing.T) {
	svc := &fakeQuotaCtrlService{
		consumeFn: func(ctx context.Context, uid uuid.UUID, benefit enums.BenefitType, quantity int) error {
			return pkgerrors.New(pkgerrors.CodeInsufficientQuota, "quota exhausted")
		},
	}

	req := authedRequest(http.MethodPost, "/api/v1/quotas/push/consume", nil, uuid.New())
	req = withPathParam(req, "benefitType", "push")
	resp := httptest.NewRecorder()
	ConsumeQuota(svc, nil).ServeHTTP(resp, req)

	if resp.Code == http.StatusOK {
		t.Fatalf("expected error status for exhausted quota got 200")
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.CodeInsufficientQuota)) {
		t.Fatalf("expected insufficient quota code in body: %s", resp.Body.String())
	}
}
