package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Nzyazin/otpshop/internal/core/handler"
	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubRechargeUsecase struct {
	initiateResult *usecase.InitiateResult
	recharge       *models.Recharge
	err            error

	reconciled []string
}

func (s *stubRechargeUsecase) Initiate(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*usecase.InitiateResult, error) {
	return s.initiateResult, s.err
}

func (s *stubRechargeUsecase) Reconcile(ctx context.Context, orderID string) (*models.Recharge, error) {
	s.reconciled = append(s.reconciled, orderID)
	return s.recharge, s.err
}

func (s *stubRechargeUsecase) VerifyWebhook(payload []byte, signature string) bool {
	return signature == "valid"
}

func (s *stubRechargeUsecase) ListRecharges(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.Recharge{*s.recharge}, nil
}

func newRechargeRouter(stub *stubRechargeUsecase) *mux.Router {
	router := mux.NewRouter()
	h := handler.NewRechargeHandler(stub, logger.NewNopLogger())
	h.RegisterRoutes(router)
	return router
}

func TestInitiateRechargeHandler(t *testing.T) {
	stub := &stubRechargeUsecase{initiateResult: &usecase.InitiateResult{
		OrderID:    "RM17251",
		PaymentURL: "https://pay.example/x",
	}}
	router := newRechargeRouter(stub)

	body := `{"account_id":"` + uuid.NewString() + `","amount":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recharges", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "RM17251")
	assert.Contains(t, rec.Body.String(), "https://pay.example/x")
}

func TestInitiateRechargeValidation(t *testing.T) {
	router := newRechargeRouter(&stubRechargeUsecase{})

	tests := []struct {
		name string
		body string
	}{
		{name: "missing account", body: `{"amount":"100"}`},
		{name: "bad amount", body: `{"account_id":"` + uuid.NewString() + `","amount":"lots"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/recharges", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRechargeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "invalid amount", err: usecase.ErrInvalidAmount, code: http.StatusBadRequest},
		{name: "unknown order", err: usecase.ErrInvalidOrder, code: http.StatusNotFound},
		{name: "gateway down", err: usecase.ErrGatewayUnavailable, code: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRechargeRouter(&stubRechargeUsecase{err: tt.err})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/recharges/RM17251", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestCallbackReconcilesByOrderID(t *testing.T) {
	stub := &stubRechargeUsecase{recharge: &models.Recharge{OrderID: "RM17251", Status: models.RechargeCompleted}}
	router := newRechargeRouter(stub)

	// Статус из колбэка игнорируется: пересверяемся по order_id.
	req := httptest.NewRequest(http.MethodGet, "/recharge/callback?order_id=RM17251&status=FAILED", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"RM17251"}, stub.reconciled)
}

func TestCallbackWithoutOrderID(t *testing.T) {
	router := newRechargeRouter(&stubRechargeUsecase{})

	req := httptest.NewRequest(http.MethodGet, "/recharge/callback", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSignature(t *testing.T) {
	stub := &stubRechargeUsecase{recharge: &models.Recharge{OrderID: "RM17251", Status: models.RechargeCompleted}}
	router := newRechargeRouter(stub)

	body := `{"order_id":"RM17251","status":"COMPLETED"}`

	req := httptest.NewRequest(http.MethodPost, "/recharge/webhook", strings.NewReader(body))
	req.Header.Set("X-Signature", "forged")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, stub.reconciled, "forged webhook must not trigger reconciliation")

	req = httptest.NewRequest(http.MethodPost, "/recharge/webhook", strings.NewReader(body))
	req.Header.Set("X-Signature", "valid")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"RM17251"}, stub.reconciled)
}
