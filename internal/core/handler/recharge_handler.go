package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type RechargeHandler struct {
	usecase usecase.RechargeUsecase
	log     logger.Logger
}

func NewRechargeHandler(uc usecase.RechargeUsecase, log logger.Logger) *RechargeHandler {
	return &RechargeHandler{usecase: uc, log: log}
}

func (h *RechargeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/recharges", h.Initiate).Methods("POST")
	router.HandleFunc("/api/v1/recharges/{order_id}", h.CheckStatus).Methods("GET")
	router.HandleFunc("/api/v1/accounts/{account_id}/recharges", h.ListRecharges).Methods("GET")
	// Шлюз дёргает эти два маршрута сам: redirect после оплаты и вебхук.
	router.HandleFunc("/recharge/callback", h.HandleCallback).Methods("GET", "POST")
	router.HandleFunc("/recharge/webhook", h.HandleWebhook).Methods("POST")
}

type initiateRechargeRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    string    `json:"amount"`
}

func (h *RechargeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRechargeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.AccountID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	result, err := h.usecase.Initiate(r.Context(), req.AccountID, amount)
	if err != nil {
		h.handleRechargeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"order_id":    result.OrderID,
		"payment_url": result.PaymentURL,
	})
}

type rechargeResponse struct {
	Success  bool             `json:"success"`
	Recharge *models.Recharge `json:"recharge"`
}

func (h *RechargeHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]

	recharge, err := h.usecase.Reconcile(r.Context(), orderID)
	if err != nil {
		h.handleRechargeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rechargeResponse{Success: true, Recharge: recharge})
}

func (h *RechargeHandler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	recharges, err := h.usecase.ListRecharges(r.Context(), accountID)
	if err != nil {
		h.log.Error("Failed to list recharges", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to list recharges")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    recharges,
	})
}

// HandleCallback - redirect шлюза после оплаты. Содержимому запроса не
// верим: сверка идёт напрямую со шлюзом внутри Reconcile.
func (h *RechargeHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		if err := r.ParseForm(); err == nil {
			orderID = r.PostFormValue("order_id")
		}
	}
	if orderID == "" {
		h.log.Warn("Payment callback without order id",
			logger.StringField("remote_addr", r.RemoteAddr))
		respondWithError(w, http.StatusBadRequest, "No order ID provided")
		return
	}

	h.log.Info("Payment callback received",
		logger.StringField("order_id", orderID),
		logger.StringField("remote_addr", r.RemoteAddr))

	recharge, err := h.usecase.Reconcile(r.Context(), orderID)
	if err != nil {
		h.handleRechargeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rechargeResponse{Success: true, Recharge: recharge})
}

type webhookPayload struct {
	OrderID string `json:"order_id"`
}

// HandleWebhook - прямое уведомление шлюза. Подпись тела проверяется,
// статус из тела игнорируется: важен только order_id.
func (h *RechargeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Signature")
	if !h.usecase.VerifyWebhook(body, signature) {
		h.log.Warn("Invalid payment webhook signature",
			logger.StringField("remote_addr", r.RemoteAddr))
		respondWithError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.OrderID == "" {
		h.log.Warn("Invalid webhook payload", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "No order ID provided")
		return
	}

	h.log.Info("Payment webhook received",
		logger.StringField("order_id", payload.OrderID),
		logger.StringField("remote_addr", r.RemoteAddr))

	recharge, err := h.usecase.Reconcile(r.Context(), payload.OrderID)
	if err != nil {
		h.handleRechargeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rechargeResponse{Success: true, Recharge: recharge})
}

func (h *RechargeHandler) handleRechargeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrInvalidOrder):
		respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, usecase.ErrGatewayUnavailable):
		respondWithError(w, http.StatusBadGateway, "Payment gateway is unavailable, please try again")
	default:
		h.log.Error("Failed to process recharge operation", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to process operation")
	}
}
