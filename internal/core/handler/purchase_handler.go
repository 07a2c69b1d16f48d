package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type PurchaseHandler struct {
	usecase usecase.PurchaseUsecase
	catalog *provider.CatalogCache
	log     logger.Logger
}

func NewPurchaseHandler(uc usecase.PurchaseUsecase, catalog *provider.CatalogCache, log logger.Logger) *PurchaseHandler {
	return &PurchaseHandler{usecase: uc, catalog: catalog, log: log}
}

func (h *PurchaseHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/services", h.GetServices).Methods("GET")
	router.HandleFunc("/api/v1/purchases", h.RequestNumber).Methods("POST")
	router.HandleFunc("/api/v1/purchases/{order_id}", h.GetStatus).Methods("GET")
	router.HandleFunc("/api/v1/purchases/{order_id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/api/v1/purchases/{order_id}/monitor", h.RegisterMonitoring).Methods("POST")
	router.HandleFunc("/api/v1/accounts/{account_id}/purchases", h.ListPurchases).Methods("GET")
}

type servicesResponse struct {
	Success bool             `json:"success"`
	Data    provider.Catalog `json:"data"`
	Source  string           `json:"source"`
}

func (h *PurchaseHandler) GetServices(w http.ResponseWriter, r *http.Request) {
	catalog, source, err := h.catalog.Services(r.Context())
	if err != nil {
		h.log.Error("Failed to load services catalog", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadGateway, "Failed to fetch services")
		return
	}
	respondWithJSON(w, http.StatusOK, servicesResponse{Success: true, Data: catalog, Source: source})
}

type requestNumberRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	ServiceName string    `json:"service_name"`
	ServiceCode string    `json:"service_code"`
	ServerCode  string    `json:"server_code"`
}

type purchaseResponse struct {
	Success  bool                `json:"success"`
	Purchase *models.OtpPurchase `json:"purchase"`
}

func (h *PurchaseHandler) RequestNumber(w http.ResponseWriter, r *http.Request) {
	var req requestNumberRequest
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
	if req.ServiceCode == "" || req.ServerCode == "" {
		respondWithError(w, http.StatusBadRequest, "service_code and server_code are required")
		return
	}
	if req.ServiceName == "" {
		req.ServiceName = "Unknown Service"
	}

	purchase, err := h.usecase.RequestNumber(r.Context(), usecase.RequestNumberInput{
		AccountID:   req.AccountID,
		ServiceName: req.ServiceName,
		ServiceCode: req.ServiceCode,
		ServerCode:  req.ServerCode,
	})
	if err != nil {
		h.handlePurchaseError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, purchaseResponse{Success: true, Purchase: purchase})
}

func (h *PurchaseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	timeoutOccurred := r.URL.Query().Get("timeout") == "true"

	purchase, err := h.usecase.CheckStatus(r.Context(), orderID, usecase.CheckOptions{
		TimeoutReached: timeoutOccurred,
	})
	if err != nil {
		h.handlePurchaseError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, purchaseResponse{Success: true, Purchase: purchase})
}

func (h *PurchaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]

	purchase, err := h.usecase.Cancel(r.Context(), orderID)
	if err != nil {
		h.handlePurchaseError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, purchaseResponse{Success: true, Purchase: purchase})
}

func (h *PurchaseHandler) RegisterMonitoring(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]

	if err := h.usecase.RegisterBackgroundCheck(r.Context(), orderID); err != nil {
		h.handlePurchaseError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Background check registered successfully",
	})
}

func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	purchases, err := h.usecase.ListPurchases(r.Context(), accountID)
	if err != nil {
		h.log.Error("Failed to list purchases", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to list purchases")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    purchases,
	})
}

func (h *PurchaseHandler) handlePurchaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrInsufficientFunds):
		respondWithError(w, http.StatusForbidden, "Insufficient wallet balance. Please recharge your wallet.")
	case errors.Is(err, usecase.ErrInvalidOrder):
		respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, usecase.ErrNoNumbers):
		respondWithError(w, http.StatusBadRequest, "No numbers available for this service")
	case errors.Is(err, usecase.ErrPriceUnknown):
		respondWithError(w, http.StatusBadRequest, "Unable to determine price for this service")
	case errors.Is(err, usecase.ErrProviderUnavailable):
		respondWithError(w, http.StatusBadGateway, "OTP provider is unavailable, please try again")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "Request timed out")
	default:
		h.log.Error("Failed to process purchase operation", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to process operation")
	}
}
