package handler

import (
	"errors"
	"net/http"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type WalletHandler struct {
	usecase usecase.WalletUsecase
	log     logger.Logger
}

func NewWalletHandler(uc usecase.WalletUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: uc, log: log}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/accounts/{account_id}/wallet", h.GetWallet).Methods("GET")
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	summary, err := h.usecase.GetSummary(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.log.Error("Failed to load wallet summary",
			logger.StringField("account_id", accountID.String()),
			logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to load wallet")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"wallet":  summary,
	})
}
