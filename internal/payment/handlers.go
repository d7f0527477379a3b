package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kayra-commerce/payments-api/internal/common"
)

// Handler exposes HTTP endpoints for payment initiation and settlement.
type Handler struct {
	Svc *Service
}

// Initiate opens a payment session and returns the redirect target.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req InitiateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid body", nil)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	result, err := h.Svc.Initiate(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    result,
	})
}

// Settle verifies the gateway state and commits the order transition.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req SettleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid body", nil)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.MerchantOrderID = strings.TrimSpace(req.MerchantOrderID)
	result, err := h.Svc.Settle(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    result,
	})
}

// Status polls the gateway state for a session without committing anything.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	req := SettleInput{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderId")),
		MerchantOrderID: strings.TrimSpace(r.URL.Query().Get("merchantOrderId")),
	}
	vr, err := h.Svc.Status(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"orderId":       req.OrderID,
			"status":        vr.State,
			"code":          vr.Code,
			"transactionId": vr.TransactionID,
		},
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unexpected error", nil)
}
