package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"settlex/internal/engine"
	"settlex/internal/metrics"
	"settlex/internal/model"
	"settlex/internal/service"
)

type Handler struct {
	deals       service.DealService
	disputes    service.DisputeService
	settlements service.SettlementService
}

func NewHandler(deals service.DealService, disputes service.DisputeService, settlements service.SettlementService) *Handler {
	return &Handler{deals: deals, disputes: disputes, settlements: settlements}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /deals", h.CreateDeal)
	mux.HandleFunc("POST /deals/{id}/confirm", h.ConfirmDeal)
	mux.HandleFunc("POST /deals/{id}/cancel", h.CancelDeal)
	mux.HandleFunc("POST /deals/{id}/milk", h.MarkMilk)

	mux.HandleFunc("POST /disputes", h.OpenDispute)
	mux.HandleFunc("POST /disputes/{id}/resolve", h.ResolveDispute)

	mux.HandleFunc("GET /merchants/{id}/pending", h.PendingBalance)
	mux.HandleFunc("POST /merchants/{id}/settlements", h.CreateSettlement)
	mux.HandleFunc("POST /settlements/{id}/approve", h.ApproveSettlement)
	mux.HandleFunc("POST /settlements/{id}/cancel", h.CancelSettlement)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	deal, err := h.deals.CreateDeal(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, dealResponse(deal))
}

func (h *Handler) ConfirmDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.deals.ConfirmDeal(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dealResponse(deal))
}

func (h *Handler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.deals.CancelDeal(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dealResponse(deal))
}

func (h *Handler) MarkMilk(w http.ResponseWriter, r *http.Request) {
	deal, err := h.deals.MarkMilk(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dealResponse(deal))
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req model.OpenDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	d, err := h.disputes.OpenDispute(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, d)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome model.DisputeOutcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Outcome != model.DisputeAccepted && req.Outcome != model.DisputeRejected {
		h.respondError(w, http.StatusBadRequest, "invalid_outcome")
		return
	}
	d, err := h.disputes.Resolve(r.Context(), r.PathValue("id"), req.Outcome, actorFrom(r))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}

func (h *Handler) PendingBalance(w http.ResponseWriter, r *http.Request) {
	pending, err := h.settlements.ComputePending(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"pending": pending.String()})
}

func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	req, err := h.settlements.CreateSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, req)
}

func (h *Handler) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	req, err := h.settlements.ApproveSettlement(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelSettlement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	out, err := h.settlements.CancelSettlement(r.Context(), r.PathValue("id"), actorFrom(r), req.Reason)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, out)
}

// dealResponse trims the deal to the merchant-facing fields.
func dealResponse(d *model.Deal) map[string]any {
	resp := map[string]any{
		"id":                d.ID,
		"merchant_order_id": d.MerchantOrderID,
		"amount_fiat":       d.AmountFiat,
		"currency":          d.Currency,
		"status":            d.Status,
		"created_at":        d.CreatedAt,
		"expires_at":        d.ExpiresAt,
	}
	if d.RequisiteID != nil {
		resp["requisite_id"] = *d.RequisiteID
	}
	return resp
}

// actorFrom identifies the acting operator for audit stamps. Authentication
// itself lives in the gateway in front of this service.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "unknown"
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrDisputeOpen):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
