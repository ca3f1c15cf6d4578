package httpapi

import (
	"errors"
	"net/http"

	"opd-notify/internal/repository"
	"opd-notify/internal/stock"

	"go.uber.org/zap"
)

// StockHandler 药品库存 Handler
type StockHandler struct {
	stockSvc   *stock.Service
	windowDays int
	logger     *zap.Logger
}

// NewStockHandler 创建库存 Handler
func NewStockHandler(stockSvc *stock.Service, windowDays int, logger *zap.Logger) *StockHandler {
	return &StockHandler{stockSvc: stockSvc, windowDays: windowDays, logger: logger}
}

// ListMedicines GET /notify/api/v1/stock/medicines
func (h *StockHandler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	medicines, err := h.stockSvc.ListMedicines(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to list medicines", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list medicines"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(medicines))
}

type adjustStockRequest struct {
	MedicineID   string  `json:"medicine_id"`
	MovementType string  `json:"movement_type"`
	Quantity     int     `json:"quantity"`
	Reason       *string `json:"reason,omitempty"`
}

// AdjustStock POST /notify/api/v1/stock/adjust
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	var req adjustStockRequest
	if err := readBodyJSON(r, 4096, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	newStock, err := h.stockSvc.Adjust(r.Context(), stock.AdjustRequest{
		ClinicID:     clinicID,
		MedicineID:   req.MedicineID,
		MovementType: req.MovementType,
		Quantity:     req.Quantity,
		Reason:       req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientStock):
			writeJSON(w, http.StatusConflict, Fail("insufficient stock"))
		case errors.Is(err, repository.ErrMedicineNotFound):
			writeJSON(w, http.StatusNotFound, Fail("medicine not found"))
		default:
			h.logger.Error("Failed to adjust stock", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"medicine_id": req.MedicineID,
		"new_stock":   newStock,
	}))
}

// ListLowStock GET /notify/api/v1/stock/low
func (h *StockHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	medicines, err := h.stockSvc.CheckLowStock(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to check low stock", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to check low stock"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(medicines))
}

// ListExpiring GET /notify/api/v1/stock/expiring
func (h *StockHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	windowDays := parseInt(r.URL.Query().Get("windowDays"), h.windowDays)

	medicines, err := h.stockSvc.CheckExpiring(r.Context(), clinicID, windowDays)
	if err != nil {
		h.logger.Error("Failed to check expiring medicines", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to check expiring medicines"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(medicines))
}

// ListMovements GET /notify/api/v1/stock/{medicineID}/movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request, medicineID string) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("pageSize"), 20)

	movements, total, err := h.stockSvc.ListMovements(r.Context(), clinicID, medicineID, page, size)
	if err != nil {
		h.logger.Error("Failed to list stock movements", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list stock movements"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": movements,
		"total": total,
		"page":  page,
	}))
}
