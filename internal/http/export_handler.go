package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"opd-notify/internal/stock"

	"go.uber.org/zap"
)

// ExportHandler 库存导出 Handler
type ExportHandler struct {
	stockSvc *stock.Service
	logger   *zap.Logger
}

// NewExportHandler 创建库存导出 Handler
func NewExportHandler(stockSvc *stock.Service, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{stockSvc: stockSvc, logger: logger}
}

// ExportInventory GET /notify/api/v1/stock/export
func (h *ExportHandler) ExportInventory(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	medicines, err := h.stockSvc.ListMedicines(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to list medicines for export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export inventory"))
		return
	}

	data, err := GenerateInventoryExport(medicines)
	if err != nil {
		h.logger.Error("Failed to generate inventory export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export inventory"))
		return
	}

	filename := InventoryExportFilename(time.Now())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	h.logger.Info("Inventory exported",
		zap.String("clinic_id", clinicID),
		zap.Int("medicine_count", len(medicines)))
}
