package httpapi

import (
	"errors"
	"net/http"

	"opd-notify/internal/repository"

	"go.uber.org/zap"
)

// MessageHandler 消息队列查询 Handler
// 队列是系统自动驱动的：没有手工重发或重置重试的接口，
// 失败消息的处置走规则/模板修正后由新事件触发。
type MessageHandler struct {
	queue  repository.MessageQueueRepository
	logger *zap.Logger
}

// NewMessageHandler 创建消息队列 Handler
func NewMessageHandler(queue repository.MessageQueueRepository, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{queue: queue, logger: logger}
}

// ListMessages GET /notify/api/v1/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	filters := repository.MessageFilters{}
	if status := r.URL.Query().Get("status"); status != "" {
		filters.Status = &status
	}
	if eventType := r.URL.Query().Get("event_type"); eventType != "" {
		filters.EventType = &eventType
	}
	if patientID := r.URL.Query().Get("patient_id"); patientID != "" {
		filters.PatientID = &patientID
	}

	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("pageSize"), 20)

	messages, total, err := h.queue.ListMessages(r.Context(), clinicID, filters, page, size)
	if err != nil {
		h.logger.Error("Failed to list messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list messages"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": messages,
		"total": total,
		"page":  page,
	}))
}

// GetMessage GET /notify/api/v1/messages/{id}
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	msg, err := h.queue.GetMessage(r.Context(), clinicID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("message not found"))
			return
		}
		h.logger.Error("Failed to get message", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get message"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(msg))
}

// GetStats GET /notify/api/v1/messages/stats
func (h *MessageHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	stats, err := h.queue.CountByStatus(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to count messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to count messages"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(stats))
}
