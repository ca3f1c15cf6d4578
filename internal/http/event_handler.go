package httpapi

import (
	"net/http"
	"time"

	"opd-notify/internal/domain"
	rediscommon "opd-notify/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventHandler 临床事件发布 Handler
// 诊所端系统没有直连 Redis 的场景走这个 HTTP 入口，
// 事件仍然统一经 Stream 流转，和直接写入的路径一致。
type EventHandler struct {
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger
}

// NewEventHandler 创建事件发布 Handler
func NewEventHandler(redisClient *redis.Client, stream string, logger *zap.Logger) *EventHandler {
	return &EventHandler{redisClient: redisClient, stream: stream, logger: logger}
}

type publishEventRequest struct {
	EventType   string            `json:"event_type"`
	PatientID   string            `json:"patient_id,omitempty"`
	PatientName string            `json:"patient_name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// PublishEvent POST /notify/api/v1/events
func (h *EventHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	var req publishEventRequest
	if err := readBodyJSON(r, 64*1024, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if !domain.KnownEventTypes[req.EventType] {
		writeJSON(w, http.StatusBadRequest, Fail("unknown event type: "+req.EventType))
		return
	}

	event := map[string]any{
		"event_type":   req.EventType,
		"clinic_id":    clinicID,
		"patient_id":   req.PatientID,
		"patient_name": req.PatientName,
		"phone":        req.Phone,
		"payload":      req.Payload,
		"timestamp":    time.Now().Unix(),
	}

	if _, err := rediscommon.PublishJSONToStream(r.Context(), h.redisClient, h.stream, event); err != nil {
		h.logger.Error("Failed to publish event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to publish event"))
		return
	}

	h.logger.Info("Clinic event published",
		zap.String("clinic_id", clinicID),
		zap.String("event_type", req.EventType))

	writeJSON(w, http.StatusOK, Ok(map[string]string{
		"event_type": req.EventType,
		"status":     "published",
	}))
}
