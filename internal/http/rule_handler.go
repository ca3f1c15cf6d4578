package httpapi

import (
	"net/http"

	"opd-notify/internal/domain"
	"opd-notify/internal/repository"
	"opd-notify/internal/service"

	"go.uber.org/zap"
)

// RuleHandler 自动发送规则 Handler
type RuleHandler struct {
	rules     repository.AutoSendRuleRepository
	ruleCache *service.RuleCache
	logger    *zap.Logger
}

// NewRuleHandler 创建规则 Handler
func NewRuleHandler(rules repository.AutoSendRuleRepository, ruleCache *service.RuleCache, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{rules: rules, ruleCache: ruleCache, logger: logger}
}

// ListRules GET /notify/api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	rules, err := h.rules.ListRules(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to list rules", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list rules"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(rules))
}

type upsertRuleRequest struct {
	Enabled bool `json:"enabled"`
}

// UpsertRule PUT /notify/api/v1/rules/{event_type}
func (h *RuleHandler) UpsertRule(w http.ResponseWriter, r *http.Request, eventType string) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	if !domain.KnownEventTypes[eventType] {
		writeJSON(w, http.StatusBadRequest, Fail("unknown event type: "+eventType))
		return
	}

	var req upsertRuleRequest
	if err := readBodyJSON(r, 4096, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	rule := &domain.AutoSendRule{
		ClinicID:  clinicID,
		EventType: eventType,
		Enabled:   req.Enabled,
	}

	if err := h.rules.UpsertRule(r.Context(), rule); err != nil {
		h.logger.Error("Failed to upsert rule", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to upsert rule"))
		return
	}

	// 规则变更立即生效
	h.ruleCache.InvalidateRule(r.Context(), clinicID, eventType)

	h.logger.Info("Auto-send rule updated",
		zap.String("clinic_id", clinicID),
		zap.String("event_type", eventType),
		zap.Bool("enabled", req.Enabled))

	writeJSON(w, http.StatusOK, Ok(rule))
}
