package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opd-notify/internal/domain"
	"opd-notify/internal/repository"
	"opd-notify/internal/service"
	"opd-notify/internal/template"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TemplateHandler 消息模板 Handler
type TemplateHandler struct {
	templates repository.MessageTemplateRepository
	ruleCache *service.RuleCache
	logger    *zap.Logger
}

// NewTemplateHandler 创建模板 Handler
func NewTemplateHandler(templates repository.MessageTemplateRepository, ruleCache *service.RuleCache, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, ruleCache: ruleCache, logger: logger}
}

// ListTemplates GET /notify/api/v1/templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	templates, err := h.templates.ListTemplates(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("Failed to list templates", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list templates"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(templates))
}

type templateRequest struct {
	EventType      string `json:"event_type"`
	MessageContent string `json:"message_content"`
	IsDefault      bool   `json:"is_default"`
}

// CreateTemplate POST /notify/api/v1/templates
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	var req templateRequest
	if err := readBodyJSON(r, 64*1024, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if !domain.KnownEventTypes[req.EventType] {
		writeJSON(w, http.StatusBadRequest, Fail("unknown event type: "+req.EventType))
		return
	}
	if strings.TrimSpace(req.MessageContent) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("message_content is required"))
		return
	}

	tmpl := &domain.MessageTemplate{
		TemplateID:     uuid.New().String(),
		ClinicID:       clinicID,
		EventType:      req.EventType,
		MessageContent: req.MessageContent,
		IsDefault:      req.IsDefault,
	}

	if err := h.templates.CreateTemplate(r.Context(), tmpl); err != nil {
		h.logger.Error("Failed to create template", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to create template"))
		return
	}

	h.ruleCache.InvalidateTemplate(r.Context(), clinicID, req.EventType)

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"template":     tmpl,
		"placeholders": template.Placeholders(req.MessageContent),
	}))
}

// UpdateTemplate PUT /notify/api/v1/templates/{id}
func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	existing, err := h.templates.GetTemplate(r.Context(), clinicID, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("template not found"))
			return
		}
		h.logger.Error("Failed to get template", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get template"))
		return
	}

	var req templateRequest
	if err := readBodyJSON(r, 64*1024, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if strings.TrimSpace(req.MessageContent) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("message_content is required"))
		return
	}

	existing.MessageContent = req.MessageContent
	existing.IsDefault = req.IsDefault

	if err := h.templates.UpdateTemplate(r.Context(), existing); err != nil {
		h.logger.Error("Failed to update template", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to update template"))
		return
	}

	h.ruleCache.InvalidateTemplate(r.Context(), clinicID, existing.EventType)

	writeJSON(w, http.StatusOK, Ok(existing))
}

// DeleteTemplate DELETE /notify/api/v1/templates/{id}
func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	clinicID, ok := clinicIDFromReq(w, r)
	if !ok {
		return
	}

	existing, err := h.templates.GetTemplate(r.Context(), clinicID, templateID)
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("template not found"))
			return
		}
		h.logger.Error("Failed to get template", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get template"))
		return
	}

	if err := h.templates.DeleteTemplate(r.Context(), clinicID, templateID); err != nil {
		h.logger.Error("Failed to delete template", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to delete template"))
		return
	}

	h.ruleCache.InvalidateTemplate(r.Context(), clinicID, existing.EventType)

	writeJSON(w, http.StatusOK, Ok(map[string]string{"template_id": templateID}))
}
