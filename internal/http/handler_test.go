package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/repository"
	"opd-notify/internal/service"
	"opd-notify/internal/stock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 只实现用到的方法，其余由内嵌接口兜底
type fakeRules struct {
	repository.AutoSendRuleRepository
	upserted []*domain.AutoSendRule
}

func (f *fakeRules) GetRule(ctx context.Context, clinicID, eventType string) (*domain.AutoSendRule, error) {
	return nil, nil
}

func (f *fakeRules) UpsertRule(ctx context.Context, rule *domain.AutoSendRule) error {
	f.upserted = append(f.upserted, rule)
	return nil
}

func (f *fakeRules) ListRules(ctx context.Context, clinicID string) ([]*domain.AutoSendRule, error) {
	return []*domain.AutoSendRule{
		{ClinicID: clinicID, EventType: domain.EventBillCreated, Enabled: true},
	}, nil
}

type fakeTemplates struct {
	repository.MessageTemplateRepository
	byID map[string]*domain.MessageTemplate
}

func (f *fakeTemplates) GetDefaultTemplate(ctx context.Context, clinicID, eventType string) (*domain.MessageTemplate, error) {
	return nil, nil
}

func (f *fakeTemplates) GetTemplate(ctx context.Context, clinicID, templateID string) (*domain.MessageTemplate, error) {
	if tmpl, ok := f.byID[templateID]; ok && tmpl.ClinicID == clinicID {
		return tmpl, nil
	}
	return nil, fmt.Errorf("%w: template_id=%s, clinic_id=%s", repository.ErrTemplateNotFound, templateID, clinicID)
}

type fakeQueue struct {
	repository.MessageQueueRepository
	byID map[string]*domain.QueuedMessage
}

func (f *fakeQueue) GetMessage(ctx context.Context, clinicID, messageID string) (*domain.QueuedMessage, error) {
	if msg, ok := f.byID[messageID]; ok && msg.ClinicID == clinicID {
		return msg, nil
	}
	return nil, fmt.Errorf("%w: message_id=%s, clinic_id=%s", repository.ErrMessageNotFound, messageID, clinicID)
}

type fakeStock struct {
	repository.StockRepository
	medicine *domain.Medicine
	adjusted []*domain.StockMovement
}

func (f *fakeStock) GetMedicine(ctx context.Context, clinicID, medicineID string) (*domain.Medicine, error) {
	if f.medicine == nil || f.medicine.MedicineID != medicineID {
		return nil, repository.ErrMedicineNotFound
	}
	return f.medicine, nil
}

func (f *fakeStock) AdjustStock(ctx context.Context, movement *domain.StockMovement) (int, error) {
	if f.medicine == nil || f.medicine.MedicineID != movement.MedicineID {
		return 0, repository.ErrMedicineNotFound
	}
	if f.medicine.Stock+movement.Quantity < 0 {
		return 0, repository.ErrInsufficientStock
	}
	f.medicine.Stock += movement.Quantity
	f.adjusted = append(f.adjusted, movement)
	return f.medicine.Stock, nil
}

type noopKV struct{}

func (noopKV) Get(ctx context.Context, key string) (string, error) { return "", service.ErrCacheMiss }
func (noopKV) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (noopKV) Delete(ctx context.Context, key string) error        { return nil }

func newRuleRouter(t *testing.T) (*Router, *fakeRules) {
	logger := zap.NewNop()
	rules := &fakeRules{}
	cache := service.NewRuleCache(rules, &fakeTemplates{}, noopKV{}, time.Minute, logger)

	router := NewRouter(logger)
	router.RegisterNotifyRoutes(
		NewMessageHandler(nil, logger),
		NewRuleHandler(rules, cache, logger),
		NewTemplateHandler(&fakeTemplates{}, cache, logger),
		NewEventHandler(nil, "clinic:events", logger),
	)
	router.RegisterHealthRoute()
	return router, rules
}

func newNotifyRouter(t *testing.T, queue *fakeQueue, templates *fakeTemplates) *Router {
	logger := zap.NewNop()
	cache := service.NewRuleCache(&fakeRules{}, templates, noopKV{}, time.Minute, logger)

	router := NewRouter(logger)
	router.RegisterNotifyRoutes(
		NewMessageHandler(queue, logger),
		NewRuleHandler(&fakeRules{}, cache, logger),
		NewTemplateHandler(templates, cache, logger),
		NewEventHandler(nil, "clinic:events", logger),
	)
	return router
}

func newStockRouter(t *testing.T, med *domain.Medicine) (*Router, *fakeStock) {
	logger := zap.NewNop()
	repo := &fakeStock{medicine: med}
	svc := stock.NewService(repo, logger)

	router := NewRouter(logger)
	router.RegisterStockRoutes(NewStockHandler(svc, 90, logger), NewExportHandler(svc, logger))
	return router, repo
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestUpsertRule(t *testing.T) {
	router, rules := newRuleRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/notify/api/v1/rules/bill_created",
		strings.NewReader(`{"enabled":true}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rules.upserted, 1)
	assert.Equal(t, "clinic-1", rules.upserted[0].ClinicID)
	assert.Equal(t, domain.EventBillCreated, rules.upserted[0].EventType)
	assert.True(t, rules.upserted[0].Enabled)
}

func TestUpsertRule_UnknownEventType(t *testing.T) {
	router, rules := newRuleRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/notify/api/v1/rules/bogus_event",
		strings.NewReader(`{"enabled":true}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rules.upserted)
}

func TestUpsertRule_MissingClinicHeader(t *testing.T) {
	router, _ := newRuleRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/notify/api/v1/rules/bill_created",
		strings.NewReader(`{"enabled":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)
	assert.Contains(t, res.Message, "X-Clinic-ID")
}

func TestListRules(t *testing.T) {
	router, _ := newRuleRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/notify/api/v1/rules", nil)
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	var rules []*domain.AutoSendRule
	require.NoError(t, json.Unmarshal(res.Result, &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, domain.EventBillCreated, rules[0].EventType)
}

func TestGetMessage_NotFoundStatus(t *testing.T) {
	queue := &fakeQueue{byID: map[string]*domain.QueuedMessage{
		"msg-1": {MessageID: "msg-1", ClinicID: "clinic-1", Status: domain.MessageStatusSent},
	}}
	router := newNotifyRouter(t, queue, &fakeTemplates{})

	req := httptest.NewRequest(http.MethodGet, "/notify/api/v1/messages/msg-unknown", nil)
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)

	// 其它诊所的消息同样不可见
	req = httptest.NewRequest(http.MethodGet, "/notify/api/v1/messages/msg-1", nil)
	req.Header.Set("X-Clinic-ID", "clinic-2")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTemplate_NotFoundStatus(t *testing.T) {
	router := newNotifyRouter(t, &fakeQueue{}, &fakeTemplates{})

	req := httptest.NewRequest(http.MethodPut, "/notify/api/v1/templates/tmpl-unknown",
		strings.NewReader(`{"message_content":"Hi {{patient_name}}"}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTemplate_NotFoundStatus(t *testing.T) {
	router := newNotifyRouter(t, &fakeQueue{}, &fakeTemplates{})

	req := httptest.NewRequest(http.MethodDelete, "/notify/api/v1/templates/tmpl-unknown", nil)
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjustStock(t *testing.T) {
	router, repo := newStockRouter(t, &domain.Medicine{
		MedicineID: "med-1", ClinicID: "clinic-1", Name: "Paracetamol 500mg", Stock: 100,
	})

	req := httptest.NewRequest(http.MethodPost, "/notify/api/v1/stock/adjust",
		strings.NewReader(`{"medicine_id":"med-1","movement_type":"dispense","quantity":-30}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &body))
	assert.Equal(t, float64(70), body["new_stock"])
	require.Len(t, repo.adjusted, 1)
}

func TestAdjustStock_InsufficientReturnsConflict(t *testing.T) {
	router, repo := newStockRouter(t, &domain.Medicine{
		MedicineID: "med-1", ClinicID: "clinic-1", Name: "Paracetamol 500mg", Stock: 10,
	})

	req := httptest.NewRequest(http.MethodPost, "/notify/api/v1/stock/adjust",
		strings.NewReader(`{"medicine_id":"med-1","movement_type":"dispense","quantity":-50}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, repo.adjusted)
	// 库存保持不变
	assert.Equal(t, 10, repo.medicine.Stock)
}

func TestAdjustStock_MedicineNotFound(t *testing.T) {
	router, _ := newStockRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/notify/api/v1/stock/adjust",
		strings.NewReader(`{"medicine_id":"missing","movement_type":"inward","quantity":10}`))
	req.Header.Set("X-Clinic-ID", "clinic-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router, _ := newRuleRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
