package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/phone"
	"opd-notify/internal/repository"
	"opd-notify/internal/template"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 跳过原因
const (
	SkipReasonRuleDisabled    = "rule_disabled"
	SkipReasonRuleMissing     = "rule_missing"
	SkipReasonTemplateMissing = "template_missing"
	SkipReasonNoPhone         = "no_phone"
)

// Outcome 入队决策结果
// Queued=false 时 SkipReason 说明跳过原因；跳过不是错误。
type Outcome struct {
	Queued     bool
	SkipReason string
	MessageID  string
}

func skipped(reason string) Outcome {
	return Outcome{Queued: false, SkipReason: reason}
}

// AutoSendService 自动发送服务：规则判定、模板渲染、消息入队
type AutoSendService struct {
	queue       repository.MessageQueueRepository
	ruleCache   *RuleCache
	countryCode string
	logger      *zap.Logger
}

// NewAutoSendService 创建自动发送服务
func NewAutoSendService(
	queue repository.MessageQueueRepository,
	ruleCache *RuleCache,
	countryCode string,
	logger *zap.Logger,
) *AutoSendService {
	if countryCode == "" {
		countryCode = phone.DefaultCountryCode
	}
	return &AutoSendService{
		queue:       queue,
		ruleCache:   ruleCache,
		countryCode: countryCode,
		logger:      logger,
	}
}

// ShouldQueue 判定事件是否应入队
// 规则缺失或查询失败一律返回 false：宁可漏发一条通知，
// 也不向未开启自动发送的诊所患者发消息。
func (s *AutoSendService) ShouldQueue(ctx context.Context, clinicID, eventType string) bool {
	rule, err := s.ruleCache.GetRule(ctx, clinicID, eventType)
	if err != nil {
		s.logger.Warn("Auto-send rule lookup failed, treating as disabled",
			zap.String("clinic_id", clinicID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return false
	}
	if rule == nil {
		return false
	}
	return rule.Enabled
}

// QueueEvent 事件入队主流程：规则判定 → 模板获取 → 号码归一化 → 渲染 → 入队
// delayMinutes 控制 scheduled_at 相对当前时间的偏移（0 表示立即到期）。
func (s *AutoSendService) QueueEvent(
	ctx context.Context,
	clinicID, eventType, rawPhone string,
	patientID *string,
	vars map[string]string,
	metadata json.RawMessage,
	delayMinutes int,
) (Outcome, error) {
	if clinicID == "" {
		return Outcome{}, fmt.Errorf("clinic_id is required")
	}
	if !domain.KnownEventTypes[eventType] {
		return Outcome{}, fmt.Errorf("unknown event type: %s", eventType)
	}

	rule, err := s.ruleCache.GetRule(ctx, clinicID, eventType)
	if err != nil {
		s.logger.Warn("Auto-send rule lookup failed, skipping event",
			zap.String("clinic_id", clinicID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return skipped(SkipReasonRuleMissing), nil
	}
	if rule == nil {
		return skipped(SkipReasonRuleMissing), nil
	}
	if !rule.Enabled {
		return skipped(SkipReasonRuleDisabled), nil
	}

	tmpl, err := s.ruleCache.GetDefaultTemplate(ctx, clinicID, eventType)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		s.logger.Info("No template configured, skipping event",
			zap.String("clinic_id", clinicID),
			zap.String("event_type", eventType))
		return skipped(SkipReasonTemplateMissing), nil
	}

	normalized := phone.NormalizeWithCountryCode(rawPhone, s.countryCode)
	if normalized == "" {
		return skipped(SkipReasonNoPhone), nil
	}

	content := template.Render(tmpl.MessageContent, vars)

	msg := &domain.QueuedMessage{
		MessageID:      uuid.New().String(),
		ClinicID:       clinicID,
		PatientID:      patientID,
		PhoneNumber:    normalized,
		EventType:      eventType,
		MessageContent: content,
		Metadata:       metadata,
		ScheduledAt:    time.Now().Add(time.Duration(delayMinutes) * time.Minute),
	}

	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return Outcome{}, fmt.Errorf("failed to enqueue message: %w", err)
	}

	s.logger.Info("Message queued",
		zap.String("message_id", msg.MessageID),
		zap.String("clinic_id", clinicID),
		zap.String("event_type", eventType),
		zap.Int("delay_minutes", delayMinutes))

	return Outcome{Queued: true, MessageID: msg.MessageID}, nil
}

// AppointmentEvent 预约确认事件
type AppointmentEvent struct {
	ClinicID        string
	PatientID       string
	PatientName     string
	Phone           string
	AppointmentDate string
	AppointmentTime string
	DoctorName      string
}

// SendAppointmentConfirmation 预约确认通知
func (s *AutoSendService) SendAppointmentConfirmation(ctx context.Context, event AppointmentEvent) (Outcome, error) {
	vars := map[string]string{
		"patientName":     event.PatientName,
		"appointmentDate": event.AppointmentDate,
		"appointmentTime": event.AppointmentTime,
		"doctorName":      event.DoctorName,
	}
	metadata, _ := json.Marshal(map[string]string{
		"appointment_date": event.AppointmentDate,
	})
	return s.QueueEvent(ctx, event.ClinicID, domain.EventAppointmentConfirmed,
		event.Phone, optional(event.PatientID), vars, metadata, 0)
}

// BillEvent 账单事件
type BillEvent struct {
	ClinicID    string
	PatientID   string
	PatientName string
	Phone       string
	BillNumber  string
	TotalAmount string
}

// SendBillNotification 账单生成通知
func (s *AutoSendService) SendBillNotification(ctx context.Context, event BillEvent) (Outcome, error) {
	vars := map[string]string{
		"patientName": event.PatientName,
		"billNumber":  event.BillNumber,
		"totalAmount": event.TotalAmount,
	}
	metadata, _ := json.Marshal(map[string]string{
		"bill_number": event.BillNumber,
	})
	return s.QueueEvent(ctx, event.ClinicID, domain.EventBillCreated,
		event.Phone, optional(event.PatientID), vars, metadata, 0)
}

// PaymentEvent 收款事件
type PaymentEvent struct {
	ClinicID    string
	PatientID   string
	PatientName string
	Phone       string
	BillNumber  string
	AmountPaid  string
}

// SendPaymentConfirmation 收款确认通知
func (s *AutoSendService) SendPaymentConfirmation(ctx context.Context, event PaymentEvent) (Outcome, error) {
	vars := map[string]string{
		"patientName": event.PatientName,
		"billNumber":  event.BillNumber,
		"amountPaid":  event.AmountPaid,
	}
	metadata, _ := json.Marshal(map[string]string{
		"bill_number": event.BillNumber,
	})
	return s.QueueEvent(ctx, event.ClinicID, domain.EventPaymentReceived,
		event.Phone, optional(event.PatientID), vars, metadata, 0)
}

// ReviewRequestEvent 评价邀请事件
type ReviewRequestEvent struct {
	ClinicID     string
	PatientID    string
	PatientName  string
	Phone        string
	ClinicName   string
	ReviewLink   string
	DelayMinutes int
}

// SendReviewRequest 就诊后评价邀请（默认延迟发送，避免患者还在诊所时收到）
func (s *AutoSendService) SendReviewRequest(ctx context.Context, event ReviewRequestEvent) (Outcome, error) {
	vars := map[string]string{
		"patientName": event.PatientName,
		"clinicName":  event.ClinicName,
		"reviewLink":  event.ReviewLink,
	}
	metadata, _ := json.Marshal(map[string]string{
		"review_link": event.ReviewLink,
	})
	delay := event.DelayMinutes
	if delay <= 0 {
		delay = 60
	}
	return s.QueueEvent(ctx, event.ClinicID, domain.EventGMBReviewRequest,
		event.Phone, optional(event.PatientID), vars, metadata, delay)
}

// StockAlertEvent 库存告警事件（发送给诊所管理员而非患者）
type StockAlertEvent struct {
	ClinicID     string
	AdminPhone   string
	MedicineName string
	CurrentStock int
	ReorderLevel int
	ExpiryDate   string
	EventType    string // low_stock 或 expiry_alert
}

// SendStockAlert 库存/效期告警通知
func (s *AutoSendService) SendStockAlert(ctx context.Context, event StockAlertEvent) (Outcome, error) {
	vars := map[string]string{
		"medicineName": event.MedicineName,
		"currentStock": strconv.Itoa(event.CurrentStock),
		"reorderLevel": strconv.Itoa(event.ReorderLevel),
		"expiryDate":   event.ExpiryDate,
	}
	metadata, _ := json.Marshal(map[string]string{
		"medicine_name": event.MedicineName,
	})
	return s.QueueEvent(ctx, event.ClinicID, event.EventType,
		event.AdminPhone, nil, vars, metadata, 0)
}

// optional 空字符串映射为 nil 指针
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
