package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/service"
	rediscommon "opd-notify/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventConsumer 临床事件消费者
// 诊所端系统把临床事件（预约、账单、收款等）写入 Redis Stream，
// 这里逐条消费并交给自动发送服务判定入队。
type EventConsumer struct {
	redisClient  *redis.Client
	autoSend     *service.AutoSendService
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
}

// ClinicEvent 临床事件
type ClinicEvent struct {
	EventType   string            `json:"event_type"`
	ClinicID    string            `json:"clinic_id"`
	PatientID   string            `json:"patient_id,omitempty"`
	PatientName string            `json:"patient_name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	Timestamp   int64             `json:"timestamp,omitempty"`
}

// NewEventConsumer 创建事件消费者
func NewEventConsumer(
	redisClient *redis.Client,
	autoSend *service.AutoSendService,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *EventConsumer {
	return &EventConsumer{
		redisClient:  redisClient,
		autoSend:     autoSend,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
	}
}

// Start 启动事件消费者
func (c *EventConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeEvents(ctx); err != nil {
				c.logger.Error("Failed to consume events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeEvents 消费一批事件
func (c *EventConsumer) consumeEvents(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processEvent(ctx, msg); err != nil {
			c.logger.Error("Failed to process event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		} else {
			if err := c.ackMessage(ctx, msg.ID); err != nil {
				c.logger.Warn("Failed to ack message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// processEvent 处理单个事件
func (c *EventConsumer) processEvent(ctx context.Context, msg rediscommon.StreamMessage) error {
	event, err := c.parseEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}

	c.logger.Info("Processing clinic event",
		zap.String("event_type", event.EventType),
		zap.String("clinic_id", event.ClinicID),
	)

	var outcome service.Outcome

	switch event.EventType {
	case domain.EventAppointmentConfirmed:
		outcome, err = c.autoSend.SendAppointmentConfirmation(ctx, service.AppointmentEvent{
			ClinicID:        event.ClinicID,
			PatientID:       event.PatientID,
			PatientName:     event.PatientName,
			Phone:           event.Phone,
			AppointmentDate: event.Payload["appointment_date"],
			AppointmentTime: event.Payload["appointment_time"],
			DoctorName:      event.Payload["doctor_name"],
		})

	case domain.EventBillCreated:
		outcome, err = c.autoSend.SendBillNotification(ctx, service.BillEvent{
			ClinicID:    event.ClinicID,
			PatientID:   event.PatientID,
			PatientName: event.PatientName,
			Phone:       event.Phone,
			BillNumber:  event.Payload["bill_number"],
			TotalAmount: event.Payload["total_amount"],
		})

	case domain.EventPaymentReceived:
		outcome, err = c.autoSend.SendPaymentConfirmation(ctx, service.PaymentEvent{
			ClinicID:    event.ClinicID,
			PatientID:   event.PatientID,
			PatientName: event.PatientName,
			Phone:       event.Phone,
			BillNumber:  event.Payload["bill_number"],
			AmountPaid:  event.Payload["amount_paid"],
		})

	case domain.EventGMBReviewRequest:
		outcome, err = c.autoSend.SendReviewRequest(ctx, service.ReviewRequestEvent{
			ClinicID:    event.ClinicID,
			PatientID:   event.PatientID,
			PatientName: event.PatientName,
			Phone:       event.Phone,
			ClinicName:  event.Payload["clinic_name"],
			ReviewLink:  event.Payload["review_link"],
		})

	default:
		// 未知事件类型记录后确认，不反复重投
		c.logger.Warn("Unknown event type",
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	if err != nil {
		return err
	}

	if !outcome.Queued {
		c.logger.Debug("Event skipped",
			zap.String("event_type", event.EventType),
			zap.String("clinic_id", event.ClinicID),
			zap.String("reason", outcome.SkipReason),
		)
	}

	return nil
}

// parseEvent 解析事件消息
func (c *EventConsumer) parseEvent(msg rediscommon.StreamMessage) (*ClinicEvent, error) {
	// 优先从 data 字段解析 JSON
	if dataStr, ok := msg.Values["data"].(string); ok {
		var event ClinicEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err == nil && event.EventType != "" {
			return &event, nil
		}
	}

	// data 字段不存在时直接从 Values 解析
	event := &ClinicEvent{Payload: map[string]string{}}

	if eventType, ok := msg.Values["event_type"].(string); ok {
		event.EventType = eventType
	}
	if clinicID, ok := msg.Values["clinic_id"].(string); ok {
		event.ClinicID = clinicID
	}
	if patientID, ok := msg.Values["patient_id"].(string); ok {
		event.PatientID = patientID
	}
	if patientName, ok := msg.Values["patient_name"].(string); ok {
		event.PatientName = patientName
	}
	if phone, ok := msg.Values["phone"].(string); ok {
		event.Phone = phone
	}

	if event.EventType == "" || event.ClinicID == "" {
		return nil, fmt.Errorf("invalid event: missing event_type or clinic_id")
	}

	return event, nil
}

// ackMessage 确认消息
func (c *EventConsumer) ackMessage(ctx context.Context, messageID string) error {
	return c.redisClient.XAck(ctx, c.stream, c.groupName, messageID).Err()
}
