package domain

import (
	"encoding/json"
	"time"
)

// 消息投递状态
const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// 诊所事件类型（驱动自动发送规则和模板选择）
const (
	EventAppointmentConfirmed = "appointment_confirmed"
	EventBillCreated          = "bill_created"
	EventPaymentReceived      = "payment_received"
	EventGMBReviewRequest     = "gmb_review_request"
	EventLowStock             = "low_stock"
	EventExpiryAlert          = "expiry_alert"
)

// KnownEventTypes 所有合法事件类型
var KnownEventTypes = map[string]bool{
	EventAppointmentConfirmed: true,
	EventBillCreated:          true,
	EventPaymentReceived:      true,
	EventGMBReviewRequest:     true,
	EventLowStock:             true,
	EventExpiryAlert:          true,
}

// QueuedMessage 待发送消息领域模型（对应 queued_messages 表）
// 生命周期：pending → sent，或 pending → … → failed（达到重试上限）。
// sent 和 failed 为终态，不提供重新入队路径；记录永不删除。
type QueuedMessage struct {
	MessageID string `db:"message_id"` // UUID, PRIMARY KEY

	// 租户和患者关联
	ClinicID  string  `db:"clinic_id"`  // UUID, NOT NULL
	PatientID *string `db:"patient_id"` // UUID, nullable

	// 投递目标和内容
	PhoneNumber    string `db:"phone_number"`    // VARCHAR(20), 归一化后的国际格式
	EventType      string `db:"event_type"`      // VARCHAR(50), NOT NULL
	MessageContent string `db:"message_content"` // TEXT, 渲染后的消息正文

	// 元数据（账单号、预约时间等事件上下文）
	Metadata json.RawMessage `db:"metadata"` // JSONB, DEFAULT '{}'::JSONB

	// 投递状态
	Status      string     `db:"status"`       // VARCHAR(20), CHECK IN ('pending', 'sent', 'failed')
	ScheduledAt time.Time  `db:"scheduled_at"` // TIMESTAMPTZ, NOT NULL
	SentAt      *time.Time `db:"sent_at"`      // TIMESTAMPTZ, nullable
	RetryCount  int        `db:"retry_count"`  // INT, DEFAULT 0
	LastError   *string    `db:"last_error"`   // TEXT, nullable

	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
	UpdatedAt time.Time `db:"updated_at"` // TIMESTAMPTZ, NOT NULL
}

// MaxRetries 最大投递尝试次数（达到后标记 failed）
const MaxRetries = 3

// IsTerminal 是否处于终态
func (m *QueuedMessage) IsTerminal() bool {
	return m.Status == MessageStatusSent || m.Status == MessageStatusFailed
}
