package domain

import "time"

// MessageTemplate 消息模板（对应 message_templates 表）
// 同一 (clinic_id, event_type) 可配置多个模板；
// 默认模板选取规则：ORDER BY is_default DESC 取第一条。
type MessageTemplate struct {
	TemplateID     string    `db:"template_id"`     // UUID, PRIMARY KEY
	ClinicID       string    `db:"clinic_id"`       // UUID, NOT NULL
	EventType      string    `db:"event_type"`      // VARCHAR(50), NOT NULL
	MessageContent string    `db:"message_content"` // TEXT, 含 {{key}} 占位符
	IsDefault      bool      `db:"is_default"`      // BOOLEAN, DEFAULT FALSE
	CreatedAt      time.Time `db:"created_at"`      // TIMESTAMPTZ, NOT NULL
	UpdatedAt      time.Time `db:"updated_at"`      // TIMESTAMPTZ, NOT NULL
}
