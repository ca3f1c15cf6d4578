package domain

import "time"

// AutoSendRule 自动发送规则（对应 auto_send_rules 表）
// 每个 (clinic_id, event_type) 组合至多一行；缺行视为关闭。
type AutoSendRule struct {
	ClinicID  string    `db:"clinic_id"`  // UUID, NOT NULL
	EventType string    `db:"event_type"` // VARCHAR(50), NOT NULL
	Enabled   bool      `db:"enabled"`    // BOOLEAN, DEFAULT FALSE
	UpdatedAt time.Time `db:"updated_at"` // TIMESTAMPTZ, NOT NULL
}
