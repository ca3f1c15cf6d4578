package repository

import (
	"context"
	"database/sql"
	"fmt"

	"opd-notify/internal/domain"

	"go.uber.org/zap"
)

// AutoSendRuleRepository 自动发送规则仓库接口
type AutoSendRuleRepository interface {
	GetRule(ctx context.Context, clinicID, eventType string) (*domain.AutoSendRule, error)
	UpsertRule(ctx context.Context, rule *domain.AutoSendRule) error
	ListRules(ctx context.Context, clinicID string) ([]*domain.AutoSendRule, error)
}

// PostgresAutoSendRuleRepository 自动发送规则仓库 Postgres 实现
type PostgresAutoSendRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAutoSendRuleRepository 创建自动发送规则仓库
func NewPostgresAutoSendRuleRepository(db *sql.DB, logger *zap.Logger) *PostgresAutoSendRuleRepository {
	return &PostgresAutoSendRuleRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ AutoSendRuleRepository = (*PostgresAutoSendRuleRepository)(nil)

// GetRule 获取 (clinic_id, event_type) 对应的规则
// 规则缺失返回 nil（不视为错误，调用方按关闭处理）。
func (r *PostgresAutoSendRuleRepository) GetRule(ctx context.Context, clinicID, eventType string) (*domain.AutoSendRule, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	query := `
		SELECT clinic_id, event_type, enabled, updated_at
		FROM auto_send_rules
		WHERE clinic_id = $1
		  AND event_type = $2
	`

	var rule domain.AutoSendRule
	err := r.db.QueryRowContext(ctx, query, clinicID, eventType).Scan(
		&rule.ClinicID,
		&rule.EventType,
		&rule.Enabled,
		&rule.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 未配置规则
		}
		return nil, fmt.Errorf("failed to get auto-send rule: %w", err)
	}

	return &rule, nil
}

// UpsertRule 按复合键 (clinic_id, event_type) 插入或更新规则
func (r *PostgresAutoSendRuleRepository) UpsertRule(ctx context.Context, rule *domain.AutoSendRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ClinicID == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if rule.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	query := `
		INSERT INTO auto_send_rules (clinic_id, event_type, enabled, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (clinic_id, event_type)
		DO UPDATE SET enabled = EXCLUDED.enabled,
		              updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query, rule.ClinicID, rule.EventType, rule.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert auto-send rule: %w", err)
	}

	return nil
}

// ListRules 列出诊所的全部规则
func (r *PostgresAutoSendRuleRepository) ListRules(ctx context.Context, clinicID string) ([]*domain.AutoSendRule, error) {
	if clinicID == "" {
		return []*domain.AutoSendRule{}, nil
	}

	query := `
		SELECT clinic_id, event_type, enabled, updated_at
		FROM auto_send_rules
		WHERE clinic_id = $1
		ORDER BY event_type ASC
	`

	rows, err := r.db.QueryContext(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-send rules: %w", err)
	}
	defer rows.Close()

	rules := []*domain.AutoSendRule{}
	for rows.Next() {
		var rule domain.AutoSendRule
		if err := rows.Scan(&rule.ClinicID, &rule.EventType, &rule.Enabled, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auto-send rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auto-send rules: %w", err)
	}

	return rules, nil
}
