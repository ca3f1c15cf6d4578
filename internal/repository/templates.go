package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opd-notify/internal/domain"

	"go.uber.org/zap"
)

// ErrTemplateNotFound 模板不存在（调用方用 errors.Is 判定）
var ErrTemplateNotFound = errors.New("template not found")

// MessageTemplateRepository 消息模板仓库接口
type MessageTemplateRepository interface {
	GetDefaultTemplate(ctx context.Context, clinicID, eventType string) (*domain.MessageTemplate, error)
	GetTemplate(ctx context.Context, clinicID, templateID string) (*domain.MessageTemplate, error)
	CreateTemplate(ctx context.Context, tmpl *domain.MessageTemplate) error
	UpdateTemplate(ctx context.Context, tmpl *domain.MessageTemplate) error
	DeleteTemplate(ctx context.Context, clinicID, templateID string) error
	ListTemplates(ctx context.Context, clinicID string) ([]*domain.MessageTemplate, error)
}

// PostgresMessageTemplateRepository 消息模板仓库 Postgres 实现
type PostgresMessageTemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresMessageTemplateRepository 创建消息模板仓库
func NewPostgresMessageTemplateRepository(db *sql.DB, logger *zap.Logger) *PostgresMessageTemplateRepository {
	return &PostgresMessageTemplateRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ MessageTemplateRepository = (*PostgresMessageTemplateRepository)(nil)

// GetDefaultTemplate 获取 (clinic_id, event_type) 的默认模板
// 存在多个模板时选取规则固定：is_default 降序取第一条。
// 无模板返回 nil（不视为错误，调用方按跳过处理）。
func (r *PostgresMessageTemplateRepository) GetDefaultTemplate(ctx context.Context, clinicID, eventType string) (*domain.MessageTemplate, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	query := `
		SELECT template_id, clinic_id, event_type, message_content, is_default, created_at, updated_at
		FROM message_templates
		WHERE clinic_id = $1
		  AND event_type = $2
		ORDER BY is_default DESC
		LIMIT 1
	`

	var tmpl domain.MessageTemplate
	err := r.db.QueryRowContext(ctx, query, clinicID, eventType).Scan(
		&tmpl.TemplateID,
		&tmpl.ClinicID,
		&tmpl.EventType,
		&tmpl.MessageContent,
		&tmpl.IsDefault,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 未配置模板
		}
		return nil, fmt.Errorf("failed to get default template: %w", err)
	}

	return &tmpl, nil
}

// GetTemplate 根据 template_id 获取模板（需验证 clinic_id）
func (r *PostgresMessageTemplateRepository) GetTemplate(ctx context.Context, clinicID, templateID string) (*domain.MessageTemplate, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if templateID == "" {
		return nil, fmt.Errorf("template_id is required")
	}

	query := `
		SELECT template_id, clinic_id, event_type, message_content, is_default, created_at, updated_at
		FROM message_templates
		WHERE template_id = $1
		  AND clinic_id = $2
	`

	var tmpl domain.MessageTemplate
	err := r.db.QueryRowContext(ctx, query, templateID, clinicID).Scan(
		&tmpl.TemplateID,
		&tmpl.ClinicID,
		&tmpl.EventType,
		&tmpl.MessageContent,
		&tmpl.IsDefault,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: template_id=%s, clinic_id=%s", ErrTemplateNotFound, templateID, clinicID)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &tmpl, nil
}

// CreateTemplate 创建模板
// 新模板标记为默认时，先取消同 (clinic_id, event_type) 下其它默认标记。
func (r *PostgresMessageTemplateRepository) CreateTemplate(ctx context.Context, tmpl *domain.MessageTemplate) error {
	if tmpl == nil {
		return fmt.Errorf("template is required")
	}
	if tmpl.ClinicID == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if tmpl.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if tmpl.MessageContent == "" {
		return fmt.Errorf("message_content is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if tmpl.IsDefault {
		_, err = tx.ExecContext(ctx, `
			UPDATE message_templates
			SET is_default = FALSE,
			    updated_at = CURRENT_TIMESTAMP
			WHERE clinic_id = $1
			  AND event_type = $2
			  AND is_default = TRUE
		`, tmpl.ClinicID, tmpl.EventType)
		if err != nil {
			return fmt.Errorf("failed to clear default template: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_templates (
			template_id, clinic_id, event_type, message_content, is_default, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
	`, tmpl.TemplateID, tmpl.ClinicID, tmpl.EventType, tmpl.MessageContent, tmpl.IsDefault)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateTemplate 更新模板内容和默认标记
func (r *PostgresMessageTemplateRepository) UpdateTemplate(ctx context.Context, tmpl *domain.MessageTemplate) error {
	if tmpl == nil {
		return fmt.Errorf("template is required")
	}
	if tmpl.ClinicID == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if tmpl.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if tmpl.IsDefault {
		_, err = tx.ExecContext(ctx, `
			UPDATE message_templates
			SET is_default = FALSE,
			    updated_at = CURRENT_TIMESTAMP
			WHERE clinic_id = $1
			  AND event_type = $2
			  AND is_default = TRUE
			  AND template_id <> $3
		`, tmpl.ClinicID, tmpl.EventType, tmpl.TemplateID)
		if err != nil {
			return fmt.Errorf("failed to clear default template: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE message_templates
		SET message_content = $3,
		    is_default = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE template_id = $1
		  AND clinic_id = $2
	`, tmpl.TemplateID, tmpl.ClinicID, tmpl.MessageContent, tmpl.IsDefault)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: template_id=%s, clinic_id=%s", ErrTemplateNotFound, tmpl.TemplateID, tmpl.ClinicID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteTemplate 删除模板
func (r *PostgresMessageTemplateRepository) DeleteTemplate(ctx context.Context, clinicID, templateID string) error {
	if clinicID == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if templateID == "" {
		return fmt.Errorf("template_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM message_templates
		WHERE template_id = $1
		  AND clinic_id = $2
	`, templateID, clinicID)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: template_id=%s, clinic_id=%s", ErrTemplateNotFound, templateID, clinicID)
	}

	return nil
}

// ListTemplates 列出诊所的全部模板
func (r *PostgresMessageTemplateRepository) ListTemplates(ctx context.Context, clinicID string) ([]*domain.MessageTemplate, error) {
	if clinicID == "" {
		return []*domain.MessageTemplate{}, nil
	}

	query := `
		SELECT template_id, clinic_id, event_type, message_content, is_default, created_at, updated_at
		FROM message_templates
		WHERE clinic_id = $1
		ORDER BY event_type ASC, is_default DESC
	`

	rows, err := r.db.QueryContext(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*domain.MessageTemplate{}
	for rows.Next() {
		var tmpl domain.MessageTemplate
		if err := rows.Scan(
			&tmpl.TemplateID,
			&tmpl.ClinicID,
			&tmpl.EventType,
			&tmpl.MessageContent,
			&tmpl.IsDefault,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, &tmpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}
