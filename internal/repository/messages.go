package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"opd-notify/internal/domain"

	"go.uber.org/zap"
)

// ErrMessageNotFound 消息不存在（调用方用 errors.Is 判定）
var ErrMessageNotFound = errors.New("message not found")

// MessageQueueRepository 消息队列仓库接口（供 service/worker 注入，测试时可替换）
type MessageQueueRepository interface {
	Enqueue(ctx context.Context, msg *domain.QueuedMessage) error
	GetMessage(ctx context.Context, clinicID, messageID string) (*domain.QueuedMessage, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedMessage, error)
	MarkSent(ctx context.Context, messageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, messageID, sendErr string) (string, error)
	ListMessages(ctx context.Context, clinicID string, filters MessageFilters, page, size int) ([]*domain.QueuedMessage, int, error)
	CountByStatus(ctx context.Context, clinicID string) (map[string]int, error)
}

// MessageFilters 消息列表过滤条件
type MessageFilters struct {
	Status    *string // pending / sent / failed
	EventType *string
	PatientID *string
}

// PostgresMessageQueueRepository 消息队列仓库 Postgres 实现
type PostgresMessageQueueRepository struct {
	db         *sql.DB
	maxRetries int
	logger     *zap.Logger
}

// NewPostgresMessageQueueRepository 创建消息队列仓库
// maxRetries 为投递失败的重试上限，非正值时回退到 domain.MaxRetries。
func NewPostgresMessageQueueRepository(db *sql.DB, maxRetries int, logger *zap.Logger) *PostgresMessageQueueRepository {
	if maxRetries <= 0 {
		maxRetries = domain.MaxRetries
	}
	return &PostgresMessageQueueRepository{db: db, maxRetries: maxRetries, logger: logger}
}

// 确保实现了接口
var _ MessageQueueRepository = (*PostgresMessageQueueRepository)(nil)

const messageColumns = `
	message_id,
	clinic_id,
	patient_id,
	phone_number,
	event_type,
	message_content,
	metadata,
	status,
	scheduled_at,
	sent_at,
	retry_count,
	last_error,
	created_at,
	updated_at`

// Enqueue 插入一条待发送消息（status=pending, retry_count=0）
func (r *PostgresMessageQueueRepository) Enqueue(ctx context.Context, msg *domain.QueuedMessage) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ClinicID == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if msg.PhoneNumber == "" {
		return fmt.Errorf("phone_number is required")
	}

	metadata := msg.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO queued_messages (
			message_id,
			clinic_id,
			patient_id,
			phone_number,
			event_type,
			message_content,
			metadata,
			status,
			scheduled_at,
			retry_count,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, 'pending', $8, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.MessageID,
		msg.ClinicID,
		msg.PatientID,
		msg.PhoneNumber,
		msg.EventType,
		msg.MessageContent,
		metadata,
		msg.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	return nil
}

// GetMessage 根据 message_id 获取单条消息（需验证 clinic_id）
func (r *PostgresMessageQueueRepository) GetMessage(ctx context.Context, clinicID, messageID string) (*domain.QueuedMessage, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if messageID == "" {
		return nil, fmt.Errorf("message_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM queued_messages
		WHERE message_id = $1
		  AND clinic_id = $2
	`, messageColumns)

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID, clinicID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: message_id=%s, clinic_id=%s", ErrMessageNotFound, messageID, clinicID)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// ClaimDue 选取一批到期待发送的消息
// 选取条件：status=pending、scheduled_at<=now、retry_count 未达上限；
// 按 scheduled_at 升序，至多 limit 条。
// 并发约束由 worker 的 Redis 租约保证（同一时刻只有一个实例在处理）。
func (r *PostgresMessageQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM queued_messages
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		  AND retry_count < $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, messageColumns)

	rows, err := r.db.QueryContext(ctx, query, now, r.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due messages: %w", err)
	}
	defer rows.Close()

	messages := []*domain.QueuedMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// MarkSent 标记消息发送成功（终态）
func (r *PostgresMessageQueueRepository) MarkSent(ctx context.Context, messageID string, sentAt time.Time) error {
	if messageID == "" {
		return fmt.Errorf("message_id is required")
	}

	query := `
		UPDATE queued_messages
		SET status = 'sent',
		    sent_at = $2,
		    last_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE message_id = $1
		  AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, messageID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("message not found or not pending: message_id=%s", messageID)
	}

	return nil
}

// MarkFailed 记录一次投递失败：retry_count+1，
// 达到上限时状态翻转为 failed（终态），否则保持 pending 等待下一轮。
// 返回更新后的状态。
func (r *PostgresMessageQueueRepository) MarkFailed(ctx context.Context, messageID, sendErr string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("message_id is required")
	}

	query := `
		UPDATE queued_messages
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE message_id = $1
		  AND status = 'pending'
		RETURNING status
	`

	var status string
	err := r.db.QueryRowContext(ctx, query, messageID, sendErr, r.maxRetries).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("message not found or not pending: message_id=%s", messageID)
		}
		return "", fmt.Errorf("failed to mark message failed: %w", err)
	}

	return status, nil
}

// ListMessages 列表查询（支持状态/事件类型/患者过滤、分页）
func (r *PostgresMessageQueueRepository) ListMessages(ctx context.Context, clinicID string, filters MessageFilters, page, size int) ([]*domain.QueuedMessage, int, error) {
	if clinicID == "" {
		return []*domain.QueuedMessage{}, 0, nil
	}

	where := []string{"clinic_id = $1"}
	args := []interface{}{clinicID}
	argN := 2

	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, *filters.Status)
		argN++
	}
	if filters.EventType != nil {
		where = append(where, fmt.Sprintf("event_type = $%d", argN))
		args = append(args, *filters.EventType)
		argN++
	}
	if filters.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", argN))
		args = append(args, *filters.PatientID)
		argN++
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM queued_messages
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT %s
		FROM queued_messages
		%s
		ORDER BY scheduled_at DESC
		LIMIT $%d OFFSET $%d
	`, messageColumns, whereClause, argN, argN+1)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*domain.QueuedMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, total, nil
}

// CountByStatus 按状态统计消息数量
func (r *PostgresMessageQueueRepository) CountByStatus(ctx context.Context, clinicID string) (map[string]int, error) {
	if clinicID == "" {
		return map[string]int{}, nil
	}

	query := `
		SELECT status, COUNT(*)
		FROM queued_messages
		WHERE clinic_id = $1
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by status: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		domain.MessageStatusPending: 0,
		domain.MessageStatusSent:    0,
		domain.MessageStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return stats, nil
}

// rowScanner 兼容 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage 扫描一行消息记录，处理可空字段
func scanMessage(row rowScanner) (*domain.QueuedMessage, error) {
	var msg domain.QueuedMessage
	var patientID, lastError sql.NullString
	var sentAt sql.NullTime
	var metadata []byte

	err := row.Scan(
		&msg.MessageID,
		&msg.ClinicID,
		&patientID,
		&msg.PhoneNumber,
		&msg.EventType,
		&msg.MessageContent,
		&metadata,
		&msg.Status,
		&msg.ScheduledAt,
		&sentAt,
		&msg.RetryCount,
		&lastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if patientID.Valid {
		msg.PatientID = &patientID.String
	}
	if sentAt.Valid {
		msg.SentAt = &sentAt.Time
	}
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if len(metadata) > 0 {
		msg.Metadata = metadata
	} else {
		msg.Metadata = json.RawMessage("{}")
	}

	return &msg, nil
}
