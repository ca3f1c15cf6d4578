package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"opd-notify/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*PostgresMessageQueueRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewPostgresMessageQueueRepository(db, domain.MaxRetries, zap.NewNop())
	return repo, mock, func() { db.Close() }
}

func messageRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"message_id", "clinic_id", "patient_id", "phone_number", "event_type",
		"message_content", "metadata", "status", "scheduled_at", "sent_at",
		"retry_count", "last_error", "created_at", "updated_at",
	})
}

func TestEnqueue(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	msg := &domain.QueuedMessage{
		MessageID:      "msg-1",
		ClinicID:       "clinic-1",
		PhoneNumber:    "919876543210",
		EventType:      domain.EventBillCreated,
		MessageContent: "Hi Asha, your bill B-100 for ₹500 is ready.",
		ScheduledAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO queued_messages").
		WithArgs(msg.MessageID, msg.ClinicID, msg.PatientID, msg.PhoneNumber,
			msg.EventType, msg.MessageContent, []byte("{}"), msg.ScheduledAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Enqueue(context.Background(), msg)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_MissingClinicID(t *testing.T) {
	repo, _, cleanup := setupMockDB(t)
	defer cleanup()

	err := repo.Enqueue(context.Background(), &domain.QueuedMessage{
		MessageID:   "msg-1",
		PhoneNumber: "919876543210",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "clinic_id is required")
}

func TestClaimDue(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	earlier := now.Add(-10 * time.Minute)
	later := now.Add(-5 * time.Minute)

	rows := messageRows().
		AddRow("msg-1", "clinic-1", nil, "919876543210", domain.EventBillCreated,
			"first", []byte("{}"), domain.MessageStatusPending, earlier, nil, 0, nil, earlier, earlier).
		AddRow("msg-2", "clinic-1", "pat-1", "919812345678", domain.EventAppointmentConfirmed,
			"second", []byte(`{"appointment_id":"a-1"}`), domain.MessageStatusPending, later, nil, 2, "gateway timeout", later, later)

	mock.ExpectQuery("SELECT (.+) FROM queued_messages").
		WithArgs(now, domain.MaxRetries, 50).
		WillReturnRows(rows)

	messages, err := repo.ClaimDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	// 按 scheduled_at 升序
	assert.Equal(t, "msg-1", messages[0].MessageID)
	assert.Equal(t, "msg-2", messages[1].MessageID)
	assert.Nil(t, messages[0].PatientID)
	require.NotNil(t, messages[1].PatientID)
	assert.Equal(t, "pat-1", *messages[1].PatientID)
	assert.Equal(t, 2, messages[1].RetryCount)
	require.NotNil(t, messages[1].LastError)
	assert.Equal(t, "gateway timeout", *messages[1].LastError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue_DefaultLimit(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM queued_messages").
		WithArgs(now, domain.MaxRetries, 50).
		WillReturnRows(messageRows())

	messages, err := repo.ClaimDue(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue_ConfiguredRetryLimit(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	// 重试上限来自配置，而非固定常量
	repo := NewPostgresMessageQueueRepository(db, 5, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM queued_messages").
		WithArgs(now, 5, 50).
		WillReturnRows(messageRows())

	_, err = repo.ClaimDue(context.Background(), now, 50)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed_ConfiguredRetryLimit(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresMessageQueueRepository(db, 5, zap.NewNop())

	mock.ExpectQuery("UPDATE queued_messages").
		WithArgs("msg-1", "gateway timeout", 5).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.MessageStatusPending))

	status, err := repo.MarkFailed(context.Background(), "msg-1", "gateway timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPending, status)
}

func TestGetMessage_NotFound(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM queued_messages").
		WithArgs("msg-missing", "clinic-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetMessage(context.Background(), "clinic-1", "msg-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkSent(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	sentAt := time.Now()
	mock.ExpectExec("UPDATE queued_messages").
		WithArgs("msg-1", sentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSent(context.Background(), "msg-1", sentAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent_NotPending(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	sentAt := time.Now()
	mock.ExpectExec("UPDATE queued_messages").
		WithArgs("msg-1", sentAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), "msg-1", sentAt)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestMarkFailed_StaysPending(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE queued_messages").
		WithArgs("msg-1", "gateway timeout", domain.MaxRetries).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.MessageStatusPending))

	status, err := repo.MarkFailed(context.Background(), "msg-1", "gateway timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPending, status)
}

func TestMarkFailed_FlipsToFailedAtLimit(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE queued_messages").
		WithArgs("msg-1", "gateway timeout", domain.MaxRetries).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.MessageStatusFailed))

	status, err := repo.MarkFailed(context.Background(), "msg-1", "gateway timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusFailed, status)
}

func TestListMessages_StatusFilter(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	status := domain.MessageStatusSent

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("clinic-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := messageRows().
		AddRow("msg-1", "clinic-1", nil, "919876543210", domain.EventPaymentReceived,
			"paid", []byte("{}"), domain.MessageStatusSent, now, now, 0, nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM queued_messages").
		WithArgs("clinic-1", status, 20, 0).
		WillReturnRows(rows)

	messages, total, err := repo.ListMessages(context.Background(), "clinic-1", MessageFilters{Status: &status}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.MessageStatusSent, messages[0].Status)
	require.NotNil(t, messages[0].SentAt)
}

func TestCountByStatus(t *testing.T) {
	repo, mock, cleanup := setupMockDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(domain.MessageStatusSent, 7).
		AddRow(domain.MessageStatusPending, 2)

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("clinic-1").
		WillReturnRows(rows)

	stats, err := repo.CountByStatus(context.Background(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stats[domain.MessageStatusSent])
	assert.Equal(t, 2, stats[domain.MessageStatusPending])
	// 缺失的状态以 0 补齐
	assert.Equal(t, 0, stats[domain.MessageStatusFailed])
}
