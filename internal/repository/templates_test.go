package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTemplateRepo(t *testing.T) (*PostgresMessageTemplateRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewPostgresMessageTemplateRepository(db, zap.NewNop())
	return repo, mock, func() { db.Close() }
}

func TestGetTemplate_NotFound(t *testing.T) {
	repo, mock, cleanup := setupTemplateRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM message_templates").
		WithArgs("tmpl-missing", "clinic-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTemplate(context.Background(), "clinic-1", "tmpl-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDeleteTemplate_NotFound(t *testing.T) {
	repo, mock, cleanup := setupTemplateRepo(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM message_templates").
		WithArgs("tmpl-missing", "clinic-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteTemplate(context.Background(), "clinic-1", "tmpl-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestGetDefaultTemplate_NoRowsIsNotError(t *testing.T) {
	repo, mock, cleanup := setupTemplateRepo(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM message_templates").
		WithArgs("clinic-1", "bill_created").
		WillReturnError(sql.ErrNoRows)

	tmpl, err := repo.GetDefaultTemplate(context.Background(), "clinic-1", "bill_created")
	require.NoError(t, err)
	assert.Nil(t, tmpl)
}
