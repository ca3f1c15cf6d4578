package repository

import (
	"context"
	"testing"
	"time"

	"opd-notify/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStockRepo(t *testing.T) (*PostgresStockRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewPostgresStockRepository(db, zap.NewNop())
	return repo, mock, func() { db.Close() }
}

func TestAdjustStock_Dispense(t *testing.T) {
	repo, mock, cleanup := setupStockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE medicines").
		WithArgs("clinic-1", "med-1", -30).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(70))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("mv-1", "clinic-1", "med-1", domain.MovementDispense, -30, 70, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	newStock, err := repo.AdjustStock(context.Background(), &domain.StockMovement{
		MovementID:   "mv-1",
		ClinicID:     "clinic-1",
		MedicineID:   "med-1",
		MovementType: domain.MovementDispense,
		Quantity:     -30,
	})
	require.NoError(t, err)
	assert.Equal(t, 70, newStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_InsufficientStock(t *testing.T) {
	repo, mock, cleanup := setupStockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE medicines").
		WithArgs("clinic-1", "med-1", -50).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("clinic-1", "med-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.AdjustStock(context.Background(), &domain.StockMovement{
		MovementID:   "mv-1",
		ClinicID:     "clinic-1",
		MedicineID:   "med-1",
		MovementType: domain.MovementDispense,
		Quantity:     -50,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStock_MedicineNotFound(t *testing.T) {
	repo, mock, cleanup := setupStockRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE medicines").
		WithArgs("clinic-1", "missing", -5).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("clinic-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.AdjustStock(context.Background(), &domain.StockMovement{
		MovementID:   "mv-1",
		ClinicID:     "clinic-1",
		MedicineID:   "missing",
		MovementType: domain.MovementDispense,
		Quantity:     -5,
	})
	assert.ErrorIs(t, err, ErrMedicineNotFound)
}

func TestAdjustStock_ZeroQuantityRejected(t *testing.T) {
	repo, _, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := repo.AdjustStock(context.Background(), &domain.StockMovement{
		MovementID:   "mv-1",
		ClinicID:     "clinic-1",
		MedicineID:   "med-1",
		MovementType: domain.MovementAdjustment,
		Quantity:     0,
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be non-zero")
}

func TestListLowStock(t *testing.T) {
	repo, mock, cleanup := setupStockRepo(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"medicine_id", "clinic_id", "name", "unit", "stock",
		"reorder_level", "expiry_date", "created_at", "updated_at",
	}).
		AddRow("med-1", "clinic-1", "Paracetamol 500mg", "tablet", 8, 20, nil, now, now).
		AddRow("med-2", "clinic-1", "Amoxicillin 250mg", "capsule", 15, 15, now.AddDate(0, 6, 0), now, now)

	mock.ExpectQuery("SELECT (.+) FROM medicines").
		WithArgs("clinic-1").
		WillReturnRows(rows)

	medicines, err := repo.ListLowStock(context.Background(), "clinic-1")
	require.NoError(t, err)
	require.Len(t, medicines, 2)
	assert.Equal(t, "Paracetamol 500mg", medicines[0].Name)
	assert.Nil(t, medicines[0].ExpiryDate)
	require.NotNil(t, medicines[1].ExpiryDate)
}
