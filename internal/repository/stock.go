package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"opd-notify/internal/domain"

	"go.uber.org/zap"
)

// ErrInsufficientStock 库存不足（调整会导致负库存）
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrMedicineNotFound 药品不存在
var ErrMedicineNotFound = errors.New("medicine not found")

// StockRepository 药品库存仓库接口
type StockRepository interface {
	AdjustStock(ctx context.Context, movement *domain.StockMovement) (int, error)
	GetMedicine(ctx context.Context, clinicID, medicineID string) (*domain.Medicine, error)
	ListMedicines(ctx context.Context, clinicID string) ([]*domain.Medicine, error)
	ListLowStock(ctx context.Context, clinicID string) ([]*domain.Medicine, error)
	ListExpiringSoon(ctx context.Context, clinicID string, within time.Duration) ([]*domain.Medicine, error)
	ListMovements(ctx context.Context, clinicID, medicineID string, page, size int) ([]*domain.StockMovement, int, error)
}

// PostgresStockRepository 药品库存仓库 Postgres 实现
type PostgresStockRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStockRepository 创建药品库存仓库
func NewPostgresStockRepository(db *sql.DB, logger *zap.Logger) *PostgresStockRepository {
	return &PostgresStockRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ StockRepository = (*PostgresStockRepository)(nil)

const medicineColumns = `
	medicine_id,
	clinic_id,
	name,
	unit,
	stock,
	reorder_level,
	expiry_date,
	created_at,
	updated_at`

// AdjustStock 原子调整库存并写入流水，返回调整后的余额
// 条件更新保证 stock + delta >= 0 在写入时刻成立（而不是读取时刻），
// 消除读-检-写竞态；不满足条件时返回 ErrInsufficientStock。
// 库存更新和流水插入在同一事务内。
func (r *PostgresStockRepository) AdjustStock(ctx context.Context, movement *domain.StockMovement) (int, error) {
	if movement == nil {
		return 0, fmt.Errorf("movement is required")
	}
	if movement.ClinicID == "" {
		return 0, fmt.Errorf("clinic_id is required")
	}
	if movement.MedicineID == "" {
		return 0, fmt.Errorf("medicine_id is required")
	}
	if movement.Quantity == 0 {
		return 0, fmt.Errorf("quantity must be non-zero")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var newStock int
	err = tx.QueryRowContext(ctx, `
		UPDATE medicines
		SET stock = stock + $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE clinic_id = $1
		  AND medicine_id = $2
		  AND stock + $3 >= 0
		RETURNING stock
	`, movement.ClinicID, movement.MedicineID, movement.Quantity).Scan(&newStock)

	if err != nil {
		if err == sql.ErrNoRows {
			// 区分药品不存在与库存不足
			var exists bool
			checkErr := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM medicines
					WHERE clinic_id = $1 AND medicine_id = $2
				)
			`, movement.ClinicID, movement.MedicineID).Scan(&exists)
			if checkErr != nil {
				return 0, fmt.Errorf("failed to check medicine existence: %w", checkErr)
			}
			if !exists {
				return 0, ErrMedicineNotFound
			}
			return 0, ErrInsufficientStock
		}
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			movement_id, clinic_id, medicine_id, movement_type, quantity, balance_after, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP
		)
	`, movement.MovementID, movement.ClinicID, movement.MedicineID,
		movement.MovementType, movement.Quantity, newStock, movement.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert stock movement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newStock, nil
}

// GetMedicine 根据 medicine_id 获取药品（需验证 clinic_id）
func (r *PostgresStockRepository) GetMedicine(ctx context.Context, clinicID, medicineID string) (*domain.Medicine, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if medicineID == "" {
		return nil, fmt.Errorf("medicine_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM medicines
		WHERE medicine_id = $1
		  AND clinic_id = $2
	`, medicineColumns)

	med, err := scanMedicine(r.db.QueryRowContext(ctx, query, medicineID, clinicID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMedicineNotFound
		}
		return nil, fmt.Errorf("failed to get medicine: %w", err)
	}

	return med, nil
}

// ListMedicines 列出诊所的全部药品
func (r *PostgresStockRepository) ListMedicines(ctx context.Context, clinicID string) ([]*domain.Medicine, error) {
	if clinicID == "" {
		return []*domain.Medicine{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM medicines
		WHERE clinic_id = $1
		ORDER BY name ASC
	`, medicineColumns)

	return r.queryMedicines(ctx, query, clinicID)
}

// ListLowStock 列出低于补货阈值的药品（stock <= reorder_level）
func (r *PostgresStockRepository) ListLowStock(ctx context.Context, clinicID string) ([]*domain.Medicine, error) {
	if clinicID == "" {
		return []*domain.Medicine{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM medicines
		WHERE clinic_id = $1
		  AND stock <= reorder_level
		ORDER BY stock ASC
	`, medicineColumns)

	return r.queryMedicines(ctx, query, clinicID)
}

// ListExpiringSoon 列出近效期药品（效期落在 within 窗口内）
func (r *PostgresStockRepository) ListExpiringSoon(ctx context.Context, clinicID string, within time.Duration) ([]*domain.Medicine, error) {
	if clinicID == "" {
		return []*domain.Medicine{}, nil
	}

	deadline := time.Now().Add(within)

	query := fmt.Sprintf(`
		SELECT %s
		FROM medicines
		WHERE clinic_id = $1
		  AND expiry_date IS NOT NULL
		  AND expiry_date <= $2
		  AND stock > 0
		ORDER BY expiry_date ASC
	`, medicineColumns)

	return r.queryMedicines(ctx, query, clinicID, deadline)
}

// ListMovements 列出药品的库存流水（按时间倒序，分页）
func (r *PostgresStockRepository) ListMovements(ctx context.Context, clinicID, medicineID string, page, size int) ([]*domain.StockMovement, int, error) {
	if clinicID == "" {
		return []*domain.StockMovement{}, 0, nil
	}
	if medicineID == "" {
		return nil, 0, fmt.Errorf("medicine_id is required")
	}

	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM stock_movements
		WHERE clinic_id = $1
		  AND medicine_id = $2
	`, clinicID, medicineID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count stock movements: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	rows, err := r.db.QueryContext(ctx, `
		SELECT movement_id, clinic_id, medicine_id, movement_type, quantity, balance_after, reason, created_at
		FROM stock_movements
		WHERE clinic_id = $1
		  AND medicine_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, clinicID, medicineID, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	movements := []*domain.StockMovement{}
	for rows.Next() {
		var mv domain.StockMovement
		var reason sql.NullString
		if err := rows.Scan(
			&mv.MovementID,
			&mv.ClinicID,
			&mv.MedicineID,
			&mv.MovementType,
			&mv.Quantity,
			&mv.BalanceAfter,
			&reason,
			&mv.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		if reason.Valid {
			mv.Reason = &reason.String
		}
		movements = append(movements, &mv)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate stock movements: %w", err)
	}

	return movements, total, nil
}

func (r *PostgresStockRepository) queryMedicines(ctx context.Context, query string, args ...interface{}) ([]*domain.Medicine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query medicines: %w", err)
	}
	defer rows.Close()

	medicines := []*domain.Medicine{}
	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medicine: %w", err)
		}
		medicines = append(medicines, med)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate medicines: %w", err)
	}

	return medicines, nil
}

// scanMedicine 扫描一行药品记录，处理可空字段
func scanMedicine(row rowScanner) (*domain.Medicine, error) {
	var med domain.Medicine
	var expiryDate sql.NullTime

	err := row.Scan(
		&med.MedicineID,
		&med.ClinicID,
		&med.Name,
		&med.Unit,
		&med.Stock,
		&med.ReorderLevel,
		&expiryDate,
		&med.CreatedAt,
		&med.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiryDate.Valid {
		med.ExpiryDate = &expiryDate.Time
	}

	return &med, nil
}
