package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ClinicRepository 诊所仓库接口
type ClinicRepository interface {
	ListClinicIDs(ctx context.Context) ([]string, error)
	AdminPhone(ctx context.Context, clinicID string) (string, error)
}

// PostgresClinicRepository 诊所仓库 Postgres 实现
type PostgresClinicRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresClinicRepository 创建诊所仓库
func NewPostgresClinicRepository(db *sql.DB, logger *zap.Logger) *PostgresClinicRepository {
	return &PostgresClinicRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ ClinicRepository = (*PostgresClinicRepository)(nil)

// ListClinicIDs 列出全部活跃诊所
func (r *PostgresClinicRepository) ListClinicIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT clinic_id
		FROM clinics
		WHERE active = TRUE
		ORDER BY clinic_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clinics: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan clinic_id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clinics: %w", err)
	}

	return ids, nil
}

// AdminPhone 查询诊所管理员通知号码，未配置返回空串
func (r *PostgresClinicRepository) AdminPhone(ctx context.Context, clinicID string) (string, error) {
	if clinicID == "" {
		return "", fmt.Errorf("clinic_id is required")
	}

	var phone sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT admin_phone
		FROM clinics
		WHERE clinic_id = $1
	`, clinicID).Scan(&phone)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("clinic not found: %s", clinicID)
		}
		return "", fmt.Errorf("failed to get admin phone: %w", err)
	}

	if !phone.Valid {
		return "", nil
	}
	return phone.String, nil
}
