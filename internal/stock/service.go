package stock

import (
	"context"
	"fmt"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service 库存服务：调整校验、低库存/近效期查询
type Service struct {
	repo   repository.StockRepository
	logger *zap.Logger
}

// NewService 创建库存服务
func NewService(repo repository.StockRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// AdjustRequest 库存调整请求
type AdjustRequest struct {
	ClinicID     string
	MedicineID   string
	MovementType string
	Quantity     int
	Reason       *string
}

// Adjust 执行库存调整并记录流水，返回调整后的余额
// 预检仅用于快速失败和明确报错；真正的负库存保护在仓库层的
// 条件更新里完成，读到的库存在写入前可能已被并发修改。
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (int, error) {
	if req.ClinicID == "" {
		return 0, fmt.Errorf("clinic_id is required")
	}
	if req.MedicineID == "" {
		return 0, fmt.Errorf("medicine_id is required")
	}
	if req.Quantity == 0 {
		return 0, fmt.Errorf("quantity must be non-zero")
	}
	switch req.MovementType {
	case domain.MovementInward, domain.MovementDispense, domain.MovementAdjustment:
	default:
		return 0, fmt.Errorf("invalid movement type: %s", req.MovementType)
	}

	med, err := s.repo.GetMedicine(ctx, req.ClinicID, req.MedicineID)
	if err != nil {
		return 0, err
	}

	if !IsValid(ComputeNewLevel(med.Stock, req.Quantity)) {
		return 0, fmt.Errorf("%w: medicine=%s, stock=%d, delta=%d",
			repository.ErrInsufficientStock, med.Name, med.Stock, req.Quantity)
	}

	newStock, err := s.repo.AdjustStock(ctx, &domain.StockMovement{
		MovementID:   uuid.New().String(),
		ClinicID:     req.ClinicID,
		MedicineID:   req.MedicineID,
		MovementType: req.MovementType,
		Quantity:     req.Quantity,
		Reason:       req.Reason,
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Stock adjusted",
		zap.String("clinic_id", req.ClinicID),
		zap.String("medicine_id", req.MedicineID),
		zap.String("movement_type", req.MovementType),
		zap.Int("quantity", req.Quantity),
		zap.Int("new_stock", newStock))

	return newStock, nil
}

// CheckLowStock 返回低于补货阈值的药品
func (s *Service) CheckLowStock(ctx context.Context, clinicID string) ([]*domain.Medicine, error) {
	return s.repo.ListLowStock(ctx, clinicID)
}

// CheckExpiring 返回效期窗口内的药品
func (s *Service) CheckExpiring(ctx context.Context, clinicID string, windowDays int) ([]*domain.Medicine, error) {
	if windowDays <= 0 {
		windowDays = 90
	}
	return s.repo.ListExpiringSoon(ctx, clinicID, time.Duration(windowDays)*24*time.Hour)
}

// ListMedicines 列出诊所的全部药品
func (s *Service) ListMedicines(ctx context.Context, clinicID string) ([]*domain.Medicine, error) {
	return s.repo.ListMedicines(ctx, clinicID)
}

// ListMovements 列出药品的库存流水
func (s *Service) ListMovements(ctx context.Context, clinicID, medicineID string, page, size int) ([]*domain.StockMovement, int, error) {
	return s.repo.ListMovements(ctx, clinicID, medicineID, page, size)
}
