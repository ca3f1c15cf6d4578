package worker

import (
	"context"
	"fmt"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/service"
	"opd-notify/internal/stock"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ClinicAdminLookup 查询诊所管理员通知号码
type ClinicAdminLookup interface {
	AdminPhone(ctx context.Context, clinicID string) (string, error)
}

// ClinicLister 列出需要巡检的诊所
type ClinicLister interface {
	ListClinicIDs(ctx context.Context) ([]string, error)
}

// StockAlertChecker 库存告警巡检器
// 定期扫描各诊所的低库存和近效期药品，经自动发送服务入队告警。
// 同一药品的同类告警用 Redis TTL 键去重，避免每轮巡检重复打扰。
type StockAlertChecker struct {
	stockSvc   *stock.Service
	autoSend   *service.AutoSendService
	clinics    ClinicLister
	admins     ClinicAdminLookup
	redis      *redis.Client
	interval   time.Duration
	windowDays int
	dedupTTL   time.Duration
	logger     *zap.Logger
}

// NewStockAlertChecker 创建库存告警巡检器
func NewStockAlertChecker(
	stockSvc *stock.Service,
	autoSend *service.AutoSendService,
	clinics ClinicLister,
	admins ClinicAdminLookup,
	redisClient *redis.Client,
	interval time.Duration,
	windowDays int,
	dedupTTL time.Duration,
	logger *zap.Logger,
) *StockAlertChecker {
	return &StockAlertChecker{
		stockSvc:   stockSvc,
		autoSend:   autoSend,
		clinics:    clinics,
		admins:     admins,
		redis:      redisClient,
		interval:   interval,
		windowDays: windowDays,
		dedupTTL:   dedupTTL,
		logger:     logger,
	}
}

// Start 启动巡检循环，阻塞直到 ctx 取消
func (c *StockAlertChecker) Start(ctx context.Context) {
	c.logger.Info("Stock alert checker started",
		zap.Duration("interval", c.interval),
		zap.Int("expiry_window_days", c.windowDays))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stock alert checker stopped")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *StockAlertChecker) runOnce(ctx context.Context) {
	clinicIDs, err := c.clinics.ListClinicIDs(ctx)
	if err != nil {
		c.logger.Error("Failed to list clinics for stock check", zap.Error(err))
		return
	}

	for _, clinicID := range clinicIDs {
		if ctx.Err() != nil {
			return
		}
		c.checkClinic(ctx, clinicID)
	}
}

func (c *StockAlertChecker) checkClinic(ctx context.Context, clinicID string) {
	adminPhone, err := c.admins.AdminPhone(ctx, clinicID)
	if err != nil {
		c.logger.Warn("Failed to look up clinic admin phone",
			zap.String("clinic_id", clinicID),
			zap.Error(err))
		return
	}
	if adminPhone == "" {
		return
	}

	low, err := c.stockSvc.CheckLowStock(ctx, clinicID)
	if err != nil {
		c.logger.Error("Low stock check failed",
			zap.String("clinic_id", clinicID),
			zap.Error(err))
	} else {
		for _, med := range low {
			c.alert(ctx, clinicID, adminPhone, med, domain.EventLowStock)
		}
	}

	expiring, err := c.stockSvc.CheckExpiring(ctx, clinicID, c.windowDays)
	if err != nil {
		c.logger.Error("Expiry check failed",
			zap.String("clinic_id", clinicID),
			zap.Error(err))
		return
	}
	for _, med := range expiring {
		c.alert(ctx, clinicID, adminPhone, med, domain.EventExpiryAlert)
	}
}

func (c *StockAlertChecker) alert(ctx context.Context, clinicID, adminPhone string, med *domain.Medicine, eventType string) {
	dedupKey := fmt.Sprintf("opd-notify:alert:%s:%s:%s", eventType, clinicID, med.MedicineID)
	ok, err := c.redis.SetNX(ctx, dedupKey, "1", c.dedupTTL).Result()
	if err != nil {
		c.logger.Error("Alert dedup check failed", zap.Error(err))
		return
	}
	if !ok {
		return // 去重窗口内已告警过
	}

	expiryDate := ""
	if med.ExpiryDate != nil {
		expiryDate = med.ExpiryDate.Format("2006-01-02")
	}

	outcome, err := c.autoSend.SendStockAlert(ctx, service.StockAlertEvent{
		ClinicID:     clinicID,
		AdminPhone:   adminPhone,
		MedicineName: med.Name,
		CurrentStock: med.Stock,
		ReorderLevel: med.ReorderLevel,
		ExpiryDate:   expiryDate,
		EventType:    eventType,
	})
	if err != nil {
		c.logger.Error("Failed to queue stock alert",
			zap.String("clinic_id", clinicID),
			zap.String("medicine_id", med.MedicineID),
			zap.Error(err))
		// 入队失败时释放去重键，下一轮还有机会告警
		c.redis.Del(ctx, dedupKey)
		return
	}

	if !outcome.Queued {
		c.logger.Debug("Stock alert skipped",
			zap.String("clinic_id", clinicID),
			zap.String("medicine_id", med.MedicineID),
			zap.String("reason", outcome.SkipReason))
	}
}
