package worker

import (
	"context"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/gateway"
	"opd-notify/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const processorLockKey = "opd-notify:processor:lock"

// QueueProcessor 消息队列处理器
// 服务端常驻 worker，按固定间隔扫描到期消息并提交网关。
// 多实例部署时通过 Redis 租约保证同一时刻只有一个实例在处理，
// 消息不会被并发投递两次。
type QueueProcessor struct {
	queue      repository.MessageQueueRepository
	sender     gateway.Sender
	redis      *redis.Client
	instanceID string
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

// NewQueueProcessor 创建队列处理器
func NewQueueProcessor(
	queue repository.MessageQueueRepository,
	sender gateway.Sender,
	redisClient *redis.Client,
	instanceID string,
	interval time.Duration,
	batchSize int,
	logger *zap.Logger,
) *QueueProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &QueueProcessor{
		queue:      queue,
		sender:     sender,
		redis:      redisClient,
		instanceID: instanceID,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Start 启动处理循环，阻塞直到 ctx 取消
func (p *QueueProcessor) Start(ctx context.Context) {
	p.logger.Info("Queue processor started",
		zap.String("instance_id", p.instanceID),
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 启动时先跑一轮，不等第一个 tick
	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Queue processor stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce 执行一轮处理：抢租约 → 取批次 → 逐条投递
func (p *QueueProcessor) runOnce(ctx context.Context) {
	if !p.acquireLease(ctx) {
		p.logger.Debug("Another instance holds the processor lease, skipping cycle")
		return
	}

	batch, err := p.queue.ClaimDue(ctx, time.Now(), p.batchSize)
	if err != nil {
		p.logger.Error("Failed to claim due messages", zap.Error(err))
		return
	}

	if len(batch) == 0 {
		return
	}

	p.logger.Info("Processing message batch", zap.Int("count", len(batch)))

	sent, failed := 0, 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		if p.processMessage(ctx, msg) {
			sent++
		} else {
			failed++
		}
	}

	p.logger.Info("Batch processed",
		zap.Int("sent", sent),
		zap.Int("failed", failed))
}

// processMessage 投递单条消息，返回是否成功
// 单条失败只影响该条的 retry_count，不中断批次。
func (p *QueueProcessor) processMessage(ctx context.Context, msg *domain.QueuedMessage) bool {
	err := p.sender.Send(ctx, msg.PhoneNumber, msg.MessageContent, msg.Metadata)
	if err != nil {
		status, markErr := p.queue.MarkFailed(ctx, msg.MessageID, err.Error())
		if markErr != nil {
			p.logger.Error("Failed to record delivery failure",
				zap.String("message_id", msg.MessageID),
				zap.Error(markErr))
			return false
		}
		p.logger.Warn("Message delivery failed",
			zap.String("message_id", msg.MessageID),
			zap.String("event_type", msg.EventType),
			zap.Int("retry_count", msg.RetryCount+1),
			zap.String("status", status),
			zap.Error(err))
		return false
	}

	if err := p.queue.MarkSent(ctx, msg.MessageID, time.Now()); err != nil {
		p.logger.Error("Failed to mark message sent",
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return false
	}

	p.logger.Info("Message sent",
		zap.String("message_id", msg.MessageID),
		zap.String("clinic_id", msg.ClinicID),
		zap.String("event_type", msg.EventType))
	return true
}

// acquireLease 获取或续期处理租约
// 租约 TTL 为两个处理周期：持有者崩溃后至多两个周期租约自动过期。
func (p *QueueProcessor) acquireLease(ctx context.Context) bool {
	ttl := 2 * p.interval

	ok, err := p.redis.SetNX(ctx, processorLockKey, p.instanceID, ttl).Result()
	if err != nil {
		p.logger.Error("Failed to acquire processor lease", zap.Error(err))
		return false
	}
	if ok {
		return true
	}

	// 自己已持有租约时续期
	holder, err := p.redis.Get(ctx, processorLockKey).Result()
	if err != nil {
		return false
	}
	if holder != p.instanceID {
		return false
	}

	if err := p.redis.Expire(ctx, processorLockKey, ttl).Err(); err != nil {
		p.logger.Error("Failed to renew processor lease", zap.Error(err))
		return false
	}
	return true
}
