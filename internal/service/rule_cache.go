package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opd-notify/internal/domain"
	"opd-notify/internal/repository"

	"go.uber.org/zap"
)

// RuleCache 自动发送规则/模板的读穿缓存
// 规则和模板改动低频而读取高频（每个临床事件都要查一次），
// 用短 TTL 缓存吸收读放大；写路径主动失效。
type RuleCache struct {
	rules     repository.AutoSendRuleRepository
	templates repository.MessageTemplateRepository
	kv        KVStore
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRuleCache 创建规则缓存
func NewRuleCache(
	rules repository.AutoSendRuleRepository,
	templates repository.MessageTemplateRepository,
	kv KVStore,
	ttl time.Duration,
	logger *zap.Logger,
) *RuleCache {
	return &RuleCache{
		rules:     rules,
		templates: templates,
		kv:        kv,
		ttl:       ttl,
		logger:    logger,
	}
}

func ruleCacheKey(clinicID, eventType string) string {
	return fmt.Sprintf("opd-notify:rule:%s:%s", clinicID, eventType)
}

func templateCacheKey(clinicID, eventType string) string {
	return fmt.Sprintf("opd-notify:template:%s:%s", clinicID, eventType)
}

// cachedRule 缓存中的规则表示，Missing 区分"未配置"和"未缓存"
type cachedRule struct {
	Missing bool                 `json:"missing"`
	Rule    *domain.AutoSendRule `json:"rule,omitempty"`
}

type cachedTemplate struct {
	Missing  bool                    `json:"missing"`
	Template *domain.MessageTemplate `json:"template,omitempty"`
}

// GetRule 读取规则，优先走缓存
// 规则未配置也会被缓存（负缓存），避免反复穿透到数据库。
func (c *RuleCache) GetRule(ctx context.Context, clinicID, eventType string) (*domain.AutoSendRule, error) {
	key := ruleCacheKey(clinicID, eventType)

	if val, err := c.kv.Get(ctx, key); err == nil {
		var cached cachedRule
		if err := json.Unmarshal([]byte(val), &cached); err == nil {
			if cached.Missing {
				return nil, nil
			}
			return cached.Rule, nil
		}
		// 缓存内容损坏，回退到数据库
		c.logger.Warn("Failed to decode cached rule, falling back to database",
			zap.String("key", key))
	} else if err != ErrCacheMiss {
		// 缓存不可用不阻塞读路径
		c.logger.Warn("Rule cache read failed, falling back to database",
			zap.Error(err))
	}

	rule, err := c.rules.GetRule(ctx, clinicID, eventType)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, cachedRule{Missing: rule == nil, Rule: rule})
	return rule, nil
}

// GetDefaultTemplate 读取默认模板，优先走缓存
func (c *RuleCache) GetDefaultTemplate(ctx context.Context, clinicID, eventType string) (*domain.MessageTemplate, error) {
	key := templateCacheKey(clinicID, eventType)

	if val, err := c.kv.Get(ctx, key); err == nil {
		var cached cachedTemplate
		if err := json.Unmarshal([]byte(val), &cached); err == nil {
			if cached.Missing {
				return nil, nil
			}
			return cached.Template, nil
		}
		c.logger.Warn("Failed to decode cached template, falling back to database",
			zap.String("key", key))
	} else if err != ErrCacheMiss {
		c.logger.Warn("Template cache read failed, falling back to database",
			zap.Error(err))
	}

	tmpl, err := c.templates.GetDefaultTemplate(ctx, clinicID, eventType)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, cachedTemplate{Missing: tmpl == nil, Template: tmpl})
	return tmpl, nil
}

// InvalidateRule 规则更新后失效缓存
func (c *RuleCache) InvalidateRule(ctx context.Context, clinicID, eventType string) {
	if err := c.kv.Delete(ctx, ruleCacheKey(clinicID, eventType)); err != nil {
		c.logger.Warn("Failed to invalidate rule cache",
			zap.String("clinic_id", clinicID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// InvalidateTemplate 模板更新后失效缓存
func (c *RuleCache) InvalidateTemplate(ctx context.Context, clinicID, eventType string) {
	if err := c.kv.Delete(ctx, templateCacheKey(clinicID, eventType)); err != nil {
		c.logger.Warn("Failed to invalidate template cache",
			zap.String("clinic_id", clinicID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (c *RuleCache) store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("Failed to write cache entry",
			zap.String("key", key),
			zap.Error(err))
	}
}
