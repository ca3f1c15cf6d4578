package config

import (
	"os"
	"strconv"

	"opd-notify/pkg/config"
)

// Config 诊所消息/库存服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	HTTP struct {
		Addr string
	}

	// WhatsApp 网关配置
	Gateway struct {
		BaseURL string
		APIKey  string
		Timeout int // 请求超时（秒），默认 15 秒
	}

	// 消息队列处理配置
	Notify struct {
		// 队列处理轮询间隔（秒），默认 120 秒
		ProcessInterval int
		// 单次处理批量上限，默认 50 条
		BatchSize int
		// 最大投递尝试次数，默认 3 次
		MaxRetries int
		// 默认国家区号（印度），用于电话号码归一化
		DefaultCountryCode string

		// Redis Streams 配置（诊所事件流）
		EventStream   string // 事件流名称，如 "clinic:events"
		ConsumerGroup string // 消费者组名称，如 "opd-notify-group"
		ConsumerName  string // 消费者名称，如 "opd-notify-1"
		EventBatch    int    // 每次读取事件条数，默认 10

		// 规则/模板缓存 TTL（秒），默认 60 秒
		RuleCacheTTL int
	}

	// 药品库存告警配置
	Stock struct {
		// 库存巡检间隔（秒），默认 86400（每日一次）
		AlertInterval int
		// 近效期窗口（天），默认 90 天
		ExpiryWindowDays int
		// 告警去重 TTL（秒），默认 86400
		AlertDedupTTL int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "opdhims")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Gateway.BaseURL = getEnv("WHATSAPP_GATEWAY_URL", "http://localhost:9090")
	cfg.Gateway.APIKey = getEnv("WHATSAPP_GATEWAY_KEY", "")
	cfg.Gateway.Timeout = getEnvInt("WHATSAPP_GATEWAY_TIMEOUT", 15)

	cfg.Notify.ProcessInterval = getEnvInt("NOTIFY_PROCESS_INTERVAL", 120)
	cfg.Notify.BatchSize = getEnvInt("NOTIFY_BATCH_SIZE", 50)
	cfg.Notify.MaxRetries = getEnvInt("NOTIFY_MAX_RETRIES", 3)
	cfg.Notify.DefaultCountryCode = getEnv("NOTIFY_COUNTRY_CODE", "91")
	cfg.Notify.EventStream = getEnv("NOTIFY_EVENT_STREAM", "clinic:events")
	cfg.Notify.ConsumerGroup = getEnv("NOTIFY_CONSUMER_GROUP", "opd-notify-group")
	cfg.Notify.ConsumerName = getEnv("NOTIFY_CONSUMER_NAME", "opd-notify-1")
	cfg.Notify.EventBatch = getEnvInt("NOTIFY_EVENT_BATCH", 10)
	cfg.Notify.RuleCacheTTL = getEnvInt("NOTIFY_RULE_CACHE_TTL", 60)

	cfg.Stock.AlertInterval = getEnvInt("STOCK_ALERT_INTERVAL", 86400)
	cfg.Stock.ExpiryWindowDays = getEnvInt("STOCK_EXPIRY_WINDOW_DAYS", 90)
	cfg.Stock.AlertDedupTTL = getEnvInt("STOCK_ALERT_DEDUP_TTL", 86400)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}
