package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Sender WhatsApp 发送端口（供 worker 注入，测试时可替换）
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string, metadata json.RawMessage) error
}

// SendRequest WhatsApp 网关请求
type SendRequest struct {
	Phone    string          `json:"phone"`
	Message  string          `json:"message"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// SendResponse WhatsApp 网关响应
type SendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// WhatsAppClient WhatsApp 网关 API 客户端
type WhatsAppClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWhatsAppClient 创建 WhatsApp 网关客户端
// 不配置 HTTP 层重试：重试由消息队列的 retry_count 统一管理，
// 网关层重试会造成单次投递窗口内的重复发送。
func NewWhatsAppClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *WhatsAppClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey)

	return &WhatsAppClient{
		httpClient: client,
		logger:     logger,
	}
}

// 确保实现了接口
var _ Sender = (*WhatsAppClient)(nil)

// Send 向网关提交一条消息
func (c *WhatsAppClient) Send(ctx context.Context, phoneNumber, message string, metadata json.RawMessage) error {
	if phoneNumber == "" {
		return fmt.Errorf("phone_number is required")
	}
	if message == "" {
		return fmt.Errorf("message is required")
	}

	request := SendRequest{
		Phone:    phoneNumber,
		Message:  message,
		Metadata: metadata,
	}

	var response SendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/messages")

	if err != nil {
		c.logger.Error("WhatsApp gateway call failed",
			zap.Error(err),
			zap.String("phone", phoneNumber),
		)
		return fmt.Errorf("failed to call WhatsApp gateway: %w", err)
	}

	if resp.StatusCode() >= 400 {
		c.logger.Error("WhatsApp gateway returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("phone", phoneNumber),
		)
		return fmt.Errorf("WhatsApp gateway error: status %d", resp.StatusCode())
	}

	if !response.Success {
		c.logger.Error("WhatsApp gateway rejected message",
			zap.String("error", response.Error),
			zap.String("phone", phoneNumber),
		)
		return fmt.Errorf("WhatsApp gateway rejected message: %s", response.Error)
	}

	c.logger.Debug("Message submitted to WhatsApp gateway",
		zap.String("phone", phoneNumber),
	)

	return nil
}
