package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 通过 HTTP webhook 推送通知/振动指令
// 推送网关负责转发到浏览器/移动端的通知与振动能力
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(2 * time.Second).
		SetRetryCount(0) // 通知是 fire-and-forget，不重试

	return &WebhookNotifier{
		client: client,
		url:    url,
		logger: logger,
	}
}

// Notify 推送系统通知（固定去重标签）
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.Tag == "" {
		n.Tag = DedupTag
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"kind":  "notification",
			"tag":   n.Tag,
			"title": n.Title,
			"body":  n.Body,
		}).
		Post(w.url)

	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode())
	}

	w.logger.Debug("Notification pushed",
		zap.String("tag", n.Tag),
		zap.String("title", n.Title),
	)
	return nil
}

// RequestPermission 推送通知权限申请（随首次用户交互触发，失败不重试）
func (w *WebhookNotifier) RequestPermission(ctx context.Context) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"kind": "permission_request",
		}).
		Post(w.url)

	if err != nil {
		return fmt.Errorf("failed to post permission request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("permission endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

// Vibrate 推送振动模式
func (w *WebhookNotifier) Vibrate(ctx context.Context, pattern []int) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"kind":    "vibration",
			"pattern": pattern,
		}).
		Post(w.url)

	if err != nil {
		return fmt.Errorf("failed to post vibration: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("vibration endpoint returned status %d", resp.StatusCode())
	}
	return nil
}
