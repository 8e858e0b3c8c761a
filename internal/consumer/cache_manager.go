package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wardwatch/internal/config"
)

// CacheManager 仪表板状态的 Redis 镜像
// 多个 UI 面板读取同一份规范化状态，不各自重新推导告警
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// UpdateDashboardState 写入最新的仪表板状态（带 TTL）
func (c *CacheManager) UpdateDashboardState(ctx context.Context, state interface{}) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard state: %w", err)
	}

	ttl := time.Duration(c.config.Cache.StateTTL) * time.Second
	if err := c.redisClient.Set(ctx, c.config.Cache.StateKey, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set dashboard state: %w", err)
	}

	c.logger.Debug("Dashboard state mirrored",
		zap.String("key", c.config.Cache.StateKey),
		zap.Int("bytes", len(jsonData)),
	)
	return nil
}

// GetDashboardState 读取仪表板状态镜像
func (c *CacheManager) GetDashboardState(ctx context.Context, dest interface{}) error {
	val, err := c.redisClient.Get(ctx, c.config.Cache.StateKey).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("dashboard state not found")
		}
		return fmt.Errorf("failed to get dashboard state: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal dashboard state: %w", err)
	}
	return nil
}
