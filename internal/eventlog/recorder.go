package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wardwatch/internal/metrics"
	"wardwatch/internal/models"
)

// FeedKeyPrefix Redis 实时日志流的键前缀（按 timestamp_ms 作键，
// 读者按键序即得自然时间顺序，无需二级排序键）
const FeedKeyPrefix = "wardwatch:feed:"

// DurableStore 持久化日志 sink（Postgres）
type DurableStore interface {
	Insert(ctx context.Context, entry *models.LogEntry) error
}

// Recorder 事件日志记录器
// 三个 sink（持久化存储、实时流镜像、分析计数器）相互独立、均为
// best-effort：任一失败只在本地记日志，不向调用方传播，不回滚触发它的
// 状态变更。at-least-once，不保证 exactly-once。
type Recorder struct {
	durable     DurableStore
	redisClient *redis.Client
	metrics     *metrics.Metrics
	logger      *zap.Logger

	feedTTL time.Duration
	now     func() time.Time
}

// NewRecorder 创建记录器
func NewRecorder(durable DurableStore, redisClient *redis.Client, m *metrics.Metrics, feedTTL time.Duration, logger *zap.Logger) *Recorder {
	if feedTTL <= 0 {
		feedTTL = 24 * time.Hour
	}
	return &Recorder{
		durable:     durable,
		redisClient: redisClient,
		metrics:     m,
		logger:      logger,
		feedTTL:     feedTTL,
		now:         time.Now,
	}
}

// Record 追加一条日志（fire-and-forget）
func (r *Recorder) Record(ctx context.Context, entryType, message string, meta map[string]interface{}) {
	entry := models.NewLogEntry(entryType, message, meta, r.now())
	entry.EntryID = uuid.New().String()

	// sink 1：持久化存储
	if r.durable != nil {
		if err := r.durable.Insert(ctx, &entry); err != nil {
			r.logger.Warn("Failed to write log entry to durable store",
				zap.String("type", entryType),
				zap.Error(err),
			)
			r.count(entryType, "durable_error")
		} else {
			r.count(entryType, "durable")
		}
	}

	// sink 2：实时流镜像（Redis，按 timestamp_ms 作键）
	if r.redisClient != nil {
		if err := r.mirrorToFeed(ctx, &entry); err != nil {
			r.logger.Warn("Failed to mirror log entry to live feed",
				zap.String("type", entryType),
				zap.Error(err),
			)
			r.count(entryType, "feed_error")
		} else {
			r.count(entryType, "feed")
		}
	}

	// sink 3：分析计数器
	r.count(entryType, "recorded")
}

// mirrorToFeed 写入实时流镜像
func (r *Recorder) mirrorToFeed(ctx context.Context, entry *models.LogEntry) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	key := fmt.Sprintf("%s%d", FeedKeyPrefix, entry.TimestampMs)
	if err := r.redisClient.Set(ctx, key, jsonData, r.feedTTL).Err(); err != nil {
		return fmt.Errorf("failed to set feed entry: %w", err)
	}

	return nil
}

func (r *Recorder) count(entryType, sink string) {
	if r.metrics != nil {
		r.metrics.LogEntries.WithLabelValues(entryType, sink).Inc()
	}
}
