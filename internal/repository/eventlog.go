package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"wardwatch/internal/models"
)

// EventLogRepository 审计日志仓库（append-only）
type EventLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventLogRepository 创建日志仓库
func NewEventLogRepository(db *sql.DB, logger *zap.Logger) *EventLogRepository {
	return &EventLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 追加一条日志（持久化 sink）
func (r *EventLogRepository) Insert(ctx context.Context, entry *models.LogEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.EntryID == "" {
		return fmt.Errorf("entry_id is required")
	}
	if entry.Type == "" {
		return fmt.Errorf("type is required")
	}

	metaJSON := "{}"
	if entry.Meta != nil {
		metaBytes, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		metaJSON = string(metaBytes)
	}

	query := `
		INSERT INTO event_log (
			entry_id,
			type,
			message,
			meta,
			timestamp_ms,
			iso_time
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.EntryID,
		entry.Type,
		entry.Message,
		metaJSON,
		entry.TimestampMs,
		entry.ISOTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	return nil
}

// ListRecent 查询最近 N 条日志（按 timestamp_ms 降序——日志读通道，
// 独立于 Redis 实时镜像）
func (r *EventLogRepository) ListRecent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT
			entry_id,
			type,
			message,
			meta,
			timestamp_ms,
			iso_time
		FROM event_log
		ORDER BY timestamp_ms DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		var metaRaw []byte

		if err := rows.Scan(
			&entry.EntryID,
			&entry.Type,
			&entry.Message,
			&metaRaw,
			&entry.TimestampMs,
			&entry.ISOTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &entry.Meta); err != nil {
				r.logger.Warn("Failed to unmarshal log meta",
					zap.String("entry_id", entry.EntryID),
					zap.Error(err),
				)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}

	return entries, nil
}
