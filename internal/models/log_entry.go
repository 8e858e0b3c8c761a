package models

import "time"

// 日志条目类型
const (
	LogFallDetected   = "FALL_DETECTED"
	LogAcknowledged   = "ACKNOWLEDGED"
	LogResolved       = "RESOLVED"
	LogMute           = "MUTE"
	LogUnmute         = "UNMUTE"
	LogDeviceAssigned = "DEVICE_ASSIGNED"
	LogSystem         = "SYSTEM"
)

// LogEntry 审计日志条目（append-only，永不修改或删除）
type LogEntry struct {
	EntryID     string                 `json:"entry_id" db:"entry_id"`
	Type        string                 `json:"type" db:"type"`
	Message     string                 `json:"message" db:"message"`
	Meta        map[string]interface{} `json:"meta,omitempty" db:"meta"`
	TimestampMs int64                  `json:"timestamp_ms" db:"timestamp_ms"`
	ISOTime     string                 `json:"iso_time" db:"iso_time"`
}

// NewLogEntry 构建日志条目（entry_id 由调用方填充）
func NewLogEntry(entryType, message string, meta map[string]interface{}, now time.Time) LogEntry {
	return LogEntry{
		Type:        entryType,
		Message:     message,
		Meta:        meta,
		TimestampMs: now.UnixMilli(),
		ISOTime:     now.UTC().Format(time.RFC3339),
	}
}
