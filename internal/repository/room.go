package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// RoomRepository 房间仓库（live-status 写通道）
type RoomRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRoomRepository 创建房间仓库
func NewRoomRepository(db *sql.DB, logger *zap.Logger) *RoomRepository {
	return &RoomRepository{
		db:     db,
		logger: logger,
	}
}

// LiveStatusUpdate live-status 的部分字段更新（nil 字段不写）
type LiveStatusUpdate struct {
	FallDetected *bool
	Acknowledged *bool
}

// UpdateLiveStatus 部分字段更新房间 live-status（非整文档覆盖）
func (r *RoomRepository) UpdateLiveStatus(ctx context.Context, wardKey, roomKey string, update LiveStatusUpdate) error {
	if wardKey == "" {
		return fmt.Errorf("ward_key is required")
	}
	if roomKey == "" {
		return fmt.Errorf("room_key is required")
	}
	if update.FallDetected == nil && update.Acknowledged == nil {
		return nil
	}

	set := ""
	args := []interface{}{}
	argN := 1

	if update.FallDetected != nil {
		set += fmt.Sprintf("fall_detected = $%d", argN)
		args = append(args, *update.FallDetected)
		argN++
	}
	if update.Acknowledged != nil {
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("acknowledged = $%d", argN)
		args = append(args, *update.Acknowledged)
		argN++
	}

	query := fmt.Sprintf(
		"UPDATE rooms SET %s, updated_at = NOW() WHERE ward_key = $%d AND room_key = $%d",
		set, argN, argN+1,
	)
	args = append(args, wardKey, roomKey)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update live status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("room not found: ward_key=%s, room_key=%s", wardKey, roomKey)
	}

	return nil
}

// AcknowledgeAll 批量确认：对列出的所有房间在单个事务内写 acknowledged=true
// 多路径原子：要么全部生效，要么全部回滚（不会观察到部分应用）
func (r *RoomRepository) AcknowledgeAll(ctx context.Context, rooms []RoomRef) error {
	if len(rooms) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rooms
		SET acknowledged = TRUE, updated_at = NOW()
		WHERE ward_key = $1 AND room_key = $2
	`

	for _, ref := range rooms {
		if _, err := tx.ExecContext(ctx, query, ref.WardKey, ref.RoomKey); err != nil {
			return fmt.Errorf("failed to acknowledge room %s/%s: %w", ref.WardKey, ref.RoomKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit acknowledge-all: %w", err)
	}

	return nil
}

// ResetLiveStatusTx resolve 提交时复位房间 live-status
// （fall_detected=false, acknowledged=false），与设备报警字段复位同一事务
func (r *RoomRepository) ResetLiveStatusTx(ctx context.Context, tx *sql.Tx, wardKey, roomKey string) error {
	if wardKey == "" {
		return fmt.Errorf("ward_key is required")
	}
	if roomKey == "" {
		return fmt.Errorf("room_key is required")
	}

	query := `
		UPDATE rooms
		SET fall_detected = FALSE, acknowledged = FALSE, updated_at = NOW()
		WHERE ward_key = $1 AND room_key = $2
	`

	if _, err := tx.ExecContext(ctx, query, wardKey, roomKey); err != nil {
		return fmt.Errorf("failed to reset live status: %w", err)
	}

	return nil
}

// RoomRef 病区+房间的复合引用
type RoomRef struct {
	WardKey string
	RoomKey string
}

// UpsertRoom 房间首次出现时创建，已存在则更新 live-status 快照
// （遥测推送按接收顺序应用）
func (r *RoomRepository) UpsertRoom(ctx context.Context, wardKey, roomKey, patientName string, fallDetected, acknowledged, online bool) error {
	if wardKey == "" {
		return fmt.Errorf("ward_key is required")
	}
	if roomKey == "" {
		return fmt.Errorf("room_key is required")
	}

	query := `
		INSERT INTO rooms (ward_key, room_key, patient_name, fall_detected, acknowledged, online, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (ward_key, room_key)
		DO UPDATE SET fall_detected = EXCLUDED.fall_detected,
		              acknowledged = EXCLUDED.acknowledged,
		              online = EXCLUDED.online,
		              updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, wardKey, roomKey, patientName, fallDetected, acknowledged, online); err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}

	return nil
}
