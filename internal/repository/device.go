package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"wardwatch/internal/models"
)

// DeviceRepository 设备仓库
// 设备由本系统创建（首次上报）但从不删除；从后端消失即视为隐式下线
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertTelemetry 设备自身遥测推送：首次见到的 device_id 创建记录，
// 后续持续更新（assignment 字段不在此路径修改，仅由操作员动作变更）
func (r *DeviceRepository) UpsertTelemetry(ctx context.Context, d *models.Device) error {
	if d == nil {
		return fmt.Errorf("device is required")
	}
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}

	var status sql.NullString
	if d.Status != nil {
		status = sql.NullString{String: *d.Status, Valid: true}
	}

	query := `
		INSERT INTO devices (device_id, model, type, status, ip, mac, last_seen_ms, motion_count, assigned_room, patient_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', '')
		ON CONFLICT (device_id)
		DO UPDATE SET model = EXCLUDED.model,
		              type = EXCLUDED.type,
		              status = EXCLUDED.status,
		              ip = EXCLUDED.ip,
		              mac = EXCLUDED.mac,
		              last_seen_ms = EXCLUDED.last_seen_ms,
		              motion_count = EXCLUDED.motion_count
	`

	if _, err := r.db.ExecContext(ctx, query,
		d.ID, d.Model, d.Type, status, d.IP, d.MAC, d.LastSeen, d.MotionCount,
	); err != nil {
		return fmt.Errorf("failed to upsert device telemetry: %w", err)
	}

	return nil
}

// UpdateAssignment 操作员动作：绑定/解绑房间、设置患者名（部分字段更新）
func (r *DeviceRepository) UpdateAssignment(ctx context.Context, deviceID, assignedRoom, patientName string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	query := `
		UPDATE devices
		SET assigned_room = $2, patient_name = $3
		WHERE device_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, deviceID, assignedRoom, patientName)
	if err != nil {
		return fmt.Errorf("failed to update device assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("device not found: %s", deviceID)
	}

	return nil
}

// ResetAlarmFields 在 resolve 时把设备残留的报警字段复位到基线，
// 防止设备下一次心跳用残留值立即重新触发同一事件。
// 必须与房间 live-status 复位同处一个事务，由调用方传入 tx。
func (r *DeviceRepository) ResetAlarmFields(ctx context.Context, tx *sql.Tx, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}

	query := `
		UPDATE devices
		SET status = 'Normal', motion_count = 0, detection_flag = FALSE
		WHERE device_id = $1
	`

	for _, id := range deviceIDs {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to reset alarm fields for device %s: %w", id, err)
		}
	}

	return nil
}

// ListDevices 列出所有设备（含未绑定的 pending 设备）
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]models.Device, error) {
	query := `
		SELECT device_id, model, type, status, ip, mac, last_seen_ms, motion_count, assigned_room, patient_name
		FROM devices
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var status sql.NullString

		if err := rows.Scan(
			&d.ID, &d.Model, &d.Type, &status, &d.IP, &d.MAC,
			&d.LastSeen, &d.MotionCount,
			&d.Config.AssignedRoom, &d.Config.PatientName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}

		if status.Valid {
			d.Status = &status.String
		}

		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// BeginTx 暴露事务起点（resolve 需要跨 rooms/devices 的原子写）
func (r *DeviceRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
