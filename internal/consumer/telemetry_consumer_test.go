package consumer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wardwatch/internal/config"
	"wardwatch/internal/models"
)

// fakeRoomWriter 记录房间持久化调用
type fakeRoomWriter struct {
	calls []roomUpsert
	err   error
}

type roomUpsert struct {
	wardKey, roomKey, patientName      string
	fallDetected, acknowledged, online bool
}

func (f *fakeRoomWriter) UpsertRoom(ctx context.Context, wardKey, roomKey, patientName string, fallDetected, acknowledged, online bool) error {
	f.calls = append(f.calls, roomUpsert{wardKey, roomKey, patientName, fallDetected, acknowledged, online})
	return f.err
}

// fakeDeviceWriter 记录设备持久化调用
type fakeDeviceWriter struct {
	devices []models.Device
	err     error
}

func (f *fakeDeviceWriter) UpsertTelemetry(ctx context.Context, d *models.Device) error {
	f.devices = append(f.devices, *d)
	return f.err
}

func newTestConsumer(t *testing.T) (*TelemetryConsumer, *SnapshotStore, *fakeRoomWriter, *fakeDeviceWriter) {
	store := NewSnapshotStore()
	rw := &fakeRoomWriter{}
	dw := &fakeDeviceWriter{}
	c := NewTelemetryConsumer(&config.Config{}, nil, store, rw, dw, zap.NewNop())
	return c, store, rw, dw
}

func TestHandleRoomStatus(t *testing.T) {
	c, store, _, _ := newTestConsumer(t)

	payload := []byte(`{"fall_detected": true, "acknowledged": "false", "online": true, "patient_name": "Alice"}`)
	err := c.handleRoomStatus(context.Background(), "wardwatch/ward/ward_A/room/room_301/status", payload)
	require.NoError(t, err)

	snapshot := store.Snapshot()
	room := snapshot.Wards["ward_A"].Rooms["room_301"]
	require.NotNil(t, room)
	assert.Equal(t, true, room.LiveStatus.FallDetected)
	assert.Equal(t, "false", room.LiveStatus.Acknowledged)
	assert.Equal(t, "Alice", room.PatientInfo.Name)
	assert.NotZero(t, c.LastTelemetryMs())
}

// 遥测里首次出现的房间必须写进数据库，否则后续确认/处置找不到行
func TestHandleRoomStatus_PersistsRoom(t *testing.T) {
	c, _, rw, _ := newTestConsumer(t)

	payload := []byte(`{"fall_detected": "true", "acknowledged": false, "online": true, "patient_name": "Alice"}`)
	require.NoError(t, c.handleRoomStatus(context.Background(), "wardwatch/ward/ward_A/room/room_301/status", payload))

	require.Len(t, rw.calls, 1)
	call := rw.calls[0]
	assert.Equal(t, "ward_A", call.wardKey)
	assert.Equal(t, "room_301", call.roomKey)
	assert.Equal(t, "Alice", call.patientName)
	assert.True(t, call.fallDetected) // 字符串形式的布尔值已容错转换
	assert.False(t, call.acknowledged)
	assert.True(t, call.online)
}

// 持久化失败只降级 staff 写通道：快照照常应用，处理器不报错
func TestHandleRoomStatus_PersistFailureKeepsSnapshot(t *testing.T) {
	c, store, rw, _ := newTestConsumer(t)
	rw.err = fmt.Errorf("connection refused")

	payload := []byte(`{"fall_detected": true}`)
	require.NoError(t, c.handleRoomStatus(context.Background(), "wardwatch/ward/ward_A/room/room_301/status", payload))

	room := store.Snapshot().Wards["ward_A"].Rooms["room_301"]
	require.NotNil(t, room)
	assert.Equal(t, true, room.LiveStatus.FallDetected)
}

func TestHandleRoomStatus_LegacyStringFlags(t *testing.T) {
	c, store, _, _ := newTestConsumer(t)

	// 旧版扁平字段：字符串形式的布尔值原样保留，由 normalizer 容错转换
	payload := []byte(`{"fall_detected": "true", "acknowledged": false}`)
	require.NoError(t, c.handleRoomStatus(context.Background(), "wardwatch/ward/ward_B/room/room_102/status", payload))

	room := store.Snapshot().Wards["ward_B"].Rooms["room_102"]
	assert.Equal(t, "true", room.LiveStatus.FallDetected)
	assert.Equal(t, false, room.LiveStatus.Acknowledged)
}

func TestHandleRoomStatus_InvalidTopic(t *testing.T) {
	c, _, rw, _ := newTestConsumer(t)

	assert.Error(t, c.handleRoomStatus(context.Background(), "wardwatch/ward/status", []byte(`{}`)))
	assert.Error(t, c.handleRoomStatus(context.Background(), "wardwatch/ward//room//status", []byte(`{}`)))
	assert.Empty(t, rw.calls)
}

func TestHandleRoomStatus_MalformedPayload(t *testing.T) {
	c, _, _, _ := newTestConsumer(t)

	err := c.handleRoomStatus(context.Background(), "wardwatch/ward/ward_A/room/room_301/status", []byte(`not json`))
	assert.Error(t, err)
}

func TestHandleDeviceTelemetry(t *testing.T) {
	c, store, _, _ := newTestConsumer(t)

	payload := []byte(`{
		"id": "cam-01",
		"name": "ESP32_S3_CAM",
		"model": "ESP32_S3_CAM",
		"Status": "Fall Down",
		"ip": "10.0.0.17",
		"config": {"assigned_room": "room_301"}
	}`)
	require.NoError(t, c.handleDeviceTelemetry(context.Background(), "wardwatch/device/cam-01/telemetry", payload))

	snapshot := store.Snapshot()
	room := snapshot.Wards["unknown"].Rooms["room_301"]
	require.NotNil(t, room)
	d := room.Devices["ESP32_S3_CAM"]
	require.NotNil(t, d)
	require.NotNil(t, d.Status)
	assert.Equal(t, "Fall Down", *d.Status) // 大写 "Status" 键也被接受
	assert.NotZero(t, d.LastSeen)           // 缺失 last_seen 用接收时间补
}

// 首次见到的 device_id 必须落库，设备列表与绑定动作依赖该行
func TestHandleDeviceTelemetry_PersistsDevice(t *testing.T) {
	c, _, _, dw := newTestConsumer(t)

	payload := []byte(`{"id": "cam-01", "model": "ESP32_S3_CAM", "status": "Normal"}`)
	require.NoError(t, c.handleDeviceTelemetry(context.Background(), "wardwatch/device/cam-01/telemetry", payload))

	require.Len(t, dw.devices, 1)
	assert.Equal(t, "cam-01", dw.devices[0].ID)
	assert.Equal(t, "ESP32_S3_CAM", dw.devices[0].Model)
}

func TestHandleDeviceTelemetry_IDFromTopic(t *testing.T) {
	c, store, _, dw := newTestConsumer(t)

	// 载荷缺 id：从主题取
	require.NoError(t, c.handleDeviceTelemetry(context.Background(), "wardwatch/device/radar-02/telemetry", []byte(`{"status": "Normal"}`)))

	pending := store.PendingDevices()
	require.Len(t, pending, 1)
	assert.Equal(t, "radar-02", pending[0].ID)
	require.Len(t, dw.devices, 1)
	assert.Equal(t, "radar-02", dw.devices[0].ID)
}

func TestHandleDeviceTelemetry_InvalidTopic(t *testing.T) {
	c, _, _, dw := newTestConsumer(t)

	assert.Error(t, c.handleDeviceTelemetry(context.Background(), "wardwatch/device", []byte(`{}`)))
	assert.Error(t, c.handleDeviceTelemetry(context.Background(), "wardwatch/device//telemetry", []byte(`{}`)))
	assert.Empty(t, dw.devices)
}
