package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardwatch/internal/models"
)

func strPtr(s string) *string { return &s }

func TestApplyRoomStatus_CreatesWardAndRoom(t *testing.T) {
	store := NewSnapshotStore()

	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{
		FallDetected: true,
		Acknowledged: "false",
		Online:       true,
	}, "Alice")

	snapshot := store.Snapshot()
	require.Contains(t, snapshot.Wards, "ward_A")
	room := snapshot.Wards["ward_A"].Rooms["room_301"]
	require.NotNil(t, room)
	assert.Equal(t, true, room.LiveStatus.FallDetected)
	assert.Equal(t, "false", room.LiveStatus.Acknowledged)
	assert.Equal(t, "Alice", room.PatientInfo.Name)
}

func TestApplyRoomStatus_EmptyPatientNameKeepsExisting(t *testing.T) {
	store := NewSnapshotStore()

	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "Alice")
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{FallDetected: true}, "")

	snapshot := store.Snapshot()
	assert.Equal(t, "Alice", snapshot.Wards["ward_A"].Rooms["room_301"].PatientInfo.Name)
}

func TestApplyDevice_UnassignedGoesPending(t *testing.T) {
	store := NewSnapshotStore()

	store.ApplyDevice("ESP32_S3_CAM", &models.Device{ID: "cam-01"})

	pending := store.PendingDevices()
	require.Len(t, pending, 1)
	assert.Equal(t, "cam-01", pending[0].ID)

	snapshot := store.Snapshot()
	assert.Empty(t, snapshot.Wards)
}

func TestApplyDevice_AssignedPlacedInRoom(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")

	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	snapshot := store.Snapshot()
	room := snapshot.Wards["ward_A"].Rooms["room_301"]
	require.Contains(t, room.Devices, "ESP32_S3_CAM")
	assert.Equal(t, "cam-01", room.Devices["ESP32_S3_CAM"].ID)
	assert.Empty(t, store.PendingDevices())
}

func TestApplyDevice_UnknownRoomGetsPlaceholder(t *testing.T) {
	store := NewSnapshotStore()

	// 绑定的房间尚未出现在遥测里
	store.ApplyDevice("RadarSensor", &models.Device{
		ID:     "radar-02",
		Config: models.DeviceConfig{AssignedRoom: "room_999"},
	})

	snapshot := store.Snapshot()
	require.Contains(t, snapshot.Wards, "unknown")
	assert.Contains(t, snapshot.Wards["unknown"].Rooms["room_999"].Devices, "RadarSensor")
}

func TestApplyDevice_TelemetryDoesNotChangeAssignment(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	// 后续遥测载荷里没有 config 字段：既有绑定保留
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Status: strPtr("Fall Down"),
	})

	snapshot := store.Snapshot()
	room := snapshot.Wards["ward_A"].Rooms["room_301"]
	d := room.Devices["ESP32_S3_CAM"]
	require.NotNil(t, d)
	assert.Equal(t, "room_301", d.Config.AssignedRoom)
	assert.Equal(t, "Fall Down", *d.Status)
}

// 设备名漂移（如 name 缺失回退为 id）时旧条目必须被摘除，
// 否则残留条目带着过期报警状态让房间永远退不出跌倒态
func TestApplyDevice_NameDriftReplacesOldEntry(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")

	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Status: strPtr("Fall Down"),
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	// 同一设备重新上报，name 缺失 → 键退化为 device id
	store.ApplyDevice("", &models.Device{
		ID:     "cam-01",
		Status: strPtr("Normal"),
	})

	room := store.Snapshot().Wards["ward_A"].Rooms["room_301"]
	require.Len(t, room.Devices, 1)
	d := room.Devices["cam-01"]
	require.NotNil(t, d)
	require.NotNil(t, d.Status)
	assert.Equal(t, "Normal", *d.Status)
	assert.Equal(t, "room_301", d.Config.AssignedRoom) // 绑定保留
}

func TestAssignDevice_MovesBetweenRooms(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")
	store.ApplyRoomStatus("ward_A", "room_302", models.LiveStatus{}, "")

	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	store.AssignDevice("cam-01", "room_302", "Bob")

	snapshot := store.Snapshot()
	assert.NotContains(t, snapshot.Wards["ward_A"].Rooms["room_301"].Devices, "ESP32_S3_CAM")
	require.Contains(t, snapshot.Wards["ward_A"].Rooms["room_302"].Devices, "ESP32_S3_CAM")
	assert.Equal(t, "Bob", snapshot.Wards["ward_A"].Rooms["room_302"].PatientInfo.Name)
}

func TestAssignDevice_Unbind(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	store.AssignDevice("cam-01", models.AssignmentNone, "")

	snapshot := store.Snapshot()
	assert.NotContains(t, snapshot.Wards["ward_A"].Rooms["room_301"].Devices, "ESP32_S3_CAM")
	require.Len(t, store.PendingDevices(), 1)
}

func TestResolveRoom_ResetsExactlyAlarmFields(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{
		FallDetected: true,
		Acknowledged: true,
	}, "Alice")
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:            "cam-01",
		IP:            "10.0.0.17",
		Status:        strPtr("Fall Down"),
		MotionCount:   7,
		DetectionFlag: "true",
		Config:        models.DeviceConfig{AssignedRoom: "room_301"},
	})

	ids := store.ResolveRoom("ward_A", "room_301")
	assert.Equal(t, []string{"cam-01"}, ids)

	snapshot := store.Snapshot()
	room := snapshot.Wards["ward_A"].Rooms["room_301"]
	assert.Equal(t, false, room.LiveStatus.FallDetected)
	assert.Equal(t, false, room.LiveStatus.Acknowledged)

	d := room.Devices["ESP32_S3_CAM"]
	assert.Equal(t, "Normal", *d.Status)
	assert.Equal(t, 0, d.MotionCount)
	assert.Equal(t, false, d.DetectionFlag)

	// 复位只触及报警字段：身份与配置不动
	assert.Equal(t, "10.0.0.17", d.IP)
	assert.Equal(t, "room_301", d.Config.AssignedRoom)
	assert.Equal(t, "Alice", room.PatientInfo.Name)
}

func TestResolveRoom_UnknownRoomIsNil(t *testing.T) {
	store := NewSnapshotStore()
	assert.Nil(t, store.ResolveRoom("ward_X", "room_999"))
}

func TestSnapshot_DeepCopy(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Status: strPtr("Normal"),
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	snapshot := store.Snapshot()
	*snapshot.Wards["ward_A"].Rooms["room_301"].Devices["ESP32_S3_CAM"].Status = "Fall Down"
	snapshot.Wards["ward_A"].Rooms["room_301"].LiveStatus.FallDetected = true

	// 修改拷贝不影响存储
	fresh := store.Snapshot()
	assert.Equal(t, "Normal", *fresh.Wards["ward_A"].Rooms["room_301"].Devices["ESP32_S3_CAM"].Status)
	assert.Nil(t, fresh.Wards["ward_A"].Rooms["room_301"].LiveStatus.FallDetected)
}

func TestRoomDeviceIDs(t *testing.T) {
	store := NewSnapshotStore()
	store.ApplyRoomStatus("ward_A", "room_301", models.LiveStatus{}, "")
	store.ApplyDevice("ESP32_S3_CAM", &models.Device{
		ID:     "cam-01",
		Config: models.DeviceConfig{AssignedRoom: "room_301"},
	})

	assert.Equal(t, []string{"cam-01"}, store.RoomDeviceIDs("ward_A", "room_301"))
	assert.Nil(t, store.RoomDeviceIDs("ward_A", "room_999"))
	assert.Nil(t, store.RoomDeviceIDs("ward_X", "room_301"))
}
