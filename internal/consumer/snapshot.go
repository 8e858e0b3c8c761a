package consumer

import (
	"sync"

	"wardwatch/internal/models"
)

// SnapshotStore 病区→房间→设备树的进程内镜像
// 遥测推送按接收顺序应用；读取返回深拷贝，处理器可安全交错
// （任何操作都不得假设自己是唯一在途的处理器）。
// 缺失子树按空 map 处理，从不作为错误状态。
type SnapshotStore struct {
	mu      sync.RWMutex
	wards   map[string]*models.Ward
	pending map[string]*models.Device // 未绑定房间的设备，按 device_id
	names   map[string]string         // device_id → 设备名（房间 devices map 的键）
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		wards:   make(map[string]*models.Ward),
		pending: make(map[string]*models.Device),
		names:   make(map[string]string),
	}
}

// ApplyRoomStatus 应用房间 live-status 遥测（旧版扁平字段）
func (s *SnapshotStore) ApplyRoomStatus(wardKey, roomKey string, status models.LiveStatus, patientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.ensureRoom(wardKey, roomKey)
	room.LiveStatus = status
	if patientName != "" {
		room.PatientInfo.Name = patientName
	}
}

// ApplyDevice 应用设备遥测
// 首次见到的 device_id 即创建；按 config.assignedRoom 放入房间，
// 未绑定则归入 pending。设备从不被删除。
func (s *SnapshotStore) ApplyDevice(name string, d *models.Device) {
	if d == nil || d.ID == "" {
		return
	}
	if name == "" {
		name = d.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 保留既有绑定：遥测推送不修改 assignment（仅操作员动作修改）。
	// 设备名漂移时必须先摘除旧位置，否则房间里残留的旧条目
	// 会带着过期报警状态让房间永远退不出跌倒态
	if prev := s.findDeviceLocked(d.ID); prev != nil {
		d.Config = prev.Config
		s.removeDeviceLocked(d.ID)
	}
	s.names[d.ID] = name
	s.placeDeviceLocked(name, d)
}

// AssignDevice 操作员动作：重新绑定设备到房间（或解绑）
func (s *SnapshotStore) AssignDevice(deviceID, assignedRoom, patientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.findDeviceLocked(deviceID)
	if d == nil {
		return
	}
	s.removeDeviceLocked(deviceID)

	d.Config.AssignedRoom = assignedRoom
	if patientName != "" {
		d.Config.PatientName = patientName
	}

	name := s.names[deviceID]
	if name == "" {
		name = deviceID
	}
	s.placeDeviceLocked(name, d)

	// 患者名可来自设备配置
	if d.IsAssigned() && patientName != "" {
		if room := s.findRoomLocked(d.Config.AssignedRoom); room != nil {
			room.PatientInfo.Name = patientName
		}
	}
}

// SetAcknowledged 确认写确认后回填快照（不做乐观提交）
func (s *SnapshotStore) SetAcknowledged(wardKey, roomKey string, acked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ward := s.wards[wardKey]; ward != nil {
		if room := ward.Rooms[roomKey]; room != nil {
			room.LiveStatus.Acknowledged = acked
		}
	}
}

// ResolveRoom resolve 提交后复位快照：live-status 与设备报警字段
// 同步回基线，设备下一次心跳不会用残留值重新触发同一事件
func (s *SnapshotStore) ResolveRoom(wardKey, roomKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ward := s.wards[wardKey]
	if ward == nil {
		return nil
	}
	room := ward.Rooms[roomKey]
	if room == nil {
		return nil
	}

	room.LiveStatus.FallDetected = false
	room.LiveStatus.Acknowledged = false

	normal := "Normal"
	var deviceIDs []string
	for _, d := range room.Devices {
		if d == nil {
			continue
		}
		status := normal
		d.Status = &status
		d.MotionCount = 0
		d.DetectionFlag = false
		deviceIDs = append(deviceIDs, d.ID)
	}

	return deviceIDs
}

// RoomDeviceIDs 房间当前绑定的设备 ID 列表
func (s *SnapshotStore) RoomDeviceIDs(wardKey, roomKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ward := s.wards[wardKey]
	if ward == nil {
		return nil
	}
	room := ward.Rooms[roomKey]
	if room == nil {
		return nil
	}

	var ids []string
	for _, d := range room.Devices {
		if d != nil {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Snapshot 返回当前快照的深拷贝
func (s *SnapshotStore) Snapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &models.Snapshot{Wards: make(map[string]*models.Ward, len(s.wards))}
	for wk, ward := range s.wards {
		wc := &models.Ward{WardKey: ward.WardKey, Rooms: make(map[string]*models.Room, len(ward.Rooms))}
		for rk, room := range ward.Rooms {
			rc := &models.Room{
				RoomKey:     room.RoomKey,
				PatientInfo: room.PatientInfo,
				LiveStatus:  room.LiveStatus,
				Devices:     make(map[string]*models.Device, len(room.Devices)),
			}
			for dn, d := range room.Devices {
				if d == nil {
					continue
				}
				dc := *d
				if d.Status != nil {
					status := *d.Status
					dc.Status = &status
				}
				rc.Devices[dn] = &dc
			}
			wc.Rooms[rk] = rc
		}
		out.Wards[wk] = wc
	}
	return out
}

// PendingDevices 未绑定房间的设备列表
func (s *SnapshotStore) PendingDevices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Device
	for _, d := range s.pending {
		out = append(out, *d)
	}
	return out
}

// ---- 内部辅助（调用方必须持锁）----

func (s *SnapshotStore) ensureRoom(wardKey, roomKey string) *models.Room {
	ward := s.wards[wardKey]
	if ward == nil {
		ward = &models.Ward{WardKey: wardKey, Rooms: make(map[string]*models.Room)}
		s.wards[wardKey] = ward
	}
	room := ward.Rooms[roomKey]
	if room == nil {
		room = &models.Room{RoomKey: roomKey, Devices: make(map[string]*models.Device)}
		ward.Rooms[roomKey] = room
	}
	if room.Devices == nil {
		room.Devices = make(map[string]*models.Device)
	}
	return room
}

func (s *SnapshotStore) findRoomLocked(roomKey string) *models.Room {
	for _, ward := range s.wards {
		if room, ok := ward.Rooms[roomKey]; ok {
			return room
		}
	}
	return nil
}

func (s *SnapshotStore) findDeviceLocked(deviceID string) *models.Device {
	if d, ok := s.pending[deviceID]; ok {
		return d
	}
	for _, ward := range s.wards {
		for _, room := range ward.Rooms {
			for _, d := range room.Devices {
				if d != nil && d.ID == deviceID {
					return d
				}
			}
		}
	}
	return nil
}

func (s *SnapshotStore) removeDeviceLocked(deviceID string) {
	delete(s.pending, deviceID)
	for _, ward := range s.wards {
		for _, room := range ward.Rooms {
			for name, d := range room.Devices {
				if d != nil && d.ID == deviceID {
					delete(room.Devices, name)
				}
			}
		}
	}
}

func (s *SnapshotStore) placeDeviceLocked(name string, d *models.Device) {
	if !d.IsAssigned() {
		s.pending[d.ID] = d
		return
	}
	delete(s.pending, d.ID)

	room := s.findRoomLocked(d.Config.AssignedRoom)
	if room == nil {
		// 绑定的房间还没出现在遥测里：先建立占位房间
		room = s.ensureRoom("unknown", d.Config.AssignedRoom)
	}
	room.Devices[name] = d
}
