package models

import (
	"encoding/json"
	"strings"
)

// 设备配置中表示"未绑定"的哨兵值
const (
	AssignmentNone       = "none"
	AssignmentUnassigned = "unassigned"
)

// DeviceOnlineWindowMs 设备在线判定窗口（now - last_seen < 60秒）
const DeviceOnlineWindowMs = 60_000

// Device 物理传感器/执行器（绑定到房间，或未绑定 pending）
type Device struct {
	ID     string  `json:"id"`
	Model  string  `json:"model,omitempty"`
	Type   string  `json:"type,omitempty"`
	Status *string `json:"status,omitempty"` // nil = 字段缺失（与空字符串区分）
	IP     string  `json:"ip,omitempty"`
	MAC    string  `json:"mac,omitempty"`

	Config DeviceConfig `json:"config"`

	LastSeen int64 `json:"last_seen"` // ms since epoch

	// 设备自身保留的报警字段（resolve 时需要复位）
	MotionCount   int         `json:"motion_count,omitempty"`
	DetectionFlag interface{} `json:"detection_flag,omitempty"`
}

// DeviceConfig 设备配置（仅由操作员动作修改）
type DeviceConfig struct {
	AssignedRoom string `json:"assigned_room,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
}

// IsAssigned 判断设备是否已绑定房间
func (d *Device) IsAssigned() bool {
	switch strings.ToLower(strings.TrimSpace(d.Config.AssignedRoom)) {
	case "", AssignmentNone, AssignmentUnassigned:
		return false
	}
	return true
}

// IsOnline 根据 last_seen 判断设备是否在线
func (d *Device) IsOnline(nowMs int64) bool {
	return nowMs-d.LastSeen < DeviceOnlineWindowMs
}

// UnmarshalJSON 容错解码：status 字段大小写不一致（"Status" 或 "status"）
func (d *Device) UnmarshalJSON(data []byte) error {
	type alias Device
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	if a.Status == nil {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err == nil {
			if v, ok := raw["Status"]; ok {
				var s string
				if err := json.Unmarshal(v, &s); err == nil {
					a.Status = &s
				}
			}
		}
	}

	*d = Device(a)
	return nil
}
