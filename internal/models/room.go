package models

// Ward 病区（一组房间的命名集合）
type Ward struct {
	WardKey string           `json:"ward_key"`
	Rooms   map[string]*Room `json:"rooms"`
}

// Room 病房（告警的最小单位）
type Room struct {
	RoomKey     string             `json:"room_key"`
	PatientInfo PatientInfo        `json:"patient_info"`
	Devices     map[string]*Device `json:"devices"`
	LiveStatus  LiveStatus         `json:"live_status"`
}

// PatientInfo 患者信息（显示用，可能来自设备配置）
type PatientInfo struct {
	Name string `json:"name,omitempty"`
}

// LiveStatus 旧版扁平状态字段
// 注意：FallDetected/Acknowledged 可能以字符串形式（"true"/"false"）到达，
// 保持 interface{} 直到 normalizer 做容错转换
type LiveStatus struct {
	FallDetected interface{} `json:"fall_detected"`
	Acknowledged interface{} `json:"acknowledged"`
	Online       bool        `json:"online"`
}

// Snapshot 病区→房间的完整快照（每次遥测更新时评估的输入）
type Snapshot struct {
	Wards map[string]*Ward `json:"wards"`
}
