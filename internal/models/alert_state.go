package models

// RoomAlertState 单个房间的规范化告警三态（每次遥测更新重新计算，不持久化）
type RoomAlertState struct {
	IsFall         bool `json:"is_fall"`
	IsOffline      bool `json:"is_offline"`
	IsAcknowledged bool `json:"is_acknowledged"`
	HasDevices     bool `json:"has_devices"`
}

// RoomPhase 房间的告警生命周期阶段
type RoomPhase string

const (
	PhaseNormal    RoomPhase = "normal"    // 无告警
	PhaseEmergency RoomPhase = "emergency" // 跌倒且未确认
	PhaseWaiting   RoomPhase = "waiting"   // 跌倒且已确认，等待处置
)

// Phase 由三态推导生命周期阶段
func (s RoomAlertState) Phase() RoomPhase {
	switch {
	case s.IsFall && !s.IsAcknowledged:
		return PhaseEmergency
	case s.IsFall && s.IsAcknowledged:
		return PhaseWaiting
	default:
		return PhaseNormal
	}
}

// Aggregate 全局告警聚合结果
// LatestLabel 为最近检测到的未确认房间的 "病区/房间" 复合标签，用于通知文案
type Aggregate struct {
	AnyFall        bool   `json:"any_fall"`
	UnackedCount   int    `json:"unacked_count"`
	LatestLabel    string `json:"latest_label"`
	RearmTriggered bool   `json:"rearm_triggered"`
}
