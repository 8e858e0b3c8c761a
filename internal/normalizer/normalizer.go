package normalizer

import (
	"strings"

	"wardwatch/internal/models"
)

// DefaultAuxDeviceName 默认的辅助运动传感器设备名
// 该设备永远不参与在线/离线判定和跌倒推导
const DefaultAuxDeviceName = "MotionSensor"

// Normalizer 遥测规范化器
// 将异构、字段不一致的房间/设备记录转换为规范的 RoomAlertState。
// 纯函数：相同输入快照总是产生相同输出，不依赖调用顺序。
type Normalizer struct {
	auxDeviceName string
}

// New 创建规范化器
func New(auxDeviceName string) *Normalizer {
	if auxDeviceName == "" {
		auxDeviceName = DefaultAuxDeviceName
	}
	return &Normalizer{auxDeviceName: auxDeviceName}
}

// CoerceBool 容错布尔转换
// 规则：字符串形式大小写不敏感等于 "true" → true，"false" → false；
// 其余按 JS 式真值判断（nil/""/0/false → false，其他 → true）。
// 兼容把布尔存成字符串表示的后端。
func CoerceBool(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(val) {
		case "true":
			return true
		case "false":
			return false
		}
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}

// IsAlarming 设备状态字符串是否报警
// 规范规则：缺失/空 → 不报警；大小写不敏感等于 "normal"/"online" → 不报警；
// 其余任意非空值都报警（按排除法，不枚举报警值列表——fail-loud 安全偏置）。
func IsAlarming(status string) bool {
	if status == "" {
		return false
	}
	switch strings.ToLower(status) {
	case "normal", "online":
		return false
	}
	return true
}

// DeviceClass 设备启发式分类
type DeviceClass int

const (
	ClassUnknown DeviceClass = iota
	ClassCamera
	ClassMonitor
	ClassAuxiliary
)

// Classify 根据 model/type 自由文本做启发式分类
func Classify(d *models.Device) DeviceClass {
	name := strings.ToLower(d.Model + " " + d.Type)
	switch {
	case strings.Contains(name, "motion"), strings.Contains(name, "radar"):
		return ClassAuxiliary
	case strings.Contains(name, "cam"):
		return ClassCamera
	case strings.Contains(name, "monitor"):
		return ClassMonitor
	}
	return ClassUnknown
}

// isAuxiliary 设备是否为辅助传感器（按设备名或分类排除）
func (n *Normalizer) isAuxiliary(deviceName string, d *models.Device) bool {
	if deviceName == n.auxDeviceName {
		return true
	}
	return Classify(d) == ClassAuxiliary
}

// IsSignificant 设备是否参与在线/离线判定
// 条件：非辅助传感器，且（有 IP，或属于 camera/monitor 类）
func (n *Normalizer) IsSignificant(deviceName string, d *models.Device) bool {
	if n.isAuxiliary(deviceName, d) {
		return false
	}
	if d.IP != "" {
		return true
	}
	switch Classify(d) {
	case ClassCamera, ClassMonitor:
		return true
	}
	return false
}

// ComputeRoomAlertState 计算房间的规范化告警状态
//
// 在线判定：无显著设备时视房间为在线（没有可供判断离线的依据）；
// 有显著设备时，任一设备 status 为 "online"/"normal"（大小写不敏感）
// 或完全没有 status 字段（存在即视为存活）→ 在线。
// "有设备但无显著设备" 同样按在线处理（单一规则，不混用旧版回退）。
//
// 跌倒判定：任一非辅助设备的 status 非空且既非 "normal" 也非 "online"
// → deviceFall；最终 isFall = deviceFall OR 旧版扁平 fallDetected。
func (n *Normalizer) ComputeRoomAlertState(room *models.Room) models.RoomAlertState {
	state := models.RoomAlertState{
		IsAcknowledged: CoerceBool(room.LiveStatus.Acknowledged),
		HasDevices:     len(room.Devices) > 0,
	}

	legacyFall := CoerceBool(room.LiveStatus.FallDetected)

	deviceFall := false
	significantCount := 0
	significantAlive := false

	for name, d := range room.Devices {
		if d == nil {
			continue
		}
		aux := n.isAuxiliary(name, d)

		if !aux && d.Status != nil && IsAlarming(*d.Status) {
			deviceFall = true
		}

		if n.IsSignificant(name, d) {
			significantCount++
			// status 缺失按存活处理；显式 "online"/"normal" 亦存活
			if d.Status == nil || !IsAlarming(*d.Status) && *d.Status != "" {
				significantAlive = true
			}
		}
	}

	if significantCount > 0 {
		state.IsOffline = !significantAlive
	}
	// significantCount == 0（含有设备但均非显著）→ 在线，IsOffline 保持 false

	state.IsFall = deviceFall || legacyFall
	return state
}
