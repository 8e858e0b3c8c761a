package notify

import "context"

// DedupTag 系统通知的固定去重标签
// 同一标签的重复通知在通知平台侧合并，未处理的跌倒不会堆叠
const DedupTag = "wardwatch-fall"

// FallVibrationPattern 跌倒上升沿触发的固定振动模式（on/off 毫秒序列）
var FallVibrationPattern = []int{200, 100, 200, 100, 400}

// Notification 系统通知内容
type Notification struct {
	Tag   string `json:"tag"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier 平台通知/振动能力（外部协作方）
// 所有调用均为 best-effort：失败由调用方吞掉，不向用户暴露
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Vibrate(ctx context.Context, pattern []int) error
	// RequestPermission 随首次用户交互机会性地申请通知权限
	RequestPermission(ctx context.Context) error
}

// NopNotifier 未配置通知端点时的空实现
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, n Notification) error { return nil }
func (NopNotifier) Vibrate(ctx context.Context, pattern []int) error { return nil }
func (NopNotifier) RequestPermission(ctx context.Context) error { return nil }
