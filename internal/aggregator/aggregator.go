package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"wardwatch/internal/metrics"
	"wardwatch/internal/models"
	"wardwatch/internal/normalizer"
	"wardwatch/internal/notify"
)

// Recorder 日志记录能力（由 eventlog.Recorder 实现）
type Recorder interface {
	Record(ctx context.Context, entryType, message string, meta map[string]interface{})
}

// Aggregator 告警聚合器
// 每次遥测变化扫描所有病区的所有房间，推导全局告警标志，并做
// 边沿检测（新增未确认事件 → 清除全局确认标志；房间首次进入跌倒
// 状态 → 恰好一条 FALL_DETECTED 日志）。
//
// 边沿检测状态（上次未确认计数、已见跌倒房间集合）是进程内内存，
// 重启后可能对已知跌倒重复记日志——接受，不修正。
type Aggregator struct {
	normalizer *normalizer.Normalizer
	recorder   Recorder
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu          sync.Mutex
	prevUnacked int
	prevAnyFall bool
	fallSeq     int64
	fallSeen    map[string]int64 // "ward/room" → 检测顺序号（已记录 FALL_DETECTED）
	globalAcked bool
}

// New 创建聚合器
func New(n *normalizer.Normalizer, recorder Recorder, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Aggregator{
		normalizer: n,
		recorder:   recorder,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		fallSeen:   make(map[string]int64),
	}
}

// GlobalAcked 全局确认标志（被新事件的边沿清除）
func (a *Aggregator) GlobalAcked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.globalAcked
}

// SetGlobalAcked 由确认动作置位
func (a *Aggregator) SetGlobalAcked(acked bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.globalAcked = acked
}

// Evaluate 对完整快照做一次评估
// 返回全局聚合结果和每个房间的规范化状态（供 UI 与缓存镜像复用）。
func (a *Aggregator) Evaluate(ctx context.Context, snapshot *models.Snapshot) (models.Aggregate, map[string]models.RoomAlertState) {
	agg := models.Aggregate{}
	states := make(map[string]models.RoomAlertState)

	type fallingRoom struct {
		label string
		room  *models.Room
	}
	var newFalls []fallingRoom
	current := make(map[string]bool)

	if snapshot != nil {
		// 病区/房间按键序遍历，保证同一快照的评估结果确定
		wardKeys := make([]string, 0, len(snapshot.Wards))
		for k := range snapshot.Wards {
			wardKeys = append(wardKeys, k)
		}
		sort.Strings(wardKeys)

		for _, wardKey := range wardKeys {
			ward := snapshot.Wards[wardKey]
			if ward == nil {
				continue
			}
			roomKeys := make([]string, 0, len(ward.Rooms))
			for k := range ward.Rooms {
				roomKeys = append(roomKeys, k)
			}
			sort.Strings(roomKeys)

			for _, roomKey := range roomKeys {
				room := ward.Rooms[roomKey]
				if room == nil {
					continue
				}

				label := wardKey + "/" + roomKey
				state := a.normalizer.ComputeRoomAlertState(room)
				states[label] = state

				if state.IsFall {
					agg.AnyFall = true
					current[label] = true
					if !state.IsAcknowledged {
						agg.UnackedCount++
					}
				}
			}
		}
	}

	a.mu.Lock()
	// 边沿触发重武装：计数严格增加 → 清除全局确认标志。
	// 必须比较计数而非布尔，才能在一个告警处理中时检测到另一房间新跌倒。
	rearm := agg.UnackedCount > a.prevUnacked
	if rearm {
		a.globalAcked = false
	}
	agg.RearmTriggered = rearm

	risingAnyFall := agg.AnyFall && !a.prevAnyFall
	a.prevUnacked = agg.UnackedCount
	a.prevAnyFall = agg.AnyFall

	// 每个房间的一次性边沿检测：首次进入跌倒按检测顺序编号并记一条日志，
	// 退出跌倒时移除，使同一房间未来的跌倒能再次记录
	for label := range current {
		if _, seen := a.fallSeen[label]; !seen {
			newFalls = append(newFalls, fallingRoom{label: label})
		}
	}
	sort.Slice(newFalls, func(i, j int) bool { return newFalls[i].label < newFalls[j].label })
	for _, nf := range newFalls {
		a.fallSeq++
		a.fallSeen[nf.label] = a.fallSeq
	}
	for label := range a.fallSeen {
		if !current[label] {
			delete(a.fallSeen, label)
		}
	}

	// 通知文案指向最近一次检测到的未确认房间，而非字典序扫到的那个：
	// 重武装时正在处理旧事件，文案必须点名新事件
	var latestSeq int64
	for label, seq := range a.fallSeen {
		if state, ok := states[label]; ok && state.IsFall && !state.IsAcknowledged && seq > latestSeq {
			latestSeq = seq
			agg.LatestLabel = label
		}
	}
	a.mu.Unlock()

	for _, nf := range newFalls {
		if a.metrics != nil {
			a.metrics.FallsDetected.Inc()
		}
		if a.recorder != nil {
			a.recorder.Record(ctx, models.LogFallDetected,
				fmt.Sprintf("Fall detected in %s", nf.label),
				map[string]interface{}{"room": nf.label},
			)
		}
	}

	// 上升沿副作用：通知 + 振动（best-effort，失败吞掉）
	if risingAnyFall || rearm {
		a.fireSideEffects(ctx, agg)
	}

	return agg, states
}

// fireSideEffects 触发平台通知与振动（失败只记日志）
func (a *Aggregator) fireSideEffects(ctx context.Context, agg models.Aggregate) {
	n := notify.Notification{
		Tag:   notify.DedupTag,
		Title: "Fall alert",
		Body:  fmt.Sprintf("Fall detected: %s (%d unacknowledged)", agg.LatestLabel, agg.UnackedCount),
	}

	if err := a.notifier.Notify(ctx, n); err != nil {
		a.logger.Debug("Notification failed", zap.Error(err))
	} else if a.metrics != nil {
		a.metrics.NotificationsSent.Inc()
	}

	if err := a.notifier.Vibrate(ctx, notify.FallVibrationPattern); err != nil {
		a.logger.Debug("Vibration failed", zap.Error(err))
	}
}
