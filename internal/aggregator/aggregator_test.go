package aggregator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wardwatch/internal/models"
	"wardwatch/internal/normalizer"
	"wardwatch/internal/notify"
)

// fakeRecorder 仅用于单元测试
type fakeRecorder struct {
	mu      sync.Mutex
	entries []string // type + ":" + room label
}

func (f *fakeRecorder) Record(ctx context.Context, entryType, message string, meta map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	label, _ := meta["room"].(string)
	f.entries = append(f.entries, entryType+":"+label)
}

type fakeNotifier struct {
	mu         sync.Mutex
	notified   int
	vibrations int
}

func (f *fakeNotifier) Notify(ctx context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
	return nil
}

func (f *fakeNotifier) Vibrate(ctx context.Context, pattern []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vibrations++
	return nil
}

func (f *fakeNotifier) RequestPermission(ctx context.Context) error { return nil }

func newTestAggregator() (*Aggregator, *fakeRecorder, *fakeNotifier) {
	rec := &fakeRecorder{}
	not := &fakeNotifier{}
	agg := New(normalizer.New(""), rec, not, nil, zap.NewNop())
	return agg, rec, not
}

// snapshotWithUnacked 构造含 n 个未确认跌倒房间的快照
func snapshotWithUnacked(n int) *models.Snapshot {
	ward := &models.Ward{WardKey: "ward_A", Rooms: map[string]*models.Room{}}
	for i := 0; i < n; i++ {
		key := string(rune('a'+i)) + "_room"
		ward.Rooms[key] = &models.Room{
			RoomKey:    key,
			LiveStatus: models.LiveStatus{FallDetected: true, Acknowledged: false},
		}
	}
	return &models.Snapshot{Wards: map[string]*models.Ward{"ward_A": ward}}
}

func TestEvaluate_EdgeTriggeredRearm(t *testing.T) {
	agg, _, _ := newTestAggregator()
	ctx := context.Background()

	// 未确认计数序列 [0,1,1,2,1]：
	// 仅在 0→1 与 1→2 的跳变处清除全局确认标志
	sequence := []int{0, 1, 1, 2, 1}
	expectRearm := []bool{false, true, false, true, false}

	for i, count := range sequence {
		agg.SetGlobalAcked(true)
		result, _ := agg.Evaluate(ctx, snapshotWithUnacked(count))

		assert.Equal(t, expectRearm[i], result.RearmTriggered, "step %d (count=%d)", i, count)
		if expectRearm[i] {
			assert.False(t, agg.GlobalAcked(), "step %d: global ack must be cleared", i)
		} else {
			assert.True(t, agg.GlobalAcked(), "step %d: global ack must survive", i)
		}
	}
}

func TestEvaluate_FallSeenOneShot(t *testing.T) {
	agg, rec, _ := newTestAggregator()
	ctx := context.Background()

	falling := &models.Snapshot{Wards: map[string]*models.Ward{
		"ward_A": {WardKey: "ward_A", Rooms: map[string]*models.Room{
			"room_301": {
				RoomKey:    "room_301",
				LiveStatus: models.LiveStatus{FallDetected: true},
			},
		}},
	}}
	recovered := &models.Snapshot{Wards: map[string]*models.Ward{
		"ward_A": {WardKey: "ward_A", Rooms: map[string]*models.Room{
			"room_301": {
				RoomKey:    "room_301",
				LiveStatus: models.LiveStatus{FallDetected: false},
			},
		}},
	}}

	// 持续跌倒只记一条
	agg.Evaluate(ctx, falling)
	agg.Evaluate(ctx, falling)
	agg.Evaluate(ctx, falling)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "FALL_DETECTED:ward_A/room_301", rec.entries[0])

	// 退出跌倒后再次跌倒 → 再记一条
	agg.Evaluate(ctx, recovered)
	agg.Evaluate(ctx, falling)
	require.Len(t, rec.entries, 2)
}

func TestEvaluate_RisingEdgeSideEffects(t *testing.T) {
	agg, _, not := newTestAggregator()
	ctx := context.Background()

	// 无跌倒 → 无副作用
	agg.Evaluate(ctx, snapshotWithUnacked(0))
	assert.Equal(t, 0, not.notified)

	// 上升沿 → 通知 + 振动各一次
	agg.Evaluate(ctx, snapshotWithUnacked(1))
	assert.Equal(t, 1, not.notified)
	assert.Equal(t, 1, not.vibrations)

	// 持续跌倒（计数不变）→ 不重复触发
	agg.Evaluate(ctx, snapshotWithUnacked(1))
	assert.Equal(t, 1, not.notified)

	// 新增房间跌倒（计数增加）→ 再次触发
	agg.Evaluate(ctx, snapshotWithUnacked(2))
	assert.Equal(t, 2, not.notified)
}

func TestEvaluate_AggregateFlags(t *testing.T) {
	agg, _, _ := newTestAggregator()
	ctx := context.Background()

	snapshot := &models.Snapshot{Wards: map[string]*models.Ward{
		"ward_A": {WardKey: "ward_A", Rooms: map[string]*models.Room{
			"room_101": {
				RoomKey:    "room_101",
				LiveStatus: models.LiveStatus{FallDetected: true, Acknowledged: true},
			},
			"room_102": {
				RoomKey:    "room_102",
				LiveStatus: models.LiveStatus{FallDetected: "true", Acknowledged: "false"},
			},
			"room_103": {RoomKey: "room_103"},
		}},
	}}

	result, states := agg.Evaluate(ctx, snapshot)

	assert.True(t, result.AnyFall)
	assert.Equal(t, 1, result.UnackedCount) // room_101 已确认，不计入
	assert.Equal(t, "ward_A/room_102", result.LatestLabel)

	assert.Equal(t, models.PhaseWaiting, states["ward_A/room_101"].Phase())
	assert.Equal(t, models.PhaseEmergency, states["ward_A/room_102"].Phase())
	assert.Equal(t, models.PhaseNormal, states["ward_A/room_103"].Phase())
}

// 重武装时通知必须点名新检测到的房间，即使它的键排在旧事件之前
func TestEvaluate_LatestLabelFollowsDetectionOrder(t *testing.T) {
	agg, _, _ := newTestAggregator()
	ctx := context.Background()

	rooms := map[string]*models.Room{
		"room_201": {
			RoomKey:    "room_201",
			LiveStatus: models.LiveStatus{FallDetected: true},
		},
	}
	snapshot := &models.Snapshot{Wards: map[string]*models.Ward{
		"ward_A": {WardKey: "ward_A", Rooms: rooms},
	}}

	result, _ := agg.Evaluate(ctx, snapshot)
	assert.Equal(t, "ward_A/room_201", result.LatestLabel)

	// 键更小的房间后跌倒：它才是最近检测到的未确认事件
	rooms["room_090"] = &models.Room{
		RoomKey:    "room_090",
		LiveStatus: models.LiveStatus{FallDetected: true},
	}
	result, _ = agg.Evaluate(ctx, snapshot)
	assert.True(t, result.RearmTriggered)
	assert.Equal(t, "ward_A/room_090", result.LatestLabel)

	// 新事件被确认后回退到仍未确认的旧事件
	rooms["room_090"].LiveStatus.Acknowledged = true
	result, _ = agg.Evaluate(ctx, snapshot)
	assert.Equal(t, "ward_A/room_201", result.LatestLabel)
}

func TestEvaluate_EmptySnapshot(t *testing.T) {
	agg, _, _ := newTestAggregator()

	// 缺失子树按空 map 处理，不是错误
	result, states := agg.Evaluate(context.Background(), &models.Snapshot{})
	assert.False(t, result.AnyFall)
	assert.Empty(t, states)

	result, _ = agg.Evaluate(context.Background(), nil)
	assert.False(t, result.AnyFall)
}
