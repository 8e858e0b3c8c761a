package ackflow

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wardwatch/internal/aggregator"
	"wardwatch/internal/consumer"
	"wardwatch/internal/models"
	"wardwatch/internal/normalizer"
	"wardwatch/internal/repository"
)

// Recorder 日志记录能力（由 eventlog.Recorder 实现）
type Recorder interface {
	Record(ctx context.Context, entryType, message string, meta map[string]interface{})
}

// Confirmation resolve 前的处置确认清单（闸门：未完成不提交任何写入）
type Confirmation struct {
	PatientChecked bool `json:"patient_checked"`
	DevicesChecked bool `json:"devices_checked"`
}

// Complete 清单是否完成
func (c Confirmation) Complete() bool {
	return c.PatientChecked && c.DevicesChecked
}

// Service 确认/处置状态机
// 房间状态流转：Normal → Emergency（跌倒∧未确认）→ Waiting（跌倒∧已确认）
// → Normal（已处置）。本地状态从不乐观提交——只反映后端确认后的事实，
// 避免写失败期间显示"假确认"。
type Service struct {
	db         *sql.DB
	store      *consumer.SnapshotStore
	normalizer *normalizer.Normalizer
	aggregator *aggregator.Aggregator
	roomRepo   *repository.RoomRepository
	deviceRepo *repository.DeviceRepository
	recorder   Recorder
	logger     *zap.Logger

	mu    sync.Mutex
	muted bool

	// 状态写入成功后的重评估回调（由 service 装配）
	onChange func(ctx context.Context)
}

// NewService 创建确认/处置服务
func NewService(
	db *sql.DB,
	store *consumer.SnapshotStore,
	n *normalizer.Normalizer,
	agg *aggregator.Aggregator,
	roomRepo *repository.RoomRepository,
	deviceRepo *repository.DeviceRepository,
	recorder Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:         db,
		store:      store,
		normalizer: n,
		aggregator: agg,
		roomRepo:   roomRepo,
		deviceRepo: deviceRepo,
		recorder:   recorder,
		logger:     logger,
	}
}

// SetOnChange 注册状态变更后的重评估回调
func (s *Service) SetOnChange(fn func(ctx context.Context)) {
	s.onChange = fn
}

// phaseOf 从当前快照推导房间阶段
func (s *Service) phaseOf(wardKey, roomKey string) (models.RoomPhase, error) {
	snapshot := s.store.Snapshot()
	ward := snapshot.Wards[wardKey]
	if ward == nil {
		return "", fmt.Errorf("ward not found: %s", wardKey)
	}
	room := ward.Rooms[roomKey]
	if room == nil {
		return "", fmt.Errorf("room not found: %s/%s", wardKey, roomKey)
	}
	return s.normalizer.ComputeRoomAlertState(room).Phase(), nil
}

// Acknowledge 确认单个房间的告警
// 仅在 Emergency 态有效；重复确认 Waiting 房间在数据层是 no-op
func (s *Service) Acknowledge(ctx context.Context, wardKey, roomKey string) error {
	if wardKey == "" {
		return fmt.Errorf("ward_key is required")
	}
	if roomKey == "" {
		return fmt.Errorf("room_key is required")
	}

	phase, err := s.phaseOf(wardKey, roomKey)
	if err != nil {
		return err
	}

	switch phase {
	case models.PhaseWaiting:
		// 已确认：幂等 no-op
		return nil
	case models.PhaseNormal:
		return fmt.Errorf("room %s/%s is not in emergency", wardKey, roomKey)
	}

	acked := true
	if err := s.roomRepo.UpdateLiveStatus(ctx, wardKey, roomKey, repository.LiveStatusUpdate{
		Acknowledged: &acked,
	}); err != nil {
		return fmt.Errorf("failed to acknowledge room: %w", err)
	}

	// 后端确认后才回填本地状态
	s.store.SetAcknowledged(wardKey, roomKey, true)
	s.aggregator.SetGlobalAcked(true)

	label := wardKey + "/" + roomKey
	s.recorder.Record(ctx, models.LogAcknowledged,
		fmt.Sprintf("Alert acknowledged for %s", label),
		map[string]interface{}{"room": label},
	)

	s.logger.Info("Room acknowledged",
		zap.String("ward", wardKey),
		zap.String("room", roomKey),
	)

	s.fireOnChange(ctx)
	return nil
}

// AcknowledgeAll 批量确认所有 Emergency 房间
// 调用方视角 all-or-nothing：批量写失败则没有任何房间被确认。
// 只记一条列出全部受影响房间的日志（刻意压缩日志量）。
func (s *Service) AcknowledgeAll(ctx context.Context) error {
	snapshot := s.store.Snapshot()

	var refs []repository.RoomRef
	for wardKey, ward := range snapshot.Wards {
		for roomKey, room := range ward.Rooms {
			if s.normalizer.ComputeRoomAlertState(room).Phase() == models.PhaseEmergency {
				refs = append(refs, repository.RoomRef{WardKey: wardKey, RoomKey: roomKey})
			}
		}
	}

	if len(refs) == 0 {
		return nil
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].WardKey != refs[j].WardKey {
			return refs[i].WardKey < refs[j].WardKey
		}
		return refs[i].RoomKey < refs[j].RoomKey
	})

	if err := s.roomRepo.AcknowledgeAll(ctx, refs); err != nil {
		return fmt.Errorf("failed to acknowledge all: %w", err)
	}

	labels := make([]string, 0, len(refs))
	for _, ref := range refs {
		s.store.SetAcknowledged(ref.WardKey, ref.RoomKey, true)
		labels = append(labels, ref.WardKey+"/"+ref.RoomKey)
	}
	s.aggregator.SetGlobalAcked(true)

	s.recorder.Record(ctx, models.LogAcknowledged,
		fmt.Sprintf("All alerts acknowledged (%d rooms)", len(labels)),
		map[string]interface{}{"rooms": strings.Join(labels, ", ")},
	)

	s.logger.Info("All rooms acknowledged", zap.Int("count", len(refs)))

	s.fireOnChange(ctx)
	return nil
}

// Resolve 处置房间告警
// 仅在 Waiting 态有效；确认清单未完成时不做任何写入。
// 提交时在同一事务内复位 live-status 和设备残留报警字段。
func (s *Service) Resolve(ctx context.Context, wardKey, roomKey string, confirm Confirmation) error {
	if wardKey == "" {
		return fmt.Errorf("ward_key is required")
	}
	if roomKey == "" {
		return fmt.Errorf("room_key is required")
	}

	if !confirm.Complete() {
		return fmt.Errorf("resolve checklist is not complete")
	}

	phase, err := s.phaseOf(wardKey, roomKey)
	if err != nil {
		return err
	}
	if phase != models.PhaseWaiting {
		return fmt.Errorf("room %s/%s is not awaiting resolution (phase=%s)", wardKey, roomKey, phase)
	}

	deviceIDs := s.store.RoomDeviceIDs(wardKey, roomKey)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.roomRepo.ResetLiveStatusTx(ctx, tx, wardKey, roomKey); err != nil {
		return err
	}
	if err := s.deviceRepo.ResetAlarmFields(ctx, tx, deviceIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolve: %w", err)
	}

	s.store.ResolveRoom(wardKey, roomKey)

	label := wardKey + "/" + roomKey
	s.recorder.Record(ctx, models.LogResolved,
		fmt.Sprintf("Alert resolved for %s", label),
		map[string]interface{}{"room": label, "devices_reset": len(deviceIDs)},
	)

	s.logger.Info("Room resolved",
		zap.String("ward", wardKey),
		zap.String("room", roomKey),
		zap.Int("devices_reset", len(deviceIDs)),
	)

	s.fireOnChange(ctx)
	return nil
}

// SetMuted 静音开关（与房间状态机正交，压制播放器但照常记审计日志）
func (s *Service) SetMuted(ctx context.Context, muted bool) {
	s.mu.Lock()
	if s.muted == muted {
		s.mu.Unlock()
		return
	}
	s.muted = muted
	s.mu.Unlock()

	entryType := models.LogMute
	message := "Alarm muted"
	if !muted {
		entryType = models.LogUnmute
		message = "Alarm unmuted"
	}
	s.recorder.Record(ctx, entryType, message, nil)

	s.fireOnChange(ctx)
}

// Muted 当前静音状态
func (s *Service) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Service) fireOnChange(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}
