package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"wardwatch/internal/ackflow"
	"wardwatch/internal/aggregator"
	"wardwatch/internal/alarm"
	"wardwatch/internal/config"
	"wardwatch/internal/consumer"
	"wardwatch/internal/eventlog"
	"wardwatch/internal/httpapi"
	"wardwatch/internal/metrics"
	"wardwatch/internal/models"
	"wardwatch/internal/mqtt"
	"wardwatch/internal/normalizer"
	"wardwatch/internal/notify"
	"wardwatch/internal/repository"
)

// WardWatchService 跌倒告警服务（整合各层）
type WardWatchService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	metrics      *metrics.Metrics
	normalizer   *normalizer.Normalizer
	store        *consumer.SnapshotStore
	cacheManager *consumer.CacheManager
	telemetry    *consumer.TelemetryConsumer
	roomRepo     *repository.RoomRepository
	deviceRepo   *repository.DeviceRepository
	eventLogRepo *repository.EventLogRepository
	recorder     *eventlog.Recorder
	notifier     notify.Notifier
	aggregator   *aggregator.Aggregator
	player       *alarm.Player
	ackflow      *ackflow.Service

	httpServer *http.Server
	cancel     context.CancelFunc

	// 评估互不交错：推送处理、轮询兜底、HTTP 读共用一条管线
	evalMu     sync.Mutex
	lastAgg    models.Aggregate
	lastStates map[string]models.RoomAlertState
}

// NewWardWatchService 创建服务
// out 为音频输出外设；无外设时传 alarm.NopOutput{}。
func NewWardWatchService(cfg *config.Config, out alarm.Output, logger *zap.Logger) (*WardWatchService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&mqtt.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      cfg.MQTT.QoS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// 4. 创建 Repository 层
	roomRepo := repository.NewRoomRepository(db, logger)
	deviceRepo := repository.NewDeviceRepository(db, logger)
	eventLogRepo := repository.NewEventLogRepository(db, logger)

	// 5. 创建指标与日志记录器
	m := metrics.New(prometheus.DefaultRegisterer)
	recorder := eventlog.NewRecorder(eventLogRepo, redisClient,
		m, time.Duration(cfg.Cache.FeedTTL)*time.Second, logger)

	// 6. 创建通知器（未配置端点时用空实现）
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Alert.NotifyWebhook != "" {
		notifier = notify.NewWebhookNotifier(cfg.Alert.NotifyWebhook, logger)
	}

	// 7. 创建评估层
	n := normalizer.New(cfg.Alert.AuxDeviceName)
	agg := aggregator.New(n, recorder, notifier, m, logger)

	// 8. 创建报警播放器
	player := alarm.NewPlayer(out, logger)

	// 9. 创建 Consumer 层
	store := consumer.NewSnapshotStore()
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)
	telemetry := consumer.NewTelemetryConsumer(cfg, mqttClient, store, roomRepo, deviceRepo, logger)

	// 10. 创建确认/处置服务
	flow := ackflow.NewService(db, store, n, agg, roomRepo, deviceRepo, recorder, logger)

	s := &WardWatchService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		metrics:      m,
		normalizer:   n,
		store:        store,
		cacheManager: cacheManager,
		telemetry:    telemetry,
		roomRepo:     roomRepo,
		deviceRepo:   deviceRepo,
		eventLogRepo: eventLogRepo,
		recorder:     recorder,
		notifier:     notifier,
		aggregator:   agg,
		player:       player,
		ackflow:      flow,
		lastStates:   make(map[string]models.RoomAlertState),
	}

	// 状态写入成功后立即重评估（不等下一条遥测）
	flow.SetOnChange(s.EvaluateNow)

	// 11. 创建 HTTP 服务
	router := httpapi.NewRouter(logger)
	router.RegisterDashboardRoutes(httpapi.NewDashboardHandler(s, logger))
	s.httpServer = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return s, nil
}

// Start 启动服务
func (s *WardWatchService) Start(ctx context.Context) error {
	s.logger.Info("Starting wardwatch service",
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.telemetry.Start(ctx, s); err != nil {
		cancel()
		return fmt.Errorf("failed to start telemetry consumer: %w", err)
	}

	s.recorder.Record(ctx, models.LogSystem, "Service started", nil)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务
// 每个释放步骤无条件执行：单步失败记日志，不跳过后续步骤
func (s *WardWatchService) Stop() error {
	s.logger.Info("Stopping wardwatch service")

	if s.cancel != nil {
		s.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}

	s.telemetry.Stop()
	s.mqttClient.Disconnect()
	s.player.Dispose()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// EvaluateNow 执行一轮完整评估：规范化 → 聚合 → 驱动播放器 → 镜像缓存
// 这是播放/停止决策的唯一出口，每轮从当下真值重新计算
func (s *WardWatchService) EvaluateNow(ctx context.Context) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	snapshot := s.store.Snapshot()
	agg, states := s.aggregator.Evaluate(ctx, snapshot)

	s.player.Drive(agg.UnackedCount > 0, s.ackflow.Muted(), s.aggregator.GlobalAcked())

	if s.player.Playing() {
		s.metrics.AlarmActive.Set(1)
	} else {
		s.metrics.AlarmActive.Set(0)
	}

	s.lastAgg = agg
	s.lastStates = states

	view := s.buildStateLocked(snapshot)
	if err := s.cacheManager.UpdateDashboardState(ctx, view); err != nil {
		s.logger.Warn("Failed to mirror dashboard state", zap.Error(err))
	}
}

// buildStateLocked 组装仪表板状态视图（调用方必须持 evalMu）
func (s *WardWatchService) buildStateLocked(snapshot *models.Snapshot) httpapi.StateView {
	return httpapi.StateView{
		Wards:         snapshot.Wards,
		RoomStates:    s.lastStates,
		Aggregate:     s.lastAgg,
		Connected:     s.telemetry.Connected(),
		Muted:         s.ackflow.Muted(),
		GloballyAcked: s.aggregator.GlobalAcked(),
		AlarmUnlocked: s.player.State() == alarm.Unlocked,
		AlarmPlaying:  s.player.Playing(),
	}
}

// State 仪表板完整状态（读也走同一条评估管线，保证各面板一致）
func (s *WardWatchService) State(ctx context.Context) httpapi.StateView {
	s.EvaluateNow(ctx)

	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	return s.buildStateLocked(s.store.Snapshot())
}

// Interact 首次用户交互：尝试音频解锁 + 机会性申请通知权限
// 两者失败都不向用户报错，下次交互自动重试
func (s *WardWatchService) Interact(ctx context.Context) httpapi.InteractView {
	if err := s.player.Unlock(); err != nil {
		s.logger.Warn("Audio unlock attempt failed", zap.Error(err))
	}
	if err := s.notifier.RequestPermission(ctx); err != nil {
		s.logger.Debug("Notification permission request failed", zap.Error(err))
	}
	s.EvaluateNow(ctx)
	return httpapi.InteractView{AlarmUnlocked: s.player.State() == alarm.Unlocked}
}

// Acknowledge 确认单个房间
func (s *WardWatchService) Acknowledge(ctx context.Context, wardKey, roomKey string) error {
	return s.ackflow.Acknowledge(ctx, wardKey, roomKey)
}

// AcknowledgeAll 批量确认
func (s *WardWatchService) AcknowledgeAll(ctx context.Context) error {
	return s.ackflow.AcknowledgeAll(ctx)
}

// Resolve 处置房间告警
func (s *WardWatchService) Resolve(ctx context.Context, wardKey, roomKey string, confirm ackflow.Confirmation) error {
	return s.ackflow.Resolve(ctx, wardKey, roomKey, confirm)
}

// SetMuted 静音开关
func (s *WardWatchService) SetMuted(ctx context.Context, muted bool) {
	s.ackflow.SetMuted(ctx, muted)
}

// AssignDevice 操作员绑定/解绑设备
func (s *WardWatchService) AssignDevice(ctx context.Context, deviceID, assignedRoom, patientName string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	if err := s.deviceRepo.UpdateAssignment(ctx, deviceID, assignedRoom, patientName); err != nil {
		return err
	}

	s.store.AssignDevice(deviceID, assignedRoom, patientName)

	s.recorder.Record(ctx, models.LogDeviceAssigned,
		fmt.Sprintf("Device %s assigned to %s", deviceID, assignedRoom),
		map[string]interface{}{"device_id": deviceID, "assigned_room": assignedRoom},
	)

	s.EvaluateNow(ctx)
	return nil
}

// ListDevices 设备列表（含未绑定设备，在线标志从 last_seen 派生）
func (s *WardWatchService) ListDevices(ctx context.Context) ([]httpapi.DeviceView, error) {
	devices, err := s.deviceRepo.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	views := make([]httpapi.DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, httpapi.DeviceView{
			Device: d,
			Online: d.IsOnline(nowMs),
		})
	}
	return views, nil
}

// RecentLogs 最近日志（倒序）
func (s *WardWatchService) RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	return s.eventLogRepo.ListRecent(ctx, limit)
}

// Health 连接横幅数据源
func (s *WardWatchService) Health(ctx context.Context) httpapi.HealthView {
	return httpapi.HealthView{
		Connected:       s.telemetry.Connected(),
		LastTelemetryMs: s.telemetry.LastTelemetryMs(),
	}
}
