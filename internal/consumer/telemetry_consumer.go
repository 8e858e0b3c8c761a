package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/config"
	"wardwatch/internal/models"
	"wardwatch/internal/mqtt"
	"wardwatch/internal/normalizer"
)

// Evaluator 评估触发接口（由 service 实现）
// 每次应用一条遥测更新后触发一轮完整评估
type Evaluator interface {
	EvaluateNow(ctx context.Context)
}

// RoomWriter 房间持久化写通道（由 repository.RoomRepository 实现）
// 遥测里首次出现的房间在此路径创建行，确认/处置的数据库写依赖其存在
type RoomWriter interface {
	UpsertRoom(ctx context.Context, wardKey, roomKey, patientName string, fallDetected, acknowledged, online bool) error
}

// DeviceWriter 设备持久化写通道（由 repository.DeviceRepository 实现）
type DeviceWriter interface {
	UpsertTelemetry(ctx context.Context, d *models.Device) error
}

// TelemetryConsumer 后端读通道：订阅病区/房间树与设备树的推送流
// 容忍部分/缺失子树与模式漂移（旧版扁平字段与新版嵌套设备字段并存）
type TelemetryConsumer struct {
	config       *config.Config
	mqttClient   *mqtt.Client
	store        *SnapshotStore
	roomWriter   RoomWriter
	deviceWriter DeviceWriter
	logger       *zap.Logger

	connected       atomic.Bool
	lastTelemetryMs atomic.Int64
}

// NewTelemetryConsumer 创建遥测消费者
func NewTelemetryConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	store *SnapshotStore,
	roomWriter RoomWriter,
	deviceWriter DeviceWriter,
	logger *zap.Logger,
) *TelemetryConsumer {
	c := &TelemetryConsumer{
		config:       cfg,
		mqttClient:   mqttClient,
		store:        store,
		roomWriter:   roomWriter,
		deviceWriter: deviceWriter,
		logger:       logger,
	}

	if mqttClient != nil {
		c.connected.Store(mqttClient.IsConnected())
		mqttClient.OnConnectionChange(func(ok bool) {
			c.connected.Store(ok)
		})
	}

	return c
}

// roomStatusPayload 房间 live-status 遥测载荷（字段类型容错）
type roomStatusPayload struct {
	FallDetected interface{} `json:"fall_detected"`
	Acknowledged interface{} `json:"acknowledged"`
	Online       bool        `json:"online"`
	PatientName  string      `json:"patient_name"`
}

// devicePayload 设备遥测的附加字段（设备本体单独容错解码）
type devicePayload struct {
	Name string `json:"name"`
}

// Start 订阅遥测主题并启动轮询兜底
// 推送触发即时评估；即使无推送，每 PollInterval 也重评估一次
func (c *TelemetryConsumer) Start(ctx context.Context, evaluator Evaluator) error {
	if err := c.mqttClient.Subscribe(c.config.Telemetry.RoomTopic, c.config.MQTT.QoS, func(topic string, payload []byte) error {
		if err := c.handleRoomStatus(ctx, topic, payload); err != nil {
			return err
		}
		evaluator.EvaluateNow(ctx)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to room topic: %w", err)
	}

	if err := c.mqttClient.Subscribe(c.config.Telemetry.DeviceTopic, c.config.MQTT.QoS, func(topic string, payload []byte) error {
		if err := c.handleDeviceTelemetry(ctx, topic, payload); err != nil {
			return err
		}
		evaluator.EvaluateNow(ctx)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to device topic: %w", err)
	}

	c.logger.Info("Telemetry consumer started",
		zap.String("room_topic", c.config.Telemetry.RoomTopic),
		zap.String("device_topic", c.config.Telemetry.DeviceTopic),
		zap.Int("poll_interval", c.config.Telemetry.PollInterval),
	)

	// 轮询兜底（独立异步事件，与推送处理可安全交错）
	go func() {
		ticker := time.NewTicker(time.Duration(c.config.Telemetry.PollInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evaluator.EvaluateNow(ctx)
			}
		}
	}()

	return nil
}

// Stop 释放订阅（关闭时必须无条件执行，避免泄漏）
func (c *TelemetryConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.Telemetry.RoomTopic, c.config.Telemetry.DeviceTopic); err != nil {
		c.logger.Warn("Failed to unsubscribe telemetry topics", zap.Error(err))
	}
	c.logger.Info("Telemetry consumer stopped")
}

// Connected 后端连接状态（连接横幅数据源）
func (c *TelemetryConsumer) Connected() bool {
	return c.connected.Load()
}

// LastTelemetryMs 最近一次收到遥测的时间
func (c *TelemetryConsumer) LastTelemetryMs() int64 {
	return c.lastTelemetryMs.Load()
}

// handleRoomStatus 处理房间 live-status 推送
// 主题格式: wardwatch/ward/{ward_key}/room/{room_key}/status
func (c *TelemetryConsumer) handleRoomStatus(ctx context.Context, topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 6 {
		return fmt.Errorf("invalid room topic format: %s", topic)
	}
	wardKey, roomKey := parts[2], parts[4]
	if wardKey == "" || roomKey == "" {
		return fmt.Errorf("invalid room topic format: %s", topic)
	}

	// 畸形遥测按防御性规则降级，不抛异常
	var p roomStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal room status: %w", err)
	}

	c.store.ApplyRoomStatus(wardKey, roomKey, models.LiveStatus{
		FallDetected: p.FallDetected,
		Acknowledged: p.Acknowledged,
		Online:       p.Online,
	}, p.PatientName)

	// 首次出现的房间必须落到数据库，否则确认/处置按 0 行受影响失败；
	// 写失败只降级 staff 写通道，不阻塞内存快照与报警评估
	if c.roomWriter != nil {
		if err := c.roomWriter.UpsertRoom(ctx, wardKey, roomKey, p.PatientName,
			normalizer.CoerceBool(p.FallDetected), normalizer.CoerceBool(p.Acknowledged), p.Online,
		); err != nil {
			c.logger.Warn("Failed to persist room status",
				zap.String("ward", wardKey),
				zap.String("room", roomKey),
				zap.Error(err),
			)
		}
	}

	c.lastTelemetryMs.Store(time.Now().UnixMilli())

	c.logger.Debug("Room status applied",
		zap.String("ward", wardKey),
		zap.String("room", roomKey),
	)
	return nil
}

// handleDeviceTelemetry 处理设备自身遥测推送
// 主题格式: wardwatch/device/{device_id}/telemetry
func (c *TelemetryConsumer) handleDeviceTelemetry(ctx context.Context, topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return fmt.Errorf("invalid device topic format: %s", topic)
	}
	deviceID := parts[2]
	if deviceID == "" {
		return fmt.Errorf("invalid device topic format: %s", topic)
	}

	var d models.Device
	if err := json.Unmarshal(payload, &d); err != nil {
		return fmt.Errorf("failed to unmarshal device telemetry: %w", err)
	}
	var p devicePayload
	_ = json.Unmarshal(payload, &p)

	if d.ID == "" {
		d.ID = deviceID
	}
	if d.LastSeen == 0 {
		d.LastSeen = time.Now().UnixMilli()
	}

	c.store.ApplyDevice(p.Name, &d)

	// 首次见到的 device_id 在此创建记录，设备列表与绑定动作依赖该行
	if c.deviceWriter != nil {
		if err := c.deviceWriter.UpsertTelemetry(ctx, &d); err != nil {
			c.logger.Warn("Failed to persist device telemetry",
				zap.String("device_id", d.ID),
				zap.Error(err),
			)
		}
	}

	c.lastTelemetryMs.Store(time.Now().UnixMilli())

	c.logger.Debug("Device telemetry applied",
		zap.String("device_id", d.ID),
	)
	return nil
}
