package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/ackflow"
	"wardwatch/internal/models"
)

// StateView 仪表板完整状态（所有面板共享同一份规范化状态）
type StateView struct {
	Wards         map[string]*models.Ward          `json:"wards"`
	RoomStates    map[string]models.RoomAlertState `json:"room_states"` // "ward/room" → 派生告警态
	Aggregate     models.Aggregate                 `json:"aggregate"`
	Connected     bool                             `json:"connected"`
	Muted         bool                             `json:"muted"`
	GloballyAcked bool                             `json:"globally_acknowledged"`
	AlarmUnlocked bool                             `json:"alarm_unlocked"`
	AlarmPlaying  bool                             `json:"alarm_playing"`
}

// InteractView 首次用户交互的结果
type InteractView struct {
	AlarmUnlocked bool `json:"alarm_unlocked"`
}

// DeviceView 设备列表条目（含从 last_seen 派生的在线标志）
type DeviceView struct {
	models.Device
	Online bool `json:"online"`
}

// HealthView 连接横幅数据源
type HealthView struct {
	Connected       bool  `json:"connected"`
	LastTelemetryMs int64 `json:"last_telemetry_ms"`
}

// DashboardService 仪表板操作入口（由 service.WardWatchService 实现）
type DashboardService interface {
	State(ctx context.Context) StateView
	Interact(ctx context.Context) InteractView
	Acknowledge(ctx context.Context, wardKey, roomKey string) error
	AcknowledgeAll(ctx context.Context) error
	Resolve(ctx context.Context, wardKey, roomKey string, confirm ackflow.Confirmation) error
	SetMuted(ctx context.Context, muted bool)
	AssignDevice(ctx context.Context, deviceID, assignedRoom, patientName string) error
	ListDevices(ctx context.Context) ([]DeviceView, error)
	RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error)
	Health(ctx context.Context) HealthView
}

// DashboardHandler 仪表板 HTTP 处理器
type DashboardHandler struct {
	svc    DashboardService
	logger *zap.Logger
}

// NewDashboardHandler 创建处理器
func NewDashboardHandler(svc DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		svc:    svc,
		logger: logger,
	}
}

// GetState GET /api/v1/state
func (h *DashboardHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.State(r.Context())))
}

// Interact POST /api/v1/interact
// 首次用户交互：尝试音频解锁。失败不阻塞，兜底提示音仍可用。
func (h *DashboardHandler) Interact(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.Interact(r.Context())))
}

// Acknowledge POST /api/v1/rooms/{ward}/{room}/acknowledge
func (h *DashboardHandler) Acknowledge(w http.ResponseWriter, r *http.Request, wardKey, roomKey string) {
	if err := h.svc.Acknowledge(r.Context(), wardKey, roomKey); err != nil {
		h.logger.Warn("Acknowledge failed",
			zap.String("ward", wardKey),
			zap.String("room", roomKey),
			zap.Error(err),
		)
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"room": wardKey + "/" + roomKey}))
}

// AcknowledgeAll POST /api/v1/acknowledge-all
func (h *DashboardHandler) AcknowledgeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AcknowledgeAll(r.Context()); err != nil {
		h.logger.Warn("Acknowledge all failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Resolve POST /api/v1/rooms/{ward}/{room}/resolve
func (h *DashboardHandler) Resolve(w http.ResponseWriter, r *http.Request, wardKey, roomKey string) {
	var confirm ackflow.Confirmation
	if err := readBodyJSON(r, 1<<20, &confirm); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	if err := h.svc.Resolve(r.Context(), wardKey, roomKey, confirm); err != nil {
		h.logger.Warn("Resolve failed",
			zap.String("ward", wardKey),
			zap.String("room", roomKey),
			zap.Error(err),
		)
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"room": wardKey + "/" + roomKey}))
}

// SetMute POST /api/v1/mute
func (h *DashboardHandler) SetMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	h.svc.SetMuted(r.Context(), body.Muted)
	writeJSON(w, http.StatusOK, Ok(map[string]bool{"muted": body.Muted}))
}

// AssignDevice POST /api/v1/devices/{id}/assign
func (h *DashboardHandler) AssignDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	var body struct {
		AssignedRoom string `json:"assignedRoom"`
		PatientName  string `json:"patientName"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	if err := h.svc.AssignDevice(r.Context(), deviceID, body.AssignedRoom, body.PatientName); err != nil {
		h.logger.Warn("Device assignment failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"device_id": deviceID}))
}

// ListDevices GET /api/v1/devices
func (h *DashboardHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(devices))
}

// GetLogs GET /api/v1/logs?limit=N
func (h *DashboardHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	entries, err := h.svc.RecentLogs(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(entries))
}

// ExportLogs GET /api/v1/logs/export
func (h *DashboardHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 500)

	entries, err := h.svc.RecentLogs(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}

	data, err := GenerateLogExport(entries)
	if err != nil {
		h.logger.Error("Log export failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("wardwatch-logs-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetHealth GET /api/v1/health
func (h *DashboardHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if !health.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Ok(health))
}
