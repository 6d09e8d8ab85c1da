package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	alarms "battmon-cloud/internal/alarms/domain"
	"battmon-cloud/internal/observability/metrics"
	"battmon-cloud/internal/telemetry/application"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

// AlarmRaiser persists equipment alarms pushed alongside telemetry.
type AlarmRaiser interface {
	Raise(ctx context.Context, equipment int, message string, level alarms.Level) (*alarms.Alarm, error)
}

// Handler exposes the telemetry ingestion and read endpoints.
type Handler struct {
	service *application.Service
	alarms  AlarmRaiser
	version string
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler constructs a handler. alarmService may be nil; the alarm
// endpoint then responds 503.
func NewHandler(service *application.Service, alarmService AlarmRaiser, version string, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		service: service,
		alarms:  alarmService,
		version: version,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// ServeHTTP routes /api/v1/telemetry/* and /api/v1/equipment/online.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var status int
	switch r.URL.Path {
	case "/api/v1/telemetry/channel":
		status = h.post(w, r, h.handleChannel)
	case "/api/v1/telemetry/channels/batch":
		status = h.post(w, r, h.handleChannelBatch)
	case "/api/v1/telemetry/signal":
		status = h.post(w, r, h.handleSignal)
	case "/api/v1/telemetry/sensor":
		status = h.post(w, r, h.handleSensor)
	case "/api/v1/telemetry/alarm":
		status = h.post(w, r, h.handleAlarm)
	case "/api/v1/telemetry/test":
		status = h.get(w, r, h.handleTest)
	case "/api/v1/telemetry/stats":
		status = h.get(w, r, h.handleStats)
	case "/api/v1/telemetry/channels":
		status = h.get(w, r, h.handleReadChannels)
	case "/api/v1/telemetry/signals":
		status = h.get(w, r, h.handleReadSignals)
	case "/api/v1/telemetry/sensors":
		status = h.get(w, r, h.handleReadSensors)
	case "/api/v1/equipment/online":
		status = h.get(w, r, h.handleOnline)
	default:
		w.WriteHeader(http.StatusNotFound)
		status = http.StatusNotFound
	}

	if r.Method == http.MethodPost {
		result := metrics.IngestResultSuccess
		if status >= 400 {
			result = metrics.IngestResultError
			metrics.IncIngestError(r.URL.Path)
		}
		metrics.ObserveIngest(result, time.Since(start))
	}
}

type routeFunc func(w http.ResponseWriter, r *http.Request) int

func (h *Handler) post(w http.ResponseWriter, r *http.Request, fn routeFunc) int {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}
	return fn(w, r)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, fn routeFunc) int {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}
	return fn(w, r)
}

func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request) int {
	var u application.ChannelUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	if _, err := h.service.UpdateChannel(u); err != nil {
		return h.ingestError(w, err)
	}
	return h.respond(w, map[string]any{
		"accepted":   true,
		"serverTime": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleChannelBatch(w http.ResponseWriter, r *http.Request) int {
	var updates []application.ChannelUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	queued, invalid, err := h.service.UpdateChannelBatch(updates)
	if err != nil {
		return h.ingestError(w, err)
	}
	if queued == 0 {
		http.Error(w, "no valid entries", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	return h.respond(w, map[string]any{"queued": queued, "invalid": invalid})
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) int {
	var u application.SignalUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	if _, err := h.service.UpdateSignal(u); err != nil {
		return h.ingestError(w, err)
	}
	return h.respond(w, map[string]any{
		"accepted":   true,
		"serverTime": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleSensor(w http.ResponseWriter, r *http.Request) int {
	var u application.SensorUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	if _, err := h.service.UpdateSensor(u); err != nil {
		return h.ingestError(w, err)
	}
	return h.respond(w, map[string]any{
		"accepted":   true,
		"serverTime": h.now().UTC().Format(time.RFC3339),
	})
}

type alarmRequest struct {
	EquipmentID int    `json:"equipmentId"`
	Message     string `json:"message"`
	Level       int    `json:"level"`
}

func (h *Handler) handleAlarm(w http.ResponseWriter, r *http.Request) int {
	if h.alarms == nil {
		http.Error(w, "alarms unavailable", http.StatusServiceUnavailable)
		return http.StatusServiceUnavailable
	}
	var req alarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	alarm, err := h.alarms.Raise(r.Context(), req.EquipmentID, req.Message, alarms.Level(req.Level))
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return http.StatusBadRequest
		}
		h.logger.Printf("alarm raise failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	return h.respond(w, map[string]any{"alarmId": alarm.ID})
}

func (h *Handler) handleTest(w http.ResponseWriter, _ *http.Request) int {
	return h.respond(w, map[string]any{
		"success":    true,
		"serverTime": h.now().UTC().Format(time.RFC3339),
		"version":    h.version,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) int {
	return h.respond(w, h.service.Snapshot())
}

func (h *Handler) handleReadChannels(w http.ResponseWriter, r *http.Request) int {
	equipment, ok := equipmentQuery(w, r)
	if !ok {
		return http.StatusBadRequest
	}
	list := h.service.GetChannels(equipment)
	if list == nil {
		list = []telemetry.ChannelReading{}
	}
	return h.respond(w, list)
}

func (h *Handler) handleReadSignals(w http.ResponseWriter, r *http.Request) int {
	equipment, ok := equipmentQuery(w, r)
	if !ok {
		return http.StatusBadRequest
	}
	list := h.service.GetSignals(equipment)
	if list == nil {
		list = []telemetry.SignalReading{}
	}
	return h.respond(w, list)
}

func (h *Handler) handleReadSensors(w http.ResponseWriter, r *http.Request) int {
	equipment, ok := equipmentQuery(w, r)
	if !ok {
		return http.StatusBadRequest
	}
	list := h.service.GetSensors(equipment)
	if list == nil {
		list = []telemetry.SensorReading{}
	}
	return h.respond(w, list)
}

func (h *Handler) handleOnline(w http.ResponseWriter, _ *http.Request) int {
	stats := h.service.OnlineEquipmentStats()
	if stats == nil {
		stats = []application.EquipmentStats{}
	}
	return h.respond(w, map[string]any{
		"online":    h.service.OnlineIDs(),
		"equipment": stats,
	})
}

func (h *Handler) ingestError(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, telemetry.ErrInvalidInput), errors.Is(err, telemetry.ErrCapacityExceeded):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return http.StatusBadRequest
	default:
		h.logger.Printf("telemetry ingest failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, body any) int {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Printf("telemetry response encode failed: %v", err)
	}
	return http.StatusOK
}

func equipmentQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("equipment_id")
	if raw == "" {
		http.Error(w, "equipment_id is required", http.StatusBadRequest)
		return 0, false
	}
	equipment, err := strconv.Atoi(raw)
	if err != nil || equipment <= 0 {
		http.Error(w, "equipment_id must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return equipment, true
}
