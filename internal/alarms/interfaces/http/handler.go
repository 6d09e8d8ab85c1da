package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "battmon-cloud/internal/alarms/application"
	alarms "battmon-cloud/internal/alarms/domain"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

const exportLimit = 10000

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger, now: time.Now}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/alarms/export.xlsx":
		h.handleExportXLSX(w, r)
	case r.URL.Path == "/api/v1/alarms/export.pdf":
		h.handleExportPDF(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleClear(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	equipment, activeOnly, limit, err := parseListQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.List(r.Context(), equipment, activeOnly, limit)
	if err != nil {
		h.logger.Printf("alarm list failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "clear" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "alarm id must be an integer", http.StatusBadRequest)
		return
	}

	var body struct {
		ClearedBy string `json:"clearedBy"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	alarm, err := h.service.Clear(r.Context(), id, body.ClearedBy)
	switch {
	case err == nil, errors.Is(err, alarms.ErrAlreadyCleared):
		// Clearing twice reports the stored state without modifying it.
	case errors.Is(err, alarms.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, telemetry.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		h.logger.Printf("alarm clear failed: id=%d err=%v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	list, ok := h.exportList(w, r)
	if !ok {
		return
	}
	data, err := BuildAlarmsXLSX(list)
	if err != nil {
		h.logger.Printf("alarm xlsx export failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	list, ok := h.exportList(w, r)
	if !ok {
		return
	}
	data, err := BuildAlarmsPDF(list, h.now())
	if err != nil {
		h.logger.Printf("alarm pdf export failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) exportList(w http.ResponseWriter, r *http.Request) ([]alarms.Alarm, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	equipment, activeOnly, _, err := parseListQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	list, err := h.service.List(r.Context(), equipment, activeOnly, exportLimit)
	if err != nil {
		h.logger.Printf("alarm export query failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return list, true
}

func parseListQuery(r *http.Request) (equipment int, activeOnly bool, limit int, err error) {
	query := r.URL.Query()
	if raw := query.Get("equipment_id"); raw != "" {
		equipment, err = strconv.Atoi(raw)
		if err != nil || equipment < 0 {
			return 0, false, 0, errors.New("equipment_id must be a non-negative integer")
		}
	}
	if raw := query.Get("active"); raw != "" {
		activeOnly, err = strconv.ParseBool(raw)
		if err != nil {
			return 0, false, 0, errors.New("active must be a boolean")
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, false, 0, errors.New("limit must be a non-negative integer")
		}
	}
	return equipment, activeOnly, limit, nil
}
