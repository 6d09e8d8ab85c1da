package application

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"battmon-cloud/internal/observability/metrics"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

// Broadcaster receives accepted telemetry for dashboard fan-out. Calls must
// not block the ingestion path.
type Broadcaster interface {
	ChannelUpdated(r telemetry.ChannelReading)
	SignalUpdated(r telemetry.SignalReading)
	SensorUpdated(r telemetry.SensorReading)
}

// ServiceConfig carries the service tunables.
type ServiceConfig struct {
	OfflineThreshold time.Duration
	CleanupThreshold time.Duration
	BatchMaxItems    int
}

// Service is the telemetry ingestion gateway and the owner of the in-memory
// data plane: the three latest-value stores and the liveness table. The
// stores are authoritative for live reads; durable storage is a best-effort
// shadow written by the flusher.
type Service struct {
	channels *telemetry.Store[telemetry.ChannelReading]
	signals  *telemetry.Store[telemetry.SignalReading]
	sensors  *telemetry.Store[telemetry.SensorReading]
	liveness *telemetry.LivenessTracker

	queue          *BatchQueue
	pendingSignals *latestSet[telemetry.SignalReading]
	pendingSensors *latestSet[telemetry.SensorReading]
	broadcaster    Broadcaster

	cleanupThreshold time.Duration
	batchMax         int
	logger           *log.Logger

	started        time.Time
	received       atomic.Int64
	processed      atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	persistDropped atomic.Int64

	now func() time.Time
}

// NewService constructs the service with empty stores. broadcaster may be
// nil; fan-out is then skipped.
func NewService(cfg ServiceConfig, queue *BatchQueue, broadcaster Broadcaster, logger *log.Logger) *Service {
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 5 * time.Minute
	}
	if cfg.CleanupThreshold <= 0 {
		cfg.CleanupThreshold = 10 * time.Minute
	}
	if cfg.BatchMaxItems <= 0 {
		cfg.BatchMaxItems = 1000
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		channels:         telemetry.NewChannelStore(),
		signals:          telemetry.NewSignalStore(),
		sensors:          telemetry.NewSensorStore(),
		liveness:         telemetry.NewLivenessTracker(cfg.OfflineThreshold),
		queue:            queue,
		pendingSignals:   newLatestSet[telemetry.SignalReading](),
		pendingSensors:   newLatestSet[telemetry.SensorReading](),
		broadcaster:      broadcaster,
		cleanupThreshold: cfg.CleanupThreshold,
		batchMax:         cfg.BatchMaxItems,
		logger:           logger,
		started:          time.Now(),
		now:              time.Now,
	}
}

// ChannelUpdate is one inbound channel telemetry payload.
type ChannelUpdate struct {
	EquipmentID   int     `json:"equipmentId"`
	ChannelNumber int     `json:"channelNumber"`
	Status        int     `json:"status"`
	Mode          int     `json:"mode"`
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	Capacity      float64 `json:"capacity"`
	Power         float64 `json:"power"`
	Energy        float64 `json:"energy"`
	ScheduleName  string  `json:"scheduleName"`
}

// SignalUpdate is one inbound CAN/LIN telemetry payload.
type SignalUpdate struct {
	EquipmentID  int     `json:"equipmentId"`
	Name         string  `json:"name"`
	MinValue     float64 `json:"minValue"`
	MaxValue     float64 `json:"maxValue"`
	CurrentValue float64 `json:"currentValue"`
}

// SensorUpdate is one inbound AUX telemetry payload.
type SensorUpdate struct {
	EquipmentID int     `json:"equipmentId"`
	SensorID    string  `json:"sensorId"`
	Name        string  `json:"name"`
	Type        int     `json:"type"`
	Value       float64 `json:"value"`
}

func (u ChannelUpdate) validate() error {
	if u.EquipmentID <= 0 {
		return fmt.Errorf("%w: equipment id must be positive", telemetry.ErrInvalidInput)
	}
	if u.ChannelNumber <= 0 {
		return fmt.Errorf("%w: channel number must be positive", telemetry.ErrInvalidInput)
	}
	if u.Status < int(telemetry.ChannelIdle) || u.Status > int(telemetry.ChannelPause) {
		return fmt.Errorf("%w: unknown channel status %d", telemetry.ErrInvalidInput, u.Status)
	}
	if u.Mode < int(telemetry.ModeRest) || u.Mode > int(telemetry.ModeCC) {
		return fmt.Errorf("%w: unknown channel mode %d", telemetry.ErrInvalidInput, u.Mode)
	}
	return nil
}

func (u SignalUpdate) validate() error {
	if u.EquipmentID <= 0 {
		return fmt.Errorf("%w: equipment id must be positive", telemetry.ErrInvalidInput)
	}
	if u.Name == "" {
		return fmt.Errorf("%w: signal name is required", telemetry.ErrInvalidInput)
	}
	return nil
}

func (u SensorUpdate) validate() error {
	if u.EquipmentID <= 0 {
		return fmt.Errorf("%w: equipment id must be positive", telemetry.ErrInvalidInput)
	}
	if u.SensorID == "" {
		return fmt.Errorf("%w: sensor id is required", telemetry.ErrInvalidInput)
	}
	if u.Type < int(telemetry.SensorVoltage) || u.Type > int(telemetry.SensorNTC) {
		return fmt.Errorf("%w: unknown sensor type %d", telemetry.ErrInvalidInput, u.Type)
	}
	return nil
}

// UpdateChannel validates and applies one channel reading. On success the
// value is visible to reads before this returns; persistence and broadcast
// are scheduled, not awaited.
func (s *Service) UpdateChannel(u ChannelUpdate) (telemetry.ChannelReading, error) {
	s.received.Add(1)
	if err := u.validate(); err != nil {
		return telemetry.ChannelReading{}, err
	}

	reading := telemetry.ChannelReading{
		Equipment:     u.EquipmentID,
		ChannelNumber: u.ChannelNumber,
		Status:        telemetry.ChannelStatus(u.Status),
		Mode:          telemetry.ChannelMode(u.Mode),
		Voltage:       u.Voltage,
		Current:       u.Current,
		Capacity:      u.Capacity,
		Power:         u.Power,
		Energy:        u.Energy,
		ScheduleName:  u.ScheduleName,
		UpdatedAt:     s.now().UTC(),
	}

	s.channels.Set(reading)
	s.liveness.Touch(reading.Equipment)
	s.enqueuePersist(reading)
	s.processed.Add(1)

	if s.broadcaster != nil {
		s.broadcaster.ChannelUpdated(reading)
	}
	return reading, nil
}

// UpdateChannelBatch applies up to batchMax readings, filtering malformed
// entries individually. It reports accepted and rejected counts.
func (s *Service) UpdateChannelBatch(updates []ChannelUpdate) (queued, invalid int, err error) {
	if len(updates) == 0 {
		return 0, 0, fmt.Errorf("%w: empty batch", telemetry.ErrInvalidInput)
	}
	if len(updates) > s.batchMax {
		return 0, 0, fmt.Errorf("%w: batch of %d exceeds limit %d", telemetry.ErrCapacityExceeded, len(updates), s.batchMax)
	}

	for _, u := range updates {
		if _, err := s.UpdateChannel(u); err != nil {
			invalid++
			continue
		}
		queued++
	}
	return queued, invalid, nil
}

// UpdateSignal validates and applies one CAN/LIN reading.
func (s *Service) UpdateSignal(u SignalUpdate) (telemetry.SignalReading, error) {
	s.received.Add(1)
	if err := u.validate(); err != nil {
		return telemetry.SignalReading{}, err
	}

	reading := telemetry.SignalReading{
		Equipment:    u.EquipmentID,
		Name:         u.Name,
		MinValue:     u.MinValue,
		MaxValue:     u.MaxValue,
		CurrentValue: u.CurrentValue,
		UpdatedAt:    s.now().UTC(),
	}

	s.signals.Set(reading)
	s.liveness.Touch(reading.Equipment)
	s.pendingSignals.put(reading)
	s.processed.Add(1)

	if s.broadcaster != nil {
		s.broadcaster.SignalUpdated(reading)
	}
	return reading, nil
}

// UpdateSensor validates and applies one AUX reading.
func (s *Service) UpdateSensor(u SensorUpdate) (telemetry.SensorReading, error) {
	s.received.Add(1)
	if err := u.validate(); err != nil {
		return telemetry.SensorReading{}, err
	}

	reading := telemetry.SensorReading{
		Equipment: u.EquipmentID,
		SensorID:  u.SensorID,
		Name:      u.Name,
		Type:      telemetry.SensorType(u.Type),
		Value:     u.Value,
		UpdatedAt: s.now().UTC(),
	}

	s.sensors.Set(reading)
	s.liveness.Touch(reading.Equipment)
	s.pendingSensors.put(reading)
	s.processed.Add(1)

	if s.broadcaster != nil {
		s.broadcaster.SensorUpdated(reading)
	}
	return reading, nil
}

func (s *Service) enqueuePersist(reading telemetry.ChannelReading) {
	if s.queue == nil {
		return
	}
	if dropped := s.queue.Enqueue(reading); dropped > 0 {
		s.persistDropped.Add(int64(dropped))
		metrics.AddQueueDropped(dropped)
		s.logger.Printf("persist queue full: dropped %d oldest items (equipment=%d)", dropped, reading.Equipment)
	}
	metrics.SetQueueDepth(s.queue.Len())
}

// GetChannel returns the latest reading for one channel.
func (s *Service) GetChannel(equipment, channel int) (telemetry.ChannelReading, bool) {
	r, ok := s.channels.Get(equipment, telemetry.KindChannel, strconv.Itoa(channel))
	s.countLookup(ok)
	return r, ok
}

// GetChannels returns every channel reading for the equipment, ascending by
// channel number.
func (s *Service) GetChannels(equipment int) []telemetry.ChannelReading {
	return s.channels.All(equipment)
}

// GetSignal returns the latest reading for one CAN/LIN signal.
func (s *Service) GetSignal(equipment int, name string) (telemetry.SignalReading, bool) {
	r, ok := s.signals.Get(equipment, telemetry.KindSignal, name)
	s.countLookup(ok)
	return r, ok
}

// GetSignals returns every signal reading for the equipment, ascending by name.
func (s *Service) GetSignals(equipment int) []telemetry.SignalReading {
	return s.signals.All(equipment)
}

// GetSensor returns the latest reading for one AUX sensor.
func (s *Service) GetSensor(equipment int, sensorID string) (telemetry.SensorReading, bool) {
	r, ok := s.sensors.Get(equipment, telemetry.KindSensor, sensorID)
	s.countLookup(ok)
	return r, ok
}

// GetSensors returns every sensor reading for the equipment, ascending by id.
func (s *Service) GetSensors(equipment int) []telemetry.SensorReading {
	return s.sensors.All(equipment)
}

func (s *Service) countLookup(hit bool) {
	if hit {
		s.cacheHits.Add(1)
	} else {
		s.cacheMisses.Add(1)
	}
}

// IsOnline reports whether the equipment sent telemetry within the offline
// threshold.
func (s *Service) IsOnline(equipment int) bool {
	return s.liveness.Online(equipment)
}

// OnlineIDs returns all online equipment, ascending by id.
func (s *Service) OnlineIDs() []int {
	return s.liveness.OnlineIDs()
}

// EquipmentStats summarizes one online equipment's cached data.
type EquipmentStats struct {
	EquipmentID int       `json:"equipmentId"`
	Channels    int       `json:"channels"`
	Signals     int       `json:"signals"`
	Sensors     int       `json:"sensors"`
	LastUpdate  time.Time `json:"lastUpdateTime"`
	Online      bool      `json:"online"`
}

// OnlineEquipmentStats returns per-equipment store counts for every online
// equipment, ascending by id.
func (s *Service) OnlineEquipmentStats() []EquipmentStats {
	ids := s.liveness.OnlineIDs()
	stats := make([]EquipmentStats, 0, len(ids))
	for _, id := range ids {
		last, _ := s.liveness.LastSeen(id)
		stats = append(stats, EquipmentStats{
			EquipmentID: id,
			Channels:    s.channels.Count(id),
			Signals:     s.signals.Count(id),
			Sensors:     s.sensors.Count(id),
			LastUpdate:  last,
			Online:      true,
		})
	}
	return stats
}

// Sweep evicts every equipment whose last telemetry is older than the
// cleanup threshold: the liveness entry and all cached values across the
// three stores. Equipment reappearing afterwards starts cold.
func (s *Service) Sweep() (equipment, entries int) {
	stale := s.liveness.StaleIDs(s.cleanupThreshold)
	for _, id := range stale {
		s.liveness.Remove(id)
		entries += s.channels.RemoveEquipment(id)
		entries += s.signals.RemoveEquipment(id)
		entries += s.sensors.RemoveEquipment(id)
	}
	if len(stale) > 0 {
		s.logger.Printf("cleanup: evicted %d entries from %d stale equipment", entries, len(stale))
	}
	return len(stale), entries
}

// StartSweep runs the eviction loop until the context is canceled.
func (s *Service) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Stats is the monitoring snapshot served by the stats endpoint.
type Stats struct {
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	Received         int64   `json:"received"`
	Processed        int64   `json:"processed"`
	UpdatesPerSecond float64 `json:"updatesPerSecond"`
	CacheHits        int64   `json:"cacheHits"`
	CacheMisses      int64   `json:"cacheMisses"`
	CacheHitRate     float64 `json:"cacheHitRate"`
	QueueDepth       int     `json:"queueDepth"`
	PersistDropped   int64   `json:"persistDropped"`
	Channels         int     `json:"channels"`
	Signals          int     `json:"signals"`
	Sensors          int     `json:"sensors"`
	OnlineEquipment  int     `json:"onlineEquipment"`
	HeapMB           float64 `json:"heapMB"`
}

// Snapshot computes the current stats.
func (s *Service) Snapshot() Stats {
	uptime := time.Since(s.started).Seconds()
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) * 100 / float64(hits+misses)
	}
	updatesPerSec := 0.0
	if uptime > 0 {
		updatesPerSec = float64(s.processed.Load()) / uptime
	}
	depth := 0
	if s.queue != nil {
		depth = s.queue.Len()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Stats{
		UptimeSeconds:    uptime,
		Received:         s.received.Load(),
		Processed:        s.processed.Load(),
		UpdatesPerSecond: updatesPerSec,
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRate:     hitRate,
		QueueDepth:       depth,
		PersistDropped:   s.persistDropped.Load(),
		Channels:         s.channels.Len(),
		Signals:          s.signals.Len(),
		Sensors:          s.sensors.Len(),
		OnlineEquipment:  len(s.liveness.OnlineIDs()),
		HeapMB:           float64(mem.HeapAlloc) / 1024 / 1024,
	}
}

// StartMonitor logs a performance summary and refreshes the gauges on a
// fixed cadence until the context is canceled.
func (s *Service) StartMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Snapshot()
			metrics.SetStoreSize(string(telemetry.KindChannel), snap.Channels)
			metrics.SetStoreSize(string(telemetry.KindSignal), snap.Signals)
			metrics.SetStoreSize(string(telemetry.KindSensor), snap.Sensors)
			metrics.SetOnlineEquipment(snap.OnlineEquipment)
			metrics.SetQueueDepth(snap.QueueDepth)
			s.logger.Printf(
				"telemetry: uptime=%s online=%d stores=%d (ch=%d sig=%d aux=%d) queue=%d hit=%.1f%% updates/s=%.1f heap=%.1fMB",
				time.Duration(snap.UptimeSeconds*float64(time.Second)).Truncate(time.Second),
				snap.OnlineEquipment,
				snap.Channels+snap.Signals+snap.Sensors,
				snap.Channels, snap.Signals, snap.Sensors,
				snap.QueueDepth, snap.CacheHitRate, snap.UpdatesPerSecond, snap.HeapMB,
			)
		}
	}
}

// Close clears all in-memory state. Background loops are stopped by their
// contexts before this is called.
func (s *Service) Close() {
	total := s.channels.Len() + s.signals.Len() + s.sensors.Len()
	s.channels.Clear()
	s.signals.Clear()
	s.sensors.Clear()
	s.liveness.Clear()
	s.logger.Printf("telemetry: service closed, %d cached entries cleared", total)
}

func (s *Service) takePendingSignals() []telemetry.SignalReading {
	return s.pendingSignals.takeAll()
}

func (s *Service) takePendingSensors() []telemetry.SensorReading {
	return s.pendingSensors.takeAll()
}
