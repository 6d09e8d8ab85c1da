package application

import (
	"context"
	"log"
	"sort"
	"time"

	"battmon-cloud/internal/observability/metrics"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

// ChannelWriter persists one equipment's channel readings transactionally.
type ChannelWriter interface {
	SaveBatch(ctx context.Context, equipment int, readings []telemetry.ChannelReading) error
}

// SignalWriter persists CAN/LIN readings.
type SignalWriter interface {
	UpsertBatch(ctx context.Context, readings []telemetry.SignalReading) error
}

// SensorWriter persists AUX readings.
type SensorWriter interface {
	UpsertBatch(ctx context.Context, readings []telemetry.SensorReading) error
}

const (
	defaultDrainBatchCap  = 1000
	defaultAcquireTimeout = 50 * time.Millisecond
	defaultCommandTimeout = 10 * time.Second
	defaultRetries        = 2
)

// Flusher drains the persistence queue into durable storage on a fixed
// cadence. Only one drain runs at a time; a tick that cannot acquire the
// permit within a short window is skipped, never queued.
type Flusher struct {
	queue   *BatchQueue
	service *Service

	channels ChannelWriter
	signals  SignalWriter
	sensors  SensorWriter

	permit         chan struct{}
	drainBatchCap  int
	acquireTimeout time.Duration
	commandTimeout time.Duration
	retries        int
	logger         *log.Logger
}

// NewFlusher constructs a flusher. signals and sensors may be nil; their
// shadow persistence is then skipped.
func NewFlusher(queue *BatchQueue, service *Service, channels ChannelWriter, signals SignalWriter, sensors SensorWriter, drainBatchCap int, logger *log.Logger) *Flusher {
	if drainBatchCap <= 0 {
		drainBatchCap = defaultDrainBatchCap
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Flusher{
		queue:          queue,
		service:        service,
		channels:       channels,
		signals:        signals,
		sensors:        sensors,
		permit:         make(chan struct{}, 1),
		drainBatchCap:  drainBatchCap,
		acquireTimeout: defaultAcquireTimeout,
		commandTimeout: defaultCommandTimeout,
		retries:        defaultRetries,
		logger:         logger,
	}
}

// Start runs the drain loop until the context is canceled.
func (f *Flusher) Start(ctx context.Context, interval time.Duration) {
	if f == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final best-effort drain so buffered items are not lost on
			// shutdown. Uses a detached context: ctx is already done.
			f.FlushOnce(context.Background())
			return
		case <-ticker.C:
			f.FlushOnce(ctx)
		}
	}
}

// FlushOnce performs one drain cycle. It reports whether the cycle ran
// (false means the permit was contended and the tick was skipped) and how
// many items were dequeued.
func (f *Flusher) FlushOnce(ctx context.Context) (ran bool, drained int) {
	if f == nil || f.queue == nil || f.channels == nil {
		return false, 0
	}

	acquire := time.NewTimer(f.acquireTimeout)
	defer acquire.Stop()
	select {
	case f.permit <- struct{}{}:
	case <-acquire.C:
		f.logger.Printf("persist drain: previous cycle still running, tick skipped")
		return false, 0
	}
	defer func() { <-f.permit }()

	start := time.Now()
	items := f.queue.Dequeue(f.drainBatchCap)
	metrics.SetQueueDepth(f.queue.Len())

	committed, failed := 0, 0
	if len(items) > 0 {
		groups := make(map[int][]telemetry.ChannelReading)
		for _, item := range items {
			groups[item.Equipment] = append(groups[item.Equipment], item)
		}
		ids := make([]int, 0, len(groups))
		for id := range groups {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			if err := f.saveGroup(ctx, id, groups[id]); err != nil {
				failed++
				f.logger.Printf("persist drain: equipment=%d items=%d error: %v", id, len(groups[id]), err)
				continue
			}
			committed++
		}
	}

	f.flushShadow(ctx)

	metrics.ObserveDrain(committed, failed, time.Since(start))
	return true, len(items)
}

// saveGroup commits one equipment group, retrying transient failures a
// bounded number of times. Each attempt gets its own command timeout.
func (f *Flusher) saveGroup(ctx context.Context, equipment int, readings []telemetry.ChannelReading) error {
	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.commandTimeout)
		err = f.channels.SaveBatch(attemptCtx, equipment, readings)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// flushShadow writes the coalesced signal/sensor snapshots accumulated
// since the previous cycle. Failures are logged and the snapshots dropped;
// the stores keep the authoritative values either way.
func (f *Flusher) flushShadow(ctx context.Context) {
	if f.service == nil {
		return
	}
	if f.signals != nil {
		if pending := f.service.takePendingSignals(); len(pending) > 0 {
			flushCtx, cancel := context.WithTimeout(ctx, f.commandTimeout)
			if err := f.signals.UpsertBatch(flushCtx, pending); err != nil {
				f.logger.Printf("persist drain: signals upsert (%d) error: %v", len(pending), err)
			}
			cancel()
		}
	}
	if f.sensors != nil {
		if pending := f.service.takePendingSensors(); len(pending) > 0 {
			flushCtx, cancel := context.WithTimeout(ctx, f.commandTimeout)
			if err := f.sensors.UpsertBatch(flushCtx, pending); err != nil {
				f.logger.Printf("persist drain: sensors upsert (%d) error: %v", len(pending), err)
			}
			cancel()
		}
	}
}
