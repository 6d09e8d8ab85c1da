package realtime

import (
	"context"
	"encoding/json"
	"log"

	alarms "battmon-cloud/internal/alarms/domain"
	"battmon-cloud/internal/observability/metrics"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

const defaultDispatcherBuffer = 1024

// Envelope is the server-to-client event frame.
type Envelope struct {
	Event       string      `json:"event"`
	EquipmentID int         `json:"equipmentId"`
	Data        interface{} `json:"data"`
}

type event struct {
	equipment int
	global    bool
	payload   []byte
}

// Dispatcher decouples ingestion from websocket fan-out. Events pass
// through a bounded channel drained by a single worker; a full buffer
// drops the event instead of blocking the producer.
type Dispatcher struct {
	hub    *Hub
	events chan event
	logger *log.Logger
}

// NewDispatcher constructs a dispatcher over hub. buffer <= 0 selects
// the default.
func NewDispatcher(hub *Hub, buffer int, logger *log.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatcherBuffer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		hub:    hub,
		events: make(chan event, buffer),
		logger: logger,
	}
}

// Start runs the fan-out worker until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.events:
			d.hub.BroadcastTo(evt.equipment, evt.payload)
			if evt.global {
				d.hub.BroadcastGlobal(evt.payload)
			}
		}
	}
}

// ChannelUpdated publishes an accepted channel reading to its equipment room.
func (d *Dispatcher) ChannelUpdated(r telemetry.ChannelReading) {
	d.publish("channelUpdated", r.Equipment, false, r)
}

// SignalUpdated publishes an accepted CAN/LIN signal reading.
func (d *Dispatcher) SignalUpdated(r telemetry.SignalReading) {
	d.publish("signalUpdated", r.Equipment, false, r)
}

// SensorUpdated publishes an accepted auxiliary sensor reading.
func (d *Dispatcher) SensorUpdated(r telemetry.SensorReading) {
	d.publish("sensorUpdated", r.Equipment, false, r)
}

// AlarmRaised publishes a new alarm to its equipment room and to every
// connected client.
func (d *Dispatcher) AlarmRaised(alarm alarms.Alarm) {
	d.publish("alarmRaised", alarm.EquipmentID, true, alarm)
}

func (d *Dispatcher) publish(name string, equipment int, global bool, data interface{}) {
	if d == nil {
		return
	}
	payload, err := json.Marshal(Envelope{Event: name, EquipmentID: equipment, Data: data})
	if err != nil {
		d.logger.Printf("dispatcher marshal failed: event=%s err=%v", name, err)
		return
	}
	select {
	case d.events <- event{equipment: equipment, global: global, payload: payload}:
		metrics.IncBroadcast(name)
	default:
		metrics.IncBroadcastDropped()
	}
}
