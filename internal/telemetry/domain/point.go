package telemetry

import (
	"strconv"
	"time"
)

// Kind discriminates the three telemetry families so their sub-keys can
// never collide inside a composite store key.
type Kind string

const (
	KindChannel Kind = "channel"
	KindSignal  Kind = "signal"
	KindSensor  Kind = "sensor"
)

// ChannelStatus is the run state reported by a test channel.
type ChannelStatus int

const (
	ChannelIdle ChannelStatus = iota
	ChannelActive
	ChannelError
	ChannelPause
)

// ChannelMode is the operation mode reported by a test channel.
type ChannelMode int

const (
	ModeRest ChannelMode = iota
	ModeCharge
	ModeDischarge
	ModeCV
	ModeCC
)

// SensorType classifies an AUX sensor.
type SensorType int

const (
	SensorVoltage SensorType = iota
	SensorTemperature
	SensorNTC
)

// Point is one latest-value telemetry snapshot for an equipment sub-key.
type Point interface {
	EquipmentID() int
	SubKey() string
	PointKind() Kind
}

// ChannelReading is the latest measurement set for one test channel.
type ChannelReading struct {
	Equipment     int           `json:"equipmentId"`
	ChannelNumber int           `json:"channelNumber"`
	Status        ChannelStatus `json:"status"`
	Mode          ChannelMode   `json:"mode"`
	Voltage       float64       `json:"voltage"`
	Current       float64       `json:"current"`
	Capacity      float64       `json:"capacity"`
	Power         float64       `json:"power"`
	Energy        float64       `json:"energy"`
	ScheduleName  string        `json:"scheduleName"`
	UpdatedAt     time.Time     `json:"lastUpdateTime"`
}

func (c ChannelReading) EquipmentID() int { return c.Equipment }
func (c ChannelReading) SubKey() string   { return strconv.Itoa(c.ChannelNumber) }
func (c ChannelReading) PointKind() Kind  { return KindChannel }

// SignalReading is the latest value of one CAN/LIN signal.
type SignalReading struct {
	Equipment    int       `json:"equipmentId"`
	Name         string    `json:"name"`
	MinValue     float64   `json:"minValue"`
	MaxValue     float64   `json:"maxValue"`
	CurrentValue float64   `json:"currentValue"`
	UpdatedAt    time.Time `json:"lastUpdateTime"`
}

func (s SignalReading) EquipmentID() int { return s.Equipment }
func (s SignalReading) SubKey() string   { return s.Name }
func (s SignalReading) PointKind() Kind  { return KindSignal }

// SensorReading is the latest value of one AUX sensor.
type SensorReading struct {
	Equipment int        `json:"equipmentId"`
	SensorID  string     `json:"sensorId"`
	Name      string     `json:"name"`
	Type      SensorType `json:"type"`
	Value     float64    `json:"value"`
	UpdatedAt time.Time  `json:"lastUpdateTime"`
}

func (s SensorReading) EquipmentID() int { return s.Equipment }
func (s SensorReading) SubKey() string   { return s.SensorID }
func (s SensorReading) PointKind() Kind  { return KindSensor }
