package notify

import (
	alarms "battmon-cloud/internal/alarms/domain"
)

// AlarmSink receives raised alarms.
type AlarmSink interface {
	AlarmRaised(alarm alarms.Alarm)
}

// MultiNotifier fans a raised alarm out to multiple sinks.
type MultiNotifier struct {
	sinks []AlarmSink
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(sinks ...AlarmSink) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

// AlarmRaised forwards the alarm to all sinks.
func (m *MultiNotifier) AlarmRaised(alarm alarms.Alarm) {
	if m == nil {
		return
	}
	for _, sink := range m.sinks {
		if sink != nil {
			sink.AlarmRaised(alarm)
		}
	}
}
