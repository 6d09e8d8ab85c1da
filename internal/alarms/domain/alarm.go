package alarms

import (
	"errors"
	"time"
)

// Level is the alarm severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

// Valid reports whether the level is one of the enumerated severities.
func (l Level) Valid() bool {
	return l >= LevelInfo && l <= LevelCritical
}

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alarm is one raised alarm instance. Alarms are never deleted, only
// marked cleared.
type Alarm struct {
	ID          int64      `json:"id"`
	EquipmentID int        `json:"equipmentId"`
	Message     string     `json:"message"`
	Level       Level      `json:"level"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsCleared   bool       `json:"isCleared"`
	ClearedBy   string     `json:"clearedBy,omitempty"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
}

var (
	// ErrNotFound marks a lookup for an alarm id that does not exist.
	ErrNotFound = errors.New("alarm not found")

	// ErrAlreadyCleared marks a clear on an alarm that was cleared before;
	// the stored clearer and timestamp are preserved.
	ErrAlreadyCleared = errors.New("alarm already cleared")
)
