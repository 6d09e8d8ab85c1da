package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	alarms "battmon-cloud/internal/alarms/domain"
	"battmon-cloud/internal/observability/metrics"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

// Repository provides alarm persistence.
type Repository interface {
	Create(ctx context.Context, alarm *alarms.Alarm) error
	GetByID(ctx context.Context, id int64) (*alarms.Alarm, error)
	List(ctx context.Context, equipment int, activeOnly bool, limit int) ([]alarms.Alarm, error)
	Clear(ctx context.Context, id int64, clearedBy string, at time.Time) (bool, error)
}

// Notifier receives raised alarms for dashboard fan-out. Implementations
// must not block.
type Notifier interface {
	AlarmRaised(alarm alarms.Alarm)
}

// Service handles alarm raise, clear and listing.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// NewService constructs an alarm service. notifier may be nil.
func NewService(repo Repository, notifier Notifier, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, notifier: notifier, logger: logger, now: time.Now}, nil
}

// Raise persists a new alarm and schedules its broadcast. The returned
// alarm carries its assigned id.
func (s *Service) Raise(ctx context.Context, equipment int, message string, level alarms.Level) (*alarms.Alarm, error) {
	if equipment <= 0 {
		return nil, fmt.Errorf("%w: equipment id must be positive", telemetry.ErrInvalidInput)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: alarm message is required", telemetry.ErrInvalidInput)
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown alarm level %d", telemetry.ErrInvalidInput, int(level))
	}

	alarm := &alarms.Alarm{
		EquipmentID: equipment,
		Message:     message,
		Level:       level,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, alarm); err != nil {
		return nil, err
	}

	metrics.IncAlarm(level.String())
	s.logger.Printf("alarm raised: equipment=%d level=%s id=%d", equipment, level, alarm.ID)
	if s.notifier != nil {
		s.notifier.AlarmRaised(*alarm)
	}
	return alarm, nil
}

// Clear marks the alarm cleared. Clearing an already-cleared alarm is a
// no-op: the original clearer and timestamp stay untouched and the stored
// alarm is returned alongside ErrAlreadyCleared.
func (s *Service) Clear(ctx context.Context, id int64, clearedBy string) (*alarms.Alarm, error) {
	if clearedBy == "" {
		clearedBy = "system"
	}
	cleared, err := s.repo.Clear(ctx, id, clearedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}
	alarm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return alarm, alarms.ErrAlreadyCleared
	}
	return alarm, nil
}

// List returns alarms for the equipment, newest first. equipment 0 selects
// all equipment.
func (s *Service) List(ctx context.Context, equipment int, activeOnly bool, limit int) ([]alarms.Alarm, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.List(ctx, equipment, activeOnly, limit)
}
