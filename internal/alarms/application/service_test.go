package application

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	alarms "battmon-cloud/internal/alarms/domain"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

type memoryRepo struct {
	nextID int64
	rows   map[int64]*alarms.Alarm
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, rows: make(map[int64]*alarms.Alarm)}
}

func (m *memoryRepo) Create(_ context.Context, alarm *alarms.Alarm) error {
	alarm.ID = m.nextID
	m.nextID++
	stored := *alarm
	m.rows[stored.ID] = &stored
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (*alarms.Alarm, error) {
	row, ok := m.rows[id]
	if !ok {
		return nil, alarms.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memoryRepo) List(_ context.Context, equipment int, activeOnly bool, limit int) ([]alarms.Alarm, error) {
	var out []alarms.Alarm
	for _, row := range m.rows {
		if equipment != 0 && row.EquipmentID != equipment {
			continue
		}
		if activeOnly && row.IsCleared {
			continue
		}
		out = append(out, *row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) Clear(_ context.Context, id int64, clearedBy string, at time.Time) (bool, error) {
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if row.IsCleared {
		return false, nil
	}
	row.IsCleared = true
	row.ClearedBy = clearedBy
	row.ClearedAt = &at
	return true, nil
}

type recordingNotifier struct {
	raised []alarms.Alarm
}

func (r *recordingNotifier) AlarmRaised(alarm alarms.Alarm) {
	r.raised = append(r.raised, alarm)
}

func newTestService(t *testing.T, repo Repository, notifier Notifier) *Service {
	t.Helper()
	svc, err := NewService(repo, notifier, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRaisePersistsAndNotifies(t *testing.T) {
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	svc := newTestService(t, repo, notifier)

	alarm, err := svc.Raise(context.Background(), 5, "overtemperature", alarms.LevelWarning)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if alarm.ID == 0 {
		t.Fatal("expected assigned alarm id")
	}
	if alarm.IsCleared {
		t.Fatal("new alarm must start uncleared")
	}
	if len(notifier.raised) != 1 || notifier.raised[0].ID != alarm.ID {
		t.Fatalf("expected one notification for alarm %d, got %+v", alarm.ID, notifier.raised)
	}
}

func TestRaiseRejectsInvalid(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), nil)

	cases := []struct {
		name      string
		equipment int
		message   string
		level     alarms.Level
	}{
		{"zero equipment", 0, "msg", alarms.LevelInfo},
		{"empty message", 3, "", alarms.LevelInfo},
		{"unknown level", 3, "msg", alarms.Level(42)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Raise(context.Background(), tc.equipment, tc.message, tc.level); !errors.Is(err, telemetry.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestClearIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)

	raised, err := svc.Raise(context.Background(), 2, "cell drift", alarms.LevelError)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	first, err := svc.Clear(context.Background(), raised.ID, "operator-a")
	if err != nil {
		t.Fatalf("first clear: %v", err)
	}
	if !first.IsCleared || first.ClearedBy != "operator-a" {
		t.Fatalf("unexpected cleared state: %+v", first)
	}

	second, err := svc.Clear(context.Background(), raised.ID, "operator-b")
	if !errors.Is(err, alarms.ErrAlreadyCleared) {
		t.Fatalf("expected ErrAlreadyCleared, got %v", err)
	}
	if second.ClearedBy != "operator-a" {
		t.Fatalf("repeat clear must not overwrite clearer, got %q", second.ClearedBy)
	}
	if !second.ClearedAt.Equal(*first.ClearedAt) {
		t.Fatal("repeat clear must not overwrite cleared timestamp")
	}
}

func TestClearMissingAlarm(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), nil)
	if _, err := svc.Clear(context.Background(), 99, ""); !errors.Is(err, alarms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)

	a, _ := svc.Raise(context.Background(), 1, "first", alarms.LevelInfo)
	if _, err := svc.Raise(context.Background(), 1, "second", alarms.LevelInfo); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := svc.Clear(context.Background(), a.ID, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}

	active, err := svc.List(context.Background(), 1, true, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].Message != "second" {
		t.Fatalf("expected only the active alarm, got %+v", active)
	}

	all, err := svc.List(context.Background(), 1, false, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 alarms, got %d", len(all))
	}
}
