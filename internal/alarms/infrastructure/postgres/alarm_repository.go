package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "battmon-cloud/internal/alarms/domain"
)

const defaultAlarmsTable = "alarms"

// AlarmRepository is a Postgres repository for alarm records.
type AlarmRepository struct {
	db    *sql.DB
	table string
}

// AlarmRepositoryOption customizes the repository.
type AlarmRepositoryOption func(*AlarmRepository)

// WithAlarmsTable overrides the target table name.
func WithAlarmsTable(name string) AlarmRepositoryOption {
	return func(r *AlarmRepository) {
		if name != "" {
			r.table = name
		}
	}
}

// NewAlarmRepository constructs a repository over db.
func NewAlarmRepository(db *sql.DB, opts ...AlarmRepositoryOption) (*AlarmRepository, error) {
	if db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	r := &AlarmRepository{db: db, table: defaultAlarmsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Create inserts the alarm and fills in its assigned id.
func (r *AlarmRepository) Create(ctx context.Context, alarm *alarms.Alarm) error {
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if alarm.CreatedAt.IsZero() {
		alarm.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (equipment_id, message, level, created_at, is_cleared)
VALUES ($1, $2, $3, $4, FALSE)
RETURNING id`, r.table)
	return r.db.QueryRowContext(ctx, query,
		alarm.EquipmentID, alarm.Message, int(alarm.Level), alarm.CreatedAt,
	).Scan(&alarm.ID)
}

// GetByID loads a single alarm.
func (r *AlarmRepository) GetByID(ctx context.Context, id int64) (*alarms.Alarm, error) {
	query := fmt.Sprintf(`
SELECT id, equipment_id, message, level, created_at, is_cleared, cleared_by, cleared_at
FROM %s WHERE id = $1`, r.table)
	var (
		a         alarms.Alarm
		level     int
		clearedBy sql.NullString
		clearedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.EquipmentID, &a.Message, &level, &a.CreatedAt,
		&a.IsCleared, &clearedBy, &clearedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alarms.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Level = alarms.Level(level)
	if clearedBy.Valid {
		a.ClearedBy = clearedBy.String
	}
	if clearedAt.Valid {
		t := clearedAt.Time
		a.ClearedAt = &t
	}
	return &a, nil
}

// List returns alarms newest first. equipment 0 matches all equipment and
// activeOnly restricts to uncleared alarms.
func (r *AlarmRepository) List(ctx context.Context, equipment int, activeOnly bool, limit int) ([]alarms.Alarm, error) {
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`
SELECT id, equipment_id, message, level, created_at, is_cleared, cleared_by, cleared_at
FROM %s
WHERE ($1 = 0 OR equipment_id = $1)
  AND (NOT $2 OR is_cleared = FALSE)
ORDER BY created_at DESC, id DESC
LIMIT $3`, r.table)
	rows, err := r.db.QueryContext(ctx, query, equipment, activeOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Alarm
	for rows.Next() {
		var (
			a         alarms.Alarm
			level     int
			clearedBy sql.NullString
			clearedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.EquipmentID, &a.Message, &level, &a.CreatedAt,
			&a.IsCleared, &clearedBy, &clearedAt); err != nil {
			return nil, err
		}
		a.Level = alarms.Level(level)
		if clearedBy.Valid {
			a.ClearedBy = clearedBy.String
		}
		if clearedAt.Valid {
			t := clearedAt.Time
			a.ClearedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Clear marks the alarm cleared and reports whether this call performed
// the transition. Already-cleared rows are left untouched.
func (r *AlarmRepository) Clear(ctx context.Context, id int64, clearedBy string, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s SET is_cleared = TRUE, cleared_by = $2, cleared_at = $3
WHERE id = $1 AND is_cleared = FALSE`, r.table)
	res, err := r.db.ExecContext(ctx, query, id, clearedBy, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
