package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "battmon-cloud/internal/telemetry/domain"
)

const (
	defaultSignalsTable = "can_lin_data"
	defaultSensorsTable = "aux_data"
)

// SignalRepository persists CAN/LIN signal readings, one row per
// (equipment_id, name).
type SignalRepository struct {
	db    *sql.DB
	table string
}

// NewSignalRepository constructs a repository with the default table name.
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db, table: defaultSignalsTable}
}

// UpsertBatch writes the readings in one transaction, replacing existing
// rows for the same key.
func (r *SignalRepository) UpsertBatch(ctx context.Context, readings []telemetry.SignalReading) error {
	if r == nil || r.db == nil {
		return errors.New("signal repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	equipment_id, name, min_value, max_value, current_value, last_update_time
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (equipment_id, name)
DO UPDATE SET
	min_value = EXCLUDED.min_value,
	max_value = EXCLUDED.max_value,
	current_value = EXCLUDED.current_value,
	last_update_time = EXCLUDED.last_update_time`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range readings {
		if s.Equipment <= 0 || s.Name == "" {
			_ = tx.Rollback()
			return errors.New("signal repo: invalid reading")
		}
		if _, err := stmt.ExecContext(
			ctx,
			s.Equipment,
			s.Name,
			s.MinValue,
			s.MaxValue,
			s.CurrentValue,
			s.UpdatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SensorRepository persists AUX sensor readings, one row per
// (equipment_id, sensor_id).
type SensorRepository struct {
	db    *sql.DB
	table string
}

// NewSensorRepository constructs a repository with the default table name.
func NewSensorRepository(db *sql.DB) *SensorRepository {
	return &SensorRepository{db: db, table: defaultSensorsTable}
}

// UpsertBatch writes the readings in one transaction, replacing existing
// rows for the same key.
func (r *SensorRepository) UpsertBatch(ctx context.Context, readings []telemetry.SensorReading) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	equipment_id, sensor_id, name, type, value, last_update_time
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (equipment_id, sensor_id)
DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	value = EXCLUDED.value,
	last_update_time = EXCLUDED.last_update_time`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range readings {
		if s.Equipment <= 0 || s.SensorID == "" {
			_ = tx.Rollback()
			return errors.New("sensor repo: invalid reading")
		}
		if _, err := stmt.ExecContext(
			ctx,
			s.Equipment,
			s.SensorID,
			s.Name,
			int(s.Type),
			s.Value,
			s.UpdatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
