package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "battmon-cloud/internal/telemetry/domain"
)

const defaultChannelsTable = "channels"

// ChannelRepository persists channel readings, one row per
// (equipment_id, channel_number).
type ChannelRepository struct {
	db    *sql.DB
	table string
}

// NewChannelRepository constructs a repository with the default table name.
func NewChannelRepository(db *sql.DB, opts ...ChannelRepositoryOption) *ChannelRepository {
	repo := &ChannelRepository{db: db, table: defaultChannelsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ChannelRepositoryOption configures the repository.
type ChannelRepositoryOption func(*ChannelRepository)

// WithChannelsTable overrides the default table name.
func WithChannelsTable(table string) ChannelRepositoryOption {
	return func(repo *ChannelRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// SaveBatch writes the given readings for one equipment inside a single
// transaction. Existing rows are loaded first and the batch is split into
// inserts and updates against them. A failure rolls the whole group back.
func (r *ChannelRepository) SaveBatch(ctx context.Context, equipment int, readings []telemetry.ChannelReading) error {
	if r == nil || r.db == nil {
		return errors.New("channel repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	existing, err := r.existingNumbers(ctx, tx, equipment)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	equipment_id, channel_number, status, mode,
	voltage, current, capacity, power, energy,
	schedule_name, last_update_time
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
UPDATE %s SET
	status = $3,
	mode = $4,
	voltage = $5,
	current = $6,
	capacity = $7,
	power = $8,
	energy = $9,
	schedule_name = $10,
	last_update_time = $11
WHERE equipment_id = $1 AND channel_number = $2`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer updateStmt.Close()

	for _, c := range readings {
		if c.Equipment != equipment || c.ChannelNumber <= 0 {
			_ = tx.Rollback()
			return errors.New("channel repo: invalid reading")
		}

		stmt := insertStmt
		if existing[c.ChannelNumber] {
			stmt = updateStmt
		}
		if _, err := stmt.ExecContext(
			ctx,
			c.Equipment,
			c.ChannelNumber,
			int(c.Status),
			int(c.Mode),
			c.Voltage,
			c.Current,
			c.Capacity,
			c.Power,
			c.Energy,
			c.ScheduleName,
			c.UpdatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
		// Later duplicates in the batch must update the row just inserted.
		existing[c.ChannelNumber] = true
	}

	return tx.Commit()
}

func (r *ChannelRepository) existingNumbers(ctx context.Context, tx *sql.Tx, equipment int) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT channel_number FROM %s WHERE equipment_id = $1`, r.table), equipment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[int]bool)
	for rows.Next() {
		var number int
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		existing[number] = true
	}
	return existing, rows.Err()
}
