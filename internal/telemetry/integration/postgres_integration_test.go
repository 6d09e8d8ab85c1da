package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	telemetry "battmon-cloud/internal/telemetry/domain"
	telemetrypostgres "battmon-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	return err == nil && exists
}

func TestChannelReconcileInsertThenUpdate(t *testing.T) {
	db := openTestDB(t)
	if !tableExists(db, "channels") {
		t.Skip("channels missing; run migrations")
	}

	ctx := context.Background()
	equipment := 990001
	_, _ = db.ExecContext(ctx, `DELETE FROM channels WHERE equipment_id = $1`, equipment)

	repo := telemetrypostgres.NewChannelRepository(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := []telemetry.ChannelReading{
		{Equipment: equipment, ChannelNumber: 1, Status: telemetry.ChannelActive, Mode: telemetry.ModeCharge, Voltage: 3.70, UpdatedAt: now},
		{Equipment: equipment, ChannelNumber: 2, Status: telemetry.ChannelActive, Mode: telemetry.ModeCharge, Voltage: 3.71, UpdatedAt: now},
	}
	if err := repo.SaveBatch(ctx, equipment, first); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	second := []telemetry.ChannelReading{
		{Equipment: equipment, ChannelNumber: 2, Status: telemetry.ChannelPause, Mode: telemetry.ModeRest, Voltage: 3.65, UpdatedAt: now.Add(time.Second)},
		{Equipment: equipment, ChannelNumber: 3, Status: telemetry.ChannelActive, Mode: telemetry.ModeDischarge, Voltage: 3.60, UpdatedAt: now.Add(time.Second)},
	}
	if err := repo.SaveBatch(ctx, equipment, second); err != nil {
		t.Fatalf("reconciling save: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM channels WHERE equipment_id = $1`, equipment).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 channel rows, got %d", count)
	}

	var voltage float64
	if err := db.QueryRowContext(ctx,
		`SELECT voltage FROM channels WHERE equipment_id = $1 AND channel_number = 2`, equipment).Scan(&voltage); err != nil {
		t.Fatalf("read channel 2: %v", err)
	}
	if voltage != 3.65 {
		t.Fatalf("expected updated voltage 3.65, got %v", voltage)
	}
}

func TestSignalAndSensorUpsert(t *testing.T) {
	db := openTestDB(t)
	if !tableExists(db, "can_lin_data") || !tableExists(db, "aux_data") {
		t.Skip("can_lin_data/aux_data missing; run migrations")
	}

	ctx := context.Background()
	equipment := 990002
	_, _ = db.ExecContext(ctx, `DELETE FROM can_lin_data WHERE equipment_id = $1`, equipment)
	_, _ = db.ExecContext(ctx, `DELETE FROM aux_data WHERE equipment_id = $1`, equipment)

	signals := telemetrypostgres.NewSignalRepository(db)
	sensors := telemetrypostgres.NewSensorRepository(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, value := range []float64{50.0, 51.5} {
		err := signals.UpsertBatch(ctx, []telemetry.SignalReading{
			{Equipment: equipment, Name: "pack_voltage", CurrentValue: value, UpdatedAt: now},
		})
		if err != nil {
			t.Fatalf("signal upsert: %v", err)
		}
	}
	for _, value := range []float64{24.0, 25.5} {
		err := sensors.UpsertBatch(ctx, []telemetry.SensorReading{
			{Equipment: equipment, SensorID: "t-01", Name: "cell temp", Type: telemetry.SensorTemperature, Value: value, UpdatedAt: now},
		})
		if err != nil {
			t.Fatalf("sensor upsert: %v", err)
		}
	}

	var current float64
	if err := db.QueryRowContext(ctx,
		`SELECT current_value FROM can_lin_data WHERE equipment_id = $1 AND name = 'pack_voltage'`, equipment).Scan(&current); err != nil {
		t.Fatalf("read signal: %v", err)
	}
	if current != 51.5 {
		t.Fatalf("expected upserted value 51.5, got %v", current)
	}

	var sensorValue float64
	if err := db.QueryRowContext(ctx,
		`SELECT value FROM aux_data WHERE equipment_id = $1 AND sensor_id = 't-01'`, equipment).Scan(&sensorValue); err != nil {
		t.Fatalf("read sensor: %v", err)
	}
	if sensorValue != 25.5 {
		t.Fatalf("expected upserted value 25.5, got %v", sensorValue)
	}

	var rows int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM can_lin_data WHERE equipment_id = $1`, equipment).Scan(&rows); err != nil {
		t.Fatalf("count signals: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected single upserted signal row, got %d", rows)
	}
}
