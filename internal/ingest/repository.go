package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the location store contract.
type Repository interface {
	// InsertLocations stores a batch of locations, skipping rows whose
	// client event id was already stored. Returns how many rows were
	// actually inserted.
	InsertLocations(ctx context.Context, locs []Location) (int, error)

	// LatestByFamily returns the most recent stored location per device in
	// the family.
	LatestByFamily(ctx context.Context, familyID string) ([]Location, error)
}

// PostgresRepository is the pgx-backed location store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a location store on the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const insertLocationSQL = `
	INSERT INTO locations (
		client_event_id, device_id, family_id,
		lat, lng, accuracy, altitude, bearing,
		speed, speed_kmh, is_moving, battery_level,
		recorded_at, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (client_event_id) DO NOTHING`

// InsertLocations inserts a batch in one round trip. The ON CONFLICT clause
// makes redelivered batches idempotent.
func (r *PostgresRepository) InsertLocations(ctx context.Context, locs []Location) (int, error) {
	batch := &pgx.Batch{}
	for _, loc := range locs {
		batch.Queue(insertLocationSQL,
			loc.ClientEventID, loc.DeviceID, loc.FamilyID,
			loc.Lat, loc.Lng, loc.Accuracy, loc.Altitude, loc.Bearing,
			loc.Speed, loc.SpeedKmh, loc.IsMoving, loc.BatteryLevel,
			loc.RecordedAt, loc.Source,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range locs {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert location: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// LatestByFamily returns each device's newest location for the family.
func (r *PostgresRepository) LatestByFamily(ctx context.Context, familyID string) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (device_id)
			client_event_id, device_id, family_id,
			lat, lng, accuracy, altitude, bearing,
			speed, speed_kmh, is_moving, battery_level,
			recorded_at, source
		FROM locations
		WHERE family_id = $1
		ORDER BY device_id, recorded_at DESC`, familyID)
	if err != nil {
		return nil, fmt.Errorf("query latest locations: %w", err)
	}
	defer rows.Close()

	var locs []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(
			&loc.ClientEventID, &loc.DeviceID, &loc.FamilyID,
			&loc.Lat, &loc.Lng, &loc.Accuracy, &loc.Altitude, &loc.Bearing,
			&loc.Speed, &loc.SpeedKmh, &loc.IsMoving, &loc.BatteryLevel,
			&loc.RecordedAt, &loc.Source,
		); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return locs, nil
}
